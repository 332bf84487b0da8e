// Package hostchain implements stateful hash-chain mutual authentication
// between a client and a set of remote hosts.
//
// Each side keeps, per peer, a seed fixed at first contact and a counter of
// exchanges already accepted as legitimate. Every message carries the chain
// value H(H(seed) || counter), so a peer proves it has followed the same
// exchange history without a shared secret ever being transmitted.
package hostchain

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
)

// Digest returns the lowercase hex SHA-256 of seed.
func Digest(seed string) string {
	sum := sha256.Sum256([]byte(seed))
	return hex.EncodeToString(sum[:])
}

// ChainValue computes H(H(seed) || decimal(counter)) as lowercase hex.
func ChainValue(seed string, counter uint64) string {
	return Digest(Digest(seed) + strconv.FormatUint(counter, 10))
}
