package hostchain

import "crypto/subtle"

// Outcome classifies a reply from a peer.
type Outcome int

const (
	// OutcomeWrongChecksum means the reply did not carry the expected chain
	// value. The peer is untrusted; nothing is advanced or persisted.
	OutcomeWrongChecksum Outcome = iota
	// OutcomeGranted means the peer authenticated and granted the request.
	OutcomeGranted
	// OutcomeRejected means the peer authenticated but refused the request.
	OutcomeRejected
)

func (o Outcome) String() string {
	switch o {
	case OutcomeWrongChecksum:
		return "wrong_checksum"
	case OutcomeGranted:
		return "granted"
	case OutcomeRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Validated reports whether the peer proved it follows the same chain.
func (o Outcome) Validated() bool {
	return o == OutcomeGranted || o == OutcomeRejected
}

// Evaluate compares checksum with the value h expects now. h must already
// reflect the advance done by BuildHeaders for the request being answered.
func Evaluate(h *Host, checksum string, granted bool) Outcome {
	if !checksumEqual(checksum, h.ExpectedChainValue()) {
		return OutcomeWrongChecksum
	}
	if granted {
		return OutcomeGranted
	}
	return OutcomeRejected
}

// checksumEqual is a constant-time string comparison.
func checksumEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
