package hostchain

import (
	"sync"
	"time"
)

// Header names exchanged on every request and reply.
const (
	HeaderTimeSent = "X-Time-Sent"
	HeaderChecksum = "X-CheckSum"
)

// SeedLayout renders the first-contact time used as a seed.
const SeedLayout = "Jan 2, 2006 3:04:05 PM"

// Host is the authentication state kept for one remote peer.
//
// counter is the number of exchanges already counted as legitimate before
// the one being prepared, so both sides hash with the same value for a given
// exchange. It only moves forward.
type Host struct {
	address string
	seed    string

	mu      sync.Mutex
	counter uint64

	// xmu serializes whole exchanges against this peer; see Lock.
	xmu sync.Mutex
}

// NewHost creates the state for a previously unknown peer, seeded with now.
func NewHost(address string, now time.Time) *Host {
	return &Host{address: address, seed: now.Format(SeedLayout)}
}

// NewHostWithSeed creates the state for a peer whose seed was disclosed by
// the peer itself (the responder side of first contact).
func NewHostWithSeed(address, seed string) *Host {
	return &Host{address: address, seed: seed}
}

// HostFromRecord rebuilds a Host from its persisted form. The store offset is
// removed here; Record.Stored never leaks into Counter.
func HostFromRecord(r Record) (*Host, error) {
	if r.Stored < StoredOffset {
		return nil, malformed("stored counter %d below %d", r.Stored, StoredOffset)
	}
	return &Host{
		address: r.Address,
		seed:    r.Seed,
		counter: r.Stored - StoredOffset,
	}, nil
}

// Address returns the peer endpoint, the key of the host in any store.
func (h *Host) Address() string { return h.address }

// Seed returns the first-contact token.
func (h *Host) Seed() string { return h.seed }

// Counter returns the current exchange counter.
func (h *Host) Counter() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.counter
}

// ExpectedChainValue is the chain value for the current counter.
func (h *Host) ExpectedChainValue() string {
	return ChainValue(h.seed, h.Counter())
}

// Advance moves the counter forward by one.
func (h *Host) Advance() {
	h.mu.Lock()
	h.counter++
	h.mu.Unlock()
}

// BuildHeaders returns the outgoing authentication headers and advances the
// counter. The checksum is computed from the counter before the advance;
// afterwards the state already holds the value the peer will answer with.
func (h *Host) BuildHeaders() map[string]string {
	h.mu.Lock()
	defer h.mu.Unlock()

	hdr := map[string]string{
		HeaderTimeSent: seedDisclosure(h.seed, h.counter),
		HeaderChecksum: ChainValue(h.seed, h.counter),
	}
	h.counter++
	return hdr
}

// Record returns the persisted form of the current state.
func (h *Host) Record() Record {
	return Record{Address: h.address, Seed: h.seed, Stored: h.Counter() + StoredOffset}
}

// Lock reserves the host for one exchange. Only one exchange may be in
// flight per peer; concurrent ones would race on the counter.
func (h *Host) Lock() { h.xmu.Lock() }

// Unlock releases the reservation taken by Lock.
func (h *Host) Unlock() { h.xmu.Unlock() }
