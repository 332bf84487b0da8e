package hostchain

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/karasz/hostchain/internal/log"
)

// HostStore is the set of known hosts backed by a Store. It hands out one
// *Host per address, so every caller works on the same state.
type HostStore struct {
	store Store

	mu    sync.Mutex
	hosts map[string]*Host
}

// NewHostStore wraps st. Call LoadAll to pick up previously known hosts.
func NewHostStore(st Store) *HostStore {
	return &HostStore{store: st, hosts: make(map[string]*Host)}
}

// LoadAll reads every well-formed record from the store and returns the
// corresponding hosts. Addresses already known keep their existing *Host.
// When the store holds several records for one address the first wins.
func (hs *HostStore) LoadAll() ([]*Host, error) {
	recs, err := hs.store.Load()
	if err != nil {
		return nil, err
	}

	hs.mu.Lock()
	defer hs.mu.Unlock()

	seen := make(map[string]struct{}, len(recs))
	out := make([]*Host, 0, len(recs))
	for _, r := range recs {
		if _, dup := seen[r.Address]; dup {
			log.Warn("duplicate host record ignored", zap.String("address", r.Address), zap.Uint64("stored", r.Stored))
			continue
		}
		seen[r.Address] = struct{}{}

		if h, ok := hs.hosts[r.Address]; ok {
			out = append(out, h)
			continue
		}
		h, err := HostFromRecord(r)
		if err != nil {
			log.Debug("skip host record", zap.String("address", r.Address), zap.Error(err))
			continue
		}
		hs.hosts[r.Address] = h
		out = append(out, h)
	}
	return out, nil
}

// Lookup returns the known host for address.
func (hs *HostStore) Lookup(address string) (*Host, bool) {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	h, ok := hs.hosts[address]
	return h, ok
}

// Hosts returns the known hosts ordered by address.
func (hs *HostStore) Hosts() []*Host {
	hs.mu.Lock()
	out := make([]*Host, 0, len(hs.hosts))
	for _, h := range hs.hosts {
		out = append(out, h)
	}
	hs.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Address() < out[j].Address() })
	return out
}

// Append persists a new host and starts tracking it. It fails with
// ErrHostExists if the address is already known here or in the store.
//
// On ErrStorageUnavailable the host is still tracked in memory, so the
// caller can carry on for the session without durability.
func (hs *HostStore) Append(h *Host) error {
	hs.mu.Lock()
	defer hs.mu.Unlock()

	if _, ok := hs.hosts[h.Address()]; ok {
		return fmt.Errorf("%w: %s", ErrHostExists, h.Address())
	}
	err := hs.store.Append(h.Record())
	if err != nil && !errors.Is(err, ErrStorageUnavailable) {
		return err
	}
	hs.hosts[h.Address()] = h
	return err
}

// Obtain returns the host for address, creating, persisting and tracking a
// new one seeded with now when the address is unknown. created reports
// whether that happened. A storage failure while persisting is returned
// together with the usable in-memory host.
func (hs *HostStore) Obtain(address string, now time.Time) (h *Host, created bool, err error) {
	if h, ok := hs.Lookup(address); ok {
		return h, false, nil
	}
	h = NewHost(address, now)
	err = hs.Append(h)
	if errors.Is(err, ErrHostExists) {
		if existing, ok := hs.Lookup(address); ok {
			return existing, false, nil
		}
		return nil, false, err
	}
	if err != nil && !errors.Is(err, ErrStorageUnavailable) {
		return nil, false, err
	}
	return h, true, err
}

// Upsert records one confirmed exchange for h in the store. The store
// derives the new value from what it holds; a difference from the
// in-memory counter is only logged.
func (hs *HostStore) Upsert(h *Host) error {
	r, err := hs.store.Advance(h.Address())
	if err != nil {
		return err
	}
	if c := h.Counter(); r.Counter() != c {
		log.Warn("persisted counter differs from memory",
			zap.String("address", h.Address()),
			zap.Uint64("persisted", r.Counter()),
			zap.Uint64("memory", c))
	}
	return nil
}

// Purge empties the store and forgets every tracked host.
func (hs *HostStore) Purge() error {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	if err := hs.store.Purge(); err != nil {
		return err
	}
	hs.hosts = make(map[string]*Host)
	return nil
}

// Close closes the underlying store.
func (hs *HostStore) Close() error { return hs.store.Close() }
