package hostchain

import (
	"fmt"
	"strings"
	"sync"
)

// Store abstracts the durable medium holding one Record per address.
// Implementations serialize their own operations; callers may share a Store
// between goroutines.
type Store interface {
	// Load returns every well-formed record. Malformed entries are skipped.
	Load() ([]Record, error)
	// Append inserts a new record, failing with ErrHostExists if the
	// address is already present.
	Append(r Record) error
	// Advance rewrites the record for address with Stored += StoredStep,
	// derived from the stored value, and returns the new record. It fails
	// with ErrNoSuchHost, leaving the store untouched, if address is absent.
	Advance(address string) (Record, error)
	// Purge removes every record.
	Purge() error
	// Close releases the medium.
	Close() error
}

// OpenStore opens a backend from a DSN:
//
//	file:/path/hosts.txt   line-format file (a bare path means the same)
//	sqlite:/path/hosts.db  SQLite database
//	redis://host:port/key  Redis hash named key (default "hostchain:hosts")
//	mem:                   process memory
func OpenStore(dsn string) (Store, error) {
	switch {
	case strings.HasPrefix(dsn, "mem:"):
		return NewMemStore(), nil
	case strings.HasPrefix(dsn, "sqlite:"):
		return OpenSQLiteStore(strings.TrimPrefix(dsn, "sqlite:"))
	case strings.HasPrefix(dsn, "redis://"):
		addr, key, _ := strings.Cut(strings.TrimPrefix(dsn, "redis://"), "/")
		return OpenRedisStore(addr, key)
	case strings.HasPrefix(dsn, "file:"):
		return OpenFileStore(strings.TrimPrefix(dsn, "file:"))
	case dsn == "":
		return nil, fmt.Errorf("empty store dsn")
	default:
		return OpenFileStore(dsn)
	}
}

// memStore keeps records in insertion order in process memory.
type memStore struct {
	mu    sync.Mutex
	order []string
	recs  map[string]Record
}

// NewMemStore returns an empty in-memory Store.
func NewMemStore() Store {
	return &memStore{recs: make(map[string]Record)}
}

func (s *memStore) Load() ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, 0, len(s.order))
	for _, a := range s.order {
		out = append(out, s.recs[a])
	}
	return out, nil
}

func (s *memStore) Append(r Record) error {
	if err := validRecord(r); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.recs[r.Address]; ok {
		return fmt.Errorf("%w: %s", ErrHostExists, r.Address)
	}
	s.recs[r.Address] = r
	s.order = append(s.order, r.Address)
	return nil
}

func (s *memStore) Advance(address string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.recs[address]
	if !ok {
		return Record{}, fmt.Errorf("%w: %s", ErrNoSuchHost, address)
	}
	r = r.next()
	s.recs[address] = r
	return r, nil
}

func (s *memStore) Purge() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.order = nil
	s.recs = make(map[string]Record)
	return nil
}

func (*memStore) Close() error { return nil }
