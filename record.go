package hostchain

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Persisted counters carry an offset: Stored = counter + StoredOffset. Each
// confirmed exchange moves Stored by StoredStep (the request and its reply).
const (
	StoredOffset = 2
	StoredStep   = 2
)

const (
	fieldSep  = ";"
	lineTerm  = "\r"
	minFields = 3
)

// ErrMalformedRecord indicates a persisted entry that cannot become a Host.
var ErrMalformedRecord = errors.New("malformed host record")

// ErrNoSuchHost indicates an update for an address absent from the store.
var ErrNoSuchHost = errors.New("no such host")

// ErrHostExists indicates an insert for an address already in the store.
var ErrHostExists = errors.New("host already exists")

// ErrStorageUnavailable indicates the persistence medium cannot be read or written.
var ErrStorageUnavailable = errors.New("storage unavailable")

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedRecord, fmt.Sprintf(format, args...))
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStorageUnavailable, op, err)
}

// Record is the persisted form of a Host.
type Record struct {
	Address string
	Seed    string
	Stored  uint64 // counter + StoredOffset
}

// ParseRecord decodes one `<address>;<seed>;<stored>` line. Trailing line
// terminators are ignored, as are fields beyond the third.
func ParseRecord(line string) (Record, error) {
	line = strings.TrimRight(line, "\r\n")
	f := strings.Split(line, fieldSep)
	if len(f) < minFields {
		return Record{}, malformed("%d fields in %q", len(f), line)
	}
	if f[0] == "" {
		return Record{}, malformed("empty address in %q", line)
	}
	n, err := strconv.ParseUint(strings.TrimSpace(f[2]), 10, 64)
	if err != nil {
		return Record{}, malformed("stored counter %q: %v", f[2], err)
	}
	if n < StoredOffset {
		return Record{}, malformed("stored counter %d below %d", n, StoredOffset)
	}
	return Record{Address: f[0], Seed: f[1], Stored: n}, nil
}

// Line encodes r in the store line format, terminator included.
func (r Record) Line() string {
	return r.Address + fieldSep + r.Seed + fieldSep + strconv.FormatUint(r.Stored, 10) + lineTerm
}

// Counter returns the in-memory counter r decodes to.
func (r Record) Counter() uint64 {
	if r.Stored < StoredOffset {
		return 0
	}
	return r.Stored - StoredOffset
}

// next returns r after one confirmed exchange.
func (r Record) next() Record {
	r.Stored += StoredStep
	return r
}

func validRecord(r Record) error {
	if r.Address == "" {
		return malformed("empty address")
	}
	if strings.Contains(r.Address, fieldSep) || strings.Contains(r.Seed, fieldSep) {
		return malformed("field separator in %q", r.Address)
	}
	if strings.ContainsAny(r.Address+r.Seed, "\r\n") {
		return malformed("line terminator in %q", r.Address)
	}
	if r.Stored < StoredOffset {
		return malformed("stored counter %d below %d", r.Stored, StoredOffset)
	}
	return nil
}
