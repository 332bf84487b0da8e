package hostchain

import (
	"errors"
	"testing"
	"time"
)

func TestNewHost_SeedFromTime(t *testing.T) {
	now := time.Date(2015, time.March, 4, 13, 2, 3, 0, time.UTC)
	h := NewHost("https://a.example/x", now)
	if h.Seed() != "Mar 4, 2015 1:02:03 PM" {
		t.Errorf("unexpected seed %q", h.Seed())
	}
	if h.Counter() != 0 {
		t.Errorf("Expected counter 0, got %d", h.Counter())
	}
	if h.Address() != "https://a.example/x" {
		t.Errorf("unexpected address %q", h.Address())
	}
}

func TestHost_BuildHeaders(t *testing.T) {
	h := NewHostWithSeed("h1", "T0")

	hdr := h.BuildHeaders()
	if hdr[HeaderChecksum] != ChainValue("T0", 0) {
		t.Errorf("checksum should use the counter before the advance")
	}
	if hdr[HeaderTimeSent] != "T0" {
		t.Errorf("Expected seed on first contact, got %q", hdr[HeaderTimeSent])
	}
	if h.Counter() != 1 {
		t.Fatalf("Expected counter 1 after BuildHeaders, got %d", h.Counter())
	}

	h.Advance()
	hdr = h.BuildHeaders()
	if hdr[HeaderChecksum] != ChainValue("T0", 2) {
		t.Errorf("second request should hash counter 2")
	}
	if hdr[HeaderTimeSent] != Sentinel {
		t.Errorf("Expected sentinel once counter reached 2, got %q", hdr[HeaderTimeSent])
	}
	if h.Counter() != 3 {
		t.Errorf("Expected counter 3, got %d", h.Counter())
	}
}

func TestHost_ExpectedChainValue(t *testing.T) {
	h := NewHostWithSeed("h1", "T0")
	h.BuildHeaders()
	if h.ExpectedChainValue() != ChainValue("T0", 1) {
		t.Error("after BuildHeaders the host should expect the reply value")
	}
}

func TestHostFromRecord(t *testing.T) {
	for _, stored := range []uint64{2, 3, 4, 100} {
		h, err := HostFromRecord(Record{Address: "h1", Seed: "T0", Stored: stored})
		if err != nil {
			t.Fatalf("stored %d: %v", stored, err)
		}
		if h.Counter() != stored-2 {
			t.Errorf("stored %d: Expected counter %d, got %d", stored, stored-2, h.Counter())
		}
		if r := h.Record(); r.Stored != stored || r.Seed != "T0" || r.Address != "h1" {
			t.Errorf("stored %d: round trip gave %+v", stored, r)
		}
	}
}

func TestHostFromRecord_BelowOffset(t *testing.T) {
	for _, stored := range []uint64{0, 1} {
		_, err := HostFromRecord(Record{Address: "h1", Seed: "T0", Stored: stored})
		if !errors.Is(err, ErrMalformedRecord) {
			t.Errorf("stored %d: Expected ErrMalformedRecord, got %v", stored, err)
		}
	}
}

func TestHost_CounterOnlyMovesForward(t *testing.T) {
	h := NewHostWithSeed("h1", "T0")
	prev := h.Counter()
	for i := 0; i < 10; i++ {
		if i%2 == 0 {
			h.BuildHeaders()
		} else {
			h.Advance()
		}
		if c := h.Counter(); c != prev+1 {
			t.Fatalf("step %d: counter went from %d to %d", i, prev, c)
		}
		prev = h.Counter()
	}
}
