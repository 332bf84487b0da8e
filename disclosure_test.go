package hostchain

import "testing"

func TestSeedDisclosure(t *testing.T) {
	tests := []struct {
		stored uint64
		want   string
	}{
		{2, "T0"},        // counter 0
		{3, "T0"},        // counter 1
		{4, Sentinel},    // counter 2
		{5, Sentinel},    // counter 3
		{1002, Sentinel}, // counter 1000
	}
	for _, tt := range tests {
		h, err := HostFromRecord(Record{Address: "h1", Seed: "T0", Stored: tt.stored})
		if err != nil {
			t.Fatal(err)
		}
		if got := SeedDisclosure(h); got != tt.want {
			t.Errorf("counter %d: got %q, want %q", h.Counter(), got, tt.want)
		}
	}
}

func TestSeedDisclosure_MatchesHeaders(t *testing.T) {
	h := NewHostWithSeed("h1", "T0")
	for i := 0; i < 4; i++ {
		want := SeedDisclosure(h)
		if got := h.BuildHeaders()[HeaderTimeSent]; got != want {
			t.Errorf("request %d: header %q, disclosure %q", i, got, want)
		}
	}
}
