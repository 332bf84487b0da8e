package hostchain

import (
	"errors"
	"testing"
)

func TestParseRecord(t *testing.T) {
	tests := []struct {
		line string
		want Record
	}{
		{"h1;T0;2\r", Record{"h1", "T0", 2}},
		{"h1;T0;4\n", Record{"h1", "T0", 4}},
		{"h1;T0;4\r\n", Record{"h1", "T0", 4}},
		{"h1;T0;7", Record{"h1", "T0", 7}},
		{"https://x.example:8443/r;Mar 4, 2015 1:02:03 PM;12\r", Record{"https://x.example:8443/r", "Mar 4, 2015 1:02:03 PM", 12}},
		{"h1;T0;3;extra", Record{"h1", "T0", 3}},
		{"h1;;2", Record{"h1", "", 2}},
	}
	for _, tt := range tests {
		got, err := ParseRecord(tt.line)
		if err != nil {
			t.Errorf("%q: %v", tt.line, err)
			continue
		}
		if got != tt.want {
			t.Errorf("%q: got %+v, want %+v", tt.line, got, tt.want)
		}
	}
}

func TestParseRecord_Malformed(t *testing.T) {
	for _, line := range []string{
		"",
		"h1",
		"h1;T0",
		";T0;2",
		"h1;T0;x",
		"h1;T0;-3",
		"h1;T0;1",
		"h1;T0;0",
	} {
		if _, err := ParseRecord(line); !errors.Is(err, ErrMalformedRecord) {
			t.Errorf("%q: Expected ErrMalformedRecord, got %v", line, err)
		}
	}
}

func TestRecord_Line(t *testing.T) {
	r := Record{Address: "h1", Seed: "T0", Stored: 4}
	if got := r.Line(); got != "h1;T0;4\r" {
		t.Errorf("got %q", got)
	}
	if r.Counter() != 2 {
		t.Errorf("Expected counter 2, got %d", r.Counter())
	}
	if n := r.next(); n.Stored != 6 || n.Address != "h1" {
		t.Errorf("next gave %+v", n)
	}
}

func TestValidRecord(t *testing.T) {
	bad := []Record{
		{Address: "", Seed: "T0", Stored: 2},
		{Address: "a;b", Seed: "T0", Stored: 2},
		{Address: "h1", Seed: "T;0", Stored: 2},
		{Address: "h1", Seed: "T0\r", Stored: 2},
		{Address: "h1", Seed: "T0", Stored: 1},
	}
	for _, r := range bad {
		if err := validRecord(r); !errors.Is(err, ErrMalformedRecord) {
			t.Errorf("%+v: Expected ErrMalformedRecord, got %v", r, err)
		}
	}
	if err := validRecord(Record{Address: "h1", Seed: "T0", Stored: 2}); err != nil {
		t.Errorf("valid record rejected: %v", err)
	}
}
