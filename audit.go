package hostchain

import (
	"fmt"
	"io"
	"os"
)

// LineIssue points at one problematic line of a hosts file.
type LineIssue struct {
	Line int // 1-based, counting non-empty lines
	Text string
	Err  error
}

// AuditReport summarizes the state of a line-format hosts file.
type AuditReport struct {
	Records    int // well-formed lines
	Malformed  []LineIssue
	Duplicates []LineIssue // later lines repeating an address
}

// OK reports whether every line parsed and every address is unique.
func (r AuditReport) OK() bool {
	return len(r.Malformed) == 0 && len(r.Duplicates) == 0
}

// AuditLines checks the lines read from rd. Duplicate addresses are what a
// raw append of an already known host would leave behind; loading keeps only
// the first.
func AuditLines(rd io.Reader) (AuditReport, error) {
	lines, err := scanLines(rd)
	if err != nil {
		return AuditReport{}, err
	}

	var rep AuditReport
	first := make(map[string]int)
	for i, line := range lines {
		n := i + 1
		r, err := ParseRecord(line)
		if err != nil {
			rep.Malformed = append(rep.Malformed, LineIssue{Line: n, Text: line, Err: err})
			continue
		}
		rep.Records++
		if prev, ok := first[r.Address]; ok {
			rep.Duplicates = append(rep.Duplicates, LineIssue{
				Line: n,
				Text: line,
				Err:  fmt.Errorf("%w: %s first seen on line %d", ErrHostExists, r.Address, prev),
			})
			continue
		}
		first[r.Address] = n
	}
	return rep, nil
}

// AuditFile runs AuditLines over the file at path.
func AuditFile(path string) (AuditReport, error) {
	f, err := os.Open(path)
	if err != nil {
		return AuditReport{}, unavailable("open hosts file", err)
	}
	defer f.Close()
	return AuditLines(f)
}
