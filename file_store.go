package hostchain

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"go.uber.org/zap"

	"github.com/karasz/hostchain/internal/log"
)

// fileStore implements Store over a text file with one record per line:
//
//	<address>;<seed>;<stored>\r
//
// Lines may also end in \n or \r\n. Lines that do not parse are kept as they
// are on rewrite and otherwise ignored. Mutations hold an exclusive flock on
// a sidecar "<path>.lock" file, since Advance replaces the data file by
// rename and a lock on its descriptor would not survive that.
type fileStore struct {
	path     string
	lockFile *os.File
	mu       sync.Mutex
}

const lockSuffix = ".lock"

// OpenFileStore opens the line-format store at path, creating the file and
// its directory if they do not exist yet.
func OpenFileStore(path string) (Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, unavailable("create directory", err)
	}

	f, err := os.OpenFile(path, os.O_RDONLY|os.O_CREATE, 0600)
	if err != nil {
		return nil, unavailable("open hosts file", err)
	}
	_ = f.Close()

	lockFile, err := os.OpenFile(path+lockSuffix, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, unavailable("open lock file", err)
	}

	return &fileStore{path: path, lockFile: lockFile}, nil
}

// locked runs fn holding both the process mutex and the file lock.
func (s *fileStore) locked(how int, fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := syscall.Flock(int(s.lockFile.Fd()), how); err != nil {
		return unavailable("lock hosts file", err)
	}
	defer syscall.Flock(int(s.lockFile.Fd()), syscall.LOCK_UN)

	return fn()
}

// Load parses every well-formed line.
func (s *fileStore) Load() ([]Record, error) {
	var out []Record
	err := s.locked(syscall.LOCK_SH, func() error {
		lines, err := s.readLinesLocked()
		if err != nil {
			return err
		}
		for i, line := range lines {
			r, err := ParseRecord(line)
			if err != nil {
				log.Debug("skip host line", zap.String("path", s.path), zap.Int("line", i+1), zap.Error(err))
				continue
			}
			out = append(out, r)
		}
		return nil
	})
	return out, err
}

// Append adds a line for r unless its address is already present.
func (s *fileStore) Append(r Record) error {
	if err := validRecord(r); err != nil {
		return err
	}
	return s.locked(syscall.LOCK_EX, func() error {
		lines, err := s.readLinesLocked()
		if err != nil {
			return err
		}
		for _, line := range lines {
			if existing, err := ParseRecord(line); err == nil && existing.Address == r.Address {
				return fmt.Errorf("%w: %s", ErrHostExists, r.Address)
			}
		}

		f, err := os.OpenFile(s.path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0600)
		if err != nil {
			return unavailable("open hosts file", err)
		}
		defer f.Close()

		line := r.Line()
		open, err := unterminated(f)
		if err != nil {
			return unavailable("read hosts file", err)
		}
		if open {
			// a hand-edited last line would otherwise absorb the new record
			line = lineTerm + line
		}
		if _, err := io.WriteString(f, line); err != nil {
			return unavailable("write record", err)
		}
		if err := f.Sync(); err != nil {
			return unavailable("sync hosts file", err)
		}
		return nil
	})
}

// Advance rewrites the first line for address with Stored += StoredStep.
// All other lines are re-emitted unchanged and the file is replaced whole.
func (s *fileStore) Advance(address string) (Record, error) {
	var updated Record
	err := s.locked(syscall.LOCK_EX, func() error {
		lines, err := s.readLinesLocked()
		if err != nil {
			return err
		}

		var buf bytes.Buffer
		found := false
		for _, line := range lines {
			if !found {
				if r, err := ParseRecord(line); err == nil && r.Address == address {
					updated = r.next()
					buf.WriteString(updated.Line())
					found = true
					continue
				}
			}
			buf.WriteString(line)
			buf.WriteString(lineTerm)
		}
		if !found {
			return fmt.Errorf("%w: %s", ErrNoSuchHost, address)
		}
		return s.replaceLocked(buf.Bytes())
	})
	return updated, err
}

// Purge truncates the file.
func (s *fileStore) Purge() error {
	return s.locked(syscall.LOCK_EX, func() error {
		if err := os.Truncate(s.path, 0); err != nil {
			return unavailable("truncate hosts file", err)
		}
		return nil
	})
}

// Close releases the lock file.
func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.lockFile.Close(); err != nil {
		return fmt.Errorf("close lock file: %w", err)
	}
	return nil
}

// readLinesLocked returns the non-empty lines of the file without terminators.
func (s *fileStore) readLinesLocked() ([]string, error) {
	f, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable("open hosts file", err)
	}
	defer f.Close()

	lines, err := scanLines(f)
	if err != nil {
		return nil, unavailable("read hosts file", err)
	}
	return lines, nil
}

// replaceLocked writes data to a temporary file and renames it over the
// store so a crash leaves either the old or the new contents.
func (s *fileStore) replaceLocked(data []byte) error {
	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return unavailable("create temp file", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return unavailable("write temp file", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return unavailable("sync temp file", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return unavailable("close temp file", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return unavailable("replace hosts file", err)
	}
	syncDir(s.path)
	return nil
}

// unterminated reports whether f is non-empty and its last byte is not a
// line terminator.
func unterminated(f *os.File) (bool, error) {
	fi, err := f.Stat()
	if err != nil {
		return false, err
	}
	if fi.Size() == 0 {
		return false, nil
	}
	last := make([]byte, 1)
	if _, err := f.ReadAt(last, fi.Size()-1); err != nil {
		return false, err
	}
	return last[0] != '\r' && last[0] != '\n', nil
}

func syncDir(path string) {
	dir, err := os.Open(filepath.Dir(path))
	if err != nil {
		return
	}
	defer dir.Close()
	_ = dir.Sync()
}

// scanLines splits r on \r, \n or \r\n and drops blank lines.
func scanLines(r io.Reader) ([]string, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), 1<<20)
	sc.Split(splitCRLF)

	var out []string
	for sc.Scan() {
		if line := sc.Text(); strings.TrimSpace(line) != "" {
			out = append(out, line)
		}
	}
	return out, sc.Err()
}

func splitCRLF(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		if data[i] == '\r' {
			if i+1 < len(data) {
				if data[i+1] == '\n' {
					return i + 2, data[:i], nil
				}
				return i + 1, data[:i], nil
			}
			if !atEOF {
				// need one more byte to tell \r from \r\n
				return 0, nil, nil
			}
		}
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
