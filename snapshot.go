package hostchain

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/timestamppb"

	"github.com/karasz/hostchain/internal/log"
)

// Snapshot is a point-in-time copy of a store, used to move hosts between
// backends. Wire format (protobuf):
//
//	message Snapshot {
//	  google.protobuf.Timestamp taken_at = 1;
//	  repeated Record records = 2;
//	}
//	message Record {
//	  string address = 1;
//	  string seed = 2;
//	  uint64 stored = 3;   // counter + 2
//	}
type Snapshot struct {
	TakenAt time.Time
	Records []Record
}

const (
	snapTakenAt protowire.Number = 1
	snapRecords protowire.Number = 2

	recAddress protowire.Number = 1
	recSeed    protowire.Number = 2
	recStored  protowire.Number = 3
)

// ErrBadSnapshot indicates snapshot bytes that do not decode.
var ErrBadSnapshot = errors.New("bad snapshot")

// MarshalSnapshot encodes s.
func MarshalSnapshot(s Snapshot) ([]byte, error) {
	ts, err := proto.Marshal(timestamppb.New(s.TakenAt))
	if err != nil {
		return nil, fmt.Errorf("marshal timestamp: %w", err)
	}

	var b []byte
	b = protowire.AppendTag(b, snapTakenAt, protowire.BytesType)
	b = protowire.AppendBytes(b, ts)
	for _, r := range s.Records {
		b = protowire.AppendTag(b, snapRecords, protowire.BytesType)
		b = protowire.AppendBytes(b, marshalRecord(r))
	}
	return b, nil
}

func marshalRecord(r Record) []byte {
	var b []byte
	b = protowire.AppendTag(b, recAddress, protowire.BytesType)
	b = protowire.AppendString(b, r.Address)
	b = protowire.AppendTag(b, recSeed, protowire.BytesType)
	b = protowire.AppendString(b, r.Seed)
	b = protowire.AppendTag(b, recStored, protowire.VarintType)
	b = protowire.AppendVarint(b, r.Stored)
	return b
}

// UnmarshalSnapshot decodes b. Unknown fields are skipped.
func UnmarshalSnapshot(b []byte) (Snapshot, error) {
	var s Snapshot
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return Snapshot{}, fmt.Errorf("%w: %w", ErrBadSnapshot, protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == snapTakenAt && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return Snapshot{}, fmt.Errorf("%w: taken_at: %w", ErrBadSnapshot, protowire.ParseError(n))
			}
			var ts timestamppb.Timestamp
			if err := proto.Unmarshal(v, &ts); err != nil {
				return Snapshot{}, fmt.Errorf("%w: taken_at: %w", ErrBadSnapshot, err)
			}
			if err := ts.CheckValid(); err != nil {
				return Snapshot{}, fmt.Errorf("%w: taken_at: %w", ErrBadSnapshot, err)
			}
			s.TakenAt = ts.AsTime()
			b = b[n:]
		case num == snapRecords && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return Snapshot{}, fmt.Errorf("%w: record: %w", ErrBadSnapshot, protowire.ParseError(n))
			}
			r, err := unmarshalRecord(v)
			if err != nil {
				return Snapshot{}, fmt.Errorf("record %d: %w", len(s.Records), err)
			}
			s.Records = append(s.Records, r)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return Snapshot{}, fmt.Errorf("%w: %w", ErrBadSnapshot, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return s, nil
}

func unmarshalRecord(b []byte) (Record, error) {
	var r Record
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return Record{}, fmt.Errorf("%w: %w", ErrBadSnapshot, protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == recAddress && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return Record{}, fmt.Errorf("%w: address: %w", ErrBadSnapshot, protowire.ParseError(n))
			}
			r.Address = v
			b = b[n:]
		case num == recSeed && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return Record{}, fmt.Errorf("%w: seed: %w", ErrBadSnapshot, protowire.ParseError(n))
			}
			r.Seed = v
			b = b[n:]
		case num == recStored && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return Record{}, fmt.Errorf("%w: stored: %w", ErrBadSnapshot, protowire.ParseError(n))
			}
			r.Stored = v
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return Record{}, fmt.Errorf("%w: %w", ErrBadSnapshot, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	if err := validRecord(r); err != nil {
		return Record{}, err
	}
	return r, nil
}

// ExportSnapshot copies every record of st.
func ExportSnapshot(st Store, now time.Time) (Snapshot, error) {
	recs, err := st.Load()
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{TakenAt: now, Records: recs}, nil
}

// ImportSnapshot appends the records of s to st. Addresses st already holds
// are left alone and counted in skipped.
func ImportSnapshot(st Store, s Snapshot) (imported, skipped int, err error) {
	for _, r := range s.Records {
		err := st.Append(r)
		switch {
		case err == nil:
			imported++
		case errors.Is(err, ErrHostExists):
			log.Info("import skipped existing host", zap.String("address", r.Address))
			skipped++
		default:
			return imported, skipped, fmt.Errorf("import %s: %w", r.Address, err)
		}
	}
	return imported, skipped, nil
}
