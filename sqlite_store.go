package hostchain

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite" // Import SQLite driver for database/sql

	"github.com/karasz/hostchain/internal/log"
)

type sqliteStore struct{ db *sql.DB }

const sqliteTimeout = 5 * time.Second

// OpenSQLiteStore opens/creates a SQLite DB and ensures schema + PRAGMAs.
func OpenSQLiteStore(dsn string) (Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, unavailable("open sqlite", err)
	}
	// one connection: pragmas are per connection and writers serialize anyway
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, unavailable("ping sqlite", err)
	}
	for _, p := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=FULL;",
		"PRAGMA busy_timeout=5000;",
	} {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set %s: %w", p, err)
		}
	}
	schema := `
CREATE TABLE IF NOT EXISTS hosts (
  address TEXT    PRIMARY KEY,
  seed    TEXT    NOT NULL,
  stored  INTEGER NOT NULL CHECK(stored >= 2)  -- counter + 2
);
`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, unavailable("create schema", err)
	}
	return &sqliteStore{db: db}, nil
}

// Load returns all hosts in insertion order.
func (s *sqliteStore) Load() ([]Record, error) {
	ctx, cancel := context.WithTimeout(context.Background(), sqliteTimeout)
	defer cancel()
	rows, err := s.db.QueryContext(ctx, `SELECT address, seed, stored FROM hosts ORDER BY rowid ASC`)
	if err != nil {
		return nil, unavailable("query hosts", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		var stored int64
		if err := rows.Scan(&r.Address, &r.Seed, &stored); err != nil {
			return nil, unavailable("scan host", err)
		}
		if stored < StoredOffset {
			log.Debug("skip host row", zap.String("address", r.Address), zap.Int64("stored", stored))
			continue
		}
		r.Stored = uint64(stored)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate hosts", err)
	}
	return out, nil
}

// Append inserts a new host row.
func (s *sqliteStore) Append(r Record) error {
	if err := validRecord(r); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), sqliteTimeout)
	defer cancel()
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return unavailable("begin tx", err)
	}
	defer func() { _ = tx.Rollback() }()

	var n int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM hosts WHERE address=?`, r.Address).Scan(&n); err != nil {
		return unavailable("lookup host", err)
	}
	if n > 0 {
		return fmt.Errorf("%w: %s", ErrHostExists, r.Address)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO hosts(address, seed, stored) VALUES(?, ?, ?)`,
		r.Address, r.Seed, int64(r.Stored)); err != nil {
		return unavailable("insert host", err)
	}
	if err := tx.Commit(); err != nil {
		return unavailable("commit", err)
	}
	return nil
}

// Advance bumps the stored counter of address inside one transaction.
func (s *sqliteStore) Advance(address string) (Record, error) {
	ctx, cancel := context.WithTimeout(context.Background(), sqliteTimeout)
	defer cancel()
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return Record{}, unavailable("begin tx", err)
	}
	defer func() { _ = tx.Rollback() }()

	r := Record{Address: address}
	var stored int64
	err = tx.QueryRowContext(ctx, `SELECT seed, stored FROM hosts WHERE address=?`, address).Scan(&r.Seed, &stored)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, fmt.Errorf("%w: %s", ErrNoSuchHost, address)
	}
	if err != nil {
		return Record{}, unavailable("lookup host", err)
	}
	r.Stored = uint64(stored)
	r = r.next()

	if _, err := tx.ExecContext(ctx, `UPDATE hosts SET stored=? WHERE address=?`, int64(r.Stored), address); err != nil {
		return Record{}, unavailable("update host", err)
	}
	if err := tx.Commit(); err != nil {
		return Record{}, unavailable("commit", err)
	}
	return r, nil
}

// Purge deletes every host row.
func (s *sqliteStore) Purge() error {
	if _, err := s.db.Exec(`DELETE FROM hosts`); err != nil {
		return unavailable("purge hosts", err)
	}
	return nil
}

// Close closes the database.
func (s *sqliteStore) Close() error { return s.db.Close() }
