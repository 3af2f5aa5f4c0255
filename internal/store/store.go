package store

import (
	"database/sql"
	_ "embed"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/pvm/internal/ir"
)

//go:embed schema.sql
var schemaSQL string

// ErrFormatMismatch reports a journal written in another change-set format.
var ErrFormatMismatch = errors.New("journal format mismatch")

var pragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA synchronous = NORMAL",
	"PRAGMA busy_timeout = 5000",
	"PRAGMA foreign_keys = ON",
}

// Store is the durable journal of committed change-sets.
type Store struct {
	db *sql.DB
}

// Open opens the journal at path, creating it if needed. A new journal is
// stamped with ir.ChangeSetVersion; an existing one must carry the same
// version, otherwise Open fails with ErrFormatMismatch.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", path, err)
	}
	// One connection: SQLite has a single writer and :memory: databases
	// are per connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := initJournal(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("open journal %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

// Close closes the journal.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func initJournal(db *sql.DB) error {
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("%s: %w", pragma, err)
		}
	}

	var version, tables int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read format version: %w", err)
	}
	if err := db.QueryRow("SELECT count(*) FROM sqlite_master WHERE type = 'table'").Scan(&tables); err != nil {
		return fmt.Errorf("inspect journal: %w", err)
	}
	switch {
	case version == 0 && tables > 0:
		return fmt.Errorf("%w: database has tables but no format version", ErrFormatMismatch)
	case version != 0 && version != ir.ChangeSetVersion:
		return fmt.Errorf("%w: journal is v%d, expected v%d", ErrFormatMismatch, version, ir.ChangeSetVersion)
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if version == 0 {
		if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", ir.ChangeSetVersion)); err != nil {
			return fmt.Errorf("stamp format version: %w", err)
		}
	}
	return nil
}
