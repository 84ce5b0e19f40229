package store

import (
	"database/sql"
	"fmt"
)

// Store is the concrete Storage port implementation (spec §6).
type Store struct {
	db *sql.DB
}

// New wraps an already-opened database in a Store.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// NewAtPath opens path and wraps it.
func NewAtPath(path string) (*Store, error) {
	db, err := Open(path)
	if err != nil {
		return nil, err
	}
	return New(db), nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func intToBool(i int) bool { return i != 0 }

func rowScanErr(op string, err error) error {
	if err == sql.ErrNoRows {
		return err
	}
	return fmt.Errorf("%s: %w", op, err)
}
