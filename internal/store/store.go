package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a key holds no record
var ErrNotFound = errors.New("record not found")

// Record is one stored key/value pair
type Record struct {
	Key   string
	Value []byte
}

// Store is a transactional key/value record store
type Store interface {
	// Begin starts a transaction. Writes become visible together on Commit.
	Begin(ctx context.Context) (Tx, error)
	// Read returns the value stored at key or ErrNotFound
	Read(ctx context.Context, key string) ([]byte, error)
	// ReadRange returns every record whose key starts with prefix, ordered by key
	ReadRange(ctx context.Context, prefix string) ([]Record, error)
	Close() error
}

// Tx is an open store transaction. Exactly one of Commit or Rollback ends it;
// Rollback after Commit is a no-op.
type Tx interface {
	Read(key string) ([]byte, error)
	Write(key string, value []byte) error
	Commit() error
	Rollback() error
}
