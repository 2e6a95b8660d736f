// Package store defines the read-side boundary of a transactional key-value
// store and provides TiKV, BadgerDB, Pebble and SQLite implementations of it.
//
// A Client opens optimistic snapshot transactions. A Txn answers bounded,
// ascending range scans against that snapshot and is finished with exactly
// one Commit or Rollback.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/kvexplorer/kvexplorer/internal/config"
	"github.com/sirupsen/logrus"
)

// MaxScanLimit is the largest limit a single Scan call accepts.
const MaxScanLimit = config.MaxBatchSize

// Common errors
var (
	ErrTxnClosed     = errors.New("transaction already finished")
	ErrInvalidLimit  = errors.New("invalid scan limit")
	ErrClientClosed  = errors.New("store client closed")
	ErrUnknownEngine = errors.New("unknown store backend")
)

// Pair is one raw key/value entry as returned by the store.
type Pair struct {
	Key   []byte
	Value []byte
}

// Client opens transactions against a key-value store.
type Client interface {
	// Begin opens an optimistic snapshot transaction.
	Begin(ctx context.Context) (Txn, error)

	// Backend names the engine behind the client ("tikv", "badger", ...).
	Backend() string

	// Close releases the connection or database handle.
	Close() error
}

// Txn is a read view of the store at one read timestamp.
type Txn interface {
	// Scan returns at most limit pairs whose keys are >= start, in ascending
	// byte-lexicographic key order. An empty start means the lowest key.
	// Returned slices are owned by the caller.
	Scan(ctx context.Context, start []byte, limit int) ([]Pair, error)

	// Commit finishes the transaction successfully.
	Commit(ctx context.Context) error

	// Rollback abandons the transaction.
	Rollback(ctx context.Context) error
}

// NextKey returns the smallest key strictly greater than key.
func NextKey(key []byte) []byte {
	next := make([]byte, len(key)+1)
	copy(next, key)
	return next
}

// Open builds the client selected by cfg.Backend.
func Open(ctx context.Context, cfg config.StoreConfig, logger *logrus.Logger) (Client, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	switch cfg.Backend {
	case config.BackendTiKV:
		return NewTiKVClient(ctx, TiKVOptions{Addresses: cfg.Addresses, Logger: logger})
	case config.BackendBadger:
		return NewBadgerClient(BadgerOptions{DataDir: cfg.DataDir, ReadOnly: cfg.ReadOnly, Logger: logger})
	case config.BackendPebble:
		return NewPebbleClient(PebbleOptions{DataDir: cfg.DataDir, ReadOnly: cfg.ReadOnly, Logger: logger})
	case config.BackendSQLite:
		return NewSQLiteClient(ctx, SQLiteOptions{Path: cfg.SQLitePath, Table: cfg.SQLiteTable, ReadOnly: cfg.ReadOnly, Logger: logger})
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEngine, cfg.Backend)
	}
}

func checkLimit(limit int) error {
	if limit < 1 || limit > MaxScanLimit {
		return fmt.Errorf("%w: %d (must be between 1 and %d)", ErrInvalidLimit, limit, MaxScanLimit)
	}
	return nil
}

func copyBytes(b []byte) []byte {
	c := make([]byte, len(b))
	copy(c, b)
	return c
}
