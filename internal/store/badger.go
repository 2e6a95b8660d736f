package store

import (
	"context"
	"fmt"
	"path/filepath"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"
)

// BadgerClient reads a BadgerDB database. Badger transactions are optimistic
// and MVCC-based, so a read-only transaction is a snapshot at its read
// timestamp.
type BadgerClient struct {
	db     *badger.DB
	logger *logrus.Logger
}

// BadgerOptions contains configuration options for BadgerClient
type BadgerOptions struct {
	DataDir  string
	ReadOnly bool // open without taking the write lock; requires an existing database
	InMemory bool // ignore DataDir and keep everything in memory
	Logger   *logrus.Logger
}

// NewBadgerClient opens the BadgerDB database at DataDir.
func NewBadgerClient(opts BadgerOptions) (*BadgerClient, error) {
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}

	var badgerOpts badger.Options
	if opts.InMemory {
		badgerOpts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		dir, err := filepath.Abs(opts.DataDir)
		if err != nil {
			return nil, fmt.Errorf("invalid badger data dir: %w", err)
		}
		badgerOpts = badger.DefaultOptions(dir).WithReadOnly(opts.ReadOnly)
	}
	badgerOpts = badgerOpts.WithLogger(newBadgerLogger(opts.Logger))

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger db: %w", err)
	}

	opts.Logger.WithFields(logrus.Fields{
		"path":      opts.DataDir,
		"in_memory": opts.InMemory,
		"read_only": opts.ReadOnly,
	}).Info("BadgerDB store opened")

	return &BadgerClient{db: db, logger: opts.Logger}, nil
}

// DB returns the underlying BadgerDB instance
func (c *BadgerClient) DB() *badger.DB {
	return c.db
}

// Backend implements Client.
func (c *BadgerClient) Backend() string { return "badger" }

// Begin implements Client.
func (c *BadgerClient) Begin(ctx context.Context) (Txn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.db.IsClosed() {
		return nil, ErrClientClosed
	}
	return &badgerTxn{txn: c.db.NewTransaction(false)}, nil
}

// Close implements Client.
func (c *BadgerClient) Close() error {
	c.logger.Info("Closing BadgerDB store")
	return c.db.Close()
}

type badgerTxn struct {
	txn  *badger.Txn
	done bool
}

func (t *badgerTxn) Scan(ctx context.Context, start []byte, limit int) ([]Pair, error) {
	if t.done {
		return nil, ErrTxnClosed
	}
	if err := checkLimit(limit); err != nil {
		return nil, err
	}

	opts := badger.DefaultIteratorOptions
	opts.PrefetchSize = min(limit, 1000)
	it := t.txn.NewIterator(opts)
	defer it.Close()

	pairs := make([]Pair, 0, min(limit, 1024))
	for it.Seek(start); it.Valid() && len(pairs) < limit; it.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		item := it.Item()
		val, err := item.ValueCopy(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to read value for key %q: %w", item.Key(), err)
		}
		pairs = append(pairs, Pair{Key: item.KeyCopy(nil), Value: val})
	}
	return pairs, nil
}

// Commit of a transaction without writes only releases the read timestamp.
func (t *badgerTxn) Commit(ctx context.Context) error {
	if t.done {
		return ErrTxnClosed
	}
	t.done = true
	return t.txn.Commit()
}

func (t *badgerTxn) Rollback(ctx context.Context) error {
	if t.done {
		return ErrTxnClosed
	}
	t.done = true
	t.txn.Discard()
	return nil
}

// badgerLogger adapts logrus to BadgerDB's logger interface
type badgerLogger struct {
	logger *logrus.Logger
}

func newBadgerLogger(logger *logrus.Logger) *badgerLogger {
	return &badgerLogger{logger: logger}
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Errorf("[BadgerDB] "+format, args...)
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warnf("[BadgerDB] "+format, args...)
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debugf("[BadgerDB] "+format, args...)
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Tracef("[BadgerDB] "+format, args...)
}

var _ Client = (*BadgerClient)(nil)
