package store

import (
	"context"
	"fmt"
	"os"

	"github.com/cockroachdb/pebble"
	"github.com/sirupsen/logrus"
)

// PebbleClient reads a Pebble database. Pebble has no transactions; a
// transaction here is a Snapshot, which gives the same point-in-time view.
// Commit and Rollback both release the snapshot.
type PebbleClient struct {
	db     *pebble.DB
	logger *logrus.Logger
}

// PebbleOptions contains configuration options for PebbleClient
type PebbleOptions struct {
	DataDir  string
	ReadOnly bool
	Logger   *logrus.Logger
}

// NewPebbleClient opens the Pebble database at DataDir.
func NewPebbleClient(opts PebbleOptions) (*PebbleClient, error) {
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}

	if !opts.ReadOnly {
		if err := os.MkdirAll(opts.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create pebble directory: %w", err)
		}
	}

	cache := pebble.NewCache(64 << 20)
	defer cache.Unref()

	db, err := pebble.Open(opts.DataDir, &pebble.Options{
		Cache:    cache,
		ReadOnly: opts.ReadOnly,
		Logger:   &pebbleLogger{logger: opts.Logger},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble db: %w", err)
	}

	opts.Logger.WithFields(logrus.Fields{
		"path":      opts.DataDir,
		"read_only": opts.ReadOnly,
	}).Info("Pebble store opened")

	return &PebbleClient{db: db, logger: opts.Logger}, nil
}

// DB returns the underlying Pebble instance
func (c *PebbleClient) DB() *pebble.DB {
	return c.db
}

// Backend implements Client.
func (c *PebbleClient) Backend() string { return "pebble" }

// Begin implements Client.
func (c *PebbleClient) Begin(ctx context.Context) (Txn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &pebbleTxn{snap: c.db.NewSnapshot()}, nil
}

// Close implements Client.
func (c *PebbleClient) Close() error {
	c.logger.Info("Closing Pebble store")
	return c.db.Close()
}

type pebbleTxn struct {
	snap *pebble.Snapshot
	done bool
}

func (t *pebbleTxn) Scan(ctx context.Context, start []byte, limit int) ([]Pair, error) {
	if t.done {
		return nil, ErrTxnClosed
	}
	if err := checkLimit(limit); err != nil {
		return nil, err
	}

	iter, err := t.snap.NewIter(&pebble.IterOptions{LowerBound: start})
	if err != nil {
		return nil, fmt.Errorf("failed to create iterator: %w", err)
	}
	defer iter.Close() //nolint:errcheck

	pairs := make([]Pair, 0, min(limit, 1024))
	for valid := iter.First(); valid && len(pairs) < limit; valid = iter.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		pairs = append(pairs, Pair{Key: copyBytes(iter.Key()), Value: copyBytes(iter.Value())})
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	return pairs, nil
}

func (t *pebbleTxn) Commit(ctx context.Context) error {
	return t.release()
}

func (t *pebbleTxn) Rollback(ctx context.Context) error {
	return t.release()
}

func (t *pebbleTxn) release() error {
	if t.done {
		return ErrTxnClosed
	}
	t.done = true
	return t.snap.Close()
}

// pebbleLogger adapts logrus to pebble's Logger interface.
type pebbleLogger struct {
	logger *logrus.Logger
}

func (l *pebbleLogger) Infof(format string, args ...interface{}) {
	l.logger.Debugf("[Pebble] "+format, args...)
}

func (l *pebbleLogger) Errorf(format string, args ...interface{}) {
	l.logger.Errorf("[Pebble] "+format, args...)
}

func (l *pebbleLogger) Fatalf(format string, args ...interface{}) {
	l.logger.Fatalf("[Pebble] "+format, args...)
}

var _ Client = (*PebbleClient)(nil)
