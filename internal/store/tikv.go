package store

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/tikv/client-go/v2/txnkv"
	"github.com/tikv/client-go/v2/txnkv/transaction"
)

// TiKVClient talks to a TiKV cluster through its placement driver endpoints
// using the transactional API.
type TiKVClient struct {
	client *txnkv.Client
	logger *logrus.Logger
}

// TiKVOptions contains configuration options for TiKVClient
type TiKVOptions struct {
	Addresses []string // PD endpoints, e.g. 127.0.0.1:2379
	Logger    *logrus.Logger
}

// NewTiKVClient connects to the cluster behind Addresses.
func NewTiKVClient(ctx context.Context, opts TiKVOptions) (*TiKVClient, error) {
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	if len(opts.Addresses) == 0 {
		return nil, fmt.Errorf("at least one PD address is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	client, err := txnkv.NewClient(opts.Addresses)
	if err != nil {
		return nil, fmt.Errorf("failed to create tikv client: %w", err)
	}

	opts.Logger.WithField("addresses", opts.Addresses).Info("TiKV client connected")

	return &TiKVClient{client: client, logger: opts.Logger}, nil
}

// Backend implements Client.
func (c *TiKVClient) Backend() string { return "tikv" }

// Begin starts an optimistic transaction; its start timestamp fixes the
// snapshot every Scan reads from.
func (c *TiKVClient) Begin(ctx context.Context) (Txn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	txn, err := c.client.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to start optimistic transaction: %w", err)
	}
	txn.SetPessimistic(false)
	return &tikvTxn{txn: txn}, nil
}

// Close implements Client.
func (c *TiKVClient) Close() error {
	c.logger.Info("Closing TiKV client")
	return c.client.Close()
}

type tikvTxn struct {
	txn  *transaction.KVTxn
	done bool
}

func (t *tikvTxn) Scan(ctx context.Context, start []byte, limit int) ([]Pair, error) {
	if t.done {
		return nil, ErrTxnClosed
	}
	if err := checkLimit(limit); err != nil {
		return nil, err
	}
	if start == nil {
		start = []byte{}
	}

	it, err := t.txn.Iter(start, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to scan keys: %w", err)
	}
	defer it.Close()

	pairs := make([]Pair, 0, min(limit, 1024))
	for it.Valid() && len(pairs) < limit {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		pairs = append(pairs, Pair{Key: copyBytes(it.Key()), Value: copyBytes(it.Value())})
		if err := it.Next(); err != nil {
			return nil, fmt.Errorf("failed to scan keys: %w", err)
		}
	}
	return pairs, nil
}

func (t *tikvTxn) Commit(ctx context.Context) error {
	if t.done {
		return ErrTxnClosed
	}
	t.done = true
	if err := t.txn.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (t *tikvTxn) Rollback(ctx context.Context) error {
	if t.done {
		return ErrTxnClosed
	}
	t.done = true
	if err := t.txn.Rollback(); err != nil {
		return fmt.Errorf("failed to rollback transaction: %w", err)
	}
	return nil
}

var _ Client = (*TiKVClient)(nil)
