// Package storetest provides store.Client doubles for tests: testify mocks
// for fault injection and a seeded in-memory BadgerDB for real scans.
package storetest

import (
	"context"
	"sync/atomic"
	"testing"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/kvexplorer/kvexplorer/internal/store"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockClient is a testify mock of store.Client.
type MockClient struct {
	mock.Mock
}

func (m *MockClient) Begin(ctx context.Context) (store.Txn, error) {
	args := m.Called(ctx)
	txn, _ := args.Get(0).(store.Txn)
	return txn, args.Error(1)
}

func (m *MockClient) Backend() string { return "mock" }

func (m *MockClient) Close() error { return nil }

// MockTxn is a testify mock of store.Txn. Scan expectations match on
// (start, limit).
type MockTxn struct {
	mock.Mock
}

func (m *MockTxn) Scan(ctx context.Context, start []byte, limit int) ([]store.Pair, error) {
	args := m.Called(start, limit)
	pairs, _ := args.Get(0).([]store.Pair)
	return pairs, args.Error(1)
}

func (m *MockTxn) Commit(ctx context.Context) error {
	return m.Called().Error(0)
}

func (m *MockTxn) Rollback(ctx context.Context) error {
	return m.Called().Error(0)
}

// NewBadger opens an in-memory BadgerDB client holding pairs. It is closed
// when the test ends.
func NewBadger(t testing.TB, pairs []store.Pair) *store.BadgerClient {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	c, err := store.NewBadgerClient(store.BadgerOptions{InMemory: true, Logger: logger})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	require.NoError(t, c.DB().Update(func(txn *badger.Txn) error {
		for _, p := range pairs {
			if err := txn.Set(p.Key, p.Value); err != nil {
				return err
			}
		}
		return nil
	}))
	return c
}

// CountingClient wraps a client and counts Scan, Commit and Rollback calls
// across every transaction it opens.
type CountingClient struct {
	store.Client
	Scans     atomic.Int64
	Commits   atomic.Int64
	Rollbacks atomic.Int64
}

func (c *CountingClient) Begin(ctx context.Context) (store.Txn, error) {
	txn, err := c.Client.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &countingTxn{Txn: txn, c: c}, nil
}

type countingTxn struct {
	store.Txn
	c *CountingClient
}

func (t *countingTxn) Scan(ctx context.Context, start []byte, limit int) ([]store.Pair, error) {
	t.c.Scans.Add(1)
	return t.Txn.Scan(ctx, start, limit)
}

func (t *countingTxn) Commit(ctx context.Context) error {
	t.c.Commits.Add(1)
	return t.Txn.Commit(ctx)
}

func (t *countingTxn) Rollback(ctx context.Context) error {
	t.c.Rollbacks.Add(1)
	return t.Txn.Rollback(ctx)
}
