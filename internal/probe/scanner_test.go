package probe

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/kvexplorer/kvexplorer/internal/store"
	"github.com/kvexplorer/kvexplorer/internal/store/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func numberedPairs(n int) []store.Pair {
	pairs := make([]store.Pair, n)
	for i := range pairs {
		pairs[i] = store.Pair{
			Key:   []byte(fmt.Sprintf("key-%02d", i)),
			Value: []byte(fmt.Sprintf("value-%02d", i)),
		}
	}
	return pairs
}

type recordedScan struct {
	backend, outcome string
	pairs, batches   int
}

type fakeRecorder struct {
	scans []recordedScan
}

func (r *fakeRecorder) RecordScan(backend, outcome string, pairs, batches int, _ time.Duration) {
	r.scans = append(r.scans, recordedScan{backend, outcome, pairs, batches})
}

var (
	successPath  = []State{StateIdle, StateTxnOpen, StateScanning, StateCommitting, StateDone}
	rollbackPath = []State{StateIdle, StateTxnOpen, StateScanning, StateRollingBack, StateFailed}
)

func TestScanAll_Pagination(t *testing.T) {
	tests := []struct {
		name      string
		keys      int
		batchSize int
		wantScans int64
	}{
		{"more keys than one batch", 5, 2, 3},
		{"exact multiple of batch", 4, 2, 3},
		{"single batch", 5, DefaultBatchSize, 1},
		{"batch of one", 3, 1, 4},
		{"empty keyspace", 0, 2, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seed := numberedPairs(tt.keys)
			client := &storetest.CountingClient{Client: storetest.NewBadger(t, seed)}
			rec := &fakeRecorder{}

			scanner := NewScanner(client, WithBatchSize(tt.batchSize), WithRecorder(rec))
			pairs, err := scanner.ScanAll(context.Background())
			require.NoError(t, err)

			require.Len(t, pairs, tt.keys)
			for i, p := range pairs {
				assert.Equal(t, seed[i].Key, p.Key)
				assert.Equal(t, seed[i].Value, p.Value)
			}
			assert.Equal(t, tt.wantScans, client.Scans.Load())
			assert.Equal(t, int64(1), client.Commits.Load())
			assert.Equal(t, int64(0), client.Rollbacks.Load())
			assert.Equal(t, successPath, scanner.History())
			assert.Equal(t, []recordedScan{{"badger", "ok", tt.keys, int(tt.wantScans)}}, rec.scans)
		})
	}
}

func TestScanAll_ContinuesPastLastKey(t *testing.T) {
	txn := &storetest.MockTxn{}
	first := []store.Pair{{Key: []byte("a")}, {Key: []byte("b")}}
	second := []store.Pair{{Key: []byte("c")}}
	txn.On("Scan", []byte(nil), 2).Return(first, nil).Once()
	txn.On("Scan", []byte("b\x00"), 2).Return(second, nil).Once()
	txn.On("Commit").Return(nil).Once()

	client := &storetest.MockClient{}
	client.On("Begin", mock.Anything).Return(txn, nil)

	pairs, err := NewScanner(client, WithBatchSize(2)).ScanAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, pairs, 3)
	txn.AssertExpectations(t)
	txn.AssertNotCalled(t, "Rollback")
}

func TestScanAll_ConnectionFailed(t *testing.T) {
	boom := errors.New("pd unreachable")
	client := &storetest.MockClient{}
	client.On("Begin", mock.Anything).Return(nil, boom)
	rec := &fakeRecorder{}

	scanner := NewScanner(client, WithRecorder(rec))
	pairs, err := scanner.ScanAll(context.Background())
	assert.Nil(t, pairs)

	var scanErr *ScanError
	require.ErrorAs(t, err, &scanErr)
	assert.Equal(t, KindConnectionFailed, scanErr.Kind)
	assert.ErrorIs(t, err, ErrConnectionFailed)
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrScanFailed)
	assert.Equal(t, []State{StateIdle, StateFailed}, scanner.History())
	assert.Equal(t, "connection_failed", rec.scans[0].outcome)
	client.AssertNumberOfCalls(t, "Begin", 1)
}

func TestScanAll_ScanFailedAfterBatches(t *testing.T) {
	boom := errors.New("region unavailable")
	txn := &storetest.MockTxn{}
	txn.On("Scan", mock.Anything, 2).Return(numberedPairs(2), nil).Once()
	txn.On("Scan", mock.Anything, 2).Return(numberedPairs(4)[2:], nil).Once()
	txn.On("Scan", mock.Anything, 2).Return(nil, boom).Once()
	txn.On("Rollback").Return(nil).Once()

	client := &storetest.MockClient{}
	client.On("Begin", mock.Anything).Return(txn, nil)

	scanner := NewScanner(client, WithBatchSize(2))
	pairs, err := scanner.ScanAll(context.Background())
	assert.Nil(t, pairs, "a failed scan must not return partial data")

	var scanErr *ScanError
	require.ErrorAs(t, err, &scanErr)
	assert.Equal(t, KindScanFailed, scanErr.Kind)
	assert.Equal(t, 2, scanErr.Batch)
	assert.Nil(t, scanErr.Rollback)
	assert.ErrorIs(t, err, ErrScanFailed)
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrRollbackFailed)

	txn.AssertExpectations(t)
	txn.AssertNotCalled(t, "Commit")
	assert.Equal(t, rollbackPath, scanner.History())
}

func TestScanAll_RollbackFailureDoesNotMaskScanError(t *testing.T) {
	scanBoom := errors.New("scan timeout")
	rbBoom := errors.New("rollback rejected")
	txn := &storetest.MockTxn{}
	txn.On("Scan", mock.Anything, mock.Anything).Return(nil, scanBoom).Once()
	txn.On("Rollback").Return(rbBoom).Once()

	client := &storetest.MockClient{}
	client.On("Begin", mock.Anything).Return(txn, nil)

	_, err := NewScanner(client).ScanAll(context.Background())

	var scanErr *ScanError
	require.ErrorAs(t, err, &scanErr)
	assert.Equal(t, KindScanFailed, scanErr.Kind)
	assert.ErrorIs(t, err, scanBoom)
	assert.ErrorIs(t, err, ErrScanFailed)
	assert.ErrorIs(t, err, ErrRollbackFailed)
	require.NotNil(t, scanErr.Rollback)
	assert.Equal(t, KindRollbackFailed, scanErr.Rollback.Kind)
	assert.ErrorIs(t, scanErr.Rollback, rbBoom)
	assert.Contains(t, err.Error(), "scan timeout")
	assert.Contains(t, err.Error(), "rollback rejected")
	txn.AssertNotCalled(t, "Commit")
}

func TestScanAll_CommitFailed(t *testing.T) {
	boom := errors.New("write conflict")
	txn := &storetest.MockTxn{}
	txn.On("Scan", mock.Anything, mock.Anything).Return(numberedPairs(3), nil).Once()
	txn.On("Commit").Return(boom).Once()

	client := &storetest.MockClient{}
	client.On("Begin", mock.Anything).Return(txn, nil)

	scanner := NewScanner(client)
	pairs, err := scanner.ScanAll(context.Background())
	assert.Nil(t, pairs)
	assert.ErrorIs(t, err, ErrCommitFailed)
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrScanFailed)
	txn.AssertNotCalled(t, "Rollback")
	assert.Equal(t, []State{StateIdle, StateTxnOpen, StateScanning, StateCommitting, StateFailed}, scanner.History())
}

func TestScanAll_CancelledMidScan(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	txn := &storetest.MockTxn{}
	txn.On("Scan", mock.Anything, 2).Return(numberedPairs(2), nil).Run(func(mock.Arguments) { cancel() }).Once()
	txn.On("Rollback").Return(nil).Once()

	client := &storetest.MockClient{}
	client.On("Begin", mock.Anything).Return(txn, nil)

	scanner := NewScanner(client, WithBatchSize(2))
	pairs, err := scanner.ScanAll(ctx)
	assert.Nil(t, pairs)
	assert.ErrorIs(t, err, ErrScanFailed)
	assert.ErrorIs(t, err, context.Canceled)
	txn.AssertNumberOfCalls(t, "Scan", 1)
	txn.AssertNotCalled(t, "Commit")
	txn.AssertExpectations(t)
	assert.Equal(t, rollbackPath, scanner.History())
}

func TestScanAll_StoreMisbehaviour(t *testing.T) {
	tests := []struct {
		name    string
		batches [][]store.Pair
		want    error
	}{
		{
			name:    "keys descending within batch",
			batches: [][]store.Pair{{{Key: []byte("b")}, {Key: []byte("a")}}},
			want:    ErrOutOfOrder,
		},
		{
			name: "batch repeats previous key",
			batches: [][]store.Pair{
				{{Key: []byte("a")}, {Key: []byte("b")}},
				{{Key: []byte("b")}},
			},
			want: ErrOutOfOrder,
		},
		{
			name:    "more pairs than requested",
			batches: [][]store.Pair{numberedPairs(3)},
			want:    ErrBatchOverflow,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			txn := &storetest.MockTxn{}
			for _, b := range tt.batches {
				txn.On("Scan", mock.Anything, 2).Return(b, nil).Once()
			}
			txn.On("Rollback").Return(nil).Once()

			client := &storetest.MockClient{}
			client.On("Begin", mock.Anything).Return(txn, nil)

			pairs, err := NewScanner(client, WithBatchSize(2)).ScanAll(context.Background())
			assert.Nil(t, pairs)
			assert.ErrorIs(t, err, ErrScanFailed)
			assert.ErrorIs(t, err, tt.want)
			txn.AssertNotCalled(t, "Commit")
		})
	}
}

func TestScanAll_Spent(t *testing.T) {
	client := storetest.NewBadger(t, numberedPairs(1))
	scanner := NewScanner(client)

	_, err := scanner.ScanAll(context.Background())
	require.NoError(t, err)

	_, err = scanner.ScanAll(context.Background())
	assert.ErrorIs(t, err, ErrScannerSpent)
	assert.Equal(t, StateDone, scanner.State())
}

func TestWithBatchSize_IgnoresInvalid(t *testing.T) {
	client := &storetest.MockClient{}
	assert.Equal(t, DefaultBatchSize, NewScanner(client, WithBatchSize(0)).batchSize)
	assert.Equal(t, DefaultBatchSize, NewScanner(client, WithBatchSize(store.MaxScanLimit+1)).batchSize)
	assert.Equal(t, 7, NewScanner(client, WithBatchSize(7)).batchSize)
}
