// Package probe reads the entire keyspace of a transactional key-value store
// from one snapshot transaction.
package probe

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kvexplorer/kvexplorer/internal/store"
	"github.com/sirupsen/logrus"
)

// DefaultBatchSize is the number of pairs requested per scan call.
const DefaultBatchSize = 1000

// Recorder receives the outcome of every scan-all attempt.
type Recorder interface {
	RecordScan(backend, outcome string, pairs, batches int, duration time.Duration)
}

type noopRecorder struct{}

func (noopRecorder) RecordScan(string, string, int, int, time.Duration) {}

// Scanner performs exactly one scan-all attempt against a store. It owns the
// transaction it opens for the duration of that attempt; create a new
// Scanner for every retrieval.
type Scanner struct {
	client    store.Client
	batchSize int
	logger    *logrus.Entry
	recorder  Recorder

	used    atomic.Bool
	mu      sync.Mutex
	state   State
	history []State
}

// Option configures a Scanner
type Option func(*Scanner)

// WithBatchSize sets the maximum pairs requested per scan call. Values
// outside 1..store.MaxScanLimit are ignored.
func WithBatchSize(n int) Option {
	return func(s *Scanner) {
		if n >= 1 && n <= store.MaxScanLimit {
			s.batchSize = n
		}
	}
}

// WithLogger sets the log entry used for every message of this scan.
func WithLogger(entry *logrus.Entry) Option {
	return func(s *Scanner) {
		if entry != nil {
			s.logger = entry
		}
	}
}

// WithRecorder sets the metrics sink.
func WithRecorder(r Recorder) Option {
	return func(s *Scanner) {
		if r != nil {
			s.recorder = r
		}
	}
}

// NewScanner creates an idle scanner over client.
func NewScanner(client store.Client, opts ...Option) *Scanner {
	s := &Scanner{
		client:    client,
		batchSize: DefaultBatchSize,
		logger:    logrus.NewEntry(logrus.StandardLogger()),
		recorder:  noopRecorder{},
		state:     StateIdle,
		history:   []State{StateIdle},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithFields(logrus.Fields{
		"backend":    client.Backend(),
		"batch_size": s.batchSize,
	})
	return s
}

// State returns the current lifecycle state.
func (s *Scanner) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// History returns every state the scanner has been in, in order.
func (s *Scanner) History() []State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]State(nil), s.history...)
}

func (s *Scanner) transition(to State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !canTransition(s.state, to) {
		panic(fmt.Sprintf("probe: illegal scanner transition %s -> %s", s.state, to))
	}
	s.state = to
	s.history = append(s.history, to)
}

// ScanAll reads every key/value pair visible to one snapshot transaction, in
// ascending key order. It either returns the complete keyspace with the
// transaction committed, or a *ScanError and no pairs.
func (s *Scanner) ScanAll(ctx context.Context) ([]store.Pair, error) {
	if !s.used.CompareAndSwap(false, true) {
		return nil, ErrScannerSpent
	}
	start := time.Now()

	txn, err := s.client.Begin(ctx)
	if err != nil {
		s.transition(StateFailed)
		return nil, s.fail(&ScanError{Kind: KindConnectionFailed, Err: err}, start, 0)
	}
	s.transition(StateTxnOpen)

	s.transition(StateScanning)
	pairs, batches, err := s.scan(ctx, txn)
	if err != nil {
		s.transition(StateRollingBack)
		scanErr := &ScanError{Kind: KindScanFailed, Batch: batches, Err: err}
		// The caller's context may be the reason the scan stopped; the
		// rollback still has to reach the store.
		if rbErr := txn.Rollback(context.WithoutCancel(ctx)); rbErr != nil {
			scanErr.Rollback = &ScanError{Kind: KindRollbackFailed, Err: rbErr}
			s.logger.WithError(rbErr).Warn("Rollback after failed scan also failed")
		}
		s.transition(StateFailed)
		return nil, s.fail(scanErr, start, batches)
	}

	s.transition(StateCommitting)
	if err := txn.Commit(ctx); err != nil {
		s.transition(StateFailed)
		return nil, s.fail(&ScanError{Kind: KindCommitFailed, Err: err}, start, batches)
	}
	s.transition(StateDone)

	duration := time.Since(start)
	s.recorder.RecordScan(s.client.Backend(), "ok", len(pairs), batches, duration)
	s.logger.WithFields(logrus.Fields{
		"pairs":    len(pairs),
		"batches":  batches,
		"duration": duration,
	}).Info("Keyspace scan complete")

	return pairs, nil
}

// scan pages through the keyspace. It returns the number of batches that
// completed; on error that is also the index of the failing batch.
func (s *Scanner) scan(ctx context.Context, txn store.Txn) ([]store.Pair, int, error) {
	var (
		pairs []store.Pair
		from  []byte
		last  []byte
		seen  bool
	)

	for batch := 0; ; batch++ {
		if err := ctx.Err(); err != nil {
			return nil, batch, err
		}

		got, err := txn.Scan(ctx, from, s.batchSize)
		if err != nil {
			return nil, batch, err
		}
		if len(got) > s.batchSize {
			return nil, batch, fmt.Errorf("%w: got %d, limit %d", ErrBatchOverflow, len(got), s.batchSize)
		}
		for _, p := range got {
			if seen && bytes.Compare(p.Key, last) <= 0 {
				return nil, batch, fmt.Errorf("%w: %q after %q", ErrOutOfOrder, p.Key, last)
			}
			last, seen = p.Key, true
		}
		pairs = append(pairs, got...)

		s.logger.WithFields(logrus.Fields{
			"batch": batch,
			"pairs": len(got),
		}).Debug("Scanned batch")

		// A short batch means the end of the keyspace was reached.
		if len(got) < s.batchSize {
			return pairs, batch + 1, nil
		}
		from = store.NextKey(last)
	}
}

func (s *Scanner) fail(err *ScanError, start time.Time, batches int) error {
	s.recorder.RecordScan(s.client.Backend(), err.Kind.String(), 0, batches, time.Since(start))
	entry := s.logger.WithError(err).WithField("kind", err.Kind.String())
	if err.Kind == KindScanFailed {
		entry = entry.WithField("batch", err.Batch)
	}
	entry.Error("Keyspace scan failed")
	return err
}
