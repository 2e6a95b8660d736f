// Package explorer is the single entry point for reading a store: it scans
// the whole keyspace and classifies every key and value.
package explorer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kvexplorer/kvexplorer/internal/probe"
	"github.com/kvexplorer/kvexplorer/internal/store"
	"github.com/kvexplorer/kvexplorer/internal/values"
	"github.com/sirupsen/logrus"
)

// Pair is a classified key/value entry.
type Pair struct {
	Key   values.Value `json:"key"`
	Value values.Value `json:"value"`
}

// Recorder receives scan outcomes and classification results.
type Recorder interface {
	probe.Recorder
	RecordClassification(role string, kind values.Kind)
}

type noopRecorder struct{}

func (noopRecorder) RecordScan(string, string, int, int, time.Duration) {}
func (noopRecorder) RecordClassification(string, values.Kind) {}

// RetrievalError is returned by GetAllPairs. Kind keeps the distinction
// between connection, scan and commit failures.
type RetrievalError struct {
	Kind   probe.ErrorKind
	ScanID string
	Err    error
}

func (e *RetrievalError) Error() string {
	return fmt.Sprintf("retrieval %s: %v", e.ScanID, e.Err)
}

func (e *RetrievalError) Unwrap() error {
	return e.Err
}

// Explorer reads and classifies the contents of one store.
type Explorer struct {
	client    store.Client
	batchSize int
	logger    *logrus.Logger
	recorder  Recorder
}

// Option configures an Explorer
type Option func(*Explorer)

// WithBatchSize sets the scan batch size used by every retrieval.
func WithBatchSize(n int) Option {
	return func(e *Explorer) { e.batchSize = n }
}

// WithLogger sets the logger.
func WithLogger(logger *logrus.Logger) Option {
	return func(e *Explorer) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithRecorder sets the metrics sink.
func WithRecorder(r Recorder) Option {
	return func(e *Explorer) {
		if r != nil {
			e.recorder = r
		}
	}
}

// New creates an Explorer over client. The caller keeps ownership of client
// and closes it.
func New(client store.Client, opts ...Option) *Explorer {
	e := &Explorer{
		client:    client,
		batchSize: probe.DefaultBatchSize,
		logger:    logrus.StandardLogger(),
		recorder:  noopRecorder{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Backend names the store engine being explored.
func (e *Explorer) Backend() string {
	return e.client.Backend()
}

// GetAllPairs reads a fresh snapshot of the whole keyspace and classifies
// each key and each value independently. Pairs keep the store's ascending
// key order. Nothing is cached; every call is a new transaction.
func (e *Explorer) GetAllPairs(ctx context.Context) ([]Pair, error) {
	scanID := uuid.New().String()
	entry := e.logger.WithField("scan_id", scanID)

	scanner := probe.NewScanner(e.client,
		probe.WithBatchSize(e.batchSize),
		probe.WithLogger(entry),
		probe.WithRecorder(e.recorder),
	)

	raw, err := scanner.ScanAll(ctx)
	if err != nil {
		retrievalErr := &RetrievalError{Kind: probe.KindScanFailed, ScanID: scanID, Err: err}
		var scanErr *probe.ScanError
		if errors.As(err, &scanErr) {
			retrievalErr.Kind = scanErr.Kind
		}
		return nil, retrievalErr
	}

	pairs := make([]Pair, len(raw))
	for i, p := range raw {
		pairs[i] = Pair{
			Key:   values.Classify(p.Key),
			Value: values.Classify(p.Value),
		}
		e.recorder.RecordClassification("key", pairs[i].Key.Kind)
		e.recorder.RecordClassification("value", pairs[i].Value.Kind)
	}

	entry.WithField("pairs", len(pairs)).Debug("Classified keyspace")
	return pairs, nil
}

// Summary counts the kinds chosen for keys and values.
type Summary struct {
	Keys   map[values.Kind]int `json:"keys"`
	Values map[values.Kind]int `json:"values"`
}

// Summarize counts key and value kinds across pairs.
func Summarize(pairs []Pair) Summary {
	s := Summary{
		Keys:   make(map[values.Kind]int),
		Values: make(map[values.Kind]int),
	}
	for _, p := range pairs {
		s.Keys[p.Key.Kind]++
		s.Values[p.Value.Kind]++
	}
	return s
}
