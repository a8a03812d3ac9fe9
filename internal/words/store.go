// Scriptorium - Typewriting Monkey Live Stream
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/scriptorium

package words

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/scriptorium/internal/backend"
	"github.com/tomtom215/scriptorium/internal/logging"
	"github.com/tomtom215/scriptorium/internal/metrics"
)

const (
	collectionWords = "words"

	// defaultBatchSize triggers an immediate flush when the pending buffer
	// reaches this size.
	defaultBatchSize = 16

	// defaultFlushInterval coalesces sparse hits into periodic batches.
	defaultFlushInterval = 5 * time.Second
)

// wordDoc is the stored form of a hit.
type wordDoc struct {
	Start     uint64    `json:"start"`
	Len       int       `json:"len"`
	Word      string    `json:"word"`
	Timestamp time.Time `json:"timestamp"`
}

// StoreOptions configures a word Store. Zero values select defaults.
type StoreOptions struct {
	BatchSize     int
	FlushInterval time.Duration
}

func (o *StoreOptions) withDefaults() {
	if o.BatchSize <= 0 {
		o.BatchSize = defaultBatchSize
	}
	if o.FlushInterval <= 0 {
		o.FlushInterval = defaultFlushInterval
	}
}

// Store persists detected hits with batched, timer-coalesced writes.
//
// Each hit is stored under the document ID word_{start}_{len}, a pure
// function of its identity, so replaying a hit after a restart collapses to
// the same document. The high-water mark is one past the end of the latest
// hit ever added or loaded; the startup scanner resumes from there.
type Store struct {
	be        backend.Backend
	batchSize int

	mu      sync.Mutex
	pending []Hit
	high    uint64

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewStore creates a word Store and starts its flush loop.
func NewStore(be backend.Backend, opts StoreOptions) *Store {
	opts.withDefaults()

	s := &Store{
		be:        be,
		batchSize: opts.BatchSize,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}

	go s.flushLoop(opts.FlushInterval)
	return s
}

// LoadAll reads every persisted hit, sorted by start ascending, and seeds
// the high-water mark from the furthest-reaching hit.
func (s *Store) LoadAll(ctx context.Context) ([]Hit, error) {
	var hits []Hit
	err := s.be.Scan(ctx, collectionWords, func(id string, data []byte) error {
		var doc wordDoc
		if err := json.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("decode word %s: %w", id, err)
		}
		hits = append(hits, Hit{Start: doc.Start, Len: doc.Len, Word: doc.Word})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load words: %w", err)
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].Start < hits[j].Start })

	s.mu.Lock()
	for _, h := range hits {
		if end := h.Start + uint64(h.Len); end > s.high {
			s.high = end
		}
	}
	s.mu.Unlock()

	return hits, nil
}

// Add enqueues a hit for persistence. When the pending buffer reaches the
// batch size the flush happens in-band; otherwise the flush loop picks the
// hit up within one interval.
func (s *Store) Add(ctx context.Context, hit Hit) error {
	s.mu.Lock()
	s.pending = append(s.pending, hit)
	if end := hit.Start + uint64(hit.Len); end > s.high {
		s.high = end
	}
	full := len(s.pending) >= s.batchSize
	s.mu.Unlock()

	if full {
		return s.Flush(ctx)
	}
	return nil
}

// Flush writes all pending hits as one atomic batch. A failed batch is
// re-queued and retried by the flush loop.
func (s *Store) Flush(ctx context.Context) error {
	s.mu.Lock()
	if len(s.pending) == 0 {
		s.mu.Unlock()
		return nil
	}
	batch := s.pending
	s.pending = nil
	s.mu.Unlock()

	now := time.Now().UTC()
	docs := make([]backend.Doc, 0, len(batch))
	for _, h := range batch {
		data, err := json.Marshal(wordDoc{Start: h.Start, Len: h.Len, Word: h.Word, Timestamp: now})
		if err != nil {
			return fmt.Errorf("encode word: %w", err)
		}
		docs = append(docs, backend.Doc{
			Collection: collectionWords,
			ID:         wordDocID(h),
			Data:       data,
		})
	}

	if err := s.be.PutBatch(ctx, docs); err != nil {
		s.mu.Lock()
		s.pending = append(batch, s.pending...)
		s.mu.Unlock()
		return fmt.Errorf("flush words: %w", err)
	}

	metrics.WordFlushes.Inc()
	logging.Debug().Int("hits", len(batch)).Msg("word batch flushed")
	return nil
}

// HighWater returns one past the end of the latest hit added or loaded.
// It is monotonically non-decreasing.
func (s *Store) HighWater() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.high
}

// PendingLen returns the number of hits awaiting a flush.
func (s *Store) PendingLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// flushLoop periodically flushes coalesced hits until stopped.
func (s *Store) flushLoop(interval time.Duration) {
	defer close(s.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.Flush(context.Background()); err != nil {
				logging.Warn().Err(err).Msg("word flush failed, retrying next tick")
			}
		case <-s.stop:
			return
		}
	}
}

// Close stops the flush loop and performs a final flush.
func (s *Store) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.stop)
		<-s.done
		err = s.Flush(context.Background())
	})
	if err != nil {
		return fmt.Errorf("final word flush: %w", err)
	}
	return nil
}

// wordDocID formats the document ID for a hit. The ID is a pure function of
// (start, len), making duplicate writes collapse to one document.
func wordDocID(h Hit) string {
	return fmt.Sprintf("word_%d_%d", h.Start, h.Len)
}
