// Scriptorium - Typewriting Monkey Live Stream
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/scriptorium

package words

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tomtom215/scriptorium/internal/backend"
)

// memBackend is an in-memory Backend for word store tests.
type memBackend struct {
	mu          sync.Mutex
	docs        map[string][]byte
	failBatches bool
}

func newMemBackend() *memBackend {
	return &memBackend{docs: make(map[string][]byte)}
}

func (m *memBackend) Get(ctx context.Context, collection, id string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.docs[collection+"/"+id]
	if !ok {
		return nil, backend.ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

func (m *memBackend) Put(ctx context.Context, collection, id string, data []byte) error {
	return m.PutBatch(ctx, []backend.Doc{{Collection: collection, ID: id, Data: data}})
}

func (m *memBackend) PutBatch(ctx context.Context, docs []backend.Doc) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failBatches {
		return errors.New("backend unavailable")
	}
	for _, doc := range docs {
		m.docs[doc.Collection+"/"+doc.ID] = append([]byte(nil), doc.Data...)
	}
	return nil
}

func (m *memBackend) Scan(ctx context.Context, collection string, fn func(id string, data []byte) error) error {
	m.mu.Lock()
	prefix := collection + "/"
	var ids []string
	for k := range m.docs {
		if strings.HasPrefix(k, prefix) {
			ids = append(ids, strings.TrimPrefix(k, prefix))
		}
	}
	sort.Strings(ids)
	snapshot := make(map[string][]byte, len(ids))
	for _, id := range ids {
		snapshot[id] = append([]byte(nil), m.docs[prefix+id]...)
	}
	m.mu.Unlock()

	for _, id := range ids {
		if err := fn(id, snapshot[id]); err != nil {
			return err
		}
	}
	return nil
}

func (m *memBackend) Close() error { return nil }

func (m *memBackend) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.docs)
}

func testWordStore(t *testing.T, be backend.Backend, batchSize int) *Store {
	t.Helper()
	s := NewStore(be, StoreOptions{BatchSize: batchSize, FlushInterval: time.Hour})
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return s
}

func TestAddFlushLoadRoundTrip(t *testing.T) {
	be := newMemBackend()
	s := testWordStore(t, be, 16)
	ctx := context.Background()

	hit := Hit{Start: 100, Len: 3, Word: "cat"}
	if err := s.Add(ctx, hit); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := s.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	loaded, err := s.LoadAll(ctx)
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if len(loaded) != 1 || loaded[0] != hit {
		t.Errorf("LoadAll = %v, want [%+v]", loaded, hit)
	}
}

func TestBatchThresholdTriggersFlush(t *testing.T) {
	be := newMemBackend()
	s := testWordStore(t, be, 4)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := s.Add(ctx, Hit{Start: uint64(i * 10), Len: 3, Word: "cat"}); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	if be.count() != 0 {
		t.Errorf("flushed %d documents before reaching the batch size", be.count())
	}

	if err := s.Add(ctx, Hit{Start: 30, Len: 3, Word: "dog"}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if be.count() != 4 {
		t.Errorf("backend has %d documents after batch-full Add, want 4", be.count())
	}
	if s.PendingLen() != 0 {
		t.Errorf("pending = %d after flush, want 0", s.PendingLen())
	}
}

func TestTimerFlush(t *testing.T) {
	be := newMemBackend()
	s := NewStore(be, StoreOptions{BatchSize: 100, FlushInterval: 20 * time.Millisecond})
	defer func() {
		if err := s.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	}()

	if err := s.Add(context.Background(), Hit{Start: 5, Len: 4, Word: "word"}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for be.count() == 0 {
		select {
		case <-deadline:
			t.Fatal("timer flush never happened")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

// The document ID is a pure function of (start, len): re-adding the same
// hit writes the same document.
func TestDuplicateHitsCollapse(t *testing.T) {
	be := newMemBackend()
	s := testWordStore(t, be, 16)
	ctx := context.Background()

	hit := Hit{Start: 42, Len: 5, Word: "house"}
	for i := 0; i < 3; i++ {
		if err := s.Add(ctx, hit); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	if err := s.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	if be.count() != 1 {
		t.Errorf("backend has %d documents, want 1 (duplicates collapse)", be.count())
	}
}

func TestLoadAllSortedAndHighWater(t *testing.T) {
	be := newMemBackend()
	s := testWordStore(t, be, 16)
	ctx := context.Background()

	// Insert out of order; note start 900 has the furthest reach.
	for _, h := range []Hit{
		{Start: 900, Len: 4, Word: "maze"},
		{Start: 100, Len: 3, Word: "cat"},
		{Start: 500, Len: 5, Word: "house"},
	} {
		if err := s.Add(ctx, h); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	if err := s.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	// A fresh store sees only what was persisted.
	s2 := testWordStore(t, be, 16)
	loaded, err := s2.LoadAll(ctx)
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}

	wantStarts := []uint64{100, 500, 900}
	if len(loaded) != 3 {
		t.Fatalf("LoadAll returned %d hits, want 3", len(loaded))
	}
	for i, h := range loaded {
		if h.Start != wantStarts[i] {
			t.Errorf("loaded[%d].Start = %d, want %d", i, h.Start, wantStarts[i])
		}
	}
	if s2.HighWater() != 904 {
		t.Errorf("HighWater = %d, want 904", s2.HighWater())
	}
}

func TestHighWaterMonotonic(t *testing.T) {
	s := testWordStore(t, newMemBackend(), 16)
	ctx := context.Background()

	if err := s.Add(ctx, Hit{Start: 100, Len: 5, Word: "house"}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if s.HighWater() != 105 {
		t.Errorf("HighWater = %d, want 105", s.HighWater())
	}

	// An earlier hit must not lower the mark.
	if err := s.Add(ctx, Hit{Start: 10, Len: 3, Word: "cat"}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if s.HighWater() != 105 {
		t.Errorf("HighWater after earlier hit = %d, want 105", s.HighWater())
	}
}

func TestFlushFailureRequeues(t *testing.T) {
	be := newMemBackend()
	s := testWordStore(t, be, 16)
	ctx := context.Background()

	if err := s.Add(ctx, Hit{Start: 1, Len: 3, Word: "cat"}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	be.failBatches = true
	if err := s.Flush(ctx); err == nil {
		t.Fatal("Flush should fail with a broken backend")
	}
	if s.PendingLen() != 1 {
		t.Errorf("pending = %d after failed flush, want 1 (re-queued)", s.PendingLen())
	}

	be.failBatches = false
	if err := s.Flush(ctx); err != nil {
		t.Fatalf("retry Flush: %v", err)
	}
	if be.count() != 1 {
		t.Errorf("backend has %d documents after retry, want 1", be.count())
	}
}

func TestCloseFlushesPending(t *testing.T) {
	be := newMemBackend()
	s := NewStore(be, StoreOptions{BatchSize: 100, FlushInterval: time.Hour})

	if err := s.Add(context.Background(), Hit{Start: 7, Len: 3, Word: "fox"}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if be.count() != 1 {
		t.Errorf("backend has %d documents after Close, want 1", be.count())
	}
}
