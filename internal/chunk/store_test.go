// Scriptorium - Typewriting Monkey Live Stream
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/scriptorium

package chunk

import (
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tomtom215/scriptorium/internal/backend"
	"github.com/tomtom215/scriptorium/internal/logging"
)

//nolint:gochecknoinits // init ensures consistent logging for tests
func init() {
	logging.Init(logging.Config{Level: "info", Format: "console", Output: io.Discard})
}

// memBackend is an in-memory Backend for store tests. failBatches makes
// every PutBatch fail, simulating a broken document store.
type memBackend struct {
	mu          sync.Mutex
	docs        map[string][]byte
	failBatches bool
}

func newMemBackend() *memBackend {
	return &memBackend{docs: make(map[string][]byte)}
}

func (m *memBackend) key(collection, id string) string { return collection + "/" + id }

func (m *memBackend) Get(ctx context.Context, collection, id string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.docs[m.key(collection, id)]
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
		m.docs[m.key(doc.Collection, doc.ID)] = append([]byte(nil), doc.Data...)
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

// testStore creates a Store with a tiny chunk size and a long flush interval
// so timers do not interfere with test assertions.
func testStore(t *testing.T, be backend.Backend, chunkSize int) *Store {
	t.Helper()
	s, err := Create(context.Background(), be, Options{
		ChunkSize:     chunkSize,
		FlushInterval: time.Hour,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return s
}

func appendString(t *testing.T, s *Store, text string) {
	t.Helper()
	for i := 0; i < len(text); i++ {
		if _, err := s.Append(context.Background(), text[i]); err != nil {
			t.Fatalf("Append(%q): %v", text[i], err)
		}
	}
}

func TestAppendAssignsSequentialIndexes(t *testing.T) {
	s := testStore(t, newMemBackend(), 4)

	for want := uint64(0); want < 10; want++ {
		idx, err := s.Append(context.Background(), 'a')
		if err != nil {
			t.Fatalf("Append: %v", err)
		}
		if idx != want {
			t.Errorf("Append index = %d, want %d", idx, want)
		}
	}
	if s.Cursor() != 10 {
		t.Errorf("Cursor = %d, want 10", s.Cursor())
	}
}

// Chunk rollover: appending "abcd" to a size-4 store persists chunk_0 and
// the cursor atomically; appending "e" opens the next working chunk. After
// a cursor flush the partial chunk is mirrored too.
func TestRollover(t *testing.T) {
	be := newMemBackend()
	s := testStore(t, be, 4)
	ctx := context.Background()

	appendString(t, s, "abcd")

	data, err := be.Get(ctx, "chunks", "chunk_0")
	if err != nil {
		t.Fatalf("chunk_0 not persisted after rollover: %v", err)
	}
	if string(data) != `{"text":"abcd"}` {
		t.Errorf("chunk_0 = %s", data)
	}
	data, err = be.Get(ctx, "meta", "cursor")
	if err != nil {
		t.Fatalf("cursor not persisted after rollover: %v", err)
	}
	if string(data) != `{"index":4}` {
		t.Errorf("cursor = %s", data)
	}

	appendString(t, s, "e")
	if s.Cursor() != 5 {
		t.Errorf("Cursor = %d, want 5", s.Cursor())
	}

	// Timer flush mirrors the partial working chunk with the cursor.
	if err := s.flushCursor(ctx); err != nil {
		t.Fatalf("flushCursor: %v", err)
	}
	data, _ = be.Get(ctx, "chunks", "chunk_1")
	if string(data) != `{"text":"e"}` {
		t.Errorf("chunk_1 = %s", data)
	}
	data, _ = be.Get(ctx, "meta", "cursor")
	if string(data) != `{"index":5}` {
		t.Errorf("cursor = %s", data)
	}
}

func TestReadChunkWorking(t *testing.T) {
	s := testStore(t, newMemBackend(), 8)
	appendString(t, s, "abc")

	text, err := s.ReadChunk(context.Background(), 0)
	if err != nil {
		t.Fatalf("ReadChunk: %v", err)
	}
	if text != "abc" {
		t.Errorf("working chunk = %q, want abc", text)
	}
}

func TestReadChunkMissing(t *testing.T) {
	s := testStore(t, newMemBackend(), 8)

	text, err := s.ReadChunk(context.Background(), 99)
	if err != nil {
		t.Fatalf("ReadChunk: %v", err)
	}
	if text != "" {
		t.Errorf("missing chunk = %q, want empty", text)
	}
}

func TestReadSlice(t *testing.T) {
	s := testStore(t, newMemBackend(), 4)
	appendString(t, s, "abcdefghij") // chunks: abcd efgh ij
	ctx := context.Background()

	tests := []struct {
		name   string
		start  uint64
		length int
		want   string
	}{
		{"whole stream", 0, 10, "abcdefghij"},
		{"within one chunk", 1, 2, "bc"},
		{"across chunk boundary", 2, 4, "cdef"},
		{"spanning three chunks", 3, 7, "defghij"},
		{"last character", 9, 1, "j"},
		{"past cursor clamps", 8, 100, "ij"},
		{"at cursor", 10, 5, ""},
		{"beyond cursor", 50, 5, ""},
		{"zero length", 0, 0, ""},
		{"negative length", 0, -3, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.ReadSlice(ctx, tt.start, tt.length)
			if err != nil {
				t.Fatalf("ReadSlice(%d,%d): %v", tt.start, tt.length, err)
			}
			if got != tt.want {
				t.Errorf("ReadSlice(%d,%d) = %q, want %q", tt.start, tt.length, got, tt.want)
			}
		})
	}
}

// ReadSlice(a,b) + ReadSlice(a+b,c) == ReadSlice(a,b+c).
func TestReadSliceConcatLaw(t *testing.T) {
	s := testStore(t, newMemBackend(), 4)
	appendString(t, s, "abcdefghijklmnop")
	ctx := context.Background()

	for a := uint64(0); a < 6; a++ {
		for b := 1; b < 5; b++ {
			for c := 1; c < 5; c++ {
				left, _ := s.ReadSlice(ctx, a, b)
				right, _ := s.ReadSlice(ctx, a+uint64(b), c)
				whole, _ := s.ReadSlice(ctx, a, b+c)
				if left+right != whole {
					t.Fatalf("concat law broken at a=%d b=%d c=%d: %q+%q != %q",
						a, b, c, left, right, whole)
				}
			}
		}
	}
}

func TestCloseFlushesCursor(t *testing.T) {
	be := newMemBackend()
	s, err := Create(context.Background(), be, Options{ChunkSize: 4, FlushInterval: time.Hour})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	appendString(t, s, "abc")

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := be.Get(context.Background(), "meta", "cursor")
	if err != nil {
		t.Fatalf("cursor missing after Close: %v", err)
	}
	if string(data) != `{"index":3}` {
		t.Errorf("cursor after Close = %s, want index 3", data)
	}
}

// Close then re-Create yields a store with identical cursor and content.
func TestRecoveryRoundTrip(t *testing.T) {
	be := newMemBackend()
	ctx := context.Background()

	s, err := Create(ctx, be, Options{ChunkSize: 4, FlushInterval: time.Hour})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	const text = "thequickbrownfox"
	appendString(t, s, text)
	before, _ := s.ReadSlice(ctx, 0, len(text))
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s2, err := Create(ctx, be, Options{ChunkSize: 4, FlushInterval: time.Hour})
	if err != nil {
		t.Fatalf("re-Create: %v", err)
	}
	defer func() {
		if err := s2.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	}()

	if s2.Cursor() != uint64(len(text)) {
		t.Errorf("recovered cursor = %d, want %d", s2.Cursor(), len(text))
	}
	after, err := s2.ReadSlice(ctx, 0, len(text))
	if err != nil {
		t.Fatalf("ReadSlice after recovery: %v", err)
	}
	if after != before || after != text {
		t.Errorf("recovered stream = %q, want %q", after, text)
	}

	// Appends continue at the recovered cursor.
	idx, err := s2.Append(ctx, 'x')
	if err != nil {
		t.Fatalf("Append after recovery: %v", err)
	}
	if idx != uint64(len(text)) {
		t.Errorf("first index after recovery = %d, want %d", idx, len(text))
	}
}

// Recovery with only the timer-flushed partial state (crash before Close).
func TestRecoveryFromPartialFlush(t *testing.T) {
	be := newMemBackend()
	ctx := context.Background()

	s, err := Create(ctx, be, Options{ChunkSize: 4, FlushInterval: time.Hour})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	appendString(t, s, "abcdef")
	if err := s.flushCursor(ctx); err != nil {
		t.Fatalf("flushCursor: %v", err)
	}
	// Crash: no Close. One more character (not enough to trigger a
	// rollover) is lost with the dirty buffer.
	appendString(t, s, "g")
	close(s.stop)
	<-s.done

	s2, err := Create(ctx, be, Options{ChunkSize: 4, FlushInterval: time.Hour})
	if err != nil {
		t.Fatalf("re-Create: %v", err)
	}
	defer func() {
		if err := s2.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	}()

	if s2.Cursor() != 6 {
		t.Errorf("recovered cursor = %d, want 6 (last flushed)", s2.Cursor())
	}
	got, _ := s2.ReadSlice(ctx, 0, 6)
	if got != "abcdef" {
		t.Errorf("recovered stream = %q, want abcdef", got)
	}
}

// A failed rollover batch must leave cursor and working buffer unchanged.
func TestRolloverFailureRollsBack(t *testing.T) {
	be := newMemBackend()
	s := testStore(t, be, 4)
	ctx := context.Background()

	appendString(t, s, "abc")
	be.failBatches = true

	if _, err := s.Append(ctx, 'd'); err == nil {
		t.Fatal("Append should fail when the rollover batch fails")
	}

	if s.Cursor() != 3 {
		t.Errorf("Cursor after failed rollover = %d, want 3", s.Cursor())
	}
	got, _ := s.ReadSlice(ctx, 0, 10)
	if got != "abc" {
		t.Errorf("stream after failed rollover = %q, want abc", got)
	}

	// Backend recovers; the same append now succeeds.
	be.failBatches = false
	idx, err := s.Append(ctx, 'd')
	if err != nil {
		t.Fatalf("Append after recovery: %v", err)
	}
	if idx != 3 {
		t.Errorf("index after recovery = %d, want 3", idx)
	}
}

func TestChunkCount(t *testing.T) {
	s := testStore(t, newMemBackend(), 4)

	if s.ChunkCount() != 0 {
		t.Errorf("ChunkCount = %d, want 0", s.ChunkCount())
	}
	appendString(t, s, "abc")
	if s.ChunkCount() != 1 {
		t.Errorf("ChunkCount = %d, want 1", s.ChunkCount())
	}
	appendString(t, s, "defgh")
	if s.ChunkCount() != 2 {
		t.Errorf("ChunkCount = %d, want 2", s.ChunkCount())
	}
}

// Round trip against the real BadgerDB backend.
func TestBadgerRoundTrip(t *testing.T) {
	be, err := backend.Open(t.TempDir())
	if err != nil {
		t.Fatalf("backend.Open: %v", err)
	}
	defer func() {
		if err := be.Close(); err != nil {
			t.Errorf("backend.Close: %v", err)
		}
	}()

	ctx := context.Background()
	s, err := Create(ctx, be, Options{ChunkSize: 8, FlushInterval: time.Hour})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	appendString(t, s, "wordsandletters")
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s2, err := Create(ctx, be, Options{ChunkSize: 8, FlushInterval: time.Hour})
	if err != nil {
		t.Fatalf("re-Create: %v", err)
	}
	defer func() {
		if err := s2.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	}()

	got, err := s2.ReadSlice(ctx, 0, 15)
	if err != nil {
		t.Fatalf("ReadSlice: %v", err)
	}
	if got != "wordsandletters" {
		t.Errorf("recovered stream = %q", got)
	}
}
