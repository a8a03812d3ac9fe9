// Scriptorium - Typewriting Monkey Live Stream
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/scriptorium

// Package chunk provides durable, append-only character storage addressable
// by absolute stream index.
//
// The stream is partitioned into fixed-size chunks. Exactly one chunk — the
// working chunk — is mutable at any time; it lives in RAM and is mirrored to
// the document store together with the cursor by a periodic flush. When the
// working chunk fills up it is written out atomically with the cursor, seated
// in a bounded LRU of finished chunks, and a fresh working buffer is opened.
//
// Document layout:
//
//	chunks/chunk_{id} -> {"text": string}   (length = chunk size when finished)
//	meta/cursor       -> {"index": uint64}  (next index to be written)
package chunk

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/scriptorium/internal/backend"
	"github.com/tomtom215/scriptorium/internal/logging"
	"github.com/tomtom215/scriptorium/internal/metrics"
)

const (
	// DefaultChunkSize is the number of characters per finished chunk.
	DefaultChunkSize = 8192

	// MaxSliceLen is the largest slice a single read may request.
	MaxSliceLen = 16 * DefaultChunkSize

	// defaultFlushInterval is how often the dirty working chunk and cursor
	// are mirrored to the document store.
	defaultFlushInterval = 2 * time.Second

	// defaultCacheCapacity bounds the finished-chunk LRU.
	defaultCacheCapacity = 32

	collectionChunks = "chunks"
	collectionMeta   = "meta"
	docIDCursor      = "cursor"
)

// chunkDoc is the stored form of a chunk.
type chunkDoc struct {
	Text string `json:"text"`
}

// cursorDoc is the stored form of the cursor.
type cursorDoc struct {
	Index uint64 `json:"index"`
}

// Options configures a Store. Zero values select production defaults;
// tests shrink ChunkSize to exercise rollover cheaply.
type Options struct {
	ChunkSize     int
	FlushInterval time.Duration
	CacheCapacity int
}

func (o *Options) withDefaults() {
	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultChunkSize
	}
	if o.FlushInterval <= 0 {
		o.FlushInterval = defaultFlushInterval
	}
	if o.CacheCapacity <= 0 {
		o.CacheCapacity = defaultCacheCapacity
	}
}

// Store is the chunked append-only text store.
//
// Append is single-writer: the streaming engine is the only caller and
// serializes calls. Reads may run concurrently with the writer and observe
// either the pre- or post-append state, never a torn one.
type Store struct {
	be   backend.Backend
	size int

	mu        sync.RWMutex
	cursor    uint64
	workingID uint64
	working   []byte
	dirty     bool

	cache *lruCache

	flushInterval time.Duration
	stop          chan struct{}
	done          chan struct{}
	closeOnce     sync.Once
}

// Create opens a Store over the document backend, recovering the cursor and
// the working chunk from a previous run, and starts the flush loop.
func Create(ctx context.Context, be backend.Backend, opts Options) (*Store, error) {
	opts.withDefaults()

	s := &Store{
		be:            be,
		size:          opts.ChunkSize,
		cache:         newLRUCache(opts.CacheCapacity),
		flushInterval: opts.FlushInterval,
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}

	if err := s.recover(ctx); err != nil {
		return nil, err
	}

	go s.flushLoop()

	logging.Info().
		Uint64("cursor", s.cursor).
		Uint64("working_chunk", s.workingID).
		Int("working_len", len(s.working)).
		Msg("chunk store recovered")

	return s, nil
}

// recover loads the persisted cursor and adopts the matching working chunk.
func (s *Store) recover(ctx context.Context) error {
	data, err := s.be.Get(ctx, collectionMeta, docIDCursor)
	switch {
	case errors.Is(err, backend.ErrNotFound):
		// Fresh stream.
		s.cursor = 0
	case err != nil:
		return fmt.Errorf("read cursor: %w", err)
	default:
		var doc cursorDoc
		if err := json.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("decode cursor: %w", err)
		}
		s.cursor = doc.Index
	}

	s.workingID = s.cursor / uint64(s.size)
	offset := int(s.cursor % uint64(s.size))

	text, err := s.fetchChunk(ctx, s.workingID)
	if err != nil {
		return fmt.Errorf("read working chunk %d: %w", s.workingID, err)
	}

	switch {
	case len(text) == s.size:
		// The chunk filled and was persisted, but the cursor document still
		// points inside it (pre-rollover crash). Seat it as finished and
		// open the next chunk.
		s.cache.add(s.workingID, text)
		s.workingID++
		s.cursor = s.workingID * uint64(s.size)
		s.working = nil
	case len(text) > offset:
		// Stale tail beyond the persisted cursor; the cursor is
		// authoritative and those characters will be regenerated.
		s.working = []byte(text[:offset])
	default:
		if len(text) < offset {
			logging.Warn().
				Uint64("chunk", s.workingID).
				Int("have", len(text)).
				Int("want", offset).
				Msg("working chunk shorter than cursor offset, rewinding cursor")
			s.cursor = s.workingID*uint64(s.size) + uint64(len(text))
		}
		s.working = []byte(text)
	}

	return nil
}

// Append writes ch at the current cursor and returns its absolute index.
// When the working chunk fills, the finished chunk and the advanced cursor
// are committed in one atomic batch before Append returns; a failed commit
// leaves the store exactly as before the call, and the error is fatal to
// generation.
func (s *Store) Append(ctx context.Context, ch byte) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.cursor
	s.working = append(s.working, ch)
	s.cursor++
	s.dirty = true

	if len(s.working) == s.size {
		if err := s.flushFullLocked(ctx); err != nil {
			// Roll back the append so the store state matches storage.
			s.working = s.working[:len(s.working)-1]
			s.cursor--
			return 0, fmt.Errorf("chunk rollover: %w", err)
		}
	}

	metrics.CharsGenerated.Inc()
	return idx, nil
}

// flushFullLocked atomically persists the full working chunk together with
// the cursor, then promotes it into the LRU and opens a fresh working
// buffer. Caller must hold mu.
func (s *Store) flushFullLocked(ctx context.Context) error {
	text := string(s.working)

	chunkData, err := json.Marshal(chunkDoc{Text: text})
	if err != nil {
		return fmt.Errorf("encode chunk: %w", err)
	}
	cursorData, err := json.Marshal(cursorDoc{Index: s.cursor})
	if err != nil {
		return fmt.Errorf("encode cursor: %w", err)
	}

	err = s.be.PutBatch(ctx, []backend.Doc{
		{Collection: collectionChunks, ID: chunkDocID(s.workingID), Data: chunkData},
		{Collection: collectionMeta, ID: docIDCursor, Data: cursorData},
	})
	if err != nil {
		return err
	}

	s.cache.add(s.workingID, text)
	s.workingID++
	s.working = s.working[:0]
	s.dirty = false

	logging.Debug().Uint64("chunk", s.workingID-1).Uint64("cursor", s.cursor).Msg("chunk finished")
	return nil
}

// flushLoop mirrors the dirty working chunk and cursor every flush interval.
// Write failures are logged and retried on the next tick; the write is
// idempotent.
func (s *Store) flushLoop() {
	defer close(s.done)

	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.flushCursor(context.Background()); err != nil {
				metrics.CursorFlushErrors.Inc()
				logging.Warn().Err(err).Msg("cursor flush failed, retrying next tick")
			}
		case <-s.stop:
			return
		}
	}
}

// flushCursor persists the partial working chunk and the cursor in one
// atomic batch if anything changed since the last flush. The read lock is
// held across the batch, so a rollover cannot commit the finished chunk in
// between and then be overwritten by this older partial copy.
func (s *Store) flushCursor(ctx context.Context) error {
	s.mu.RLock()
	if !s.dirty {
		s.mu.RUnlock()
		return nil
	}
	snapCursor := s.cursor
	snapID := s.workingID
	text := string(s.working)

	chunkData, err := json.Marshal(chunkDoc{Text: text})
	if err != nil {
		s.mu.RUnlock()
		return fmt.Errorf("encode chunk: %w", err)
	}
	cursorData, err := json.Marshal(cursorDoc{Index: snapCursor})
	if err != nil {
		s.mu.RUnlock()
		return fmt.Errorf("encode cursor: %w", err)
	}

	err = s.be.PutBatch(ctx, []backend.Doc{
		{Collection: collectionChunks, ID: chunkDocID(snapID), Data: chunkData},
		{Collection: collectionMeta, ID: docIDCursor, Data: cursorData},
	})
	s.mu.RUnlock()
	if err != nil {
		return err
	}

	// Only clear dirty if nothing was appended since the snapshot;
	// otherwise the next tick picks up the newer state.
	s.mu.Lock()
	if s.cursor == snapCursor {
		s.dirty = false
	}
	s.mu.Unlock()

	return nil
}

// ReadChunk returns the text of the chunk with the given id. The working
// chunk reflects all appends committed before the call; a chunk that was
// never written reads as the empty string.
func (s *Store) ReadChunk(ctx context.Context, id uint64) (string, error) {
	s.mu.RLock()
	if id == s.workingID {
		text := string(s.working)
		s.mu.RUnlock()
		return text, nil
	}
	s.mu.RUnlock()

	if text, ok := s.cache.get(id); ok {
		metrics.ChunkCacheHits.Inc()
		return text, nil
	}
	metrics.ChunkCacheMisses.Inc()

	text, err := s.fetchChunk(ctx, id)
	if err != nil {
		return "", err
	}
	s.cache.add(id, text)
	return text, nil
}

// fetchChunk reads a chunk document from the backend, mapping a missing
// document to the empty string.
func (s *Store) fetchChunk(ctx context.Context, id uint64) (string, error) {
	data, err := s.be.Get(ctx, collectionChunks, chunkDocID(id))
	if errors.Is(err, backend.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("fetch chunk %d: %w", id, err)
	}

	var doc chunkDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return "", fmt.Errorf("decode chunk %d: %w", id, err)
	}
	return doc.Text, nil
}

// ReadSlice returns up to length characters starting at the absolute index
// start. The result is shorter than requested when the range extends past
// the cursor, and empty when length <= 0 or start is at or past the cursor.
func (s *Store) ReadSlice(ctx context.Context, start uint64, length int) (string, error) {
	if length <= 0 {
		return "", nil
	}

	cursor := s.Cursor()
	if start >= cursor {
		return "", nil
	}

	end := start + uint64(length)
	if end > cursor {
		end = cursor
	}

	size := uint64(s.size)
	first := start / size
	last := (end - 1) / size

	var sb strings.Builder
	sb.Grow(int(end - start))
	for id := first; id <= last; id++ {
		text, err := s.ReadChunk(ctx, id)
		if err != nil {
			return "", err
		}
		sb.WriteString(text)
	}

	concat := sb.String()
	offset := int(start - first*size)
	want := int(end - start)
	if offset > len(concat) {
		return "", nil
	}
	if offset+want > len(concat) {
		want = len(concat) - offset
	}
	return concat[offset : offset+want], nil
}

// Cursor returns the absolute index of the next character to be written.
func (s *Store) Cursor() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cursor
}

// ChunkCount returns the number of chunks containing at least one character.
func (s *Store) ChunkCount() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return (s.cursor + uint64(s.size) - 1) / uint64(s.size)
}

// ChunkSize returns the configured chunk size.
func (s *Store) ChunkSize() int {
	return s.size
}

// CacheStats returns hit/miss counts for the finished-chunk cache.
func (s *Store) CacheStats() (hits, misses int64) {
	return s.cache.stats()
}

// Close stops the flush loop and performs one final synchronous flush so the
// persisted cursor equals the in-memory cursor.
func (s *Store) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.stop)
		<-s.done
		err = s.flushCursor(context.Background())
	})
	if err != nil {
		return fmt.Errorf("final cursor flush: %w", err)
	}
	return nil
}

// chunkDocID formats the document ID for a chunk.
func chunkDocID(id uint64) string {
	return fmt.Sprintf("chunk_%d", id)
}
