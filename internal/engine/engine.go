// Scriptorium - Typewriting Monkey Live Stream
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/scriptorium

// Package engine drives the stream: it paces the generator by audience
// size, feeds every character through the word detector, and fans events
// out to subscribers.
//
// The engine is the stream's single writer. One task executes
// generate -> append -> broadcast char -> detect -> broadcast word, so event
// ordering follows character ordering by construction.
package engine

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tomtom215/scriptorium/internal/chunk"
	"github.com/tomtom215/scriptorium/internal/generator"
	"github.com/tomtom215/scriptorium/internal/logging"
	"github.com/tomtom215/scriptorium/internal/metrics"
	"github.com/tomtom215/scriptorium/internal/websocket"
	"github.com/tomtom215/scriptorium/internal/words"
)

const (
	// tickInterval is the generation timer period (60 Hz).
	tickInterval = time.Second / 60

	// charsPerUserPerMinute scales audience size into throughput.
	charsPerUserPerMinute = 5.0

	// defaultBaseline is the simulated audience added in test mode so the
	// stream keeps moving without real viewers.
	defaultBaseline = 250

	// jitterSpan bounds the per-tick audience jitter in test mode.
	jitterSpan = 11
)

// Config holds the engine's process-level settings.
type Config struct {
	// TestMode adds Baseline (plus jitter) to the subscriber count.
	TestMode bool

	// Baseline is the simulated audience size. Zero selects the default.
	Baseline int
}

// Engine wires generator, chunk store, detector, word store and hub.
type Engine struct {
	store     *chunk.Store
	monkey    *generator.Monkey
	detector  *words.Detector
	wordStore *words.Store
	hub       *websocket.Hub
	dict      *words.Dictionary
	cfg       Config

	hitsMu sync.RWMutex
	hits   []words.Hit

	carry   float64
	started time.Time
	ready   atomic.Bool

	// usersFn and jitterFn are swappable for tests.
	usersFn  func() int
	jitterFn func() int
}

// New creates an Engine over already-opened stores. Call Reconcile before
// Serve; the hub must not accept subscribers until reconciliation is done.
func New(store *chunk.Store, wordStore *words.Store, hub *websocket.Hub, dict *words.Dictionary, cfg Config) *Engine {
	if cfg.Baseline <= 0 {
		cfg.Baseline = defaultBaseline
	}

	e := &Engine{
		store:     store,
		wordStore: wordStore,
		hub:       hub,
		dict:      dict,
		cfg:       cfg,
		detector:  words.NewDetector(dict),
		started:   time.Now(),
	}
	e.monkey = generator.New(store, store.Cursor())
	e.usersFn = hub.GetClientCount
	e.jitterFn = func() int { return rand.IntN(jitterSpan) - jitterSpan/2 }
	return e
}

// Reconcile recovers the in-memory hit list: persisted hits are loaded,
// the gap between the word high-water mark and the cursor is re-scanned,
// and recovered hits are persisted and merged in start order. Finally the
// hub snapshot is seeded. A failure here is fatal — the engine must not
// serve subscribers with unreconciled state.
func (e *Engine) Reconcile(ctx context.Context) error {
	persisted, err := e.wordStore.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("load persisted words: %w", err)
	}

	recovered, err := words.Reconcile(ctx, e.store, e.dict, e.wordStore.HighWater())
	if err != nil {
		return fmt.Errorf("startup scan: %w", err)
	}

	for _, hit := range recovered {
		if err := e.wordStore.Add(ctx, hit); err != nil {
			return fmt.Errorf("persist recovered hit: %w", err)
		}
	}

	// Persisted hits are sorted by start; recovered hits all start at or
	// after the high-water mark, so appending keeps the order.
	e.hits = append(persisted, recovered...)

	if err := e.primeDetector(ctx); err != nil {
		return fmt.Errorf("prime detector: %w", err)
	}

	e.hub.Seed(e.store.Cursor(), e.hits)
	e.ready.Store(true)

	logging.Info().
		Uint64("cursor", e.store.Cursor()).
		Int("hits", len(e.hits)).
		Int("recovered", len(recovered)).
		Msg("engine reconciled")

	return nil
}

// primeDetector replays the last MaxWordLen-1 characters before the cursor
// into the live detector so a word spanning the restart boundary still has
// its left context. Hits emitted during priming end at or before the cursor
// and were already handled by the startup scan, so they are discarded.
func (e *Engine) primeDetector(ctx context.Context) error {
	cursor := e.store.Cursor()
	span := uint64(words.MaxWordLen - 1)
	if cursor < span {
		span = cursor
	}
	if span == 0 {
		return nil
	}

	from := cursor - span
	text, err := e.store.ReadSlice(ctx, from, int(span))
	if err != nil {
		return err
	}
	for i := 0; i < len(text); i++ {
		e.detector.Push(text[i], from+uint64(i))
	}
	return nil
}

// Serve runs the generation loop until the context is canceled. Designed
// for suture supervision: a fatal store error is returned, the supervisor
// backs off and restarts, and the rolled-back append is retried.
func (e *Engine) Serve(ctx context.Context) error {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	dt := tickInterval.Seconds()

	for {
		select {
		case <-ctx.Done():
			logging.Info().Str("component", "engine").Msg("generation stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := e.tick(ctx, dt); err != nil {
				e.ready.Store(false)
				logging.Error().Err(err).Msg("generation halted on store failure")
				return err
			}
		}
	}
}

// tick accumulates fractional throughput and emits the whole characters.
// The carry keeps long-run output at exactly usersOnline * 5 chars/minute
// with no drift from the 60 Hz discretization.
func (e *Engine) tick(ctx context.Context, dt float64) error {
	users := e.UsersOnline()
	cps := float64(users) * charsPerUserPerMinute / 60.0

	metrics.UsersOnline.Set(float64(users))
	metrics.CharsPerMinute.Set(float64(users) * charsPerUserPerMinute)

	e.carry += cps * dt
	n := int(e.carry)
	e.carry -= float64(n)

	for i := 0; i < n; i++ {
		if err := e.step(ctx); err != nil {
			return err
		}
	}
	return nil
}

// step generates one character: append, broadcast, detect, persist.
func (e *Engine) step(ctx context.Context) error {
	g, err := e.monkey.Next(ctx)
	if err != nil {
		return err
	}
	e.ready.Store(true)

	e.hub.BroadcastChar(g)

	hit := e.detector.Push(g.Ch[0], g.Index)
	if hit == nil {
		return nil
	}

	e.hitsMu.Lock()
	e.hits = append(e.hits, *hit)
	e.hitsMu.Unlock()

	e.hub.BroadcastWord(*hit)
	metrics.WordsDetected.Inc()

	if err := e.wordStore.Add(ctx, *hit); err != nil {
		// The hit is still pending in memory; the word store's flush loop
		// retries. Not fatal to generation.
		logging.Warn().Err(err).Uint64("start", hit.Start).Msg("word persist deferred")
	}
	return nil
}

// UsersOnline returns the effective audience size driving the rate.
func (e *Engine) UsersOnline() int {
	users := e.usersFn()
	if e.cfg.TestMode {
		users += e.cfg.Baseline + e.jitterFn()
	}
	if users < 0 {
		users = 0
	}
	return users
}

// CharsPerMinute returns the current nominal throughput.
func (e *Engine) CharsPerMinute() float64 {
	return float64(e.UsersOnline()) * charsPerUserPerMinute
}

// HitCount returns the number of hits detected or recovered so far.
func (e *Engine) HitCount() int {
	e.hitsMu.RLock()
	defer e.hitsMu.RUnlock()
	return len(e.hits)
}

// Ready reports whether the engine has reconciled state and its last
// append succeeded. The readiness endpoint surfaces this.
func (e *Engine) Ready() bool {
	return e.ready.Load()
}

// UptimeSeconds returns seconds since the engine was constructed.
func (e *Engine) UptimeSeconds() int64 {
	return int64(time.Since(e.started).Seconds())
}

func (e *Engine) String() string {
	return "streaming-engine"
}
