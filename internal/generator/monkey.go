// Scriptorium - Typewriting Monkey Live Stream
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/scriptorium

// Package generator produces the deterministic character stream.
//
// The n-th character of the stream is a pure function of n, computed with a
// counter-based PRNG (SplitMix64 finalizer over the absolute index). Because
// the state is just the counter, resuming at any position after a restart is
// O(1) — no replay of the prefix, no stored generator state. The character
// written at index i is identical across runs for the same seed.
package generator

import (
	"context"
)

// Seed is the fixed stream seed. Changing it would fork the public stream,
// so it is compiled in rather than configured.
const Seed uint64 = 0x6d6f6e6b6579 // "monkey"

// alphabetSize is the number of output symbols ('a' through 'z').
const alphabetSize = 26

// Generated is a single generated character and its absolute stream index.
type Generated struct {
	Index uint64 `json:"index"`
	Ch    string `json:"ch"`
}

// Appender materializes generated characters into durable storage.
// chunk.Store satisfies this.
type Appender interface {
	Append(ctx context.Context, ch byte) (uint64, error)
}

// Monkey draws characters in sequence and appends each one to the store.
// Next is not safe for concurrent use; the engine is the single caller.
type Monkey struct {
	seed  uint64
	pos   uint64
	store Appender
}

// New creates a Monkey resumed at startPosition, so the first Next() emits
// the character at that absolute index. startPosition is normally the chunk
// store's recovered cursor.
func New(store Appender, startPosition uint64) *Monkey {
	return &Monkey{
		seed:  Seed,
		pos:   startPosition,
		store: store,
	}
}

// NewWithSeed creates a Monkey with a custom seed. Tests only; the live
// stream always uses Seed.
func NewWithSeed(store Appender, seed, startPosition uint64) *Monkey {
	return &Monkey{
		seed:  seed,
		pos:   startPosition,
		store: store,
	}
}

// Next draws the character at the current position, appends it to the store
// and advances. The returned index is the store's assigned absolute index,
// which equals the generator position as long as the generator is the
// stream's only writer.
func (m *Monkey) Next(ctx context.Context) (Generated, error) {
	ch := CharAt(m.seed, m.pos)

	idx, err := m.store.Append(ctx, ch)
	if err != nil {
		return Generated{}, err
	}
	m.pos++

	return Generated{Index: idx, Ch: string(ch)}, nil
}

// Position returns the absolute index of the next character to be drawn.
func (m *Monkey) Position() uint64 {
	return m.pos
}

// CharAt returns the character at absolute index n for the given seed.
// It is the pure function underlying the stream: mix the counter with the
// SplitMix64 finalizer and map the draw onto 'a'..'z'.
func CharAt(seed, n uint64) byte {
	return 'a' + byte(mix64(seed+(n+1)*0x9E3779B97F4A7C15)%alphabetSize)
}

// mix64 is the SplitMix64 output finalizer.
func mix64(z uint64) uint64 {
	z ^= z >> 30
	z *= 0xBF58476D1CE4E5B9
	z ^= z >> 27
	z *= 0x94D049BB133111EB
	z ^= z >> 31
	return z
}
