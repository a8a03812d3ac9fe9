// Scriptorium - Typewriting Monkey Live Stream
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/scriptorium

// Package words recognizes dictionary words in the character stream and
// persists the hits.
//
// The detector is a sliding-window longest-match recognizer fed one
// character at a time by the streaming engine. Detected hits are batched
// into the document store, and a startup scanner replays the tail of the
// stream after a restart so no hit is lost between the last word flush and
// the last cursor flush.
package words

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/tomtom215/scriptorium/internal/logging"
)

const (
	// MinWordLen is the shortest word worth reporting.
	MinWordLen = 3

	// MaxWordLen bounds the detector's sliding window.
	MaxWordLen = 12
)

// Dictionary is an immutable set of lowercase words with lengths in
// [MinWordLen, MaxWordLen]. It is loaded once at startup.
type Dictionary struct {
	words map[string]struct{}
}

// LoadDictionary reads a newline-delimited word list. Entries are
// lowercased; entries outside the length bounds are dropped.
func LoadDictionary(path string) (*Dictionary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dictionary: %w", err)
	}
	defer f.Close() //nolint:errcheck // read-only file

	var entries []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		entries = append(entries, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read dictionary: %w", err)
	}

	d := NewDictionary(entries)
	logging.Info().Str("path", path).Int("words", d.Size()).Msg("dictionary loaded")
	return d, nil
}

// NewDictionary builds a Dictionary from the given entries, applying the
// same normalization and length filtering as LoadDictionary.
func NewDictionary(entries []string) *Dictionary {
	words := make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		w := strings.ToLower(strings.TrimSpace(entry))
		if len(w) < MinWordLen || len(w) > MaxWordLen {
			continue
		}
		words[w] = struct{}{}
	}
	return &Dictionary{words: words}
}

// Contains reports whether w is in the dictionary.
func (d *Dictionary) Contains(w string) bool {
	_, ok := d.words[w]
	return ok
}

// Size returns the number of dictionary entries.
func (d *Dictionary) Size() int {
	return len(d.words)
}
