// Scriptorium - Typewriting Monkey Live Stream
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/scriptorium

package words

import (
	"context"
	"fmt"

	"github.com/tomtom215/scriptorium/internal/chunk"
	"github.com/tomtom215/scriptorium/internal/logging"
)

// Reconcile re-runs detection over the stream gap [high, cursor) and
// returns the hits that were generated but never persisted — for example
// hits detected after the last word flush but before the last cursor flush.
//
// Reading starts MaxWordLen-1 characters before the high-water mark so a
// word ending at or after high is seen with its full left context; hits
// that start before high were already persisted and are filtered out.
func Reconcile(ctx context.Context, store *chunk.Store, dict *Dictionary, high uint64) ([]Hit, error) {
	cursor := store.Cursor()
	if high >= cursor {
		return nil, nil
	}

	var from uint64
	if high > MaxWordLen-1 {
		from = high - (MaxWordLen - 1)
	}

	det := NewDetector(dict)
	sliceLen := store.ChunkSize()

	var found []Hit
	for pos := from; pos < cursor; {
		text, err := store.ReadSlice(ctx, pos, sliceLen)
		if err != nil {
			return nil, fmt.Errorf("read slice at %d: %w", pos, err)
		}
		if text == "" {
			break
		}

		for i := 0; i < len(text); i++ {
			if hit := det.Push(text[i], pos+uint64(i)); hit != nil && hit.Start >= high {
				found = append(found, *hit)
			}
		}
		pos += uint64(len(text))
	}

	logging.Info().
		Uint64("from", high).
		Uint64("to", cursor).
		Int("recovered_hits", len(found)).
		Msg("startup scan complete")

	return found, nil
}
