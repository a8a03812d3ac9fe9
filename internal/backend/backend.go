// Scriptorium - Typewriting Monkey Live Stream
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/scriptorium

// Package backend provides the durable document store underneath the
// streaming engine. Documents are raw JSON bytes keyed by string IDs within
// named collections. The store guarantees atomic multi-document batch
// writes, which the chunk store relies on to persist a finished chunk and
// the cursor in one step.
package backend

import (
	"context"
	"fmt"
)

// Doc is a single document write within a batch.
type Doc struct {
	Collection string
	ID         string
	Data       []byte
}

// Backend is the durable document store interface.
//
// Implementations must provide:
//   - single-document reads and writes
//   - atomic multi-document batch writes (all or nothing)
//   - ascending key-order iteration over a collection
type Backend interface {
	// Get returns the document's raw bytes, or ErrNotFound.
	Get(ctx context.Context, collection, id string) ([]byte, error)

	// Put writes a single document, overwriting any existing one.
	Put(ctx context.Context, collection, id string, data []byte) error

	// PutBatch atomically writes all documents in one transaction.
	// Either every document is persisted or none are.
	PutBatch(ctx context.Context, docs []Doc) error

	// Scan iterates all documents in a collection in ascending key order.
	// Iteration stops at the first error returned by fn.
	Scan(ctx context.Context, collection string, fn func(id string, data []byte) error) error

	// Close releases the underlying storage.
	Close() error
}

// Errors
var (
	// ErrNotFound is returned by Get when the document does not exist.
	ErrNotFound = fmt.Errorf("document not found")

	// ErrClosed is returned when the backend has been closed.
	ErrClosed = fmt.Errorf("backend is closed")
)
