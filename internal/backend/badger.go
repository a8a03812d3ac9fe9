// Scriptorium - Typewriting Monkey Live Stream
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/scriptorium

package backend

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/tomtom215/scriptorium/internal/logging"
	"github.com/tomtom215/scriptorium/internal/metrics"
)

// BadgerBackend implements Backend using BadgerDB for durable storage.
// Badger transactions (db.Update) give the atomic multi-document batch
// semantics the chunk and word stores depend on.
//
// Keys are laid out as "<collection>/<id>", so a collection scan is a
// prefix iteration in ascending key order.
type BadgerBackend struct {
	db *badger.DB

	mu     sync.RWMutex
	closed bool

	closeTimeout time.Duration
}

// keySeparator joins collection and document ID into a Badger key.
const keySeparator = "/"

// Open creates (or reopens) a BadgerBackend at the given directory.
func Open(path string) (*BadgerBackend, error) {
	opts := badger.DefaultOptions(path)
	opts.SyncWrites = true
	// Reduce logging verbosity
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open BadgerDB: %w", err)
	}

	logging.Info().Str("path", path).Msg("document store opened")

	return &BadgerBackend{
		db:           db,
		closeTimeout: 30 * time.Second,
	}, nil
}

func docKey(collection, id string) []byte {
	return []byte(collection + keySeparator + id)
}

// Get returns the document's raw bytes, or ErrNotFound.
func (b *BadgerBackend) Get(ctx context.Context, collection, id string) ([]byte, error) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return nil, ErrClosed
	}
	b.mu.RUnlock()

	var data []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(docKey(collection, id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get document: %w", err)
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			metrics.BackendErrors.WithLabelValues("get").Inc()
		}
		return nil, err
	}
	return data, nil
}

// Put writes a single document, overwriting any existing one.
func (b *BadgerBackend) Put(ctx context.Context, collection, id string, data []byte) error {
	return b.PutBatch(ctx, []Doc{{Collection: collection, ID: id, Data: data}})
}

// PutBatch atomically writes all documents in one Badger transaction.
func (b *BadgerBackend) PutBatch(ctx context.Context, docs []Doc) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrClosed
	}
	b.mu.RUnlock()

	if len(docs) == 0 {
		return nil
	}

	start := time.Now()
	err := b.db.Update(func(txn *badger.Txn) error {
		for _, doc := range docs {
			if err := txn.Set(docKey(doc.Collection, doc.ID), doc.Data); err != nil {
				return fmt.Errorf("set %s/%s: %w", doc.Collection, doc.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		metrics.BackendErrors.WithLabelValues("put_batch").Inc()
		return fmt.Errorf("write batch: %w", err)
	}

	metrics.BackendBatchDuration.WithLabelValues(docs[0].Collection).Observe(time.Since(start).Seconds())
	return nil
}

// Scan iterates all documents in a collection in ascending key order.
func (b *BadgerBackend) Scan(ctx context.Context, collection string, fn func(id string, data []byte) error) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrClosed
	}
	b.mu.RUnlock()

	prefix := []byte(collection + keySeparator)

	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			item := it.Item()
			id := strings.TrimPrefix(string(item.Key()), collection+keySeparator)

			data, err := item.ValueCopy(nil)
			if err != nil {
				return fmt.Errorf("read %s: %w", item.Key(), err)
			}
			if err := fn(id, data); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		metrics.BackendErrors.WithLabelValues("scan").Inc()
		return err
	}
	return nil
}

// Close gracefully shuts down the backend with a timeout.
// A hung Badger close returns an error instead of blocking shutdown forever.
func (b *BadgerBackend) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	timeout := b.closeTimeout
	b.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		done <- b.db.Close()
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("close BadgerDB: %w", err)
		}
		logging.Info().Msg("document store closed")
		return nil
	case <-time.After(timeout):
		logging.Warn().Dur("timeout", timeout).Msg("BadgerDB close timed out")
		return fmt.Errorf("badgerdb close timeout after %v", timeout)
	}
}
