// Scriptorium - Typewriting Monkey Live Stream
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/scriptorium

// Package main is the entry point for the Scriptorium server.
//
// Scriptorium is a public "typewriting monkey" service: a deterministic
// pseudo-random stream of lowercase letters, generated at a rate
// proportional to the number of connected viewers, persisted durably,
// scanned for dictionary words, and multicast live over WebSocket. Any
// historical slice of the stream can be read back on demand.
//
// # Application Architecture
//
// The server initializes components in dependency order:
//
//  1. Configuration: Koanf v2 layered load (defaults, config.yaml, env)
//  2. Document store: BadgerDB with atomic multi-document batches
//  3. Chunk store: append-only text storage with a working chunk and LRU
//  4. Word store: batched persistence of detected dictionary words
//  5. Reconciliation: startup scan closes the gap between the word
//     high-water mark and the recovered cursor
//  6. Streaming engine + WebSocket hub, under suture supervision
//  7. HTTP server: REST status/back-fill endpoints and /ws
//
// # Configuration
//
// Environment variables (highest priority):
//   - HTTP_PORT: listen port (default 5500)
//   - TEST_MODE: simulate a baseline audience so the stream keeps moving
//     (default true)
//   - DATA_PATH: BadgerDB directory (default /data/scriptorium)
//   - DICTIONARY_PATH: newline-delimited word list (default
//     /data/dictionary.txt); startup fails without it
//   - LOG_LEVEL, LOG_FORMAT: logging configuration
//
// # Signal Handling
//
// SIGINT and SIGTERM trigger graceful shutdown: the supervision tree stops
// (engine first drains its tick loop, HTTP server finishes in-flight
// requests), then the word store and chunk store flush their final batches
// before the document store closes.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/tomtom215/scriptorium/internal/api"
	"github.com/tomtom215/scriptorium/internal/backend"
	"github.com/tomtom215/scriptorium/internal/chunk"
	"github.com/tomtom215/scriptorium/internal/config"
	"github.com/tomtom215/scriptorium/internal/engine"
	"github.com/tomtom215/scriptorium/internal/logging"
	"github.com/tomtom215/scriptorium/internal/supervisor"
	ws "github.com/tomtom215/scriptorium/internal/websocket"
	"github.com/tomtom215/scriptorium/internal/words"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Int("port", cfg.Server.Port).
		Bool("test_mode", cfg.Stream.TestMode).
		Str("data_path", cfg.Stream.DataPath).
		Msg("Starting Scriptorium")

	// Dictionary load failure is fatal: without it there is no detection.
	dict, err := words.LoadDictionary(cfg.Stream.DictionaryPath)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load dictionary")
	}

	be, err := backend.Open(cfg.Stream.DataPath)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open document store")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := chunk.Create(ctx, be, chunk.Options{})
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to recover chunk store")
	}

	wordStore := words.NewStore(be, words.StoreOptions{})

	hub := ws.NewHub()
	eng := engine.New(store, wordStore, hub, dict, engine.Config{
		TestMode: cfg.Stream.TestMode,
	})

	// Reconcile before accepting any subscriber; a failure here means the
	// word index cannot be trusted.
	if err := eng.Reconcile(ctx); err != nil {
		logging.Fatal().Err(err).Msg("Startup reconciliation failed")
	}

	handler := api.NewHandler(eng, store, dict, hub)
	httpServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           api.NewRouter(handler),
		ReadHeaderTimeout: cfg.Server.Timeout,
	}

	treeCfg := supervisor.DefaultTreeConfig()
	tree := supervisor.NewSupervisorTree(logging.NewSlogLogger(), treeCfg)
	tree.AddStreamService(hub)
	tree.AddStreamService(eng)
	tree.AddAPIService(supervisor.NewHTTPService(httpServer, treeCfg.ShutdownTimeout))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return tree.Serve(gctx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logging.Error().Err(err).Msg("Supervision tree stopped with error")
	}

	// Shutdown order matters: flush words, then the cursor, then close the
	// document store underneath both.
	if err := wordStore.Close(); err != nil {
		logging.Error().Err(err).Msg("Error closing word store")
	}
	if err := store.Close(); err != nil {
		logging.Error().Err(err).Msg("Error closing chunk store")
	}
	if err := be.Close(); err != nil {
		logging.Error().Err(err).Msg("Error closing document store")
	}

	logging.Info().Msg("Scriptorium stopped")
}
