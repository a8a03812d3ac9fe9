// Scriptorium - Typewriting Monkey Live Stream
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/scriptorium

// Package api exposes the public HTTP surface: stream status, historical
// back-fill reads, and the WebSocket subscription endpoint.
package api

import (
	"net/http"
	"strconv"

	"github.com/gorilla/websocket"

	"github.com/tomtom215/scriptorium/internal/chunk"
	"github.com/tomtom215/scriptorium/internal/engine"
	"github.com/tomtom215/scriptorium/internal/logging"
	ws "github.com/tomtom215/scriptorium/internal/websocket"
	"github.com/tomtom215/scriptorium/internal/words"
)

// Handler carries the wired core components for the HTTP handlers.
type Handler struct {
	engine   *engine.Engine
	store    *chunk.Store
	dict     *words.Dictionary
	hub      *ws.Hub
	upgrader websocket.Upgrader
}

// NewHandler creates a Handler over the wired core.
func NewHandler(e *engine.Engine, store *chunk.Store, dict *words.Dictionary, hub *ws.Hub) *Handler {
	return &Handler{
		engine: e,
		store:  store,
		dict:   dict,
		hub:    hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The stream is public; subscribers are anonymous.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// statusResponse is the /v1/status payload.
type statusResponse struct {
	Cursor         uint64  `json:"cursor"`
	Chunks         uint64  `json:"chunks"`
	DictionarySize int     `json:"dictionarySize"`
	Users          int     `json:"users"`
	CharsPerMinute float64 `json:"charsPerMinute"`
	UptimeSec      int64   `json:"uptimeSec"`
	WordsFound     int     `json:"wordsFound"`
}

// statsResponse is the /v1/stats payload.
type statsResponse struct {
	Users          int     `json:"users"`
	CharsPerMinute float64 `json:"charsPerMinute"`
}

// Status reports the stream head and service vitals.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, statusResponse{
		Cursor:         h.store.Cursor(),
		Chunks:         h.store.ChunkCount(),
		DictionarySize: h.dict.Size(),
		Users:          h.engine.UsersOnline(),
		CharsPerMinute: h.engine.CharsPerMinute(),
		UptimeSec:      h.engine.UptimeSeconds(),
		WordsFound:     h.engine.HitCount(),
	})
}

// Stats reports the audience size and throughput.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, statsResponse{
		Users:          h.engine.UsersOnline(),
		CharsPerMinute: h.engine.CharsPerMinute(),
	})
}

// Chars serves a historical slice of the stream as text/plain.
// start and len are validated strictly; the body may be shorter than
// requested when the range extends past the cursor.
func (h *Handler) Chars(w http.ResponseWriter, r *http.Request) {
	start, err := strconv.ParseInt(r.URL.Query().Get("start"), 10, 64)
	if err != nil || start < 0 {
		respondError(w, http.StatusBadRequest, "INVALID_START", "start must be a non-negative integer")
		return
	}

	length, err := strconv.ParseInt(r.URL.Query().Get("len"), 10, 64)
	if err != nil || length <= 0 {
		respondError(w, http.StatusBadRequest, "INVALID_LEN", "len must be a positive integer")
		return
	}
	if length > chunk.MaxSliceLen {
		respondError(w, http.StatusBadRequest, "INVALID_LEN", "len exceeds the maximum slice size")
		return
	}

	text, err := h.store.ReadSlice(r.Context(), uint64(start), int(length))
	if err != nil {
		logging.Error().Err(err).Int64("start", start).Int64("len", length).Msg("slice read failed")
		respondError(w, http.StatusInternalServerError, "READ_FAILED", "failed to read the stream")
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if _, err := w.Write([]byte(text)); err != nil {
		logging.Error().Err(err).Msg("failed to write slice response")
	}
}

// WebSocket upgrades the connection and registers the subscriber.
// Subscribers are refused until the engine has reconciled startup state.
func (h *Handler) WebSocket(w http.ResponseWriter, r *http.Request) {
	if !h.engine.Ready() {
		respondError(w, http.StatusServiceUnavailable, "NOT_READY", "stream is reconciling, try again shortly")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Error().Err(err).Msg("WebSocket upgrade error")
		return
	}

	client := ws.NewClient(h.hub, conn)
	h.hub.Register <- client
	client.Start()
}

// HealthLive is the liveness probe: the process is up.
func (h *Handler) HealthLive(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// HealthReady is the readiness probe: reconciled and generating. It turns
// 503 when a fatal store failure has halted generation.
func (h *Handler) HealthReady(w http.ResponseWriter, r *http.Request) {
	if !h.engine.Ready() {
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_ready"})
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// Health combines liveness and readiness for dashboards.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	if !h.engine.Ready() {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	respondJSON(w, code, map[string]interface{}{
		"status": status,
		"cursor": h.store.Cursor(),
		"users":  h.engine.UsersOnline(),
	})
}
