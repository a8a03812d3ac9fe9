// Scriptorium - Typewriting Monkey Live Stream
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/scriptorium

// Package websocket fans the live stream out to subscribers.
//
// The hub is the single goroutine that owns both the subscriber set and the
// snapshot sent to new subscribers. Because registration and broadcasts are
// processed by the same loop, a subscriber's snapshot (cursor + init-words)
// is always consistent with the live events that follow it: the first char
// a subscriber receives has index >= the cursor it was told.
package websocket

import (
	"context"
	"sort"
	"sync"

	"github.com/tomtom215/scriptorium/internal/generator"
	"github.com/tomtom215/scriptorium/internal/logging"
	"github.com/tomtom215/scriptorium/internal/metrics"
	"github.com/tomtom215/scriptorium/internal/words"
)

// Message types for WebSocket communication
const (
	MessageTypeCursor    = "cursor"
	MessageTypeInitWords = "init-words"
	MessageTypeChar      = "char"
	MessageTypeWord      = "word"
)

// Message represents a WebSocket message
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Hub maintains the set of active subscribers and broadcasts stream events
// to them. It also keeps a replica of the stream head — the cursor after the
// last broadcast char and every word hit broadcast so far — which is the
// source of the snapshot sent to each new subscriber.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan Message
	Register   chan *Client
	Unregister chan *Client
	mu         sync.RWMutex

	// Snapshot replica. Owned by the hub loop after Seed.
	cursor uint64
	hits   []words.Hit
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	return &Hub{
		broadcast:  make(chan Message, 1024),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
	}
}

// Seed initializes the snapshot replica from reconciled startup state.
// Must be called before the hub starts serving.
func (h *Hub) Seed(cursor uint64, hits []words.Hit) {
	h.cursor = cursor
	h.hits = append([]words.Hit(nil), hits...)
}

// RunWithContext runs the hub loop until the context is canceled. Designed
// for suture supervision.
//
// Selection is priority-based: shutdown first, then subscriber lifecycle,
// then broadcasts. Handling lifecycle ahead of broadcasts keeps the
// subscriber set consistent before messages are fanned out.
func (h *Hub) RunWithContext(ctx context.Context) error {
	for {
		// Priority 1: shutdown (non-blocking check)
		select {
		case <-ctx.Done():
			h.shutdown(ctx)
			return ctx.Err()
		default:
		}

		// Priority 2: subscriber lifecycle (non-blocking check)
		select {
		case client := <-h.Register:
			h.register(client)
			continue
		case client := <-h.Unregister:
			h.unregister(client)
			continue
		default:
		}

		// Priority 3: broadcasts, or block until anything arrives
		select {
		case <-ctx.Done():
			h.shutdown(ctx)
			return ctx.Err()
		case client := <-h.Register:
			h.register(client)
		case client := <-h.Unregister:
			h.unregister(client)
		case message := <-h.broadcast:
			h.apply(message)
			h.fanOut(message)
		}
	}
}

// register sends the snapshot to the new subscriber, then adds it to the
// broadcast set. Both happen in the hub loop, so no live event can slip in
// between snapshot and first delivery.
func (h *Hub) register(client *Client) {
	client.send <- Message{Type: MessageTypeCursor, Data: h.cursor}
	client.send <- Message{Type: MessageTypeInitWords, Data: h.snapshotHits()}

	h.mu.Lock()
	h.clients[client] = true
	total := len(h.clients)
	h.mu.Unlock()

	metrics.WSClients.Set(float64(total))
	logging.Info().Int("total_clients", total).Msg("websocket client connected")
}

func (h *Hub) unregister(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
	total := len(h.clients)
	h.mu.Unlock()

	metrics.WSClients.Set(float64(total))
	logging.Info().Int("total_clients", total).Msg("websocket client disconnected")
}

// snapshotHits returns a copy of the replica's hit list for an init-words
// message. The copy keeps the slice safe from later appends.
func (h *Hub) snapshotHits() []words.Hit {
	hits := make([]words.Hit, len(h.hits))
	copy(hits, h.hits)
	return hits
}

// apply advances the snapshot replica with a broadcast event.
func (h *Hub) apply(message Message) {
	switch message.Type {
	case MessageTypeChar:
		if g, ok := message.Data.(generator.Generated); ok {
			h.cursor = g.Index + 1
		}
	case MessageTypeWord:
		if hit, ok := message.Data.(words.Hit); ok {
			h.hits = append(h.hits, hit)
		}
	}
}

// fanOut sends a message to all subscribers in a deterministic order.
// Subscribers whose send buffer is full are dropped; the transport layer
// handles the resulting disconnect.
func (h *Hub) fanOut(message Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	sort.Slice(clients, func(i, j int) bool {
		return clients[i].id < clients[j].id
	})

	var toRemove []*Client
	for _, client := range clients {
		select {
		case client.send <- message:
		default:
			toRemove = append(toRemove, client)
		}
	}

	for _, client := range toRemove {
		close(client.send)
		delete(h.clients, client)
	}
	if len(toRemove) > 0 {
		metrics.WSClients.Set(float64(len(h.clients)))
		logging.Warn().Int("dropped", len(toRemove)).Msg("dropped slow websocket clients")
	}
}

// shutdown closes all subscribers and logs the reason.
func (h *Hub) shutdown(ctx context.Context) {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	sort.Slice(clients, func(i, j int) bool {
		return clients[i].id < clients[j].id
	})
	for _, client := range clients {
		close(client.send)
		delete(h.clients, client)
	}
	h.mu.Unlock()

	metrics.WSClients.Set(0)
	logging.Info().
		Str("component", "websocket-hub").
		AnErr("reason", ctx.Err()).
		Int("clients_closed", len(clients)).
		Msg("websocket hub stopped")
}

// BroadcastChar sends a generated character to all subscribers.
func (h *Hub) BroadcastChar(g generator.Generated) {
	select {
	case h.broadcast <- Message{Type: MessageTypeChar, Data: g}:
	default:
		logging.Warn().Msg("broadcast channel full, dropping char message")
	}
}

// BroadcastWord sends a detected word hit to all subscribers.
func (h *Hub) BroadcastWord(hit words.Hit) {
	select {
	case h.broadcast <- Message{Type: MessageTypeWord, Data: hit}:
	default:
		logging.Warn().Msg("broadcast channel full, dropping word message")
	}
}

// GetClientCount returns the number of connected subscribers.
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Serve implements suture.Service.
func (h *Hub) Serve(ctx context.Context) error {
	return h.RunWithContext(ctx)
}

func (h *Hub) String() string {
	return "websocket-hub"
}
