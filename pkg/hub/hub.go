// Package hub fans messages out to websocket subscribers using the
// channel-based hub pattern. The service runs one hub per stream:
// "frames" carries binary JPEG previews, "events" carries JSON
// motion events.
package hub

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/nerostar/corpus-vision/internal/log"
)

// MessageKind selects the websocket frame type.
type MessageKind int

const (
	// JSON is a text frame carrying a JSON document.
	JSON MessageKind = iota
	// Binary is a raw binary frame, JPEG images here.
	Binary
)

// Message is one outbound broadcast.
type Message struct {
	Kind MessageKind
	Data []byte
}

// Hub maintains the subscriber set for one stream. Subscribers that
// cannot keep up are dropped rather than allowed to stall the rest.
type Hub struct {
	name   string
	logger *slog.Logger

	register   chan *Client
	unregister chan *Client
	broadcast  chan Message
	done       chan struct{}

	mu      sync.RWMutex
	clients map[*Client]bool
	running bool
}

// New creates a hub for the named stream.
func New(name string) *Hub {
	return &Hub{
		name:       name,
		logger:     log.Component("hub").With("stream", name),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan Message, 256),
		done:       make(chan struct{}),
		clients:    make(map[*Client]bool),
	}
}

// Run pumps registrations and broadcasts until ctx is cancelled,
// then disconnects every subscriber. Call in a goroutine.
func (h *Hub) Run(ctx context.Context) {
	h.mu.Lock()
	h.running = true
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		h.running = false
		for client := range h.clients {
			close(client.send)
			delete(h.clients, client)
		}
		h.mu.Unlock()
		close(h.done)
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			count := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("client connected", "total", count)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			count := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("client disconnected", "remaining", count)

		case msg := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- msg:
				default:
					// Too slow to keep up; cut them loose.
					close(client.send)
					delete(h.clients, client)
					h.logger.Warn("dropped slow client")
				}
			}
			h.mu.Unlock()
		}
	}
}

// Broadcast queues a message for every subscriber. Drops the message
// when the hub itself is backed up; a live stream has no use for
// stale frames.
func (h *Hub) Broadcast(msg Message) {
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("broadcast queue full, dropping message")
	}
}

// BroadcastJSON encodes v and broadcasts it as a text frame.
func (h *Hub) BroadcastJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	h.Broadcast(Message{Kind: JSON, Data: data})
	return nil
}

// BroadcastBinary broadcasts raw bytes, typically a JPEG frame.
func (h *Hub) BroadcastBinary(data []byte) {
	h.Broadcast(Message{Kind: Binary, Data: data})
}

// ClientCount returns the number of connected subscribers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// IsRunning reports whether the hub loop is active.
func (h *Hub) IsRunning() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.running
}
