package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/princekumarofficial/channel-media-service/internal/types"
)

// Hub fans pipeline events out to every connected admin client
type Hub struct {
	clients map[*Client]struct{}

	// Register requests from the clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	// Mutex to protect clients map
	mu sync.RWMutex

	// Events waiting to be fanned out
	broadcast chan *types.Event

	// Closed when Run returns
	done chan struct{}
}

// NewHub creates a new WebSocket hub
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *types.Event, 64),
		done:       make(chan struct{}),
	}
}

// Run starts the hub's main loop. It closes every client when ctx ends.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = struct{}{}
			h.mu.Unlock()
			slog.Info("WebSocket client connected", slog.String("caller", client.caller))

		case client := <-h.unregister:
			h.remove(client)

		case event := <-h.broadcast:
			h.fanOut(event)
		}
	}
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
		slog.Info("WebSocket client disconnected", slog.String("caller", client.caller))
	}
}

// RegisterClient registers a new client
func (h *Hub) RegisterClient(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
		close(client.send)
	}
}

// UnregisterClient unregisters a client
func (h *Hub) UnregisterClient(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Broadcast queues an event for every connected client
func (h *Hub) Broadcast(event *types.Event) {
	select {
	case h.broadcast <- event:
	default:
		slog.Warn("Broadcast channel is full, dropping event", slog.String("type", string(event.Type)))
	}
}

// fanOut drops clients whose send buffer is full.
func (h *Hub) fanOut(event *types.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		slog.Error("Failed to encode event", slog.String("error", err.Error()))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		select {
		case client.send <- data:
		default:
			slog.Warn("WebSocket client too slow, disconnecting", slog.String("caller", client.caller))
			delete(h.clients, client)
			close(client.send)
		}
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.clients)
}
