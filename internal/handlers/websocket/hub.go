package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/csc13008-assignments/csc13008-jewelbid-sub000/pkg/types"
)

// Hub tracks connected clients by user and the auctions each one watches.
// It is also a notification sink that pushes events to the recipient's
// connections.
type Hub struct {
	mu       sync.RWMutex
	users    map[string]map[*Client]struct{}
	watchers map[string]map[*Client]struct{}
}

func NewHub() *Hub {
	return &Hub{
		users:    make(map[string]map[*Client]struct{}),
		watchers: make(map[string]map[*Client]struct{}),
	}
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	add(h.users, c.ID, c)
}

// Unregister forgets c everywhere.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	remove(h.users, c.ID, c)
	for auctionID := range h.watchers {
		remove(h.watchers, auctionID, c)
	}
}

// Watch subscribes c to state changes of auctionID.
func (h *Hub) Watch(auctionID string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	add(h.watchers, auctionID, c)
}

// Broadcast sends message to every client watching auctionID.
func (h *Hub) Broadcast(auctionID string, message []byte) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	sent := 0
	for c := range h.watchers[auctionID] {
		if c.Enqueue(message) {
			sent++
		}
	}
	return sent
}

// SendTo sends message to every connection of userID.
func (h *Hub) SendTo(userID string, message []byte) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	sent := 0
	for c := range h.users[userID] {
		if c.Enqueue(message) {
			sent++
		}
	}
	return sent
}

// Connected is the number of clients of userID.
func (h *Hub) Connected(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users[userID])
}

// Deliver pushes a notification frame to the recipient. Users without an open
// connection simply miss it.
func (h *Hub) Deliver(_ context.Context, event types.Event) error {
	frame, err := json.Marshal(Frame{Type: FrameNotification, Data: event})
	if err != nil {
		return fmt.Errorf("error encoding notification: %w", err)
	}
	h.SendTo(event.RecipientID, frame)
	return nil
}

func add(index map[string]map[*Client]struct{}, key string, c *Client) {
	set, ok := index[key]
	if !ok {
		set = make(map[*Client]struct{})
		index[key] = set
	}
	set[c] = struct{}{}
}

func remove(index map[string]map[*Client]struct{}, key string, c *Client) {
	set, ok := index[key]
	if !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(index, key)
	}
}
