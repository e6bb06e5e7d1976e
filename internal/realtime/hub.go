// Package realtime fans ride events out to websocket clients grouped in
// rooms: one room per ride, one per user and a shared room for drivers.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"splitride/internal/logging"
	"splitride/internal/observability"
	"splitride/internal/service"
)

const (
	rideRoomPrefix = "ride:"
	userRoomPrefix = "user:"

	// DriversRoom holds every connected driver and carries the open
	// request feed.
	DriversRoom = "drivers"
)

// RideRoom returns the room name of everyone viewing rideID.
func RideRoom(rideID string) string { return rideRoomPrefix + rideID }

// UserRoom returns the personal room of userID.
func UserRoom(userID string) string { return userRoomPrefix + userID }

// Message is the wire form of an event sent to clients.
type Message struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// Encode serializes an event for delivery.
func Encode(event service.Event) ([]byte, error) {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", event.Name, err)
	}
	return json.Marshal(Message{Event: event.Name, Payload: payload})
}

// Hub tracks connected clients and their room memberships. Publishing holds
// the hub lock while enqueueing, so every member of a room sees that room's
// messages in the same order they were published.
type Hub struct {
	mu      sync.Mutex
	rooms   map[string]map[*Client]struct{}
	clients map[*Client]struct{}
	logger  *slog.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		rooms:   make(map[string]map[*Client]struct{}),
		clients: make(map[*Client]struct{}),
		logger:  logging.OrDefault(logger),
	}
}

// Ensure Hub implements service.Broadcaster.
var _ service.Broadcaster = (*Hub)(nil)

// BroadcastToRide delivers event to every client viewing rideID.
func (h *Hub) BroadcastToRide(_ context.Context, rideID string, event service.Event) error {
	msg, err := Encode(event)
	if err != nil {
		return err
	}
	h.Publish(RideRoom(rideID), msg)
	return nil
}

// NotifyUser delivers event to every connection of userID.
func (h *Hub) NotifyUser(_ context.Context, userID string, event service.Event) error {
	msg, err := Encode(event)
	if err != nil {
		return err
	}
	h.Publish(UserRoom(userID), msg)
	return nil
}

// BroadcastToDrivers delivers event to every connected driver.
func (h *Hub) BroadcastToDrivers(_ context.Context, event service.Event) error {
	msg, err := Encode(event)
	if err != nil {
		return err
	}
	h.Publish(DriversRoom, msg)
	return nil
}

// Publish enqueues msg for every member of room and returns how many clients
// received it. A client whose buffer is full is disconnected rather than
// allowed to block the room.
func (h *Hub) Publish(room string, msg []byte) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	delivered := 0
	for c := range h.rooms[room] {
		select {
		case c.send <- msg:
			delivered++
		default:
			h.logger.Warn("dropping slow websocket client", "client_id", c.id, "room", room)
			h.removeLocked(c)
		}
	}
	return delivered
}

// Register adds a client to the hub.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[c] = struct{}{}
	observability.WSConnections.Inc()
}

// Unregister removes a client from every room and closes its send queue.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.removeLocked(c)
}

// Join subscribes c to room.
func (h *Hub) Join(c *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[c]; !ok {
		return
	}
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[*Client]struct{})
		h.rooms[room] = members
	}
	members[c] = struct{}{}
	c.rooms[room] = struct{}{}
}

// Leave unsubscribes c from room.
func (h *Hub) Leave(c *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.leaveLocked(c, room)
}

// RoomSize returns the number of clients in room.
func (h *Hub) RoomSize(room string) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return len(h.rooms[room])
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		h.removeLocked(c)
	}
	h.logger.Info("all websocket clients disconnected")
}

func (h *Hub) leaveLocked(c *Client, room string) {
	if members, ok := h.rooms[room]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	delete(c.rooms, room)
}

func (h *Hub) removeLocked(c *Client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	for room := range c.rooms {
		h.leaveLocked(c, room)
	}
	delete(h.clients, c)
	close(c.send)
	observability.WSConnections.Dec()
}
