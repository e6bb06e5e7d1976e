package realtime

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 64
)

// Client actions.
const (
	ActionJoinRide     = "join_ride"
	ActionLeaveRide    = "leave_ride"
	ActionJoinUserRoom = "join_user_room"
)

// Command is a message sent by a client.
type Command struct {
	Action string `json:"action"`
	RideID string `json:"rideId,omitempty"`
	UserID string `json:"userId,omitempty"`
}

var errForeignUserRoom = errors.New("cannot join another user's room")

// Client is one websocket connection. Its identity, when known, comes from
// the authenticated request that opened it.
type Client struct {
	id     string
	userID string
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	rooms  map[string]struct{} // guarded by hub.mu
}

func newClient(hub *Hub, conn *websocket.Conn, userID string) *Client {
	return &Client{
		id:     uuid.New().String(),
		userID: userID,
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		rooms:  make(map[string]struct{}),
	}
}

// Serve runs conn until it closes. An identified client is subscribed to its
// own user room straight away, and drivers also join the request feed.
func (h *Hub) Serve(conn *websocket.Conn, userID string, driver bool) {
	c := newClient(h, conn, userID)
	h.Register(c)
	if userID != "" {
		h.Join(c, UserRoom(userID))
		if driver {
			h.Join(c, DriversRoom)
		}
	}

	go c.writePump()
	c.readPump()
}

// handle applies one client command.
func (c *Client) handle(cmd Command) error {
	switch cmd.Action {
	case ActionJoinRide:
		if cmd.RideID == "" {
			return errors.New("rideId is required")
		}
		c.hub.Join(c, RideRoom(cmd.RideID))
	case ActionLeaveRide:
		if cmd.RideID == "" {
			return errors.New("rideId is required")
		}
		c.hub.Leave(c, RideRoom(cmd.RideID))
	case ActionJoinUserRoom:
		if c.userID == "" || cmd.UserID != c.userID {
			return errForeignUserRoom
		}
		c.hub.Join(c, UserRoom(cmd.UserID))
	default:
		return errors.New("unknown action " + cmd.Action)
	}
	return nil
}

func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var cmd Command
		if err := c.conn.ReadJSON(&cmd); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Debug("websocket read failed", "client_id", c.id, "error", err)
			}
			return
		}
		if err := c.handle(cmd); err != nil {
			c.reply("error", map[string]string{"message": err.Error()})
		}
	}
}

// reply queues a direct response to this client only.
func (c *Client) reply(event string, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		return
	}
	msg, err := json.Marshal(Message{Event: event, Payload: body})
	if err != nil {
		return
	}

	c.hub.mu.Lock()
	defer c.hub.mu.Unlock()
	if _, ok := c.hub.clients[c]; !ok {
		return
	}
	select {
	case c.send <- msg:
	default:
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
