package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"splitride/internal/logging"
	"splitride/internal/realtime"
	"splitride/internal/service"
)

// DefaultEventsChannel is the pub/sub channel ride events travel on.
const DefaultEventsChannel = "splitride:events"

// envelope is what travels over the channel: an encoded client message and
// the room it is addressed to.
type envelope struct {
	Room    string          `json:"room"`
	Message json.RawMessage `json:"message"`
}

// Publisher delivers encoded messages to a room on the local instance.
type Publisher interface {
	Publish(room string, msg []byte) int
}

// EventBus relays ride events between instances over Redis pub/sub so that
// a client connected to any instance receives them. Publishing and local
// delivery preserve per-room order because a single subscriber goroutine
// consumes the channel.
type EventBus struct {
	client  *redis.Client
	channel string
	local   Publisher
	logger  *slog.Logger
}

// NewEventBus creates a new EventBus delivering to local.
func NewEventBus(client *redis.Client, channel string, local Publisher, logger *slog.Logger) *EventBus {
	if channel == "" {
		channel = DefaultEventsChannel
	}
	return &EventBus{
		client:  client,
		channel: channel,
		local:   local,
		logger:  logging.OrDefault(logger),
	}
}

// Ensure EventBus implements service.Broadcaster.
var _ service.Broadcaster = (*EventBus)(nil)

// BroadcastToRide implements service.Broadcaster.
func (b *EventBus) BroadcastToRide(ctx context.Context, rideID string, event service.Event) error {
	return b.publish(ctx, realtime.RideRoom(rideID), event)
}

// NotifyUser implements service.Broadcaster.
func (b *EventBus) NotifyUser(ctx context.Context, userID string, event service.Event) error {
	return b.publish(ctx, realtime.UserRoom(userID), event)
}

// BroadcastToDrivers implements service.Broadcaster.
func (b *EventBus) BroadcastToDrivers(ctx context.Context, event service.Event) error {
	return b.publish(ctx, realtime.DriversRoom, event)
}

func (b *EventBus) publish(ctx context.Context, room string, event service.Event) error {
	data, err := encodeEnvelope(room, event)
	if err != nil {
		return err
	}
	if err := b.client.Publish(ctx, b.channel, data).Err(); err != nil {
		return fmt.Errorf("publish %s to %s: %w", event.Name, room, err)
	}
	return nil
}

// Run subscribes to the channel and delivers every message locally until ctx
// is done.
func (b *EventBus) Run(ctx context.Context) error {
	sub := b.client.Subscribe(ctx, b.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", b.channel, err)
	}
	b.logger.Info("event bus subscribed", "channel", b.channel)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			b.deliver([]byte(msg.Payload))
		}
	}
}

func (b *EventBus) deliver(data []byte) {
	env, err := decodeEnvelope(data)
	if err != nil {
		b.logger.Warn("discarding malformed event", "channel", b.channel, "error", err)
		return
	}
	b.local.Publish(env.Room, env.Message)
}

func encodeEnvelope(room string, event service.Event) ([]byte, error) {
	msg, err := realtime.Encode(event)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{Room: room, Message: msg})
}

func decodeEnvelope(data []byte) (envelope, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return envelope{}, err
	}
	if env.Room == "" || len(env.Message) == 0 {
		return envelope{}, fmt.Errorf("envelope missing room or message")
	}
	return env, nil
}
