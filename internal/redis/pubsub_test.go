package redis

import (
	"encoding/json"
	"sync"
	"testing"

	"splitride/internal/realtime"
	"splitride/internal/service"
)

type recordingPublisher struct {
	mu    sync.Mutex
	rooms []string
	msgs  [][]byte
}

func (p *recordingPublisher) Publish(room string, msg []byte) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rooms = append(p.rooms, room)
	p.msgs = append(p.msgs, msg)
	return 1
}

func TestEventBus_DeliverRoutesEnvelopeToRoom(t *testing.T) {
	local := &recordingPublisher{}
	bus := NewEventBus(nil, "", local, nil)

	data, err := encodeEnvelope(realtime.UserRoom("u1"), service.Event{
		Name:    service.EventFareUpdated,
		Payload: service.FareUpdated{RideID: "r1", UserID: "u1", NewFare: 583.77, TotalFare: 1167.55},
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	bus.deliver(data)

	if len(local.rooms) != 1 || local.rooms[0] != "user:u1" {
		t.Fatalf("expected delivery to user:u1, got %v", local.rooms)
	}

	var m realtime.Message
	if err := json.Unmarshal(local.msgs[0], &m); err != nil {
		t.Fatalf("delivered message is not JSON: %v", err)
	}
	if m.Event != service.EventFareUpdated {
		t.Fatalf("expected fare_updated, got %s", m.Event)
	}

	var fare service.FareUpdated
	if err := json.Unmarshal(m.Payload, &fare); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if fare.TotalFare != 1167.55 {
		t.Fatalf("expected total 1167.55, got %v", fare.TotalFare)
	}
}

func TestEventBus_DeliverRoutesDriverFeed(t *testing.T) {
	local := &recordingPublisher{}
	bus := NewEventBus(nil, "", local, nil)

	data, err := encodeEnvelope(realtime.DriversRoom, service.Event{
		Name:    service.EventRideRequestClosed,
		Payload: service.RideRequestClosed{RideID: "r1", Status: "scheduled"},
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	bus.deliver(data)

	if len(local.rooms) != 1 || local.rooms[0] != realtime.DriversRoom {
		t.Fatalf("expected delivery to the drivers room, got %v", local.rooms)
	}
}

func TestEventBus_DeliverDropsMalformed(t *testing.T) {
	local := &recordingPublisher{}
	bus := NewEventBus(nil, "", local, nil)

	bus.deliver([]byte(`not json`))
	bus.deliver([]byte(`{"room":"","message":{}}`))

	if len(local.rooms) != 0 {
		t.Fatalf("expected nothing delivered, got %v", local.rooms)
	}
}

func TestNewEventBus_DefaultChannel(t *testing.T) {
	bus := NewEventBus(nil, "", &recordingPublisher{}, nil)
	if bus.channel != DefaultEventsChannel {
		t.Fatalf("expected default channel, got %s", bus.channel)
	}
}

func TestRideLockKey(t *testing.T) {
	if got := rideLockKey("r1"); got != "lock:ride:r1" {
		t.Fatalf("unexpected key %s", got)
	}
}
