package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"splitride/internal/service"
)

func registeredClient(h *Hub, userID string) *Client {
	c := newClient(h, nil, userID)
	h.Register(c)
	return c
}

func drain(c *Client) []string {
	var out []string
	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return out
			}
			var m Message
			_ = json.Unmarshal(msg, &m)
			var seq string
			_ = json.Unmarshal(m.Payload, &seq)
			out = append(out, seq)
		default:
			return out
		}
	}
}

func TestHub_RoomOrderIsConsistentAcrossMembers(t *testing.T) {
	t.Parallel()

	h := NewHub(nil)
	a := registeredClient(h, "")
	b := registeredClient(h, "")
	h.Join(a, RideRoom("r1"))
	h.Join(b, RideRoom("r1"))

	// Two concurrent emitters; every member must observe one common order.
	var wg sync.WaitGroup
	for w := 0; w < 2; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				_ = h.BroadcastToRide(context.Background(), "r1", service.Event{
					Name:    service.EventRideUpdated,
					Payload: fmt.Sprintf("%d-%d", w, i),
				})
			}
		}(w)
	}
	wg.Wait()

	gotA, gotB := drain(a), drain(b)
	if len(gotA) != 40 || len(gotB) != 40 {
		t.Fatalf("expected 40 messages each, got %d and %d", len(gotA), len(gotB))
	}
	for i := range gotA {
		if gotA[i] != gotB[i] {
			t.Fatalf("order diverged at %d: %s vs %s", i, gotA[i], gotB[i])
		}
	}

	// Each emitter's own messages stay in emission order.
	last := map[byte]int{'0': -1, '1': -1}
	for _, seq := range gotA {
		var w, i int
		fmt.Sscanf(seq, "%d-%d", &w, &i)
		key := byte('0' + w)
		if i <= last[key] {
			t.Fatalf("emitter %d out of order: %d after %d", w, i, last[key])
		}
		last[key] = i
	}
}

func TestHub_ScopesAreIsolated(t *testing.T) {
	t.Parallel()

	h := NewHub(nil)
	viewer := registeredClient(h, "")
	user := registeredClient(h, "u1")
	h.Join(viewer, RideRoom("r1"))
	h.Join(user, UserRoom("u1"))

	_ = h.NotifyUser(context.Background(), "u1", service.Event{Name: service.EventFareUpdated, Payload: "fare"})
	_ = h.BroadcastToRide(context.Background(), "r2", service.Event{Name: service.EventRideUpdated, Payload: "other"})

	if got := drain(viewer); len(got) != 0 {
		t.Fatalf("ride viewer should not get user events, got %v", got)
	}
	if got := drain(user); len(got) != 1 || got[0] != "fare" {
		t.Fatalf("expected one fare event, got %v", got)
	}
}

func TestHub_DriverFeedReachesOnlyDrivers(t *testing.T) {
	t.Parallel()

	h := NewHub(nil)
	driver := registeredClient(h, "d1")
	passenger := registeredClient(h, "p1")
	h.Join(driver, DriversRoom)
	h.Join(passenger, UserRoom("p1"))

	_ = h.BroadcastToDrivers(context.Background(), service.Event{Name: service.EventNewRideRequest, Payload: "r1"})

	if got := drain(driver); len(got) != 1 || got[0] != "r1" {
		t.Fatalf("expected one request on the driver feed, got %v", got)
	}
	if got := drain(passenger); len(got) != 0 {
		t.Fatalf("passenger should not see the driver feed, got %v", got)
	}
}

func TestFanout_BroadcastToDrivers(t *testing.T) {
	t.Parallel()

	h := NewHub(nil)
	c := registeredClient(h, "d1")
	h.Join(c, DriversRoom)

	boom := errors.New("boom")
	err := Fanout{h, failing{err: boom}}.BroadcastToDrivers(context.Background(), service.Event{Name: service.EventNewRideRequest, Payload: "r1"})
	if !errors.Is(err, boom) {
		t.Fatalf("expected joined error, got %v", err)
	}
	if got := drain(c); len(got) != 1 {
		t.Fatalf("expected hub delivery, got %v", got)
	}
}

func TestHub_LeaveAndUnregister(t *testing.T) {
	t.Parallel()

	h := NewHub(nil)
	c := registeredClient(h, "")
	h.Join(c, RideRoom("r1"))
	h.Leave(c, RideRoom("r1"))

	if n := h.Publish(RideRoom("r1"), []byte(`{}`)); n != 0 {
		t.Fatalf("expected no delivery after leave, got %d", n)
	}

	h.Join(c, RideRoom("r1"))
	h.Unregister(c)
	if h.RoomSize(RideRoom("r1")) != 0 {
		t.Fatal("expected room to be empty after unregister")
	}
	if _, ok := <-c.send; ok {
		t.Fatal("expected send queue to be closed")
	}

	// Joining after unregister is ignored.
	h.Join(c, RideRoom("r1"))
	if h.RoomSize(RideRoom("r1")) != 0 {
		t.Fatal("unregistered client must not rejoin")
	}
}

func TestHub_SlowClientIsDropped(t *testing.T) {
	t.Parallel()

	h := NewHub(nil)
	slow := registeredClient(h, "")
	h.Join(slow, RideRoom("r1"))

	for i := 0; i < sendBuffer; i++ {
		h.Publish(RideRoom("r1"), []byte(`{}`))
	}
	if n := h.Publish(RideRoom("r1"), []byte(`{}`)); n != 0 {
		t.Fatalf("expected overflow to drop the client, delivered %d", n)
	}
	if h.RoomSize(RideRoom("r1")) != 0 {
		t.Fatal("expected slow client to be removed")
	}
}

func TestClient_HandleRejectsForeignUserRoom(t *testing.T) {
	t.Parallel()

	h := NewHub(nil)
	c := registeredClient(h, "u1")

	if err := c.handle(Command{Action: ActionJoinUserRoom, UserID: "u2"}); !errors.Is(err, errForeignUserRoom) {
		t.Fatalf("expected errForeignUserRoom, got %v", err)
	}
	if err := c.handle(Command{Action: ActionJoinUserRoom, UserID: "u1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := c.handle(Command{Action: "dance"}); err == nil {
		t.Fatal("expected unknown action error")
	}
	if err := c.handle(Command{Action: ActionJoinRide}); err == nil {
		t.Fatal("expected missing rideId error")
	}
}

func TestFanout_DeliversToAllAndJoinsErrors(t *testing.T) {
	t.Parallel()

	h := NewHub(nil)
	c := registeredClient(h, "u1")
	h.Join(c, UserRoom("u1"))

	boom := errors.New("boom")
	f := Fanout{failing{err: boom}, h}

	err := f.NotifyUser(context.Background(), "u1", service.Event{Name: service.EventJoinRejected, Payload: "x"})
	if !errors.Is(err, boom) {
		t.Fatalf("expected joined error, got %v", err)
	}
	if got := drain(c); len(got) != 1 {
		t.Fatalf("expected hub delivery despite earlier failure, got %v", got)
	}
}

type failing struct{ err error }

func (f failing) BroadcastToRide(context.Context, string, service.Event) error { return f.err }
func (f failing) NotifyUser(context.Context, string, service.Event) error      { return f.err }
func (f failing) BroadcastToDrivers(context.Context, service.Event) error      { return f.err }

func TestServe_WebsocketProtocol(t *testing.T) {
	t.Parallel()

	h := NewHub(nil)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		q := r.URL.Query()
		h.Serve(conn, q.Get("user"), q.Get("driver") == "1")
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?user=u1"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(Command{Action: ActionJoinRide, RideID: "r1"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	waitFor(t, func() bool { return h.RoomSize(RideRoom("r1")) == 1 })

	_ = h.BroadcastToRide(context.Background(), "r1", service.Event{Name: service.EventRideUpdated, Payload: map[string]string{"id": "r1"}})
	_ = h.NotifyUser(context.Background(), "u1", service.Event{Name: service.EventFareUpdated, Payload: map[string]string{"rideId": "r1"}})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for _, want := range []string{service.EventRideUpdated, service.EventFareUpdated} {
		var m Message
		if err := conn.ReadJSON(&m); err != nil {
			t.Fatalf("read: %v", err)
		}
		if m.Event != want {
			t.Fatalf("expected %s, got %s", want, m.Event)
		}
	}
}

func TestServe_DriverJoinsRequestFeed(t *testing.T) {
	t.Parallel()

	h := NewHub(nil)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		q := r.URL.Query()
		h.Serve(conn, q.Get("user"), q.Get("driver") == "1")
	}))
	defer srv.Close()

	base := "ws" + strings.TrimPrefix(srv.URL, "http")
	driverConn, _, err := websocket.DefaultDialer.Dial(base+"?user=d1&driver=1", nil)
	if err != nil {
		t.Fatalf("dial driver: %v", err)
	}
	defer driverConn.Close()
	passengerConn, _, err := websocket.DefaultDialer.Dial(base+"?user=p1", nil)
	if err != nil {
		t.Fatalf("dial passenger: %v", err)
	}
	defer passengerConn.Close()

	waitFor(t, func() bool { return h.RoomSize(DriversRoom) == 1 && h.RoomSize(UserRoom("p1")) == 1 })

	_ = h.BroadcastToDrivers(context.Background(), service.Event{Name: service.EventNewRideRequest, Payload: map[string]string{"id": "r1"}})

	_ = driverConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var m Message
	if err := driverConn.ReadJSON(&m); err != nil {
		t.Fatalf("read: %v", err)
	}
	if m.Event != service.EventNewRideRequest {
		t.Fatalf("expected %s, got %s", service.EventNewRideRequest, m.Event)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}
