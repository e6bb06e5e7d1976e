package tests

import (
	"context"
	"math"
	"testing"

	"splitride/internal/domain"
	"splitride/internal/fare"
	"splitride/internal/geo"
	"splitride/internal/service"
)

const tolerance = 1e-6

// oneDegreeKm is the haversine length of one degree along a meridian.
var oneDegreeKm = geo.EarthRadiusKm * math.Pi / 180

type testEnv struct {
	svc         *service.RideService
	rides       *MockRideRepository
	users       *MockUserRepository
	broadcaster *RecordingBroadcaster
}

func newTestEnv(t *testing.T, cfg service.Config) *testEnv {
	t.Helper()

	env := &testEnv{
		rides:       NewMockRideRepository(),
		users:       NewMockUserRepository(),
		broadcaster: NewRecordingBroadcaster(),
	}
	for _, id := range []string{"p1", "p2", "p3", "p4", "p5"} {
		env.users.AddUser(&domain.User{ID: id, Name: "Passenger " + id, Role: domain.UserRolePassenger})
	}
	env.users.AddUser(&domain.User{
		ID:      "d1",
		Name:    "Driver One",
		Role:    domain.UserRoleDriver,
		Vehicle: &domain.Vehicle{Number: "KA01AB1234", Type: "Sedan", Capacity: 4},
	})
	env.users.AddUser(&domain.User{ID: "d2", Name: "Driver Two", Role: domain.UserRoleDriver})

	env.svc = service.NewRideService(service.RideServiceDeps{
		Rides:       env.rides,
		Users:       env.users,
		Allocator:   fare.NewAllocator(fare.DefaultConfig()),
		Broadcaster: env.broadcaster,
		Config:      cfg,
	})
	return env
}

// createRide creates a ride for p1 from (0,0) to (0,1).
func (e *testEnv) createRide(t *testing.T) *domain.Ride {
	t.Helper()
	ride, err := e.svc.CreateRide(context.Background(), service.CreateRideRequest{
		CreatorID: "p1",
		Pickup:    domain.NewPlace("Origin", 0, 0),
		Drop:      domain.NewPlace("North", 0, 1),
	})
	if err != nil {
		t.Fatalf("create ride: %v", err)
	}
	return ride
}

// acceptedRide creates a ride and has d1 accept it with a base fare of 50.
func (e *testEnv) acceptedRide(t *testing.T) *domain.Ride {
	t.Helper()
	ride := e.createRide(t)
	ride, err := e.svc.AcceptRide(context.Background(), service.AcceptRideRequest{
		RideID: ride.ID, DriverID: "d1", BaseFare: 50,
	})
	if err != nil {
		t.Fatalf("accept ride: %v", err)
	}
	return ride
}

// requestJoin has userID ask to ride one degree north starting at longitude lng.
func (e *testEnv) requestJoin(t *testing.T, rideID, userID string, lng float64) {
	t.Helper()
	_, err := e.svc.RequestJoin(context.Background(), service.RequestJoinRequest{
		RideID:      rideID,
		RequesterID: userID,
		Pickup:      domain.NewPlace(userID+" pickup", lng, 0),
		Drop:        domain.NewPlace(userID+" drop", lng, 1),
	})
	if err != nil {
		t.Fatalf("request join %s: %v", userID, err)
	}
}

func assertConservation(t *testing.T, ride *domain.Ride) {
	t.Helper()
	sum := 0.0
	for _, p := range ride.Passengers {
		sum += p.FareShare
	}
	if math.Abs(sum-ride.Pricing.CurrentTotal) > tolerance {
		t.Fatalf("sum of shares %f differs from total %f", sum, ride.Pricing.CurrentTotal)
	}
}
