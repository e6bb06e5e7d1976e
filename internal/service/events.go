package service

import (
	"context"

	"splitride/internal/domain"
	"splitride/internal/view"
)

// Event names delivered to clients.
const (
	EventRideUpdated   = "ride_updated"
	EventRideAccepted  = "ride_accepted"
	EventFareUpdated   = "fare_updated"
	EventJoinRequest   = "join_request"
	EventJoinRejected  = "join_rejected"
	EventRideCompleted = "ride_completed"
	EventRideCancelled = "ride_cancelled"

	// Driver feed.
	EventNewRideRequest    = "new_ride_request"
	EventRideRequestClosed = "ride_request_closed"
)

// Event is a named payload pushed to a ride room or a user room.
type Event struct {
	Name    string `json:"event"`
	Payload any    `json:"payload"`
}

// Broadcaster delivers events to the real-time scopes: a ride's viewers, a
// single user and the feed of every connected driver. Within one scope,
// events must arrive in the order they were emitted.
type Broadcaster interface {
	BroadcastToRide(ctx context.Context, rideID string, event Event) error
	NotifyUser(ctx context.Context, userID string, event Event) error
	BroadcastToDrivers(ctx context.Context, event Event) error
}

// Locker serializes transitions on one ride across instances.
type Locker interface {
	// Lock blocks until the ride lock is held or the wait expires. The
	// returned func releases it.
	Lock(ctx context.Context, rideID string) (release func(), err error)
}

// FareUpdated is the payload of fare_updated.
type FareUpdated struct {
	RideID    string  `json:"rideId"`
	UserID    string  `json:"userId"`
	NewFare   float64 `json:"newFare"`
	TotalFare float64 `json:"totalFare"`
}

// JoinRequest is the payload of join_request. PreviewFare is what the
// recipient would pay if the request were approved.
type JoinRequest struct {
	RideID        string       `json:"rideId"`
	RequesterID   string       `json:"requesterId"`
	RequesterName string       `json:"requesterName"`
	Pickup        domain.Place `json:"pickup"`
	Drop          domain.Place `json:"drop"`
	PreviewFare   float64      `json:"previewFare"`
	PreviewTotal  float64      `json:"previewTotal"`
}

// RideAccepted is the payload of ride_accepted.
type RideAccepted struct {
	Ride     view.Ride `json:"ride"`
	BaseFare float64   `json:"baseFare"`
}

// JoinRejected is the payload of join_rejected.
type JoinRejected struct {
	RideID string `json:"rideId"`
}

// RideClosed is the payload of ride_completed and ride_cancelled.
type RideClosed struct {
	RideID    string  `json:"rideId"`
	Status    string  `json:"status"`
	FareShare float64 `json:"fareShare"`
	Reason    string  `json:"reason,omitempty"`
}

// RideRequestClosed is the payload of ride_request_closed, telling drivers a
// ride left the searching state.
type RideRequestClosed struct {
	RideID string `json:"rideId"`
	Status string `json:"status"`
}
