package domain

import (
	"math"
	"time"
)

// RideStatus represents the current lifecycle state of a ride.
type RideStatus string

const (
	RideStatusSearching RideStatus = "searching"
	RideStatusScheduled RideStatus = "scheduled"
	RideStatusOngoing   RideStatus = "ongoing"
	RideStatusCompleted RideStatus = "completed"
	RideStatusCancelled RideStatus = "cancelled"
)

// Terminal reports whether no further transition is possible from s.
func (s RideStatus) Terminal() bool {
	return s == RideStatusCompleted || s == RideStatusCancelled
}

// Active reports whether a driver has accepted the ride and it has not ended.
func (s RideStatus) Active() bool {
	return s == RideStatusOngoing || s == RideStatusScheduled
}

// PassengerStatus represents a passenger's state within a ride.
type PassengerStatus string

const (
	PassengerStatusPending    PassengerStatus = "pending"
	PassengerStatusApproved   PassengerStatus = "approved"
	PassengerStatusRejected   PassengerStatus = "rejected"
	PassengerStatusPickedUp   PassengerStatus = "picked_up"
	PassengerStatusDroppedOff PassengerStatus = "dropped_off"
)

// ApprovalStatus represents the state of a join request.
type ApprovalStatus string

const (
	ApprovalStatusPending  ApprovalStatus = "pending"
	ApprovalStatusRejected ApprovalStatus = "rejected"
)

// Place is a named coordinate pair. Coordinates follow the GeoJSON
// convention: [longitude, latitude].
type Place struct {
	Name        string    `json:"name"`
	Coordinates []float64 `json:"coordinates"`
}

// NewPlace builds a Place from longitude and latitude.
func NewPlace(name string, lng, lat float64) Place {
	return Place{Name: name, Coordinates: []float64{lng, lat}}
}

// Valid reports whether the place carries a finite, in-range [lng, lat] pair.
func (p Place) Valid() bool {
	if len(p.Coordinates) != 2 {
		return false
	}
	lng, lat := p.Coordinates[0], p.Coordinates[1]
	if math.IsNaN(lng) || math.IsInf(lng, 0) || math.IsNaN(lat) || math.IsInf(lat, 0) {
		return false
	}
	return lng >= -180 && lng <= 180 && lat >= -90 && lat <= 90
}

// Lng returns the longitude. It panics on an invalid place; check Valid first.
func (p Place) Lng() float64 { return p.Coordinates[0] }

// Lat returns the latitude. It panics on an invalid place; check Valid first.
func (p Place) Lat() float64 { return p.Coordinates[1] }

// Clone returns a deep copy of p.
func (p Place) Clone() Place {
	out := Place{Name: p.Name}
	if p.Coordinates != nil {
		out.Coordinates = append([]float64(nil), p.Coordinates...)
	}
	return out
}

// GeoPoint is a GeoJSON point.
type GeoPoint struct {
	Type        string    `json:"type"`
	Coordinates []float64 `json:"coordinates"`
}

// RoutePoint is a named stop on the initiating passenger's overall route.
type RoutePoint struct {
	Name     string   `json:"name"`
	Location GeoPoint `json:"location"`
}

// Route describes the ride's overall trip for display.
type Route struct {
	Start         RoutePoint `json:"start"`
	End           RoutePoint `json:"end"`
	TotalDistance float64    `json:"totalDistance"` // In km
}

// UserRef identifies a user attached to a ride.
type UserRef struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// Passenger is a user holding a seat on a ride.
type Passenger struct {
	User             UserRef         `json:"user"`
	Pickup           Place           `json:"pickup"`
	Drop             Place           `json:"drop"`
	SeatNumber       int             `json:"seatNumber"`
	Status           PassengerStatus `json:"status"`
	FareShare        float64         `json:"fareShare"`
	DistanceTraveled float64         `json:"distanceTraveled"`
}

// Approval is a pending (or rejected) request to join a ride.
type Approval struct {
	User        UserRef        `json:"user"`
	Pickup      Place          `json:"pickup"`
	Drop        Place          `json:"drop"`
	Status      ApprovalStatus `json:"status"`
	RequestedAt time.Time      `json:"requestedAt"`
}

// Pricing holds the ride-level fare components.
type Pricing struct {
	BaseFare     float64 `json:"baseFare"`
	CurrentTotal float64 `json:"currentTotal"`
}

// Safety holds the boarding verification data.
type Safety struct {
	OTP        string `json:"otp"`
	IsVerified bool   `json:"isVerified"`
}

// Ride is the shared-trip aggregate.
type Ride struct {
	ID             string      `json:"id"`
	Driver         *UserRef    `json:"driver,omitempty"`
	Route          Route       `json:"route"`
	Passengers     []Passenger `json:"passengers"`
	Approvals      []Approval  `json:"approvals"`
	MaxPassengers  int         `json:"maxPassengers"`
	SeatsRequested int         `json:"seatsRequested"`
	Status         RideStatus  `json:"status"`
	Pricing        Pricing     `json:"pricing"`
	Safety         Safety      `json:"safety"`
	ScheduledAt    *time.Time  `json:"scheduledAt,omitempty"`
	Version        int64       `json:"version"`
	CreatedAt      time.Time   `json:"createdAt"`
	UpdatedAt      time.Time   `json:"updatedAt"`
	CompletedAt    *time.Time  `json:"completedAt,omitempty"`
	CancelledAt    *time.Time  `json:"cancelledAt,omitempty"`
	CancelReason   string      `json:"cancelReason,omitempty"`
}

// PassengerIndex returns the index of userID in Passengers, or -1.
func (r *Ride) PassengerIndex(userID string) int {
	for i := range r.Passengers {
		if r.Passengers[i].User.ID == userID {
			return i
		}
	}
	return -1
}

// ApprovalIndex returns the index of userID in Approvals, or -1.
func (r *Ride) ApprovalIndex(userID string) int {
	for i := range r.Approvals {
		if r.Approvals[i].User.ID == userID {
			return i
		}
	}
	return -1
}

// PendingApprovalIndex returns the index of userID's pending approval, or -1.
func (r *Ride) PendingApprovalIndex(userID string) int {
	i := r.ApprovalIndex(userID)
	if i >= 0 && r.Approvals[i].Status == ApprovalStatusPending {
		return i
	}
	return -1
}

// NextSeatNumber returns the seat number for the next joining passenger.
// Seat numbers are never reused within a ride.
func (r *Ride) NextSeatNumber() int {
	highest := 0
	for _, p := range r.Passengers {
		if p.SeatNumber > highest {
			highest = p.SeatNumber
		}
	}
	return highest + 1
}

// Full reports whether every seat on the ride is taken.
func (r *Ride) Full() bool {
	return r.MaxPassengers > 0 && len(r.Passengers) >= r.MaxPassengers
}

// IsDriver reports whether userID is the assigned driver.
func (r *Ride) IsDriver(userID string) bool {
	return r.Driver != nil && r.Driver.ID == userID
}

// Clone returns a deep copy of the ride so callers can mutate it freely.
func (r *Ride) Clone() *Ride {
	out := *r
	if r.Driver != nil {
		d := *r.Driver
		out.Driver = &d
	}
	out.Route.Start.Location.Coordinates = append([]float64(nil), r.Route.Start.Location.Coordinates...)
	out.Route.End.Location.Coordinates = append([]float64(nil), r.Route.End.Location.Coordinates...)
	out.Passengers = make([]Passenger, len(r.Passengers))
	for i, p := range r.Passengers {
		p.Pickup = p.Pickup.Clone()
		p.Drop = p.Drop.Clone()
		out.Passengers[i] = p
	}
	out.Approvals = make([]Approval, len(r.Approvals))
	for i, a := range r.Approvals {
		a.Pickup = a.Pickup.Clone()
		a.Drop = a.Drop.Clone()
		out.Approvals[i] = a
	}
	out.ScheduledAt = cloneTime(r.ScheduledAt)
	out.CompletedAt = cloneTime(r.CompletedAt)
	out.CancelledAt = cloneTime(r.CancelledAt)
	return &out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
