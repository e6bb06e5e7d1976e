// Package view holds the outward-facing shapes of rides. Monetary values are
// rounded here and nowhere else.
package view

import (
	"time"

	"splitride/internal/domain"
	"splitride/internal/fare"
)

// Passenger is a passenger as shown to clients.
type Passenger struct {
	User             domain.UserRef         `json:"user"`
	Pickup           domain.Place           `json:"pickup"`
	Drop             domain.Place           `json:"drop"`
	SeatNumber       int                    `json:"seatNumber"`
	Status           domain.PassengerStatus `json:"status"`
	FareShare        float64                `json:"fareShare"`
	DistanceTraveled float64                `json:"distanceTraveled"`
}

// Safety omits the OTP unless the viewer is allowed to see it.
type Safety struct {
	OTP        string `json:"otp,omitempty"`
	IsVerified bool   `json:"isVerified"`
}

// Ride is a ride as shown to clients.
type Ride struct {
	ID             string            `json:"id"`
	Driver         *domain.UserRef   `json:"driver,omitempty"`
	Route          domain.Route      `json:"route"`
	Passengers     []Passenger       `json:"passengers"`
	Approvals      []domain.Approval `json:"approvals"`
	MaxPassengers  int               `json:"maxPassengers"`
	SeatsRequested int               `json:"seatsRequested"`
	Status         domain.RideStatus `json:"status"`
	Pricing        domain.Pricing    `json:"pricing"`
	Safety         Safety            `json:"safety"`
	ScheduledAt    *time.Time        `json:"scheduledAt,omitempty"`
	CreatedAt      time.Time         `json:"createdAt"`
	UpdatedAt      time.Time         `json:"updatedAt"`
	CompletedAt    *time.Time        `json:"completedAt,omitempty"`
	CancelledAt    *time.Time        `json:"cancelledAt,omitempty"`
	CancelReason   string            `json:"cancelReason,omitempty"`
	// Version increases with every saved change; clients drop snapshots
	// older than the one they hold.
	Version int64 `json:"version"`
}

// NewRide builds the public view of ride. The OTP is only included for
// viewers that are passengers of the ride.
func NewRide(ride *domain.Ride, viewerID string) Ride {
	v := Ride{
		ID:             ride.ID,
		Driver:         ride.Driver,
		Route:          ride.Route,
		Passengers:     make([]Passenger, len(ride.Passengers)),
		Approvals:      ride.Approvals,
		MaxPassengers:  ride.MaxPassengers,
		SeatsRequested: ride.SeatsRequested,
		Status:         ride.Status,
		Pricing: domain.Pricing{
			BaseFare:     fare.Round(ride.Pricing.BaseFare),
			CurrentTotal: fare.Round(ride.Pricing.CurrentTotal),
		},
		Safety:       Safety{IsVerified: ride.Safety.IsVerified},
		ScheduledAt:  ride.ScheduledAt,
		CreatedAt:    ride.CreatedAt,
		UpdatedAt:    ride.UpdatedAt,
		CompletedAt:  ride.CompletedAt,
		CancelledAt:  ride.CancelledAt,
		CancelReason: ride.CancelReason,
		Version:      ride.Version,
	}
	if v.Approvals == nil {
		v.Approvals = []domain.Approval{}
	}

	v.Route.TotalDistance = fare.Round(ride.Route.TotalDistance)

	for i, p := range ride.Passengers {
		v.Passengers[i] = Passenger{
			User:             p.User,
			Pickup:           p.Pickup,
			Drop:             p.Drop,
			SeatNumber:       p.SeatNumber,
			Status:           p.Status,
			FareShare:        fare.Round(p.FareShare),
			DistanceTraveled: fare.Round(p.DistanceTraveled),
		}
	}

	if viewerID != "" && ride.PassengerIndex(viewerID) >= 0 {
		v.Safety.OTP = ride.Safety.OTP
	}

	return v
}

// NewRides builds views for a list of rides.
func NewRides(rides []*domain.Ride, viewerID string) []Ride {
	out := make([]Ride, 0, len(rides))
	for _, r := range rides {
		out = append(out, NewRide(r, viewerID))
	}
	return out
}
