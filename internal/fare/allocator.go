// Package fare splits a shared ride's cost between its passengers in
// proportion to the distance each of them travels.
package fare

import (
	"math"

	"splitride/internal/domain"
	"splitride/internal/geo"
)

// Config contains the fare allocation parameters.
type Config struct {
	RatePerKm     float64 // Currency units per km
	PoolingFactor float64 // Shared route length relative to the sum of solo trips
	SoloDiscount  float64 // Applied to the solo price when a share exceeds it
}

// DefaultConfig returns the default fare configuration.
func DefaultConfig() Config {
	return Config{
		RatePerKm:     15,
		PoolingFactor: 0.7,  // 30% overlap between pooled trips
		SoloDiscount:  0.95, // At least 5% cheaper than riding alone
	}
}

// Share is one passenger's computed allocation.
type Share struct {
	UserID           string
	DistanceTraveled float64
	FareShare        float64
	SoloPrice        float64
}

// Allocation is the result of splitting a ride's cost.
type Allocation struct {
	Shares            []Share // Same order as the input passengers
	TotalSoloDistance float64
	CurrentTotal      float64
}

// Allocator computes distance-weighted fare shares.
type Allocator struct {
	cfg Config
}

// NewAllocator creates a new Allocator.
func NewAllocator(cfg Config) *Allocator {
	return &Allocator{cfg: cfg}
}

// Config returns the allocator's parameters.
func (a *Allocator) Config() Config {
	return a.cfg
}

// Allocate splits the ride cost between passengers. It does not modify its
// input, and identical input always yields identical output.
func (a *Allocator) Allocate(passengers []domain.Passenger, baseFare float64) Allocation {
	alloc := Allocation{Shares: make([]Share, len(passengers))}

	for i, p := range passengers {
		alloc.Shares[i] = Share{
			UserID:           p.User.ID,
			DistanceTraveled: passengerDistance(p),
		}
		alloc.TotalSoloDistance += alloc.Shares[i].DistanceTraveled
	}

	// Nothing to split: no passenger has a usable trip.
	if alloc.TotalSoloDistance == 0 {
		return alloc
	}

	optimizedDistance := alloc.TotalSoloDistance * a.cfg.PoolingFactor
	totalRideCost := optimizedDistance*a.cfg.RatePerKm + baseFare
	alloc.CurrentTotal = totalRideCost

	for i := range alloc.Shares {
		s := &alloc.Shares[i]
		sharePct := s.DistanceTraveled / alloc.TotalSoloDistance
		s.FareShare = totalRideCost * sharePct

		// Individual rationality: never pay more than going solo.
		s.SoloPrice = s.DistanceTraveled*a.cfg.RatePerKm + baseFare
		if s.FareShare > s.SoloPrice {
			s.FareShare = s.SoloPrice * a.cfg.SoloDiscount
		}
	}

	return alloc
}

// Apply recomputes every passenger's distance and fare share on ride, and
// the ride's current total, in place.
func (a *Allocator) Apply(ride *domain.Ride) {
	alloc := a.Allocate(ride.Passengers, ride.Pricing.BaseFare)
	for i := range ride.Passengers {
		ride.Passengers[i].DistanceTraveled = alloc.Shares[i].DistanceTraveled
		ride.Passengers[i].FareShare = alloc.Shares[i].FareShare
	}
	ride.Pricing.CurrentTotal = alloc.CurrentTotal
}

// Preview returns the allocation the ride would have if extra joined it,
// without touching ride.
func (a *Allocator) Preview(ride *domain.Ride, extra domain.Passenger) Allocation {
	passengers := make([]domain.Passenger, 0, len(ride.Passengers)+1)
	passengers = append(passengers, ride.Passengers...)
	passengers = append(passengers, extra)
	return a.Allocate(passengers, ride.Pricing.BaseFare)
}

// Round rounds a monetary amount to the currency's minor unit. Use it only
// when presenting values; stored amounts keep full precision.
func Round(amount float64) float64 {
	return math.Round(amount*100) / 100
}

// passengerDistance returns the straight-line trip length, or 0 when the
// passenger has no usable coordinates.
func passengerDistance(p domain.Passenger) float64 {
	if !p.Pickup.Valid() || !p.Drop.Valid() {
		return 0
	}
	d, err := geo.DistanceKm(
		geo.Point{Lng: p.Pickup.Lng(), Lat: p.Pickup.Lat()},
		geo.Point{Lng: p.Drop.Lng(), Lat: p.Drop.Lat()},
	)
	if err != nil {
		return 0
	}
	return d
}
