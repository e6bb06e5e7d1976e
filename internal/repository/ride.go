package repository

import (
	"context"

	"splitride/internal/domain"
)

// RideRepository defines the persistence operations for rides.
type RideRepository interface {
	// Create persists a new ride at version 1.
	Create(ctx context.Context, ride *domain.Ride) error

	// GetByID retrieves a ride by ID.
	GetByID(ctx context.Context, id string) (*domain.Ride, error)

	// Update saves ride if the stored version still equals ride.Version,
	// then increments ride.Version. Returns ErrConflict otherwise.
	Update(ctx context.Context, ride *domain.Ride) error

	// ListByStatus retrieves rides in any of the given states, newest first.
	ListByStatus(ctx context.Context, statuses []domain.RideStatus, limit int) ([]*domain.Ride, error)

	// GetActiveByPassenger retrieves the non-terminal ride a user is seated on.
	// Returns nil if none exists.
	GetActiveByPassenger(ctx context.Context, userID string) (*domain.Ride, error)

	// GetActiveByDriver retrieves the accepted, unfinished ride of a driver.
	// Returns nil if none exists.
	GetActiveByDriver(ctx context.Context, driverID string) (*domain.Ride, error)
}
