package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"splitride/internal/domain"
	"splitride/internal/repository"
)

// RideRepository is a PostgreSQL implementation of repository.RideRepository.
// The aggregate is stored as a JSONB document next to the columns used for
// filtering, guarded by a version column for optimistic concurrency.
type RideRepository struct {
	q Querier
}

// NewRideRepository creates a new PostgreSQL ride repository on q, which
// may be a pool or a transaction.
func NewRideRepository(q Querier) *RideRepository {
	return &RideRepository{q: q}
}

const rideColumns = `id, document, version, created_at, updated_at`

// Create persists a new ride.
func (r *RideRepository) Create(ctx context.Context, ride *domain.Ride) error {
	ride.Version = 1

	doc, err := json.Marshal(ride)
	if err != nil {
		return fmt.Errorf("marshal ride: %w", err)
	}

	query := `
		INSERT INTO rides (id, status, driver_id, document, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err = r.q.ExecContext(ctx, query,
		ride.ID,
		ride.Status,
		driverID(ride),
		doc,
		ride.Version,
		ride.CreatedAt,
		ride.UpdatedAt,
	)
	return err
}

// GetByID retrieves a ride by ID.
func (r *RideRepository) GetByID(ctx context.Context, id string) (*domain.Ride, error) {
	query := `SELECT ` + rideColumns + ` FROM rides WHERE id = $1`

	ride, err := scanRide(r.q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return ride, nil
}

// Update saves the ride when the stored version matches ride.Version.
func (r *RideRepository) Update(ctx context.Context, ride *domain.Ride) error {
	expected := ride.Version
	ride.Version = expected + 1

	doc, err := json.Marshal(ride)
	if err != nil {
		ride.Version = expected
		return fmt.Errorf("marshal ride: %w", err)
	}

	query := `
		UPDATE rides
		SET status = $1, driver_id = $2, document = $3, version = $4, updated_at = $5
		WHERE id = $6 AND version = $7
	`

	result, err := r.q.ExecContext(ctx, query,
		ride.Status,
		driverID(ride),
		doc,
		ride.Version,
		ride.UpdatedAt,
		ride.ID,
		expected,
	)
	if err != nil {
		ride.Version = expected
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		ride.Version = expected
		return err
	}

	if rowsAffected == 0 {
		ride.Version = expected
		// Distinguish a stale write from a missing row.
		var exists bool
		if err := r.q.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM rides WHERE id = $1)`, ride.ID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return repository.ErrNotFound
		}
		return repository.ErrConflict
	}

	return nil
}

// ListByStatus retrieves rides in the given states, newest first.
func (r *RideRepository) ListByStatus(ctx context.Context, statuses []domain.RideStatus, limit int) ([]*domain.Ride, error) {
	if limit <= 0 {
		limit = 100
	}

	values := make([]string, len(statuses))
	for i, s := range statuses {
		values[i] = string(s)
	}

	query := `SELECT ` + rideColumns + ` FROM rides WHERE status = ANY($1) ORDER BY created_at DESC LIMIT $2`

	rows, err := r.q.QueryContext(ctx, query, pq.Array(values), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rides []*domain.Ride
	for rows.Next() {
		ride, err := scanRide(rows)
		if err != nil {
			return nil, err
		}
		rides = append(rides, ride)
	}
	return rides, rows.Err()
}

// GetActiveByPassenger retrieves the non-terminal ride userID is seated on.
func (r *RideRepository) GetActiveByPassenger(ctx context.Context, userID string) (*domain.Ride, error) {
	query := `
		SELECT ` + rideColumns + `
		FROM rides
		WHERE status IN ('searching', 'scheduled', 'ongoing')
		  AND document->'passengers' @> jsonb_build_array(jsonb_build_object('user', jsonb_build_object('id', $1::text)))
		ORDER BY created_at DESC
		LIMIT 1
	`
	return r.getOptional(ctx, query, userID)
}

// GetActiveByDriver retrieves the accepted, unfinished ride of driverID.
func (r *RideRepository) GetActiveByDriver(ctx context.Context, driverID string) (*domain.Ride, error) {
	query := `
		SELECT ` + rideColumns + `
		FROM rides
		WHERE driver_id = $1 AND status IN ('scheduled', 'ongoing')
		ORDER BY created_at DESC
		LIMIT 1
	`
	return r.getOptional(ctx, query, driverID)
}

func (r *RideRepository) getOptional(ctx context.Context, query string, arg any) (*domain.Ride, error) {
	ride, err := scanRide(r.q.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return ride, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRide(row rowScanner) (*domain.Ride, error) {
	var (
		id      string
		doc     []byte
		ride    domain.Ride
		version int64
	)

	if err := row.Scan(&id, &doc, &version, &ride.CreatedAt, &ride.UpdatedAt); err != nil {
		return nil, err
	}

	createdAt, updatedAt := ride.CreatedAt, ride.UpdatedAt
	if err := json.Unmarshal(doc, &ride); err != nil {
		return nil, fmt.Errorf("decode ride %s: %w", id, err)
	}

	// Columns are authoritative over the document copy.
	ride.ID = id
	ride.Version = version
	ride.CreatedAt = createdAt
	ride.UpdatedAt = updatedAt

	return &ride, nil
}

func driverID(ride *domain.Ride) sql.NullString {
	if ride.Driver == nil || ride.Driver.ID == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: ride.Driver.ID, Valid: true}
}
