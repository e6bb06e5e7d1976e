package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/lib/pq"

	"splitride/internal/domain"
	"splitride/internal/repository"
)

const uniqueViolation = "23505"

// UserRepository implements repository.UserRepository using PostgreSQL.
type UserRepository struct {
	db Querier
}

// NewUserRepository creates a new UserRepository.
func NewUserRepository(db Querier) *UserRepository {
	return &UserRepository{db: db}
}

// Create adds a new user.
func (r *UserRepository) Create(ctx context.Context, user *domain.User) error {
	vehicle, err := encodeVehicle(user.Vehicle)
	if err != nil {
		return err
	}

	query := `INSERT INTO users (id, name, phone, role, vehicle, created_at) VALUES ($1, $2, $3, $4, $5, $6)`
	_, err = r.db.ExecContext(ctx, query, user.ID, user.Name, user.Phone, user.Role, vehicle, user.CreatedAt)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return repository.ErrDuplicate
	}
	return err
}

// GetByID retrieves a user by ID.
func (r *UserRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	query := `SELECT id, name, phone, role, vehicle, created_at FROM users WHERE id = $1`
	return scanUser(r.db.QueryRowContext(ctx, query, id))
}

// GetByPhone retrieves a user by phone number.
func (r *UserRepository) GetByPhone(ctx context.Context, phone string) (*domain.User, error) {
	query := `SELECT id, name, phone, role, vehicle, created_at FROM users WHERE phone = $1`
	return scanUser(r.db.QueryRowContext(ctx, query, phone))
}

func scanUser(row *sql.Row) (*domain.User, error) {
	var user domain.User
	var vehicle []byte

	err := row.Scan(&user.ID, &user.Name, &user.Phone, &user.Role, &vehicle, &user.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if len(vehicle) > 0 {
		var v domain.Vehicle
		if err := json.Unmarshal(vehicle, &v); err != nil {
			return nil, err
		}
		user.Vehicle = &v
	}
	return &user, nil
}

func encodeVehicle(v *domain.Vehicle) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}
