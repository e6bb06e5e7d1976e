package domain

import "time"

// UserRole distinguishes riders from drivers.
type UserRole string

const (
	UserRolePassenger UserRole = "passenger"
	UserRoleDriver    UserRole = "driver"
)

// Vehicle describes a driver's car.
type Vehicle struct {
	Number   string `json:"number"`
	Type     string `json:"type"` // e.g. Auto, Sedan, SUV
	Capacity int    `json:"capacity"`
}

// User represents a passenger or driver identity.
type User struct {
	ID        string
	Name      string
	Phone     string
	Role      UserRole
	Vehicle   *Vehicle
	CreatedAt time.Time
}

// Ref returns the lightweight reference stored on rides.
func (u *User) Ref() UserRef {
	return UserRef{ID: u.ID, Name: u.Name}
}
