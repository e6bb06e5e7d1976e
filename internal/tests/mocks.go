package tests

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"splitride/internal/domain"
	"splitride/internal/repository"
	"splitride/internal/service"
)

// ──────────────────────────────────────────────
// MOCK RIDE REPOSITORY
// ──────────────────────────────────────────────

// MockRideRepository is an in-memory RideRepository with real version checks.
type MockRideRepository struct {
	mu    sync.RWMutex
	rides map[string]*domain.Ride

	// Counters for verification
	CreateCallCount int32
	UpdateCallCount int32
	ConflictCount   int32

	// Error injection
	CreateError error
	UpdateError error

	// ConflictsToInject makes the next N updates fail with ErrConflict.
	ConflictsToInject int32

	// BeforeUpdate runs at the start of every Update, outside the lock.
	BeforeUpdate func(ride *domain.Ride)
}

// NewMockRideRepository creates a new mock ride repository.
func NewMockRideRepository() *MockRideRepository {
	return &MockRideRepository{
		rides: make(map[string]*domain.Ride),
	}
}

func (m *MockRideRepository) Create(ctx context.Context, ride *domain.Ride) error {
	atomic.AddInt32(&m.CreateCallCount, 1)
	if m.CreateError != nil {
		return m.CreateError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	ride.Version = 1
	m.rides[ride.ID] = ride.Clone()
	return nil
}

func (m *MockRideRepository) GetByID(ctx context.Context, id string) (*domain.Ride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ride, ok := m.rides[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return ride.Clone(), nil
}

func (m *MockRideRepository) Update(ctx context.Context, ride *domain.Ride) error {
	atomic.AddInt32(&m.UpdateCallCount, 1)
	if m.BeforeUpdate != nil {
		m.BeforeUpdate(ride)
	}
	if m.UpdateError != nil {
		return m.UpdateError
	}
	if atomic.AddInt32(&m.ConflictsToInject, -1) >= 0 {
		atomic.AddInt32(&m.ConflictCount, 1)
		return repository.ErrConflict
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.rides[ride.ID]
	if !ok {
		return repository.ErrNotFound
	}
	if stored.Version != ride.Version {
		atomic.AddInt32(&m.ConflictCount, 1)
		return repository.ErrConflict
	}
	ride.Version++
	m.rides[ride.ID] = ride.Clone()
	return nil
}

func (m *MockRideRepository) ListByStatus(ctx context.Context, statuses []domain.RideStatus, limit int) ([]*domain.Ride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	want := make(map[domain.RideStatus]bool, len(statuses))
	for _, s := range statuses {
		want[s] = true
	}

	var result []*domain.Ride
	for _, r := range m.rides {
		if want[r.Status] {
			result = append(result, r.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *MockRideRepository) GetActiveByPassenger(ctx context.Context, userID string) (*domain.Ride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.rides {
		if !r.Status.Terminal() && r.PassengerIndex(userID) >= 0 {
			return r.Clone(), nil
		}
	}
	return nil, nil
}

func (m *MockRideRepository) GetActiveByDriver(ctx context.Context, driverID string) (*domain.Ride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.rides {
		if r.Status.Active() && r.IsDriver(driverID) {
			return r.Clone(), nil
		}
	}
	return nil, nil
}

// GetRide returns a copy of the stored ride for test assertions.
func (m *MockRideRepository) GetRide(id string) *domain.Ride {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if r, ok := m.rides[id]; ok {
		return r.Clone()
	}
	return nil
}

// CountRides returns the number of stored rides.
func (m *MockRideRepository) CountRides() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rides)
}

// ──────────────────────────────────────────────
// MOCK USER REPOSITORY
// ──────────────────────────────────────────────

// MockUserRepository is a mock implementation of UserRepository.
type MockUserRepository struct {
	mu    sync.RWMutex
	users map[string]*domain.User

	// Error injection
	GetError error
}

// NewMockUserRepository creates a new mock user repository.
func NewMockUserRepository() *MockUserRepository {
	return &MockUserRepository{
		users: make(map[string]*domain.User),
	}
}

// AddUser adds a user to the mock repository.
func (m *MockUserRepository) AddUser(user *domain.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[user.ID] = user
}

func (m *MockUserRepository) Create(ctx context.Context, user *domain.User) error {
	m.AddUser(user)
	return nil
}

func (m *MockUserRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	if m.GetError != nil {
		return nil, m.GetError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	user, ok := m.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copy := *user
	return &copy, nil
}

func (m *MockUserRepository) GetByPhone(ctx context.Context, phone string) (*domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if u.Phone == phone {
			copy := *u
			return &copy, nil
		}
	}
	return nil, repository.ErrNotFound
}

// ──────────────────────────────────────────────
// MOCK BROADCASTERS
// ──────────────────────────────────────────────

// RecordedEvent is one delivery seen by RecordingBroadcaster.
type RecordedEvent struct {
	Scope  string // "ride", "user" or "drivers"
	Target string
	Event  service.Event
}

// RecordingBroadcaster records every event in emission order.
type RecordingBroadcaster struct {
	mu     sync.Mutex
	events []RecordedEvent
}

// NewRecordingBroadcaster creates a new RecordingBroadcaster.
func NewRecordingBroadcaster() *RecordingBroadcaster {
	return &RecordingBroadcaster{}
}

func (b *RecordingBroadcaster) BroadcastToRide(ctx context.Context, rideID string, event service.Event) error {
	b.record(RecordedEvent{Scope: "ride", Target: rideID, Event: event})
	return nil
}

func (b *RecordingBroadcaster) NotifyUser(ctx context.Context, userID string, event service.Event) error {
	b.record(RecordedEvent{Scope: "user", Target: userID, Event: event})
	return nil
}

func (b *RecordingBroadcaster) BroadcastToDrivers(ctx context.Context, event service.Event) error {
	b.record(RecordedEvent{Scope: "drivers", Event: event})
	return nil
}

func (b *RecordingBroadcaster) record(e RecordedEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, e)
}

// Events returns all events named name, in emission order. An empty name
// matches every event.
func (b *RecordingBroadcaster) Events(name string) []RecordedEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []RecordedEvent
	for _, e := range b.events {
		if name == "" || e.Event.Name == name {
			out = append(out, e)
		}
	}
	return out
}

// UserEvents returns the events delivered to userID's room.
func (b *RecordingBroadcaster) UserEvents(userID string) []RecordedEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []RecordedEvent
	for _, e := range b.events {
		if e.Scope == "user" && e.Target == userID {
			out = append(out, e)
		}
	}
	return out
}

// Reset forgets recorded events.
func (b *RecordingBroadcaster) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = nil
}

// FailingBroadcaster rejects every delivery.
type FailingBroadcaster struct {
	Err       error
	CallCount int32
}

func (b *FailingBroadcaster) BroadcastToRide(ctx context.Context, rideID string, event service.Event) error {
	atomic.AddInt32(&b.CallCount, 1)
	return b.Err
}

func (b *FailingBroadcaster) NotifyUser(ctx context.Context, userID string, event service.Event) error {
	atomic.AddInt32(&b.CallCount, 1)
	return b.Err
}

func (b *FailingBroadcaster) BroadcastToDrivers(ctx context.Context, event service.Event) error {
	atomic.AddInt32(&b.CallCount, 1)
	return b.Err
}

// StallingBroadcaster blocks every delivery until its context is done.
type StallingBroadcaster struct {
	CallCount int32
}

func (b *StallingBroadcaster) BroadcastToRide(ctx context.Context, rideID string, event service.Event) error {
	return b.stall(ctx)
}

func (b *StallingBroadcaster) NotifyUser(ctx context.Context, userID string, event service.Event) error {
	return b.stall(ctx)
}

func (b *StallingBroadcaster) BroadcastToDrivers(ctx context.Context, event service.Event) error {
	return b.stall(ctx)
}

func (b *StallingBroadcaster) stall(ctx context.Context) error {
	atomic.AddInt32(&b.CallCount, 1)
	<-ctx.Done()
	return ctx.Err()
}

// ──────────────────────────────────────────────
// MOCK LOCKER
// ──────────────────────────────────────────────

// MockLocker is an in-process per-ride lock.
type MockLocker struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex

	// Counters for verification
	LockCallCount int32

	// Error injection
	LockError error
}

// NewMockLocker creates a new MockLocker.
func NewMockLocker() *MockLocker {
	return &MockLocker{locks: make(map[string]*sync.Mutex)}
}

func (m *MockLocker) Lock(ctx context.Context, rideID string) (func(), error) {
	atomic.AddInt32(&m.LockCallCount, 1)
	if m.LockError != nil {
		return nil, m.LockError
	}

	m.mu.Lock()
	l, ok := m.locks[rideID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[rideID] = l
	}
	m.mu.Unlock()

	l.Lock()
	return l.Unlock, nil
}

// Ensure mocks implement their interfaces.
var (
	_ repository.RideRepository = (*MockRideRepository)(nil)
	_ repository.UserRepository = (*MockUserRepository)(nil)
	_ service.Broadcaster       = (*RecordingBroadcaster)(nil)
	_ service.Broadcaster       = (*FailingBroadcaster)(nil)
	_ service.Broadcaster       = (*StallingBroadcaster)(nil)
	_ service.Locker            = (*MockLocker)(nil)
)
