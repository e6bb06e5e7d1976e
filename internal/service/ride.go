package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/big"
	"time"

	"github.com/google/uuid"

	"splitride/internal/domain"
	"splitride/internal/fare"
	"splitride/internal/geo"
	"splitride/internal/logging"
	"splitride/internal/observability"
	"splitride/internal/repository"
	"splitride/internal/view"
)

// RideCache is a read-through cache for single rides.
type RideCache interface {
	GetRide(ctx context.Context, rideID string) (*domain.Ride, error) // nil on miss
	SetRide(ctx context.Context, ride *domain.Ride) error
	InvalidateRide(ctx context.Context, rideID string) error
}

// Config contains ride lifecycle parameters.
type Config struct {
	MaxAttempts      int           // Load-mutate-save attempts before ErrConflict
	MaxPassengers    int           // Seats per ride
	DefaultBaseFare  float64       // Used when a driver accepts without naming a fare
	BroadcastTimeout time.Duration // Bound on each broadcast call
}

// DefaultConfig returns the default ride configuration.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:      3,
		MaxPassengers:    3,
		DefaultBaseFare:  50,
		BroadcastTimeout: 2 * time.Second,
	}
}

// RideServiceDeps contains the collaborators of RideService. Broadcaster,
// Locker and Cache are optional.
type RideServiceDeps struct {
	Rides       repository.RideRepository
	Users       repository.UserRepository
	Allocator   *fare.Allocator
	Broadcaster Broadcaster
	Locker      Locker
	Cache       RideCache
	Logger      *slog.Logger
	Config      Config
}

// RideService runs the shared-ride state machine. Every transition loads the
// ride, mutates a private copy, recomputes fares and saves it with a version
// check, retrying on conflict.
type RideService struct {
	rides       repository.RideRepository
	users       repository.UserRepository
	allocator   *fare.Allocator
	broadcaster Broadcaster
	locker      Locker
	cache       RideCache
	logger      *slog.Logger
	cfg         Config
	now         func() time.Time
}

// NewRideService creates a new RideService.
func NewRideService(deps RideServiceDeps) *RideService {
	cfg := deps.Config
	if cfg == (Config{}) {
		cfg = DefaultConfig()
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultConfig().MaxAttempts
	}
	if cfg.MaxPassengers <= 0 {
		cfg.MaxPassengers = DefaultConfig().MaxPassengers
	}
	if cfg.BroadcastTimeout <= 0 {
		cfg.BroadcastTimeout = DefaultConfig().BroadcastTimeout
	}

	allocator := deps.Allocator
	if allocator == nil {
		allocator = fare.NewAllocator(fare.DefaultConfig())
	}

	return &RideService{
		rides:       deps.Rides,
		users:       deps.Users,
		allocator:   allocator,
		broadcaster: deps.Broadcaster,
		locker:      deps.Locker,
		cache:       deps.Cache,
		logger:      logging.OrDefault(deps.Logger),
		cfg:         cfg,
		now:         time.Now,
	}
}

// CreateRideRequest contains the parameters for creating a ride.
type CreateRideRequest struct {
	CreatorID      string
	Pickup         domain.Place
	Drop           domain.Place
	SeatsRequested int        // Defaults to 1
	ScheduledAt    *time.Time // Optional departure time
}

// CreateRide creates a searching ride with the creator as its only passenger.
func (s *RideService) CreateRide(ctx context.Context, req CreateRideRequest) (*domain.Ride, error) {
	if req.CreatorID == "" {
		return nil, ErrInvalidUserID
	}
	if !req.Pickup.Valid() || !req.Drop.Valid() {
		return nil, ErrInvalidLocation
	}

	seats := req.SeatsRequested
	if seats == 0 {
		seats = 1
	}
	if seats < 0 || seats > s.cfg.MaxPassengers {
		return nil, ErrInvalidSeats
	}

	creator, err := s.lookupUser(ctx, req.CreatorID)
	if err != nil {
		return nil, err
	}

	otp, err := generateOTP()
	if err != nil {
		return nil, fmt.Errorf("generate otp: %w", err)
	}

	totalDistance, _ := geo.DistanceKm(
		geo.Point{Lng: req.Pickup.Lng(), Lat: req.Pickup.Lat()},
		geo.Point{Lng: req.Drop.Lng(), Lat: req.Drop.Lat()},
	)

	now := s.now()
	ride := &domain.Ride{
		ID: uuid.New().String(),
		Route: domain.Route{
			Start:         routePoint(req.Pickup),
			End:           routePoint(req.Drop),
			TotalDistance: totalDistance,
		},
		Passengers: []domain.Passenger{{
			User:       creator.Ref(),
			Pickup:     req.Pickup.Clone(),
			Drop:       req.Drop.Clone(),
			SeatNumber: 1,
			Status:     domain.PassengerStatusApproved,
		}},
		Approvals:      []domain.Approval{},
		MaxPassengers:  s.cfg.MaxPassengers,
		SeatsRequested: seats,
		Status:         domain.RideStatusSearching,
		Safety:         domain.Safety{OTP: otp},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if req.ScheduledAt != nil {
		at := *req.ScheduledAt
		ride.ScheduledAt = &at
	}

	s.allocator.Apply(ride)

	if err := s.rides.Create(ctx, ride); err != nil {
		return nil, err
	}

	observability.Transitions.WithLabelValues("create").Inc()
	observability.FareRecalculations.Inc()
	s.logger.Info("ride created", "ride_id", ride.ID, "creator_id", creator.ID)

	s.broadcastToDrivers(ctx, Event{Name: EventNewRideRequest, Payload: view.NewRide(ride, "")})

	return ride, nil
}

// AcceptRideRequest contains the parameters for a driver accepting a ride.
type AcceptRideRequest struct {
	RideID   string
	DriverID string
	BaseFare float64 // 0 means the configured default
}

// AcceptRide assigns a driver, sets the base fare and starts the ride.
func (s *RideService) AcceptRide(ctx context.Context, req AcceptRideRequest) (*domain.Ride, error) {
	if req.RideID == "" {
		return nil, ErrInvalidRideID
	}
	if req.DriverID == "" {
		return nil, ErrInvalidUserID
	}
	if req.BaseFare < 0 || math.IsNaN(req.BaseFare) || math.IsInf(req.BaseFare, 0) {
		return nil, ErrInvalidFare
	}

	baseFare := req.BaseFare
	if baseFare == 0 {
		baseFare = s.cfg.DefaultBaseFare
	}

	driver, err := s.lookupUser(ctx, req.DriverID)
	if err != nil {
		return nil, err
	}
	if driver.Role != domain.UserRoleDriver {
		return nil, ErrNotAuthorized
	}

	ride, err := s.mutate(ctx, req.RideID, "accept", func(r *domain.Ride) error {
		if r.Status != domain.RideStatusSearching {
			return ErrAlreadyAccepted
		}

		ref := driver.Ref()
		r.Driver = &ref
		r.Pricing.BaseFare = baseFare
		r.Status = domain.RideStatusOngoing
		if r.ScheduledAt != nil && r.ScheduledAt.After(s.now()) {
			r.Status = domain.RideStatusScheduled
		}

		s.allocator.Apply(r)
		return nil
	}, func(ride *domain.Ride) {
		s.broadcastRideUpdated(ctx, ride)
		s.notifyUser(ctx, ride.Passengers[0].User.ID, Event{
			Name:    EventRideAccepted,
			Payload: RideAccepted{Ride: view.NewRide(ride, ""), BaseFare: fare.Round(baseFare)},
		})
		s.closeRideRequest(ctx, ride)
	})
	if err != nil {
		return nil, err
	}
	observability.FareRecalculations.Inc()

	return ride, nil
}

// RequestJoinRequest contains the parameters for asking to join a ride.
type RequestJoinRequest struct {
	RideID      string
	RequesterID string
	Pickup      domain.Place
	Drop        domain.Place
}

// RequestJoin records a pending join request. Fares are not recomputed; each
// current passenger is sent a preview of their fare if the request were
// approved.
func (s *RideService) RequestJoin(ctx context.Context, req RequestJoinRequest) (*domain.Ride, error) {
	if req.RideID == "" {
		return nil, ErrInvalidRideID
	}
	if req.RequesterID == "" {
		return nil, ErrInvalidUserID
	}
	if !req.Pickup.Valid() || !req.Drop.Valid() {
		return nil, ErrInvalidLocation
	}

	requester, err := s.lookupUser(ctx, req.RequesterID)
	if err != nil {
		return nil, err
	}

	ride, err := s.mutate(ctx, req.RideID, "request_join", func(r *domain.Ride) error {
		if r.Status.Terminal() {
			return ErrRideClosed
		}
		if r.PassengerIndex(requester.ID) >= 0 || r.PendingApprovalIndex(requester.ID) >= 0 {
			return ErrAlreadyRequested
		}
		if r.Full() {
			return ErrRideFull
		}

		// A rejected request may be retried; the old record is replaced.
		if i := r.ApprovalIndex(requester.ID); i >= 0 {
			r.Approvals = append(r.Approvals[:i], r.Approvals[i+1:]...)
		}

		r.Approvals = append(r.Approvals, domain.Approval{
			User:        requester.Ref(),
			Pickup:      req.Pickup.Clone(),
			Drop:        req.Drop.Clone(),
			Status:      domain.ApprovalStatusPending,
			RequestedAt: s.now(),
		})
		return nil
	}, func(ride *domain.Ride) {
		preview := s.allocator.Preview(ride, domain.Passenger{
			User:   requester.Ref(),
			Pickup: req.Pickup,
			Drop:   req.Drop,
		})
		for i, p := range ride.Passengers {
			s.notifyUser(ctx, p.User.ID, Event{
				Name: EventJoinRequest,
				Payload: JoinRequest{
					RideID:        ride.ID,
					RequesterID:   requester.ID,
					RequesterName: requester.Name,
					Pickup:        req.Pickup,
					Drop:          req.Drop,
					PreviewFare:   fare.Round(preview.Shares[i].FareShare),
					PreviewTotal:  fare.Round(preview.CurrentTotal),
				},
			})
		}
		s.broadcastRideUpdated(ctx, ride)
	})
	if err != nil {
		return nil, err
	}

	return ride, nil
}

// ApproveJoinRequest contains the parameters for answering a join request.
type ApproveJoinRequest struct {
	RideID      string
	RequesterID string
	ApproverID  string
	Approve     bool
}

// ApproveJoin seats the requester and recomputes every fare, or rejects the
// request leaving membership and fares untouched.
func (s *RideService) ApproveJoin(ctx context.Context, req ApproveJoinRequest) (*domain.Ride, error) {
	if req.RideID == "" {
		return nil, ErrInvalidRideID
	}
	if req.RequesterID == "" || req.ApproverID == "" {
		return nil, ErrInvalidUserID
	}

	transition := "reject_join"
	if req.Approve {
		transition = "approve_join"
	}

	ride, err := s.mutate(ctx, req.RideID, transition, func(r *domain.Ride) error {
		if r.Status.Terminal() {
			return ErrRideClosed
		}
		if r.PassengerIndex(req.ApproverID) < 0 {
			return ErrNotAuthorized
		}

		i := r.PendingApprovalIndex(req.RequesterID)
		if i < 0 {
			return ErrRequestNotFound
		}

		if !req.Approve {
			r.Approvals[i].Status = domain.ApprovalStatusRejected
			return nil
		}

		if r.Full() {
			return ErrRideFull
		}

		approval := r.Approvals[i]
		r.Approvals = append(r.Approvals[:i], r.Approvals[i+1:]...)
		r.Passengers = append(r.Passengers, domain.Passenger{
			User:       approval.User,
			Pickup:     approval.Pickup,
			Drop:       approval.Drop,
			SeatNumber: r.NextSeatNumber(),
			Status:     domain.PassengerStatusApproved,
		})

		s.allocator.Apply(r)
		return nil
	}, func(ride *domain.Ride) {
		if !req.Approve {
			s.notifyUser(ctx, req.RequesterID, Event{
				Name:    EventJoinRejected,
				Payload: JoinRejected{RideID: ride.ID},
			})
			return
		}
		s.broadcastFares(ctx, ride)
		s.broadcastRideUpdated(ctx, ride)
	})
	if err != nil {
		return nil, err
	}

	if req.Approve {
		observability.FareRecalculations.Inc()
	}

	return ride, nil
}

// CompleteRide ends the ride. Only the assigned driver may complete it, and
// fares are frozen from then on.
func (s *RideService) CompleteRide(ctx context.Context, rideID, callerID string) (*domain.Ride, error) {
	if rideID == "" {
		return nil, ErrInvalidRideID
	}
	if callerID == "" {
		return nil, ErrInvalidUserID
	}

	ride, err := s.mutate(ctx, rideID, "complete", func(r *domain.Ride) error {
		if !r.IsDriver(callerID) {
			return ErrNotAuthorized
		}
		if r.Status.Terminal() {
			return ErrRideClosed
		}
		if !r.Status.Active() {
			return ErrRideNotActive
		}

		now := s.now()
		r.Status = domain.RideStatusCompleted
		r.CompletedAt = &now
		for i := range r.Passengers {
			r.Passengers[i].Status = domain.PassengerStatusDroppedOff
		}
		return nil
	}, func(ride *domain.Ride) {
		s.broadcastRideUpdated(ctx, ride)
		for _, p := range ride.Passengers {
			s.notifyUser(ctx, p.User.ID, Event{
				Name: EventRideCompleted,
				Payload: RideClosed{
					RideID:    ride.ID,
					Status:    string(ride.Status),
					FareShare: fare.Round(p.FareShare),
				},
			})
		}
	})
	if err != nil {
		return nil, err
	}

	return ride, nil
}

// CancelRideRequest contains the parameters for cancelling a ride.
type CancelRideRequest struct {
	RideID   string
	CallerID string // Ride creator or assigned driver
	Reason   string
}

// CancelRide moves a non-terminal ride to cancelled. Fares keep their last
// values.
func (s *RideService) CancelRide(ctx context.Context, req CancelRideRequest) (*domain.Ride, error) {
	if req.RideID == "" {
		return nil, ErrInvalidRideID
	}
	if req.CallerID == "" {
		return nil, ErrInvalidUserID
	}

	var wasSearching bool
	ride, err := s.mutate(ctx, req.RideID, "cancel", func(r *domain.Ride) error {
		if r.Status.Terminal() {
			return ErrRideClosed
		}
		wasSearching = r.Status == domain.RideStatusSearching
		if r.Passengers[0].User.ID != req.CallerID && !r.IsDriver(req.CallerID) {
			return ErrNotAuthorized
		}

		now := s.now()
		r.Status = domain.RideStatusCancelled
		r.CancelledAt = &now
		r.CancelReason = req.Reason
		return nil
	}, func(ride *domain.Ride) {
		s.broadcastRideUpdated(ctx, ride)

		recipients := make([]string, 0, len(ride.Passengers)+1)
		for _, p := range ride.Passengers {
			recipients = append(recipients, p.User.ID)
		}
		if ride.Driver != nil {
			recipients = append(recipients, ride.Driver.ID)
		}
		for _, userID := range recipients {
			if userID == req.CallerID {
				continue
			}
			s.notifyUser(ctx, userID, Event{
				Name: EventRideCancelled,
				Payload: RideClosed{
					RideID: ride.ID,
					Status: string(ride.Status),
					Reason: ride.CancelReason,
				},
			})
		}

		if wasSearching {
			s.closeRideRequest(ctx, ride)
		}
	})
	if err != nil {
		return nil, err
	}

	return ride, nil
}

// VerifyOTP checks the boarding code presented to the assigned driver.
func (s *RideService) VerifyOTP(ctx context.Context, rideID, driverID, otp string) (*domain.Ride, error) {
	if rideID == "" {
		return nil, ErrInvalidRideID
	}
	if driverID == "" {
		return nil, ErrInvalidUserID
	}

	ride, err := s.mutate(ctx, rideID, "verify_otp", func(r *domain.Ride) error {
		if !r.IsDriver(driverID) {
			return ErrNotAuthorized
		}
		if !r.Status.Active() {
			return ErrRideNotActive
		}
		if r.Safety.OTP != otp {
			return ErrInvalidOTP
		}

		r.Safety.IsVerified = true
		for i := range r.Passengers {
			if r.Passengers[i].Status == domain.PassengerStatusApproved {
				r.Passengers[i].Status = domain.PassengerStatusPickedUp
			}
		}
		return nil
	}, func(ride *domain.Ride) {
		s.broadcastRideUpdated(ctx, ride)
	})
	if err != nil {
		return nil, err
	}

	return ride, nil
}

// GetRide retrieves a ride, consulting the cache first.
func (s *RideService) GetRide(ctx context.Context, rideID string) (*domain.Ride, error) {
	if rideID == "" {
		return nil, ErrInvalidRideID
	}

	if s.cache != nil {
		cached, err := s.cache.GetRide(ctx, rideID)
		if err != nil {
			s.logger.Warn("ride cache read failed", "ride_id", rideID, "error", err)
		} else if cached != nil {
			return cached, nil
		}
	}

	ride, err := s.rides.GetByID(ctx, rideID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrRideNotFound
		}
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.SetRide(ctx, ride); err != nil {
			s.logger.Warn("ride cache write failed", "ride_id", rideID, "error", err)
		}
	}

	return ride, nil
}

// ListAvailable returns rides still searching for a driver, newest first.
func (s *RideService) ListAvailable(ctx context.Context, limit int) ([]*domain.Ride, error) {
	return s.rides.ListByStatus(ctx, []domain.RideStatus{domain.RideStatusSearching}, limit)
}

// GetActiveRide returns the unfinished ride userID is a passenger on, or nil.
func (s *RideService) GetActiveRide(ctx context.Context, userID string) (*domain.Ride, error) {
	if userID == "" {
		return nil, ErrInvalidUserID
	}
	return s.rides.GetActiveByPassenger(ctx, userID)
}

// GetActiveDriverRide returns the accepted, unfinished ride of driverID, or nil.
func (s *RideService) GetActiveDriverRide(ctx context.Context, driverID string) (*domain.Ride, error) {
	if driverID == "" {
		return nil, ErrInvalidUserID
	}
	return s.rides.GetActiveByDriver(ctx, driverID)
}

// mutate applies fn to a fresh copy of the ride and saves it. A version
// conflict reloads the ride and runs fn again. An error from fn aborts
// without writing anything. publish runs once after the save, still under
// the ride lock, so a ride's events go out in the order of its versions.
func (s *RideService) mutate(ctx context.Context, rideID, transition string, fn func(*domain.Ride) error, publish func(*domain.Ride)) (*domain.Ride, error) {
	if s.locker != nil {
		release, err := s.locker.Lock(ctx, rideID)
		switch {
		case errors.Is(err, ErrRideBusy):
			return nil, err
		case err != nil:
			// Versioned writes still guard the ride without the lock.
			s.logger.Warn("ride lock unavailable", "ride_id", rideID, "error", err)
		default:
			defer release()
		}
	}

	for attempt := 1; attempt <= s.cfg.MaxAttempts; attempt++ {
		current, err := s.rides.GetByID(ctx, rideID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, ErrRideNotFound
			}
			return nil, err
		}

		ride := current.Clone()
		if err := fn(ride); err != nil {
			return nil, err
		}
		ride.UpdatedAt = s.now()

		err = s.rides.Update(ctx, ride)
		if err == nil {
			s.invalidate(ctx, rideID)
			observability.Transitions.WithLabelValues(transition).Inc()
			if publish != nil {
				publish(ride)
			}
			return ride, nil
		}

		switch {
		case errors.Is(err, repository.ErrConflict):
			observability.ConflictRetries.Inc()
			s.logger.Info("ride version conflict, retrying",
				"ride_id", rideID, "transition", transition, "attempt", attempt)
		case errors.Is(err, repository.ErrNotFound):
			return nil, ErrRideNotFound
		default:
			return nil, err
		}
	}

	observability.ConflictsExhausted.Inc()
	s.logger.Warn("ride transition gave up after conflicts",
		"ride_id", rideID, "transition", transition, "attempts", s.cfg.MaxAttempts)
	return nil, ErrConflict
}

func (s *RideService) invalidate(ctx context.Context, rideID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateRide(ctx, rideID); err != nil {
		s.logger.Warn("ride cache invalidation failed", "ride_id", rideID, "error", err)
	}
}

func (s *RideService) lookupUser(ctx context.Context, userID string) (*domain.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return user, nil
}

func (s *RideService) broadcastRideUpdated(ctx context.Context, ride *domain.Ride) {
	s.broadcastToRide(ctx, ride.ID, Event{Name: EventRideUpdated, Payload: view.NewRide(ride, "")})
}

func (s *RideService) broadcastFares(ctx context.Context, ride *domain.Ride) {
	total := fare.Round(ride.Pricing.CurrentTotal)
	for _, p := range ride.Passengers {
		s.notifyUser(ctx, p.User.ID, Event{
			Name: EventFareUpdated,
			Payload: FareUpdated{
				RideID:    ride.ID,
				UserID:    p.User.ID,
				NewFare:   fare.Round(p.FareShare),
				TotalFare: total,
			},
		})
	}
}

// closeRideRequest takes a ride off the drivers' feed.
func (s *RideService) closeRideRequest(ctx context.Context, ride *domain.Ride) {
	s.broadcastToDrivers(ctx, Event{
		Name:    EventRideRequestClosed,
		Payload: RideRequestClosed{RideID: ride.ID, Status: string(ride.Status)},
	})
}

// deliveryContext survives cancellation of the request but not a stuck
// transport: each delivery gets its own BroadcastTimeout.
func (s *RideService) deliveryContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), s.cfg.BroadcastTimeout)
}

// Delivery failures never undo a persisted transition; they are logged and
// dropped.
func (s *RideService) broadcastToRide(ctx context.Context, rideID string, event Event) {
	if s.broadcaster == nil {
		return
	}
	ctx, cancel := s.deliveryContext(ctx)
	defer cancel()

	if err := s.broadcaster.BroadcastToRide(ctx, rideID, event); err != nil {
		observability.BroadcastFailures.WithLabelValues("ride").Inc()
		s.logger.Warn("ride broadcast failed", "ride_id", rideID, "event", event.Name, "error", err)
	}
}

func (s *RideService) notifyUser(ctx context.Context, userID string, event Event) {
	if s.broadcaster == nil {
		return
	}
	ctx, cancel := s.deliveryContext(ctx)
	defer cancel()

	if err := s.broadcaster.NotifyUser(ctx, userID, event); err != nil {
		observability.BroadcastFailures.WithLabelValues("user").Inc()
		s.logger.Warn("user notification failed", "user_id", userID, "event", event.Name, "error", err)
	}
}

func (s *RideService) broadcastToDrivers(ctx context.Context, event Event) {
	if s.broadcaster == nil {
		return
	}
	ctx, cancel := s.deliveryContext(ctx)
	defer cancel()

	if err := s.broadcaster.BroadcastToDrivers(ctx, event); err != nil {
		observability.BroadcastFailures.WithLabelValues("drivers").Inc()
		s.logger.Warn("driver feed broadcast failed", "event", event.Name, "error", err)
	}
}

func routePoint(p domain.Place) domain.RoutePoint {
	return domain.RoutePoint{
		Name: p.Name,
		Location: domain.GeoPoint{
			Type:        "Point",
			Coordinates: []float64{p.Lng(), p.Lat()},
		},
	}
}

// generateOTP returns a uniformly random 4-digit code.
func generateOTP() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(9000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%04d", 1000+n.Int64()), nil
}
