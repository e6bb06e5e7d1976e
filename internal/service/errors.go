package service

import "errors"

var (
	// ErrInvalidLocation is returned when pickup or drop coordinates are missing or malformed.
	ErrInvalidLocation = errors.New("invalid location")

	// ErrInvalidRideID is returned when ride ID is empty.
	ErrInvalidRideID = errors.New("invalid ride id")

	// ErrInvalidUserID is returned when a caller or requester ID is empty.
	ErrInvalidUserID = errors.New("invalid user id")

	// ErrInvalidFare is returned when a driver offers a negative base fare.
	ErrInvalidFare = errors.New("invalid base fare")

	// ErrInvalidSeats is returned when the requested seat count is out of range.
	ErrInvalidSeats = errors.New("invalid seats requested")

	// ErrUserNotFound is returned when the caller is not a known user.
	ErrUserNotFound = errors.New("user not found")

	// ErrRideNotFound is returned when the ride does not exist.
	ErrRideNotFound = errors.New("ride not found")

	// ErrAlreadyAccepted is returned when a driver accepts a ride that is no longer searching.
	ErrAlreadyAccepted = errors.New("ride already accepted")

	// ErrAlreadyRequested is returned when the requester is already a passenger or has a pending request.
	ErrAlreadyRequested = errors.New("already requested to join this ride")

	// ErrRequestNotFound is returned when no pending join request exists for the requester.
	ErrRequestNotFound = errors.New("join request not found")

	// ErrNotAuthorized is returned when the caller may not perform the transition.
	ErrNotAuthorized = errors.New("not authorized")

	// ErrConflict is returned when concurrent writes kept winning over every retry.
	ErrConflict = errors.New("ride was modified concurrently, retry")

	// ErrRideFull is returned when every seat on the ride is taken.
	ErrRideFull = errors.New("ride is full")

	// ErrRideNotActive is returned when a transition needs an accepted, unfinished ride.
	ErrRideNotActive = errors.New("ride is not active")

	// ErrRideClosed is returned when the ride has already completed or been cancelled.
	ErrRideClosed = errors.New("ride already completed or cancelled")

	// ErrInvalidOTP is returned when the boarding code does not match.
	ErrInvalidOTP = errors.New("invalid otp")

	// ErrRideBusy is returned when the per-ride lock could not be acquired in time.
	ErrRideBusy = errors.New("ride is busy, retry")
)
