package realtime

import (
	"context"
	"errors"

	"splitride/internal/service"
)

// Fanout delivers every event to each of its broadcasters in turn. One
// failing target does not stop delivery to the others.
type Fanout []service.Broadcaster

// Ensure Fanout implements service.Broadcaster.
var _ service.Broadcaster = Fanout(nil)

// BroadcastToRide implements service.Broadcaster.
func (f Fanout) BroadcastToRide(ctx context.Context, rideID string, event service.Event) error {
	var errs []error
	for _, b := range f {
		if err := b.BroadcastToRide(ctx, rideID, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NotifyUser implements service.Broadcaster.
func (f Fanout) NotifyUser(ctx context.Context, userID string, event service.Event) error {
	var errs []error
	for _, b := range f {
		if err := b.NotifyUser(ctx, userID, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// BroadcastToDrivers implements service.Broadcaster.
func (f Fanout) BroadcastToDrivers(ctx context.Context, event service.Event) error {
	var errs []error
	for _, b := range f {
		if err := b.BroadcastToDrivers(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
