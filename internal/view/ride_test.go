package view

import (
	"testing"

	"splitride/internal/domain"
)

func TestNewRide_RoundsMoneyAndHidesOTP(t *testing.T) {
	ride := &domain.Ride{
		ID: "ride-1",
		Passengers: []domain.Passenger{
			{User: domain.UserRef{ID: "p1"}, FareShare: 583.77334, DistanceTraveled: 111.19492},
			{User: domain.UserRef{ID: "p2"}, FareShare: 583.77334, DistanceTraveled: 111.19492},
		},
		Pricing: domain.Pricing{BaseFare: 50, CurrentTotal: 1167.54668},
		Safety:  domain.Safety{OTP: "4821"},
	}

	v := NewRide(ride, "stranger")
	if v.Pricing.CurrentTotal != 1167.55 {
		t.Errorf("expected rounded total 1167.55, got %v", v.Pricing.CurrentTotal)
	}
	if v.Passengers[0].FareShare != 583.77 {
		t.Errorf("expected rounded share 583.77, got %v", v.Passengers[0].FareShare)
	}
	if v.Safety.OTP != "" {
		t.Error("OTP must not be shown to non-passengers")
	}

	// The source ride keeps full precision.
	if ride.Pricing.CurrentTotal != 1167.54668 {
		t.Error("view must not modify the ride")
	}

	if got := NewRide(ride, "p2").Safety.OTP; got != "4821" {
		t.Errorf("expected passenger to see OTP, got %q", got)
	}
}

func TestNewRide_EmptyApprovalsEncodeAsList(t *testing.T) {
	v := NewRide(&domain.Ride{ID: "ride-1"}, "")
	if v.Approvals == nil {
		t.Fatal("expected non-nil approvals")
	}
}

func TestNewRide_CarriesVersion(t *testing.T) {
	v := NewRide(&domain.Ride{ID: "ride-1", Version: 7}, "")
	if v.Version != 7 {
		t.Fatalf("expected version 7, got %d", v.Version)
	}
}
