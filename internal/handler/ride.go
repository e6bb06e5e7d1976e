package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"splitride/internal/domain"
	"splitride/internal/middleware"
	"splitride/internal/service"
	"splitride/internal/view"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// RideHandler handles HTTP requests for shared rides. The caller is the
// user resolved by middleware.Identity.
type RideHandler struct {
	rideService *service.RideService
}

// NewRideHandler creates a new RideHandler.
func NewRideHandler(rideService *service.RideService) *RideHandler {
	return &RideHandler{rideService: rideService}
}

// CreateRideRequest is the HTTP request body for creating a ride.
type CreateRideRequest struct {
	Pickup         domain.Place `json:"pickup"`
	Drop           domain.Place `json:"drop"`
	SeatsRequested int          `json:"seatsRequested,omitempty"`
	ScheduledAt    *time.Time   `json:"scheduledAt,omitempty"`
}

// AcceptRideRequest is the HTTP request body for accepting a ride.
type AcceptRideRequest struct {
	BaseFare float64 `json:"baseFare"`
}

// JoinRideRequest is the HTTP request body for asking to join a ride.
type JoinRideRequest struct {
	Pickup domain.Place `json:"pickup"`
	Drop   domain.Place `json:"drop"`
}

// ApprovalRequest is the HTTP request body for answering a join request.
type ApprovalRequest struct {
	Approve *bool `json:"approve"`
}

// VerifyOTPRequest is the HTTP request body for verifying the boarding code.
type VerifyOTPRequest struct {
	OTP string `json:"otp"`
}

// CancelRideRequest is the HTTP request body for cancelling a ride.
type CancelRideRequest struct {
	Reason string `json:"reason,omitempty"`
}

// JoinRideResponse acknowledges a pending join request.
type JoinRideResponse struct {
	Accepted bool      `json:"accepted"`
	Ride     view.Ride `json:"ride"`
}

// ActiveRideResponse wraps the caller's unfinished ride, if any.
type ActiveRideResponse struct {
	Ride *view.Ride `json:"ride"`
}

// CreateRide handles POST /v1/rides
func (h *RideHandler) CreateRide(c *gin.Context) {
	var req CreateRideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	callerID := middleware.CurrentUserID(c)
	ride, err := h.rideService.CreateRide(c.Request.Context(), service.CreateRideRequest{
		CreatorID:      callerID,
		Pickup:         req.Pickup,
		Drop:           req.Drop,
		SeatsRequested: req.SeatsRequested,
		ScheduledAt:    req.ScheduledAt,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusCreated, view.NewRide(ride, callerID))
}

// GetRide handles GET /v1/rides/:id
func (h *RideHandler) GetRide(c *gin.Context) {
	ride, err := h.rideService.GetRide(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, view.NewRide(ride, middleware.CurrentUserID(c)))
}

// ListAvailable handles GET /v1/rides/available
func (h *RideHandler) ListAvailable(c *gin.Context) {
	limit := defaultListLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "limit must be a positive integer"})
			return
		}
		limit = min(n, maxListLimit)
	}

	rides, err := h.rideService.ListAvailable(c.Request.Context(), limit)
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, view.NewRides(rides, middleware.CurrentUserID(c)))
}

// GetActive handles GET /v1/rides/active. Drivers get the ride they are
// driving, everyone else the ride they sit on.
func (h *RideHandler) GetActive(c *gin.Context) {
	caller := middleware.CurrentUser(c)
	if caller == nil {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "missing " + middleware.UserIDHeader + " header"})
		return
	}

	var (
		ride *domain.Ride
		err  error
	)
	if caller.Role == domain.UserRoleDriver {
		ride, err = h.rideService.GetActiveDriverRide(c.Request.Context(), caller.ID)
	} else {
		ride, err = h.rideService.GetActiveRide(c.Request.Context(), caller.ID)
	}
	if err != nil {
		respondError(c, err)
		return
	}

	var response ActiveRideResponse
	if ride != nil {
		v := view.NewRide(ride, caller.ID)
		response.Ride = &v
	}
	respondJSON(c, http.StatusOK, response)
}

// AcceptRide handles POST /v1/rides/:id/accept
func (h *RideHandler) AcceptRide(c *gin.Context) {
	var req AcceptRideRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	callerID := middleware.CurrentUserID(c)
	ride, err := h.rideService.AcceptRide(c.Request.Context(), service.AcceptRideRequest{
		RideID:   c.Param("id"),
		DriverID: callerID,
		BaseFare: req.BaseFare,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, view.NewRide(ride, callerID))
}

// RequestJoin handles POST /v1/rides/:id/join
func (h *RideHandler) RequestJoin(c *gin.Context) {
	var req JoinRideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	callerID := middleware.CurrentUserID(c)
	ride, err := h.rideService.RequestJoin(c.Request.Context(), service.RequestJoinRequest{
		RideID:      c.Param("id"),
		RequesterID: callerID,
		Pickup:      req.Pickup,
		Drop:        req.Drop,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	// The request waits on the passengers' decision.
	respondJSON(c, http.StatusAccepted, JoinRideResponse{Accepted: true, Ride: view.NewRide(ride, callerID)})
}

// ApproveJoin handles POST /v1/rides/:id/approvals/:requesterId
func (h *RideHandler) ApproveJoin(c *gin.Context) {
	var req ApprovalRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Approve == nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "approve is required"})
		return
	}

	callerID := middleware.CurrentUserID(c)
	ride, err := h.rideService.ApproveJoin(c.Request.Context(), service.ApproveJoinRequest{
		RideID:      c.Param("id"),
		RequesterID: c.Param("requesterId"),
		ApproverID:  callerID,
		Approve:     *req.Approve,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, view.NewRide(ride, callerID))
}

// VerifyOTP handles POST /v1/rides/:id/verify-otp
func (h *RideHandler) VerifyOTP(c *gin.Context) {
	var req VerifyOTPRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.OTP == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "otp is required"})
		return
	}

	callerID := middleware.CurrentUserID(c)
	ride, err := h.rideService.VerifyOTP(c.Request.Context(), c.Param("id"), callerID, req.OTP)
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, view.NewRide(ride, callerID))
}

// CompleteRide handles POST /v1/rides/:id/complete
func (h *RideHandler) CompleteRide(c *gin.Context) {
	callerID := middleware.CurrentUserID(c)
	ride, err := h.rideService.CompleteRide(c.Request.Context(), c.Param("id"), callerID)
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, view.NewRide(ride, callerID))
}

// CancelRide handles POST /v1/rides/:id/cancel
func (h *RideHandler) CancelRide(c *gin.Context) {
	var req CancelRideRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	callerID := middleware.CurrentUserID(c)
	ride, err := h.rideService.CancelRide(c.Request.Context(), service.CancelRideRequest{
		RideID:   c.Param("id"),
		CallerID: callerID,
		Reason:   req.Reason,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, view.NewRide(ride, callerID))
}

// bindOptionalJSON binds the body when one was sent.
func bindOptionalJSON(c *gin.Context, obj any) error {
	if c.Request.ContentLength == 0 {
		return nil
	}
	return c.ShouldBindJSON(obj)
}
