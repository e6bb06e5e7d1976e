package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"splitride/internal/repository"
	"splitride/internal/service"
)

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// respondError sends an error response with the appropriate HTTP status code.
func respondError(c *gin.Context, err error) {
	code := mapErrorToHTTPStatus(err)
	c.JSON(code, ErrorResponse{Error: err.Error()})
}

// respondJSON sends a JSON response with the given status code.
func respondJSON(c *gin.Context, code int, data any) {
	c.JSON(code, data)
}

// mapErrorToHTTPStatus maps service/repository errors to HTTP status codes.
func mapErrorToHTTPStatus(err error) int {
	switch {
	// Not found errors
	case errors.Is(err, repository.ErrNotFound),
		errors.Is(err, service.ErrRideNotFound),
		errors.Is(err, service.ErrUserNotFound),
		errors.Is(err, service.ErrRequestNotFound):
		return http.StatusNotFound

	// Validation errors - Bad Request
	case errors.Is(err, service.ErrInvalidLocation),
		errors.Is(err, service.ErrInvalidRideID),
		errors.Is(err, service.ErrInvalidUserID),
		errors.Is(err, service.ErrInvalidFare),
		errors.Is(err, service.ErrInvalidSeats),
		errors.Is(err, service.ErrInvalidOTP):
		return http.StatusBadRequest

	// Caller may not perform the transition
	case errors.Is(err, service.ErrNotAuthorized):
		return http.StatusForbidden

	// Conflict errors
	case errors.Is(err, service.ErrAlreadyAccepted),
		errors.Is(err, service.ErrAlreadyRequested),
		errors.Is(err, service.ErrConflict),
		errors.Is(err, service.ErrRideFull),
		errors.Is(err, service.ErrRideNotActive),
		errors.Is(err, service.ErrRideClosed),
		errors.Is(err, service.ErrRideBusy),
		errors.Is(err, repository.ErrConflict),
		errors.Is(err, repository.ErrDuplicate):
		return http.StatusConflict

	// Default to internal server error
	default:
		return http.StatusInternalServerError
	}
}
