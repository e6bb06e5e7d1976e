package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"splitride/internal/domain"
	"splitride/internal/repository"
)

// UserHandler handles HTTP requests for users.
type UserHandler struct {
	userRepo repository.UserRepository
}

// NewUserHandler creates a new UserHandler.
func NewUserHandler(userRepo repository.UserRepository) *UserHandler {
	return &UserHandler{userRepo: userRepo}
}

// RegisterRequest is the HTTP request body for user registration.
type RegisterRequest struct {
	Name    string          `json:"name"`
	Phone   string          `json:"phone"`
	Role    domain.UserRole `json:"role,omitempty"`
	Vehicle *domain.Vehicle `json:"vehicle,omitempty"`
}

// UserResponse is the HTTP response for user data.
type UserResponse struct {
	ID      string          `json:"id"`
	Name    string          `json:"name"`
	Phone   string          `json:"phone"`
	Role    domain.UserRole `json:"role"`
	Vehicle *domain.Vehicle `json:"vehicle,omitempty"`
}

func newUserResponse(u *domain.User) UserResponse {
	return UserResponse{ID: u.ID, Name: u.Name, Phone: u.Phone, Role: u.Role, Vehicle: u.Vehicle}
}

// Register handles POST /v1/users/register
func (h *UserHandler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	if req.Name == "" || req.Phone == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "name and phone are required"})
		return
	}

	switch req.Role {
	case "":
		req.Role = domain.UserRolePassenger
	case domain.UserRolePassenger:
	case domain.UserRoleDriver:
		if req.Vehicle == nil || req.Vehicle.Number == "" {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "drivers must register a vehicle"})
			return
		}
	default:
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "role must be passenger or driver"})
		return
	}
	if req.Role == domain.UserRolePassenger {
		req.Vehicle = nil
	}

	// Check if user already exists
	existing, err := h.userRepo.GetByPhone(c.Request.Context(), req.Phone)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		respondError(c, err)
		return
	}

	if existing != nil {
		c.JSON(http.StatusConflict, gin.H{
			"message": "User already registered",
			"user":    newUserResponse(existing),
		})
		return
	}

	user := &domain.User{
		ID:        uuid.New().String(),
		Name:      req.Name,
		Phone:     req.Phone,
		Role:      req.Role,
		Vehicle:   req.Vehicle,
		CreatedAt: time.Now().UTC(),
	}

	if err := h.userRepo.Create(c.Request.Context(), user); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, newUserResponse(user))
}

// GetUser handles GET /v1/users/:id
func (h *UserHandler) GetUser(c *gin.Context) {
	user, err := h.userRepo.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, newUserResponse(user))
}
