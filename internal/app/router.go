package app

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/newrelic/go-agent/v3/integrations/nrgin"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"splitride/internal/handler"
	"splitride/internal/middleware"
	"splitride/internal/repository"
)

// RouterDeps contains all dependencies needed for the router.
type RouterDeps struct {
	RideHandler *handler.RideHandler
	UserHandler *handler.UserHandler
	WSHandler   *handler.WSHandler
	UserRepo    repository.UserRepository

	// ResponseStore backs Idempotency-Key replays; nil disables them.
	ResponseStore  middleware.ResponseStore
	RequestTimeout time.Duration
	NewRelicApp    *newrelic.Application
}

// NewRouter creates a new Gin router with all routes registered.
func NewRouter(deps RouterDeps) *gin.Engine {
	router := gin.New()

	// Global middleware.
	router.Use(gin.Recovery())
	router.Use(gin.Logger())
	router.Use(middleware.CORSMiddleware())

	// Add New Relic middleware if enabled.
	if deps.NewRelicApp != nil {
		router.Use(nrgin.Middleware(deps.NewRelicApp))
	}

	router.Use(middleware.MetricsMiddleware())
	router.Use(middleware.IdempotencyMiddleware(deps.ResponseStore))

	// Health check.
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	if deps.WSHandler != nil {
		router.GET("/ws", middleware.Identity(deps.UserRepo, false), deps.WSHandler.Connect)
	}

	// API v1 routes.
	v1 := router.Group("/v1", middleware.RequestTimeout(deps.RequestTimeout))
	{
		// User routes.
		users := v1.Group("/users")
		{
			users.POST("/register", deps.UserHandler.Register)
			users.GET("/:id", deps.UserHandler.GetUser)
		}

		// Ride routes. Every ride call acts on behalf of a known user.
		rides := v1.Group("/rides", middleware.Identity(deps.UserRepo, true))
		{
			rides.POST("", deps.RideHandler.CreateRide)
			rides.GET("/available", deps.RideHandler.ListAvailable)
			rides.GET("/active", deps.RideHandler.GetActive)
			rides.GET("/:id", deps.RideHandler.GetRide)
			rides.POST("/:id/accept", deps.RideHandler.AcceptRide)
			rides.POST("/:id/join", deps.RideHandler.RequestJoin)
			rides.POST("/:id/approvals/:requesterId", deps.RideHandler.ApproveJoin)
			rides.POST("/:id/verify-otp", deps.RideHandler.VerifyOTP)
			rides.POST("/:id/complete", deps.RideHandler.CompleteRide)
			rides.POST("/:id/cancel", deps.RideHandler.CancelRide)
		}
	}

	return router
}
