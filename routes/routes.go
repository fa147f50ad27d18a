package routes

import (
	"time"

	"homepro/handlers"
	"homepro/middleware"
	"homepro/models"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// RegisterBookingRoutes sets up the booking lifecycle endpoints.
func RegisterBookingRoutes(r gin.IRouter, hb *handlers.HandlerBundle) {
	api := r.Group("/bookings")
	{
		api.Use(middleware.JWTAuthMiddleware(hb.JWTSecret))
		api.POST("", middleware.RequireRole(models.RoleCustomer), hb.Booking.CreateBookingHandler)
		api.GET("", hb.Booking.ListBookingsHandler)
		api.GET("/:id", hb.Booking.GetBookingHandler)
		api.GET("/:id/history", hb.Booking.GetHistoryHandler)
		api.POST("/:id/transition", hb.Booking.TransitionHandler)
		api.POST("/:id/authorize", middleware.RequireRole(models.RoleCustomer), hb.Booking.AuthorizeHandler)
		api.POST("/:id/capture", middleware.RequireRole(models.RolePro), hb.Booking.RetryCaptureHandler)
	}
}

// RegisterDeviceRoutes lets apps register push targets.
func RegisterDeviceRoutes(r gin.IRouter, hb *handlers.HandlerBundle) {
	api := r.Group("/devices")
	{
		api.Use(middleware.JWTAuthMiddleware(hb.JWTSecret), middleware.RequireRole(models.RoleCustomer, models.RolePro))
		api.PUT("", hb.Device.RegisterDeviceHandler)
	}
}

// RegisterWebhookRoutes registers gateway callbacks. They authenticate by
// signature, not by token, and are exempt from the rate limiter.
func RegisterWebhookRoutes(r *gin.Engine, hb *handlers.HandlerBundle) {
	r.POST("/webhooks/payment", hb.Webhook.PaymentWebhookHandler)
}

// RegisterHealthRoute registers a health-check endpoint.
func RegisterHealthRoute(r *gin.Engine, hb *handlers.HandlerBundle) {
	r.GET("/health", hb.Health.HealthHandler)
}

// RegisterRoutes centralizes registration of all endpoints and middleware.
func RegisterRoutes(r *gin.Engine, hb *handlers.HandlerBundle) {
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Authorization", "Content-Type", "X-Request-ID"},
		ExposeHeaders:    []string{"Content-Length", "X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	RegisterHealthRoute(r, hb)
	RegisterWebhookRoutes(r, hb)

	api := r.Group("/api", middleware.RateLimitMiddleware(hb.MaxRequestsPerMin))
	RegisterBookingRoutes(api, hb)
	RegisterDeviceRoutes(api, hb)
}
