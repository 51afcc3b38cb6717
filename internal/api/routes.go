package api

import (
	"alcyxob/fitness-booking/internal/domain"
	"net/http"

	"github.com/gin-gonic/gin"
)

func SetupRoutes(
	router *gin.Engine,
	jwtSecret string,
	bookingHandler *BookingHandler,
	classHandler *ClassHandler,
	adminHandler *AdminHandler,
	rateLimit gin.HandlerFunc,
) {
	if rateLimit == nil {
		rateLimit = func(c *gin.Context) { c.Next() }
	}
	authMiddleware := AuthMiddleware(jwtSecret)
	adminOnly := RoleMiddleware(domain.RoleAdmin)

	api := router.Group("/api")

	api.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "Server is running!"})
	})

	// --- Class catalog ---
	classes := api.Group("/classes")
	{
		// Public reads
		classes.GET("", classHandler.ListClasses)
		classes.GET("/:id", classHandler.GetClass)

		// Staff only
		classes.POST("", authMiddleware, adminOnly, classHandler.CreateClass)
		classes.PUT("/:id", authMiddleware, adminOnly, classHandler.UpdateClass)
		classes.DELETE("/:id", authMiddleware, adminOnly, classHandler.CancelClass)
		classes.POST("/:id/reconcile", authMiddleware, adminOnly, classHandler.ReconcileClass)
		classes.POST("/:id/roster/export", authMiddleware, adminOnly, classHandler.ExportRoster)
	}

	// --- Bookings ---
	bookings := api.Group("/bookings")
	bookings.Use(authMiddleware, RoleMiddleware(domain.RoleMember, domain.RoleAdmin))
	{
		bookings.POST("", rateLimit, bookingHandler.Reserve)
		bookings.PATCH("/:id/cancel", rateLimit, bookingHandler.Cancel)
		bookings.GET("/me", bookingHandler.MyBookings)
	}

	// --- Admin dashboard ---
	admin := api.Group("/admin")
	admin.Use(authMiddleware, adminOnly)
	{
		admin.GET("/stats", adminHandler.Stats)
	}
}
