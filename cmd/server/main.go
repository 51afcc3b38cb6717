package main

import (
	"alcyxob/fitness-booking/internal/api"
	"alcyxob/fitness-booking/internal/config"
	"alcyxob/fitness-booking/internal/service"
	"context"
	"errors"
	"flag"
	"io/fs"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

// @title Fitness Class Booking API
// @version 1.0
// @description Class catalog, seat reservations and capacity management.
// @BasePath /api
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and JWT token.
func main() {
	configPath := flag.String("config", ".", "directory containing config.yaml")
	reconcileAll := flag.Bool("reconcile-all", false, "recount booked seats for every class, repair drift and exit")
	flag.Parse()

	log.Println("Starting Fitness Booking Server...")

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("WARN: Could not load .env file: %v", err)
	}

	// --- Configuration ---
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("FATAL: Could not load config: %v", err)
	}
	log.Printf("Configuration loaded (database driver: %s).", cfg.Database.Driver)

	// --- Database ---
	st, err := openStore(cfg.Database)
	if err != nil {
		log.Fatalf("FATAL: Could not open %s store: %v", cfg.Database.Driver, err)
	}
	defer st.close()

	// --- Infrastructure ---
	infra, err := newInfra(cfg)
	if err != nil {
		st.close()
		log.Fatalf("FATAL: %v", err)
	}
	defer infra.close()

	// --- Initialize Services ---
	log.Println("Initializing services...")
	bookingService := service.NewBookingService(st.classes, st.reservations, st.tx, infra.locker, infra.publisher)
	queryService := service.NewBookingQueryService(st.classes, st.reservations)
	classService := service.NewClassService(st.classes, st.reservations, infra.locker, infra.publisher, time.Now)
	rosterService := service.NewRosterService(st.classes, st.reservations, infra.fileStorage, cfg.S3.URLExpiry)

	if *reconcileAll {
		code := runReconcileAll(bookingService)
		infra.close()
		st.close()
		os.Exit(code)
	}

	// --- Initialize Gin Engine ---
	router := gin.Default() // Includes Logger and Recovery middleware

	log.Println("Setting up API routes...")
	api.SetupRoutes(router, cfg.JWT.Secret,
		api.NewBookingHandler(bookingService, queryService, time.Now),
		api.NewClassHandler(classService, bookingService, rosterService),
		api.NewAdminHandler(classService),
		api.RateLimitMiddleware(cfg.RateLimit, infra.redis),
	)

	// --- Start HTTP Server ---
	server := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	log.Printf("Server starting on %s", cfg.Server.Address)

	// --- Graceful Shutdown ---
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("FATAL: ListenAndServe Error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()

	if err := server.Shutdown(ctxShutdown); err != nil {
		log.Printf("ERROR: Server forced to shutdown: %v", err)
	}

	log.Println("Server exiting.")
}

func runReconcileAll(bookingService service.BookingService) int {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	log.Println("Reconciling occupancy for all classes...")
	results, err := bookingService.ReconcileAll(ctx)
	drifted := 0
	for _, r := range results {
		if r.Drift {
			drifted++
		}
	}
	log.Printf("Reconciled %d classes, repaired %d.", len(results), drifted)
	if err != nil {
		log.Printf("ERROR: Reconciliation finished with errors: %v", err)
		return 1
	}
	return 0
}
