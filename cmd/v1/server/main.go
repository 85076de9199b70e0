package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/traybueno/watchtower-api/internal/v1/auth"
	"github.com/traybueno/watchtower-api/internal/v1/config"
	"github.com/traybueno/watchtower-api/internal/v1/health"
	"github.com/traybueno/watchtower-api/internal/v1/hosting"
	"github.com/traybueno/watchtower-api/internal/v1/keys"
	"github.com/traybueno/watchtower-api/internal/v1/logging"
	"github.com/traybueno/watchtower-api/internal/v1/middleware"
	"github.com/traybueno/watchtower-api/internal/v1/room"
	"github.com/traybueno/watchtower-api/internal/v1/saves"
	"github.com/traybueno/watchtower-api/internal/v1/stats"
	"github.com/traybueno/watchtower-api/internal/v1/store"
)

const version = "1.0.0"

func main() {
	// Load .env file for local development.
	if err := godotenv.Load(); err != nil {
		slog.Warn("No .env file found, relying on environment variables")
	}

	cfg, err := config.ValidateEnv()
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	if err := logging.Initialize(cfg.GoEnv != "production"); err != nil {
		slog.Error("Failed to initialize logger", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	kv, err := store.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		logging.Fatal(ctx, "Failed to connect to store")
	}
	defer kv.Close()

	registry := keys.NewRegistry(kv)
	accumulator := stats.NewAccumulator(kv)
	subdomains := hosting.NewRegistry(kv)

	allowedOrigins := auth.ParseAllowedOrigins(cfg.AllowedOrigins, []string{"http://localhost:3000"})
	hub := room.NewHub(kv, accumulator, time.Duration(cfg.TickIntervalMs)*time.Millisecond, allowedOrigins)

	// --- Set up Server ---
	if cfg.GoEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CorrelationID())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = allowedOrigins
	corsConfig.AllowHeaders = append(corsConfig.AllowHeaders, "Authorization", auth.HeaderPlayerID)
	router.Use(cors.New(corsConfig))

	// Health/version root
	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"name":    "watchtower-api",
			"version": version,
			"status":  "ok",
		})
	})

	// Public surface, behind the API-key gate
	public := router.Group("/v1")
	public.Use(auth.Gate(registry))
	saves.NewHandler(kv, cfg.MaxSaveBytes).Register(public)
	stats.NewHandler(accumulator).Register(public)
	hub.Register(public)

	// Admin plane, behind the internal secret
	internal := router.Group("/internal")
	internal.Use(auth.Internal(cfg.InternalSecret))
	keys.NewHandler(registry).Register(internal)
	hosting.NewHandler(subdomains).Register(internal)

	// Probes and metrics
	healthHandler := health.NewHandler(kv)
	router.GET("/health/live", healthHandler.Liveness)
	router.GET("/health/ready", healthHandler.Readiness)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// --- Graceful Shutdown ---
	go func() {
		logging.Info(ctx, "API server starting on :"+cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Error(ctx, "Failed to run server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logging.Info(ctx, "Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := hub.Shutdown(shutdownCtx); err != nil {
		logging.Error(ctx, "Failed to close rooms cleanly")
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error(ctx, "Server forced to shutdown")
	}

	logging.Info(ctx, "Server exiting")
}
