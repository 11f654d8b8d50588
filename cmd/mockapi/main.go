package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/loadlab/loadlab/pkg/api/handlers"
	"github.com/loadlab/loadlab/pkg/api/middleware"
	"github.com/loadlab/loadlab/pkg/config"
	"github.com/loadlab/loadlab/pkg/logger"
	"github.com/loadlab/loadlab/pkg/metrics"
	"github.com/loadlab/loadlab/pkg/routespec"
	"github.com/loadlab/loadlab/pkg/store"
)

func main() {
	// Parse command-line flags
	configPath := flag.String("config", "", "Path to configuration file (TOML); environment variables override")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger with config
	log, err := logger.NewLogger(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting mock API",
		zap.String("config_file", *configPath),
		zap.Int("port", cfg.Server.Port),
		zap.Int("routes", len(cfg.Routes)),
		zap.Bool("metrics_enabled", cfg.Metrics.Enabled),
	)

	// Build the route specification from configuration. Every route the
	// server answers comes from here; nothing is hard coded.
	spec, err := routespec.FromConfig(cfg.Routes)
	if err != nil {
		log.Error("Invalid route configuration", zap.Error(err))
		os.Exit(1)
	}
	for _, route := range spec.Routes() {
		log.Info("Registered route",
			zap.String("name", route.Name),
			zap.String("method", route.Method),
			zap.String("path", route.Template),
			zap.Duration("latency", route.Latency),
			zap.String("handler", route.Handler),
		)
	}

	appStore := store.NewAppStore()

	metrics.SetEnabled(cfg.Metrics.Enabled)
	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewServer(&cfg.Metrics, log)
		if err := metricsServer.Start(); err != nil {
			log.Error("Failed to start metrics server", zap.Error(err))
			os.Exit(1)
		}
	}

	dispatcher, err := handlers.NewDispatcher(spec, appStore, log)
	if err != nil {
		log.Error("Invalid handler configuration", zap.Error(err))
		os.Exit(1)
	}

	// Initialize Gin router
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	// Add middleware
	// CorrelationID must be registered first so the ID is available in
	// context for subsequent middleware and handlers
	router.Use(middleware.CorrelationID(log))
	router.Use(middleware.Recovery(log))
	router.Use(middleware.Logging(log))
	router.Use(middleware.Metrics())

	// All requests fall through to the dispatcher
	dispatcher.Register(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	// Start server in a goroutine
	go func() {
		log.Info("Serving HTTP", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down mock API")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}

	if metricsServer != nil {
		if err := metricsServer.Stop(ctx); err != nil {
			log.Error("Metrics server forced to shutdown", zap.Error(err))
		}
	}

	log.Info("Mock API stopped", zap.Int("apps_created", appStore.Len()))
}
