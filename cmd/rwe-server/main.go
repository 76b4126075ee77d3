package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/vantage/rwe/internal/config"
	"github.com/vantage/rwe/internal/domain/cohort"
	"github.com/vantage/rwe/internal/domain/concept"
	"github.com/vantage/rwe/internal/domain/conversation"
	"github.com/vantage/rwe/internal/platform/auth"
	"github.com/vantage/rwe/internal/platform/db"
	"github.com/vantage/rwe/internal/platform/genie"
	"github.com/vantage/rwe/internal/platform/middleware"
	"github.com/vantage/rwe/internal/platform/warehouse"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "rwe-server",
		Short: "OMOP cohort and conversational query API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(pingCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

// pingCmd checks warehouse connectivity and reports headline counts.
func pingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check warehouse connectivity",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return fmt.Errorf("warehouse unreachable: %w", err)
			}
			defer pool.Close()

			exec := warehouse.NewPGExecutor(pool)
			v, err := exec.QueryScalar(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s.person", cfg.OMOPFullSchema()))
			if err != nil {
				return fmt.Errorf("person table not readable: %w", err)
			}
			count, _ := warehouse.AsInt64(v)

			fmt.Printf("warehouse ok, %d patients in %s\n", count, cfg.OMOPFullSchema())
			return nil
		},
	}
}

func runServer() error {
	// Logger
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	// Warehouse
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to warehouse")
	}
	defer pool.Close()
	logger.Info().Str("schema", cfg.OMOPFullSchema()).Msg("connected to warehouse")

	exec := warehouse.NewPGExecutor(pool)

	// AI query service
	genieClient := genie.NewClient(cfg.DatabricksHost, cfg.DatabricksToken, cfg.GenieSpaceID)
	if !genieClient.Configured() {
		logger.Warn().Msg("AI query service not configured, conversational queries use keyword fallback")
	}

	// Domain services
	schema := cfg.OMOPFullSchema()
	conceptSvc := concept.NewService(concept.NewRepoPG(pool, schema))
	cohortSvc := cohort.NewService(cohort.NewCompiler(schema), exec, schema)
	matcher := conversation.NewMatcher(conceptSvc, logger)
	convSvc := conversation.NewService(conversation.NewStore(), genieClient, matcher, cohortSvc, exec, logger)

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	// Auth middleware
	if cfg.ResolvedAuthMode() == "development" {
		e.Use(auth.DevAuthMiddleware())
	} else {
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			SigningKey: []byte(cfg.JWTSigningKey),
		}))
	}

	// API group
	apiV1 := e.Group("/api/v1")

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	apiV1.Use(middleware.RateLimit(rateLimitCfg))
	apiV1.Use(auth.RequireRole("analyst"))

	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/health/db", db.HealthHandler(pool))

	// Routes
	concept.NewHandler(conceptSvc).RegisterRoutes(apiV1)
	cohort.NewHandler(cohortSvc).RegisterRoutes(apiV1)
	conversation.NewHandler(convSvc).RegisterRoutes(apiV1)

	// Start server
	addr := ":" + cfg.Port
	logger.Info().Str("addr", addr).Str("env", cfg.Env).Msg("starting server")
	go func() {
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
