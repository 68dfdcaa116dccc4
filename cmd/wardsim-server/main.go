package main

import (
	"context"
	crypto_rand "crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/wardsim/wardsim/internal/config"
	"github.com/wardsim/wardsim/internal/domain/patient"
	"github.com/wardsim/wardsim/internal/domain/rules"
	"github.com/wardsim/wardsim/internal/domain/session"
	"github.com/wardsim/wardsim/internal/engine"
	"github.com/wardsim/wardsim/internal/platform/auth"
	"github.com/wardsim/wardsim/internal/platform/db"
	"github.com/wardsim/wardsim/internal/platform/middleware"
	ws "github.com/wardsim/wardsim/internal/platform/websocket"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "wardsim-server",
		Short: "Maternity ward simulation training server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the simulation server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.DatabaseURL == "" {
				return fmt.Errorf("DATABASE_URL is not set")
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			count, err := migrator.Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.DatabaseURL == "" {
				return fmt.Errorf("DATABASE_URL is not set")
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			statuses, err := migrator.Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	return cmd
}

func runServer() error {
	// Logger
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" || os.Getenv("ENV") == "" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	// Facilitator tokens need a signing secret. Outside production a random
	// per-process one is fine; tokens just stop working across restarts.
	jwtSecret := cfg.JWTSecret
	if jwtSecret == "" {
		buf := make([]byte, 32)
		if _, err := crypto_rand.Read(buf); err != nil {
			logger.Fatal().Err(err).Msg("failed to generate JWT secret")
		}
		jwtSecret = hex.EncodeToString(buf)
		logger.Warn().Msg("JWT_SECRET not set, generated an ephemeral one")
	}

	ctx := context.Background()

	// Stores. Sessions and the event log move to Postgres when DATABASE_URL
	// is set; users, patients and live resource state are always in memory
	// because they are bound to connected clients.
	stores := engine.Stores{
		Sessions:  session.NewMemRepo(),
		Users:     session.NewMemUserRepo(),
		Events:    session.NewMemEventRepo(),
		Resources: session.NewMemResourceRepo(),
		Patients:  patient.NewMemRepo(),
		Configs:   rules.NewMemConfigRepo(),
		Scenarios: rules.NewMemScenarioRepo(),
	}

	var pool *pgxpool.Pool
	if cfg.DatabaseURL != "" {
		pool, err = db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer pool.Close()

		migrator := db.NewMigrator(pool, "./migrations")
		count, err := migrator.Up(ctx)
		if err != nil {
			logger.Fatal().Err(err).Msg("migrations failed")
		}
		logger.Info().Int("applied", count).Msg("database ready")

		stores.Sessions = session.NewPGRepo(pool)
		stores.Events = session.NewPGEventRepo(pool)
	}

	// Clinical rules and scenarios
	rulesCfg, err := rules.LoadConfigFile(cfg.RulesPath)
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.RulesPath).Msg("failed to load clinical rules")
	}
	cv := &rules.ConfigVersion{
		Version:   rulesCfg.Version,
		Label:     "default",
		Config:    *rulesCfg,
		CreatedAt: time.Now(),
		CreatedBy: "system",
	}
	if err := stores.Configs.Add(ctx, cv); err != nil {
		logger.Fatal().Err(err).Msg("failed to register clinical rules")
	}

	scenarios, err := rules.LoadScenarioDir(cfg.ScenarioDir)
	if err != nil {
		logger.Fatal().Err(err).Str("dir", cfg.ScenarioDir).Msg("failed to load scenarios")
	}
	for _, s := range scenarios {
		if err := stores.Scenarios.Add(ctx, s); err != nil {
			logger.Fatal().Err(err).Str("scenario", s.ID).Msg("failed to register scenario")
		}
	}
	logger.Info().Int("scenarios", len(scenarios)).Int("rules_version", rulesCfg.Version).Msg("clinical data loaded")

	// Engine and realtime plumbing
	hub := ws.NewHub()
	pub := ws.NewHubPublisher(hub)
	runner := engine.NewRunner(stores, pub, engine.NewTickerScheduler(), engine.NewRand(time.Now().UnixNano()), logger)
	runner.SetTickInterval(time.Duration(cfg.TickIntervalMs) * time.Millisecond)

	sessionSvc := session.NewService(stores.Sessions, stores.Users, stores.Events, stores.Resources, stores.Patients)
	issuer := auth.NewIssuer(jwtSecret)

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))
	e.Use(middleware.RequestTimeout(30 * time.Second))
	e.Use(middleware.BodyLimit("1M"))

	api := e.Group("/api")
	api.Use(middleware.RateLimit(middleware.DefaultRateLimitConfig()))

	session.NewHandler(sessionSvc).RegisterRoutes(api, issuer)
	rules.NewHandler(stores.Configs, stores.Scenarios).RegisterRoutes(api)

	wsHandler := ws.NewHandler(hub, sessionSvc, runner, stores, issuer, logger)
	wsHandler.RegisterRoutes(e.Group(""))

	api.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": "0.1.0",
		})
	})
	if pool != nil {
		e.GET("/health/db", db.HealthHandler(pool))
	}

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
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
