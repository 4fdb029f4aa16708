// Session Core - Token Lifecycle & Session Continuity Service
//
// This is the main entry point for the Session Core daemon. It wires
// together the session service (JWT access tokens, single-use refresh
// tokens), the HTTP API with its WebSocket push channel, and the optional
// MQTT relay and InfluxDB telemetry backends.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/draycott/session-core/migrations"

	"github.com/draycott/session-core/internal/api"
	"github.com/draycott/session-core/internal/audit"
	"github.com/draycott/session-core/internal/auth"
	"github.com/draycott/session-core/internal/infrastructure/config"
	"github.com/draycott/session-core/internal/infrastructure/database"
	"github.com/draycott/session-core/internal/infrastructure/influxdb"
	"github.com/draycott/session-core/internal/infrastructure/logging"
	"github.com/draycott/session-core/internal/infrastructure/mqtt"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// sessionGaugeInterval is how often the active-session count is written to
// InfluxDB when telemetry is enabled.
const sessionGaugeInterval = time.Minute

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Session Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open database
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	// Run migrations
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Seed the first admin account on a fresh database. The generated
	// password is logged once and never stored in plaintext.
	userRepo := auth.NewUserRepository(db.DB)
	seedPassword, err := auth.SeedAdmin(ctx, userRepo, log.Logger)
	if err != nil {
		return fmt.Errorf("seeding admin account: %w", err)
	}
	if seedPassword != "" {
		log.Warn("seeded initial admin account; change this password",
			"username", "admin",
			"password", seedPassword,
		)
	}

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)

		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
	} else {
		log.Info("InfluxDB disabled")
	}

	// Assemble the session service
	tokenStore := auth.NewTokenStore(db.DB)
	issuer, err := auth.NewTokenIssuer(
		cfg.Security.JWT.Secret,
		cfg.AccessTokenTTL(),
		cfg.RefreshTokenTTL(),
		tokenStore,
	)
	if err != nil {
		return fmt.Errorf("creating token issuer: %w", err)
	}

	verifier := auth.NewCredentialVerifier(auth.VerifierConfig{
		BypassUsername:      cfg.Security.Bypass.Username,
		BypassRoles:         cfg.Security.Bypass.Roles,
		AdminOverrideSecret: cfg.Security.Admin.OverrideSecret,
		AdminUsername:       cfg.Security.Admin.Username,
		AdminPassword:       cfg.Security.Admin.Password,
	}, userRepo, log.Logger)

	auditRepo := audit.NewSQLiteRepository(db.DB)

	serviceDeps := auth.ServiceDeps{
		Issuer:   issuer,
		Store:    tokenStore,
		Verifier: verifier,
		Users:    userRepo,
		Audit:    auditRepo,
		Logger:   log.Logger,
	}
	if influxClient != nil {
		serviceDeps.Recorder = influxClient
	}
	sessions, err := auth.NewService(serviceDeps)
	if err != nil {
		return fmt.Errorf("creating session service: %w", err)
	}
	log.Info("session service initialised",
		"access_ttl", sessions.AccessTTL(),
		"refresh_ttl", sessions.RefreshTTL(),
	)

	// Purge expired refresh tokens in the background
	sweepInterval := time.Duration(cfg.Security.SweepInterval) * time.Second
	go sessions.RunSweep(ctx, sweepInterval)

	// Periodically record the concurrent session load
	if influxClient != nil {
		go runSessionGauge(ctx, sessions, influxClient, log)
	}

	// Connect to MQTT broker (optional) for cross-process session events
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
	} else {
		log.Info("MQTT disabled, session events are local to this process")
	}

	// Start the HTTP API and push channel
	server, err := api.New(api.Deps{
		Config:   cfg.API,
		WS:       cfg.WebSocket,
		Logger:   log,
		Sessions: sessions,
		Audit:    auditRepo,
		MQTT:     mqttClient,
		DB:       db,
		Version:  version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		log.Info("stopping API server")
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()
	log.Info("API server started",
		"host", cfg.API.Host,
		"port", cfg.API.Port,
		"tls", cfg.API.TLS.Enabled,
	)

	// Verify all connections are healthy
	if err := healthCheck(ctx, db, server, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order:
	// 1. API server (drains in-flight requests, closes push channels)
	// 2. MQTT (if enabled)
	// 3. InfluxDB (if enabled)
	// 4. Database

	log.Info("Session Core stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses SESSIONCORE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("SESSIONCORE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// runSessionGauge writes the active refresh token count to InfluxDB on a
// fixed cadence until the context is cancelled.
func runSessionGauge(ctx context.Context, sessions *auth.Service, influx *influxdb.Client, log *logging.Logger) {
	ticker := time.NewTicker(sessionGaugeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			count, err := sessions.ActiveSessions(ctx)
			if err != nil {
				log.Warn("counting active sessions", "error", err)
				continue
			}
			influx.WriteSessionGauge(count)
		}
	}
}

// healthCheck verifies all infrastructure connections are healthy.
// Optional components (MQTT, InfluxDB) are skipped when nil.
func healthCheck(ctx context.Context, db *database.DB, server *api.Server, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if err := server.HealthCheck(ctx); err != nil {
		return fmt.Errorf("api: %w", err)
	}

	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}
