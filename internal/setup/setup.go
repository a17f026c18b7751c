package setup

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robalyx/jointracker/internal/database"
	"github.com/robalyx/jointracker/internal/database/sqlite"
	"github.com/robalyx/jointracker/internal/redis"
	"github.com/robalyx/jointracker/internal/scheduler/jobstatus"
	"github.com/robalyx/jointracker/internal/setup/config"
	"github.com/robalyx/jointracker/internal/setup/telemetry"
	"github.com/uptrace/uptrace-go/uptrace"
	"go.uber.org/zap"
)

// App bundles all core dependencies and services needed by the application.
// Each field represents a major subsystem that needs initialization and cleanup.
type App struct {
	Config        *config.Config      // Application configuration
	Logger        *zap.Logger         // Main application logger
	DBLogger      *zap.Logger         // Database-specific logger
	DB            database.Client     // Storage backend selected by the config
	RedisManager  *redis.Manager      // Redis connection manager
	StatusMonitor *jobstatus.Monitor  // Job status store, nil when Redis is disabled
	LogManager    *telemetry.Manager  // Log management system
	tracing       bool                // Whether the OpenTelemetry exporter was configured
	servers       []*debugServer      // Debug HTTP servers for pprof and metrics
}

// InitializeApp bootstraps all application dependencies in the correct order,
// ensuring each component has its required dependencies available.
func InitializeApp(ctx context.Context, serviceType telemetry.ServiceType, logDir string) (*App, error) {
	// Load app configuration
	cfg, _, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}

	// Tracing is configured before the loggers so error spans have an exporter
	tracing := cfg.Common.Telemetry.UptraceDSN != ""
	if tracing {
		uptrace.ConfigureOpentelemetry(
			uptrace.WithDSN(cfg.Common.Telemetry.UptraceDSN),
			uptrace.WithServiceName(cfg.Common.Telemetry.ServiceName),
			uptrace.WithServiceVersion(config.RepositoryVersion),
			uptrace.WithDeploymentEnvironment(cfg.Common.Telemetry.Environment),
		)
	}

	// Logging system is initialized next to capture setup issues
	logManager := telemetry.NewManager(serviceType, logDir, &cfg.Common.Debug, tracing)

	logger, dbLogger, err := logManager.GetLoggers()
	if err != nil {
		return nil, err
	}

	// Redis manager provides connection pools for various subsystems
	redisManager := redis.NewManager(&cfg.Common.Redis, logger)

	db, err := openStorage(ctx, &cfg.Common, dbLogger)
	if err != nil {
		redisManager.Close()
		return nil, err
	}

	// Job statuses are optional and only kept when Redis is enabled
	var statusMonitor *jobstatus.Monitor

	if cfg.Common.Redis.Enabled {
		statusClient, err := redisManager.GetClient(redis.JobStatusDBIndex)
		if err != nil {
			_ = db.Close()
			redisManager.Close()

			return nil, err
		}

		statusMonitor = jobstatus.NewMonitor(statusClient,
			time.Duration(cfg.Bot.Scheduler.StatusTTL)*time.Second, logger)
	}

	app := &App{
		Config:        cfg,
		Logger:        logger,
		DBLogger:      dbLogger.Named("database"),
		DB:            db,
		RedisManager:  redisManager,
		StatusMonitor: statusMonitor,
		LogManager:    logManager,
		tracing:       tracing,
	}

	// Start pprof server if enabled
	if cfg.Common.Debug.EnablePprof {
		srv, err := startPprofServer(cfg.Common.Debug.PprofPort, logger)
		if err != nil {
			logger.Error("Failed to start pprof server", zap.Error(err))
		} else {
			app.servers = append(app.servers, srv)

			logger.Warn("pprof debugging endpoint enabled - this should not be used in production!")
		}
	}

	// Metrics are only served by the long running bot
	if serviceType == telemetry.ServiceBot && cfg.Bot.Metrics.ListenAddr != "" {
		srv, err := startMetricsServer(cfg.Bot.Metrics.ListenAddr, logger)
		if err != nil {
			logger.Error("Failed to start metrics server", zap.Error(err))
		} else {
			app.servers = append(app.servers, srv)
		}
	}

	return app, nil
}

// openStorage connects to the configured storage backend. PostgreSQL refuses to
// start with pending migrations unless auto migration is enabled.
func openStorage(ctx context.Context, cfg *config.CommonConfig, dbLogger *zap.Logger) (database.Client, error) {
	switch cfg.Storage.Driver {
	case config.DriverPostgres:
		db, err := database.NewConnection(ctx, &cfg.PostgreSQL, dbLogger)
		if err != nil {
			return nil, err
		}

		if err := db.EnsureMigrated(ctx, cfg.PostgreSQL.AutoMigrate); err != nil {
			_ = db.Close()
			return nil, err
		}

		return db, nil

	case config.DriverSQLite:
		db, err := sqlite.Open(ctx, &cfg.SQLite, dbLogger)
		if err != nil {
			return nil, err
		}

		return db, nil

	default:
		return nil, fmt.Errorf("%w: %s", config.ErrUnknownStorageDriver, cfg.Storage.Driver)
	}
}

// Cleanup ensures graceful shutdown of all components in reverse initialization order.
// Logs but does not fail on cleanup errors to ensure all components get cleanup attempts.
func (s *App) Cleanup(ctx context.Context) {
	// Shutdown debug servers
	for _, srv := range s.servers {
		if err := srv.srv.Shutdown(ctx); err != nil {
			s.Logger.Error("Failed to shutdown debug server", zap.String("name", srv.name), zap.Error(err))
		}
	}

	// Close database connections
	if err := s.DB.Close(); err != nil {
		s.Logger.Error("Failed to close database connection", zap.Error(err))
	}

	// Close Redis connections after the components that report through them
	s.RedisManager.Close()

	// Flush pending spans
	if s.tracing {
		if err := uptrace.Shutdown(ctx); err != nil {
			s.Logger.Error("Failed to shutdown tracing", zap.Error(err))
		}
	}

	// Sync buffered logs before shutdown
	if err := s.Logger.Sync(); err != nil {
		log.Printf("Failed to sync logger: %v", err)
	}

	if err := s.DBLogger.Sync(); err != nil {
		log.Printf("Failed to sync DB logger: %v", err)
	}

	s.LogManager.Stop()
}
