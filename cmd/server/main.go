// cmd/server/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	_ "labdevice-service/docs"
	"labdevice-service/internal/config"
	"labdevice-service/internal/database"
	"labdevice-service/internal/driver"
	"labdevice-service/internal/handler"
	"labdevice-service/internal/metrics"
	"labdevice-service/internal/repository"
	"labdevice-service/internal/routes"
	"labdevice-service/internal/service"
	"labdevice-service/internal/utils"
)

const serviceName = "labdevice-service"

// Application represents the main application
type Application struct {
	config   *config.Config
	logger   *zap.Logger
	server   *http.Server
	database *database.DB

	// Event fan-out
	eventBus  *handler.EventBus
	wsHandler *handler.WebSocketHandler
	metrics   *metrics.Metrics

	// Services
	controllerService *service.ControllerService
	operationService  *service.OperationService
	discoveryService  *service.DiscoveryService

	operationRepo  repository.OperationRepository
	driverRegistry *driver.Registry

	ctx    context.Context
	cancel context.CancelFunc
}

// migrationFlags selects a one-shot migration command instead of serving
type migrationFlags struct {
	down    bool
	force   int
	version bool
}

func (m migrationFlags) requested() bool {
	return m.down || m.force >= 0 || m.version
}

// @title Lab Device Service API
// @version 1.0.0
// @description Control service for Prior ProScan III stage and filter wheel controllers
// @termsOfService http://swagger.io/terms/

// @contact.name Lab Device Service Support

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:8084
// @BasePath /api/v1
func main() {
	configPath := flag.String("config", "", "path to config.yaml")
	var migrations migrationFlags
	flag.BoolVar(&migrations.down, "migrate-down", false, "roll back all migrations and exit")
	flag.IntVar(&migrations.force, "migrate-force", -1, "force the migration version and exit")
	flag.BoolVar(&migrations.version, "migrate-version", false, "print the migration version and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if migrations.requested() {
		if err := runMigrationCommand(cfg, migrations); err != nil {
			fmt.Printf("Migration failed: %v\n", err)
			os.Exit(1)
		}
		return
	}

	// Initialize application
	app, err := NewApplication(cfg)
	if err != nil {
		fmt.Printf("Failed to initialize application: %v\n", err)
		os.Exit(1)
	}

	// Start the application
	if err := app.Start(); err != nil {
		app.logger.Fatal("Failed to start application", zap.Error(err))
	}
}

// runMigrationCommand runs a single migration command against the
// configured database
func runMigrationCommand(cfg *config.Config, flags migrationFlags) error {
	logger, err := utils.NewLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer utils.CloseLogger(logger)

	migrator := database.NewMigrator(logger, &cfg.Database)
	switch {
	case flags.down:
		return migrator.Down()
	case flags.force >= 0:
		return migrator.Force(flags.force)
	default:
		version, dirty, err := migrator.Version()
		if err != nil {
			return err
		}
		fmt.Printf("version=%d dirty=%t\n", version, dirty)
		return nil
	}
}

// NewApplication creates a new application instance
func NewApplication(cfg *config.Config) (*Application, error) {
	// Initialize logger
	logger, err := utils.NewLogger(&cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	serviceLogger := utils.NewServiceLogger(logger, serviceName)
	serviceLogger.LogServiceStart(cfg.App.Version,
		zap.String("environment", cfg.App.Environment),
		zap.Int("controllers", len(cfg.Controllers)),
		zap.Bool("database_enabled", cfg.Database.Enabled),
	)

	ctx, cancel := context.WithCancel(context.Background())
	app := &Application{
		config: cfg,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}

	// Initialize components
	if err := app.initializeDatabase(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	app.initializeRepositories()
	app.initializeDriverRegistry()
	app.initializeServices()
	app.initializeServer()

	return app, nil
}

// initializeDatabase connects to the journal database and runs migrations.
// Without a database the journal is kept in memory.
func (app *Application) initializeDatabase() error {
	if !app.config.Database.Enabled {
		app.logger.Info("Database disabled, operation journal kept in memory")
		return nil
	}

	db, err := database.NewConnection(&app.config.Database, app.logger)
	if err != nil {
		return fmt.Errorf("failed to create database connection: %w", err)
	}
	app.database = db

	migrator := database.NewMigrator(app.logger, &app.config.Database)
	if err := migrator.Up(); err != nil {
		db.Close()
		return fmt.Errorf("failed to run database migrations: %w", err)
	}

	version, dirty, err := migrator.Version()
	if err != nil {
		app.logger.Warn("Failed to read migration version", zap.Error(err))
	}

	app.logger.Info("Database initialized successfully",
		zap.Uint("migration_version", version),
		zap.Bool("dirty", dirty),
	)
	return nil
}

// initializeRepositories creates the operation journal
func (app *Application) initializeRepositories() {
	if app.database != nil {
		app.operationRepo = repository.NewOperationRepository(app.database, app.logger)
	} else {
		app.operationRepo = repository.NewMemoryOperationRepository(app.logger)
	}
}

// initializeDriverRegistry sets up controller driver registry
func (app *Application) initializeDriverRegistry() {
	app.driverRegistry = driver.NewRegistry(app.logger)
	driver.RegisterDefaultDrivers(app.driverRegistry, app.logger)

	app.logger.Info("Driver registry initialized successfully",
		zap.Int("registered_drivers", len(app.driverRegistry.ListDrivers())),
	)
}

// initializeServices creates service instances
func (app *Application) initializeServices() {
	app.eventBus = handler.NewEventBus(app.logger)

	app.operationService = service.NewOperationService(
		app.operationRepo,
		app.eventBus,
		app.logger,
	)

	app.controllerService = service.NewControllerService(
		app.driverRegistry,
		app.operationService,
		app.eventBus,
		app.config,
		app.logger,
	)

	app.discoveryService = service.NewDiscoveryService(
		app.driverRegistry,
		app.controllerService,
		app.operationService,
		app.eventBus,
		app.config,
		app.logger,
	)

	app.wsHandler = handler.NewWebSocketHandler(
		app.controllerService,
		app.eventBus,
		app.config.Security.AllowedOrigins,
		app.logger,
	)

	app.metrics = metrics.New(app.controllerService)

	app.logger.Info("Services initialized successfully")
}

// initializeServer sets up HTTP server and routes
func (app *Application) initializeServer() {
	// A nil *database.DB must not become a non-nil checker
	var db handler.DatabaseChecker
	if app.database != nil {
		db = app.database
	}

	routerManager := routes.NewRouter(
		app.config,
		app.logger,
		db,
		app.controllerService,
		app.operationService,
		app.discoveryService,
		app.wsHandler,
		app.metrics,
	)

	app.server = &http.Server{
		Addr:         app.config.GetServerAddr(),
		Handler:      routerManager.SetupRouter(),
		ReadTimeout:  app.config.Server.ReadTimeout,
		WriteTimeout: app.config.Server.WriteTimeout,
		IdleTimeout:  app.config.Server.IdleTimeout,
	}

	app.logger.Info("HTTP server initialized",
		zap.String("address", app.config.GetServerAddr()),
		zap.Bool("tls_enabled", app.config.Server.TLS.Enabled),
	)
}

// startBackgroundServices starts event delivery, connects the configured
// controllers and schedules journal cleanup
func (app *Application) startBackgroundServices() {
	go app.eventBus.Start(app.ctx)
	go app.wsHandler.Run(app.ctx)

	_, events := app.eventBus.Subscribe()
	go app.metrics.Run(app.ctx, events)

	// Controllers that fail to connect stay offline and can be connected later
	if err := app.controllerService.Start(app.ctx); err != nil {
		app.logger.Warn("Some controllers failed to connect", zap.Error(err))
	}

	go app.startCleanupService()

	app.logger.Info("Background services started")
}

// startCleanupService deletes journal entries older than the retention
func (app *Application) startCleanupService() {
	retention := app.config.Database.Retention
	if retention <= 0 {
		return
	}

	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()

	app.logger.Info("Cleanup service started", zap.Duration("retention", retention))

	for {
		select {
		case <-app.ctx.Done():
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(app.ctx, 10*time.Minute)
			deleted, err := app.operationService.Cleanup(ctx, retention)
			cancel()

			if err != nil {
				app.logger.Error("Failed to cleanup old operations", zap.Error(err))
			} else if deleted > 0 {
				app.logger.Info("Cleaned up old operations", zap.Int64("deleted", deleted))
			}
		}
	}
}

// waitForShutdown waits for shutdown signal and performs graceful shutdown
func (app *Application) waitForShutdown() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	sig := <-quit
	app.logger.Info("Received shutdown signal", zap.String("signal", sig.String()))

	app.shutdown()
}

// shutdown performs graceful shutdown
func (app *Application) shutdown() {
	serviceLogger := utils.NewServiceLogger(app.logger, serviceName)
	serviceLogger.LogServiceStop("shutdown signal received")

	timeout := app.config.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("HTTP server shutdown error", zap.Error(err))
	} else {
		app.logger.Info("HTTP server stopped")
	}

	// Close controller ports before the event bus so disconnect events
	// are still delivered
	if err := app.controllerService.Shutdown(ctx); err != nil {
		app.logger.Error("Controller shutdown error", zap.Error(err))
	}

	app.cancel()

	if app.database != nil {
		if err := app.database.Close(); err != nil {
			app.logger.Error("Database close error", zap.Error(err))
		} else {
			app.logger.Info("Database connection closed")
		}
	}

	app.logger.Info("Application shutdown completed")

	if err := utils.CloseLogger(app.logger); err != nil {
		fmt.Printf("Logger close error: %v\n", err)
	}
}

// Start serves HTTP until a shutdown signal arrives
func (app *Application) Start() error {
	app.startBackgroundServices()

	go func() {
		app.logger.Info("Starting HTTP server",
			zap.String("address", app.server.Addr),
		)

		var err error
		if app.config.Server.TLS.Enabled {
			err = app.server.ListenAndServeTLS(
				app.config.Server.TLS.CertFile,
				app.config.Server.TLS.KeyFile,
			)
		} else {
			err = app.server.ListenAndServe()
		}

		if err != nil && err != http.ErrServerClosed {
			app.logger.Fatal("Failed to start HTTP server", zap.Error(err))
		}
	}()

	app.waitForShutdown()

	return nil
}
