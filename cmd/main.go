package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mdario971/cactus-flasher/internal/config"
	"github.com/mdario971/cactus-flasher/internal/handlers"
	"github.com/mdario971/cactus-flasher/internal/logger"
	"github.com/mdario971/cactus-flasher/internal/registryfile"
	"github.com/mdario971/cactus-flasher/internal/repository"
	"github.com/mdario971/cactus-flasher/internal/repository/db"
	"github.com/mdario971/cactus-flasher/internal/server"
	"github.com/mdario971/cactus-flasher/internal/service"

	_ "github.com/mdario971/cactus-flasher/docs"
)

const shutdownTimeout = 10 * time.Second

// @title                       Cactus Flasher API
// @version                     1.0
// @description                 Registry, scanning, OTA flashing and firmware builds for ESP boards behind a shared DDNS host.
// @BasePath                    /
// @securityDefinitions.apikey  BearerAuth
// @in                          header
// @name                        Authorization
// @description                 Type "Bearer" followed by a space and the JWT.
func main() {
	cfg, err := config.Load("configs")
	if err != nil {
		logger.Get(logger.InfoLevel).Fatalw("error reading config", "err", err)
	}

	// init logger
	log := logger.Init(logger.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})
	defer func() { _ = log.Sync() }()

	// open DB
	conn, err := openDB(cfg, log)
	if err != nil {
		log.Fatalw("failed to init sqlite", "err", err)
	}
	defer func() {
		if cerr := conn.Close(); cerr != nil {
			log.Errorw("failed to close sqlite", "err", cerr)
		}
	}()

	// wire dependencies
	repos := repository.NewRepository(conn)
	services := service.NewService(repos, cfg, log)
	apiHandler := handlers.NewHandler(services, log)

	bootstrap(services, cfg, log)

	// context for background goroutines
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Scan.Interval > 0 {
		log.Infow("periodic scan enabled", "interval", cfg.Scan.Interval)
		go services.Monitor.Run(ctx, cfg.Scan.Interval)
	}

	// start HTTP server
	srv := &server.Server{}
	runHTTPServer(srv, cfg.Port, apiHandler, log)

	// graceful shutdown
	waitForShutdown(cancel, srv, log)
}

// openDB initializes the SQLite database using configuration.
func openDB(cfg *config.Config, log *logger.Logger) (*sql.DB, error) {
	dbPath := cfg.DB.Path
	if dbPath == "" {
		log.Infow("db.path not set in config; using default file", "default", "cactus.db")
		dbPath = "cactus.db"
	}
	return db.InitDB(dbPath)
}

// bootstrap creates the first user and imports the seed registry file.
func bootstrap(services *service.Service, cfg *config.Config, log *logger.Logger) {
	created, err := services.Authorization.EnsureDefaultUser(cfg.Auth.DefaultUser, cfg.Auth.DefaultPassword)
	if err != nil {
		log.Fatalw("failed to create default user", "err", err)
	}
	if created {
		log.Warnw("created default user; change its password", "username", cfg.Auth.DefaultUser)
	}

	if cfg.Registry.SeedFile == "" {
		return
	}
	seed, err := registryfile.LoadFile(cfg.Registry.SeedFile)
	if err != nil {
		log.Errorw("failed to read seed registry", "path", cfg.Registry.SeedFile, "err", err)
		return
	}
	imported, err := services.Boards.Import(context.Background(), seed)
	if err != nil {
		log.Errorw("failed to import seed registry", "path", cfg.Registry.SeedFile, "err", err)
		return
	}
	log.Infow("seed registry imported", "path", cfg.Registry.SeedFile, "boards", len(imported), "skipped", len(seed)-len(imported))
}

// runHTTPServer runs the HTTP server in a separate goroutine.
func runHTTPServer(srv *server.Server, port string, handler *handlers.Handler, log *logger.Logger) {
	go func() {
		if port == "" {
			port = "8080"
		}
		log.Infow("http server listening", "port", port)
		if err := srv.Run(port, handler.InitRoutes()); err != nil {
			log.Fatalw("error starting server", "err", err)
		}
	}()
}

// waitForShutdown listens for termination signals and performs graceful shutdown.
func waitForShutdown(cancel context.CancelFunc, srv *server.Server, log *logger.Logger) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Infow("shutting down server...")

	// stop background goroutines
	cancel()

	// allow in-flight requests to complete
	ctx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Errorw("server forced to shutdown", "err", err)
	}
}
