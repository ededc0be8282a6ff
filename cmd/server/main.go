/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the fund ETL server: HTTP API, daily scheduler
  and workflow tracker. Handles configuration, dependency injection, and
  graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (flags > env > .env > YAML > defaults)
  2. Wire store, tracker and service (app.Open); runs left active
     by a previous process are marked FAILED
  3. Start scheduler and HTTP server

COMMAND-LINE FLAGS:
  -config  YAML configuration file (optional)
  -port    HTTP server port (overrides config)
  -db      SQLite database path (overrides config)
           Use ":memory:" for in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the scheduler
  2. Stop accepting new connections, wait for requests (30s timeout)
  3. Cancel active runs, wait for them, close the database (app.Close)

EXAMPLES:
  ./server -config=/etc/fund-etl.yaml
  ./server -db=":memory:" -port=3000

SEE ALSO:
  - config/config.go: Configuration sources
  - api/server.go: Router configuration
  - app/app.go: Dependency wiring
*/
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/warp/fund-etl/api"
	"github.com/warp/fund-etl/app"
	"github.com/warp/fund-etl/config"
)

func main() {
	// Flags
	configPath := flag.String("config", "", "YAML configuration file")
	port := flag.Int("port", 0, "HTTP server port (overrides config)")
	dbPath := flag.String("db", "", "SQLite database path (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *dbPath != "" {
		cfg.Database.Path = *dbPath
	}
	a, err := app.Open(context.Background(), cfg)
	if err != nil {
		log.Fatalf("Failed to start: %v", err)
	}
	svc := a.Service

	// Scheduler
	scheduler := api.NewDailyScheduler(svc, cfg.Scheduler.Hour)
	scheduler.Enabled = cfg.Scheduler.Enabled
	scheduler.Validate = cfg.Scheduler.Validate
	scheduler.Start()

	// Create router and server
	handler := api.NewHandler(svc, a.Store, a.Registry)
	router := api.NewRouter(handler, api.RouterOptions{AllowedOrigins: cfg.Server.CORSOrigins})
	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Server starting on http://localhost%s", cfg.Addr())
		log.Printf("Database: %s, source: %s", cfg.Database.Path, cfg.Source.Dir)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")
	scheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}
	if err := a.Close(ctx); err != nil {
		log.Printf("Shutdown incomplete: %v", err)
	}

	log.Println("Server stopped")
}
