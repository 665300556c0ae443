package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"comanda/internal/api"
	"comanda/internal/config"
	"comanda/internal/database"
	"comanda/internal/monitoring"
	"comanda/internal/notify"
	syncengine "comanda/internal/sync"
)

var configFile = flag.String("config", "configs/config.yaml", "Path to configuration file")

func main() {
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	db, err := database.Open(cfg.Database.Dialect, cfg.Database.DSN)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer database.Close(db)

	if err := database.Migrate(db); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	metrics := monitoring.NewMetrics()

	hub := notify.NewHub()
	hub.OnClientCount(metrics.SetConnectedTerminals)
	go hub.Run(ctx)

	synchronizer := syncengine.NewSynchronizer(
		db,
		syncengine.NewAuditLog(db),
		hub,
		metrics,
		syncengine.Config{
			MaxBatchSize:  cfg.Sync.MaxBatchSize,
			MaxRetries:    cfg.Sync.MaxRetries,
			RetryBackoff:  cfg.Sync.RetryBackoff.Std(),
			BatchDeadline: cfg.Sync.BatchDeadline.Std(),
		},
	)

	apiServer := api.NewServer(db, synchronizer, hub, cfg.Auth.Secret)
	server := &http.Server{
		Addr:    cfg.Listen,
		Handler: apiServer.Router,
	}

	if cfg.Metrics.Enabled {
		go startMetricsServer(cfg.Metrics.Port, cfg.Metrics.Path, metrics)
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("Shutting down servers...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("API server shutdown error: %v", err)
		}

		cancel()
	}()

	log.Printf("Starting API server on %s", cfg.Listen)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatalf("API server error: %v", err)
	}
}

func startMetricsServer(port int, path string, metrics *monitoring.Metrics) {
	mux := http.NewServeMux()
	mux.Handle(path, metrics.Handler())

	metricsServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	log.Printf("Starting metrics server on port %d", port)
	if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
		log.Printf("Metrics server error: %v", err)
	}
}
