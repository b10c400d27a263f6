package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SherClockHolmes/webpush-go"

	"pos-resilience-backend/config"
	"pos-resilience-backend/internal/api"
	"pos-resilience-backend/internal/db"
	"pos-resilience-backend/internal/model"
	"pos-resilience-backend/internal/notify"
	"pos-resilience-backend/internal/power"
	"pos-resilience-backend/internal/recovery"
	"pos-resilience-backend/internal/syncq"
)

func main() {
	logger := log.New(os.Stdout, "pos-backend ", log.LstdFlags)

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config/config.yaml" // Default path for local development
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Fatalf("failed to load configuration from %s: %v", configPath, err)
	}
	logger.Printf("configuration loaded successfully from %s", configPath)

	webpushOptions := webpush.Options{
		VAPIDPublicKey:  cfg.Push.PublicKey,
		VAPIDPrivateKey: cfg.Push.PrivateKey,
		Subscriber:      cfg.Push.Subject,
		TTL:             cfg.Push.TTL,
	}

	gormDB, err := db.Init(&cfg.Database)
	if err != nil {
		logger.Fatalf("failed to initialize database: %v", err)
	}
	logger.Println("database initialized successfully")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Alert worker pool: web push delivery of power transitions.
	alertPool := notify.NewWorkerPool(cfg.WorkerPool.Size, gormDB, &webpushOptions)
	alertPool.Start(ctx)

	// Power monitor with its event log.
	eventStore := power.NewEventStore(gormDB)
	source := power.NewHTTPSource(&cfg.Power.Feed)
	monitor := power.NewMonitor(&cfg.Power, source, eventStore, alertPool)
	if cfg.Power.Enabled {
		monitor.StartMonitoring()
	}
	defer monitor.StopMonitoring()

	// Transaction recovery store, auto-saver and retention janitor.
	recoveryStore := recovery.NewGormStore(gormDB)
	retention := time.Duration(cfg.AutoSave.RetentionHours) * time.Hour
	autoSaver := recovery.NewAutoSaver(recoveryStore, cfg.Power.TerminalID, retention)
	defer autoSaver.StopAutoSave()
	go recovery.RunJanitor(ctx, recoveryStore,
		time.Duration(cfg.AutoSave.JanitorMinutes)*time.Minute, retention)

	// Offline mutation queue with conflict resolution.
	transport := syncq.NewHTTPTransport(&cfg.Sync.Endpoint)
	resolver := syncq.NewResolver(gormDB, transport, model.ResolutionStrategy(cfg.Sync.ConflictStrategy))
	queue := syncq.NewQueue(gormDB, transport, resolver, &cfg.Sync)
	go queue.Run(ctx)

	pending, err := recoveryStore.ListPending(ctx, cfg.Power.TerminalID)
	if err != nil {
		logger.Printf("warning: could not check for pending transaction snapshots: %v", err)
	} else if len(pending) > 0 {
		logger.Printf("%d unresolved transaction snapshot(s) awaiting recovery", len(pending))
	}

	router := api.NewRouter(&cfg.Server, api.Deps{
		TerminalID: cfg.Power.TerminalID,
		Monitor:    monitor,
		Events:     eventStore,
		Recovery:   recoveryStore,
		AutoSaver:  autoSaver,
		Queue:      queue,
		Resolver:   resolver,
		DB:         gormDB,
		WebPush:    &webpushOptions,
	})
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Printf("HTTP server starting on port %d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("HTTP server ListenAndServe: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	<-stop
	logger.Println("Shutdown signal received, stopping services...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Fatalf("HTTP server Shutdown: %v", err)
	}

	logger.Println("Server gracefully stopped")
}
