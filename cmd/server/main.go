package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"event-pulse/internal/config"
	"event-pulse/internal/db"
	"event-pulse/internal/event/producer"
	eventrepo "event-pulse/internal/event/repository"
	"event-pulse/internal/httpapi"
	"event-pulse/internal/idempotency"
	"event-pulse/internal/ingest"
	"event-pulse/internal/observability"
	"event-pulse/internal/realtime"
	"event-pulse/internal/session"
	sessionrepo "event-pulse/internal/session/repository"
	"event-pulse/internal/webhook"
	webhookrepo "event-pulse/internal/webhook/repository"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx := context.Background()

	providers, err := observability.NewProviders(ctx, cfg.OTLPEndpoint, "pulse-server", cfg.OTLPInsecure)
	if err != nil {
		log.Fatalf("observability: %v", err)
	}
	providers.SetGlobal()

	metrics, err := observability.NewMetrics(providers.MeterProvider.Meter("pulse-server"))
	if err != nil {
		log.Fatalf("metrics: %v", err)
	}

	var (
		events   eventrepo.Repository
		sessions sessionrepo.Repository
		webhooks webhookrepo.Repository
		ledger   idempotency.Ledger
	)
	ttl := cfg.IdempotencyTTLDuration()
	if cfg.DevMode {
		log.Println("server: DEV_MODE enabled, using in-memory stores")
		events = eventrepo.NewMemoryRepository()
		sessions = sessionrepo.NewMemoryRepository()
		webhooks = webhookrepo.NewMemoryRepository()
		ledger = idempotency.NewMemoryLedger(ttl)
	} else {
		if cfg.DatabaseURL == "" {
			log.Fatal("server: DATABASE_URL is required unless DEV_MODE=true")
		}
		sqlDB, err := db.Open(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("db: %v", err)
		}
		defer sqlDB.Close()
		events = eventrepo.NewPostgresRepository(sqlDB)
		sessions = sessionrepo.NewPostgresRepository(sqlDB)
		webhooks = webhookrepo.NewPostgresRepository(sqlDB)
		ledger = idempotency.NewPostgresLedger(sqlDB, ttl)
	}

	var firehose producer.Producer
	if brokers := cfg.KafkaBrokersList(); len(brokers) > 0 {
		firehose, err = producer.NewKafkaProducer(brokers, cfg.EventsKafkaTopic)
		if err != nil {
			log.Fatalf("kafka: %v", err)
		}
		defer firehose.Close()
		log.Printf("server: firehose enabled, topic %s", cfg.EventsKafkaTopic)
	}

	legacy := webhook.LegacyEndpoint{
		Enabled: cfg.WebhookLegacyEnabled,
		URL:     cfg.WebhookLegacyURL,
		Secret:  cfg.WebhookLegacySecret,
	}
	dispatcher := webhook.NewDispatcher(webhooks, events, legacy, nil, metrics)
	broadcaster := realtime.NewBroadcaster(metrics)
	orch := ingest.NewOrchestrator(
		ledger,
		session.NewResolver(sessions),
		events,
		dispatcher,
		broadcaster,
		firehose,
		metrics,
	)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpapi.NewServer(orch, dispatcher, broadcaster, events),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Printf("HTTP server listening on %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("serve: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Println("shutting down HTTP server...")
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}

	// In-flight webhook and broadcast goroutines run past the HTTP response;
	// give them their delivery window before the process exits.
	time.Sleep(ingest.DispatchDrainDuration)

	if err := providers.Shutdown(shutdownCtx); err != nil {
		log.Printf("observability shutdown: %v", err)
	}
	log.Println("HTTP server stopped")
}
