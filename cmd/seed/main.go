// seed inserts development sample data for local testing.
// Idempotent: skips inserts if the dev tenant's subscription already exists.
package main

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"event-pulse/internal/config"
	"event-pulse/internal/db"
)

const (
	devTenantID      = "dev-tenant-001"
	devWebhookURL    = "http://localhost:9090/hooks/pulse"
	devWebhookSecret = "dev-webhook-secret"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("seed: DATABASE_URL is required")
	}

	sqlDB, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer sqlDB.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var existing int
	err = sqlDB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM webhook_subscriptions WHERE tenant_id = $1 AND url = $2`,
		devTenantID, devWebhookURL).Scan(&existing)
	if err != nil {
		log.Fatalf("seed: check existing: %v", err)
	}
	if existing > 0 {
		log.Println("seed: dev subscription already present, nothing to do")
		return
	}

	_, err = sqlDB.ExecContext(ctx, `
		INSERT INTO webhook_subscriptions (id, tenant_id, url, secret, enabled, created_at)
		VALUES ($1, $2, $3, $4, TRUE, now())`,
		uuid.NewString(), devTenantID, devWebhookURL, devWebhookSecret)
	if err != nil {
		log.Fatalf("seed: insert subscription: %v", err)
	}

	log.Printf("seed: created webhook subscription for tenant %s -> %s", devTenantID, devWebhookURL)
}
