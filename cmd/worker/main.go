package main

import (
	"context"
	"database/sql"
	"log"
	"os"
	"os/signal"
	"syscall"

	"studyroom/internal/config"
	"studyroom/internal/events"
	"studyroom/internal/store"
)

// Worker consumes domain events and appends them to the audit log.
// It is the projection side of the engine: the API only publishes,
// anything listening (this worker, dashboards) reads the stream.
func main() {
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer db.Close()
	if err := db.EnsureSchema(ctx); err != nil {
		log.Fatalf("schema apply failed: %v", err)
	}

	redisClient := store.NewRedis(cfg.RedisAddr)

	var bus events.Bus
	if cfg.EventBackend == "memory" {
		log.Println("WARNING: memory event backend has no cross-process delivery; worker will see nothing")
		bus = events.NewInMemory(64)
	} else {
		bus = events.NewRedisBus(redisClient.Client, "studyroom:events")
	}

	stream, err := bus.Consume(ctx)
	if err != nil {
		log.Fatalf("event consume init failed: %v", err)
	}

	log.Println("worker started, waiting for events...")
	for evt := range stream {
		if err := appendAudit(ctx, db.Client, evt); err != nil {
			log.Printf("audit append failed for %s: %v", evt.Type, err)
			continue
		}
		log.Printf("audited %s", evt.Type)
	}

	log.Println("worker stopped")
}

func appendAudit(ctx context.Context, db *sql.DB, evt events.Event) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO audit_log (event_type, payload, created_at)
		VALUES ($1, $2, $3)
	`, evt.Type, []byte(evt.Payload), evt.OccurredAt)
	return err
}
