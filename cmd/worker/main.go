package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	_ "time/tzdata"

	"geoattend/internal/civilday"
	"geoattend/internal/config"
	"geoattend/internal/events"
	"geoattend/internal/queue"
	"geoattend/internal/store"
)

// Worker consumes attendance events from Redis and warms the completion cache.
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

	if cfg.QueueBackend != "redis" {
		log.Fatalf("worker needs QUEUE_BACKEND=redis, got %q", cfg.QueueBackend)
	}
	loc, err := civilday.LoadZone(cfg.TimeZone)
	if err != nil {
		log.Fatalf("time zone: %v", err)
	}

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()
	if !redisClient.Healthy(ctx) {
		log.Printf("WARNING: redis not reachable at %s; will keep retrying", cfg.RedisAddr)
	}

	q := queue.NewRedisQueue(redisClient.Client, "")
	consumer := events.NewConsumer(store.NewCompletionCache(redisClient.Client, ""), loc)

	log.Println("worker started, waiting for messages...")
	if err := consumer.Run(ctx, q); err != nil {
		log.Fatalf("queue consume failed: %v", err)
	}
	log.Println("worker stopped")
}
