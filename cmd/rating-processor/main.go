package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"github.com/ratewall/ratewall/internal/cache"
	"github.com/ratewall/ratewall/internal/config"
	"github.com/ratewall/ratewall/internal/processor"
	"github.com/ratewall/ratewall/internal/store"
	"github.com/ratewall/ratewall/internal/stream"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	_ = godotenv.Load()

	cfg, err := config.LoadProcessor()
	if err != nil {
		log.Fatalf("configuration error: %v", err)
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to open postgres: %v", err)
	}
	defer db.Close()
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := db.PingContext(pingCtx); err != nil {
		cancel()
		log.Fatalf("failed to ping postgres: %v", err)
	}
	cancel()
	log.Println("connected to postgres")

	st := store.NewPGStore(db)

	cacheCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	statsCache, err := cache.NewRedisCacheFromURL(cacheCtx, cfg.RedisURL, cache.DefaultTTL)
	cancel()
	if err != nil {
		log.Fatalf("failed to initialize redis cache: %v", err)
	}
	defer statsCache.Close()

	ctx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()

	// Bounded startup probe; after this the reader reconnects on its own.
	if err := stream.WaitForBrokers(ctx, cfg.KafkaBrokers, 5, 5*time.Second); err != nil {
		log.Fatalf("kafka brokers unreachable: %v", err)
	}

	consumer, err := stream.NewConsumer(stream.ConsumerConfig{
		Brokers: cfg.KafkaBrokers,
		Topic:   config.RatingsTopic,
		GroupID: config.ConsumerGroup,
	})
	if err != nil {
		log.Fatalf("failed to initialize kafka consumer: %v", err)
	}
	defer consumer.Close()
	log.Printf("consuming topic %s as group %s (brokers=%v)",
		config.RatingsTopic, config.ConsumerGroup, cfg.KafkaBrokers)

	proc := processor.New(st, statsCache, processor.Config{
		AnomalyPenalty:   cfg.AnomalyPenalty,
		AnomalyThreshold: cfg.AnomalyThreshold,
		MinRateCount:     cfg.MinRateCount,
	})

	done := make(chan error, 1)
	go func() {
		done <- proc.Run(ctx, consumer)
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case <-stop:
		log.Println("shutting down rating processor...")
		cancelRun()
		<-done
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Fatalf("processor exited: %v", err)
		}
	}
	log.Println("rating processor stopped")
}
