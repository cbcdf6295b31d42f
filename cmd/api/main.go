package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"github.com/ratewall/ratewall/internal/auth"
	"github.com/ratewall/ratewall/internal/cache"
	"github.com/ratewall/ratewall/internal/config"
	"github.com/ratewall/ratewall/internal/httpserver"
	"github.com/ratewall/ratewall/internal/ingest"
	"github.com/ratewall/ratewall/internal/query"
	"github.com/ratewall/ratewall/internal/store"
	"github.com/ratewall/ratewall/internal/stream"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	// Local development convenience; ignored when no .env exists.
	_ = godotenv.Load()

	cfg, err := config.LoadAPI()
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
	log.Printf("redis cache initialized (url=%s)", cfg.RedisURL)

	producer, err := stream.NewProducer(stream.ProducerConfig{
		Brokers: cfg.KafkaBrokers,
		Topic:   config.RatingsTopic,
	})
	if err != nil {
		log.Fatalf("failed to initialize kafka producer: %v", err)
	}
	defer producer.Close()
	log.Printf("kafka producer initialized (brokers=%v topic=%s)", cfg.KafkaBrokers, config.RatingsTopic)

	tokens := auth.NewManager(cfg.SecretKey, cfg.AccessLifetime, cfg.RefreshLifetime)
	ingestSvc := ingest.New(st, producer, cfg.RateLimitPerHour)
	querySvc := query.New(st, statsCache)

	server := httpserver.New(st, ingestSvc, querySvc, tokens)

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      server.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("starting api server on %s", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	log.Println("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("shutdown error: %v", err)
	}
	log.Println("server stopped")
}
