// Package stream wraps segmentio/kafka-go for the ratings topic: a
// retrying producer on the ingest side and a consumer-group reader on the
// processor side. Messages are keyed by content id so the Hash balancer
// keeps all events for one content on one partition.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/ratewall/ratewall/internal/models"
)

// ProducerConfig contains configurable parameters for the rating event
// producer.
type ProducerConfig struct {
	// Brokers is the list of Kafka broker addresses (host:port).
	Brokers []string

	// Topic defaults to "ratings".
	Topic string

	// MaxAttempts is how many times a publish is retried on transient
	// error. Defaults to 3 if <= 0.
	MaxAttempts int

	// WriteTimeout is the per-attempt timeout. Defaults to 10s if zero.
	WriteTimeout time.Duration
}

// Producer publishes RatingEvents. It is safe for concurrent use and is
// created once per process; request handlers share the handle.
type Producer struct {
	writer      *kafka.Writer
	maxAttempts int
}

// NewProducer constructs a Producer for the ratings topic.
func NewProducer(cfg ProducerConfig) (*Producer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka: at least one broker required")
	}
	if cfg.Topic == "" {
		cfg.Topic = "ratings"
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 10 * time.Second
	}

	w := kafka.NewWriter(kafka.WriterConfig{
		Brokers:      cfg.Brokers,
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: cfg.WriteTimeout,
		// Async=false so PublishRatingEvent only returns after the writer
		// pipeline acknowledged the message.
		Async: false,
	})

	return &Producer{writer: w, maxAttempts: cfg.MaxAttempts}, nil
}

// PublishRatingEvent marshals ev and produces it keyed by content id,
// retrying with backoff up to MaxAttempts.
func (p *Producer) PublishRatingEvent(ctx context.Context, ev models.RatingEvent) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal rating event: %w", err)
	}
	key := []byte(strconv.FormatInt(ev.ContentID, 10))

	var lastErr error
	backoff := 100 * time.Millisecond

	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		msg := kafka.Message{
			Key:   key,
			Value: value,
			Time:  time.Now().UTC(),
		}

		ctxAttempt, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := p.writer.WriteMessages(ctxAttempt, msg)
		cancel()

		if err == nil {
			return nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		time.Sleep(backoff)
		if backoff < 2*time.Second {
			backoff *= 2
		}
	}

	return fmt.Errorf("publish failed after %d attempts: %w", p.maxAttempts, lastErr)
}

// Close shuts down the underlying writer.
func (p *Producer) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
