package stream

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/segmentio/kafka-go"
)

// Message re-exports kafka.Message so consumers of this package do not
// import kafka-go directly.
type Message = kafka.Message

// ConsumerConfig configures the ratings consumer group reader.
type ConsumerConfig struct {
	Brokers []string
	Topic   string
	GroupID string

	// SessionTimeout / HeartbeatInterval follow the broker contract:
	// 30s session, 10s heartbeat.
	SessionTimeout    time.Duration
	HeartbeatInterval time.Duration
}

// Consumer wraps a kafka-go Reader joined to a consumer group with
// earliest offset reset. Offsets are committed explicitly by the caller so
// store failures leave the message uncommitted for redelivery.
type Consumer struct {
	reader *kafka.Reader
}

// NewConsumer constructs the group reader. The reader dials lazily; use
// WaitForBrokers first when startup must fail fast on unreachable brokers.
func NewConsumer(cfg ConsumerConfig) (*Consumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka: at least one broker required")
	}
	if cfg.Topic == "" {
		cfg.Topic = "ratings"
	}
	if cfg.GroupID == "" {
		return nil, fmt.Errorf("kafka: consumer group id required")
	}
	if cfg.SessionTimeout <= 0 {
		cfg.SessionTimeout = 30 * time.Second
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 10 * time.Second
	}

	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:           cfg.Brokers,
		Topic:             cfg.Topic,
		GroupID:           cfg.GroupID,
		StartOffset:       kafka.FirstOffset,
		SessionTimeout:    cfg.SessionTimeout,
		HeartbeatInterval: cfg.HeartbeatInterval,
		MinBytes:          1,
		MaxBytes:          10 << 20,
	})
	return &Consumer{reader: r}, nil
}

// Fetch blocks until a message is available or ctx is cancelled. The
// message is not committed until Commit is called.
func (c *Consumer) Fetch(ctx context.Context) (Message, error) {
	return c.reader.FetchMessage(ctx)
}

// Commit marks the message consumed for the group.
func (c *Consumer) Commit(ctx context.Context, msg Message) error {
	return c.reader.CommitMessages(ctx, msg)
}

// Close leaves the group and releases the reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}

// WaitForBrokers dials the first reachable broker, retrying up to attempts
// times with a fixed delay. Used at worker startup so misconfigured
// deployments fail within a bounded time instead of spinning.
func WaitForBrokers(ctx context.Context, brokers []string, attempts int, delay time.Duration) error {
	if attempts <= 0 {
		attempts = 5
	}
	if delay <= 0 {
		delay = 5 * time.Second
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		for _, broker := range brokers {
			conn, err := kafka.DialContext(ctx, "tcp", broker)
			if err == nil {
				_ = conn.Close()
				return nil
			}
			lastErr = err
		}
		log.Printf("[stream] brokers unreachable (attempt %d/%d): %v", attempt, attempts, lastErr)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("brokers unreachable after %d attempts: %w", attempts, lastErr)
}
