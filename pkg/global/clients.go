// streaming/clients.go
package global

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"klinewatch.magictradebot.com/config"
)

// StreamingClients holds whichever publisher the streaming config selects.
type StreamingClients struct {
	Redis *redis.Client
	Kafka *kafka.Writer
}

// InitStreamingClients connects the configured provider. Redis is pinged up front;
// Kafka connects lazily on the first write.
func InitStreamingClients(ctx context.Context, cfg config.StreamingConfig) (*StreamingClients, error) {
	if err := config.ValidateStreamingConfig(cfg); err != nil {
		return nil, err
	}
	clients := &StreamingClients{}
	if !cfg.Enabled {
		return clients, nil
	}

	switch cfg.Provider {
	case "redis":
		clients.Redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})

		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := clients.Redis.Ping(pingCtx).Err(); err != nil {
			_ = clients.Redis.Close()
			return nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}

	case "kafka":
		clients.Kafka = &kafka.Writer{
			Addr:         kafka.TCP(cfg.Kafka.Brokers...),
			Topic:        cfg.Kafka.Topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			Async:        false,
		}
	}
	return clients, nil
}

// Shutdown closes any initialized clients.
func (c *StreamingClients) Shutdown() {
	if c == nil {
		return
	}
	if c.Redis != nil {
		_ = c.Redis.Close()
	}
	if c.Kafka != nil {
		_ = c.Kafka.Close()
	}
}
