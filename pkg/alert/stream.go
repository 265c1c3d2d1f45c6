package alert

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"klinewatch.magictradebot.com/config"
	"klinewatch.magictradebot.com/pkg/global"
	"klinewatch.magictradebot.com/pkg/utils"
)

// StreamNotifier publishes alerts to a Redis stream or a Kafka topic.
type StreamNotifier struct {
	cfg     config.StreamingConfig
	clients *global.StreamingClients
}

func NewStreamNotifier(cfg config.StreamingConfig, clients *global.StreamingClients) *StreamNotifier {
	return &StreamNotifier{cfg: cfg, clients: clients}
}

func (n *StreamNotifier) Deliver(ctx context.Context, m Message) error {
	payload, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}

	switch n.cfg.Provider {
	case "redis":
		entry := utils.CreateRedisStreamEntry(m.Symbol, m.Type.String(), payload)
		return n.clients.Redis.XAdd(ctx, &redis.XAddArgs{
			Stream: n.cfg.Redis.Stream,
			Values: entry,
		}).Err()

	case "kafka":
		return utils.WriteKafkaMessage(ctx, n.clients.Kafka, m.Symbol, payload)

	default:
		return fmt.Errorf("unknown streaming provider: %s", n.cfg.Provider)
	}
}
