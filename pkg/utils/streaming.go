package utils

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
)

// CreateRedisStreamEntry creates a Redis stream entry with consistent fields
func CreateRedisStreamEntry(symbol string, kind string, payload []byte) map[string]interface{} {
	return map[string]interface{}{
		"symbol":  symbol,
		"type":    kind,
		"payload": payload,
		"ts":      time.Now().UnixMilli(),
	}
}

// WriteKafkaMessage writes one message keyed by symbol so a symbol's alerts stay ordered.
func WriteKafkaMessage(ctx context.Context, writer *kafka.Writer, symbol string, payload []byte) error {
	msg := kafka.Message{
		Key:   []byte(symbol),
		Value: payload,
		Time:  time.Now(),
	}

	return writer.WriteMessages(ctx, msg)
}
