package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultStreamPrefix is prepended to the topic to form the stream key.
const DefaultStreamPrefix = "vehicleflow:events:"

// RedisStreamNotifier appends each message to a Redis stream named after its
// topic.
type RedisStreamNotifier struct {
	client redis.Cmdable
	prefix string
	maxLen int64
	logger *zap.Logger
}

// NewRedisStreamNotifier creates a Redis Streams notifier. A maxLen of zero
// leaves streams untrimmed.
func NewRedisStreamNotifier(client redis.Cmdable, prefix string, maxLen int64, logger *zap.Logger) *RedisStreamNotifier {
	if prefix == "" {
		prefix = DefaultStreamPrefix
	}
	return &RedisStreamNotifier{
		client: client,
		prefix: prefix,
		maxLen: maxLen,
		logger: logger,
	}
}

// StreamKey returns the stream a topic is written to.
func (n *RedisStreamNotifier) StreamKey(topic string) string {
	return n.prefix + topic
}

// Notify appends msg to the topic's stream.
func (n *RedisStreamNotifier) Notify(ctx context.Context, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: n.StreamKey(msg.Topic),
		Values: map[string]any{
			"id":    msg.ID,
			"vin":   msg.Event.VIN,
			"event": msg.Event.ID,
			"data":  string(data),
		},
	}
	if n.maxLen > 0 {
		args.MaxLen = n.maxLen
		args.Approx = true
	}

	id, err := n.client.XAdd(ctx, args).Result()
	if err != nil {
		return fmt.Errorf("xadd %s: %w", args.Stream, err)
	}

	n.logger.Debug("notification appended",
		zap.String("stream", args.Stream),
		zap.String("stream_id", id),
		zap.String("message_id", msg.ID),
	)
	return nil
}

// HealthCheck pings Redis.
func (n *RedisStreamNotifier) HealthCheck(ctx context.Context) error {
	return n.client.Ping(ctx).Err()
}
