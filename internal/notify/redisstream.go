package notify

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

type streamClient interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

// RedisStream appends events to a Redis stream. The JSON event is stored
// base64 encoded under the "event" field, with the type alongside.
type RedisStream struct {
	client streamClient
	stream string
	maxLen int64
}

// NewRedisStream builds a stream sink. maxLen > 0 caps the stream approximately.
func NewRedisStream(client streamClient, stream string, maxLen int64) *RedisStream {
	return &RedisStream{client: client, stream: stream, maxLen: maxLen}
}

// Name implements Sink.
func (r *RedisStream) Name() string { return "redis_stream" }

// Deliver implements Sink.
func (r *RedisStream) Deliver(ctx context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("redis stream: marshal: %w", err)
	}
	args := &redis.XAddArgs{
		Stream: r.stream,
		Values: map[string]any{
			"type":  event.EventType,
			"id":    event.EventID,
			"event": base64.StdEncoding.EncodeToString(data),
		},
	}
	if r.maxLen > 0 {
		args.MaxLen = r.maxLen
		args.Approx = true
	}
	if err := r.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("redis stream: xadd: %w", err)
	}
	return nil
}
