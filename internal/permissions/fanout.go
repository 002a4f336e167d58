package permissions

import (
	"context"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

const invalidationChannel = "liana.permissions.invalidate"

// InvalidationFanout propagates cache invalidations across instances through
// Redis pub/sub, so a notification received by one replica expires the cached
// permissions on all of them.
type InvalidationFanout struct {
	client *redis.Client
	logger *slog.Logger
}

// NewInvalidationFanout constructs the fanout helper.
func NewInvalidationFanout(client *redis.Client, logger *slog.Logger) *InvalidationFanout {
	if logger == nil {
		logger = slog.Default()
	}
	return &InvalidationFanout{client: client, logger: logger}
}

// Broadcast publishes an invalidation for one rendering.
func (f *InvalidationFanout) Broadcast(ctx context.Context, renderingID string) error {
	if f == nil || f.client == nil {
		return nil
	}
	return f.client.Publish(ctx, invalidationChannel, renderingID).Err()
}

// Listen subscribes to invalidation events and expires the local cache for
// each rendering announced. It returns immediately and stops when ctx ends.
func (f *InvalidationFanout) Listen(ctx context.Context, cache *Cache) error {
	if f == nil || f.client == nil {
		return nil
	}
	pubsub := f.client.Subscribe(ctx, invalidationChannel)
	go func() {
		defer func() { _ = pubsub.Close() }()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				if msg.Payload == "" {
					continue
				}
				cache.Invalidate(msg.Payload)
				f.logger.Debug("permissions cache invalidated", slog.String("rendering", msg.Payload))
			}
		}
	}()
	return nil
}
