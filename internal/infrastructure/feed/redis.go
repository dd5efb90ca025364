package feed

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/example/medsupply-storefront/internal/domain/cart"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// Redis carries changes between processes over a Redis pub/sub channel.
type Redis struct {
	client  *redis.Client
	channel string
	logger  *zap.Logger
}

// NewRedis publishes on "<database>:cart:changes".
func NewRedis(client *redis.Client, database string, logger *zap.Logger) *Redis {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Redis{
		client:  client,
		channel: database + ":cart:changes",
		logger:  logger.Named("feed"),
	}
}

func (r *Redis) Publish(ctx context.Context, change cart.Change) error {
	data, err := json.Marshal(change)
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, r.channel, data).Err()
}

func (r *Redis) Subscribe(ctx context.Context) (<-chan cart.Change, error) {
	pubsub := r.client.Subscribe(ctx, r.channel)

	// Wait for subscription confirmation
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", r.channel, err)
	}

	out := make(chan cart.Change, subscriberBuffer)
	go func() {
		defer func() {
			_ = pubsub.Close()
			close(out)
		}()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}

				var change cart.Change
				if err := json.Unmarshal([]byte(msg.Payload), &change); err != nil {
					r.logger.Warn("failed to decode cart change", zap.String("channel", msg.Channel), zap.Error(err))
					continue
				}

				select {
				case out <- change:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	r.logger.Debug("subscribed to cart changes", zap.String("channel", r.channel))
	return out, nil
}
