package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/example/medsupply-storefront/internal/domain/cart"
	"go.uber.org/zap"
)

// Feed carries cart changes over a Kafka topic, keyed by namespace.
type Feed struct {
	producer *Producer
	brokers  []string
	topic    string
	groupID  string
	logger   *zap.Logger
}

// NewFeed publishes to topic. Subscriptions join groupID, which should be
// unique per process so that every process sees every change.
func NewFeed(brokers []string, topic, groupID string, logger *zap.Logger) *Feed {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Feed{
		producer: NewProducer(brokers, topic),
		brokers:  brokers,
		topic:    topic,
		groupID:  groupID,
		logger:   logger.Named("feed"),
	}
}

func (f *Feed) Publish(ctx context.Context, change cart.Change) error {
	return f.producer.Publish(ctx, change.Namespace, change)
}

func (f *Feed) Subscribe(ctx context.Context) (<-chan cart.Change, error) {
	consumer := NewConsumer(f.brokers, f.topic, f.groupID, f.logger)
	out := make(chan cart.Change, 64)

	go func() {
		defer func() {
			if err := consumer.Close(); err != nil {
				f.logger.Warn("failed to close consumer", zap.Error(err))
			}
			close(out)
		}()

		err := consumer.Consume(ctx, func(ctx context.Context, key, value []byte) error {
			change, err := decodeChange(key, value)
			if err != nil {
				return err
			}
			select {
			case out <- change:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		if err != nil && ctx.Err() == nil {
			f.logger.Warn("cart change subscription ended", zap.Error(err))
		}
	}()
	return out, nil
}

func (f *Feed) Close() error {
	return f.producer.Close()
}

// decodeChange parses a message value. The key, when present, must match the
// namespace carried in the value.
func decodeChange(key, value []byte) (cart.Change, error) {
	var change cart.Change
	if err := json.Unmarshal(value, &change); err != nil {
		return cart.Change{}, fmt.Errorf("decode cart change: %w", err)
	}
	if change.Namespace == "" {
		return cart.Change{}, fmt.Errorf("cart change without namespace")
	}
	if len(key) > 0 && string(key) != change.Namespace {
		return cart.Change{}, fmt.Errorf("cart change key %q does not match namespace %q", key, change.Namespace)
	}
	return change, nil
}
