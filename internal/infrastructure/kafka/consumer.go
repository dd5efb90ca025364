package kafka

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type MessageHandler func(ctx context.Context, key, value []byte) error

// Read failures back off from minReadBackoff, doubling up to maxReadBackoff.
const (
	minReadBackoff = 100 * time.Millisecond
	maxReadBackoff = 5 * time.Second
)

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

type Consumer struct {
	reader  messageReader
	logger  *zap.Logger
	backoff time.Duration
}

// NewConsumer joins groupID on topic. A group without committed offsets starts
// at the end of the topic.
func NewConsumer(brokers []string, topic, groupID string, logger *zap.Logger) *Consumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		Topic:       topic,
		GroupID:     groupID,
		MinBytes:    1,
		MaxBytes:    10e6, // 10MB
		MaxWait:     500 * time.Millisecond,
		StartOffset: kafka.LastOffset,
	})
	return &Consumer{
		reader:  reader,
		logger:  logger.With(zap.String("topic", topic), zap.String("group_id", groupID)),
		backoff: minReadBackoff,
	}
}

// Consume hands every message to handler until ctx is done or the reader is
// closed. Handler errors are logged and skipped; read errors are logged and
// retried with backoff.
func (c *Consumer) Consume(ctx context.Context, handler MessageHandler) error {
	backoff := c.backoff
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			msg, err := c.reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				if errors.Is(err, io.EOF) {
					return err
				}
				c.logger.Warn("error reading message", zap.Error(err), zap.Duration("retry_in", backoff))
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(backoff):
				}
				backoff = min(backoff*2, maxReadBackoff)
				continue
			}
			backoff = c.backoff

			if err := handler(ctx, msg.Key, msg.Value); err != nil {
				c.logger.Warn("error handling message",
					zap.ByteString("key", msg.Key),
					zap.Int64("offset", msg.Offset),
					zap.Error(err),
				)
			}
		}
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
