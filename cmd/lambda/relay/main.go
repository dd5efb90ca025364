package main

import (
	"context"
	"log"
	"os"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/example/medsupply-storefront/internal/domain/cart"
	"github.com/example/medsupply-storefront/internal/infrastructure/feed"
	"github.com/example/medsupply-storefront/internal/infrastructure/kafka"
	"github.com/example/medsupply-storefront/internal/infrastructure/kinesis"
	"github.com/example/medsupply-storefront/internal/infrastructure/store"
	"go.uber.org/zap"
)

// relay forwards line item table stream records to the cart change feed so
// that API instances refresh their views for writes they did not make.
type relay struct {
	feed   cart.ChangeFeed
	logger *zap.Logger
}

var handler *relay

func init() {
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("[Lambda Relay] Failed to build logger: %v", err)
	}
	logger = logger.Named("relay")

	var changeFeed cart.ChangeFeed
	switch kind := getEnv("FEED_KIND", "kafka"); kind {
	case "kafka":
		brokers := strings.Split(getEnv("KAFKA_BROKERS", "localhost:9092"), ",")
		changeFeed = kafka.NewFeed(brokers, getEnv("KAFKA_TOPIC", "cart-changes"), "", logger)
	case "redis":
		client, err := store.ConnectRedis(context.Background(), getEnv("REDIS_ADDR", "localhost:6379"), os.Getenv("REDIS_PASSWORD"), 0)
		if err != nil {
			logger.Fatal("failed to connect to redis", zap.Error(err))
		}
		changeFeed = feed.NewRedis(client, getEnv("CART_DATABASE", "medsupply"), logger)
	default:
		logger.Fatal("unknown feed kind", zap.String("kind", kind))
	}

	handler = &relay{feed: changeFeed, logger: logger}
	logger.Info("initialized")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func (r *relay) handle(ctx context.Context, kinesisEvent events.KinesisEvent) (events.KinesisEventResponse, error) {
	r.logger.Debug("received records", zap.Int("count", len(kinesisEvent.Records)))

	changes, failed := kinesis.BatchConvertFromKinesisEvent(kinesisEvent)
	for seq, err := range failed {
		r.logger.Warn("failed to convert record", zap.String("sequence", seq), zap.Error(err))
	}

	published := 0
	for _, c := range changes {
		if err := r.feed.Publish(ctx, *c.Change); err != nil {
			r.logger.Warn("failed to publish cart change",
				zap.String("sequence", c.SequenceNumber),
				zap.String("namespace", c.Change.Namespace),
				zap.Error(err),
			)
			failed[c.SequenceNumber] = err
			continue
		}
		published++
	}

	// report failures in stream order
	var batchItemFailures []events.KinesisBatchItemFailure
	for _, record := range kinesisEvent.Records {
		if _, ok := failed[record.Kinesis.SequenceNumber]; ok {
			batchItemFailures = append(batchItemFailures, events.KinesisBatchItemFailure{
				ItemIdentifier: record.Kinesis.SequenceNumber,
			})
		}
	}

	r.logger.Info("relayed records",
		zap.Int("published", published),
		zap.Int("failed", len(batchItemFailures)),
		zap.Int("total", len(kinesisEvent.Records)),
	)

	return events.KinesisEventResponse{
		BatchItemFailures: batchItemFailures,
	}, nil
}

func main() {
	lambda.Start(handler.handle)
}
