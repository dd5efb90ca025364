package main

import (
	"context"
	"fmt"
	"sync"

	"github.com/example/medsupply-storefront/internal/config"
	"github.com/example/medsupply-storefront/internal/domain/cart"
	"github.com/example/medsupply-storefront/internal/infrastructure/feed"
	"github.com/example/medsupply-storefront/internal/infrastructure/kafka"
	"github.com/example/medsupply-storefront/internal/infrastructure/store"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// retained keeps a memory cart alive when its idle store is evicted; the
// process is the only place the items live.
type retained struct {
	cart.Backend
}

func (retained) Close() error {
	return nil
}

// dependencies owns the connections shared by every namespace.
type dependencies struct {
	cfg    *config.Config
	logger *zap.Logger

	redis   *redis.Client
	closers []func() error
}

func (d *dependencies) redisClient(ctx context.Context) (*redis.Client, error) {
	if d.redis != nil {
		return d.redis, nil
	}
	client, err := store.ConnectRedis(ctx, d.cfg.Redis.Addr, d.cfg.Redis.Password, d.cfg.Redis.DB)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	d.redis = client
	d.closers = append(d.closers, client.Close)
	d.logger.Info("connected to redis", zap.String("addr", d.cfg.Redis.Addr))
	return client, nil
}

// backendFactory connects the configured storage, brings its schema up to
// date and returns a factory opening one backend per namespace.
func (d *dependencies) backendFactory(ctx context.Context) (cart.BackendFactory, error) {
	cc := d.cfg.Cart

	switch cc.Backend {
	case config.BackendMemory:
		var mu sync.Mutex
		carts := make(map[string]*store.MemoryBackend)
		return func(ctx context.Context, namespace string) (cart.Backend, error) {
			mu.Lock()
			defer mu.Unlock()
			b, ok := carts[namespace]
			if !ok {
				b = store.NewMemoryBackend()
				carts[namespace] = b
			}
			return retained{b}, nil
		}, nil

	case config.BackendPostgres:
		db, err := store.ConnectPostgres(ctx, d.cfg.Postgres.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		d.closers = append(d.closers, db.Close)

		applied, err := store.Migrate(ctx, db, cc.ObjectStore)
		if err != nil {
			return nil, fmt.Errorf("failed to migrate %s: %w", cc.ObjectStore, err)
		}
		d.logger.Info("postgres schema ready", zap.Ints("applied", applied), zap.Int("version", store.SchemaVersion()))

		return func(ctx context.Context, namespace string) (cart.Backend, error) {
			return store.NewPostgresBackend(db, cc.ObjectStore, namespace)
		}, nil

	case config.BackendRedis:
		client, err := d.redisClient(ctx)
		if err != nil {
			return nil, err
		}
		if err := store.EnsureRedisSchema(ctx, client, cc.Database, cc.ObjectStore); err != nil {
			return nil, fmt.Errorf("failed to prepare redis schema: %w", err)
		}
		return func(ctx context.Context, namespace string) (cart.Backend, error) {
			return store.NewRedisBackend(client, cc.Database, cc.ObjectStore, namespace), nil
		}, nil

	case config.BackendDynamoDB:
		dc := d.cfg.DynamoDB
		client, err := store.NewDynamoClient(ctx, dc.Region, dc.Endpoint)
		if err != nil {
			return nil, err
		}
		indexReady, err := store.EnsureDynamoTable(ctx, client, dc.Table)
		if err != nil {
			return nil, fmt.Errorf("failed to prepare dynamodb table %s: %w", dc.Table, err)
		}
		if !indexReady {
			d.logger.Warn("sub product index missing, lookups will filter the partition", zap.String("table", dc.Table))
		}
		return func(ctx context.Context, namespace string) (cart.Backend, error) {
			return store.NewDynamoBackend(client, dc.Table, cc.Database, cc.ObjectStore, namespace, indexReady), nil
		}, nil
	}
	return nil, fmt.Errorf("unknown cart backend %q", cc.Backend)
}

// changeFeed returns the configured feed, or nil when change notification is
// disabled.
func (d *dependencies) changeFeed(ctx context.Context, instanceID string) (cart.ChangeFeed, error) {
	switch d.cfg.Feed.Kind {
	case config.FeedNone:
		return nil, nil
	case config.FeedMemory:
		return feed.NewMemory(d.logger), nil
	case config.FeedRedis:
		client, err := d.redisClient(ctx)
		if err != nil {
			return nil, err
		}
		return feed.NewRedis(client, d.cfg.Cart.Database, d.logger), nil
	case config.FeedKafka:
		kc := d.cfg.Kafka
		groupID := kc.GroupID
		if groupID == "" {
			groupID = "cart-view-" + instanceID
		}
		f := kafka.NewFeed(kc.Brokers, kc.Topic, groupID, d.logger)
		d.closers = append(d.closers, f.Close)
		return f, nil
	}
	return nil, fmt.Errorf("unknown feed kind %q", d.cfg.Feed.Kind)
}

func (d *dependencies) close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			d.logger.Warn("failed to close dependency", zap.Error(err))
		}
	}
}
