package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/example/medsupply-storefront/internal/domain/cart"
	"github.com/go-redis/redis/v8"
)

const (
	redisSchemaVersion = 1
	maxRedisTxAttempts = 10
)

// RedisBackend keeps the line items of one namespace in a Redis hash, with one
// set per sub product as the secondary index.
//
// Keys:
//
//	<database>:<namespace>:<store>:items                     hash id -> JSON
//	<database>:<namespace>:<store>:idx:subProductId:<sub>    set of ids
type RedisBackend struct {
	client *redis.Client
	prefix string
}

func NewRedisBackend(client *redis.Client, database, objectStore, namespace string) *RedisBackend {
	return &RedisBackend{
		client: client,
		prefix: fmt.Sprintf("%s:%s:%s", database, namespace, objectStore),
	}
}

func (b *RedisBackend) itemsKey() string {
	return b.prefix + ":items"
}

func (b *RedisBackend) indexKey(subProductID string) string {
	return b.prefix + ":idx:subProductId:" + subProductID
}

// Update watches the items hash, runs fn against a write buffer and flushes
// the buffer in MULTI/EXEC. A concurrent write to the hash aborts the EXEC and
// the unit is run again.
func (b *RedisBackend) Update(ctx context.Context, fn func(cart.Tx) error) error {
	for attempt := 0; attempt < maxRedisTxAttempts; attempt++ {
		err := b.client.Watch(ctx, func(rtx *redis.Tx) error {
			tx := &redisTx{ctx: ctx, backend: b, reader: rtx, writes: newWriteSet()}
			if err := fn(tx); err != nil {
				return err
			}
			if tx.writes.empty() {
				return nil
			}
			_, err := rtx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				return tx.flush(pipe)
			})
			return err
		}, b.itemsKey())

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return unreachable(err)
	}
	return fmt.Errorf("redis: cart transaction still conflicting after %d attempts", maxRedisTxAttempts)
}

func (b *RedisBackend) View(ctx context.Context, fn func(cart.Tx) error) error {
	tx := &redisTx{ctx: ctx, backend: b, reader: b.client, readOnly: true}
	return unreachable(fn(tx))
}

func (b *RedisBackend) Isolated() bool {
	return true
}

// Close is a no-op; the client is shared between namespaces and owned by the caller.
func (b *RedisBackend) Close() error {
	return nil
}

type redisReader interface {
	HGet(ctx context.Context, key, field string) *redis.StringCmd
	HGetAll(ctx context.Context, key string) *redis.StringStringMapCmd
	HMGet(ctx context.Context, key string, fields ...string) *redis.SliceCmd
	SMembers(ctx context.Context, key string) *redis.StringSliceCmd
}

type redisTx struct {
	ctx      context.Context
	backend  *RedisBackend
	reader   redisReader
	writes   *writeSet
	readOnly bool
}

func (t *redisTx) committed(id string) (cart.LineItem, bool, error) {
	raw, err := t.reader.HGet(t.ctx, t.backend.itemsKey(), id).Result()
	if err == redis.Nil {
		return cart.LineItem{}, false, nil
	}
	if err != nil {
		return cart.LineItem{}, false, err
	}
	var item cart.LineItem
	if err := json.Unmarshal([]byte(raw), &item); err != nil {
		return cart.LineItem{}, false, fmt.Errorf("decode line item %s: %w", id, err)
	}
	return item, true, nil
}

func (t *redisTx) Get(id string) (cart.LineItem, bool, error) {
	if t.writes == nil {
		return t.committed(id)
	}
	return t.writes.get(id, t.committed)
}

func (t *redisTx) BySubProduct(subProductID string) ([]cart.LineItem, error) {
	ids, err := t.reader.SMembers(t.ctx, t.backend.indexKey(subProductID)).Result()
	if err != nil {
		return nil, err
	}

	var items []cart.LineItem
	if len(ids) > 0 {
		values, err := t.reader.HMGet(t.ctx, t.backend.itemsKey(), ids...).Result()
		if err != nil {
			return nil, err
		}
		for i, v := range values {
			raw, ok := v.(string)
			if !ok {
				// index entry without a record
				continue
			}
			var item cart.LineItem
			if err := json.Unmarshal([]byte(raw), &item); err != nil {
				return nil, fmt.Errorf("decode line item %s: %w", ids[i], err)
			}
			items = append(items, item)
		}
	}

	if t.writes == nil {
		return items, nil
	}
	return t.writes.merge(items, func(item cart.LineItem) bool {
		return item.SubProductID == subProductID
	}), nil
}

func (t *redisTx) List() ([]cart.LineItem, error) {
	all, err := t.reader.HGetAll(t.ctx, t.backend.itemsKey()).Result()
	if err != nil {
		return nil, err
	}

	items := make([]cart.LineItem, 0, len(all))
	for id, raw := range all {
		var item cart.LineItem
		if err := json.Unmarshal([]byte(raw), &item); err != nil {
			return nil, fmt.Errorf("decode line item %s: %w", id, err)
		}
		items = append(items, item)
	}

	if t.writes == nil {
		return items, nil
	}
	return t.writes.merge(items, nil), nil
}

func (t *redisTx) Put(item cart.LineItem) error {
	if t.readOnly {
		return errReadOnly
	}
	t.writes.put(item)
	return nil
}

func (t *redisTx) Delete(id string) error {
	if t.readOnly {
		return errReadOnly
	}
	return t.writes.delete(id, t.committed)
}

func (t *redisTx) DeleteAll() error {
	if t.readOnly {
		return errReadOnly
	}
	items, err := t.List()
	if err != nil {
		return err
	}
	for _, item := range items {
		if err := t.Delete(item.ID); err != nil {
			return err
		}
	}
	return nil
}

func (t *redisTx) flush(pipe redis.Pipeliner) error {
	b := t.backend
	for id, prev := range t.writes.deletes {
		pipe.HDel(t.ctx, b.itemsKey(), id)
		pipe.SRem(t.ctx, b.indexKey(prev.SubProductID), id)
	}
	for id, item := range t.writes.puts {
		data, err := json.Marshal(item)
		if err != nil {
			return err
		}
		pipe.HSet(t.ctx, b.itemsKey(), id, data)
		pipe.SAdd(t.ctx, b.indexKey(item.SubProductID), id)
	}
	return nil
}

// ConnectRedis opens a client and checks the server is reachable.
func ConnectRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, cart.Unavailable(err)
	}
	return client, nil
}

// EnsureRedisSchema records the schema version of an object store. Existing
// keys are never touched.
func EnsureRedisSchema(ctx context.Context, client *redis.Client, database, objectStore string) error {
	key := database + ":meta"
	field := objectStore + ":schema_version"

	current, err := client.HGet(ctx, key, field).Int()
	if err != nil && err != redis.Nil {
		return unreachable(err)
	}
	if current >= redisSchemaVersion {
		return nil
	}
	return unreachable(client.HSet(ctx, key, field, redisSchemaVersion).Err())
}
