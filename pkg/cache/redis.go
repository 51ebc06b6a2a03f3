package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"link-tracker/pkg/storage"
)

// ErrStale is returned by SetIfGeneration when a write invalidated the
// collection after the snapshot was read.
var ErrStale = errors.New("cache: snapshot is stale")

type CollectionCacheInterface interface {
	Get(ctx context.Context, c storage.Collection) ([]storage.Row, bool, error)
	// Generation returns a counter that every Invalidate advances.
	Generation(ctx context.Context, c storage.Collection) (int64, error)
	SetIfGeneration(ctx context.Context, c storage.Collection, gen int64, rows []storage.Row, ttl time.Duration) error
	Invalidate(ctx context.Context, c storage.Collection) error
}

// CollectionCache keeps JSON snapshots of whole collections in Redis, next
// to a generation counter per collection.
type CollectionCache struct {
	client *redis.Client
	prefix string
}

func NewCollectionCache(client *redis.Client) *CollectionCache {
	return &CollectionCache{client: client, prefix: "collection:"}
}

func (c *CollectionCache) key(col storage.Collection) string {
	return c.prefix + string(col)
}

func (c *CollectionCache) genKey(col storage.Collection) string {
	return c.prefix + string(col) + ":gen"
}

// Get returns ok=false on a cache miss.
func (c *CollectionCache) Get(ctx context.Context, col storage.Collection) ([]storage.Row, bool, error) {
	val, err := c.client.Get(ctx, c.key(col)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var rows []storage.Row
	if err := json.Unmarshal(val, &rows); err != nil {
		return nil, false, err
	}
	return rows, true, nil
}

// Generation reads the collection's counter. A missing counter is 0.
func (c *CollectionCache) Generation(ctx context.Context, col storage.Collection) (int64, error) {
	gen, err := c.client.Get(ctx, c.genKey(col)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return gen, err
}

// SetIfGeneration stores rows only while the counter still equals gen. The
// counter is watched, so an Invalidate that lands between the check and
// the write aborts the transaction.
func (c *CollectionCache) SetIfGeneration(ctx context.Context, col storage.Collection, gen int64, rows []storage.Row, ttl time.Duration) error {
	if rows == nil {
		rows = []storage.Row{}
	}
	data, err := json.Marshal(rows)
	if err != nil {
		return err
	}

	genKey := c.genKey(col)
	err = c.client.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, genKey).Int64()
		if err != nil && err != redis.Nil {
			return err
		}
		if cur != gen {
			return ErrStale
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, c.key(col), data, ttl)
			return nil
		})
		return err
	}, genKey)
	if errors.Is(err, redis.TxFailedErr) {
		return ErrStale
	}
	return err
}

// Invalidate advances the counter and drops the snapshot in one
// transaction.
func (c *CollectionCache) Invalidate(ctx context.Context, col storage.Collection) error {
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, c.genKey(col))
		pipe.Del(ctx, c.key(col))
		return nil
	})
	return err
}
