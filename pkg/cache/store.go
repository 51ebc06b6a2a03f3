package cache

import (
	"context"
	"errors"
	"time"

	"link-tracker/pkg/logging"
	"link-tracker/pkg/storage"
)

// Store is a read-through cache in front of a storage.RecordStore. Cache
// errors are logged and the wrapped store is used instead; they never fail
// a call. The click log is never cached.
type Store struct {
	next   storage.RecordStore
	cache  CollectionCacheInterface
	ttl    time.Duration
	logger *logging.Logger
}

func NewStore(next storage.RecordStore, cache CollectionCacheInterface, ttl time.Duration, logger *logging.Logger) *Store {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Store{next: next, cache: cache, ttl: ttl, logger: logger}
}

func cacheable(c storage.Collection) bool {
	return c != storage.Clicks
}

func (s *Store) ReadAll(ctx context.Context, c storage.Collection) ([]storage.Row, error) {
	if !cacheable(c) {
		return s.next.ReadAll(ctx, c)
	}

	rows, ok, err := s.cache.Get(ctx, c)
	if err != nil {
		s.logger.Warn(ctx, "cache read failed", "collection", string(c), "error", err)
	}
	if ok {
		return rows, nil
	}

	// The generation is read before the backend so that a write landing in
	// between makes the fill below a no-op.
	gen, genErr := s.cache.Generation(ctx, c)
	rows, err = s.next.ReadAll(ctx, c)
	if err != nil {
		return nil, err
	}
	if genErr != nil {
		s.logger.Warn(ctx, "cache generation read failed", "collection", string(c), "error", genErr)
		return rows, nil
	}
	err = s.cache.SetIfGeneration(ctx, c, gen, rows, s.ttl)
	switch {
	case errors.Is(err, ErrStale):
		s.logger.Debug(ctx, "cache fill skipped, collection changed", "collection", string(c))
	case err != nil:
		s.logger.Warn(ctx, "cache write failed", "collection", string(c), "error", err)
	}
	return rows, nil
}

func (s *Store) ReplaceAll(ctx context.Context, c storage.Collection, rows []storage.Row) error {
	err := s.next.ReplaceAll(ctx, c, rows)
	s.invalidate(ctx, c)
	return err
}

func (s *Store) Append(ctx context.Context, c storage.Collection, row storage.Row) error {
	err := s.next.Append(ctx, c, row)
	s.invalidate(ctx, c)
	return err
}

// Update delegates to the wrapped store so its isolation applies, then
// drops the cached snapshot.
func (s *Store) Update(ctx context.Context, c storage.Collection, fn storage.UpdateFunc) error {
	err := storage.Update(ctx, s.next, c, fn)
	s.invalidate(ctx, c)
	return err
}

func (s *Store) Init(ctx context.Context) error {
	if i, ok := s.next.(storage.Initializer); ok {
		return i.Init(ctx)
	}
	return nil
}

func (s *Store) invalidate(ctx context.Context, c storage.Collection) {
	if !cacheable(c) {
		return
	}
	if err := s.cache.Invalidate(ctx, c); err != nil {
		s.logger.Warn(ctx, "cache invalidation failed", "collection", string(c), "error", err)
	}
}
