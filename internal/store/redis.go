package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/0xd3bs/buysmart/internal/model"
)

const keyAllPositions = "buysmart:positions:all"

// CachedStore wraps a primary PositionStore with a Redis read-through
// cache. Writes go to the primary store and invalidate the cache; Get and
// List check Redis first then fall back to the primary. ListOpen feeds
// reconciliation matching and always reads the primary.
type CachedStore struct {
	primary PositionStore
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary PositionStore, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) Open(ctx context.Context, p OpenParams) (model.Position, error) {
	pos, err := s.primary.Open(ctx, p)
	if err != nil {
		return model.Position{}, err
	}
	s.invalidate(ctx, keyAllPositions)
	s.cache(ctx, positionKey(pos.ID), pos)
	return pos, nil
}

func (s *CachedStore) Close(ctx context.Context, id string, closedAt time.Time, closePrice decimal.Decimal) (model.Position, error) {
	pos, err := s.primary.Close(ctx, id, closedAt, closePrice)
	if err != nil {
		return model.Position{}, err
	}
	s.invalidate(ctx, keyAllPositions, positionKey(id))
	return pos, nil
}

func (s *CachedStore) Delete(ctx context.Context, id string) error {
	if err := s.primary.Delete(ctx, id); err != nil {
		return err
	}
	s.invalidate(ctx, keyAllPositions, positionKey(id))
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) Get(ctx context.Context, id string) (model.Position, error) {
	var pos model.Position
	if s.lookup(ctx, positionKey(id), &pos) {
		return pos, nil
	}
	pos, err := s.primary.Get(ctx, id)
	if err != nil {
		return model.Position{}, err
	}
	s.cache(ctx, positionKey(id), pos)
	return pos, nil
}

func (s *CachedStore) List(ctx context.Context) ([]model.Position, error) {
	var all []model.Position
	if s.lookup(ctx, keyAllPositions, &all) {
		return all, nil
	}
	all, err := s.primary.List(ctx)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, keyAllPositions, all)
	return all, nil
}

// ListOpen is not cached: a stale entry would make the reconciler try to
// close a position that is already CLOSED.
func (s *CachedStore) ListOpen(ctx context.Context) ([]model.OpenPosition, error) {
	return s.primary.ListOpen(ctx)
}

// --- Cache helpers ---

// lookup reports a hit only when the key exists and decodes cleanly; any
// Redis error degrades to a miss.
func (s *CachedStore) lookup(ctx context.Context, key string, out any) bool {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(data, out) == nil
}

// invalidate drops keys after a primary write. On failure the entries live
// until their TTL.
func (s *CachedStore) invalidate(ctx context.Context, keys ...string) {
	if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
		slog.WarnContext(ctx, "cache invalidation failed",
			slog.Any("keys", keys),
			slog.Duration("stale_for_at_most", s.ttl),
			slog.String("error", err.Error()),
		)
	}
}

func (s *CachedStore) cache(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

func positionKey(id string) string { return fmt.Sprintf("buysmart:position:%s", id) }
