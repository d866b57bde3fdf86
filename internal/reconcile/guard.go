package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrInFlight is returned when a reconciliation is already running.
var ErrInFlight = errors.New("reconcile: reconciliation already in flight")

// Guard is a single-slot "operation in progress" token. The caller owns it
// and hands it to the Queue; nothing in this package keeps global state.
type Guard interface {
	// Acquire takes the slot or fails with ErrInFlight. The returned
	// release func is safe to call more than once.
	Acquire(ctx context.Context) (release func(), err error)
}

// LocalGuard is an in-process Guard.
type LocalGuard struct {
	busy atomic.Bool
}

// NewLocalGuard creates an idle in-process guard.
func NewLocalGuard() *LocalGuard { return &LocalGuard{} }

func (g *LocalGuard) Acquire(context.Context) (func(), error) {
	if !g.busy.CompareAndSwap(false, true) {
		return nil, ErrInFlight
	}
	var once sync.Once
	return func() { once.Do(func() { g.busy.Store(false) }) }, nil
}

// Busy reports whether the slot is currently held.
func (g *LocalGuard) Busy() bool { return g.busy.Load() }

// unlockLua deletes the key only if it still holds the caller's token.
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// RedisGuard shares the slot between processes using SET NX with a TTL. The
// TTL bounds how long a crashed holder can block others.
type RedisGuard struct {
	rdb      *redis.Client
	key      string
	ttl      time.Duration
	unlockSc *redis.Script
}

// NewRedisGuard creates a guard on key. A zero ttl defaults to 30s.
func NewRedisGuard(rdb *redis.Client, key string, ttl time.Duration) *RedisGuard {
	if key == "" {
		key = "buysmart:reconcile:inflight"
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisGuard{
		rdb:      rdb,
		key:      key,
		ttl:      ttl,
		unlockSc: redis.NewScript(unlockLua),
	}
}

func (g *RedisGuard) Acquire(ctx context.Context) (func(), error) {
	token := uuid.New().String()

	ok, err := g.rdb.SetNX(ctx, g.key, token, g.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("reconcile: acquire guard %s: %w", g.key, err)
	}
	if !ok {
		return nil, ErrInFlight
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			// Background context: release must work after the caller's
			// context is gone.
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = g.unlockSc.Run(ctx, g.rdb, []string{g.key}, token).Err()
		})
	}
	return release, nil
}

var (
	_ Guard = (*LocalGuard)(nil)
	_ Guard = (*RedisGuard)(nil)
)
