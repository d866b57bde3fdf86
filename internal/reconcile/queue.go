package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/0xd3bs/buysmart/internal/metrics"
	"github.com/0xd3bs/buysmart/internal/model"
)

var (
	// ErrQueueClosed is returned by Submit after Run has returned.
	ErrQueueClosed = errors.New("reconcile: queue closed")

	// ErrQueueFull is returned when the worker has not taken the previous task.
	ErrQueueFull = errors.New("reconcile: queue full")
)

// DefaultDelay is the yield between submission and reconciliation.
const DefaultDelay = 50 * time.Millisecond

// SwapReconciler is what the queue runs for each task.
type SwapReconciler interface {
	Reconcile(ctx context.Context, swap model.SwapResult, pair model.TokenPair) (model.Action, error)
}

// Callbacks are the two terminal outcomes of a submitted task. Both are
// advisory and optional. Ignored swaps invoke neither.
type Callbacks struct {
	OnSuccess func(model.Action)
	OnError   func(error)
}

type task struct {
	swap     model.SwapResult
	pair     model.TokenPair
	cb       Callbacks
	release  func()
	dedupKey string
}

// Queue runs reconciliations one at a time on a single worker goroutine.
type Queue struct {
	rec    SwapReconciler
	guard  Guard
	dedup  *Dedup
	delay  time.Duration
	tasks  chan task
	done   chan struct{}
	mu     sync.RWMutex // Submit holds R across its done check and send
	logger *slog.Logger
}

// QueueConfig holds the queue collaborators. Guard defaults to a LocalGuard,
// Dedup is optional.
type QueueConfig struct {
	Guard  Guard
	Dedup  *Dedup
	Delay  time.Duration
	Logger *slog.Logger
}

// NewQueue creates a queue; call Run to start the worker.
func NewQueue(rec SwapReconciler, cfg QueueConfig) *Queue {
	if cfg.Guard == nil {
		cfg.Guard = NewLocalGuard()
	}
	if cfg.Delay < 0 {
		cfg.Delay = 0
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Queue{
		rec:    rec,
		guard:  cfg.Guard,
		dedup:  cfg.Dedup,
		delay:  cfg.Delay,
		tasks:  make(chan task, 1),
		done:   make(chan struct{}),
		logger: cfg.Logger,
	}
}

// Submit hands a completed swap to the worker and returns immediately. A
// non-nil error means the swap was dropped, not queued: ErrInFlight while
// another reconciliation runs, ErrDuplicateSwap for a repeated transaction
// hash.
func (q *Queue) Submit(ctx context.Context, swap model.SwapResult, pair model.TokenPair, cb Callbacks) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	select {
	case <-q.done:
		return ErrQueueClosed
	default:
	}

	release, err := q.guard.Acquire(ctx)
	if err != nil {
		if errors.Is(err, ErrInFlight) {
			q.drop(ctx, "in_flight", swap)
			return err
		}
		return fmt.Errorf("reconcile: submit: %w", err)
	}

	key := TxKey(swap.TxHash)
	if q.dedup != nil && q.dedup.IsDuplicate(key) {
		release()
		q.drop(ctx, "duplicate", swap)
		return fmt.Errorf("%w: %s", ErrDuplicateSwap, key)
	}

	t := task{swap: swap, pair: pair, cb: cb, release: release, dedupKey: key}
	select {
	case q.tasks <- t:
		return nil
	default:
		release()
		q.forget(key)
		q.drop(ctx, "queue_full", swap)
		return ErrQueueFull
	}
}

// Run is the single worker. It returns nil when ctx is cancelled.
func (q *Queue) Run(ctx context.Context) error {

	var cleanup <-chan time.Time
	if q.dedup != nil && q.dedup.ttl > 0 {
		ticker := time.NewTicker(q.dedup.ttl)
		defer ticker.Stop()
		cleanup = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			q.shutdown()
			return nil
		case <-cleanup:
			q.dedup.Cleanup()
		case t := <-q.tasks:
			q.process(ctx, t)
		}
	}
}

// process runs one task. Once started it is not cancelled.
func (q *Queue) process(ctx context.Context, t task) {
	if q.delay > 0 {
		time.Sleep(q.delay)
	}

	start := time.Now()
	action, err := q.rec.Reconcile(context.WithoutCancel(ctx), t.swap, t.pair)
	metrics.ReconcileLatency.Observe(time.Since(start).Seconds())
	t.release()

	if err != nil {
		metrics.ReconcileTotal.WithLabelValues("error").Inc()
		q.forget(t.dedupKey)
		q.logger.WarnContext(ctx, "reconciliation failed",
			slog.String("pair", t.pair.String()),
			slog.String("tx_hash", t.swap.TxHash),
			slog.String("error", err.Error()),
		)
		if t.cb.OnError != nil {
			q.safely(ctx, "on_error", func() { t.cb.OnError(err) })
		}
		return
	}

	metrics.ReconcileTotal.WithLabelValues(string(action.Kind)).Inc()
	if action.Kind == model.ActionIgnored {
		return
	}
	if t.cb.OnSuccess != nil {
		q.safely(ctx, "on_success", func() { t.cb.OnSuccess(action) })
	}
}

// shutdown closes done so no Submit can enqueue again, then drains. The
// write lock waits out any Submit already past its done check.
func (q *Queue) shutdown() {
	q.mu.Lock()
	close(q.done)
	q.mu.Unlock()
	q.drain()
}

// drain releases the guard of a task accepted but never started.
func (q *Queue) drain() {
	select {
	case t := <-q.tasks:
		t.release()
		q.forget(t.dedupKey)
		q.logger.Warn("reconciliation abandoned on shutdown", slog.String("pair", t.pair.String()))
	default:
	}
}

// safely keeps a panicking callback from killing the worker.
func (q *Queue) safely(ctx context.Context, name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.ErrorContext(ctx, "reconcile callback panicked",
				slog.String("callback", name),
				slog.Any("panic", r),
			)
		}
	}()
	fn()
}

func (q *Queue) forget(key string) {
	if q.dedup != nil {
		q.dedup.Forget(key)
	}
}

func (q *Queue) drop(ctx context.Context, reason string, swap model.SwapResult) {
	metrics.SwapsDropped.WithLabelValues(reason).Inc()
	q.logger.InfoContext(ctx, "swap dropped",
		slog.String("reason", reason),
		slog.String("tx_hash", swap.TxHash),
	)
}
