// Package dispatch funnels all outbound exchange calls through a single
// rate-limited worker. It is the system's only global serialization
// point: calls execute strictly one at a time, FIFO, regardless of how
// many goroutines submit them, which is also what protects the exchange
// rate limit.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jpillora/backoff"
	"golang.org/x/time/rate"

	"signalbridge/internal/ports"
)

// Config holds dispatcher tuning parameters.
type Config struct {
	CallsPerSecond float64 // Rate ceiling for outbound calls
	QueueSize      int     // Bounded queue capacity (backpressure past this)
	RetryAttempts  int     // Max attempts for DoIdempotent (including the first)
	RetryMinDelay  float64 // Seconds; first retry delay
	RetryMaxDelay  float64 // Seconds; backoff ceiling
	Logger         ports.Logger
}

type job struct {
	ctx  context.Context
	fn   func(context.Context) error
	done chan error
}

// Dispatcher serializes and paces outbound calls.
type Dispatcher struct {
	limiter *rate.Limiter
	queue   chan job
	logger  ports.Logger

	retryAttempts int
	retryMin      float64
	retryMax      float64

	mu      sync.RWMutex // guards stopped and sends into queue
	stopped bool
	wg      sync.WaitGroup
}

// New creates a dispatcher. Start must be called before use.
func New(cfg Config) (*Dispatcher, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for dispatcher")
	}
	if cfg.CallsPerSecond <= 0 {
		return nil, fmt.Errorf("CallsPerSecond must be positive, got %f", cfg.CallsPerSecond)
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 64
	}
	attempts := cfg.RetryAttempts
	if attempts <= 0 {
		attempts = 3
	}
	retryMin := cfg.RetryMinDelay
	if retryMin <= 0 {
		retryMin = 2.0
	}
	retryMax := cfg.RetryMaxDelay
	if retryMax < retryMin {
		retryMax = retryMin * 4
	}

	return &Dispatcher{
		// Burst of 1: strictly one call per 1/CallsPerSecond interval.
		limiter:       rate.NewLimiter(rate.Limit(cfg.CallsPerSecond), 1),
		queue:         make(chan job, queueSize),
		logger:        cfg.Logger,
		retryAttempts: attempts,
		retryMin:      retryMin,
		retryMax:      retryMax,
	}, nil
}

// Start launches the single worker goroutine.
func (d *Dispatcher) Start() {
	d.wg.Add(1)
	go d.worker()
}

// Stop rejects new submissions, drains calls already queued, then stops
// the worker. Safe to call once; deterministic in tests.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	close(d.queue)
	d.mu.Unlock()

	d.wg.Wait()
	d.logger.Info(context.Background(), "Dispatcher stopped, queue drained")
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for j := range d.queue {
		// A caller that gave up while queued should not consume rate budget.
		if err := j.ctx.Err(); err != nil {
			j.done <- fmt.Errorf("call abandoned in queue: %w", ports.ErrContextCanceled)
			continue
		}
		if err := d.limiter.Wait(j.ctx); err != nil {
			j.done <- fmt.Errorf("rate limiter wait: %v: %w", err, ports.ErrContextCanceled)
			continue
		}
		j.done <- j.fn(j.ctx)
	}
}

// Do submits fn to the queue and waits for its result. Calls submitted
// through Do are never retried by this layer: retrying an order
// submission risks duplicate orders, so idempotency tokens are the
// defense instead.
func (d *Dispatcher) Do(ctx context.Context, fn func(context.Context) error) error {
	j := job{ctx: ctx, fn: fn, done: make(chan error, 1)}

	d.mu.RLock()
	if d.stopped {
		d.mu.RUnlock()
		return ports.ErrDispatcherStopped
	}
	// The send happens under the read lock so Stop cannot close the
	// queue while a submission is in flight.
	select {
	case d.queue <- j:
		d.mu.RUnlock()
	case <-ctx.Done():
		d.mu.RUnlock()
		return fmt.Errorf("gave up waiting for queue slot: %w", ctx.Err())
	}

	select {
	case err := <-j.done:
		return err
	case <-ctx.Done():
		// The worker will notice the dead context before running fn.
		return ctx.Err()
	}
}

// DoIdempotent submits fn like Do but wraps it with a bounded retry
// policy. Only side-effect-free, read-only calls (balance fetch, ticker
// fetch) may be routed through here. Exhausting the retry budget surfaces
// the last error.
func (d *Dispatcher) DoIdempotent(ctx context.Context, fn func(context.Context) error) error {
	b := &backoff.Backoff{
		Min:    time.Duration(d.retryMin * float64(time.Second)),
		Max:    time.Duration(d.retryMax * float64(time.Second)),
		Factor: 2,
		Jitter: false,
	}

	var lastErr error
	for attempt := 1; attempt <= d.retryAttempts; attempt++ {
		lastErr = d.Do(ctx, fn)
		if lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, ports.ErrDispatcherStopped) || ctx.Err() != nil {
			return lastErr
		}
		if attempt == d.retryAttempts {
			break
		}
		delay := b.Duration()
		d.logger.Warn(ctx, "Idempotent call failed, retrying", map[string]interface{}{
			"attempt": attempt,
			"of":      d.retryAttempts,
			"delay":   delay.String(),
			"error":   lastErr.Error(),
		})
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("retries exhausted after %d attempts: %w", d.retryAttempts, lastErr)
}
