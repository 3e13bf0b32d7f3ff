// Package ratelimit gates narrative-backed requests with a fixed window
// quota per requester identity. The quota is shared across all narrative
// providers.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"
)

// Record is the stored window state for one identity. A zero Record means
// no window is active.
type Record struct {
	WindowStart time.Time
	Count       int
}

// Store persists window records. Consume must be atomic per identity: two
// concurrent calls may never both succeed when one unit is left.
type Store interface {
	// Consume takes one unit for identity if the window at now has room,
	// starting a fresh window when the stored one has expired. It returns
	// the record after the call and whether a unit was taken.
	Consume(ctx context.Context, identity string, now time.Time, capacity int, window time.Duration) (Record, bool, error)

	// Peek returns the record for identity without consuming.
	Peek(ctx context.Context, identity string) (Record, error)

	// Reset clears the window for identity. Resetting an unknown identity
	// is not an error.
	Reset(ctx context.Context, identity string) error
}

// Config sets the quota.
type Config struct {
	Capacity int
	Window   time.Duration
}

// DefaultConfig is three narrative requests per hour.
func DefaultConfig() Config {
	return Config{Capacity: 3, Window: 60 * time.Minute}
}

// Validate checks the quota bounds.
func (c Config) Validate() error {
	var errs []error
	if c.Capacity < 1 {
		errs = append(errs, fmt.Errorf("rate limit capacity %d must be at least 1", c.Capacity))
	}
	if c.Window < time.Second {
		errs = append(errs, fmt.Errorf("rate limit window %s must be at least 1s", c.Window))
	}
	return errors.Join(errs...)
}

// Decision is the result of consulting the limiter.
type Decision struct {
	Allowed   bool      `json:"allowed"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"resetAt"`

	// Degraded is set when the store failed and the request was let
	// through without accounting.
	Degraded bool `json:"degraded,omitempty"`
}

// RetryAfter is how long until the window resets, rounded up to a whole
// second and never less than one.
func (d Decision) RetryAfter(now time.Time) time.Duration {
	wait := d.ResetAt.Sub(now)
	if wait < time.Second {
		return time.Second
	}
	return (wait + time.Second - 1).Truncate(time.Second)
}

// Limiter applies Config over a Store.
type Limiter struct {
	cfg     Config
	store   Store
	logger  log.Logger
	metrics *Metrics
	now     func() time.Time
}

// New returns a Limiter. store is required; logger and metrics may be nil.
func New(cfg Config, store Store, logger log.Logger, metrics *Metrics) *Limiter {
	if store == nil {
		panic(xerrors.New("rate limit store is required"))
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Limiter{
		cfg:     cfg,
		store:   store,
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
	}
}

// Capacity returns the per-window quota.
func (l *Limiter) Capacity() int { return l.cfg.Capacity }

// CheckAndConsume takes one unit of quota for identity if any is left. A
// store failure allows the request with full remaining quota.
func (l *Limiter) CheckAndConsume(ctx context.Context, identity string) Decision {
	now := l.now().UTC()
	rec, ok, err := l.store.Consume(ctx, identity, now, l.cfg.Capacity, l.cfg.Window)
	if err != nil {
		l.logger.Warn(ctx, "rate limit store unavailable, allowing request",
			"identity", identity,
			"error", err,
		)
		l.metrics.decision("degraded")
		return l.degraded(now)
	}

	d := l.decide(rec, now)
	d.Allowed = ok
	if ok {
		l.metrics.decision("allowed")
	} else {
		l.metrics.decision("denied")
		l.logger.Info(ctx, "rate limit exceeded", "identity", identity, "reset_at", d.ResetAt)
	}
	return d
}

// Status reports the remaining quota for identity without consuming any.
func (l *Limiter) Status(ctx context.Context, identity string) Decision {
	now := l.now().UTC()
	rec, err := l.store.Peek(ctx, identity)
	if err != nil {
		l.logger.Warn(ctx, "rate limit store unavailable", "identity", identity, "error", err)
		return l.degraded(now)
	}
	d := l.decide(rec, now)
	d.Allowed = d.Remaining > 0
	return d
}

// Reset clears the window for identity. It is idempotent.
func (l *Limiter) Reset(ctx context.Context, identity string) error {
	if err := l.store.Reset(ctx, identity); err != nil {
		return fmt.Errorf("reset rate limit for %q: %w", identity, err)
	}
	l.metrics.reset()
	l.logger.Info(ctx, "rate limit reset", "identity", identity)
	return nil
}

func (l *Limiter) decide(rec Record, now time.Time) Decision {
	if Expired(rec.WindowStart, now, l.cfg.Window) {
		return Decision{Remaining: l.cfg.Capacity, ResetAt: now.Add(l.cfg.Window)}
	}
	return Decision{
		Remaining: max(0, l.cfg.Capacity-rec.Count),
		ResetAt:   rec.WindowStart.Add(l.cfg.Window),
	}
}

func (l *Limiter) degraded(now time.Time) Decision {
	return Decision{
		Allowed:   true,
		Remaining: l.cfg.Capacity,
		ResetAt:   now.Add(l.cfg.Window),
		Degraded:  true,
	}
}

// Expired reports whether a window that started at start has ended at now.
// Stores use it so every backend agrees on the window edge.
func Expired(start, now time.Time, window time.Duration) bool {
	return start.IsZero() || !now.Before(start.Add(window))
}
