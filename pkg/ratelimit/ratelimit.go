// Package ratelimit enforces windowed request budgets per caller. Windows
// are fixed (minute/hour/day): usage resets when the window rolls over, and
// a rejected request reports how long until the earliest rollover.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kadirpekel/torii/pkg/config"
)

// Window is a rate limiting time window.
type Window string

const (
	WindowMinute Window = "minute"
	WindowHour   Window = "hour"
	WindowDay    Window = "day"
)

// Duration returns the window length.
func (w Window) Duration() time.Duration {
	switch w {
	case WindowMinute:
		return time.Minute
	case WindowHour:
		return time.Hour
	case WindowDay:
		return 24 * time.Hour
	default:
		return time.Hour
	}
}

// Usage is the current state of one budget.
type Usage struct {
	Window    Window    `json:"window"`
	Current   int64     `json:"current"`
	Limit     int64     `json:"limit"`
	Remaining int64     `json:"remaining"`
	WindowEnd time.Time `json:"window_end"`
}

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed    bool
	Reason     string
	Usages     []Usage
	RetryAfter time.Duration
}

// Store persists per-caller window counters. Implementations must be safe
// for concurrent use.
type Store interface {
	// Increment adds one to the counter for (identifier, window), rolling
	// the window over if it has expired. Returns the new count and the
	// window end.
	Increment(ctx context.Context, identifier string, window Window) (int64, time.Time, error)

	// Get returns the current count and window end without incrementing.
	Get(ctx context.Context, identifier string, window Window) (int64, time.Time, error)

	// Reset drops all counters for an identifier.
	Reset(ctx context.Context, identifier string) error

	// Sweep removes counters whose window ended before the given time.
	Sweep(ctx context.Context, before time.Time) error
}

// Limiter checks every configured rule on each request.
type Limiter struct {
	rules []config.RateLimitRule
	store Store
	mu    sync.Mutex
}

// New builds a limiter, or nil when rate limiting is disabled.
func New(cfg config.RateLimitConfig, store Store) (*Limiter, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if len(cfg.Rules) == 0 {
		return nil, fmt.Errorf("rate limiting enabled with no rules")
	}
	if store == nil {
		store = NewMemoryStore()
	}
	for _, rule := range cfg.Rules {
		switch Window(rule.Window) {
		case WindowMinute, WindowHour, WindowDay:
		default:
			return nil, fmt.Errorf("unknown rate limit window %q", rule.Window)
		}
		if rule.Limit <= 0 {
			return nil, fmt.Errorf("rate limit must be positive, got %d", rule.Limit)
		}
	}
	return &Limiter{rules: cfg.Rules, store: store}, nil
}

// Allow admits or rejects one request. Admission increments every window;
// rejection increments none, so a denied request does not consume budget.
func (l *Limiter) Allow(ctx context.Context, identifier string) (*Decision, error) {
	if identifier == "" {
		return nil, fmt.Errorf("identifier cannot be empty")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	decision := &Decision{Allowed: true, Usages: make([]Usage, 0, len(l.rules))}
	var earliestRetry time.Time

	for _, rule := range l.rules {
		window := Window(rule.Window)
		current, windowEnd, err := l.store.Get(ctx, identifier, window)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s window: %w", window, err)
		}

		remaining := rule.Limit - current
		if remaining < 0 {
			remaining = 0
		}
		decision.Usages = append(decision.Usages, Usage{
			Window:    window,
			Current:   current,
			Limit:     rule.Limit,
			Remaining: remaining,
			WindowEnd: windowEnd,
		})

		if current >= rule.Limit {
			decision.Allowed = false
			if decision.Reason == "" {
				decision.Reason = fmt.Sprintf("rate limit exceeded for %s window (%d/%d)", window, current, rule.Limit)
			}
			if earliestRetry.IsZero() || windowEnd.Before(earliestRetry) {
				earliestRetry = windowEnd
			}
		}
	}

	if !decision.Allowed {
		if wait := time.Until(earliestRetry); wait > 0 {
			decision.RetryAfter = wait
		} else {
			decision.RetryAfter = time.Second
		}
		return decision, nil
	}

	for i, rule := range l.rules {
		window := Window(rule.Window)
		count, windowEnd, err := l.store.Increment(ctx, identifier, window)
		if err != nil {
			return nil, fmt.Errorf("failed to increment %s window: %w", window, err)
		}
		decision.Usages[i].Current = count
		decision.Usages[i].Remaining = rule.Limit - count
		decision.Usages[i].WindowEnd = windowEnd
	}
	return decision, nil
}

// Reset clears all budgets for one caller.
func (l *Limiter) Reset(ctx context.Context, identifier string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.store.Reset(ctx, identifier)
}

// Sweep drops expired counters. Run it periodically to bound memory.
func (l *Limiter) Sweep(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.store.Sweep(ctx, time.Now())
}
