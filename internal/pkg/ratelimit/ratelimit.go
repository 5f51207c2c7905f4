// Package ratelimit implements the fixed-window limiter that gates every
// outbound exchange call. Windows are keyed by (category, identifier) so
// order placement, market data and account queries get independent budgets.
package ratelimit

import (
	"context"
	"strings"
	"sync"
	"time"

	"voltra/internal/logger"
	"voltra/internal/pkg/errs"
)

// Rule is the ceiling for one category: at most Limit calls per Window.
type Rule struct {
	Limit  int
	Window time.Duration
}

type window struct {
	count   int
	resetAt time.Time
}

// Result reports the outcome of a single check.
type Result struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

type Limiter struct {
	mu      sync.Mutex
	rules   map[string]Rule
	windows map[string]*window
	nowFn   func() time.Time

	// Wait re-checks in sleep increments of this size.
	pollStep time.Duration
}

func NewLimiter(rules map[string]Rule) *Limiter {
	normalized := make(map[string]Rule, len(rules))
	for cat, rule := range rules {
		cat = strings.ToLower(strings.TrimSpace(cat))
		if cat == "" || rule.Limit <= 0 || rule.Window <= 0 {
			continue
		}
		normalized[cat] = rule
	}
	return &Limiter{
		rules:    normalized,
		windows:  make(map[string]*window),
		nowFn:    time.Now,
		pollStep: 100 * time.Millisecond,
	}
}

// Check consumes one slot for (category, identifier) if capacity remains.
// Unknown categories fail open: blocking trading over a missing limiter
// rule would be worse than an occasional extra call, so the request is
// allowed and the misconfiguration logged.
func (l *Limiter) Check(category, identifier string) Result {
	category = strings.ToLower(strings.TrimSpace(category))
	rule, ok := l.rules[category]
	if !ok {
		logger.Warnf("ratelimit: no rule for category %q, allowing request", category)
		return Result{Allowed: true}
	}

	key := category + "|" + strings.TrimSpace(identifier)
	now := l.nowFn()

	l.mu.Lock()
	defer l.mu.Unlock()

	w := l.windows[key]
	if w == nil || !now.Before(w.resetAt) {
		w = &window{resetAt: now.Add(rule.Window)}
		l.windows[key] = w
	}
	if w.count >= rule.Limit {
		return Result{Allowed: false, Remaining: 0, ResetAt: w.resetAt}
	}
	w.count++
	return Result{Allowed: true, Remaining: rule.Limit - w.count, ResetAt: w.resetAt}
}

// Wait blocks until a slot frees or maxWait elapses. The context cancels
// the wait early.
func (l *Limiter) Wait(ctx context.Context, category, identifier string, maxWait time.Duration) error {
	deadline := l.nowFn().Add(maxWait)
	for {
		res := l.Check(category, identifier)
		if res.Allowed {
			return nil
		}
		now := l.nowFn()
		if !now.Before(deadline) {
			return errs.RateLimited(category+"/"+identifier, res.ResetAt)
		}

		sleep := l.pollStep
		if until := res.ResetAt.Sub(now); until > 0 && until < sleep {
			sleep = until
		}
		if remain := deadline.Sub(now); remain < sleep {
			sleep = remain
		}
		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Sweep drops expired windows. Called by the periodic janitor.
func (l *Limiter) Sweep() int {
	now := l.nowFn()
	l.mu.Lock()
	defer l.mu.Unlock()
	removed := 0
	for key, w := range l.windows {
		if !now.Before(w.resetAt) {
			delete(l.windows, key)
			removed++
		}
	}
	return removed
}

// StartSweeper runs Sweep on the given interval until ctx is cancelled.
func (l *Limiter) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := l.Sweep(); n > 0 {
					logger.Debugf("ratelimit: swept %d expired windows", n)
				}
			}
		}
	}()
}
