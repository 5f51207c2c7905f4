// Package retry runs operations against the exchange with exponential
// backoff and jitter. Only errors classified transient by errs.IsRetryable
// are re-attempted; validation and configuration failures surface on the
// first pass.
package retry

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"voltra/internal/logger"
	"voltra/internal/pkg/errs"
)

type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = 500 * time.Millisecond
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 10 * time.Second
	}
	if p.Multiplier <= 1 {
		p.Multiplier = 2
	}
	return p
}

// Do runs op up to MaxAttempts times. The returned error on exhaustion
// carries the attempt count and the last failure.
func Do(ctx context.Context, op string, policy Policy, fn func(ctx context.Context) error) error {
	p := policy.withDefaults()
	delay := p.BaseDelay

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if !errs.IsRetryable(err) {
			return err
		}
		if attempt == p.MaxAttempts {
			break
		}

		wait := jitter(delay)
		// Rate-limit rejections tell us exactly when capacity frees.
		var re *errs.Error
		if errors.As(err, &re) && re.Kind == errs.KindRateLimit && !re.ResetAt.IsZero() {
			if until := time.Until(re.ResetAt); until > wait {
				wait = until
			}
		}
		logger.Warnf("retry %s: attempt %d/%d failed (%v), next in %s", op, attempt, p.MaxAttempts, err, wait.Round(time.Millisecond))

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		delay = time.Duration(float64(delay) * p.Multiplier)
		if delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}
	return errs.Exhausted(op, p.MaxAttempts, lastErr)
}

// jitter spreads the wait across [delay/2, delay) so concurrent retries
// do not stampede the exchange in lockstep.
func jitter(delay time.Duration) time.Duration {
	if delay <= 0 {
		return 0
	}
	half := delay / 2
	return half + time.Duration(rand.Int63n(int64(half)+1))
}
