package provision

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	apperrors "github.com/savaki/mlops-provisioner/internal/errors"
)

// RetryPolicy bounds retries of transient failures with exponential backoff.
// Only errors classified Transient are retried; everything else surfaces
// immediately.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy mirrors the retry behavior of the original lambdas:
// a handful of attempts, seconds apart, growing.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 4,
		BaseDelay:   2 * time.Second,
		MaxDelay:    30 * time.Second,
	}
}

// Do runs fn, retrying transient failures until attempts are exhausted or
// the context is done. The last error is returned unchanged so its
// classification survives.
func (p RetryPolicy) Do(ctx context.Context, op string, fn func() error) error {
	logger := zerolog.Ctx(ctx)

	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	delay := p.BaseDelay
	for attempt := 1; attempt <= attempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !apperrors.Retryable(err) || attempt == attempts {
			return err
		}

		logger.Warn().
			Err(err).
			Str("op", op).
			Int("attempt", attempt).
			Dur("delay", delay).
			Msg("Transient failure, retrying")

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return apperrors.New(apperrors.KindTimeout, ctx.Err())
		}

		delay *= 2
		if p.MaxDelay > 0 && delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}
	return err
}
