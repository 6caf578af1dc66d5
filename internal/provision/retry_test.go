package provision

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/savaki/mlops-provisioner/internal/errors"
)

func TestRetry_TransientThenSuccess(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 3}

	calls := 0
	err := policy.Do(context.Background(), "op", func() error {
		calls++
		if calls < 3 {
			return apperrors.New(apperrors.KindTransient, assert.AnError)
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetry_NonRetryableSurfacesImmediately(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 5}

	calls := 0
	err := policy.Do(context.Background(), "op", func() error {
		calls++
		return apperrors.New(apperrors.KindConflict, assert.AnError)
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, apperrors.KindConflict, apperrors.KindOf(err))
}

func TestRetry_ExhaustionReturnsLastError(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 2}

	calls := 0
	err := policy.Do(context.Background(), "op", func() error {
		calls++
		return apperrors.New(apperrors.KindTransient, assert.AnError)
	})

	require.Error(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, apperrors.KindTransient, apperrors.KindOf(err))
}

func TestRetry_CanceledContextReportsTimeout(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 3, BaseDelay: time.Hour}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := policy.Do(ctx, "op", func() error {
		return apperrors.New(apperrors.KindTransient, assert.AnError)
	})

	require.Error(t, err)
	assert.Equal(t, apperrors.KindTimeout, apperrors.KindOf(err))
}
