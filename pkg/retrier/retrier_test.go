package retrier

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetrier_Do(t *testing.T) {
	t.Run("success on first attempt", func(t *testing.T) {
		r := New()
		attempts := 0
		err := r.Do(context.Background(), func(ctx context.Context) error {
			attempts++
			return nil
		})
		assert.NoError(t, err)
		assert.Equal(t, 1, attempts)
	})

	t.Run("success after retries", func(t *testing.T) {
		retried := 0
		r := New(WithMaxRetries(3), WithInitialInterval(time.Millisecond), WithOnRetry(func(int, error) { retried++ }))
		attempts := 0
		err := r.Do(context.Background(), func(ctx context.Context) error {
			attempts++
			if attempts < 3 {
				return errors.New("fail")
			}
			return nil
		})
		assert.NoError(t, err)
		assert.Equal(t, 3, attempts)
		assert.Equal(t, 2, retried)
	})

	t.Run("fail after max retries", func(t *testing.T) {
		r := New(WithMaxRetries(2), WithInitialInterval(time.Millisecond))
		attempts := 0
		err := r.Do(context.Background(), func(ctx context.Context) error {
			attempts++
			return errors.New("fail")
		})
		assert.Error(t, err)
		assert.Equal(t, 3, attempts)
	})

	t.Run("permanent error stops immediately", func(t *testing.T) {
		r := New(WithMaxRetries(5), WithInitialInterval(time.Millisecond))
		sentinel := errors.New("bad request")
		attempts := 0
		err := r.Do(context.Background(), func(ctx context.Context) error {
			attempts++
			return Permanent(sentinel)
		})
		assert.ErrorIs(t, err, sentinel)
		assert.Equal(t, 1, attempts)
	})

	t.Run("context cancellation", func(t *testing.T) {
		r := New(WithMaxRetries(5), WithInitialInterval(100*time.Millisecond))
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		err := r.Do(ctx, func(ctx context.Context) error {
			return errors.New("fail")
		})
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestDoWithData(t *testing.T) {
	r := New(WithMaxRetries(1), WithInitialInterval(time.Millisecond))
	calls := 0
	got, err := DoWithData(r, context.Background(), func(ctx context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, errors.New("transient")
		}
		return 42, nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 42, got)
}
