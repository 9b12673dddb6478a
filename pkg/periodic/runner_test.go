package periodic_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/dmitrymomot/billingkit/pkg/periodic"
)

func TestEvery(t *testing.T) {
	t.Parallel()
	from := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	s := periodic.Every(time.Hour)
	assert.Equal(t, from.Add(time.Hour), s.Next(from))
	assert.Equal(t, "every 1h0m0s", s.String())
	assert.Panics(t, func() { periodic.Every(0) })
}

func TestRunner(t *testing.T) {
	t.Parallel()

	t.Run("runs immediately then on the interval", func(t *testing.T) {
		t.Parallel()
		var calls atomic.Int32
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		done := make(chan error, 1)
		go func() {
			done <- periodic.NewRunner("test", periodic.Every(5*time.Millisecond)).Run(ctx, func(context.Context) error {
				if calls.Add(1) == 3 {
					cancel()
				}
				return nil
			})
		}()

		select {
		case err := <-done:
			assert.ErrorIs(t, err, context.Canceled)
		case <-time.After(2 * time.Second):
			t.Fatal("runner did not stop")
		}
		assert.Equal(t, int32(3), calls.Load())
	})

	t.Run("a failing run does not stop the runner", func(t *testing.T) {
		t.Parallel()
		var calls atomic.Int32
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		err := periodic.NewRunner("test", periodic.Every(time.Millisecond), periodic.WithJitter(time.Millisecond)).
			Run(ctx, func(context.Context) error {
				if calls.Add(1) >= 2 {
					cancel()
				}
				return errors.New("pass failed")
			})
		assert.ErrorIs(t, err, context.Canceled)
		assert.GreaterOrEqual(t, calls.Load(), int32(2))
	})

	t.Run("without immediate run waits for the schedule", func(t *testing.T) {
		t.Parallel()
		var calls atomic.Int32
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		err := periodic.NewRunner("test", periodic.Every(time.Hour), periodic.WithoutImmediateRun()).
			Run(ctx, func(context.Context) error {
				calls.Add(1)
				return nil
			})
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Zero(t, calls.Load())
	})
}
