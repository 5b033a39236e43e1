package retrier

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func failing(n int, err error, attempts *int) func(context.Context) error {
	return func(context.Context) error {
		*attempts++
		if *attempts <= n {
			return err
		}
		return nil
	}
}

func TestDo(t *testing.T) {
	errFlaky := errors.New("flaky")

	tests := map[string]struct {
		retries  int
		failures int
		wantErr  bool
		attempts int
	}{
		"first attempt":   {retries: 3, failures: 0, attempts: 1},
		"recovers":        {retries: 3, failures: 2, attempts: 3},
		"last retry wins": {retries: 2, failures: 2, attempts: 3},
		"retries run out": {retries: 2, failures: 5, wantErr: true, attempts: 3},
		"no retries":      {retries: 0, failures: 1, wantErr: true, attempts: 1},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			r := New(WithMaxRetries(tt.retries), WithInitialInterval(time.Millisecond))
			attempts := 0
			err := r.Do(context.Background(), failing(tt.failures, errFlaky, &attempts))
			if tt.wantErr {
				assert.ErrorIs(t, err, errFlaky)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.attempts, attempts)
		})
	}
}

func TestDo_ContextCancelledWhileWaiting(t *testing.T) {
	r := New(WithMaxRetries(5), WithInitialInterval(time.Hour))
	ctx, cancel := context.WithCancel(context.Background())

	attempts := 0
	err := r.Do(ctx, func(context.Context) error {
		attempts++
		cancel()
		return errors.New("rpc down")
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, attempts)
}

func TestDo_StopsEarly(t *testing.T) {
	errConflict := errors.New("conflict")
	errBad := errors.New("bad input")

	t.Run("retry predicate", func(t *testing.T) {
		r := New(WithInitialInterval(time.Millisecond), WithRetryIf(func(err error) bool {
			return errors.Is(err, errConflict)
		}))
		attempts := 0
		assert.ErrorIs(t, r.Do(context.Background(), failing(10, errBad, &attempts)), errBad)
		assert.Equal(t, 1, attempts)

		attempts = 0
		assert.NoError(t, r.Do(context.Background(), failing(2, errConflict, &attempts)))
		assert.Equal(t, 3, attempts)
	})

	t.Run("permanent error", func(t *testing.T) {
		r := New(WithInitialInterval(time.Millisecond))
		attempts := 0
		err := r.Do(context.Background(), failing(10, Permanent(errBad), &attempts))
		assert.Equal(t, errBad, err)
		assert.Equal(t, 1, attempts)
		assert.Nil(t, Permanent(nil))
	})
}

func TestDo_OnRetry(t *testing.T) {
	var seen []int
	r := New(WithMaxRetries(4), WithInitialInterval(time.Millisecond), WithOnRetry(func(attempt int, err error) {
		require.Error(t, err)
		seen = append(seen, attempt)
	}))

	attempts := 0
	require.NoError(t, r.Do(context.Background(), failing(3, errors.New("timeout"), &attempts)))
	assert.Equal(t, []int{1, 2, 3}, seen)
}

func TestDelay(t *testing.T) {
	r := New(WithInitialInterval(100*time.Millisecond), WithMaxInterval(time.Second), WithJitter(0))

	assert.Equal(t, 100*time.Millisecond, r.delay(0))
	assert.Equal(t, 200*time.Millisecond, r.delay(1))
	assert.Equal(t, 800*time.Millisecond, r.delay(3))
	assert.Equal(t, time.Second, r.delay(4))
	assert.Equal(t, time.Second, r.delay(50))

	jittered := New(WithInitialInterval(100*time.Millisecond), WithJitter(0.5))
	for i := 0; i < 20; i++ {
		d := jittered.delay(0)
		assert.GreaterOrEqual(t, d, 50*time.Millisecond)
		assert.LessOrEqual(t, d, 150*time.Millisecond)
	}
}

func TestDoWithData(t *testing.T) {
	r := New(WithMaxRetries(2), WithInitialInterval(time.Millisecond))

	calls := 0
	price, err := DoWithData(r, context.Background(), func(context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "stale", errors.New("reverted")
		}
		return "2000", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "2000", price)

	price, err = DoWithData(r, context.Background(), func(context.Context) (string, error) {
		return "partial", errors.New("reverted")
	})
	assert.Error(t, err)
	assert.Empty(t, price)
}
