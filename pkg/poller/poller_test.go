package poller

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoll(t *testing.T) {
	t.Run("Immediate resolution", func(t *testing.T) {
		var checks int32

		h := Poll(Options{
			Check: func() (interface{}, error) {
				atomic.AddInt32(&checks, 1)
				return "done", nil
			},
			IsPending: func(result interface{}) bool { return false },
			Interval:  time.Hour,
			Timeout:   time.Hour,
		})

		outcome := h.Wait()
		assert.NoError(t, outcome.Err)
		assert.Equal(t, "done", outcome.Value)
		assert.False(t, outcome.TimedOut)
		assert.False(t, outcome.Cancelled)
		assert.Equal(t, int32(1), atomic.LoadInt32(&checks))
	})

	t.Run("Resolves after pending ticks", func(t *testing.T) {
		var checks int32
		var ticks int32

		h := Poll(Options{
			Check: func() (interface{}, error) {
				n := atomic.AddInt32(&checks, 1)
				if n < 3 {
					return "active", nil
				}
				return "complete", nil
			},
			IsPending: func(result interface{}) bool {
				return result == "active"
			},
			OnTick: func(result interface{}) {
				atomic.AddInt32(&ticks, 1)
			},
			Interval: 10 * time.Millisecond,
			Timeout:  time.Second,
		})

		outcome := h.Wait()
		assert.NoError(t, outcome.Err)
		assert.Equal(t, "complete", outcome.Value)
		assert.Equal(t, int32(3), atomic.LoadInt32(&checks))
		assert.Equal(t, int32(2), atomic.LoadInt32(&ticks))
	})

	t.Run("Check error resolves the poll", func(t *testing.T) {
		h := Poll(Options{
			Check: func() (interface{}, error) {
				return nil, errors.New("connection refused")
			},
			Interval: 10 * time.Millisecond,
			Timeout:  time.Second,
		})

		outcome := h.Wait()
		require.Error(t, outcome.Err)
		assert.Contains(t, outcome.Err.Error(), "connection refused")
	})

	t.Run("Timeout", func(t *testing.T) {
		h := Poll(Options{
			Check: func() (interface{}, error) {
				return "active", nil
			},
			IsPending: func(result interface{}) bool { return true },
			Interval:  10 * time.Millisecond,
			Timeout:   50 * time.Millisecond,
		})

		outcome := h.Wait()
		require.Error(t, outcome.Err)
		assert.True(t, outcome.TimedOut)
		assert.False(t, outcome.Cancelled)
	})

	t.Run("Cancel stops further ticks", func(t *testing.T) {
		var checks int32

		h := Poll(Options{
			Check: func() (interface{}, error) {
				atomic.AddInt32(&checks, 1)
				return "active", nil
			},
			IsPending: func(result interface{}) bool { return true },
			Interval:  10 * time.Millisecond,
			Timeout:   time.Minute,
		})

		// Let at least the immediate check happen, then cancel.
		time.Sleep(25 * time.Millisecond)
		h.Cancel()

		outcome := h.Wait()
		assert.True(t, outcome.Cancelled)

		seen := atomic.LoadInt32(&checks)
		time.Sleep(50 * time.Millisecond)
		assert.Equal(t, seen, atomic.LoadInt32(&checks), "no checks after cancellation")
	})

	t.Run("Cancel is idempotent", func(t *testing.T) {
		h := Poll(Options{
			Check:     func() (interface{}, error) { return "active", nil },
			IsPending: func(result interface{}) bool { return true },
			Interval:  10 * time.Millisecond,
			Timeout:   time.Minute,
		})

		h.Cancel()
		h.Cancel()
		h.Cancel()

		outcome := h.Wait()
		assert.True(t, outcome.Cancelled)
	})

	t.Run("Cancel after resolution keeps the original outcome", func(t *testing.T) {
		h := Poll(Options{
			Check:     func() (interface{}, error) { return "complete", nil },
			IsPending: func(result interface{}) bool { return false },
			Interval:  time.Hour,
			Timeout:   time.Hour,
		})

		outcome := h.Wait()
		h.Cancel()

		assert.Equal(t, "complete", outcome.Value)
		assert.False(t, h.Wait().Cancelled)
	})
}
