package ringbuffer_test

import (
	"sync"
	"testing"

	"codeberg.org/mutker/eegstreamd/internal/errors"
	"codeberg.org/mutker/eegstreamd/internal/ringbuffer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsInvalidCapacity(t *testing.T) {
	_, err := ringbuffer.New(0)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, ringbuffer.ErrInvalidCapacity))
}

func TestRecentBeforeFull(t *testing.T) {
	rb, err := ringbuffer.New(5)
	require.NoError(t, err)

	assert.Empty(t, rb.Recent(3))

	rb.PushBatch([]float64{1, 2, 3})
	assert.Equal(t, []float64{2, 3}, rb.Recent(2))
	assert.Equal(t, []float64{1, 2, 3}, rb.Recent(10))
	assert.Equal(t, 3, rb.Len())
	assert.Equal(t, 5, rb.Cap())
}

func TestRecentWrapsInPushOrder(t *testing.T) {
	for _, capacity := range []int{1, 2, 3, 7, 16, 100} {
		rb, err := ringbuffer.New(capacity)
		require.NoError(t, err)

		total := capacity*3 + 1
		for i := 0; i < total; i++ {
			rb.Push(float64(i))
		}

		want := make([]float64, capacity)
		for i := range want {
			want[i] = float64(total - capacity + i)
		}
		assert.Equal(t, want, rb.Recent(capacity), "capacity %d", capacity)
		assert.Equal(t, want, rb.All(), "capacity %d", capacity)

		if capacity > 2 {
			assert.Equal(t, want[capacity-2:], rb.Recent(2), "capacity %d", capacity)
		}
	}
}

func TestClearKeepsCapacity(t *testing.T) {
	rb, err := ringbuffer.New(4)
	require.NoError(t, err)

	rb.PushBatch([]float64{1, 2, 3, 4, 5, 6})
	rb.Clear()

	stats := rb.Stats()
	assert.Equal(t, 0, stats.Size)
	assert.Equal(t, 0, stats.Head)
	assert.Equal(t, 0, stats.Tail)
	assert.Equal(t, 4, stats.Capacity)
	assert.Empty(t, rb.All())

	rb.Push(9)
	assert.Equal(t, []float64{9}, rb.All())
}

func TestStatsUtilization(t *testing.T) {
	rb, err := ringbuffer.New(4)
	require.NoError(t, err)

	rb.PushBatch([]float64{1, 2})
	assert.InDelta(t, 0.5, rb.Stats().Utilization, 1e-12)
}

func TestConcurrentPushAndRead(t *testing.T) {
	rb, err := ringbuffer.New(64)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				rb.Push(float64(i))
				_ = rb.Recent(16)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 64, rb.Len())
}
