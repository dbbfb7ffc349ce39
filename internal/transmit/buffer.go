package transmit

import (
	"fmt"
	"sync"
	"time"

	"codeberg.org/mutker/eegstreamd/internal/errors"
	"codeberg.org/mutker/eegstreamd/internal/features"
)

const minCapacity = 8

const ErrInvalidBuffer = errors.ErrInvalidArgument

// Item is one filtered sample waiting to be sent.
type Item struct {
	Sample    []float64
	Timestamp float64
	Features  *features.Set
}

// Batch is everything taken out of the buffer by one Drain.
type Batch struct {
	Samples    [][]float64
	Timestamps []float64
	// Features is the most recent non-nil feature set among the drained
	// items, if any.
	Features *features.Set
}

func (b Batch) Channels() int {
	if len(b.Samples) == 0 {
		return 0
	}
	return len(b.Samples[0])
}

type Stats struct {
	Size           int           `json:"buffer_size"`
	Capacity       int           `json:"max_buffer_size"`
	Interval       time.Duration `json:"sample_interval"`
	Flushed        bool          `json:"flushed"`
	SinceLastFlush time.Duration `json:"time_since_last_send"`
	Utilization    float64       `json:"buffer_utilization"`
}

type Option func(*Buffer)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(b *Buffer) {
		b.now = now
	}
}

// Buffer decouples the input sample rate from the output send rate. Items
// accumulate until ShouldFlush reports true; the caller then drains, sends
// and records the send with MarkFlushed.
type Buffer struct {
	mu        sync.Mutex
	items     []Item
	interval  time.Duration
	capacity  int
	lastFlush time.Time
	now       func() time.Time
}

func New(interval time.Duration, capacity int, opts ...Option) (*Buffer, error) {
	if interval <= 0 || capacity <= 0 {
		return nil, errors.New().WithData(ErrInvalidBuffer,
			fmt.Sprintf("interval %s capacity %d", interval, capacity))
	}

	b := &Buffer{
		interval: interval,
		capacity: capacity,
		items:    make([]Item, 0, capacity),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}

	return b, nil
}

// CapacityFor sizes the buffer to hold one send interval of input, with a
// floor of 8 samples.
func CapacityFor(sampleRate, outputRate float64) int {
	if outputRate <= 0 {
		return minCapacity
	}

	return max(minCapacity, int(sampleRate/outputRate))
}

// Add appends an item. It never drops; the capacity only forces a flush.
func (b *Buffer) Add(sample []float64, timestamp float64, set *features.Set) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.items = append(b.items, Item{Sample: sample, Timestamp: timestamp, Features: set})
}

// ShouldFlush reports whether the buffer holds items and either the send
// interval has elapsed since the last flush or the buffer reached capacity.
// A buffer that was never flushed is always due.
func (b *Buffer) ShouldFlush() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.items) == 0 {
		return false
	}
	if b.lastFlush.IsZero() || b.now().Sub(b.lastFlush) >= b.interval {
		return true
	}

	return len(b.items) >= b.capacity
}

// Drain takes every buffered item in one step. It does not touch the last
// flush time.
func (b *Buffer) Drain() (Batch, bool) {
	b.mu.Lock()
	items := b.items
	b.items = make([]Item, 0, b.capacity)
	b.mu.Unlock()

	if len(items) == 0 {
		return Batch{}, false
	}

	batch := Batch{
		Samples:    make([][]float64, len(items)),
		Timestamps: make([]float64, len(items)),
	}
	for i, it := range items {
		batch.Samples[i] = it.Sample
		batch.Timestamps[i] = it.Timestamp
		if it.Features != nil {
			batch.Features = it.Features
		}
	}

	return batch, true
}

// MarkFlushed records a successful send at t.
func (b *Buffer) MarkFlushed(t time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastFlush = t
}

func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.items = b.items[:0]
}

func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.items)
}

func (b *Buffer) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := Stats{
		Size:        len(b.items),
		Capacity:    b.capacity,
		Interval:    b.interval,
		Flushed:     !b.lastFlush.IsZero(),
		Utilization: float64(len(b.items)) / float64(b.capacity),
	}
	if s.Flushed {
		s.SinceLastFlush = b.now().Sub(b.lastFlush)
	}

	return s
}
