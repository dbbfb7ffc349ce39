// Package ringbuffer provides fixed-capacity sample stores that overwrite the
// oldest value once full.
package ringbuffer

import (
	"sync"

	"codeberg.org/mutker/eegstreamd/internal/errors"
)

// RingBuffer is a mutex guarded circular store of scalar samples.
type RingBuffer struct {
	mu       sync.Mutex
	data     []float64
	capacity int
	head     int // next write position
	tail     int // oldest element
	count    int
}

// Stats is a point-in-time view of a RingBuffer.
type Stats struct {
	Capacity    int     `json:"max_size"`
	Size        int     `json:"current_size"`
	Head        int     `json:"head"`
	Tail        int     `json:"tail"`
	Utilization float64 `json:"utilization"`
}

// New allocates a RingBuffer. The capacity is fixed for its lifetime.
func New(capacity int) (*RingBuffer, error) {
	if capacity <= 0 {
		return nil, errors.New().WithData(ErrInvalidCapacity, capacity)
	}

	return &RingBuffer{
		data:     make([]float64, capacity),
		capacity: capacity,
	}, nil
}

// Push appends v, overwriting the oldest value when full.
func (r *RingBuffer) Push(v float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.push(v)
}

// PushBatch appends values in order under a single lock.
func (r *RingBuffer) PushBatch(values []float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, v := range values {
		r.push(v)
	}
}

func (r *RingBuffer) push(v float64) {
	if r.count == r.capacity {
		r.tail = (r.tail + 1) % r.capacity
	} else {
		r.count++
	}

	r.data[r.head] = v
	r.head = (r.head + 1) % r.capacity
}

// Recent returns the last min(n, Len()) values in chronological order.
func (r *RingBuffer) Recent(n int) []float64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.recent(n)
}

func (r *RingBuffer) recent(n int) []float64 {
	if n > r.count {
		n = r.count
	}
	if n <= 0 {
		return []float64{}
	}

	out := make([]float64, n)
	start := (r.head - n + r.capacity) % r.capacity

	if start+n <= r.capacity {
		copy(out, r.data[start:start+n])
		return out
	}

	// window wraps past the physical end
	first := copy(out, r.data[start:])
	copy(out[first:], r.data[:n-first])

	return out
}

// All returns every stored value in chronological order.
func (r *RingBuffer) All() []float64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.recent(r.count)
}

// Clear resets the cursors and zeroes storage without reallocating.
func (r *RingBuffer) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.clear()
}

func (r *RingBuffer) clear() {
	for i := range r.data {
		r.data[i] = 0
	}
	r.head = 0
	r.tail = 0
	r.count = 0
}

// Len returns the number of stored values.
func (r *RingBuffer) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.count
}

// Cap returns the fixed capacity.
func (r *RingBuffer) Cap() int {
	return r.capacity
}

func (r *RingBuffer) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	return Stats{
		Capacity:    r.capacity,
		Size:        r.count,
		Head:        r.head,
		Tail:        r.tail,
		Utilization: float64(r.count) / float64(r.capacity),
	}
}
