package acquisition

import (
	"fmt"
	"sync/atomic"

	"codeberg.org/mutker/eegstreamd/internal/errors"
)

// Queue hands samples from the acquisition goroutine to the processing
// goroutine. Offer never blocks: when the queue is full the oldest sample is
// dropped to make room.
type Queue struct {
	ch      chan Sample
	dropped atomic.Uint64
}

func NewQueue(capacity int) (*Queue, error) {
	if capacity <= 0 {
		return nil, errors.New().WithData(ErrInvalidSource, fmt.Sprintf("queue capacity %d", capacity))
	}

	return &Queue{ch: make(chan Sample, capacity)}, nil
}

// Offer enqueues s, evicting the oldest queued sample if necessary.
func (q *Queue) Offer(s Sample) {
	for {
		select {
		case q.ch <- s:
			return
		default:
		}

		select {
		case <-q.ch:
			q.dropped.Add(1)
		default:
		}
	}
}

// Drain removes up to n samples in arrival order without blocking.
func (q *Queue) Drain(n int) []Sample {
	var out []Sample
	for len(out) < n {
		select {
		case s := <-q.ch:
			out = append(out, s)
		default:
			return out
		}
	}
	return out
}

func (q *Queue) Len() int {
	return len(q.ch)
}

func (q *Queue) Cap() int {
	return cap(q.ch)
}

// Dropped reports how many samples were evicted since the queue was made.
func (q *Queue) Dropped() uint64 {
	return q.dropped.Load()
}
