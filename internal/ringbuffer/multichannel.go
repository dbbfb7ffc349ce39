package ringbuffer

import (
	"fmt"
	"math"
	"sync"

	"codeberg.org/mutker/eegstreamd/internal/errors"
)

// MultiChannelBuffer keeps one RingBuffer per channel and advances them
// together, one sample at a time.
type MultiChannelBuffer struct {
	mu            sync.Mutex
	channels      []*RingBuffer
	sampleCounter uint64
}

// MultiChannelStats is a point-in-time view of a MultiChannelBuffer.
type MultiChannelStats struct {
	NumChannels  int     `json:"num_channels"`
	TotalSamples uint64  `json:"total_samples"`
	Channels     []Stats `json:"channel_stats"`
}

func NewMultiChannel(capacity, channels int) (*MultiChannelBuffer, error) {
	if channels <= 0 {
		return nil, errors.New().WithData(ErrInvalidChannels, channels)
	}

	m := &MultiChannelBuffer{channels: make([]*RingBuffer, channels)}
	for i := range m.channels {
		rb, err := New(capacity)
		if err != nil {
			return nil, err
		}
		m.channels[i] = rb
	}

	return m, nil
}

// NumChannels returns the configured channel count.
func (m *MultiChannelBuffer) NumChannels() int {
	return len(m.channels)
}

// PushSample appends one value per channel. A sample of the wrong arity or
// with a NaN or infinite value is rejected before any channel is touched.
func (m *MultiChannelBuffer) PushSample(values []float64) error {
	if err := m.validate(values); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for i, v := range values {
		m.channels[i].Push(v)
	}
	m.sampleCounter++

	return nil
}

// PushSamples appends rows of samples. Every row is validated first so the
// batch is applied entirely or not at all.
func (m *MultiChannelBuffer) PushSamples(rows [][]float64) error {
	for _, row := range rows {
		if err := m.validate(row); err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, row := range rows {
		for i, v := range row {
			m.channels[i].Push(v)
		}
	}
	m.sampleCounter += uint64(len(rows))

	return nil
}

func (m *MultiChannelBuffer) validate(row []float64) error {
	if len(row) != len(m.channels) {
		return m.shapeError(len(row))
	}
	for i, v := range row {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return errors.New().WithData(ErrNumericFault,
				fmt.Sprintf("channel %d is not finite: %v", i, v))
		}
	}
	return nil
}

func (m *MultiChannelBuffer) shapeError(got int) error {
	return errors.New().WithData(ErrShapeMismatch,
		fmt.Sprintf("expected %d channels, got %d", len(m.channels), got))
}

// Channel returns the last n values of one channel; n <= 0 returns all.
func (m *MultiChannelBuffer) Channel(idx, n int) ([]float64, error) {
	if idx < 0 || idx >= len(m.channels) {
		return nil, errors.New().WithData(ErrChannelIndex,
			fmt.Sprintf("channel index %d out of range (0-%d)", idx, len(m.channels)-1))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if n <= 0 {
		return m.channels[idx].All(), nil
	}

	return m.channels[idx].Recent(n), nil
}

// AllChannels returns the last n samples as rows x channels, oldest first.
// n <= 0 returns everything stored.
func (m *MultiChannelBuffer) AllChannels(n int) [][]float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	if n <= 0 {
		n = m.channels[0].Len()
	}

	columns := make([][]float64, len(m.channels))
	for i, ch := range m.channels {
		columns[i] = ch.Recent(n)
	}

	rows := make([][]float64, len(columns[0]))
	for r := range rows {
		row := make([]float64, len(columns))
		for c := range columns {
			row[c] = columns[c][r]
		}
		rows[r] = row
	}

	return rows
}

// ClearAll empties every channel and resets the sample counter.
func (m *MultiChannelBuffer) ClearAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, ch := range m.channels {
		ch.Clear()
	}
	m.sampleCounter = 0
}

// SampleCount returns the number of samples pushed since creation or the
// last ClearAll, including overwritten ones.
func (m *MultiChannelBuffer) SampleCount() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.sampleCounter
}

func (m *MultiChannelBuffer) Stats() MultiChannelStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := MultiChannelStats{
		NumChannels:  len(m.channels),
		TotalSamples: m.sampleCounter,
		Channels:     make([]Stats, len(m.channels)),
	}
	for i, ch := range m.channels {
		stats.Channels[i] = ch.Stats()
	}

	return stats
}
