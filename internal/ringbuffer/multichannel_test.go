package ringbuffer_test

import (
	"math"
	"testing"

	"codeberg.org/mutker/eegstreamd/internal/errors"
	"codeberg.org/mutker/eegstreamd/internal/ringbuffer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRow(i, channels int) []float64 {
	row := make([]float64, channels)
	for c := range row {
		row[c] = float64(i*100 + c)
	}
	return row
}

func TestPushSampleOverflowKeepsNewest(t *testing.T) {
	m, err := ringbuffer.NewMultiChannel(1000, 8)
	require.NoError(t, err)

	for i := 0; i < 1500; i++ {
		require.NoError(t, m.PushSample(sampleRow(i, 8)))
	}

	rows := m.AllChannels(0)
	require.Len(t, rows, 1000)
	for _, row := range rows {
		require.Len(t, row, 8)
	}
	assert.Equal(t, sampleRow(500, 8), rows[0])
	assert.Equal(t, sampleRow(1499, 8), rows[999])
	assert.Equal(t, uint64(1500), m.SampleCount())
}

func TestPushSampleShapeMismatch(t *testing.T) {
	m, err := ringbuffer.NewMultiChannel(10, 4)
	require.NoError(t, err)

	require.NoError(t, m.PushSample([]float64{1, 2, 3, 4}))

	err = m.PushSample([]float64{1, 2, 3})
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrShapeMismatch))
	assert.Contains(t, err.Error(), "expected 4 channels, got 3")

	// nothing was applied
	assert.Equal(t, uint64(1), m.SampleCount())
	for c := 0; c < 4; c++ {
		values, err := m.Channel(c, 0)
		require.NoError(t, err)
		assert.Len(t, values, 1)
	}
}

func TestPushSamplesIsAllOrNothing(t *testing.T) {
	m, err := ringbuffer.NewMultiChannel(10, 2)
	require.NoError(t, err)

	err = m.PushSamples([][]float64{{1, 2}, {3, 4}, {5}})
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrShapeMismatch))
	assert.Equal(t, uint64(0), m.SampleCount())
	assert.Empty(t, m.AllChannels(0))

	require.NoError(t, m.PushSamples([][]float64{{1, 2}, {3, 4}}))
	assert.Equal(t, [][]float64{{1, 2}, {3, 4}}, m.AllChannels(0))
	assert.Equal(t, [][]float64{{3, 4}}, m.AllChannels(1))
}

func TestPushRejectsNonFiniteValues(t *testing.T) {
	m, err := ringbuffer.NewMultiChannel(10, 2)
	require.NoError(t, err)

	for _, bad := range [][]float64{{math.NaN(), 1}, {1, math.Inf(1)}, {math.Inf(-1), 0}} {
		err := m.PushSample(bad)
		require.Error(t, err)
		assert.True(t, errors.HasCode(err, errors.ErrNumericFault))
	}
	assert.Equal(t, uint64(0), m.SampleCount())

	err = m.PushSamples([][]float64{{1, 2}, {math.NaN(), 4}})
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrNumericFault))
	assert.Empty(t, m.AllChannels(0))
}

func TestChannelIndexOutOfRange(t *testing.T) {
	m, err := ringbuffer.NewMultiChannel(10, 2)
	require.NoError(t, err)

	_, err = m.Channel(2, 1)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, ringbuffer.ErrChannelIndex))
}

func TestClearAllAndStats(t *testing.T) {
	m, err := ringbuffer.NewMultiChannel(3, 2)
	require.NoError(t, err)

	require.NoError(t, m.PushSamples([][]float64{{1, 2}, {3, 4}, {5, 6}, {7, 8}}))
	stats := m.Stats()
	assert.Equal(t, 2, stats.NumChannels)
	assert.Equal(t, uint64(4), stats.TotalSamples)
	assert.Equal(t, 3, stats.Channels[1].Size)

	m.ClearAll()
	assert.Equal(t, uint64(0), m.SampleCount())
	assert.Empty(t, m.AllChannels(0))
}

func TestNewMultiChannelRejectsZeroChannels(t *testing.T) {
	_, err := ringbuffer.NewMultiChannel(10, 0)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, ringbuffer.ErrInvalidChannels))
}
