package filter_test

import (
	"math"
	"math/rand"
	"testing"

	"codeberg.org/mutker/eegstreamd/internal/errors"
	"codeberg.org/mutker/eegstreamd/internal/filter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomStream(rows, channels int) [][]float64 {
	rng := rand.New(rand.NewSource(42))
	data := make([][]float64, rows)
	for i := range data {
		data[i] = make([]float64, channels)
		for c := range data[i] {
			data[i][c] = rng.NormFloat64() * 50
		}
	}
	return data
}

func sine(freq, sampleRate float64, rows, channels int) [][]float64 {
	data := make([][]float64, rows)
	for i := range data {
		v := math.Sin(2 * math.Pi * freq * float64(i) / sampleRate)
		data[i] = make([]float64, channels)
		for c := range data[i] {
			data[i][c] = v
		}
	}
	return data
}

func rms(data [][]float64, channel int) float64 {
	var s float64
	for _, row := range data {
		s += row[channel] * row[channel]
	}
	return math.Sqrt(s / float64(len(data)))
}

func TestApplySplitMatchesSingleCall(t *testing.T) {
	data := randomStream(500, 8)

	whole, err := filter.New(250)
	require.NoError(t, err)
	want, err := whole.Apply(data)
	require.NoError(t, err)

	split, err := filter.New(250)
	require.NoError(t, err)
	first, err := split.Apply(data[:173])
	require.NoError(t, err)
	second, err := split.Apply(data[173:])
	require.NoError(t, err)

	assert.Equal(t, want, append(first, second...))
}

func TestApplySampleMatchesBlock(t *testing.T) {
	data := randomStream(64, 4)

	block, err := filter.New(250)
	require.NoError(t, err)
	want, err := block.Apply(data)
	require.NoError(t, err)

	single, err := filter.New(250)
	require.NoError(t, err)
	for i, row := range data {
		got, err := single.ApplySample(row)
		require.NoError(t, err)
		assert.Equal(t, want[i], got, "row %d", i)
	}
}

func TestApplyDoesNotModifyInput(t *testing.T) {
	data := randomStream(10, 2)
	orig := make([][]float64, len(data))
	for i := range data {
		orig[i] = append([]float64(nil), data[i]...)
	}

	c, err := filter.New(250)
	require.NoError(t, err)
	_, err = c.Apply(data)
	require.NoError(t, err)

	assert.Equal(t, orig, data)
}

func TestCascadeRemovesMainsHum(t *testing.T) {
	const fs = 250.0

	hum, err := filter.New(fs)
	require.NoError(t, err)
	humOut, err := hum.Apply(sine(50, fs, 1000, 1))
	require.NoError(t, err)

	alpha, err := filter.New(fs)
	require.NoError(t, err)
	alphaOut, err := alpha.Apply(sine(10, fs, 1000, 1))
	require.NoError(t, err)

	settledHum := rms(humOut[750:], 0)
	settledAlpha := rms(alphaOut[750:], 0)

	assert.Less(t, settledHum, 0.05*settledAlpha)
	assert.InDelta(t, math.Sqrt2/2, settledAlpha, 0.05)
}

func TestNumericFaultPassesInputThrough(t *testing.T) {
	data := randomStream(40, 3)

	ref, err := filter.New(250)
	require.NoError(t, err)
	want, err := ref.Apply(data)
	require.NoError(t, err)

	c, err := filter.New(250)
	require.NoError(t, err)
	first, err := c.Apply(data[:20])
	require.NoError(t, err)

	bad := [][]float64{{1, math.NaN(), 3}, {math.Inf(1), 0, 0}}
	out, err := c.Apply(bad)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.True(t, math.IsNaN(out[0][1]))
	assert.Equal(t, 1.0, out[0][0])
	assert.True(t, math.IsInf(out[1][0], 1))

	// state untouched by the faulted block
	rest, err := c.Apply(data[20:])
	require.NoError(t, err)
	assert.Equal(t, want, append(first, rest...))
}

func TestApplyShapeMismatch(t *testing.T) {
	c, err := filter.New(250)
	require.NoError(t, err)

	_, err = c.Apply([][]float64{{1, 2}, {3}})
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrShapeMismatch))
	assert.Empty(t, c.StateKeys())

	out, err := c.Apply(nil)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestStateKeysAndReset(t *testing.T) {
	c, err := filter.New(250)
	require.NoError(t, err)

	_, err = c.ApplySample(make([]float64, 8))
	require.NoError(t, err)
	_, err = c.ApplySample(make([]float64, 4))
	require.NoError(t, err)
	assert.Equal(t, []string{"bandpass_4", "bandpass_8", "notch_4", "notch_8"}, c.StateKeys())

	c.ResetChannelCount(8)
	assert.Equal(t, []string{"bandpass_4", "notch_4"}, c.StateKeys())

	c.Reset()
	assert.Empty(t, c.StateKeys())
}

func TestResetRestartsFromInitialState(t *testing.T) {
	data := randomStream(30, 2)

	c, err := filter.New(250)
	require.NoError(t, err)
	first, err := c.Apply(data)
	require.NoError(t, err)

	c.ResetChannelCount(2)
	again, err := c.Apply(data)
	require.NoError(t, err)

	assert.Equal(t, first, again)
}

func TestNewRejectsLowSampleRate(t *testing.T) {
	_, err := filter.New(90)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrInvalidConfig))
}

func TestInfo(t *testing.T) {
	c, err := filter.New(250)
	require.NoError(t, err)

	info := c.Info()
	assert.Equal(t, 125.0, info.NyquistFrequency)
	assert.Equal(t, [2]float64{1, 50}, info.BandpassRange)
	assert.Equal(t, 50.0, info.NotchFrequency)
	assert.Equal(t, "real-time", info.Mode)
}
