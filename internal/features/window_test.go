package features_test

import (
	"encoding/json"
	"math"
	"testing"

	"codeberg.org/mutker/eegstreamd/internal/features"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fs = 250.0

func feed(t *testing.T, w *features.Window, n int, gen func(i int) []float64) (*features.Set, bool) {
	t.Helper()

	var (
		set *features.Set
		ok  bool
	)
	for i := 0; i < n; i++ {
		set, ok = w.ProcessSample(gen(i), float64(i)/fs)
	}
	return set, ok
}

func sineAt(freq float64) func(int) []float64 {
	return func(i int) []float64 {
		v := math.Sin(2 * math.Pi * freq * float64(i) / fs)
		return []float64{v, 2 * v}
	}
}

func TestProcessSampleWaitsForFullWindow(t *testing.T) {
	w, err := features.NewWindow(fs, 256)
	require.NoError(t, err)

	_, ok := feed(t, w, 255, sineAt(10))
	assert.False(t, ok)

	set, ok := w.ProcessSample([]float64{0, 0}, 255/fs)
	require.True(t, ok)
	require.NotNil(t, set)

	assert.Equal(t, 256, set.Metadata.SampleCount)
	assert.Equal(t, 256, set.Metadata.WindowSize)
	assert.Equal(t, [2]float64{0, 255 / fs}, set.Metadata.TimestampRange)
	assert.Len(t, set.TimeDomain, 2)
	assert.Contains(t, set.Spectral, "channel_1")
}

func TestMetadataTracksLatestWindow(t *testing.T) {
	w, err := features.NewWindow(fs, 64)
	require.NoError(t, err)

	set, ok := feed(t, w, 64*4+30, sineAt(10))
	require.True(t, ok)

	last := float64(64*4+29) / fs
	first := float64(64*4+29-63) / fs
	assert.InDelta(t, first, set.Metadata.TimestampRange[0], 1e-12)
	assert.InDelta(t, last, set.Metadata.TimestampRange[1], 1e-12)
}

func TestBandPowerFollowsRhythm(t *testing.T) {
	cases := []struct {
		freq float64
		band string
	}{
		{6, "theta"},
		{10, "alpha"},
		{20, "beta"},
	}

	for _, tc := range cases {
		w, err := features.NewWindow(fs, 256)
		require.NoError(t, err)

		set, ok := feed(t, w, 256, sineAt(tc.freq))
		require.True(t, ok)

		rel := set.RelativeBandPower["channel_0"]
		assert.Greater(t, rel.Get(tc.band), 0.7, "%v Hz", tc.freq)
		assert.InDelta(t, 1.0, rel.Total(), 1e-9)

		abs0 := set.AbsoluteBandPower["channel_0"].Get(tc.band)
		abs1 := set.AbsoluteBandPower["channel_1"].Get(tc.band)
		assert.InDelta(t, 4*abs0, abs1, 1e-6*abs1, "power scales with amplitude squared")
	}
}

func TestSpectralFeaturesOfSine(t *testing.T) {
	w, err := features.NewWindow(fs, 250)
	require.NoError(t, err)

	set, ok := feed(t, w, 250, sineAt(20))
	require.True(t, ok)

	s := set.Spectral["channel_0"]
	assert.InDelta(t, 20, s.Centroid, 0.5)
	assert.InDelta(t, 20, s.Rolloff, 1e-9)
	assert.Equal(t, s.Centroid, s.MeanFrequency)
	assert.Less(t, s.Flatness, 0.1)
	assert.Greater(t, s.Energy, 0.0)
}

func TestTimeDomainOfAlternatingSignal(t *testing.T) {
	w, err := features.NewWindow(fs, 100)
	require.NoError(t, err)

	set, ok := feed(t, w, 100, func(i int) []float64 {
		if i%2 == 0 {
			return []float64{1}
		}
		return []float64{-1}
	})
	require.True(t, ok)

	td := set.TimeDomain["channel_0"]
	assert.InDelta(t, 0, td.Mean, 1e-12)
	assert.InDelta(t, 1, td.Std, 1e-12)
	assert.InDelta(t, 1, td.RMS, 1e-12)
	assert.InDelta(t, 2, td.Range, 1e-12)
	assert.InDelta(t, 0.99, td.ZeroCrossingRate, 1e-12)
	assert.InDelta(t, 198, td.WaveformLength, 1e-9)
	assert.InDelta(t, 1, td.Kurtosis, 1e-12)
	assert.InDelta(t, 0, td.Skewness, 1e-12)
}

func TestFlatSignalStaysSerializable(t *testing.T) {
	w, err := features.NewWindow(fs, 32)
	require.NoError(t, err)

	set, ok := feed(t, w, 32, func(int) []float64 { return []float64{5, 0} })
	require.True(t, ok)

	td := set.TimeDomain["channel_0"]
	assert.Equal(t, 0.0, td.Std)
	assert.Equal(t, 0.0, td.Skewness)
	assert.Equal(t, 0.0, set.RelativeBandPower["channel_1"].Total())

	_, err = json.Marshal(set)
	require.NoError(t, err)
}

func TestChannelCountChangeRestarts(t *testing.T) {
	w, err := features.NewWindow(fs, 16)
	require.NoError(t, err)

	_, ok := feed(t, w, 16, sineAt(10))
	require.True(t, ok)

	_, ok = w.ProcessSample([]float64{1, 2, 3}, 1)
	assert.False(t, ok)
}

func TestReset(t *testing.T) {
	w, err := features.NewWindow(fs, 16)
	require.NoError(t, err)

	_, ok := feed(t, w, 20, sineAt(10))
	require.True(t, ok)

	w.Reset()
	_, ok = w.ProcessSample([]float64{1, 1}, 0)
	assert.False(t, ok)
}

func TestNewWindowRejectsTinyWindow(t *testing.T) {
	_, err := features.NewWindow(fs, 1)
	require.Error(t, err)
}
