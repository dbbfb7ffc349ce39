package features

import "fmt"

// Band is a named EEG frequency band, inclusive on both edges.
type Band struct {
	Name string
	Low  float64
	High float64
}

// Bands are the standard EEG rhythms, in reporting order.
var Bands = []Band{
	{"delta", 1, 4},
	{"theta", 4, 8},
	{"alpha", 8, 13},
	{"beta", 13, 30},
	{"gamma", 30, 50},
}

// Set is the feature set computed over one window. Per-channel maps are
// keyed "channel_<n>".
type Set struct {
	TimeDomain        map[string]TimeDomain `json:"time_domain"`
	Spectral          map[string]Spectral   `json:"spectral_domain"`
	AbsoluteBandPower map[string]BandPower  `json:"absolute_band_power"`
	RelativeBandPower map[string]BandPower  `json:"relative_band_power"`
	Metadata          Metadata              `json:"metadata"`
}

type TimeDomain struct {
	Mean             float64 `json:"mean"`
	Std              float64 `json:"std"`
	Variance         float64 `json:"variance"`
	Min              float64 `json:"min"`
	Max              float64 `json:"max"`
	Range            float64 `json:"range"`
	RMS              float64 `json:"rms"`
	Skewness         float64 `json:"skewness"`
	Kurtosis         float64 `json:"kurtosis"`
	ZeroCrossingRate float64 `json:"zero_crossing_rate"`
	WaveformLength   float64 `json:"waveform_length"`
	MeanAbsDeviation float64 `json:"mean_abs_deviation"`
}

type Spectral struct {
	Centroid      float64 `json:"spectral_centroid"`
	Bandwidth     float64 `json:"spectral_bandwidth"`
	Rolloff       float64 `json:"spectral_rolloff"`
	Energy        float64 `json:"spectral_energy"`
	MeanFrequency float64 `json:"mean_frequency"`
	Flatness      float64 `json:"spectral_flatness"`
}

// BandPower holds one value per entry of Bands.
type BandPower struct {
	Delta float64 `json:"delta"`
	Theta float64 `json:"theta"`
	Alpha float64 `json:"alpha"`
	Beta  float64 `json:"beta"`
	Gamma float64 `json:"gamma"`
}

// Get returns the value for a band name, or 0 if unknown.
func (b BandPower) Get(name string) float64 {
	switch name {
	case "delta":
		return b.Delta
	case "theta":
		return b.Theta
	case "alpha":
		return b.Alpha
	case "beta":
		return b.Beta
	case "gamma":
		return b.Gamma
	}
	return 0
}

func (b *BandPower) set(name string, v float64) {
	switch name {
	case "delta":
		b.Delta = v
	case "theta":
		b.Theta = v
	case "alpha":
		b.Alpha = v
	case "beta":
		b.Beta = v
	case "gamma":
		b.Gamma = v
	}
}

// Total sums every band.
func (b BandPower) Total() float64 {
	return b.Delta + b.Theta + b.Alpha + b.Beta + b.Gamma
}

type Metadata struct {
	TimestampRange [2]float64 `json:"timestamp_range"`
	SampleCount    int        `json:"sample_count"`
	WindowSize     int        `json:"window_size"`
}

func channelKey(ch int) string {
	return fmt.Sprintf("channel_%d", ch)
}
