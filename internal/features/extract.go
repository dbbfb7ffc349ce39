package features

import (
	"math"
	"math/cmplx"

	"github.com/mjibson/go-dsp/fft"
	"github.com/mjibson/go-dsp/spectral"
	"github.com/mjibson/go-dsp/window"
)

const (
	rolloffFraction = 0.85
	flatnessFloor   = 1e-10
)

func timeDomain(x []float64) TimeDomain {
	n := float64(len(x))
	td := TimeDomain{Min: x[0], Max: x[0]}

	var sum, sumSq float64
	for i, v := range x {
		sum += v
		sumSq += v * v
		td.Min = math.Min(td.Min, v)
		td.Max = math.Max(td.Max, v)
		if i > 0 {
			td.WaveformLength += math.Abs(v - x[i-1])
			if sign(v) != sign(x[i-1]) {
				td.ZeroCrossingRate++
			}
		}
	}
	td.Mean = sum / n
	td.RMS = math.Sqrt(sumSq / n)
	td.Range = td.Max - td.Min
	td.ZeroCrossingRate /= n

	var m2, m3, m4, mad float64
	for _, v := range x {
		d := v - td.Mean
		m2 += d * d
		m3 += d * d * d
		m4 += d * d * d * d
		mad += math.Abs(d)
	}
	td.Variance = m2 / n
	td.Std = math.Sqrt(td.Variance)
	td.MeanAbsDeviation = mad / n
	if td.Std > 0 {
		td.Skewness = m3 / n / math.Pow(td.Std, 3)
		td.Kurtosis = m4 / n / math.Pow(td.Std, 4)
	}

	return td
}

func sign(v float64) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}

// spectralShape describes the magnitude spectrum over the strictly positive
// FFT frequencies.
func spectralShape(x []float64, sampleRate float64) Spectral {
	n := len(x)
	coeffs := fft.FFTReal(x)

	// bins 1..ceil(n/2)-1 are the strictly positive frequencies
	bins := (n+1)/2 - 1
	if bins <= 0 {
		return Spectral{}
	}
	freqs := make([]float64, bins)
	mags := make([]float64, bins)
	for k := 1; k <= bins; k++ {
		freqs[k-1] = float64(k) * sampleRate / float64(n)
		mags[k-1] = cmplx.Abs(coeffs[k])
	}

	var s Spectral
	var total, weighted, logSum float64
	for i, m := range mags {
		total += m
		weighted += freqs[i] * m
		s.Energy += m * m
		logSum += math.Log(m + flatnessFloor)
	}

	mean := total / float64(bins)
	if mean > 0 {
		s.Flatness = math.Exp(logSum/float64(bins)) / mean
	}
	if total == 0 {
		s.Rolloff = freqs[bins-1]
		return s
	}

	s.Centroid = weighted / total
	s.MeanFrequency = s.Centroid

	var spread float64
	for i, m := range mags {
		d := freqs[i] - s.Centroid
		spread += d * d * m
	}
	s.Bandwidth = math.Sqrt(spread / total)

	s.Rolloff = freqs[bins-1]
	var cumulative float64
	for i, m := range mags {
		cumulative += m
		if cumulative >= rolloffFraction*total {
			s.Rolloff = freqs[i]
			break
		}
	}

	return s
}

// bandPower integrates a Welch PSD over each band with the trapezoid rule.
// Segments are half the window long with half overlap.
func bandPower(x []float64, sampleRate float64, windowSize int) BandPower {
	nfft := windowSize
	if half := len(x) / 2; half < nfft {
		nfft = half
	}

	nfft &^= 1

	var abs BandPower
	if nfft < 2 {
		return abs
	}

	pxx, freqs := spectral.Pwelch(x, sampleRate, &spectral.PwelchOptions{
		NFFT:     nfft,
		Noverlap: nfft / 2,
		Window:   window.Hann,
	})

	for _, band := range Bands {
		var power float64
		prev := -1
		for i, f := range freqs {
			if f < band.Low || f > band.High {
				continue
			}
			if prev >= 0 {
				power += (freqs[i] - freqs[prev]) * (pxx[i] + pxx[prev]) / 2
			}
			prev = i
		}
		abs.set(band.Name, power)
	}

	return abs
}

func relative(abs BandPower) BandPower {
	var rel BandPower
	total := abs.Total()
	if total <= 0 {
		return rel
	}
	for _, band := range Bands {
		rel.set(band.Name, abs.Get(band.Name)/total)
	}

	return rel
}
