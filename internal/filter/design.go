package filter

import (
	"fmt"
	"math"
	"math/cmplx"

	"codeberg.org/mutker/eegstreamd/internal/errors"
	"gonum.org/v1/gonum/mat"
)

// Coefficients is a transfer function in b/a form with a[0] == 1.
type Coefficients struct {
	B []float64
	A []float64
}

// Order returns the number of delay elements needed to run the filter.
func (c Coefficients) Order() int {
	return len(c.A) - 1
}

// ButterBandpass designs a digital Butterworth bandpass of the given order
// with edges low and high in Hz. The result matches the usual bilinear
// design with pre-warped band edges.
func ButterBandpass(order int, low, high, sampleRate float64) (Coefficients, error) {
	nyquist := sampleRate / 2
	wl, wh := low/nyquist, high/nyquist

	if order < 1 {
		return Coefficients{}, errors.New().WithData(ErrInvalidConfig,
			fmt.Sprintf("bandpass order %d must be positive", order))
	}
	if wl <= 0 || wh >= 1 || wl >= wh {
		return Coefficients{}, errors.New().WithData(ErrInvalidConfig,
			fmt.Sprintf("bandpass %.3g-%.3g Hz invalid for nyquist %.3g Hz", low, high, nyquist))
	}

	// analog prototype poles on the left half of the unit circle
	poles := make([]complex128, 0, order)
	for m := -order + 1; m < order; m += 2 {
		theta := math.Pi * float64(m) / float64(2*order)
		poles = append(poles, -cmplx.Exp(complex(0, theta)))
	}

	// pre-warp for a bilinear transform at fs = 2
	const fs2 = 4.0
	warpedLow := fs2 * math.Tan(math.Pi*wl/2)
	warpedHigh := fs2 * math.Tan(math.Pi*wh/2)
	bw := warpedHigh - warpedLow
	wo := math.Sqrt(warpedLow * warpedHigh)

	// lowpass to bandpass: each pole splits in two, order zeros at the origin
	bpPoles := make([]complex128, 0, 2*order)
	for _, p := range poles {
		scaled := p * complex(bw/2, 0)
		root := cmplx.Sqrt(scaled*scaled - complex(wo*wo, 0))
		bpPoles = append(bpPoles, scaled+root)
	}
	for _, p := range poles {
		scaled := p * complex(bw/2, 0)
		root := cmplx.Sqrt(scaled*scaled - complex(wo*wo, 0))
		bpPoles = append(bpPoles, scaled-root)
	}
	bpZeros := make([]complex128, order)
	gain := math.Pow(bw, float64(order))

	// bilinear transform; the zeros left over go to z = -1
	zZeros := make([]complex128, 0, len(bpPoles))
	for _, z := range bpZeros {
		zZeros = append(zZeros, (fs2+z)/(fs2-z))
	}
	for len(zZeros) < len(bpPoles) {
		zZeros = append(zZeros, -1)
	}
	zPoles := make([]complex128, len(bpPoles))
	num, den := complex(1, 0), complex(1, 0)
	for _, z := range bpZeros {
		num *= fs2 - z
	}
	for i, p := range bpPoles {
		zPoles[i] = (fs2 + p) / (fs2 - p)
		den *= fs2 - p
	}
	gain *= real(num / den)

	b := poly(zZeros)
	for i := range b {
		b[i] *= gain
	}
	a := poly(zPoles)

	return checkFinite(Coefficients{B: b, A: a})
}

// Notch designs a second-order IIR notch at freq Hz with quality factor q.
func Notch(freq, q, sampleRate float64) (Coefficients, error) {
	w0 := 2 * freq / sampleRate
	if w0 <= 0 || w0 >= 1 || q <= 0 {
		return Coefficients{}, errors.New().WithData(ErrInvalidConfig,
			fmt.Sprintf("notch %.3g Hz with Q %.3g invalid at %.3g Hz", freq, q, sampleRate))
	}

	bw := w0 / q * math.Pi
	w0 *= math.Pi

	beta := math.Tan(bw / 2)
	gain := 1 / (1 + beta)
	cos := math.Cos(w0)

	return checkFinite(Coefficients{
		B: []float64{gain, -2 * cos * gain, gain},
		A: []float64{1, -2 * gain * cos, 2*gain - 1},
	})
}

// SteadyState returns the initial delay-line state that corresponds to a
// unit step having been applied forever. Scale it by the first input value
// to start without a transient, or use it unscaled as the stream's state.
func SteadyState(c Coefficients) ([]float64, error) {
	n := len(c.A)
	if len(c.B) != n || n < 2 {
		return nil, errors.New().WithData(ErrDesign,
			fmt.Sprintf("need matching b/a of length >= 2, got %d/%d", len(c.B), n))
	}
	order := n - 1

	// I - companion(a)^T, where companion(a) has -a[1:] in its first row
	// and ones on the subdiagonal
	system := mat.NewDense(order, order, nil)
	for i := 0; i < order; i++ {
		system.Set(i, i, 1)
		system.Set(i, 0, system.At(i, 0)+c.A[i+1]/c.A[0])
		if i+1 < order {
			system.Set(i, i+1, -1)
		}
	}

	rhs := mat.NewVecDense(order, nil)
	for i := 0; i < order; i++ {
		rhs.SetVec(i, c.B[i+1]-c.A[i+1]*c.B[0])
	}

	var zi mat.VecDense
	if err := zi.SolveVec(system, rhs); err != nil {
		return nil, errors.New().Wrap(ErrDesign, err)
	}

	out := make([]float64, order)
	for i := range out {
		out[i] = zi.AtVec(i)
	}

	return out, nil
}

// poly expands the monic polynomial with the given roots and keeps the
// real part of each coefficient.
func poly(roots []complex128) []float64 {
	coeffs := []complex128{1}
	for _, r := range roots {
		next := make([]complex128, len(coeffs)+1)
		for i, c := range coeffs {
			next[i] += c
			next[i+1] -= c * r
		}
		coeffs = next
	}

	out := make([]float64, len(coeffs))
	for i, c := range coeffs {
		out[i] = real(c)
	}

	return out
}

func checkFinite(c Coefficients) (Coefficients, error) {
	for _, v := range append(append([]float64{}, c.B...), c.A...) {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Coefficients{}, errors.New().WithData(ErrDesign, "non-finite coefficient")
		}
	}

	return c, nil
}
