package filter

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"codeberg.org/mutker/eegstreamd/internal/errors"
	"codeberg.org/mutker/eegstreamd/internal/logger"
)

const (
	NotchFrequency = 50.0
	NotchQ         = 30.0
	BandpassOrder  = 4
	BandpassLow    = 1.0
	BandpassHigh   = 50.0
)

// Stage is one IIR filter of the cascade together with its steady-state
// initial condition.
type Stage struct {
	Name   string
	Coeffs Coefficients
	zi     []float64
}

func newStage(name string, c Coefficients) (*Stage, error) {
	zi, err := SteadyState(c)
	if err != nil {
		return nil, err
	}

	return &Stage{Name: name, Coeffs: c, zi: zi}, nil
}

// InitialState returns a copy of the stage's steady-state delay line.
func (s *Stage) InitialState() []float64 {
	return append([]float64(nil), s.zi...)
}

// run filters one channel's samples in Direct Form II transposed, reading
// and updating state in place.
func (s *Stage) run(in, out, state []float64) {
	b, a := s.Coeffs.B, s.Coeffs.A
	last := len(state) - 1

	for n, x := range in {
		y := b[0]*x + state[0]
		for i := 0; i < last; i++ {
			state[i] = b[i+1]*x + state[i+1] - a[i+1]*y
		}
		state[last] = b[last+1]*x - a[last+1]*y
		out[n] = y
	}
}

// Info describes the cascade configuration.
type Info struct {
	SampleRate       float64    `json:"sample_rate"`
	NyquistFrequency float64    `json:"nyquist_frequency"`
	BandpassRange    [2]float64 `json:"bandpass_range"`
	BandpassOrder    int        `json:"bandpass_order"`
	NotchFrequency   float64    `json:"notch_frequency"`
	NotchQ           float64    `json:"notch_q"`
	Mode             string     `json:"mode"`
}

// Cascade applies a 50 Hz notch followed by a 1-50 Hz Butterworth bandpass
// to a multichannel stream, keeping per-channel filter state between calls
// so that a stream filtered in pieces matches the stream filtered at once.
//
// State is keyed by stage name and channel count. Calls for the same key
// must be ordered by the caller; the mutex only keeps concurrent misuse from
// corrupting the map.
type Cascade struct {
	sampleRate float64
	stages     []*Stage
	log        logger.Logger

	mu     sync.Mutex
	states map[string][][]float64
}

func New(sampleRate float64) (*Cascade, error) {
	notch, err := Notch(NotchFrequency, NotchQ, sampleRate)
	if err != nil {
		return nil, err
	}
	bandpass, err := ButterBandpass(BandpassOrder, BandpassLow, BandpassHigh, sampleRate)
	if err != nil {
		return nil, err
	}

	c := &Cascade{
		sampleRate: sampleRate,
		log:        logger.With("filter"),
		states:     make(map[string][][]float64),
	}
	for _, st := range []struct {
		name   string
		coeffs Coefficients
	}{{"notch", notch}, {"bandpass", bandpass}} {
		stage, err := newStage(st.name, st.coeffs)
		if err != nil {
			return nil, err
		}
		c.stages = append(c.stages, stage)
	}

	c.log.Debug().
		Float64("sample_rate", sampleRate).
		Msg("Filter cascade initialized")

	return c, nil
}

// Stages returns the stages in application order.
func (c *Cascade) Stages() []*Stage {
	return c.stages
}

// Apply filters rows of samples (rows x channels). All rows must have the
// same width.
func (c *Cascade) Apply(data [][]float64) ([][]float64, error) {
	if len(data) == 0 {
		return data, nil
	}

	channels := len(data[0])
	for _, row := range data {
		if len(row) != channels {
			return nil, errors.New().WithData(ErrShapeMismatch,
				fmt.Sprintf("expected %d channels, got %d", channels, len(row)))
		}
	}
	if channels == 0 {
		return data, nil
	}

	out := data
	for _, stage := range c.stages {
		out = c.applyStage(stage, out, channels)
	}

	return out, nil
}

// ApplySample filters a single multichannel sample.
func (c *Cascade) ApplySample(sample []float64) ([]float64, error) {
	out, err := c.Apply([][]float64{sample})
	if err != nil {
		return nil, err
	}

	return out[0], nil
}

// applyStage runs one stage over every channel. New state is committed only
// when every output is finite; otherwise the input passes through unchanged.
func (c *Cascade) applyStage(stage *Stage, data [][]float64, channels int) [][]float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := stateKey(stage.Name, channels)
	state, ok := c.states[key]
	if !ok {
		state = make([][]float64, channels)
		for ch := range state {
			state[ch] = stage.InitialState()
		}
		c.states[key] = state
		c.log.Debug().
			Str("stage", stage.Name).
			Int("channels", channels).
			Msg("Initialized filter state")
	}

	samples := len(data)
	in := make([]float64, samples)
	col := make([]float64, samples)
	next := make([][]float64, channels)
	out := make([][]float64, samples)
	for n := range out {
		out[n] = make([]float64, channels)
	}

	for ch := 0; ch < channels; ch++ {
		for n := range data {
			in[n] = data[n][ch]
		}
		next[ch] = append([]float64(nil), state[ch]...)
		stage.run(in, col, next[ch])

		for n, y := range col {
			if math.IsNaN(y) || math.IsInf(y, 0) {
				c.log.WarnWithCode(errors.New().WithData(ErrNumericFault, key)).
					Int("channel", ch).
					Msg("Filter output not finite, passing input through")
				return data
			}
			out[n][ch] = y
		}
	}

	for ch := range next {
		state[ch] = next[ch]
	}

	return out
}

// ResetChannelCount drops the state kept for streams with the given channel
// count. The next call with that width starts from the initial condition.
func (c *Cascade) ResetChannelCount(channels int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, stage := range c.stages {
		delete(c.states, stateKey(stage.Name, channels))
	}
}

// Reset drops all filter state.
func (c *Cascade) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.states = make(map[string][][]float64)
	c.log.Debug().Msg("Filter state reset")
}

// StateKeys lists the state entries currently held, sorted.
func (c *Cascade) StateKeys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]string, 0, len(c.states))
	for k := range c.states {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	return keys
}

func (c *Cascade) Info() Info {
	return Info{
		SampleRate:       c.sampleRate,
		NyquistFrequency: c.sampleRate / 2,
		BandpassRange:    [2]float64{BandpassLow, BandpassHigh},
		BandpassOrder:    BandpassOrder,
		NotchFrequency:   NotchFrequency,
		NotchQ:           NotchQ,
		Mode:             "real-time",
	}
}

func stateKey(stage string, channels int) string {
	return fmt.Sprintf("%s_%d", stage, channels)
}
