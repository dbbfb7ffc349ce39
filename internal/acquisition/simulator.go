package acquisition

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"codeberg.org/mutker/eegstreamd/internal/errors"
	"codeberg.org/mutker/eegstreamd/internal/logger"
)

const (
	// ClipMicrovolts bounds every simulated value.
	ClipMicrovolts = 500.0

	noiseStdDev         = 0.5
	artifactStdDev      = 50.0
	artifactProbability = 0.01
)

var baseFrequencies = []float64{10, 20, 30, 40, 25, 15, 35, 45}

// component is one sinusoid of a channel's mixture.
type component struct {
	freq, amplitude float64
}

type SimulatorOption func(*Simulator)

// WithSeed makes the noise and artifacts reproducible.
func WithSeed(seed int64) SimulatorOption {
	return func(s *Simulator) {
		s.rng = rand.New(rand.NewSource(seed))
	}
}

// WithArtifacts overrides the per-sample artifact probability.
func WithArtifacts(probability float64) SimulatorOption {
	return func(s *Simulator) {
		s.artifacts = probability
	}
}

// Simulator generates a synthetic EEG-like stream: each channel is a mix of
// two sinusoids in a characteristic band plus gaussian noise and occasional
// large artifacts.
type Simulator struct {
	sampleRate float64
	mixtures   [][]component
	artifacts  float64
	rng        *rand.Rand
	log        logger.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

func NewSimulator(sampleRate float64, channels int, opts ...SimulatorOption) (*Simulator, error) {
	if sampleRate <= 0 || channels <= 0 {
		return nil, errors.New().WithData(ErrInvalidSource,
			fmt.Sprintf("sample rate %g, channels %d", sampleRate, channels))
	}

	s := &Simulator{
		sampleRate: sampleRate,
		mixtures:   make([][]component, channels),
		artifacts:  artifactProbability,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
		log:        logger.With("simulator"),
	}
	for ch := range s.mixtures {
		s.mixtures[ch] = mixtureFor(ch)
	}
	for _, opt := range opts {
		opt(s)
	}

	s.log.Info().
		Int("channels", channels).
		Float64("sample_rate", sampleRate).
		Msg("Simulator initialized")

	return s, nil
}

// mixtureFor picks the band a channel imitates: alpha for the first pair,
// then beta, theta and gamma.
func mixtureFor(ch int) []component {
	f := baseFrequencies[ch%len(baseFrequencies)]

	switch (ch % len(baseFrequencies)) / 2 {
	case 0:
		return []component{{f, 50}, {f * 0.5, 20}}
	case 1:
		return []component{{f, 40}, {f * 1.2, 25}}
	case 2:
		return []component{{f * 0.5, 30}, {f * 0.25, 15}}
	default:
		return []component{{f, 35}, {f * 0.8, 20}}
	}
}

// Generate returns the sample at time t seconds.
func (s *Simulator) Generate(t float64) []float64 {
	out := make([]float64, len(s.mixtures))
	for ch, mix := range s.mixtures {
		var v float64
		for _, c := range mix {
			v += c.amplitude * math.Sin(2*math.Pi*c.freq*t)
		}
		v += s.rng.NormFloat64() * noiseStdDev
		if s.rng.Float64() < s.artifacts {
			v += s.rng.NormFloat64() * artifactStdDev
		}
		out[ch] = math.Max(-ClipMicrovolts, math.Min(ClipMicrovolts, v))
	}
	return out
}

// Start runs the generator on its own goroutine, calling fn at the sample
// rate until Stop or ctx is done.
func (s *Simulator) Start(ctx context.Context, fn OnSample) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return errors.New().WithMessage(ErrAlreadyRunning, "simulator is already streaming")
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true

	go s.run(ctx, fn, s.done)

	s.log.Info().Msg("Streaming started")

	return nil
}

func (s *Simulator) run(ctx context.Context, fn OnSample, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(time.Duration(float64(time.Second) / s.sampleRate))
	defer ticker.Stop()

	start := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			t := now.Sub(start).Seconds()
			fn(Sample{Values: s.Generate(t), Timestamp: t})
		}
	}
}

// Stop cancels the generator and waits up to timeout for it to exit.
func (s *Simulator) Stop(timeout time.Duration) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.cancel()
	done := s.done
	s.mu.Unlock()

	select {
	case <-done:
	case <-time.After(timeout):
		return errors.New().WithData(ErrStopTimeout, fmt.Sprintf("simulator stop after %s", timeout))
	}

	s.log.Info().Msg("Streaming stopped")

	return nil
}

func (s *Simulator) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Info{
		Device:      "simulator",
		SampleRate:  s.sampleRate,
		NumChannels: len(s.mixtures),
		Streaming:   s.running,
	}
}
