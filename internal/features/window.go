package features

import (
	"codeberg.org/mutker/eegstreamd/internal/errors"
	"codeberg.org/mutker/eegstreamd/internal/logger"
	"codeberg.org/mutker/eegstreamd/internal/ringbuffer"
)

// historyWindows is how many windows of samples the extractor retains.
const historyWindows = 4

const ErrInvalidWindow = errors.ErrorCode("features_invalid_window")

// Window accumulates samples and computes a feature Set over the most
// recent windowSize of them. It is not safe for concurrent use.
type Window struct {
	sampleRate float64
	windowSize int
	log        logger.Logger

	samples    *ringbuffer.MultiChannelBuffer
	timestamps *ringbuffer.RingBuffer
}

func NewWindow(sampleRate float64, windowSize int) (*Window, error) {
	if windowSize < 2 || sampleRate <= 0 {
		return nil, errors.New().WithData(ErrInvalidWindow, windowSize)
	}

	timestamps, err := ringbuffer.New(windowSize * historyWindows)
	if err != nil {
		return nil, err
	}

	return &Window{
		sampleRate: sampleRate,
		windowSize: windowSize,
		log:        logger.With("features"),
		timestamps: timestamps,
	}, nil
}

// ProcessSample adds one sample. Once a full window is available it returns
// the features of the latest window and true.
func (w *Window) ProcessSample(sample []float64, timestamp float64) (*Set, bool) {
	if len(sample) == 0 {
		return nil, false
	}

	if w.samples == nil || w.samples.NumChannels() != len(sample) {
		if w.samples != nil {
			w.log.Debug().
				Int("from", w.samples.NumChannels()).
				Int("to", len(sample)).
				Msg("Channel count changed, restarting feature window")
		}
		samples, err := ringbuffer.NewMultiChannel(w.windowSize*historyWindows, len(sample))
		if err != nil {
			return nil, false
		}
		w.samples = samples
		w.timestamps.Clear()
	}

	if err := w.samples.PushSample(sample); err != nil {
		return nil, false
	}
	w.timestamps.Push(timestamp)

	if w.timestamps.Len() < w.windowSize {
		return nil, false
	}

	return w.extract(), true
}

func (w *Window) extract() *Set {
	channels := w.samples.NumChannels()
	ts := w.timestamps.Recent(w.windowSize)

	set := &Set{
		TimeDomain:        make(map[string]TimeDomain, channels),
		Spectral:          make(map[string]Spectral, channels),
		AbsoluteBandPower: make(map[string]BandPower, channels),
		RelativeBandPower: make(map[string]BandPower, channels),
		Metadata: Metadata{
			TimestampRange: [2]float64{ts[0], ts[len(ts)-1]},
			SampleCount:    len(ts),
			WindowSize:     w.windowSize,
		},
	}

	for ch := 0; ch < channels; ch++ {
		x, err := w.samples.Channel(ch, w.windowSize)
		if err != nil {
			continue
		}
		key := channelKey(ch)
		abs := bandPower(x, w.sampleRate, w.windowSize)

		set.TimeDomain[key] = timeDomain(x)
		set.Spectral[key] = spectralShape(x, w.sampleRate)
		set.AbsoluteBandPower[key] = abs
		set.RelativeBandPower[key] = relative(abs)
	}

	return set
}

// Reset discards all buffered samples.
func (w *Window) Reset() {
	if w.samples != nil {
		w.samples.ClearAll()
	}
	w.timestamps.Clear()
	w.log.Debug().Msg("Feature window reset")
}

func (w *Window) WindowSize() int {
	return w.windowSize
}
