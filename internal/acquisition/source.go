package acquisition

import (
	"context"
	"time"
)

// Sample is one reading across all channels. Timestamp is in seconds since
// the stream started.
type Sample struct {
	Values    []float64
	Timestamp float64
}

// OnSample is called from the acquisition goroutine for every sample. It
// must not block.
type OnSample func(Sample)

type Info struct {
	Device      string  `json:"device_type"`
	SampleRate  float64 `json:"sample_rate"`
	NumChannels int     `json:"num_channels"`
	Streaming   bool    `json:"is_streaming"`
}

// Source produces samples until stopped or its context is cancelled.
type Source interface {
	Start(ctx context.Context, fn OnSample) error
	Stop(timeout time.Duration) error
	Info() Info
}
