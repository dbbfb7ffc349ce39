package metrics

import (
	"context"
	"time"
)

// Collector is what the pipeline records snapshots through.
type Collector interface {
	Record(ctx context.Context, snapshot *Snapshot) error
	Close() error
}

// Repository stores snapshots.
type Repository interface {
	Record(snapshot *Snapshot) error
	Recent(limit int) ([]Snapshot, error)
	Close() error
}

// Snapshot is the state of the stream at one status tick.
type Snapshot struct {
	Timestamp  time.Time
	Stream     StreamMetrics
	Transmit   TransmitMetrics
	Connection ConnectionMetrics
}

type StreamMetrics struct {
	SamplesReceived  uint64
	SamplesDropped   uint64
	SamplesProcessed uint64
	ProcessingErrors uint64
	RawBufferFill    float64
}

type TransmitMetrics struct {
	Flushes      uint64
	PacketsSent  uint64
	SendFailures uint64
	BufferSize   int
}

type ConnectionMetrics struct {
	Connected      bool
	FailedAttempts int
}
