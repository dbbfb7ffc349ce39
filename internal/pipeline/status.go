package pipeline

import (
	"context"
	"encoding/json"
	"time"

	"codeberg.org/mutker/eegstreamd/internal/acquisition"
	"codeberg.org/mutker/eegstreamd/internal/errors"
	"codeberg.org/mutker/eegstreamd/internal/filter"
	"codeberg.org/mutker/eegstreamd/internal/metrics"
	"codeberg.org/mutker/eegstreamd/internal/transmit"
	"codeberg.org/mutker/eegstreamd/internal/wire"
)

// Status is the body of a system_status message.
type Status struct {
	Running          bool             `json:"system_running"`
	Source           acquisition.Info `json:"source"`
	ClientConnected  bool             `json:"client_connected"`
	FailedConnects   int              `json:"failed_connect_attempts"`
	Peer             string           `json:"peer"`
	SessionID        string           `json:"session_id"`
	SamplesReceived  uint64           `json:"samples_received"`
	SamplesDropped   uint64           `json:"samples_dropped"`
	SamplesProcessed uint64           `json:"samples_processed"`
	SamplesRejected  uint64           `json:"samples_rejected"`
	QueueDepth       int              `json:"queue_depth"`
	RawSamples       uint64           `json:"raw_samples"`
	RawBufferFill    float64          `json:"raw_buffer_fill"`
	Flushes          uint64           `json:"flushes"`
	FlushFailures    uint64           `json:"flush_failures"`
	PacketsSent      uint64           `json:"packets_sent"`
	Buffer           transmit.Stats   `json:"buffer_stats"`
	Filter           filter.Info      `json:"filter"`
	Timestamp        float64          `json:"timestamp"`
}

func (p *Pipeline) Status() Status {
	raw := p.raw.Stats()
	var fill float64
	if len(raw.Channels) > 0 {
		fill = raw.Channels[0].Utilization
	}

	return Status{
		Running:          p.running.Load(),
		Source:           p.source.Info(),
		ClientConnected:  p.sender.IsConnected(),
		FailedConnects:   p.sender.Stats().FailedAttempts,
		Peer:             p.cfg.PeerAddress,
		SessionID:        p.packetizer.SessionID(),
		SamplesReceived:  p.counters.received.Load(),
		SamplesDropped:   p.queue.Dropped(),
		SamplesProcessed: p.counters.processed.Load(),
		SamplesRejected:  p.counters.rejected.Load(),
		QueueDepth:       p.queue.Len(),
		RawSamples:       raw.TotalSamples,
		RawBufferFill:    fill,
		Flushes:          p.counters.flushes.Load(),
		FlushFailures:    p.counters.flushFailures.Load(),
		PacketsSent:      p.counters.packetsSent.Load(),
		Buffer:           p.tx.Stats(),
		Filter:           p.cascade.Info(),
		Timestamp:        wire.Timestamp(time.Now()),
	}
}

func (p *Pipeline) statusLoop(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.StatusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.report(ctx)
		}
	}
}

// report retries the connection if it is down, then sends the status and
// records a metrics snapshot.
func (p *Pipeline) report(ctx context.Context) {
	defer p.recoverStep("status")

	if !p.sender.IsConnected() {
		p.log.Info().Str("peer", p.cfg.PeerAddress).Msg("Retrying client connection")
		if !p.sender.Connect(ctx) {
			p.log.Warn().Str("peer", p.cfg.PeerAddress).Msg("Client still unreachable")
		}
	}

	status := p.Status()
	if status.ClientConnected {
		p.sendStatus(ctx, status)
	}

	if err := p.collector.Record(ctx, p.snapshot(status)); err != nil {
		p.log.WarnWithCode(errors.FromError(err, metrics.ErrMetricsCollection)).Msg("Failed to record metrics")
	}
}

func (p *Pipeline) sendStatus(ctx context.Context, status Status) bool {
	body, err := json.Marshal(status)
	if err != nil {
		p.log.ErrorWithCode(errors.New().Wrap(errors.ErrInternal, err)).Msg("Failed to encode status")
		return false
	}

	return p.sender.SendStatus(ctx, "system_status", string(body))
}

func (p *Pipeline) snapshot(status Status) *metrics.Snapshot {
	return &metrics.Snapshot{
		Timestamp: time.Now(),
		Stream: metrics.StreamMetrics{
			SamplesReceived:  status.SamplesReceived,
			SamplesDropped:   status.SamplesDropped,
			SamplesProcessed: status.SamplesProcessed,
			ProcessingErrors: status.SamplesRejected,
			RawBufferFill:    status.RawBufferFill,
		},
		Transmit: metrics.TransmitMetrics{
			Flushes:      status.Flushes,
			PacketsSent:  status.PacketsSent,
			SendFailures: status.FlushFailures,
			BufferSize:   status.Buffer.Size,
		},
		Connection: metrics.ConnectionMetrics{
			Connected:      status.ClientConnected,
			FailedAttempts: status.FailedConnects,
		},
	}
}
