package pipeline

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"codeberg.org/mutker/eegstreamd/internal/acquisition"
	"codeberg.org/mutker/eegstreamd/internal/config"
	"codeberg.org/mutker/eegstreamd/internal/errors"
	"codeberg.org/mutker/eegstreamd/internal/features"
	"codeberg.org/mutker/eegstreamd/internal/filter"
	"codeberg.org/mutker/eegstreamd/internal/logger"
	"codeberg.org/mutker/eegstreamd/internal/metrics"
	"codeberg.org/mutker/eegstreamd/internal/ringbuffer"
	"codeberg.org/mutker/eegstreamd/internal/transmit"
	"codeberg.org/mutker/eegstreamd/internal/transport"
	"codeberg.org/mutker/eegstreamd/internal/wire"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	ProcessInterval    = 10 * time.Millisecond
	MaxSamplesPerStep  = 32
	RequestDataSamples = 64
	DefaultStopTimeout = 2 * time.Second

	initialTestSamples = 5
	minQueueCapacity   = 64
)

type Option func(*Pipeline)

// WithSource replaces the default simulator.
func WithSource(src acquisition.Source) Option {
	return func(p *Pipeline) {
		p.source = src
	}
}

// WithRegistry registers pipeline and transport metrics with reg.
func WithRegistry(reg prometheus.Registerer) Option {
	return func(p *Pipeline) {
		p.reg = reg
	}
}

// WithCollector replaces the collector built from the metrics settings.
func WithCollector(c metrics.Collector) Option {
	return func(p *Pipeline) {
		p.collector = c
	}
}

func WithSenderOptions(opts ...transport.SenderOption) Option {
	return func(p *Pipeline) {
		p.senderOpts = append(p.senderOpts, opts...)
	}
}

type counters struct {
	received      atomic.Uint64
	processed     atomic.Uint64
	rejected      atomic.Uint64
	flushes       atomic.Uint64
	flushFailures atomic.Uint64
	packetsSent   atomic.Uint64
}

// Pipeline wires acquisition to the client: samples are queued by the
// source, then filtered, windowed for features, buffered and sent at the
// target output rate by the processing loop. A status loop reports to the
// client and retries the connection while it is down, and the receiver
// answers client requests.
//
// A stopped Pipeline cannot be started again.
type Pipeline struct {
	cfg *config.Config
	log logger.Logger

	source     acquisition.Source
	queue      *acquisition.Queue
	raw        *ringbuffer.MultiChannelBuffer
	cascade    *filter.Cascade
	window     *features.Window
	tx         *transmit.Buffer
	packetizer *wire.Packetizer
	sender     *transport.Sender
	receiver   *transport.Receiver
	collector  metrics.Collector
	metrics    *Metrics

	reg        prometheus.Registerer
	senderOpts []transport.SenderOption

	counters counters

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	stopped bool
	running atomic.Bool
	wg      sync.WaitGroup
}

func New(cfg *config.Config, opts ...Option) (*Pipeline, error) {
	errFactory := errors.New()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	p := &Pipeline{
		cfg: cfg,
		log: logger.With("pipeline"),
	}
	for _, opt := range opts {
		opt(p)
	}

	var err error
	if p.cascade, err = filter.New(cfg.SampleRate); err != nil {
		return nil, errFactory.Wrap(ErrInit, err)
	}
	if p.window, err = features.NewWindow(cfg.SampleRate, cfg.FeatureWindow); err != nil {
		return nil, errFactory.Wrap(ErrInit, err)
	}
	if p.raw, err = ringbuffer.NewMultiChannel(cfg.RawBufferCapacity(), cfg.NumChannels); err != nil {
		return nil, errFactory.Wrap(ErrInit, err)
	}

	capacity := cfg.TransmissionBufferCapacity
	if capacity == 0 {
		capacity = transmit.CapacityFor(cfg.SampleRate, cfg.TargetOutputRate)
	}
	if p.tx, err = transmit.New(cfg.FlushInterval(), capacity); err != nil {
		return nil, errFactory.Wrap(ErrInit, err)
	}

	// one second of input
	if p.queue, err = acquisition.NewQueue(max(minQueueCapacity, int(cfg.SampleRate))); err != nil {
		return nil, errFactory.Wrap(ErrInit, err)
	}

	if p.source == nil {
		if p.source, err = acquisition.NewSimulator(cfg.SampleRate, cfg.NumChannels); err != nil {
			return nil, errFactory.Wrap(ErrInit, err)
		}
	}

	if p.collector == nil {
		mcfg := metrics.DefaultConfig()
		mcfg.Enabled = cfg.Metrics
		mcfg.DBPath = cfg.MetricsDB
		if p.collector, err = metrics.NewService(mcfg); err != nil {
			return nil, errFactory.Wrap(ErrInit, err)
		}
	}

	tm := transport.NewMetrics(p.reg)
	p.metrics = NewMetrics(p.reg)
	p.sender = transport.NewSender(cfg.PeerAddress,
		append([]transport.SenderOption{transport.WithSenderMetrics(tm)}, p.senderOpts...)...)
	p.receiver = transport.NewReceiver(cfg.ListenAddress, transport.WithReceiverMetrics(tm))
	p.packetizer = wire.NewPacketizer(cfg.MaxPacketSize, wire.NewCodec(cfg.CompressionLevel))

	p.log.Info().
		Float64("sample_rate", cfg.SampleRate).
		Int("channels", cfg.NumChannels).
		Float64("output_rate", cfg.TargetOutputRate).
		Int("buffer_capacity", capacity).
		Str("session_id", p.packetizer.SessionID()).
		Msg("Pipeline initialized")

	return p, nil
}

// Start brings up the receiver, connects to the client, starts the source
// and the processing and status loops. An unreachable client is not an
// error: the pipeline runs unconnected and retries on every status tick.
func (p *Pipeline) Start(ctx context.Context) error {
	errFactory := errors.New()

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running.Load() {
		return errFactory.WithMessage(errors.ErrAlreadyRunning, "pipeline is already running")
	}
	if p.stopped {
		return errFactory.WithMessage(errors.ErrInvalidOperation, "pipeline was stopped")
	}

	ctx, cancel := context.WithCancel(ctx)
	p.ctx = ctx
	p.cancel = cancel

	if err := p.receiver.Start(transport.Handler{
		OnStatus:  p.onStatus,
		OnData:    p.onData,
		OnControl: p.onControl,
	}); err != nil {
		cancel()
		return errFactory.Wrap(ErrStart, err)
	}

	connected := p.sender.Connect(ctx)
	if connected {
		p.sender.SendStatus(ctx, "server_connected", "EEG stream server is running")
	} else {
		p.log.Warn().Str("peer", p.cfg.PeerAddress).Msg("Client unreachable, running unconnected")
	}

	if err := p.source.Start(ctx, p.enqueue); err != nil {
		cancel()
		if stopErr := p.receiver.Stop(DefaultStopTimeout); stopErr != nil {
			p.log.Warn().Err(stopErr).Msg("Failed to stop receiver")
		}
		p.sender.Disconnect()
		return errFactory.Wrap(ErrStart, err)
	}

	p.wg.Add(2)
	go p.processLoop(ctx)
	go p.statusLoop(ctx)
	p.running.Store(true)

	if connected {
		p.sender.SendStatus(ctx, "system_started", "Server is ready")
		p.sendTestPacket(ctx)
	}

	p.log.Info().Msg("Pipeline started")

	return nil
}

func (p *Pipeline) sendTestPacket(ctx context.Context) {
	rows := make([][]float64, initialTestSamples)
	for i := range rows {
		rows[i] = make([]float64, p.cfg.NumChannels)
	}

	p.log.Debug().Msg("Sending initial test packet")
	if !p.sender.SendEEG(ctx, rows, nil, &wire.Metadata{Note: "initial_test_packet"}) {
		p.log.Warn().Msg("Failed to send initial test packet")
	}
}

// enqueue runs on the acquisition goroutine and must not block.
func (p *Pipeline) enqueue(s acquisition.Sample) {
	p.counters.received.Add(1)
	p.queue.Offer(s)
}

func (p *Pipeline) processLoop(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(ProcessInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.step(ctx)
		}
	}
}

// step handles one batch of queued samples and flushes when due. A panic
// aborts only the current step.
func (p *Pipeline) step(ctx context.Context) {
	defer p.recoverStep("processing")

	samples := p.queue.Drain(MaxSamplesPerStep)
	p.metrics.queue(p.queue.Len(), p.queue.Dropped())

	for _, s := range samples {
		p.process(s)
	}

	if p.tx.ShouldFlush() {
		p.flush(ctx)
	}
}

func (p *Pipeline) recoverStep(loop string) {
	if r := recover(); r != nil {
		p.metrics.recovered()
		p.log.ErrorWithCode(errors.New().WithData(ErrProcessing, fmt.Sprint(r))).
			Str("loop", loop).
			Msg("Recovered from panic")
	}
}

func (p *Pipeline) process(s acquisition.Sample) {
	if err := p.raw.PushSample(s.Values); err != nil {
		p.reject(err)
		return
	}

	filtered, err := p.cascade.ApplySample(s.Values)
	if err != nil {
		p.reject(err)
		return
	}

	set, _ := p.window.ProcessSample(filtered, s.Timestamp)
	p.tx.Add(filtered, s.Timestamp, set)

	p.counters.processed.Add(1)
	p.metrics.processed()
}

func (p *Pipeline) reject(err error) {
	p.counters.rejected.Add(1)
	p.metrics.rejected()
	p.log.WarnWithCode(errors.FromError(err, ErrShapeMismatch)).Msg("Dropping sample")
}

// flush sends everything buffered. The flush time only advances when every
// packet of the batch was handed to the socket.
func (p *Pipeline) flush(ctx context.Context) {
	start := time.Now()

	batch, ok := p.tx.Drain()
	if !ok {
		return
	}

	sent := p.send(ctx, batch)
	p.metrics.flushed(sent, len(batch.Samples), time.Since(start).Seconds())

	if !sent {
		p.counters.flushFailures.Add(1)
		p.log.Warn().
			Int("samples", len(batch.Samples)).
			Bool("connected", p.sender.IsConnected()).
			Msg("Failed to send batch")
		return
	}

	p.tx.MarkFlushed(time.Now())
	p.counters.flushes.Add(1)
	p.log.Debug().
		Int("samples", len(batch.Samples)).
		Int("channels", batch.Channels()).
		Bool("features", batch.Features != nil).
		Msg("Sent batch")
}

func (p *Pipeline) send(ctx context.Context, batch transmit.Batch) bool {
	if !p.sender.IsConnected() {
		return false
	}

	packets, err := p.packetizer.Package(batch)
	if err != nil {
		p.log.ErrorWithCode(errors.FromError(err, ErrProcessing)).Msg("Failed to packetize batch")
		return false
	}

	ok := true
	for _, pkt := range packets {
		if !p.sender.SendPacket(ctx, pkt) {
			ok = false
			continue
		}
		p.counters.packetsSent.Add(1)
	}

	return ok
}

// Stop shuts everything down, waiting up to timeout for each part. The
// first error is returned; the rest are logged.
func (p *Pipeline) Stop(timeout time.Duration) error {
	if !p.running.Swap(false) {
		return nil
	}

	p.mu.Lock()
	p.stopped = true
	p.cancel()
	p.mu.Unlock()

	var firstErr error
	keep := func(part string, err error) {
		if err == nil {
			return
		}
		p.log.Warn().Err(err).Str("part", part).Msg("Shutdown incomplete")
		if firstErr == nil {
			firstErr = err
		}
	}

	keep("source", p.source.Stop(timeout))
	keep("receiver", p.receiver.Stop(timeout))

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		keep("loops", errors.New().WithData(ErrStopTimeout, fmt.Sprintf("loops still running after %s", timeout)))
	}

	p.sender.Disconnect()
	keep("metrics", p.collector.Close())

	p.log.Info().Msg("Pipeline stopped")

	return firstErr
}

// ListenAddr returns the address the receiver is bound to, or nil when not
// running.
func (p *Pipeline) ListenAddr() net.Addr {
	return p.receiver.Addr()
}
