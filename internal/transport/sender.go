package transport

import (
	"context"
	"net"
	"sync"
	"syscall"
	"time"

	"codeberg.org/mutker/eegstreamd/internal/errors"
	"codeberg.org/mutker/eegstreamd/internal/features"
	"codeberg.org/mutker/eegstreamd/internal/logger"
	"codeberg.org/mutker/eegstreamd/internal/wire"
)

const (
	DefaultConnectAttempts = 3
	DefaultConnectBackoff  = time.Second
)

// shedSteps are the row counts an oversized eeg_data payload is cut down
// to, newest rows kept.
var shedSteps = []int{100, 50}

// Sender owns the outbound UDP socket to the visualization client.
//
// A failed send never marks the sender as disconnected: the local socket
// stays usable while the peer is absent, and only Disconnect clears the
// connected state.
type Sender struct {
	peer     string
	attempts int
	backoff  time.Duration
	metrics  *Metrics
	log      logger.Logger

	mu        sync.Mutex
	conn      *net.UDPConn
	connected bool
	failures  int
}

type SenderOption func(*Sender)

// WithRetry sets the number of connect attempts and the pause between them.
func WithRetry(attempts int, backoff time.Duration) SenderOption {
	return func(s *Sender) {
		s.attempts = max(1, attempts)
		s.backoff = backoff
	}
}

func WithSenderMetrics(m *Metrics) SenderOption {
	return func(s *Sender) {
		s.metrics = m
	}
}

func NewSender(peer string, opts ...SenderOption) *Sender {
	s := &Sender{
		peer:     peer,
		attempts: DefaultConnectAttempts,
		backoff:  DefaultConnectBackoff,
		log:      logger.With("sender"),
	}
	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Connect opens the socket and sends a connection_test probe, retrying with
// a fixed backoff. It reports whether the sender is connected.
func (s *Sender) Connect(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.connectLocked(ctx)
}

func (s *Sender) connectLocked(ctx context.Context) bool {
	if s.connected {
		s.log.Warn().Str("peer", s.peer).Msg("Already connected")
		return true
	}

	for attempt := 1; attempt <= s.attempts; attempt++ {
		err := s.dial()
		if err == nil {
			s.connected = true
			s.failures = 0
			s.metrics.setConnected(true)
			s.log.Info().Str("peer", s.peer).Msg("Connected to client")
			return true
		}

		s.failures++
		s.log.ErrorWithCode(errors.New().Wrap(ErrConnectionSetup, err)).
			Str("peer", s.peer).
			Int("attempt", attempt).
			Int("max_attempts", s.attempts).
			Msg("Failed to connect")

		if attempt == s.attempts {
			break
		}
		s.log.Info().Dur("backoff", s.backoff).Msg("Retrying connection")
		select {
		case <-ctx.Done():
			return false
		case <-time.After(s.backoff):
		}
	}

	return false
}

func (s *Sender) dial() error {
	raddr, err := net.ResolveUDPAddr("udp", s.peer)
	if err != nil {
		return err
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return err
	}

	probe, err := wire.Marshal(wire.NewControl(wire.TypeConnectionTest))
	if err != nil {
		conn.Close()
		return err
	}
	// a refused probe only means nobody is listening yet
	if _, err := conn.Write(probe); err != nil && !isRefused(err) {
		conn.Close()
		return err
	}

	s.conn = conn
	return nil
}

// Send marshals msg as plain JSON and sends it as one datagram. Oversized
// eeg_data messages are cut to their newest rows until they fit. It reports
// whether the datagram was handed to the socket.
func (s *Sender) Send(ctx context.Context, msg wire.Message) bool {
	payload, err := wire.Marshal(msg)
	if err != nil {
		s.log.ErrorWithCode(errors.FromError(err, errors.ErrInternal)).Msg("Failed to encode message")
		s.metrics.failed("encode")
		return false
	}

	if len(payload) > wire.MaxDatagramSize {
		payload = s.shed(msg, len(payload))
		if payload == nil {
			return false
		}
	}

	return s.write(ctx, payload)
}

func (s *Sender) shed(msg wire.Message, size int) []byte {
	data, ok := msg.(*wire.EEGData)
	if ok {
		s.log.Warn().
			Int("bytes", size).
			Int("rows", len(data.EEGData)).
			Msg("Payload too large, shedding rows")

		truncated := *data
		for _, rows := range shedSteps {
			truncated.Truncate(rows)
			payload, err := wire.Marshal(&truncated)
			if err == nil && len(payload) <= wire.MaxDatagramSize {
				s.metrics.shed()
				s.log.Debug().Int("rows", truncated.SampleCount).Msg("Truncated EEG data to fit datagram")
				return payload
			}
		}
	}

	s.log.ErrorWithCode(errors.New().WithData(ErrOversizePayload, size)).
		Str("type", string(msg.MessageType())).
		Msg("Failed to reduce payload size")
	s.metrics.failed("oversize")

	return nil
}

// SendPacket sends a pre-encoded packet as is.
func (s *Sender) SendPacket(ctx context.Context, pkt wire.Packet) bool {
	if len(pkt.Payload) > wire.MaxDatagramSize {
		s.log.ErrorWithCode(errors.New().WithData(ErrOversizePayload, len(pkt.Payload))).
			Str("kind", pkt.Kind.String()).
			Msg("Packet exceeds datagram size")
		s.metrics.failed("oversize")
		return false
	}

	return s.write(ctx, pkt.Payload)
}

func (s *Sender) write(ctx context.Context, payload []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		s.log.Warn().Msg("Socket not initialized, attempting to reconnect")
		if !s.connectLocked(ctx) {
			s.log.WarnWithCode(errors.New().WithData(ErrNotConnected, s.peer)).
				Int("bytes", len(payload)).
				Msg("Dropping datagram")
			s.metrics.failed("not_connected")
			return false
		}
	}

	n, err := s.conn.Write(payload)
	if err != nil {
		if isRefused(err) {
			s.log.Debug().Str("peer", s.peer).Msg("Client not listening, datagram dropped")
			s.metrics.failed("refused")
			return false
		}
		s.log.ErrorWithCode(errors.New().Wrap(ErrTransientSend, err)).
			Str("peer", s.peer).
			Msg("Failed to send data")
		s.metrics.failed("error")
		return false
	}

	s.metrics.sent(n)
	return true
}

// SendEEG sends rows as an eeg_data message.
func (s *Sender) SendEEG(ctx context.Context, rows [][]float64, set *features.Set, meta *wire.Metadata) bool {
	return s.Send(ctx, wire.NewEEGData(rows, set, meta))
}

// SendFeatures sends a feature set on its own.
func (s *Sender) SendFeatures(ctx context.Context, set *features.Set, meta *wire.Metadata) bool {
	return s.Send(ctx, wire.NewEEGFeatures(set, meta))
}

func (s *Sender) SendStatus(ctx context.Context, status, message string) bool {
	return s.Send(ctx, wire.NewStatus(status, message))
}

// Disconnect closes the socket and clears the connected state.
func (s *Sender) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	s.connected = false
	s.metrics.setConnected(false)
	s.log.Info().Msg("Connection closed")
}

func (s *Sender) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.connected
}

type SenderStats struct {
	Peer           string `json:"peer"`
	Connected      bool   `json:"connected"`
	FailedAttempts int    `json:"failed_attempts"`
}

func (s *Sender) Stats() SenderStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return SenderStats{Peer: s.peer, Connected: s.connected, FailedAttempts: s.failures}
}

func isRefused(err error) bool {
	return errors.Is(err, syscall.ECONNREFUSED)
}
