package transport

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"codeberg.org/mutker/eegstreamd/internal/errors"
	"codeberg.org/mutker/eegstreamd/internal/logger"
	"codeberg.org/mutker/eegstreamd/internal/wire"
)

const (
	DefaultPollInterval = time.Second
	maxDatagram         = 65535
)

// Handler receives decoded messages. Nil callbacks are skipped.
type Handler struct {
	OnStatus  func(*wire.Status)
	OnData    func(wire.Message)
	OnControl func(*wire.Control)
}

// Receiver listens for client datagrams and dispatches them by type.
type Receiver struct {
	addr    string
	poll    time.Duration
	metrics *Metrics
	log     logger.Logger

	mu       sync.Mutex
	conn     *net.UDPConn
	shutdown chan struct{}
	done     chan struct{}
	running  atomic.Bool
	handler  Handler
}

type ReceiverOption func(*Receiver)

// WithPollInterval sets the read deadline used to notice Stop.
func WithPollInterval(d time.Duration) ReceiverOption {
	return func(r *Receiver) {
		r.poll = d
	}
}

func WithReceiverMetrics(m *Metrics) ReceiverOption {
	return func(r *Receiver) {
		r.metrics = m
	}
}

func NewReceiver(addr string, opts ...ReceiverOption) *Receiver {
	r := &Receiver{
		addr: addr,
		poll: DefaultPollInterval,
		log:  logger.With("receiver"),
	}
	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Start binds the listen address and starts the receive loop.
func (r *Receiver) Start(h Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running.Load() {
		r.log.Warn().Msg("Already listening")
		return nil
	}

	laddr, err := net.ResolveUDPAddr("udp", r.addr)
	if err != nil {
		return errors.New().Wrap(ErrBind, err)
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return errors.New().Wrap(ErrBind, err)
	}

	r.conn = conn
	r.handler = h
	r.shutdown = make(chan struct{})
	r.done = make(chan struct{})
	r.running.Store(true)

	go r.readLoop(conn, r.shutdown, r.done)

	r.log.Info().Str("addr", conn.LocalAddr().String()).Msg("Listening for client messages")

	return nil
}

// Addr returns the bound address, or nil before Start.
func (r *Receiver) Addr() net.Addr {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn == nil {
		return nil
	}
	return r.conn.LocalAddr()
}

func (r *Receiver) readLoop(conn *net.UDPConn, shutdown <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	buf := make([]byte, maxDatagram)
	for {
		select {
		case <-shutdown:
			return
		default:
		}

		if err := conn.SetReadDeadline(time.Now().Add(r.poll)); err != nil {
			r.log.Error().Err(err).Msg("Failed to set read deadline, stopping receive loop")
			return
		}
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			select {
			case <-shutdown:
			default:
				r.log.Error().Err(err).Msg("Receive failed, stopping receive loop")
			}
			return
		}

		r.handle(buf[:n], from)
	}
}

func (r *Receiver) handle(datagram []byte, from *net.UDPAddr) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Error().
				Str("panic", fmt.Sprint(p)).
				Msg("Message handler panicked")
		}
	}()

	msg, err := wire.Decode(datagram)
	r.metrics.received(err != nil)
	if err != nil {
		r.log.WarnWithCode(errors.FromError(err, errors.ErrMalformedMessage)).
			Str("from", from.String()).
			Int("bytes", len(datagram)).
			Msg("Dropping malformed datagram")
		return
	}

	r.dispatch(msg)
}

func (r *Receiver) dispatch(msg wire.Message) {
	switch m := msg.(type) {
	case *wire.Status:
		r.log.Info().Str("status", m.Status).Str("message", m.Message).Msg("Received status")
		if r.handler.OnStatus != nil {
			r.handler.OnStatus(m)
		}
	case *wire.EEGData, *wire.EEGFeatures, *wire.EEGChunk, *wire.TransmissionHeader:
		if r.handler.OnData != nil {
			r.handler.OnData(m)
		}
	case *wire.Control:
		r.log.Debug().Str("type", string(m.Type)).Msg("Received control message")
		if r.handler.OnControl != nil {
			r.handler.OnControl(m)
		}
	default:
		panic(fmt.Sprintf("unhandled message type %T", msg))
	}
}

// Stop closes the socket and waits up to timeout for the receive loop to
// exit. A timeout is reported but leaves the receiver stopped.
func (r *Receiver) Stop(timeout time.Duration) error {
	if !r.running.Swap(false) {
		return nil
	}

	r.mu.Lock()
	close(r.shutdown)
	r.conn.Close()
	done := r.done
	r.mu.Unlock()

	select {
	case <-done:
	case <-time.After(timeout):
		return errors.New().WithData(ErrStopTimeout, fmt.Sprintf("receiver stop after %s", timeout))
	}

	r.mu.Lock()
	r.conn = nil
	r.mu.Unlock()

	r.log.Info().Msg("Stopped listening")

	return nil
}
