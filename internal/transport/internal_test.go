package transport

import (
	"context"
	"net"
	"os"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsRefused(t *testing.T) {
	refused := &net.OpError{Op: "write", Net: "udp", Err: os.NewSyscallError("write", syscall.ECONNREFUSED)}
	assert.True(t, isRefused(refused))

	other := &net.OpError{Op: "write", Net: "udp", Err: os.NewSyscallError("write", syscall.EPERM)}
	assert.False(t, isRefused(other))
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	assert.Nil(t, NewMetrics(nil))

	m.sent(10)
	m.failed("x")
	m.shed()
	m.setConnected(true)
	m.received(true)
}

func TestSenderRecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	laddr, err := net.ResolveUDPAddr("udp", "127.0.0.1:0")
	require.NoError(t, err)
	peer, err := net.ListenUDP("udp", laddr)
	require.NoError(t, err)
	defer peer.Close()

	s := NewSender(peer.LocalAddr().String(), WithSenderMetrics(m))
	defer s.Disconnect()
	require.True(t, s.Connect(context.Background()))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.connected))

	require.True(t, s.SendStatus(context.Background(), "ok", ""))
	assert.False(t, s.SendStatus(context.Background(), "huge", strings.Repeat("x", 70000)))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.packetsSent))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sendFailures.WithLabelValues("oversize")))
}

func TestSendWithoutPeerCountsNotConnected(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	s := NewSender("127.0.0.1:99999", WithRetry(1, 0), WithSenderMetrics(m))
	defer s.Disconnect()

	assert.False(t, s.SendStatus(context.Background(), "ok", ""))
	assert.False(t, s.IsConnected())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sendFailures.WithLabelValues("not_connected")))
	assert.Zero(t, testutil.ToFloat64(m.packetsSent))
}

func TestReadLoopExitsOnClosedSocket(t *testing.T) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	r := NewReceiver("127.0.0.1:0")
	done := make(chan struct{})
	go r.readLoop(conn, make(chan struct{}), done)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("receive loop kept running on a closed socket")
	}
}
