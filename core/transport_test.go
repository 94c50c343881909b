package core

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/nettest"
)

func newLoopbackPair(t *testing.T) (*UDPTransport, *UDPTransport) {
	t.Helper()
	ca, err := nettest.NewLocalPacketListener("udp4")
	require.NoError(t, err)
	cb, err := nettest.NewLocalPacketListener("udp4")
	require.NoError(t, err)
	portA := ca.LocalAddr().(*net.UDPAddr).AddrPort().Port()
	portB := cb.LocalAddr().(*net.UDPAddr).AddrPort().Port()

	// each side sends to the other's port
	a := NewUDPTransport(ca.(*net.UDPConn), portB, 1024)
	b := NewUDPTransport(cb.(*net.UDPConn), portA, 1024)
	t.Cleanup(func() {
		_ = a.Close()
		_ = b.Close()
	})
	return a, b
}

func TestUDPTransportRoundTrip(t *testing.T) {
	a, b := newLoopbackPair(t)
	loopback := netip.MustParseAddr("127.0.0.1")

	require.NoError(t, a.Send(loopback, []byte("ROUTING_TABLE;10.0.0.1:0:0")))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	dg, err := b.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, loopback, dg.From)
	assert.Equal(t, "ROUTING_TABLE;10.0.0.1:0:0", string(dg.Data))

	require.NoError(t, b.Send(loopback, []byte("destination=10.0.0.1")))
	dg, err = a.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, "destination=10.0.0.1", string(dg.Data))
}

func TestUDPTransportRecvCancel(t *testing.T) {
	a, b := newLoopbackPair(t)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := b.Recv(ctx)
		errc <- err
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Recv did not return after cancellation")
	}

	// the transport stays usable after a cancelled receive
	require.NoError(t, a.Send(netip.MustParseAddr("127.0.0.1"), []byte("x")))
	ctx2, cancel2 := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel2()
	dg, err := b.Recv(ctx2)
	require.NoError(t, err)
	assert.Equal(t, "x", string(dg.Data))
}

func TestUDPTransportClosed(t *testing.T) {
	_, b := newLoopbackPair(t)
	require.NoError(t, b.Close())
	_, err := b.Recv(context.Background())
	assert.True(t, errors.Is(err, net.ErrClosed))
}
