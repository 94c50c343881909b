package core

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/netip"
	"time"

	"github.com/encodeous/dvsim/state"
)

// UDPTransport is a channel over a UDP socket. Every node of the network listens on the same port for a given channel.
type UDPTransport struct {
	conn *net.UDPConn
	port uint16
	buf  []byte
}

// ListenUDP binds the channel port on every IPv4 address, with broadcast enabled
func ListenUDP(ctx context.Context, port uint16, bufSize int) (state.Transport, error) {
	lc := net.ListenConfig{Control: controlSocket}
	pc, err := lc.ListenPacket(ctx, "udp4", fmt.Sprintf("0.0.0.0:%d", port))
	if err != nil {
		return nil, fmt.Errorf("failed to listen on udp port %d: %w", port, err)
	}
	return NewUDPTransport(pc.(*net.UDPConn), port, bufSize), nil
}

// NewUDPTransport wraps conn. Datagrams are sent to port on the target address.
func NewUDPTransport(conn *net.UDPConn, port uint16, bufSize int) *UDPTransport {
	return &UDPTransport{
		conn: conn,
		port: port,
		buf:  make([]byte, bufSize),
	}
}

// Recv is not safe for concurrent use, each channel has a single receiver.
func (u *UDPTransport) Recv(ctx context.Context) (state.Datagram, error) {
	if err := ctx.Err(); err != nil {
		return state.Datagram{}, err
	}
	_ = u.conn.SetReadDeadline(time.Time{})
	stop := context.AfterFunc(ctx, func() {
		_ = u.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	n, addr, err := u.conn.ReadFromUDPAddrPort(u.buf)
	if err != nil {
		if ctx.Err() != nil {
			return state.Datagram{}, ctx.Err()
		}
		return state.Datagram{}, err
	}
	return state.Datagram{
		From: addr.Addr().Unmap(),
		Data: bytes.Clone(u.buf[:n]),
	}, nil
}

func (u *UDPTransport) Send(to netip.Addr, data []byte) error {
	_, err := u.conn.WriteToUDPAddrPort(data, netip.AddrPortFrom(to, u.port))
	return err
}

func (u *UDPTransport) Close() error {
	return u.conn.Close()
}
