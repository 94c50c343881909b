package state

import (
	"context"
	"net/netip"
)

// Datagram is a single message received on a channel.
type Datagram struct {
	From netip.Addr
	Data []byte
}

// Transport carries datagrams on one channel (advertisement or payload) of a node.
// Recv blocks until a datagram arrives or ctx is done, in which case it returns ctx.Err().
type Transport interface {
	Recv(ctx context.Context) (Datagram, error)
	Send(to netip.Addr, data []byte) error
	Close() error
}

// ListenFunc opens the transport for the channel on port, receiving datagrams of at most bufSize bytes.
type ListenFunc func(ctx context.Context, port uint16, bufSize int) (Transport, error)
