// Package transport defines the delivery-mode abstraction (component C3):
// the seam between the RPC endpoint (C4) and whatever datagram fabric
// actually moves bytes. transport/quicpipe provides the concrete QUIC +
// yamux adapter; this package also provides an in-memory adapter for
// endpoint/router tests that don't want a real socket.
package transport

import (
	"context"

	"github.com/zonemesh/rpc/rpcerr"
)

// DeliveryMode selects how a single Send is carried across the wire.
type DeliveryMode int

const (
	// Unreliable sends carry no delivery or ordering guarantee.
	Unreliable DeliveryMode = iota
	// UnreliableSequenced drops arrivals older than the last delivered one.
	UnreliableSequenced
	// ReliableUnordered is delivered exactly once but may arrive out of
	// order relative to other reliable sends.
	ReliableUnordered
	// ReliableOrdered is delivered exactly once, in order, relative to
	// other sends on the same Channel.
	ReliableOrdered
)

// Channel names a reliable-ordered stream. Two sends with the same Channel
// on the same connection are delivered in the order they were sent; sends
// on different channels carry no relative ordering guarantee.
type Channel string

// Handle opaquely identifies one established connection.
type Handle uint64

// ReceiveFunc is invoked once per whole message received on handle. The
// adapter reassembles any fragmentation before calling this; RPC code
// never sees partial messages.
type ReceiveFunc func(handle Handle, data []byte)

// DisconnectFunc is invoked once when a connection is lost, after which no
// further ReceiveFunc calls occur for that handle.
type DisconnectFunc func(handle Handle, err error)

// Adapter is the contract component C4 drives: connect, send with a
// per-call delivery mode, receive whole messages via callback, and close.
// MTU handling, acknowledgment, retransmission, and fragmentation of
// reliable payloads are the adapter's responsibility; callers never see
// that machinery.
type Adapter interface {
	// Connect dials endpoint and returns once the underlying transport
	// reports the session established.
	Connect(ctx context.Context, endpoint string) (Handle, error)
	// Send hands data off to the transport's send queue under mode. For
	// ReliableOrdered, channel selects which ordered stream to use.
	Send(handle Handle, data []byte, mode DeliveryMode, channel Channel) error
	// OnReceive registers the callback invoked for whole messages
	// arriving on any handle this adapter owns. Must be called before
	// traffic is expected; only one callback is retained.
	OnReceive(fn ReceiveFunc)
	// OnDisconnect registers the callback invoked when a connection is
	// lost.
	OnDisconnect(fn DisconnectFunc)
	// Close tears down handle. Idempotent.
	Close(handle Handle) error
}

// errDisconnected, errSendBufferFull, and errMtuExceeded are the transport
// failure surfaces named in spec.md §4.3; adapters in this package
// construct them via these unexported helpers so callers get a consistent
// rpcerr.Code.
func errDisconnected(cause error) error {
	return rpcerr.Wrap(rpcerr.ComponentTransport, rpcerr.CodeTransportDisconnected, cause)
}

func errSendBufferFull() error {
	return rpcerr.Wrap(rpcerr.ComponentTransport, rpcerr.CodeSendBufferFull, nil)
}

func errMtuExceeded() error {
	return rpcerr.Wrap(rpcerr.ComponentTransport, rpcerr.CodeMtuExceeded, nil)
}
