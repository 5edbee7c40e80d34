package psk

import "context"

// PacketTransport is the minimal datagram send/receive contract the
// handshake needs. It is satisfied by a thin adapter over component C3
// (the transport adapter) bound to a single peer.
type PacketTransport interface {
	Send(ctx context.Context, b []byte) error
	Recv(ctx context.Context) ([]byte, error)
}
