package quicpipe

import (
	"net"
	"time"

	"github.com/quic-go/quic-go"
)

// streamConn adapts a quic.Stream (which has no LocalAddr/RemoteAddr of
// its own) to net.Conn so it can back a hashicorp/yamux session, the same
// way the teacher's mux/yamux wrapper expects a net.Conn.
type streamConn struct {
	quic.Stream
	qconn quic.Connection
}

func (s *streamConn) LocalAddr() net.Addr  { return s.qconn.LocalAddr() }
func (s *streamConn) RemoteAddr() net.Addr { return s.qconn.RemoteAddr() }

func (s *streamConn) SetDeadline(t time.Time) error {
	return s.Stream.SetDeadline(t)
}
