// Package quicpipe is the concrete C3 transport adapter: QUIC's unreliable
// datagram extension for Unreliable/UnreliableSequenced sends, and a
// hashicorp/yamux session multiplexed over one long-lived reliable QUIC
// stream for ReliableOrdered/ReliableUnordered sends. It is adapted from
// the teacher's mux/yamux wrapper (same yamux.Client/yamux.Server
// construction) generalized to run atop a QUIC stream instead of a plain
// net.Conn, and from the teacher's client/dial.go dial-with-timeout shape.
package quicpipe

import (
	"context"
	"crypto/tls"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/yamux"
	"github.com/quic-go/quic-go"

	"github.com/zonemesh/rpc/internal/bin"
	"github.com/zonemesh/rpc/internal/defaults"
	"github.com/zonemesh/rpc/rpcerr"
	"github.com/zonemesh/rpc/transport"
)

// MaxDatagramSize bounds a single unreliable send's payload, excluding the
// one-byte datagram tag (and, for UnreliableSequenced, the 8-byte sequence
// that follows it); QUIC datagrams larger than the path MTU are rejected
// by the local stack before they are ever sent.
const MaxDatagramSize = 1200

// Datagram tags distinguish the two unreliable modes on the wire, since
// both share the same QUIC datagram stream: a plain Unreliable send
// carries no sequence, while UnreliableSequenced prefixes an 8-byte
// monotonic counter so the receiver can drop stale arrivals.
const (
	datagramTagUnreliable byte = 0
	datagramTagSequenced  byte = 1

	datagramHeaderLen         = 1
	sequencedDatagramHeaderLen = datagramHeaderLen + 8
)

// Config configures a quicpipe Adapter.
type Config struct {
	TLSConfig *tls.Config
	QUICConfig *quic.Config
}

func defaultQUICConfig() *quic.Config {
	return &quic.Config{
		EnableDatagrams:      true,
		HandshakeIdleTimeout: defaults.ConnectTimeout,
		KeepAlivePeriod:      defaults.HeartbeatInterval,
	}
}

// Adapter implements transport.Adapter over QUIC connections, one yamux
// session per connection for the reliable delivery modes.
type Adapter struct {
	cfg Config

	mu          sync.Mutex
	conns       map[transport.Handle]*quicConn
	nextHandle  atomic.Uint64
	onReceive   transport.ReceiveFunc
	onDisconnect transport.DisconnectFunc
}

type quicConn struct {
	qconn quic.Connection
	// reliable is the yamux session over the single QUIC stream; adopt
	// starts opening (dialer) or accepting (listener) that stream right
	// away, and reliable sends made before it is set fail.
	mu       sync.Mutex
	reliable *yamux.Session
	// orderedStreams holds one yamux stream per channel id for
	// ReliableOrdered sends, keyed by transport.Channel.
	orderedStreams map[transport.Channel]*yamux.Stream

	// outboundSeq is the last UnreliableSequenced tag sent on this
	// connection (0 before the first send).
	outboundSeq atomic.Uint64
	// lastDeliveredSeq is the highest UnreliableSequenced tag delivered to
	// onReceive so far; arrivals tagged at or below it are stale and
	// dropped. Starts at 0 meaning "none delivered yet" (tags start at 1).
	lastDeliveredSeq atomic.Uint64
}

// NewAdapter constructs a quicpipe Adapter. cfg.TLSConfig must be set; TLS
// is mandatory for QUIC regardless of whether the PSK layer (C2) is also
// in use above it.
func NewAdapter(cfg Config) *Adapter {
	if cfg.QUICConfig == nil {
		cfg.QUICConfig = defaultQUICConfig()
	}
	return &Adapter{cfg: cfg, conns: make(map[transport.Handle]*quicConn)}
}

func (a *Adapter) OnReceive(fn transport.ReceiveFunc)       { a.onReceive = fn }
func (a *Adapter) OnDisconnect(fn transport.DisconnectFunc) { a.onDisconnect = fn }

// Connect dials endpoint over QUIC/UDP and waits for the handshake to
// complete, then starts the background readers for unreliable datagrams
// and inbound reliable streams.
func (a *Adapter) Connect(ctx context.Context, endpoint string) (transport.Handle, error) {
	qconn, err := quic.DialAddr(ctx, endpoint, a.cfg.TLSConfig, a.cfg.QUICConfig)
	if err != nil {
		return 0, rpcerr.Wrap(rpcerr.ComponentTransport, rpcerr.CodeTransportDisconnected, err)
	}
	return a.adopt(qconn, true), nil
}

// Accept registers an already-established inbound QUIC connection (from a
// quic.Listener.Accept loop the caller drives) and returns its handle.
func (a *Adapter) Accept(qconn quic.Connection) transport.Handle {
	return a.adopt(qconn, false)
}

func (a *Adapter) adopt(qconn quic.Connection, dialer bool) transport.Handle {
	h := transport.Handle(a.nextHandle.Add(1))
	c := &quicConn{qconn: qconn, orderedStreams: make(map[transport.Channel]*yamux.Stream)}

	a.mu.Lock()
	a.conns[h] = c
	a.mu.Unlock()

	go a.readDatagrams(h, c)
	if dialer {
		go a.acceptReliableStream(h, c)
	} else {
		go a.awaitReliableStream(h, c)
	}
	return h
}

// awaitReliableStream is the accepting side's counterpart to
// acceptReliableStream: it waits for the single QUIC stream the dialer
// opens to carry the yamux session.
func (a *Adapter) awaitReliableStream(h transport.Handle, c *quicConn) {
	stream, err := c.qconn.AcceptStream(context.Background())
	if err != nil {
		a.disconnect(h, err)
		return
	}
	a.adoptReliableStream(h, c, stream)
}

// readDatagrams strips each arriving datagram's tag byte and, for
// UnreliableSequenced, its 8-byte monotonic sequence: an arrival whose
// sequence is not strictly greater than the last one delivered is older
// than what the receiver has already seen and is dropped rather than
// handed to onReceive.
func (a *Adapter) readDatagrams(h transport.Handle, c *quicConn) {
	for {
		raw, err := c.qconn.ReceiveDatagram(context.Background())
		if err != nil {
			a.disconnect(h, err)
			return
		}
		if len(raw) < datagramHeaderLen {
			continue
		}
		switch raw[0] {
		case datagramTagSequenced:
			if len(raw) < sequencedDatagramHeaderLen {
				continue
			}
			seq := bin.U64BE(raw[datagramHeaderLen:sequencedDatagramHeaderLen])
			if !bumpIfNewer(&c.lastDeliveredSeq, seq) {
				continue
			}
			if a.onReceive != nil {
				a.onReceive(h, raw[sequencedDatagramHeaderLen:])
			}
		default:
			if a.onReceive != nil {
				a.onReceive(h, raw[datagramHeaderLen:])
			}
		}
	}
}

// bumpIfNewer atomically advances last to seq and reports true, unless seq
// is not strictly greater than the value already stored, in which case it
// reports false and leaves last untouched.
func bumpIfNewer(last *atomic.Uint64, seq uint64) bool {
	for {
		prev := last.Load()
		if seq <= prev {
			return false
		}
		if last.CompareAndSwap(prev, seq) {
			return true
		}
	}
}

// acceptReliableStream runs on the dialing side: it opens the single
// bidirectional QUIC stream that carries this connection's yamux session,
// starts a yamux client over it, then accepts yamux streams and dispatches
// each fully-read frame to onReceive. The listening side waits for that
// stream in awaitReliableStream.
func (a *Adapter) acceptReliableStream(h transport.Handle, c *quicConn) {
	stream, err := c.qconn.OpenStreamSync(context.Background())
	if err != nil {
		a.disconnect(h, err)
		return
	}
	sess, err := yamux.Client(&streamConn{Stream: stream, qconn: c.qconn}, yamux.DefaultConfig())
	if err != nil {
		a.disconnect(h, err)
		return
	}
	c.mu.Lock()
	c.reliable = sess
	c.mu.Unlock()
	a.serveYamux(h, sess)
}

// adoptReliableStream is the accepting-side counterpart, invoked once the
// peer's reliable QUIC stream arrives.
func (a *Adapter) adoptReliableStream(h transport.Handle, c *quicConn, stream quic.Stream) {
	sess, err := yamux.Server(&streamConn{Stream: stream, qconn: c.qconn}, yamux.DefaultConfig())
	if err != nil {
		a.disconnect(h, err)
		return
	}
	c.mu.Lock()
	c.reliable = sess
	c.mu.Unlock()
	a.serveYamux(h, sess)
}

func (a *Adapter) serveYamux(h transport.Handle, sess *yamux.Session) {
	for {
		s, err := sess.AcceptStream()
		if err != nil {
			return
		}
		go a.readFramedStream(h, s)
	}
}

// readFramedStream reads length-prefixed frames off a yamux stream and
// hands each whole frame to onReceive, so the RPC core never sees
// fragmentation regardless of delivery mode.
func (a *Adapter) readFramedStream(h transport.Handle, s *yamux.Stream) {
	for {
		frame, err := readFrame(s)
		if err != nil {
			return
		}
		if a.onReceive != nil {
			a.onReceive(h, frame)
		}
	}
}

func (a *Adapter) disconnect(h transport.Handle, err error) {
	a.mu.Lock()
	_, ok := a.conns[h]
	delete(a.conns, h)
	a.mu.Unlock()
	if ok && a.onDisconnect != nil {
		a.onDisconnect(h, err)
	}
}

// Send routes data according to mode: QUIC datagrams for the two
// unreliable modes, a yamux stream for the two reliable modes.
func (a *Adapter) Send(handle transport.Handle, data []byte, mode transport.DeliveryMode, channel transport.Channel) error {
	a.mu.Lock()
	c, ok := a.conns[handle]
	a.mu.Unlock()
	if !ok {
		return rpcerr.Wrap(rpcerr.ComponentTransport, rpcerr.CodeTransportDisconnected, nil)
	}

	switch mode {
	case transport.Unreliable:
		if len(data) > MaxDatagramSize {
			return rpcerr.Wrap(rpcerr.ComponentTransport, rpcerr.CodeMtuExceeded, nil)
		}
		datagram := make([]byte, datagramHeaderLen+len(data))
		datagram[0] = datagramTagUnreliable
		copy(datagram[datagramHeaderLen:], data)
		if err := c.qconn.SendDatagram(datagram); err != nil {
			return rpcerr.Wrap(rpcerr.ComponentTransport, rpcerr.CodeSendBufferFull, err)
		}
		return nil
	case transport.UnreliableSequenced:
		if len(data) > MaxDatagramSize {
			return rpcerr.Wrap(rpcerr.ComponentTransport, rpcerr.CodeMtuExceeded, nil)
		}
		datagram := make([]byte, sequencedDatagramHeaderLen+len(data))
		datagram[0] = datagramTagSequenced
		seq := c.outboundSeq.Add(1)
		bin.PutU64BE(datagram[datagramHeaderLen:sequencedDatagramHeaderLen], seq)
		copy(datagram[sequencedDatagramHeaderLen:], data)
		if err := c.qconn.SendDatagram(datagram); err != nil {
			return rpcerr.Wrap(rpcerr.ComponentTransport, rpcerr.CodeSendBufferFull, err)
		}
		return nil
	case transport.ReliableOrdered:
		s, err := a.orderedStream(c, channel)
		if err != nil {
			return err
		}
		return writeFrame(s, data)
	case transport.ReliableUnordered:
		c.mu.Lock()
		sess := c.reliable
		c.mu.Unlock()
		if sess == nil {
			return rpcerr.Wrap(rpcerr.ComponentTransport, rpcerr.CodeTransportDisconnected, nil)
		}
		s, err := sess.OpenStream()
		if err != nil {
			return rpcerr.Wrap(rpcerr.ComponentTransport, rpcerr.CodeSendBufferFull, err)
		}
		defer s.Close()
		return writeFrame(s, data)
	default:
		return fmt.Errorf("unknown delivery mode %d", mode)
	}
}

// orderedStream returns the long-lived yamux stream for channel, opening
// one on first use.
func (a *Adapter) orderedStream(c *quicConn, channel transport.Channel) (*yamux.Stream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.orderedStreams[channel]; ok {
		return s, nil
	}
	if c.reliable == nil {
		return nil, rpcerr.Wrap(rpcerr.ComponentTransport, rpcerr.CodeTransportDisconnected, nil)
	}
	s, err := c.reliable.OpenStream()
	if err != nil {
		return nil, rpcerr.Wrap(rpcerr.ComponentTransport, rpcerr.CodeSendBufferFull, err)
	}
	c.orderedStreams[channel] = s
	return s, nil
}

// Close tears down the QUIC connection and its yamux session.
func (a *Adapter) Close(handle transport.Handle) error {
	a.mu.Lock()
	c, ok := a.conns[handle]
	delete(a.conns, handle)
	a.mu.Unlock()
	if !ok {
		return nil
	}
	c.mu.Lock()
	if c.reliable != nil {
		_ = c.reliable.Close()
	}
	c.mu.Unlock()
	return c.qconn.CloseWithError(0, "closed")
}
