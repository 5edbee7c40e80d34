package rpcendpoint

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/zonemesh/rpc/authz"
	"github.com/zonemesh/rpc/observability"
	"github.com/zonemesh/rpc/psk"
	"github.com/zonemesh/rpc/transport"
	"github.com/zonemesh/rpc/wire"
)

// ServerState is the server-side connection's lifecycle.
type ServerState int32

const (
	ServerStateNew ServerState = iota
	ServerStateAwaitingHandshake
	ServerStateAuthenticated
	ServerStateClosing
	ServerStateClosed
)

// ServerConnection is the server-side half of one RPC connection: a
// single-threaded actor serializing every inbound datagram, state
// transition, invoker dispatch, and outbound send for that connection.
// Adapted from the teacher's endpoint.session's sync.Once-guarded Close
// and keepalive-ticker shape, generalized from a yamux stream session to
// a wire.Message/psk.Session pair over one transport.Adapter handle.
type ServerConnection struct {
	wireConn
	cfg serverConfig

	id string

	state atomic.Int32

	streams       *serverStreamTable
	lastHeartbeat atomic.Int64 // unix nanos

	inbox chan []byte
	done  chan struct{}

	closeOnce sync.Once
	closeErr  error
}

// NewServerConnection wraps an already-connected transport handle (and,
// if PSK is enabled, an already-Established session) in a server-side RPC
// connection actor and starts its processing goroutine.
func NewServerConnection(adapter transport.Adapter, handle transport.Handle, session *psk.Session, opts ...ServerOption) *ServerConnection {
	cfg := defaultServerConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	c := &ServerConnection{
		wireConn: wireConn{handle: handle, adapter: adapter, session: session, mode: cfg.deliveryMode, channel: cfg.channel},
		cfg:      cfg,
		id:       uuid.NewString(),
		streams:  newServerStreamTable(),
		inbox:    make(chan []byte, cfg.inboxSize),
		done:     make(chan struct{}),
	}
	c.state.Store(int32(ServerStateNew))
	c.lastHeartbeat.Store(time.Now().UnixNano())
	go c.run()
	return c
}

// ID is a per-process-unique identifier for this connection, used in
// authorization denial logs and router bookkeeping.
func (c *ServerConnection) ID() string { return c.id }

// State returns the connection's current lifecycle state.
func (c *ServerConnection) State() ServerState { return ServerState(c.state.Load()) }

// Deliver feeds one inbound transport payload to the connection's actor
// goroutine. It is the callback an owner registers with the transport
// adapter's OnReceive for this handle.
func (c *ServerConnection) Deliver(data []byte) {
	select {
	case c.inbox <- data:
	case <-c.done:
	}
}

func (c *ServerConnection) run() {
	for {
		select {
		case data := <-c.inbox:
			c.handle1(data)
		case <-c.done:
			return
		}
	}
}

func (c *ServerConnection) handle1(data []byte) {
	msg, err := c.decode(data)
	if err != nil {
		// MalformedMessage / replay / decrypt failures are dropped silently
		// per the record layer's and codec's own contracts.
		return
	}
	c.lastHeartbeat.Store(time.Now().UnixNano())

	state := c.State()
	if state != ServerStateAuthenticated {
		hs, ok := msg.(*wire.Handshake)
		if !ok {
			// ProtocolViolation: anything but Handshake before Authenticated.
			c.Close()
			return
		}
		c.handleHandshake(hs)
		return
	}

	switch m := msg.(type) {
	case *wire.Request:
		c.handleRequest(m)
	case *wire.AsyncEnumerableRequest:
		c.handleStreamRequest(m)
	case *wire.AsyncEnumerableCancel:
		c.streams.cancel(m.StreamID)
	case *wire.Heartbeat:
		_ = c.send(&wire.Heartbeat{Header: freshHeader(), SourceID: c.cfg.serverID})
	default:
		// Unknown or out-of-order message for an Authenticated connection;
		// ignore rather than tearing down on a forward-compatible extra type.
	}
}

func (c *ServerConnection) handleHandshake(hs *wire.Handshake) {
	if hs.ProtocolVersion != ProtocolVersion {
		c.Close()
		return
	}
	c.state.Store(int32(ServerStateAuthenticated))
	ack := &wire.HandshakeAck{
		Header:          freshHeader(),
		ServerID:        c.cfg.serverID,
		ProtocolVersion: ProtocolVersion,
		Manifest:        c.cfg.manifest,
		ZoneID:          c.cfg.zoneID,
		ZoneToServer:    c.cfg.zoneToServer,
	}
	_ = c.send(ack)
}

func (c *ServerConnection) handleRequest(req *wire.Request) {
	start := time.Now()
	authCtx := authz.Context{
		ConnectionID:  c.id,
		RequestID:     req.MessageID.String(),
		InterfaceType: req.InterfaceType,
		MethodName:    methodName(req.MethodID),
		Identity:      c.identity(),
	}
	attrs := c.cfg.invokers.Attributes(req.InterfaceType, req.MethodID)
	decision := c.cfg.authz.Authorize(authCtx, attrs)
	if !decision.Allowed {
		c.cfg.observer.ServerRequest(observability.RequestResultDenied, time.Since(start))
		c.respond(req.MessageID, false, nil, "unauthorized: "+decision.Reason)
		return
	}

	invoker, ok := c.cfg.invokers.TryGetInvoker(req.InterfaceType, req.MethodID)
	if !ok {
		c.cfg.observer.ServerRequest(observability.RequestResultMethodNotFound, time.Since(start))
		c.respond(req.MessageID, false, nil, "method not found")
		return
	}

	ctx := context.Background()
	if req.TimeoutMs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(req.TimeoutMs)*time.Millisecond)
		defer cancel()
	}
	result, err := invoker.Invoke(ctx, req.Grain, req.Arguments, authCtx)
	if err != nil {
		c.cfg.observer.ServerRequest(observability.RequestResultInvokerError, time.Since(start))
		c.respond(req.MessageID, false, nil, err.Error())
		return
	}
	c.cfg.observer.ServerRequest(observability.RequestResultOK, time.Since(start))
	c.respond(req.MessageID, true, result, "")
}

func (c *ServerConnection) respond(requestID uuid.UUID, success bool, payload []byte, errMessage string) {
	_ = c.send(&wire.Response{
		Header:       freshHeader(),
		RequestID:    requestID,
		Success:      success,
		Payload:      payload,
		ErrorMessage: errMessage,
	})
}

func (c *ServerConnection) handleStreamRequest(req *wire.AsyncEnumerableRequest) {
	authCtx := authz.Context{
		ConnectionID:  c.id,
		RequestID:     req.MessageID.String(),
		InterfaceType: req.InterfaceType,
		MethodName:    methodName(req.MethodID),
		Identity:      c.identity(),
	}
	attrs := c.cfg.invokers.Attributes(req.InterfaceType, req.MethodID)
	decision := c.cfg.authz.Authorize(authCtx, attrs)
	if !decision.Allowed {
		c.emitStreamTerminal(req.StreamID, "unauthorized: "+decision.Reason)
		return
	}
	invoker, ok := c.cfg.invokers.TryGetInvoker(req.InterfaceType, req.MethodID)
	if !ok {
		c.emitStreamTerminal(req.StreamID, "method not found")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.streams.register(req.StreamID, cancel)

	items, err := invoker.InvokeStream(ctx, req.Grain, req.Arguments, authCtx)
	if err != nil {
		cancel()
		c.streams.remove(req.StreamID)
		c.emitStreamTerminal(req.StreamID, err.Error())
		return
	}

	go c.pumpStream(ctx, req.StreamID, items)
}

// pumpStream drains the invoker's item channel onto the wire with a
// strictly monotonic sequence number, stopping early on context
// cancellation (AsyncEnumerableCancel) and always ending with exactly one
// terminal item.
func (c *ServerConnection) pumpStream(ctx context.Context, streamID uuid.UUID, items <-chan StreamItem) {
	defer c.streams.remove(streamID)
	var seq int64
	for {
		select {
		case <-ctx.Done():
			c.emitStreamTerminal(streamID, "")
			return
		case item, ok := <-items:
			if !ok {
				c.emitStreamTerminal(streamID, "")
				return
			}
			if item.Err != nil {
				c.emitStreamTerminal(streamID, item.Err.Error())
				return
			}
			_ = c.send(&wire.AsyncEnumerableItem{
				Header:   freshHeader(),
				StreamID: streamID,
				Sequence: seq,
				ItemData: item.Data,
			})
			c.cfg.observer.StreamItem()
			seq++
		}
	}
}

func (c *ServerConnection) emitStreamTerminal(streamID uuid.UUID, errMessage string) {
	_ = c.send(&wire.AsyncEnumerableItem{
		Header:       freshHeader(),
		StreamID:     streamID,
		IsComplete:   true,
		ErrorMessage: errMessage,
	})
}

// Close tears down the connection exactly once, releasing the transport
// handle and the PSK session's keys.
func (c *ServerConnection) Close() error {
	c.closeOnce.Do(func() {
		c.state.Store(int32(ServerStateClosed))
		close(c.done)
		if c.session != nil {
			c.session.Close()
		}
		c.closeErr = c.adapter.Close(c.handle)
	})
	return c.closeErr
}

func freshHeader() wire.Header {
	return wire.Header{MessageID: uuid.New(), Timestamp: time.Now()}
}

// methodName is a placeholder label for logging until application code
// supplies a richer method registry with human-readable names; it keeps
// authorization denial logs legible without requiring every Invoker to
// carry a name table.
func methodName(methodID int32) string {
	return "method#" + strconv.Itoa(int(methodID))
}

// identity returns the PSK-authenticated identity for this connection, or
// the zero Identity (anonymous) when PSK is disabled.
func (c *ServerConnection) identity() psk.Identity {
	if c.session == nil {
		return psk.Identity{}
	}
	return c.session.Identity()
}
