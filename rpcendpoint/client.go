package rpcendpoint

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/zonemesh/rpc/internal/defaults"
	"github.com/zonemesh/rpc/observability"
	"github.com/zonemesh/rpc/psk"
	"github.com/zonemesh/rpc/rpcerr"
	"github.com/zonemesh/rpc/transport"
	"github.com/zonemesh/rpc/wire"
)

// ClientState is the client-side connection's lifecycle.
type ClientState int32

const (
	ClientStateNew ClientState = iota
	ClientStateAwaitingAck
	ClientStateReady
	ClientStateClosed
)

// ClientConnection is the client-side half of one RPC connection. Like
// ServerConnection it is a single-threaded actor for inbound dispatch;
// invoke() and OpenStream are safe to call concurrently from other
// goroutines since they only touch the pending/stream tables, which carry
// their own locks.
type ClientConnection struct {
	wireConn
	cfg clientConfig

	state atomic.Int32

	pending *pendingTable
	streams *clientStreamTable

	manifestMu sync.RWMutex
	manifest   wire.Manifest
	zoneID     string
	zoneMap    map[string]string
	serverID   string

	readyCh chan struct{}
	readyOnce sync.Once

	lastInboundNanos atomic.Int64

	inbox chan []byte
	done  chan struct{}

	closeOnce sync.Once
	closeErr  error
}

// NewClientConnection wraps an already-connected transport handle (and,
// if PSK is enabled, an already-Established session) in a client-side RPC
// connection actor, sends the RPC-level Handshake, and starts background
// processing. The returned connection is not Ready until HandshakeAck
// arrives; invoke() blocks no outbound Request before then (manifest
// gating).
func NewClientConnection(adapter transport.Adapter, handle transport.Handle, session *psk.Session, opts ...ClientOption) *ClientConnection {
	cfg := defaultClientConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	c := &ClientConnection{
		wireConn: wireConn{handle: handle, adapter: adapter, session: session, mode: cfg.deliveryMode, channel: cfg.channel},
		cfg:      cfg,
		pending:  newPendingTable(),
		streams:  newClientStreamTable(),
		readyCh:  make(chan struct{}),
		inbox:    make(chan []byte, cfg.inboxSize),
		done:     make(chan struct{}),
	}
	c.state.Store(int32(ClientStateNew))
	c.lastInboundNanos.Store(time.Now().UnixNano())
	go c.run()
	go c.deadlineScanner()
	go c.heartbeatLoop()

	c.state.Store(int32(ClientStateAwaitingAck))
	_ = c.send(&wire.Handshake{
		Header:          freshHeader(),
		ClientID:        c.cfg.clientID,
		ProtocolVersion: c.cfg.protocolVersion,
		Features:        c.cfg.features,
	})
	return c
}

// State returns the connection's current lifecycle state.
func (c *ClientConnection) State() ClientState { return ClientState(c.state.Load()) }

// Ready returns a channel closed once HandshakeAck has installed the
// manifest and the connection transitions to Ready.
func (c *ClientConnection) Ready() <-chan struct{} { return c.readyCh }

// Deliver feeds one inbound transport payload to the connection's actor
// goroutine, the callback registered with the transport adapter.
func (c *ClientConnection) Deliver(data []byte) {
	select {
	case c.inbox <- data:
	case <-c.done:
	}
}

func (c *ClientConnection) run() {
	for {
		select {
		case data := <-c.inbox:
			c.handle1(data)
		case <-c.done:
			c.pending.failAll(rpcerr.Wrap(rpcerr.ComponentEndpoint, rpcerr.CodeTransportDisconnected, nil))
			c.streams.failAll()
			return
		}
	}
}

func (c *ClientConnection) handle1(data []byte) {
	msg, err := c.decode(data)
	if err != nil {
		return
	}
	c.lastInboundNanos.Store(time.Now().UnixNano())

	switch m := msg.(type) {
	case *wire.HandshakeAck:
		c.handleHandshakeAck(m)
	case *wire.Response:
		c.pending.complete(m.RequestID, m.Payload, m.Success, m.ErrorMessage)
	case *wire.AsyncEnumerableItem:
		c.streams.deliver(m.StreamID, StreamItem{Sequence: m.Sequence, Data: m.ItemData, Err: streamErr(m)}, m.IsComplete)
	case *wire.Heartbeat:
		// inbound traffic already refreshed lastInboundNanos above.
	}
}

func streamErr(m *wire.AsyncEnumerableItem) error {
	if m.IsComplete && m.ErrorMessage != "" {
		return &invokeError{m.ErrorMessage}
	}
	return nil
}

func (c *ClientConnection) handleHandshakeAck(ack *wire.HandshakeAck) {
	c.manifestMu.Lock()
	c.manifest = ack.Manifest
	c.zoneID = ack.ZoneID
	c.zoneMap = ack.ZoneToServer
	c.serverID = ack.ServerID
	c.manifestMu.Unlock()

	c.state.Store(int32(ClientStateReady))
	c.readyOnce.Do(func() { close(c.readyCh) })
}

// Manifest returns the manifest installed by the most recent HandshakeAck.
// Safe to call before Ready (returns the zero value).
func (c *ClientConnection) Manifest() wire.Manifest {
	c.manifestMu.RLock()
	defer c.manifestMu.RUnlock()
	return c.manifest
}

// Invoke sends a unary Request and blocks until Response arrives, the
// deadline passes, the transport disconnects, or ctx is cancelled.
// Enqueues no Request before the connection reaches Ready (manifest
// gating, property #12).
func (c *ClientConnection) Invoke(ctx context.Context, grain wire.GrainID, interfaceType string, methodID int32, args []byte, timeout time.Duration) ([]byte, error) {
	if c.State() != ClientStateReady {
		return nil, errNotReady
	}
	if timeout <= 0 {
		timeout = defaults.RequestTimeout
	}
	start := time.Now()
	id := uuid.New()
	entry := c.pending.insert(id, timeout)

	req := &wire.Request{
		Header:        wire.Header{MessageID: id, Timestamp: start},
		Grain:         grain,
		InterfaceType: interfaceType,
		MethodID:      methodID,
		Arguments:     args,
		TimeoutMs:     int32(timeout / time.Millisecond),
	}
	if err := c.send(req); err != nil {
		c.pending.cancelLocal(id)
		c.cfg.observer.ClientCall(observability.CallResultTransport, time.Since(start))
		return nil, err
	}

	select {
	case res := <-entry.result:
		if res.err != nil {
			c.cfg.observer.ClientCall(classifyErr(res.err), time.Since(start))
			return nil, res.err
		}
		c.cfg.observer.ClientCall(observability.CallResultOK, time.Since(start))
		return res.payload, nil
	case <-ctx.Done():
		c.pending.cancelLocal(id)
		c.cfg.observer.ClientCall(observability.CallResultCanceled, time.Since(start))
		return nil, ctx.Err()
	}
}

func classifyErr(err error) observability.CallResult {
	switch {
	case rpcerr.Is(err, rpcerr.CodeRequestTimeout):
		return observability.CallResultTimeout
	case rpcerr.Is(err, rpcerr.CodeTransportDisconnected):
		return observability.CallResultTransport
	case rpcerr.Is(err, rpcerr.CodeCanceled):
		return observability.CallResultCanceled
	default:
		return observability.CallResultRPCError
	}
}

// OpenStream sends an AsyncEnumerableRequest and returns a channel of
// StreamItem, closed when the server sends its terminal item or the
// connection is lost. Cancel stops consuming and best-effort notifies the
// server via AsyncEnumerableCancel.
func (c *ClientConnection) OpenStream(ctx context.Context, grain wire.GrainID, interfaceType string, methodID int32, args []byte) (<-chan StreamItem, error) {
	if c.State() != ClientStateReady {
		return nil, errNotReady
	}
	streamID := uuid.New()
	ctx, cancel := context.WithCancel(ctx)
	s := c.streams.open(streamID, cancel)

	req := &wire.AsyncEnumerableRequest{
		Header:        freshHeader(),
		Grain:         grain,
		InterfaceType: interfaceType,
		MethodID:      methodID,
		Arguments:     args,
		StreamID:      streamID,
	}
	if err := c.send(req); err != nil {
		cancel()
		return nil, err
	}

	go func() {
		<-ctx.Done()
		_ = c.send(&wire.AsyncEnumerableCancel{Header: freshHeader(), StreamID: streamID})
	}()
	return s.items, nil
}

func (c *ClientConnection) deadlineScanner() {
	t := time.NewTicker(c.cfg.deadlineScan)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			c.pending.scanDeadlines(time.Now())
		case <-c.done:
			return
		}
	}
}

// heartbeatLoop sends Heartbeat every cfg.heartbeatInterval and declares
// the connection lost (closing it) after lossFactor consecutive missed
// intervals with no inbound traffic at all.
func (c *ClientConnection) heartbeatLoop() {
	t := time.NewTicker(c.cfg.heartbeatInterval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			_ = c.send(&wire.Heartbeat{Header: freshHeader(), SourceID: c.cfg.clientID})
			last := time.Unix(0, c.lastInboundNanos.Load())
			if time.Since(last) > time.Duration(c.cfg.lossFactor)*c.cfg.heartbeatInterval {
				c.cfg.observer.HeartbeatTimeout()
				c.Close()
				return
			}
		case <-c.done:
			return
		}
	}
}

// Close tears down the connection exactly once.
func (c *ClientConnection) Close() error {
	c.closeOnce.Do(func() {
		c.state.Store(int32(ClientStateClosed))
		close(c.done)
		if c.session != nil {
			c.session.Close()
		}
		c.closeErr = c.adapter.Close(c.handle)
	})
	return c.closeErr
}
