package transport

import (
	"context"
	"sync"
	"sync/atomic"
)

// MemoryAdapter is an in-memory Adapter test double: Connect pairs two
// MemoryAdapter instances sharing the same registry by endpoint name, and
// Send enqueues onto a buffered channel that a drain goroutine delivers,
// in order, to the peer's ReceiveFunc; Send returns before delivery. It
// ignores DeliveryMode distinctions
// since there is no real network to reorder or drop on.
type MemoryAdapter struct {
	name     string
	registry *memoryRegistry

	mu          sync.Mutex
	handles     map[Handle]*memoryConn
	nextHandle  atomic.Uint64
	onReceive   ReceiveFunc
	onDisconnect DisconnectFunc
}

type memoryConn struct {
	peer   *MemoryAdapter
	peerH  Handle
	closed atomic.Bool
	queue  chan []byte
	done   chan struct{}
}

// memoryRegistry lets independently constructed MemoryAdapters find each
// other by endpoint name, the way a real DNS/listener would.
type memoryRegistry struct {
	mu        sync.Mutex
	listeners map[string]*MemoryAdapter
}

// NewMemoryRegistry creates a fresh namespace for MemoryAdapter endpoints.
// Tests typically create one registry and one MemoryAdapter per simulated
// peer.
func NewMemoryRegistry() *memoryRegistry {
	return &memoryRegistry{listeners: make(map[string]*MemoryAdapter)}
}

// NewMemoryAdapter registers name as listenable within reg and returns an
// Adapter that can both accept connects to name and dial other names.
func NewMemoryAdapter(reg *memoryRegistry, name string) *MemoryAdapter {
	a := &MemoryAdapter{name: name, registry: reg, handles: make(map[Handle]*memoryConn)}
	reg.mu.Lock()
	reg.listeners[name] = a
	reg.mu.Unlock()
	return a
}

func (a *MemoryAdapter) OnReceive(fn ReceiveFunc)       { a.onReceive = fn }
func (a *MemoryAdapter) OnDisconnect(fn DisconnectFunc) { a.onDisconnect = fn }

func (a *MemoryAdapter) Connect(ctx context.Context, endpoint string) (Handle, error) {
	a.registry.mu.Lock()
	peer, ok := a.registry.listeners[endpoint]
	a.registry.mu.Unlock()
	if !ok {
		return 0, errDisconnected(nil)
	}

	h := Handle(a.nextHandle.Add(1))
	peerH := Handle(peer.nextHandle.Add(1))

	c := &memoryConn{queue: make(chan []byte, 256), done: make(chan struct{})}
	pc := &memoryConn{queue: make(chan []byte, 256), done: make(chan struct{})}
	c.peer, c.peerH = peer, peerH
	pc.peer, pc.peerH = a, h

	a.mu.Lock()
	a.handles[h] = c
	a.mu.Unlock()
	peer.mu.Lock()
	peer.handles[peerH] = pc
	peer.mu.Unlock()

	go c.drain(a, h)
	go pc.drain(peer, peerH)
	return h, nil
}

func (c *memoryConn) drain(owner *MemoryAdapter, self Handle) {
	for {
		select {
		case data := <-c.queue:
			if owner.onReceive != nil {
				owner.onReceive(self, data)
			}
		case <-c.done:
			return
		}
	}
}

func (a *MemoryAdapter) Send(handle Handle, data []byte, mode DeliveryMode, channel Channel) error {
	a.mu.Lock()
	c, ok := a.handles[handle]
	a.mu.Unlock()
	if !ok || c.closed.Load() {
		return errDisconnected(nil)
	}
	c.peer.mu.Lock()
	peerConn, ok := c.peer.handles[c.peerH]
	c.peer.mu.Unlock()
	if !ok || peerConn.closed.Load() {
		return errDisconnected(nil)
	}

	cp := append([]byte(nil), data...)
	select {
	case peerConn.queue <- cp:
		return nil
	default:
		return errSendBufferFull()
	}
}

func (a *MemoryAdapter) Close(handle Handle) error {
	a.mu.Lock()
	c, ok := a.handles[handle]
	if ok {
		delete(a.handles, handle)
	}
	a.mu.Unlock()
	if !ok || !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(c.done)
	if a.onDisconnect != nil {
		a.onDisconnect(handle, nil)
	}
	return nil
}
