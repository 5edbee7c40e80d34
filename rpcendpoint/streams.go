package rpcendpoint

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// serverStream tracks one in-flight AsyncEnumerableRequest on the server
// side: cancel stops the invoker's producer goroutine at its next yield
// point once AsyncEnumerableCancel arrives.
type serverStream struct {
	cancel context.CancelFunc
}

// serverStreamTable is owned by one server connection's actor goroutine.
type serverStreamTable struct {
	mu      sync.Mutex
	streams map[uuid.UUID]*serverStream
}

func newServerStreamTable() *serverStreamTable {
	return &serverStreamTable{streams: make(map[uuid.UUID]*serverStream)}
}

func (t *serverStreamTable) register(id uuid.UUID, cancel context.CancelFunc) {
	t.mu.Lock()
	t.streams[id] = &serverStream{cancel: cancel}
	t.mu.Unlock()
}

func (t *serverStreamTable) cancel(id uuid.UUID) {
	t.mu.Lock()
	s, ok := t.streams[id]
	t.mu.Unlock()
	if ok {
		s.cancel()
	}
}

// remove drops the bookkeeping entry once a stream has sent its terminal
// item (successful or erroring).
func (t *serverStreamTable) remove(id uuid.UUID) {
	t.mu.Lock()
	delete(t.streams, id)
	t.mu.Unlock()
}

// StreamItem is one element delivered to a client-side stream consumer, or
// (if Err is set) the terminal notice that the stream has ended.
type StreamItem struct {
	Sequence int64
	Data     []byte
	Err      error
}

// clientStream is the consumer side of one AsyncEnumerableRequest: items
// arrive in Items until a terminal AsyncEnumerableItem closes it.
type clientStream struct {
	items  chan StreamItem
	cancel context.CancelFunc
}

// clientStreamTable is owned by one client connection's actor goroutine
// for inbound dispatch, but Open/Cancel may be called from caller
// goroutines, so it takes its own lock.
type clientStreamTable struct {
	mu      sync.Mutex
	streams map[uuid.UUID]*clientStream
}

func newClientStreamTable() *clientStreamTable {
	return &clientStreamTable{streams: make(map[uuid.UUID]*clientStream)}
}

func (t *clientStreamTable) open(id uuid.UUID, cancel context.CancelFunc) *clientStream {
	s := &clientStream{items: make(chan StreamItem, 16), cancel: cancel}
	t.mu.Lock()
	t.streams[id] = s
	t.mu.Unlock()
	return s
}

// deliver pushes one item and, on a clean terminal (isComplete with no
// Err), simply closes the channel without pushing an empty placeholder
// item. A terminal carrying Err is pushed so the consumer observes the
// failure, then the channel closes.
func (t *clientStreamTable) deliver(id uuid.UUID, item StreamItem, isComplete bool) {
	t.mu.Lock()
	s, ok := t.streams[id]
	if ok && isComplete {
		delete(t.streams, id)
	}
	t.mu.Unlock()
	if !ok {
		return
	}
	if isComplete {
		if item.Err != nil {
			s.items <- item
		}
		close(s.items)
		return
	}
	s.items <- item
}

func (t *clientStreamTable) get(id uuid.UUID) (*clientStream, bool) {
	t.mu.Lock()
	s, ok := t.streams[id]
	t.mu.Unlock()
	return s, ok
}

func (t *clientStreamTable) failAll() {
	t.mu.Lock()
	streams := t.streams
	t.streams = make(map[uuid.UUID]*clientStream)
	t.mu.Unlock()
	for _, s := range streams {
		s.items <- StreamItem{Err: errStreamTransportLost}
		close(s.items)
	}
}
