package rpcendpoint

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zonemesh/rpc/rpcerr"
)

// pendingResult is what a pending request's Future resolves to.
type pendingResult struct {
	payload []byte
	err     error
}

type pendingEntry struct {
	deadline time.Time
	result   chan pendingResult
}

// pendingTable correlates outgoing Request message ids to the channel a
// caller's invoke() is blocked reading from. It is owned by one client
// connection's actor goroutine for inserts/removals triggered by inbound
// messages, but insert/cancel are also called from invoke() itself, so it
// takes its own lock rather than relying on actor single-threading.
type pendingTable struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*pendingEntry
}

func newPendingTable() *pendingTable {
	return &pendingTable{entries: make(map[uuid.UUID]*pendingEntry)}
}

// insert registers a new pending request and returns the channel its
// result will arrive on (buffered so completion never blocks on a reader
// that has already given up via cancellation or timeout).
func (t *pendingTable) insert(id uuid.UUID, timeout time.Duration) *pendingEntry {
	e := &pendingEntry{deadline: time.Now().Add(timeout), result: make(chan pendingResult, 1)}
	t.mu.Lock()
	t.entries[id] = e
	t.mu.Unlock()
	return e
}

// complete resolves a pending entry with a Response's outcome and removes
// it. A miss (unknown or already-resolved request_id) is silently
// ignored — the response may have arrived after a local timeout already
// removed the entry.
func (t *pendingTable) complete(id uuid.UUID, payload []byte, success bool, errMessage string) {
	t.mu.Lock()
	e, ok := t.entries[id]
	if ok {
		delete(t.entries, id)
	}
	t.mu.Unlock()
	if !ok {
		return
	}
	var err error
	if !success {
		err = rpcerr.Wrap(rpcerr.ComponentEndpoint, rpcerr.CodeInvokerError, &invokeError{errMessage})
	}
	e.result <- pendingResult{payload: payload, err: err}
}

// cancelLocal removes id without sending anything on the wire (cancel is
// best-effort on unreliable transports, so the sender-side cancel packet
// is not implemented — only local bookkeeping).
func (t *pendingTable) cancelLocal(id uuid.UUID) {
	t.mu.Lock()
	e, ok := t.entries[id]
	if ok {
		delete(t.entries, id)
	}
	t.mu.Unlock()
	if ok {
		e.result <- pendingResult{err: rpcerr.Wrap(rpcerr.ComponentEndpoint, rpcerr.CodeCanceled, nil)}
	}
}

// scanDeadlines completes every entry whose deadline has passed with
// RequestTimeout and removes it. Called periodically at
// defaults.DeadlineScanInterval granularity.
func (t *pendingTable) scanDeadlines(now time.Time) {
	var expired []*pendingEntry
	t.mu.Lock()
	for id, e := range t.entries {
		if now.After(e.deadline) {
			expired = append(expired, e)
			delete(t.entries, id)
		}
	}
	t.mu.Unlock()

	for _, e := range expired {
		e.result <- pendingResult{err: rpcerr.Wrap(rpcerr.ComponentEndpoint, rpcerr.CodeRequestTimeout, nil)}
	}
}

// failAll completes every outstanding entry with err (used on transport
// disconnect) and empties the table.
func (t *pendingTable) failAll(err error) {
	t.mu.Lock()
	entries := t.entries
	t.entries = make(map[uuid.UUID]*pendingEntry)
	t.mu.Unlock()
	for _, e := range entries {
		e.result <- pendingResult{err: err}
	}
}

type invokeError struct{ message string }

func (e *invokeError) Error() string { return e.message }
