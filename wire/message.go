// Package wire implements the tagged delta-field binary codec (component
// C1): encode/decode of the RPC message union to and from the bytes that
// cross the transport adapter (or, once a PSK session is established, the
// plaintext inside an encrypted record).
//
// The format is adapted from the teacher's framing primitives (internal/bin
// fixed-width helpers, length-prefixed payloads) generalized to a tagged,
// delta-field scheme: each field is a (field_id_delta, wire_type, value)
// triple, collections carry a count field followed by repeated elements,
// and an explicit per-message reference table deduplicates repeated string
// values. Field ids start at 0 in declaration order; the source's "starts
// at 2" anomaly is not emulated (see DESIGN.md).
package wire

import (
	"time"

	"github.com/google/uuid"
)

// MessageType is the one-byte leading tag identifying which RpcMessage
// variant follows.
type MessageType byte

const (
	TypeRequest                MessageType = 1
	TypeResponse                MessageType = 2
	TypeHeartbeat               MessageType = 3
	TypeHandshake               MessageType = 4
	TypeHandshakeAck            MessageType = 5
	TypeAsyncEnumerableRequest  MessageType = 6
	TypeAsyncEnumerableItem     MessageType = 7
	TypeAsyncEnumerableCancel   MessageType = 8
)

// Header carries the fields common to every RpcMessage variant.
type Header struct {
	MessageID uuid.UUID
	Timestamp time.Time
}

// GrainID identifies a remote object as an ordered (grain_type, key) pair.
type GrainID struct {
	GrainType string
	Key       []byte
}

// Message is implemented by every concrete RpcMessage variant.
type Message interface {
	Type() MessageType
	header() Header
}

// Handshake is the client's opening RPC message, sent once the PSK session
// (if any) has reached Established.
type Handshake struct {
	Header
	ClientID        string
	ProtocolVersion int32
	Features        []string
}

func (m *Handshake) Type() MessageType { return TypeHandshake }
func (m *Handshake) header() Header    { return m.Header }

// Manifest is the server-to-client binding of interface types to grain
// types, sent once per session inside HandshakeAck.
type Manifest struct {
	InterfaceToGrain    map[string]string
	GrainProperties     map[string]map[string]string
	InterfaceProperties map[string]map[string]string
}

// HandshakeAck completes the RPC-level handshake.
type HandshakeAck struct {
	Header
	ServerID        string
	ProtocolVersion int32
	Manifest        Manifest
	ZoneID          string // empty means "not set"
	ZoneToServer    map[string]string
}

func (m *HandshakeAck) Type() MessageType { return TypeHandshakeAck }
func (m *HandshakeAck) header() Header    { return m.Header }

// Request invokes a method on a grain.
type Request struct {
	Header
	Grain          GrainID
	InterfaceType  string
	MethodID       int32
	Arguments      []byte
	TimeoutMs      int32
	ReturnTypeName string
	TargetZoneID   string // empty means "not set"
}

func (m *Request) Type() MessageType { return TypeRequest }
func (m *Request) header() Header    { return m.Header }

// Response answers a prior Request, correlated by RequestID.
type Response struct {
	Header
	RequestID    uuid.UUID
	Success      bool
	Payload      []byte
	ErrorMessage string
}

func (m *Response) Type() MessageType { return TypeResponse }
func (m *Response) header() Header    { return m.Header }

// Heartbeat is an unreliable liveness ping/pong.
type Heartbeat struct {
	Header
	SourceID string
}

func (m *Heartbeat) Type() MessageType { return TypeHeartbeat }
func (m *Heartbeat) header() Header    { return m.Header }

// AsyncEnumerableRequest opens a lazy item stream.
type AsyncEnumerableRequest struct {
	Header
	Grain         GrainID
	InterfaceType string
	MethodID      int32
	Arguments     []byte
	StreamID      uuid.UUID
}

func (m *AsyncEnumerableRequest) Type() MessageType { return TypeAsyncEnumerableRequest }
func (m *AsyncEnumerableRequest) header() Header    { return m.Header }

// AsyncEnumerableItem delivers one element of a stream, or a terminal
// marker when IsComplete is set.
type AsyncEnumerableItem struct {
	Header
	StreamID     uuid.UUID
	Sequence     int64
	ItemData     []byte
	IsComplete   bool
	ErrorMessage string
}

func (m *AsyncEnumerableItem) Type() MessageType { return TypeAsyncEnumerableItem }
func (m *AsyncEnumerableItem) header() Header    { return m.Header }

// AsyncEnumerableCancel requests early termination of a stream.
type AsyncEnumerableCancel struct {
	Header
	StreamID uuid.UUID
}

func (m *AsyncEnumerableCancel) Type() MessageType { return TypeAsyncEnumerableCancel }
func (m *AsyncEnumerableCancel) header() Header    { return m.Header }
