package wire

import (
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"
)

func hdr() Header {
	return Header{MessageID: uuid.New(), Timestamp: time.UnixMilli(1_700_000_000_123).UTC()}
}

func roundTrip(t *testing.T, msg Message) Message {
	t.Helper()
	b, err := Encode(msg)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := Decode(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return got
}

func TestRoundTripRequest(t *testing.T) {
	msg := &Request{
		Header:         hdr(),
		Grain:          GrainID{GrainType: "IHello", Key: []byte{1, 2, 3}},
		InterfaceType:  "IHello",
		MethodID:       7,
		Arguments:      []byte("World"),
		TimeoutMs:      30000,
		ReturnTypeName: "System.String",
		TargetZoneID:   "z42",
	}
	got, ok := roundTrip(t, msg).(*Request)
	if !ok {
		t.Fatalf("wrong type: %T", got)
	}
	if !reflect.DeepEqual(msg, got) {
		t.Fatalf("round trip mismatch:\n  want %+v\n  got  %+v", msg, got)
	}
}

func TestRoundTripResponse(t *testing.T) {
	msg := &Response{
		Header:       hdr(),
		RequestID:    uuid.New(),
		Success:      true,
		Payload:      []byte("Hello, World!"),
		ErrorMessage: "",
	}
	got, ok := roundTrip(t, msg).(*Response)
	if !ok {
		t.Fatalf("wrong type: %T", got)
	}
	if !reflect.DeepEqual(msg, got) {
		t.Fatalf("round trip mismatch:\n  want %+v\n  got  %+v", msg, got)
	}
}

func TestRoundTripHandshakeAck(t *testing.T) {
	msg := &HandshakeAck{
		Header:          hdr(),
		ServerID:        "s1",
		ProtocolVersion: 1,
		Manifest: Manifest{
			InterfaceToGrain: map[string]string{"IHello": "HelloGrain"},
			GrainProperties: map[string]map[string]string{
				"HelloGrain": {"zone-aware": "true"},
			},
			InterfaceProperties: map[string]map[string]string{
				"IHello": {"client-accessible": "true"},
			},
		},
		ZoneID:       "z1",
		ZoneToServer: map[string]string{"z1": "s1", "z2": "s2"},
	}
	got, ok := roundTrip(t, msg).(*HandshakeAck)
	if !ok {
		t.Fatalf("wrong type: %T", got)
	}
	if !reflect.DeepEqual(msg, got) {
		t.Fatalf("round trip mismatch:\n  want %+v\n  got  %+v", msg, got)
	}
}

func TestRoundTripHeartbeat(t *testing.T) {
	msg := &Heartbeat{Header: hdr(), SourceID: "server-1"}
	got, ok := roundTrip(t, msg).(*Heartbeat)
	if !ok {
		t.Fatalf("wrong type: %T", got)
	}
	if !reflect.DeepEqual(msg, got) {
		t.Fatalf("round trip mismatch:\n  want %+v\n  got  %+v", msg, got)
	}
}

func TestRoundTripAsyncEnumerable(t *testing.T) {
	streamID := uuid.New()
	req := &AsyncEnumerableRequest{
		Header:        hdr(),
		Grain:         GrainID{GrainType: "ICounter", Key: []byte("k")},
		InterfaceType: "ICounter",
		MethodID:      2,
		Arguments:     []byte("args"),
		StreamID:      streamID,
	}
	gotReq, ok := roundTrip(t, req).(*AsyncEnumerableRequest)
	if !ok || !reflect.DeepEqual(req, gotReq) {
		t.Fatalf("async enumerable request mismatch: %+v vs %+v", req, gotReq)
	}

	item := &AsyncEnumerableItem{
		Header:       hdr(),
		StreamID:     streamID,
		Sequence:     2,
		ItemData:     []byte("item"),
		IsComplete:   false,
		ErrorMessage: "",
	}
	gotItem, ok := roundTrip(t, item).(*AsyncEnumerableItem)
	if !ok || !reflect.DeepEqual(item, gotItem) {
		t.Fatalf("async enumerable item mismatch: %+v vs %+v", item, gotItem)
	}

	cancel := &AsyncEnumerableCancel{Header: hdr(), StreamID: streamID}
	gotCancel, ok := roundTrip(t, cancel).(*AsyncEnumerableCancel)
	if !ok || !reflect.DeepEqual(cancel, gotCancel) {
		t.Fatalf("async enumerable cancel mismatch: %+v vs %+v", cancel, gotCancel)
	}
}

// TestReferenceTableIsolation verifies property #2: two successive encodes
// of an identical message produce byte-for-byte identical output, because
// each Encode call starts from a fresh reference table rather than one
// shared across calls.
func TestReferenceTableIsolation(t *testing.T) {
	build := func() Message {
		return &Request{
			Header:        hdr(),
			Grain:         GrainID{GrainType: "IHello", Key: []byte("abc")},
			InterfaceType: "IHello",
			Arguments:     []byte("abc"),
		}
	}
	msg1 := build()
	msg1.(*Request).Header.MessageID = uuid.Nil
	msg1.(*Request).Header.Timestamp = time.UnixMilli(0).UTC()
	msg2 := build()
	msg2.(*Request).Header.MessageID = uuid.Nil
	msg2.(*Request).Header.Timestamp = time.UnixMilli(0).UTC()

	b1, err := Encode(msg1)
	if err != nil {
		t.Fatalf("encode 1: %v", err)
	}
	b2, err := Encode(msg2)
	if err != nil {
		t.Fatalf("encode 2: %v", err)
	}
	if !reflect.DeepEqual(b1, b2) {
		t.Fatalf("expected identical encodings across independent calls, got %x vs %x", b1, b2)
	}

	// Within one message, a repeated string (InterfaceType == GrainType
	// == "IHello") must still decode back to its literal value via a
	// Reference, not leak into decoding msg2 independently.
	got, err := Decode(b2)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	req := got.(*Request)
	if req.InterfaceType != "IHello" || req.Grain.GrainType != "IHello" {
		t.Fatalf("reference resolution broken: %+v", req)
	}
}

// TestUnknownFieldSkipped verifies property #1's forward-compatibility
// clause: an unrecognized field id is skipped, not rejected.
func TestUnknownFieldSkipped(t *testing.T) {
	msg := &Heartbeat{Header: hdr(), SourceID: "s1"}
	b, err := Encode(msg)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	// Splice an extra unknown varint field (id delta 5 from the last
	// written field id) in before the terminal marker (last byte).
	extra := []byte{5, byte(wireVarint), 42}
	patched := append(append([]byte(nil), b[:len(b)-1]...), extra...)
	patched = append(patched, 0) // new terminal marker

	got, err := Decode(patched)
	if err != nil {
		t.Fatalf("decode with unknown field: %v", err)
	}
	hb, ok := got.(*Heartbeat)
	if !ok || hb.SourceID != "s1" {
		t.Fatalf("unexpected decode result: %+v", got)
	}
}

func TestDecodeRejectsTruncatedInput(t *testing.T) {
	msg := &Heartbeat{Header: hdr(), SourceID: "s1"}
	b, err := Encode(msg)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := Decode(b[:len(b)-3]); err == nil {
		t.Fatalf("expected MalformedMessage on truncated input")
	}
}

func TestDecodeRejectsUnknownTopLevelTag(t *testing.T) {
	msg := &Heartbeat{Header: hdr(), SourceID: "s1"}
	b, err := Encode(msg)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	b[0] = 0xEE
	if _, err := Decode(b); err == nil {
		t.Fatalf("expected MalformedMessage on unknown tag")
	}
}
