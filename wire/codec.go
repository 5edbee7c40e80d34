package wire

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/zonemesh/rpc/rpcerr"
)

// Field ids start at 0 in declaration order: the shared Header takes ids 0
// (MessageID) and 1 (Timestamp), and each variant's own fields follow from
// fVariantBase (2) in the struct field order in message.go, a GrainID
// taking two consecutive ids.
const (
	fHeaderMessageID = 0
	fHeaderTimestamp = 1
	fVariantBase     = 2
)

// Encode serializes msg to its wire representation: a one-byte message-type
// tag followed by the tagged delta-field payload. A fresh reference table
// is used for every call, per the package's per-message isolation rule.
func Encode(msg Message) ([]byte, error) {
	refs := newEncodeRefTable()
	w := newFieldWriter(refs)

	hdr := msg.header()
	w.writeBytes(fHeaderMessageID, hdr.MessageID[:])
	w.writeFixed64(fHeaderTimestamp, uint64(hdr.Timestamp.UnixMilli()))

	switch m := msg.(type) {
	case *Handshake:
		w.writeString(fVariantBase, m.ClientID)
		w.writeI32(fVariantBase+1, m.ProtocolVersion)
		writeStringList(w, fVariantBase+2, m.Features)
	case *HandshakeAck:
		w.writeString(fVariantBase, m.ServerID)
		w.writeI32(fVariantBase+1, m.ProtocolVersion)
		child := w.beginRecord(fVariantBase + 2)
		writeManifest(child, m.Manifest)
		w.writeRecord(child)
		w.writeString(fVariantBase+3, m.ZoneID)
		writeStringMap(w, fVariantBase+4, m.ZoneToServer)
	case *Request:
		writeGrainID(w, fVariantBase, m.Grain)
		w.writeString(fVariantBase+2, m.InterfaceType)
		w.writeI32(fVariantBase+3, m.MethodID)
		w.writeBytes(fVariantBase+4, m.Arguments)
		w.writeI32(fVariantBase+5, m.TimeoutMs)
		w.writeString(fVariantBase+6, m.ReturnTypeName)
		w.writeString(fVariantBase+7, m.TargetZoneID)
	case *Response:
		w.writeBytes(fVariantBase, m.RequestID[:])
		w.writeBool(fVariantBase+1, m.Success)
		w.writeBytes(fVariantBase+2, m.Payload)
		w.writeString(fVariantBase+3, m.ErrorMessage)
	case *Heartbeat:
		w.writeString(fVariantBase, m.SourceID)
	case *AsyncEnumerableRequest:
		writeGrainID(w, fVariantBase, m.Grain)
		w.writeString(fVariantBase+2, m.InterfaceType)
		w.writeI32(fVariantBase+3, m.MethodID)
		w.writeBytes(fVariantBase+4, m.Arguments)
		w.writeBytes(fVariantBase+5, m.StreamID[:])
	case *AsyncEnumerableItem:
		w.writeBytes(fVariantBase, m.StreamID[:])
		w.writeI64(fVariantBase+1, m.Sequence)
		w.writeBytes(fVariantBase+2, m.ItemData)
		w.writeBool(fVariantBase+3, m.IsComplete)
		w.writeString(fVariantBase+4, m.ErrorMessage)
	case *AsyncEnumerableCancel:
		w.writeBytes(fVariantBase, m.StreamID[:])
	default:
		return nil, rpcerr.Wrap(rpcerr.ComponentWire, rpcerr.CodeMalformedMessage, nil)
	}
	w.end()

	out := make([]byte, 0, len(w.buf)+1)
	out = append(out, byte(msg.Type()))
	out = append(out, w.buf...)
	return out, nil
}

// writeGrainID writes a GrainID as two fields at consecutive ids starting
// at base: grain_type (string) and key (bytes).
func writeGrainID(w *fieldWriter, base int, g GrainID) {
	w.writeString(base, g.GrainType)
	w.writeBytes(base+1, g.Key)
}

func writeStringList(w *fieldWriter, id int, items []string) {
	child := w.beginRecord(id)
	child.writeVarint(0, uint64(len(items)))
	for _, s := range items {
		child.writeString(1, s)
	}
	w.writeRecord(child)
}

func writeStringMap(w *fieldWriter, id int, m map[string]string) {
	child := w.beginRecord(id)
	keys := sortedKeys(m)
	child.writeVarint(0, uint64(len(keys)))
	for _, k := range keys {
		entry := child.beginRecord(1)
		entry.writeString(0, k)
		entry.writeString(1, m[k])
		child.writeRecord(entry)
	}
	w.writeRecord(child)
}

func writeNestedStringMap(w *fieldWriter, id int, m map[string]map[string]string) {
	child := w.beginRecord(id)
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	child.writeVarint(0, uint64(len(keys)))
	for _, k := range keys {
		entry := child.beginRecord(1)
		entry.writeString(0, k)
		valueRec := entry.beginRecord(1)
		writeStringMapBody(valueRec, m[k])
		entry.writeRecord(valueRec)
		child.writeRecord(entry)
	}
	w.writeRecord(child)
}

// writeStringMapBody writes a string map's count+entries directly into w
// (w is already the record for the map itself, e.g. a nested value).
func writeStringMapBody(w *fieldWriter, m map[string]string) {
	keys := sortedKeys(m)
	w.writeVarint(0, uint64(len(keys)))
	for _, k := range keys {
		entry := w.beginRecord(1)
		entry.writeString(0, k)
		entry.writeString(1, m[k])
		w.writeRecord(entry)
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func writeManifest(w *fieldWriter, m Manifest) {
	writeStringMap(w, 0, m.InterfaceToGrain)
	writeNestedStringMap(w, 1, m.GrainProperties)
	writeNestedStringMap(w, 2, m.InterfaceProperties)
}

// Decode parses a wire message: a one-byte message-type tag followed by
// the tagged delta-field payload. A fresh reference table is used for
// every call.
func Decode(data []byte) (Message, error) {
	if len(data) < 1 {
		return nil, malformed("empty datagram")
	}
	mt := MessageType(data[0])
	refs := newDecodeRefTable()
	r := newFieldReader(data[1:], refs)

	hdr, err := readHeader(r)
	if err != nil {
		return nil, err
	}

	switch mt {
	case TypeHandshake:
		return decodeHandshake(r, hdr)
	case TypeHandshakeAck:
		return decodeHandshakeAck(r, hdr)
	case TypeRequest:
		return decodeRequest(r, hdr)
	case TypeResponse:
		return decodeResponse(r, hdr)
	case TypeHeartbeat:
		return decodeHeartbeat(r, hdr)
	case TypeAsyncEnumerableRequest:
		return decodeAsyncEnumerableRequest(r, hdr)
	case TypeAsyncEnumerableItem:
		return decodeAsyncEnumerableItem(r, hdr)
	case TypeAsyncEnumerableCancel:
		return decodeAsyncEnumerableCancel(r, hdr)
	default:
		return nil, malformed("unknown message type tag")
	}
}

func readHeader(r *fieldReader) (Header, error) {
	var hdr Header
	var gotID, gotTS bool
	for {
		f, ok, err := r.next()
		if err != nil {
			return hdr, err
		}
		if !ok {
			break
		}
		switch f.id {
		case fHeaderMessageID:
			b, err := r.readLenPrefixed()
			if err != nil {
				return hdr, err
			}
			id, err := uuid.FromBytes(b)
			if err != nil {
				return hdr, malformed("invalid message_id")
			}
			hdr.MessageID = id
			gotID = true
		case fHeaderTimestamp:
			v, err := r.readFixed64()
			if err != nil {
				return hdr, err
			}
			hdr.Timestamp = time.UnixMilli(int64(v)).UTC()
			gotTS = true
		default:
			// Header fields are required and come first; any other field
			// before both of them have been read is rejected as
			// malformed rather than handed on to the variant reader.
			return hdr, malformed("unexpected field before variant body")
		}
		if gotID && gotTS {
			return hdr, nil
		}
	}
	return hdr, malformed("missing required header field")
}

func readGrainID(r *fieldReader, f field) (GrainID, field, bool, error) {
	var g GrainID
	if f.id != fVariantBase {
		return g, f, true, nil
	}
	s, err := r.readStringOrReference(f.wt)
	if err != nil {
		return g, f, false, err
	}
	g.GrainType = s
	next, ok, err := r.next()
	if err != nil {
		return g, field{}, false, err
	}
	if !ok || next.id != fVariantBase+1 {
		return g, field{}, false, malformed("missing grain key field")
	}
	b, err := r.readLenPrefixed()
	if err != nil {
		return g, field{}, false, err
	}
	g.Key = append([]byte(nil), b...)
	return g, field{}, true, nil
}

func decodeHandshake(r *fieldReader, hdr Header) (Message, error) {
	m := &Handshake{Header: hdr}
	for {
		f, ok, err := r.next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		switch f.id {
		case fVariantBase:
			s, err := r.readStringOrReference(f.wt)
			if err != nil {
				return nil, err
			}
			m.ClientID = s
		case fVariantBase + 1:
			v, err := r.readI32()
			if err != nil {
				return nil, err
			}
			m.ProtocolVersion = v
		case fVariantBase + 2:
			items, err := readStringList(r)
			if err != nil {
				return nil, err
			}
			m.Features = items
		default:
			if err := r.skip(f.wt); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

func decodeHandshakeAck(r *fieldReader, hdr Header) (Message, error) {
	m := &HandshakeAck{Header: hdr}
	for {
		f, ok, err := r.next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		switch f.id {
		case fVariantBase:
			s, err := r.readStringOrReference(f.wt)
			if err != nil {
				return nil, err
			}
			m.ServerID = s
		case fVariantBase + 1:
			v, err := r.readI32()
			if err != nil {
				return nil, err
			}
			m.ProtocolVersion = v
		case fVariantBase + 2:
			child, err := r.beginNestedRecord()
			if err != nil {
				return nil, err
			}
			manifest, err := readManifest(child)
			if err != nil {
				return nil, err
			}
			m.Manifest = manifest
		case fVariantBase + 3:
			s, err := r.readStringOrReference(f.wt)
			if err != nil {
				return nil, err
			}
			m.ZoneID = s
		case fVariantBase + 4:
			child, err := r.beginNestedRecord()
			if err != nil {
				return nil, err
			}
			mp, err := readStringMapBody(child)
			if err != nil {
				return nil, err
			}
			m.ZoneToServer = mp
		default:
			if err := r.skip(f.wt); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

func decodeRequest(r *fieldReader, hdr Header) (Message, error) {
	m := &Request{Header: hdr}
	for {
		f, ok, err := r.next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		switch f.id {
		case fVariantBase:
			g, _, _, err := readGrainID(r, f)
			if err != nil {
				return nil, err
			}
			m.Grain = g
		case fVariantBase + 2:
			s, err := r.readStringOrReference(f.wt)
			if err != nil {
				return nil, err
			}
			m.InterfaceType = s
		case fVariantBase + 3:
			v, err := r.readI32()
			if err != nil {
				return nil, err
			}
			m.MethodID = v
		case fVariantBase + 4:
			b, err := r.readLenPrefixed()
			if err != nil {
				return nil, err
			}
			m.Arguments = append([]byte(nil), b...)
		case fVariantBase + 5:
			v, err := r.readI32()
			if err != nil {
				return nil, err
			}
			m.TimeoutMs = v
		case fVariantBase + 6:
			s, err := r.readStringOrReference(f.wt)
			if err != nil {
				return nil, err
			}
			m.ReturnTypeName = s
		case fVariantBase + 7:
			s, err := r.readStringOrReference(f.wt)
			if err != nil {
				return nil, err
			}
			m.TargetZoneID = s
		default:
			if err := r.skip(f.wt); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

func decodeResponse(r *fieldReader, hdr Header) (Message, error) {
	m := &Response{Header: hdr}
	for {
		f, ok, err := r.next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		switch f.id {
		case fVariantBase:
			b, err := r.readLenPrefixed()
			if err != nil {
				return nil, err
			}
			id, err := uuid.FromBytes(b)
			if err != nil {
				return nil, malformed("invalid request_id")
			}
			m.RequestID = id
		case fVariantBase + 1:
			v, err := r.readBool()
			if err != nil {
				return nil, err
			}
			m.Success = v
		case fVariantBase + 2:
			b, err := r.readLenPrefixed()
			if err != nil {
				return nil, err
			}
			m.Payload = append([]byte(nil), b...)
		case fVariantBase + 3:
			s, err := r.readStringOrReference(f.wt)
			if err != nil {
				return nil, err
			}
			m.ErrorMessage = s
		default:
			if err := r.skip(f.wt); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

func decodeHeartbeat(r *fieldReader, hdr Header) (Message, error) {
	m := &Heartbeat{Header: hdr}
	for {
		f, ok, err := r.next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		switch f.id {
		case fVariantBase:
			s, err := r.readStringOrReference(f.wt)
			if err != nil {
				return nil, err
			}
			m.SourceID = s
		default:
			if err := r.skip(f.wt); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

func decodeAsyncEnumerableRequest(r *fieldReader, hdr Header) (Message, error) {
	m := &AsyncEnumerableRequest{Header: hdr}
	for {
		f, ok, err := r.next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		switch f.id {
		case fVariantBase:
			g, _, _, err := readGrainID(r, f)
			if err != nil {
				return nil, err
			}
			m.Grain = g
		case fVariantBase + 2:
			s, err := r.readStringOrReference(f.wt)
			if err != nil {
				return nil, err
			}
			m.InterfaceType = s
		case fVariantBase + 3:
			v, err := r.readI32()
			if err != nil {
				return nil, err
			}
			m.MethodID = v
		case fVariantBase + 4:
			b, err := r.readLenPrefixed()
			if err != nil {
				return nil, err
			}
			m.Arguments = append([]byte(nil), b...)
		case fVariantBase + 5:
			b, err := r.readLenPrefixed()
			if err != nil {
				return nil, err
			}
			id, err := uuid.FromBytes(b)
			if err != nil {
				return nil, malformed("invalid stream_id")
			}
			m.StreamID = id
		default:
			if err := r.skip(f.wt); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

func decodeAsyncEnumerableItem(r *fieldReader, hdr Header) (Message, error) {
	m := &AsyncEnumerableItem{Header: hdr}
	for {
		f, ok, err := r.next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		switch f.id {
		case fVariantBase:
			b, err := r.readLenPrefixed()
			if err != nil {
				return nil, err
			}
			id, err := uuid.FromBytes(b)
			if err != nil {
				return nil, malformed("invalid stream_id")
			}
			m.StreamID = id
		case fVariantBase + 1:
			v, err := r.readI64()
			if err != nil {
				return nil, err
			}
			m.Sequence = v
		case fVariantBase + 2:
			b, err := r.readLenPrefixed()
			if err != nil {
				return nil, err
			}
			m.ItemData = append([]byte(nil), b...)
		case fVariantBase + 3:
			v, err := r.readBool()
			if err != nil {
				return nil, err
			}
			m.IsComplete = v
		case fVariantBase + 4:
			s, err := r.readStringOrReference(f.wt)
			if err != nil {
				return nil, err
			}
			m.ErrorMessage = s
		default:
			if err := r.skip(f.wt); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

func decodeAsyncEnumerableCancel(r *fieldReader, hdr Header) (Message, error) {
	m := &AsyncEnumerableCancel{Header: hdr}
	for {
		f, ok, err := r.next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		switch f.id {
		case fVariantBase:
			b, err := r.readLenPrefixed()
			if err != nil {
				return nil, err
			}
			id, err := uuid.FromBytes(b)
			if err != nil {
				return nil, malformed("invalid stream_id")
			}
			m.StreamID = id
		default:
			if err := r.skip(f.wt); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

func readStringList(r *fieldReader) ([]string, error) {
	child, err := r.beginNestedRecord()
	if err != nil {
		return nil, err
	}
	f, ok, err := child.next()
	if err != nil {
		return nil, err
	}
	if !ok || f.id != 0 {
		return nil, malformed("missing collection count field")
	}
	count, err := child.readVarint()
	if err != nil {
		return nil, err
	}
	items := make([]string, 0, count)
	for {
		f, ok, err := child.next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		if f.id != 1 {
			if err := child.skip(f.wt); err != nil {
				return nil, err
			}
			continue
		}
		s, err := child.readStringOrReference(f.wt)
		if err != nil {
			return nil, err
		}
		items = append(items, s)
	}
	return items, nil
}

func readStringMapBody(r *fieldReader) (map[string]string, error) {
	f, ok, err := r.next()
	if err != nil {
		return nil, err
	}
	if !ok || f.id != 0 {
		return nil, malformed("missing collection count field")
	}
	count, err := r.readVarint()
	if err != nil {
		return nil, err
	}
	m := make(map[string]string, count)
	for {
		f, ok, err := r.next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		if f.id != 1 {
			if err := r.skip(f.wt); err != nil {
				return nil, err
			}
			continue
		}
		entry, err := r.beginNestedRecord()
		if err != nil {
			return nil, err
		}
		k, v, err := readMapEntry(entry)
		if err != nil {
			return nil, err
		}
		m[k] = v
	}
	return m, nil
}

func readMapEntry(r *fieldReader) (string, string, error) {
	var key, value string
	for {
		f, ok, err := r.next()
		if err != nil {
			return "", "", err
		}
		if !ok {
			break
		}
		switch f.id {
		case 0:
			s, err := r.readStringOrReference(f.wt)
			if err != nil {
				return "", "", err
			}
			key = s
		case 1:
			s, err := r.readStringOrReference(f.wt)
			if err != nil {
				return "", "", err
			}
			value = s
		default:
			if err := r.skip(f.wt); err != nil {
				return "", "", err
			}
		}
	}
	return key, value, nil
}

func readNestedStringMap(r *fieldReader) (map[string]map[string]string, error) {
	f, ok, err := r.next()
	if err != nil {
		return nil, err
	}
	if !ok || f.id != 0 {
		return nil, malformed("missing collection count field")
	}
	count, err := r.readVarint()
	if err != nil {
		return nil, err
	}
	m := make(map[string]map[string]string, count)
	for {
		f, ok, err := r.next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		if f.id != 1 {
			if err := r.skip(f.wt); err != nil {
				return nil, err
			}
			continue
		}
		entry, err := r.beginNestedRecord()
		if err != nil {
			return nil, err
		}
		var key string
		var value map[string]string
		for {
			ef, ok, err := entry.next()
			if err != nil {
				return nil, err
			}
			if !ok {
				break
			}
			switch ef.id {
			case 0:
				s, err := entry.readStringOrReference(ef.wt)
				if err != nil {
					return nil, err
				}
				key = s
			case 1:
				valueRec, err := entry.beginNestedRecord()
				if err != nil {
					return nil, err
				}
				mp, err := readStringMapBody(valueRec)
				if err != nil {
					return nil, err
				}
				value = mp
			default:
				if err := entry.skip(ef.wt); err != nil {
					return nil, err
				}
			}
		}
		m[key] = value
	}
	return m, nil
}

func readManifest(r *fieldReader) (Manifest, error) {
	var m Manifest
	for {
		f, ok, err := r.next()
		if err != nil {
			return m, err
		}
		if !ok {
			break
		}
		switch f.id {
		case 0:
			child, err := r.beginNestedRecord()
			if err != nil {
				return m, err
			}
			mp, err := readStringMapBody(child)
			if err != nil {
				return m, err
			}
			m.InterfaceToGrain = mp
		case 1:
			child, err := r.beginNestedRecord()
			if err != nil {
				return m, err
			}
			mp, err := readNestedStringMap(child)
			if err != nil {
				return m, err
			}
			m.GrainProperties = mp
		case 2:
			child, err := r.beginNestedRecord()
			if err != nil {
				return m, err
			}
			mp, err := readNestedStringMap(child)
			if err != nil {
				return m, err
			}
			m.InterfaceProperties = mp
		default:
			if err := r.skip(f.wt); err != nil {
				return m, err
			}
		}
	}
	return m, nil
}
