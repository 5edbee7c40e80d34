package wire

import (
	"fmt"

	"github.com/zonemesh/rpc/internal/bin"
	"github.com/zonemesh/rpc/rpcerr"
)

func malformed(reason string) error {
	return rpcerr.Wrap(rpcerr.ComponentWire, rpcerr.CodeMalformedMessage, fmt.Errorf("%s", reason))
}

// fieldReader walks one tagged-delta record (a top-level message or a
// nested record) against a shared per-message decode reference table.
type fieldReader struct {
	buf    []byte
	pos    int
	refs   *decodeRefTable
	lastID int
}

func newFieldReader(buf []byte, refs *decodeRefTable) *fieldReader {
	return &fieldReader{buf: buf, refs: refs, lastID: -1}
}

// field is one decoded field header plus enough state to read or skip its
// value.
type field struct {
	id int
	wt wireType
}

// next reads the following field header. ok is false at end-of-record.
func (r *fieldReader) next() (field, bool, error) {
	if r.pos >= len(r.buf) {
		return field{}, false, malformed("truncated record: missing end marker")
	}
	delta, n := bin.Uvarint(r.buf[r.pos:])
	if n <= 0 {
		return field{}, false, malformed("truncated field delta")
	}
	r.pos += n
	if delta == 0 {
		return field{}, false, nil
	}
	if r.pos >= len(r.buf) {
		return field{}, false, malformed("truncated field: missing wire type")
	}
	wt := wireType(r.buf[r.pos])
	r.pos++
	id := r.lastID + int(delta)
	r.lastID = id
	return field{id: id, wt: wt}, true, nil
}

func (r *fieldReader) readVarint() (uint64, error) {
	v, n := bin.Uvarint(r.buf[r.pos:])
	if n <= 0 {
		return 0, malformed("truncated varint")
	}
	r.pos += n
	return v, nil
}

func (r *fieldReader) readBool() (bool, error) {
	v, err := r.readVarint()
	if err != nil {
		return false, err
	}
	return v != 0, nil
}

func (r *fieldReader) readI32() (int32, error) {
	v, err := r.readVarint()
	if err != nil {
		return 0, err
	}
	return int32(zigzagDecode64(v)), nil
}

func (r *fieldReader) readI64() (int64, error) {
	v, err := r.readVarint()
	if err != nil {
		return 0, err
	}
	return zigzagDecode64(v), nil
}

func (r *fieldReader) readFixed64() (uint64, error) {
	if r.pos+8 > len(r.buf) {
		return 0, malformed("truncated fixed64")
	}
	v := bin.U64BE(r.buf[r.pos : r.pos+8])
	r.pos += 8
	return v, nil
}

func (r *fieldReader) readLenPrefixed() ([]byte, error) {
	n, err := r.readVarint()
	if err != nil {
		return nil, err
	}
	if uint64(r.pos)+n > uint64(len(r.buf)) {
		return nil, malformed("truncated length-prefixed value")
	}
	b := r.buf[r.pos : r.pos+int(n)]
	r.pos += int(n)
	return b, nil
}

// readString reads a String wire value and records it in the shared
// reference table so later Reference fields in this same message can
// resolve it.
func (r *fieldReader) readString() (string, error) {
	b, err := r.readLenPrefixed()
	if err != nil {
		return "", err
	}
	s := string(b)
	r.refs.record(s)
	return s, nil
}

func (r *fieldReader) readReference() (string, error) {
	idx, err := r.readVarint()
	if err != nil {
		return "", err
	}
	s, ok := r.refs.resolve(idx)
	if !ok {
		return "", malformed("reference to unresolved id")
	}
	return s, nil
}

// readStringOrReference reads a field already known to carry wt (either
// wireString or wireReference) and returns its resolved string value.
func (r *fieldReader) readStringOrReference(wt wireType) (string, error) {
	switch wt {
	case wireString:
		return r.readString()
	case wireReference:
		return r.readReference()
	default:
		return "", malformed("expected string or reference wire type")
	}
}

// beginNestedRecord returns a reader over a nested record's bytes,
// advancing past it in the parent buffer. Nested records share the
// parent's decode reference table.
func (r *fieldReader) beginNestedRecord() (*fieldReader, error) {
	child := newFieldReader(r.buf[r.pos:], r.refs)
	if err := child.skipToEnd(); err != nil {
		return nil, err
	}
	nested := newFieldReader(r.buf[r.pos:r.pos+child.pos], r.refs)
	r.pos += child.pos
	return nested, nil
}

// skip discards the value following a field header of the given wire
// type, without interpreting it. Used for unknown (non-required) fields.
func (r *fieldReader) skip(wt wireType) error {
	switch wt {
	case wireVarint:
		_, err := r.readVarint()
		return err
	case wireFixed32:
		if r.pos+4 > len(r.buf) {
			return malformed("truncated fixed32")
		}
		r.pos += 4
		return nil
	case wireFixed64:
		_, err := r.readFixed64()
		return err
	case wireString, wireBytes:
		_, err := r.readLenPrefixed()
		return err
	case wireReference:
		_, err := r.readVarint()
		return err
	case wireRecord:
		_, err := r.beginNestedRecord()
		return err
	default:
		return malformed("unknown wire type")
	}
}

// skipToEnd consumes fields until (and including) the terminal marker,
// without interpreting any of them. Used to find a nested record's extent.
func (r *fieldReader) skipToEnd() error {
	for {
		f, ok, err := r.next()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if err := r.skip(f.wt); err != nil {
			return err
		}
	}
}
