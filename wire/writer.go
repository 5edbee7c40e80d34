package wire

import (
	"github.com/zonemesh/rpc/internal/bin"
)

// wireType tags the payload that follows a field header.
type wireType byte

const (
	wireVarint    wireType = 0
	wireFixed32   wireType = 1
	wireFixed64   wireType = 2
	wireString    wireType = 3
	wireBytes     wireType = 4
	wireRecord    wireType = 5
	wireReference wireType = 6
)

// fieldWriter builds one tagged-delta record (a top-level message or a
// nested record) against a shared per-message reference table.
type fieldWriter struct {
	buf    []byte
	refs   *encodeRefTable
	lastID int
}

func newFieldWriter(refs *encodeRefTable) *fieldWriter {
	return &fieldWriter{refs: refs, lastID: -1}
}

func (w *fieldWriter) header(id int, wt wireType) {
	delta := uint64(id - w.lastID)
	w.buf = bin.PutUvarint(w.buf, delta)
	w.buf = append(w.buf, byte(wt))
	w.lastID = id
}

func (w *fieldWriter) end() {
	w.buf = bin.PutUvarint(w.buf, 0)
}

func (w *fieldWriter) writeVarint(id int, v uint64) {
	w.header(id, wireVarint)
	w.buf = bin.PutUvarint(w.buf, v)
}

func (w *fieldWriter) writeBool(id int, v bool) {
	if v {
		w.writeVarint(id, 1)
	} else {
		w.writeVarint(id, 0)
	}
}

func (w *fieldWriter) writeI32(id int, v int32) {
	w.writeVarint(id, zigzagEncode64(int64(v)))
}

func (w *fieldWriter) writeI64(id int, v int64) {
	w.writeVarint(id, zigzagEncode64(v))
}

func (w *fieldWriter) writeFixed64(id int, v uint64) {
	w.header(id, wireFixed64)
	var b [8]byte
	bin.PutU64BE(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *fieldWriter) writeBytes(id int, b []byte) {
	w.header(id, wireBytes)
	w.buf = bin.PutUvarint(w.buf, uint64(len(b)))
	w.buf = append(w.buf, b...)
}

// writeString writes s, emitting a Reference instead of the literal when s
// was already written earlier in this same top-level message.
func (w *fieldWriter) writeString(id int, s string) {
	if idx, ok := w.refs.lookup(s); ok {
		w.header(id, wireReference)
		w.buf = bin.PutUvarint(w.buf, idx)
		return
	}
	w.header(id, wireString)
	w.buf = bin.PutUvarint(w.buf, uint64(len(s)))
	w.buf = append(w.buf, s...)
}

// beginRecord returns a nested writer sharing this writer's reference
// table, for a field whose value is a tag-delimited nested record.
func (w *fieldWriter) beginRecord(id int) *fieldWriter {
	w.header(id, wireRecord)
	return newFieldWriter(w.refs)
}

// writeRecord splices a nested writer's finished bytes (including its own
// terminal marker) into this writer's buffer.
func (w *fieldWriter) writeRecord(child *fieldWriter) {
	child.end()
	w.buf = append(w.buf, child.buf...)
}

func zigzagEncode64(v int64) uint64 {
	return uint64((v << 1) ^ (v >> 63))
}

func zigzagDecode64(v uint64) int64 {
	return int64(v>>1) ^ -int64(v&1)
}
