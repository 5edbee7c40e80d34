package wire

// encodeRefTable deduplicates string field values during one top-level
// encode call. It MUST be constructed fresh per call to Encode and never
// reused across messages (see package doc and DESIGN.md: the source had a
// bug where a reused table let a later message reference a string emitted
// by an earlier one).
type encodeRefTable struct {
	index map[string]uint64
}

func newEncodeRefTable() *encodeRefTable {
	return &encodeRefTable{index: make(map[string]uint64)}
}

// lookup returns the existing reference index for s, or records s at the
// next index and returns (0, false).
func (t *encodeRefTable) lookup(s string) (uint64, bool) {
	idx, ok := t.index[s]
	if ok {
		return idx, true
	}
	t.index[s] = uint64(len(t.index))
	return 0, false
}

// decodeRefTable is the decode-side mirror: strings are appended in the
// order they are first seen, and a Reference wire value is an index into
// this slice.
type decodeRefTable struct {
	values []string
}

func newDecodeRefTable() *decodeRefTable {
	return &decodeRefTable{}
}

func (t *decodeRefTable) record(s string) {
	t.values = append(t.values, s)
}

func (t *decodeRefTable) resolve(idx uint64) (string, bool) {
	if idx >= uint64(len(t.values)) {
		return "", false
	}
	return t.values[idx], true
}
