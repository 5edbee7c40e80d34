package quicpipe

import (
	"errors"
	"io"

	"github.com/zonemesh/rpc/internal/bin"
)

// ErrFrameTooLarge guards against a corrupt or hostile length prefix
// requesting an unreasonable allocation. Adapted from the teacher's
// rpc.WriteJSONFrame/ReadJSONFrame length-prefixing, generalized to raw
// wire-codec bytes instead of JSON.
var ErrFrameTooLarge = errors.New("quicpipe: frame too large")

const maxFrameLen = 1 << 20

func writeFrame(w io.Writer, b []byte) error {
	var hdr [4]byte
	bin.PutU32BE(hdr[:], uint32(len(b)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

func readFrame(r io.Reader) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	n := int(bin.U32BE(hdr[:]))
	if n < 0 || n > maxFrameLen {
		return nil, ErrFrameTooLarge
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}
