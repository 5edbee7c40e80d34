package psk

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/zonemesh/rpc/internal/bin"
	"github.com/zonemesh/rpc/rpcerr"
)

const (
	recordTag       = 0x10
	recordHeaderLen = 1 + 8 + 12 // tag + seq + nonce
	recordAuthTagLen = 16
)

// newAEAD builds the configured cipher.AEAD over key, using the first 32
// bytes for AES-256-GCM/ChaCha20-Poly1305 and the first 16 for
// AES-128-GCM.
func newAEAD(c Cipher, key [32]byte) (cipher.AEAD, error) {
	switch c {
	case CipherAES128GCMSHA256:
		block, err := aes.NewCipher(key[:16])
		if err != nil {
			return nil, rpcerr.Wrap(rpcerr.ComponentPSK, rpcerr.CodeHandshakeFailed, err)
		}
		return cipher.NewGCM(block)
	case CipherAES256GCMSHA384, "":
		block, err := aes.NewCipher(key[:])
		if err != nil {
			return nil, rpcerr.Wrap(rpcerr.ComponentPSK, rpcerr.CodeHandshakeFailed, err)
		}
		return cipher.NewGCM(block)
	case CipherChaCha20Poly1305:
		return chacha20poly1305.New(key[:])
	default:
		return nil, rpcerr.Wrap(rpcerr.ComponentPSK, rpcerr.CodeHandshakeFailed, nil)
	}
}

// encryptRecord seals plaintext under seq, producing
// [tag:0x10][seq:8 LE][nonce:12][ciphertext][tag:16].
func encryptRecord(aead cipher.AEAD, seq uint64, plaintext []byte, maxRecordSize int) ([]byte, error) {
	out := make([]byte, recordHeaderLen, recordHeaderLen+len(plaintext)+recordAuthTagLen)
	out[0] = recordTag
	bin.PutU64LE(out[1:9], seq)

	nonce := make([]byte, 12)
	bin.PutU64LE(nonce[:8], seq)
	if _, err := rand.Read(nonce[8:]); err != nil {
		return nil, rpcerr.Wrap(rpcerr.ComponentPSK, rpcerr.CodeHandshakeFailed, err)
	}
	copy(out[9:21], nonce)

	sealed := aead.Seal(nil, nonce, plaintext, nil)
	out = append(out, sealed...)

	if maxRecordSize > 0 && len(out) > maxRecordSize {
		return nil, rpcerr.Wrap(rpcerr.ComponentPSK, rpcerr.CodeMtuExceeded, nil)
	}
	return out, nil
}

// decryptRecord validates framing, opens the AEAD, and returns (seq,
// plaintext). It does not itself apply replay-window logic; callers use
// replayWindow for that.
func decryptRecord(aead cipher.AEAD, record []byte) (seq uint64, plaintext []byte, err error) {
	if len(record) < recordHeaderLen+recordAuthTagLen {
		return 0, nil, rpcerr.Wrap(rpcerr.ComponentPSK, rpcerr.CodeDecryptFailed, nil)
	}
	if record[0] != recordTag {
		return 0, nil, rpcerr.Wrap(rpcerr.ComponentPSK, rpcerr.CodeDecryptFailed, nil)
	}
	seq = bin.U64LE(record[1:9])
	nonce := record[9:21]
	plaintext, err = aead.Open(nil, nonce, record[21:], nil)
	if err != nil {
		return seq, nil, rpcerr.Wrap(rpcerr.ComponentPSK, rpcerr.CodeDecryptFailed, err)
	}
	return seq, plaintext, nil
}

// replayWindow tracks the receive sequence high-watermark and a 100-packet
// out-of-order acceptance window, per the record layer's replay rule.
type replayWindow struct {
	highWatermark uint64
	seen          map[uint64]struct{}
	width         uint64
}

func newReplayWindow(width uint64) *replayWindow {
	return &replayWindow{seen: make(map[uint64]struct{}), width: width}
}

// accept reports whether seq is newly acceptable, updating the watermark
// and seen-set as a side effect. Returns false (replay) if seq falls at or
// below highWatermark-width, or if seq was already accepted.
func (w *replayWindow) accept(seq uint64) bool {
	if w.highWatermark >= w.width && seq <= w.highWatermark-w.width {
		return false
	}
	if _, dup := w.seen[seq]; dup {
		return false
	}
	w.seen[seq] = struct{}{}
	if seq > w.highWatermark {
		w.highWatermark = seq
		w.prune()
	}
	return true
}

func (w *replayWindow) prune() {
	if w.highWatermark < w.width {
		return
	}
	floor := w.highWatermark - w.width
	for seq := range w.seen {
		if seq <= floor {
			delete(w.seen, seq)
		}
	}
}
