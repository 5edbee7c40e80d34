package psk

import (
	"sync/atomic"

	"github.com/zonemesh/rpc/observability"
	"github.com/zonemesh/rpc/rpcerr"
)

// State is the PSK session lifecycle: Init -> AwaitingChallenge ->
// AwaitingResponse -> Established -> Closed. Only Established accepts
// application records.
type State int32

const (
	StateInit State = iota
	StateAwaitingChallenge
	StateAwaitingResponse
	StateEstablished
	StateClosed
)

// Session holds the per-connection crypto state established by a
// successful PSK handshake: the derived encrypt/decrypt keys, the send
// sequence counter, and the receive replay window.
type Session struct {
	identity Identity
	keys     keyPair
	enc      aeadFn
	dec      aeadFn
	sendSeq  uint64
	recv     *replayWindow
	maxSize  int
	state    atomic.Int32
	observer observability.SessionObserver
}

// aeadFn is the method set of cipher.AEAD, declared as an interface alias
// so Session doesn't need to import crypto/cipher directly in its struct
// fields.
type aeadFn = interface {
	Seal(dst, nonce, plaintext, additionalData []byte) []byte
	Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
	NonceSize() int
	Overhead() int
}

func newSession(enc, dec aeadFn, keys keyPair, identity Identity, maxRecordSize int, observer observability.SessionObserver) *Session {
	if observer == nil {
		observer = observability.NoopSessionObserver
	}
	s := &Session{
		enc:      enc,
		dec:      dec,
		keys:     keys,
		identity: identity,
		recv:     newReplayWindow(100),
		maxSize:  maxRecordSize,
		observer: observer,
	}
	s.state.Store(int32(StateEstablished))
	return s
}

// Identity returns the peer identity this session authenticated as.
func (s *Session) Identity() Identity { return s.identity }

// State returns the session's current lifecycle state.
func (s *Session) State() State { return State(s.state.Load()) }

// Encrypt seals plaintext as the next outbound record. Fails with
// MtuExceeded if the resulting record would exceed the configured max
// record size.
func (s *Session) Encrypt(plaintext []byte) ([]byte, error) {
	if s.State() != StateEstablished {
		return nil, rpcerr.Wrap(rpcerr.ComponentPSK, rpcerr.CodeNotConnected, nil)
	}
	seq := atomic.AddUint64(&s.sendSeq, 1) - 1
	record, err := encryptRecord(s.enc, seq, plaintext, s.maxSize)
	if err != nil {
		return nil, err
	}
	s.observer.RecordSent()
	return record, nil
}

// Decrypt opens record, enforcing the 100-packet replay window. Returns
// rpcerr with CodeReplayDetected or CodeDecryptFailed on rejection.
func (s *Session) Decrypt(record []byte) ([]byte, error) {
	if s.State() != StateEstablished {
		return nil, rpcerr.Wrap(rpcerr.ComponentPSK, rpcerr.CodeNotConnected, nil)
	}
	seq, plaintext, err := decryptRecord(s.dec, record)
	if err != nil {
		s.observer.RecordDropped(observability.RecordDropDecrypt)
		return nil, err
	}
	if !s.recv.accept(seq) {
		s.observer.RecordDropped(observability.RecordDropReplay)
		return nil, rpcerr.Wrap(rpcerr.ComponentPSK, rpcerr.CodeReplayDetected, nil)
	}
	s.observer.RecordReceived()
	return plaintext, nil
}

// Close transitions the session to Closed and zeroes key material.
func (s *Session) Close() {
	s.state.Store(int32(StateClosed))
	s.keys.zero()
}
