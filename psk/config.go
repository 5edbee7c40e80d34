// Package psk implements the per-connection PSK (pre-shared key)
// challenge/response handshake and the AEAD record layer that follows it
// (component C2). It is adapted from the teacher's crypto/e2ee package: the
// same HandshakeOptions/cache/session shape, re-pointed at a symmetric PSK
// challenge/response instead of an ECDH handshake, and at
// golang.org/x/crypto's HKDF and ChaCha20-Poly1305 implementations instead
// of the teacher's hand-rolled internal/hkdf.
package psk

import (
	"time"

	"github.com/zonemesh/rpc/internal/defaults"
	"github.com/zonemesh/rpc/observability"
)

// Cipher selects the AEAD used by the record layer.
type Cipher string

const (
	CipherAES128GCMSHA256     Cipher = "AES128_GCM_SHA256"
	CipherAES256GCMSHA384     Cipher = "AES256_GCM_SHA384"
	CipherChaCha20Poly1305    Cipher = "CHACHA20_POLY1305_SHA256"
)

// HandshakeOptions configures both sides of a PSK handshake and the record
// layer it establishes.
type HandshakeOptions struct {
	Cipher            Cipher
	HandshakeTimeout  time.Duration
	RetransmitInterval time.Duration
	MaxRecordSize     int
	// Observer receives handshake-outcome and record-layer metric events.
	// Defaults to observability.NoopSessionObserver.
	Observer observability.SessionObserver
}

// Option mutates a HandshakeOptions, following the teacher's functional
// options convention (see client.ConnectOption in the teacher's client
// package).
type Option func(*HandshakeOptions)

// WithCipher selects the AEAD suite. Default AES256_GCM_SHA384.
func WithCipher(c Cipher) Option {
	return func(o *HandshakeOptions) { o.Cipher = c }
}

// WithHandshakeTimeout bounds the end-to-end handshake. Default 5s.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(o *HandshakeOptions) { o.HandshakeTimeout = d }
}

// WithRetransmitInterval sets the resend cadence for an unanswered
// handshake datagram. Default 1s.
func WithRetransmitInterval(d time.Duration) Option {
	return func(o *HandshakeOptions) { o.RetransmitInterval = d }
}

// WithMaxRecordSize caps an encrypted record's encoded size. Default 1200.
func WithMaxRecordSize(n int) Option {
	return func(o *HandshakeOptions) { o.MaxRecordSize = n }
}

// WithSessionObserver attaches the metric-event sink for this handshake and
// the session it establishes. observer may be nil, which is equivalent to
// not calling this option at all.
func WithSessionObserver(observer observability.SessionObserver) Option {
	return func(o *HandshakeOptions) { o.Observer = observer }
}

func defaultOptions() HandshakeOptions {
	return HandshakeOptions{
		Cipher:              CipherAES256GCMSHA384,
		HandshakeTimeout:    defaults.HandshakeTimeout,
		RetransmitInterval:  defaults.HandshakeRetransmit,
		MaxRecordSize:       defaults.MaxRecordSize,
		Observer:            observability.NoopSessionObserver,
	}
}

// NewOptions builds a HandshakeOptions from defaults plus the given
// overrides.
func NewOptions(opts ...Option) HandshakeOptions {
	o := defaultOptions()
	for _, apply := range opts {
		apply(&o)
	}
	if o.Observer == nil {
		o.Observer = observability.NoopSessionObserver
	}
	return o
}
