package psk

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"time"

	"github.com/zonemesh/rpc/observability"
	"github.com/zonemesh/rpc/rpcerr"
)

func hmacChallenge(psk, challenge []byte) []byte {
	mac := hmac.New(sha256.New, psk)
	mac.Write(challenge)
	return mac.Sum(nil)
}

// sendAndAwait sends payload and waits for a reply, resending at the
// configured retransmit cadence until either a reply arrives or the
// overall context (bounded by HandshakeTimeout) expires.
func sendAndAwait(ctx context.Context, t PacketTransport, payload []byte, retransmit time.Duration) ([]byte, error) {
	for {
		if err := t.Send(ctx, payload); err != nil {
			return nil, rpcerr.Wrap(rpcerr.ComponentPSK, rpcerr.CodeHandshakeFailed, err)
		}
		attemptCtx, cancel := context.WithTimeout(ctx, retransmit)
		b, err := t.Recv(attemptCtx)
		cancel()
		if err == nil {
			return b, nil
		}
		if ctx.Err() != nil {
			return nil, rpcerr.Wrap(rpcerr.ComponentPSK, rpcerr.CodeHandshakeTimeout, ctx.Err())
		}
		// per-attempt deadline expired; loop around and resend.
	}
}

// ClientHandshake drives the four-datagram PSK handshake as the client:
// HelloRequest -> ChallengeRequest -> ChallengeResponse ->
// HandshakeComplete/Failed.
func ClientHandshake(ctx context.Context, t PacketTransport, identity string, psk []byte, opts HandshakeOptions) (sess *Session, err error) {
	observer := opts.Observer
	if observer == nil {
		observer = observability.NoopSessionObserver
	}
	start := time.Now()
	defer func() { observer.Handshake(handshakeResult(err), time.Since(start)) }()

	ctx, cancel := context.WithTimeout(ctx, opts.HandshakeTimeout)
	defer cancel()

	hello := encodeHelloRequest(helloRequest{identity: identity})
	reply, err := sendAndAwait(ctx, t, hello, opts.RetransmitInterval)
	if err != nil {
		return nil, err
	}

	cr, hf, err := decodeChallengeOrFailed(reply)
	if err != nil {
		return nil, err
	}
	if hf != nil {
		return nil, rpcerr.Wrap(rpcerr.ComponentPSK, rpcerr.CodeHandshakeFailed, fmt.Errorf("%s", hf.reason))
	}

	var respMsg challengeResponse
	copy(respMsg.response[:], hmacChallenge(psk, cr.challenge[:]))
	final, err := sendAndAwait(ctx, t, encodeChallengeResponse(respMsg), opts.RetransmitInterval)
	if err != nil {
		return nil, err
	}

	complete, reason, err := decodeCompleteOrFailed(final)
	if err != nil {
		return nil, err
	}
	if !complete {
		return nil, rpcerr.Wrap(rpcerr.ComponentPSK, rpcerr.CodeHandshakeFailed, fmt.Errorf("%s", reason))
	}

	kp, err := deriveKeys(psk, cr.challenge[:])
	if err != nil {
		return nil, err
	}
	enc, err := newAEAD(opts.Cipher, kp.clientToServer)
	if err != nil {
		return nil, err
	}
	dec, err := newAEAD(opts.Cipher, kp.serverToClient)
	if err != nil {
		return nil, err
	}
	return newSession(enc, dec, kp, Identity{}, opts.MaxRecordSize, observer), nil
}

// ServerHandshake drives the four-datagram PSK handshake as the server,
// resolving the client's claimed identity via lookup.
func ServerHandshake(ctx context.Context, t PacketTransport, lookup Lookup, opts HandshakeOptions) (sess *Session, err error) {
	observer := opts.Observer
	if observer == nil {
		observer = observability.NoopSessionObserver
	}
	start := time.Now()
	defer func() { observer.Handshake(handshakeResult(err), time.Since(start)) }()

	ctx, cancel := context.WithTimeout(ctx, opts.HandshakeTimeout)
	defer cancel()

	helloBytes, err := t.Recv(ctx)
	if err != nil {
		return nil, rpcerr.Wrap(rpcerr.ComponentPSK, rpcerr.CodeHandshakeTimeout, err)
	}
	hello, err := decodeHelloRequest(helloBytes)
	if err != nil {
		return nil, err
	}

	presharedKey, identity, ok := lookup.Lookup(hello.identity)
	if !ok {
		_ = t.Send(ctx, encodeHandshakeFailed("unknown identity"))
		return nil, rpcerr.Wrap(rpcerr.ComponentPSK, rpcerr.CodeHandshakeFailed, fmt.Errorf("unknown identity"))
	}

	var challenge [16]byte
	if _, err := rand.Read(challenge[:]); err != nil {
		return nil, rpcerr.Wrap(rpcerr.ComponentPSK, rpcerr.CodeHandshakeFailed, err)
	}

	respBytes, err := sendAndAwait(ctx, t, encodeChallengeRequest(challengeRequest{challenge: challenge}), opts.RetransmitInterval)
	if err != nil {
		return nil, err
	}
	resp, err := decodeChallengeResponse(respBytes)
	if err != nil {
		return nil, err
	}

	expected := hmacChallenge(presharedKey, challenge[:])
	if subtle.ConstantTimeCompare(expected, resp.response[:]) != 1 {
		_ = t.Send(ctx, encodeHandshakeFailed("challenge mismatch"))
		return nil, rpcerr.Wrap(rpcerr.ComponentPSK, rpcerr.CodeHandshakeFailed, fmt.Errorf("challenge mismatch"))
	}

	kp, err := deriveKeys(presharedKey, challenge[:])
	if err != nil {
		return nil, err
	}
	enc, err := newAEAD(opts.Cipher, kp.serverToClient)
	if err != nil {
		return nil, err
	}
	dec, err := newAEAD(opts.Cipher, kp.clientToServer)
	if err != nil {
		return nil, err
	}

	if err := t.Send(ctx, encodeHandshakeComplete()); err != nil {
		return nil, rpcerr.Wrap(rpcerr.ComponentPSK, rpcerr.CodeHandshakeFailed, err)
	}

	return newSession(enc, dec, kp, identity, opts.MaxRecordSize, observer), nil
}

// handshakeResult classifies a handshake's outcome for the SessionObserver,
// distinguishing a timeout from any other failure.
func handshakeResult(err error) observability.HandshakeResult {
	switch {
	case err == nil:
		return observability.HandshakeResultOK
	case rpcerr.Is(err, rpcerr.CodeHandshakeTimeout):
		return observability.HandshakeResultTimeout
	default:
		return observability.HandshakeResultFailed
	}
}
