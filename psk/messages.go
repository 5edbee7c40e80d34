package psk

import (
	"github.com/zonemesh/rpc/internal/bin"
	"github.com/zonemesh/rpc/rpcerr"
)

// handshakeTag is the one-byte leading tag for the four PSK handshake
// datagrams. These precede and are independent of the wire package's
// RpcMessage tags (1-8): a PSK handshake happens before any RpcMessage is
// exchanged, so the tag spaces never overlap on the wire.
type handshakeTag byte

const (
	tagHelloRequest      handshakeTag = 1
	tagChallengeRequest  handshakeTag = 2
	tagChallengeResponse handshakeTag = 3
	tagHandshakeComplete handshakeTag = 4
	tagHandshakeFailed   handshakeTag = 5
)

type helloRequest struct {
	identity string
}

type challengeRequest struct {
	challenge [16]byte
}

type challengeResponse struct {
	response [32]byte
}

type handshakeFailed struct {
	reason string
}

func encodeHelloRequest(m helloRequest) []byte {
	out := []byte{byte(tagHelloRequest)}
	out = bin.PutUvarint(out, uint64(len(m.identity)))
	out = append(out, m.identity...)
	return out
}

func encodeChallengeRequest(m challengeRequest) []byte {
	out := []byte{byte(tagChallengeRequest)}
	return append(out, m.challenge[:]...)
}

func encodeChallengeResponse(m challengeResponse) []byte {
	out := []byte{byte(tagChallengeResponse)}
	return append(out, m.response[:]...)
}

func encodeHandshakeComplete() []byte {
	return []byte{byte(tagHandshakeComplete)}
}

func encodeHandshakeFailed(reason string) []byte {
	out := []byte{byte(tagHandshakeFailed)}
	out = bin.PutUvarint(out, uint64(len(reason)))
	return append(out, reason...)
}

func malformedHandshake() error {
	return rpcerr.Wrap(rpcerr.ComponentPSK, rpcerr.CodeMalformedMessage, nil)
}

func decodeHelloRequest(b []byte) (helloRequest, error) {
	if len(b) < 1 || handshakeTag(b[0]) != tagHelloRequest {
		return helloRequest{}, malformedHandshake()
	}
	n, k := bin.Uvarint(b[1:])
	if k <= 0 || uint64(1+k)+n > uint64(len(b)) {
		return helloRequest{}, malformedHandshake()
	}
	start := 1 + k
	return helloRequest{identity: string(b[start : start+int(n)])}, nil
}

func decodeChallengeOrFailed(b []byte) (*challengeRequest, *handshakeFailed, error) {
	if len(b) < 1 {
		return nil, nil, malformedHandshake()
	}
	switch handshakeTag(b[0]) {
	case tagChallengeRequest:
		if len(b) != 17 {
			return nil, nil, malformedHandshake()
		}
		var cr challengeRequest
		copy(cr.challenge[:], b[1:17])
		return &cr, nil, nil
	case tagHandshakeFailed:
		hf, err := decodeHandshakeFailed(b)
		if err != nil {
			return nil, nil, err
		}
		return nil, &hf, nil
	default:
		return nil, nil, malformedHandshake()
	}
}

func decodeHandshakeFailed(b []byte) (handshakeFailed, error) {
	if len(b) < 1 || handshakeTag(b[0]) != tagHandshakeFailed {
		return handshakeFailed{}, malformedHandshake()
	}
	n, k := bin.Uvarint(b[1:])
	if k <= 0 || uint64(1+k)+n > uint64(len(b)) {
		return handshakeFailed{}, malformedHandshake()
	}
	start := 1 + k
	return handshakeFailed{reason: string(b[start : start+int(n)])}, nil
}

func decodeChallengeResponse(b []byte) (challengeResponse, error) {
	if len(b) != 33 || handshakeTag(b[0]) != tagChallengeResponse {
		return challengeResponse{}, malformedHandshake()
	}
	var cr challengeResponse
	copy(cr.response[:], b[1:33])
	return cr, nil
}

func decodeCompleteOrFailed(b []byte) (complete bool, reason string, err error) {
	if len(b) < 1 {
		return false, "", malformedHandshake()
	}
	switch handshakeTag(b[0]) {
	case tagHandshakeComplete:
		return true, "", nil
	case tagHandshakeFailed:
		hf, err := decodeHandshakeFailed(b)
		if err != nil {
			return false, "", err
		}
		return false, hf.reason, nil
	default:
		return false, "", malformedHandshake()
	}
}
