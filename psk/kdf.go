package psk

import (
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"
)

// infoServerToClient and infoClientToServer name the two HKDF-Expand calls
// that derive a session's encrypt/decrypt keys, per the handshake design.
var (
	infoServerToClient = []byte("server_to_client")
	infoClientToServer = []byte("client_to_server")
)

// keyPair holds the two 32-byte directional keys derived from one PSK
// handshake's challenge and pre-shared key.
type keyPair struct {
	serverToClient [32]byte
	clientToServer [32]byte
}

// deriveKeys runs HKDF-SHA256 over ikm=psk with salt=challenge, producing
// the server_to_client and client_to_server keys.
func deriveKeys(psk, challenge []byte) (keyPair, error) {
	var kp keyPair
	reader := hkdf.New(sha256.New, psk, challenge, infoServerToClient)
	if _, err := io.ReadFull(reader, kp.serverToClient[:]); err != nil {
		return kp, err
	}
	reader = hkdf.New(sha256.New, psk, challenge, infoClientToServer)
	if _, err := io.ReadFull(reader, kp.clientToServer[:]); err != nil {
		return kp, err
	}
	return kp, nil
}

// zero overwrites the key material in place.
func (kp *keyPair) zero() {
	for i := range kp.serverToClient {
		kp.serverToClient[i] = 0
	}
	for i := range kp.clientToServer {
		kp.clientToServer[i] = 0
	}
}
