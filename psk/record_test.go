package psk_test

import (
	"context"
	"sync"
	"testing"

	"github.com/zonemesh/rpc/psk"
)

// TestNonceUniqueness exercises property #5 at a scale practical for a
// unit test: nonces must never repeat because seq is strictly increasing
// per session, and nonce = seq_le || random4.
func TestNonceUniqueness(t *testing.T) {
	clientT, serverT := newPipePair()
	presharedKey := make([]byte, 32)
	lookup := psk.StaticLookup{"p1": {PSK: presharedKey, Identity: psk.Identity{UserID: "p1"}}}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = psk.ServerHandshake(context.Background(), serverT, lookup, testOpts())
	}()
	clientSess, err := psk.ClientHandshake(context.Background(), clientT, "p1", presharedKey, testOpts())
	wg.Wait()
	if err != nil {
		t.Fatalf("handshake: %v", err)
	}

	const n = 20000
	seen := make(map[string]struct{}, n)
	for i := 0; i < n; i++ {
		rec, err := clientSess.Encrypt([]byte("x"))
		if err != nil {
			t.Fatalf("encrypt %d: %v", i, err)
		}
		nonce := string(rec[9:21]) // the 12-byte nonce field: seq_le(8) || random(4)
		if _, dup := seen[nonce]; dup {
			t.Fatalf("nonce repeated at send %d", i)
		}
		seen[nonce] = struct{}{}
	}
}
