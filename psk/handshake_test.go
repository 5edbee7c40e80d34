package psk_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/zonemesh/rpc/psk"
)

func testOpts() psk.HandshakeOptions {
	return psk.NewOptions(
		psk.WithHandshakeTimeout(2*time.Second),
		psk.WithRetransmitInterval(50*time.Millisecond),
	)
}

func TestHandshakeEstablishesMatchingSessions(t *testing.T) {
	clientT, serverT := newPipePair()
	presharedKey := make([]byte, 32)
	for i := range presharedKey {
		presharedKey[i] = byte(i)
	}
	lookup := psk.StaticLookup{
		"p1": {PSK: presharedKey, Identity: psk.Identity{UserID: "p1", Role: psk.RoleUser}},
	}

	var wg sync.WaitGroup
	var serverSess *psk.Session
	var serverErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		serverSess, serverErr = psk.ServerHandshake(context.Background(), serverT, lookup, testOpts())
	}()

	clientSess, err := psk.ClientHandshake(context.Background(), clientT, "p1", presharedKey, testOpts())
	wg.Wait()

	if err != nil {
		t.Fatalf("client handshake: %v", err)
	}
	if serverErr != nil {
		t.Fatalf("server handshake: %v", serverErr)
	}
	if clientSess.State() != psk.StateEstablished || serverSess.State() != psk.StateEstablished {
		t.Fatalf("expected both sessions Established")
	}
	if serverSess.Identity().UserID != "p1" {
		t.Fatalf("expected server session to carry resolved identity, got %+v", serverSess.Identity())
	}

	plaintext := []byte("Hello, World!")
	record, err := clientSess.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	got, err := serverSess.Decrypt(record)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if string(got) != string(plaintext) {
		t.Fatalf("round trip mismatch: got %q", got)
	}
}

func TestHandshakeUnknownIdentityFails(t *testing.T) {
	clientT, serverT := newPipePair()
	lookup := psk.StaticLookup{}

	var wg sync.WaitGroup
	var serverErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, serverErr = psk.ServerHandshake(context.Background(), serverT, lookup, testOpts())
	}()

	_, clientErr := psk.ClientHandshake(context.Background(), clientT, "ghost", make([]byte, 32), testOpts())
	wg.Wait()

	if clientErr == nil {
		t.Fatalf("expected client handshake to fail for unknown identity")
	}
	if serverErr == nil {
		t.Fatalf("expected server to report handshake failure and open no session")
	}
}

func TestHandshakeTamperedResponseFails(t *testing.T) {
	clientT, serverT := newPipePair()
	presharedKey := make([]byte, 32)
	lookup := psk.StaticLookup{
		"p1": {PSK: presharedKey, Identity: psk.Identity{UserID: "p1"}},
	}

	// A client whose PSK differs from the server's by one bit, so the
	// challenge response it computes does not match.
	var wg sync.WaitGroup
	var serverErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, serverErr = psk.ServerHandshake(context.Background(), serverT, lookup, testOpts())
	}()

	wrongKey := append([]byte(nil), presharedKey...)
	wrongKey[0] ^= 0x01
	_, clientErr := psk.ClientHandshake(context.Background(), clientT, "p1", wrongKey, testOpts())
	wg.Wait()

	if clientErr == nil || serverErr == nil {
		t.Fatalf("expected handshake failure on tampered response, got client=%v server=%v", clientErr, serverErr)
	}
}

func TestReplayProtection(t *testing.T) {
	clientT, serverT := newPipePair()
	presharedKey := make([]byte, 32)
	lookup := psk.StaticLookup{"p1": {PSK: presharedKey, Identity: psk.Identity{UserID: "p1"}}}

	var wg sync.WaitGroup
	var serverSess *psk.Session
	wg.Add(1)
	go func() {
		defer wg.Done()
		serverSess, _ = psk.ServerHandshake(context.Background(), serverT, lookup, testOpts())
	}()
	clientSess, err := psk.ClientHandshake(context.Background(), clientT, "p1", presharedKey, testOpts())
	wg.Wait()
	if err != nil {
		t.Fatalf("client handshake: %v", err)
	}

	first, err := clientSess.Encrypt([]byte("one"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if _, err := serverSess.Decrypt(first); err != nil {
		t.Fatalf("decrypt first: %v", err)
	}

	// Replaying the same record immediately (within the window) is
	// rejected without closing the session.
	if _, err := serverSess.Decrypt(first); err == nil {
		t.Fatalf("expected in-window replay to be rejected")
	}
	if serverSess.State() != psk.StateEstablished {
		t.Fatalf("in-window replay must not close the session")
	}

	// Advance far beyond the 100-packet window, then replay the first
	// record again: still rejected, now as an out-of-window replay.
	for i := 0; i < 150; i++ {
		rec, err := clientSess.Encrypt([]byte("filler"))
		if err != nil {
			t.Fatalf("encrypt filler: %v", err)
		}
		if _, err := serverSess.Decrypt(rec); err != nil {
			t.Fatalf("decrypt filler: %v", err)
		}
	}
	if _, err := serverSess.Decrypt(first); err == nil {
		t.Fatalf("expected out-of-window replay to be rejected")
	}
}
