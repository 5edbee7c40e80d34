package rpcerr_test

import (
	"errors"
	"testing"

	"github.com/zonemesh/rpc/rpcerr"
)

func TestWrapAndUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := rpcerr.Wrap(rpcerr.ComponentPSK, rpcerr.CodeHandshakeFailed, cause)

	if !errors.Is(err, cause) {
		t.Fatalf("expected Unwrap chain to reach cause")
	}
	if !rpcerr.Is(err, rpcerr.CodeHandshakeFailed) {
		t.Fatalf("expected Is to match CodeHandshakeFailed")
	}
	if rpcerr.Is(err, rpcerr.CodeReplayDetected) {
		t.Fatalf("did not expect Is to match an unrelated code")
	}
}

func TestWrapNilCause(t *testing.T) {
	err := rpcerr.Wrap(rpcerr.ComponentRouter, rpcerr.CodeNoServersAvailable, nil)
	if err.Error() == "" {
		t.Fatalf("expected non-empty message")
	}
}
