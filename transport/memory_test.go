package transport_test

import (
	"context"
	"testing"
	"time"

	"github.com/zonemesh/rpc/transport"
)

func TestMemoryAdapterRoundTrip(t *testing.T) {
	reg := transport.NewMemoryRegistry()
	client := transport.NewMemoryAdapter(reg, "client")
	server := transport.NewMemoryAdapter(reg, "server")

	received := make(chan []byte, 1)
	server.OnReceive(func(h transport.Handle, data []byte) {
		received <- data
	})

	h, err := client.Connect(context.Background(), "server")
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := client.Send(h, []byte("hello"), transport.Unreliable, ""); err != nil {
		t.Fatalf("send: %v", err)
	}

	select {
	case data := <-received:
		if string(data) != "hello" {
			t.Fatalf("got %q", data)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestMemoryAdapterConnectToUnknownEndpointFails(t *testing.T) {
	reg := transport.NewMemoryRegistry()
	client := transport.NewMemoryAdapter(reg, "client")
	if _, err := client.Connect(context.Background(), "nowhere"); err == nil {
		t.Fatal("expected error connecting to unregistered endpoint")
	}
}

func TestMemoryAdapterDisconnectCallback(t *testing.T) {
	reg := transport.NewMemoryRegistry()
	client := transport.NewMemoryAdapter(reg, "client")
	server := transport.NewMemoryAdapter(reg, "server")

	disconnected := make(chan struct{}, 1)
	client.OnDisconnect(func(h transport.Handle, err error) { close(disconnected) })

	h, err := client.Connect(context.Background(), "server")
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	_ = server
	if err := client.Close(h); err != nil {
		t.Fatalf("close: %v", err)
	}
	select {
	case <-disconnected:
	case <-time.After(time.Second):
		t.Fatal("expected disconnect callback")
	}
}
