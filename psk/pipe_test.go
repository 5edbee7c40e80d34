package psk_test

import (
	"context"
)

// pipeTransport is an in-memory psk.PacketTransport test double: it reads
// from in and writes to out, letting a test wire up a client/server pair
// with a pair of pipes (client.in = server.out and vice versa).
type pipeTransport struct {
	out chan<- []byte
	in  <-chan []byte
}

func newPipePair() (client, server *pipeTransport) {
	c2s := make(chan []byte, 16)
	s2c := make(chan []byte, 16)
	client = &pipeTransport{out: c2s, in: s2c}
	server = &pipeTransport{out: s2c, in: c2s}
	return client, server
}

func (p *pipeTransport) Send(ctx context.Context, b []byte) error {
	cp := append([]byte(nil), b...)
	select {
	case p.out <- cp:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *pipeTransport) Recv(ctx context.Context) ([]byte, error) {
	select {
	case b := <-p.in:
		return b, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
