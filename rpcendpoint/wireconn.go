package rpcendpoint

import (
	"github.com/zonemesh/rpc/psk"
	"github.com/zonemesh/rpc/rpcerr"
	"github.com/zonemesh/rpc/transport"
	"github.com/zonemesh/rpc/wire"
)

// wireConn bundles a transport handle with the optional PSK session
// protecting it, so server and client connections share one
// encode-then-encrypt / decrypt-then-decode path.
type wireConn struct {
	handle  transport.Handle
	adapter transport.Adapter
	session *psk.Session // nil when PSK is disabled
	mode    transport.DeliveryMode
	channel transport.Channel
}

func (w *wireConn) send(msg wire.Message) error {
	encoded, err := wire.Encode(msg)
	if err != nil {
		return err
	}
	payload := encoded
	if w.session != nil {
		payload, err = w.session.Encrypt(encoded)
		if err != nil {
			return err
		}
	}
	return w.adapter.Send(w.handle, payload, w.mode, w.channel)
}

// decode turns one inbound transport payload into a wire.Message, undoing
// the PSK record layer first when a session is attached. A replay or
// decrypt failure is reported via the PSK component's own error codes so
// the caller can decide to drop silently per the record layer's contract.
func (w *wireConn) decode(data []byte) (wire.Message, error) {
	payload := data
	if w.session != nil {
		var err error
		payload, err = w.session.Decrypt(data)
		if err != nil {
			return nil, err
		}
	}
	msg, err := wire.Decode(payload)
	if err != nil {
		return nil, rpcerr.Wrap(rpcerr.ComponentEndpoint, rpcerr.CodeMalformedMessage, err)
	}
	return msg, nil
}
