package rpcendpoint

import "github.com/zonemesh/rpc/rpcerr"

var errStreamTransportLost = rpcerr.Wrap(rpcerr.ComponentEndpoint, rpcerr.CodeTransportDisconnected, nil)

var errNotReady = rpcerr.Wrap(rpcerr.ComponentEndpoint, rpcerr.CodeProtocolViolation, nil)
