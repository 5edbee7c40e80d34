// Package rpcerr provides the structured, programmatically identifiable
// error taxonomy shared by every package in this module (wire, psk,
// transport, rpcendpoint, router, authz). It is adapted from the teacher's
// fserrors package: a Component/Code/Error triple instead of bare errors.New
// calls, so callers can branch on Code without string matching.
package rpcerr

import "fmt"

// Component identifies which subsystem raised the error.
type Component string

const (
	ComponentWire       Component = "wire"
	ComponentPSK        Component = "psk"
	ComponentTransport  Component = "transport"
	ComponentEndpoint   Component = "endpoint"
	ComponentRouter     Component = "router"
	ComponentAuthz      Component = "authz"
)

// Code is a stable, programmatic error identifier matching the taxonomy in
// the error-handling design section of the spec.
type Code string

const (
	CodeMalformedMessage     Code = "malformed_message"
	CodeProtocolViolation    Code = "protocol_violation"
	CodeHandshakeFailed      Code = "handshake_failed"
	CodeHandshakeTimeout     Code = "handshake_timeout"
	CodeUnauthorized         Code = "unauthorized"
	CodeMethodNotFound       Code = "method_not_found"
	CodeInvokerError         Code = "invoker_error"
	CodeRequestTimeout       Code = "request_timeout"
	CodeTransportDisconnected Code = "transport_disconnected"
	CodeNoServersAvailable   Code = "no_servers_available"
	CodeReplayDetected       Code = "replay_detected"
	CodeDecryptFailed        Code = "decrypt_failed"
	CodeSendBufferFull       Code = "send_buffer_full"
	CodeMtuExceeded          Code = "mtu_exceeded"
	CodeInvalidInput         Code = "invalid_input"
	CodeCanceled             Code = "canceled"
	CodeNotConnected         Code = "not_connected"
)

// Error is a structured error carrying a Component and Code alongside the
// underlying cause, so callers can branch with errors.As + Code comparison.
type Error struct {
	Component Component
	Code      Code
	Err       error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s (%s): %v", e.Component, e.Code, e.Err)
	}
	return fmt.Sprintf("%s (%s)", e.Component, e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

// Wrap builds a structured Error. err may be nil.
func Wrap(component Component, code Code, err error) error {
	return &Error{Component: component, Code: code, Err: err}
}

// Is reports whether err carries the given Code, unwrapping as needed.
func Is(err error, code Code) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			if e.Code == code {
				return true
			}
			err = e.Err
			continue
		}
		type unwrapper interface{ Unwrap() error }
		u, ok := err.(unwrapper)
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
