package authz

import "github.com/zonemesh/rpc/psk"

// Context is the per-call authorization input: the caller's identity plus
// enough about the call site to log a useful denial.
type Context struct {
	ConnectionID  string
	RequestID     string
	InterfaceType string
	MethodName    string
	Identity      psk.Identity
}

// IsAnonymous reports whether the caller never completed a PSK handshake
// (or was explicitly assigned RoleAnonymous).
func (c Context) IsAnonymous() bool {
	return c.Identity.Role == "" || c.Identity.Role == psk.RoleAnonymous
}
