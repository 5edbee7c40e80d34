package authz

import "github.com/zonemesh/rpc/psk"

// Attributes is the set of policy markers an interface or method may carry,
// declared by application code when it registers an invoker. A method's
// effective attributes are the method's own markers combined with the
// owning interface's ServerOnly/Authorize/ClientAccessible/RequireRole
// markers; AllowAnonymous is taken from the method alone (see Merge).
type Attributes struct {
	AllowAnonymous   bool
	ClientAccessible bool
	ServerOnly       bool
	Authorize        bool
	// RequireRole is the minimum role rank required to call this method, or
	// the empty string for "no requirement".
	RequireRole psk.Role
}

// Merge combines interface-level and method-level attributes: a method
// inherits ServerOnly/Authorize/ClientAccessible/RequireRole from its
// interface when the method itself doesn't set them, matching "the method
// or interface carries X" language in the evaluation rules. AllowAnonymous
// is not inherited: only the method's own marker counts.
func Merge(iface, method Attributes) Attributes {
	merged := method
	merged.ServerOnly = iface.ServerOnly || method.ServerOnly
	merged.Authorize = iface.Authorize || method.Authorize
	merged.ClientAccessible = iface.ClientAccessible || method.ClientAccessible
	if merged.RequireRole == "" {
		merged.RequireRole = iface.RequireRole
	}
	return merged
}

var roleRank = map[psk.Role]int{
	psk.RoleAnonymous: 0,
	psk.RoleGuest:      1,
	psk.RoleUser:       2,
	psk.RoleAdmin:      3,
}

// rank returns a role's ascending rank. Server has no place on this
// ladder at all — it is a separate axis used only by the ClientAccessible
// and ServerOnly markers, never compared against RequireRole's minimum.
// Callers that need to compare against Server must special-case it before
// calling rank, as rule 5 in filter.go does; -1 for Server is only a
// defensive floor below every real minimum. An unrecognized role (including
// the empty role) ranks 0, the same as Anonymous.
func rank(r psk.Role) int {
	if r == psk.RoleServer {
		return -1
	}
	v, ok := roleRank[r]
	if !ok {
		return 0
	}
	return v
}
