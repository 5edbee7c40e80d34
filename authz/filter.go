// Package authz implements the authorization filter (component C6): an
// ordered rule pipeline deciding Allow/Deny for a single RPC call, given
// the caller's authenticated identity and the policy markers the
// application attached to the target interface/method. Adapted from the
// teacher's gateway.go request-routing shape (a small ordered-rule
// ServeHTTP body, nil-safe logger defaulting to io.Discard) generalized
// from HTTP routing to the evaluation order in rule 1-7 below.
package authz

import (
	"io"
	"log"

	"github.com/zonemesh/rpc/observability"
	"github.com/zonemesh/rpc/psk"
)

// Filter evaluates Attributes against a Context, in the fixed rule order:
// disabled -> AllowAnonymous -> strict-client-accessible -> ServerOnly ->
// RequireRole -> Authorize -> default policy.
type Filter struct {
	opts     Options
	observer observability.AuthzObserver
	logger   *log.Logger
}

// NewFilter constructs a Filter. observer may be nil (defaults to
// observability.NoopAuthzObserver); logger may be nil (defaults to a
// discarding logger), matching the teacher's gateway constructor.
func NewFilter(observer observability.AuthzObserver, logger *log.Logger, opts ...Option) *Filter {
	if observer == nil {
		observer = observability.NoopAuthzObserver
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Filter{opts: NewOptions(opts...), observer: observer, logger: logger}
}

// Authorize runs the evaluation order and returns the first rule's
// decision, logging denials with connection/request/method context.
func (f *Filter) Authorize(ctx Context, attrs Attributes) Decision {
	d := f.evaluate(ctx, attrs)
	f.observer.Decision(d.Rule, decisionKind(d))
	if !d.Allowed {
		f.logger.Printf(
			"authz deny: connection_id=%s request_id=%s method=%s.%s deciding_rule=%s user=%s reason=%q",
			ctx.ConnectionID, ctx.RequestID, ctx.InterfaceType, ctx.MethodName,
			d.Rule, anonymizeUser(ctx.Identity), d.Reason,
		)
	}
	return d
}

func (f *Filter) evaluate(ctx Context, attrs Attributes) Decision {
	// Rule 1: global switch.
	if !f.opts.EnableAuthorization {
		return allow("disabled")
	}
	// Rule 2: explicit anonymous allowance.
	if attrs.AllowAnonymous {
		return allow("allow_anonymous_marker")
	}
	// Rule 3: strict-client-accessible mode.
	if f.opts.EnforceClientAccessible && !attrs.ClientAccessible && ctx.Identity.Role != psk.RoleServer {
		return deny("client_accessible", "not accessible to clients")
	}
	// Rule 4: server-only methods.
	if attrs.ServerOnly && ctx.Identity.Role != psk.RoleServer {
		return deny("server_only", "server components only")
	}
	// Rule 5: minimum role. Server is orthogonal to the role ladder, not
	// ranked below it, so a Server caller always satisfies RequireRole.
	if attrs.RequireRole != "" && ctx.Identity.Role != psk.RoleServer && rank(ctx.Identity.Role) < rank(attrs.RequireRole) {
		return deny("require_role", "insufficient role")
	}
	// Rule 6: authenticated-caller requirement.
	if attrs.Authorize && ctx.IsAnonymous() {
		return deny("authorize_marker", "authentication required")
	}
	// Rule 7: default policy.
	switch f.opts.DefaultPolicy {
	case DefaultRequireAuthentication:
		if ctx.IsAnonymous() {
			return deny("default_policy", "authentication required")
		}
		return allow("default_policy")
	default:
		return allow("default_policy")
	}
}

func decisionKind(d Decision) observability.AuthzDecision {
	if d.Allowed {
		return observability.AuthzAllow
	}
	return observability.AuthzDeny
}

// anonymizeUser returns a logging-safe identifier: the user id is never
// logged in full, only its role and a short correlation prefix.
func anonymizeUser(id psk.Identity) string {
	if id.UserID == "" {
		return "anonymous"
	}
	prefix := id.UserID
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}
	return string(id.Role) + ":" + prefix + "..."
}
