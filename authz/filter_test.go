package authz_test

import (
	"testing"

	"github.com/zonemesh/rpc/authz"
	"github.com/zonemesh/rpc/psk"
)

func ctxWithRole(role psk.Role) authz.Context {
	return authz.Context{
		ConnectionID:  "conn-1",
		RequestID:     "req-1",
		InterfaceType: "IChat",
		MethodName:    "SendMessage",
		Identity:      psk.Identity{UserID: "u1", Role: role},
	}
}

// TestRequireRoleMatrix covers scenario S3: a method requiring at least
// User must deny Anonymous and Guest, allow User and Admin, and allow
// Server unconditionally regardless of rank (Server is orthogonal).
func TestRequireRoleMatrix(t *testing.T) {
	f := authz.NewFilter(nil, nil)
	attrs := authz.Attributes{RequireRole: psk.RoleUser}

	cases := []struct {
		role  psk.Role
		allow bool
	}{
		{psk.RoleAnonymous, false},
		{psk.RoleGuest, false},
		{psk.RoleUser, true},
		{psk.RoleAdmin, true},
		{psk.RoleServer, true}, // Server is orthogonal to the role ladder: always satisfies RequireRole
	}
	for _, c := range cases {
		d := f.Authorize(ctxWithRole(c.role), attrs)
		if d.Allowed != c.allow {
			t.Errorf("role %s: got allowed=%v, want %v (rule=%s reason=%q)", c.role, d.Allowed, c.allow, d.Rule, d.Reason)
		}
	}
}

func TestGloballyDisabledAllowsEveryone(t *testing.T) {
	f := authz.NewFilter(nil, nil, authz.WithEnableAuthorization(false))
	d := f.Authorize(ctxWithRole(psk.RoleAnonymous), authz.Attributes{ServerOnly: true, RequireRole: psk.RoleAdmin})
	if !d.Allowed || d.Rule != "disabled" {
		t.Fatalf("expected allow via disabled rule, got %+v", d)
	}
}

func TestAllowAnonymousMarkerShortCircuits(t *testing.T) {
	f := authz.NewFilter(nil, nil)
	d := f.Authorize(ctxWithRole(psk.RoleAnonymous), authz.Attributes{AllowAnonymous: true, RequireRole: psk.RoleAdmin})
	if !d.Allowed {
		t.Fatalf("expected allow, got %+v", d)
	}
}

func TestServerOnlyDeniesNonServer(t *testing.T) {
	f := authz.NewFilter(nil, nil)
	d := f.Authorize(ctxWithRole(psk.RoleAdmin), authz.Attributes{ServerOnly: true})
	if d.Allowed {
		t.Fatalf("expected deny, got %+v", d)
	}
	d = f.Authorize(ctxWithRole(psk.RoleServer), authz.Attributes{ServerOnly: true})
	if !d.Allowed {
		t.Fatalf("expected server to pass ServerOnly, got %+v", d)
	}
}

func TestStrictClientAccessibleMode(t *testing.T) {
	f := authz.NewFilter(nil, nil, authz.WithEnforceClientAccessible(true))
	d := f.Authorize(ctxWithRole(psk.RoleUser), authz.Attributes{})
	if d.Allowed || d.Rule != "client_accessible" {
		t.Fatalf("expected deny via client_accessible, got %+v", d)
	}
	d = f.Authorize(ctxWithRole(psk.RoleUser), authz.Attributes{ClientAccessible: true})
	if !d.Allowed {
		t.Fatalf("expected allow once marked client accessible, got %+v", d)
	}
	d = f.Authorize(ctxWithRole(psk.RoleServer), authz.Attributes{})
	if !d.Allowed {
		t.Fatalf("expected server caller to bypass client_accessible rule, got %+v", d)
	}
}

func TestAuthorizeMarkerRequiresAuthentication(t *testing.T) {
	f := authz.NewFilter(nil, nil)
	d := f.Authorize(ctxWithRole(psk.RoleAnonymous), authz.Attributes{Authorize: true})
	if d.Allowed {
		t.Fatalf("expected deny, got %+v", d)
	}
	d = f.Authorize(ctxWithRole(psk.RoleGuest), authz.Attributes{Authorize: true})
	if !d.Allowed {
		t.Fatalf("expected allow for any authenticated role, got %+v", d)
	}
}

func TestDefaultPolicyRequireAuthentication(t *testing.T) {
	f := authz.NewFilter(nil, nil, authz.WithDefaultPolicy(authz.DefaultRequireAuthentication))
	d := f.Authorize(ctxWithRole(psk.RoleAnonymous), authz.Attributes{})
	if d.Allowed {
		t.Fatalf("expected deny under require_authentication default, got %+v", d)
	}
	d = f.Authorize(ctxWithRole(psk.RoleGuest), authz.Attributes{})
	if !d.Allowed {
		t.Fatalf("expected allow for authenticated caller, got %+v", d)
	}
}

func TestMergeInheritsInterfaceAttributes(t *testing.T) {
	iface := authz.Attributes{ServerOnly: true, RequireRole: psk.RoleAdmin}
	method := authz.Attributes{}
	merged := authz.Merge(iface, method)
	if !merged.ServerOnly || merged.RequireRole != psk.RoleAdmin {
		t.Fatalf("expected method to inherit interface attributes, got %+v", merged)
	}

	methodOverride := authz.Attributes{RequireRole: psk.RoleGuest}
	merged = authz.Merge(iface, methodOverride)
	if merged.RequireRole != psk.RoleGuest {
		t.Fatalf("expected method-level RequireRole to win, got %+v", merged)
	}
}
