package router_test

import (
	"testing"

	"github.com/zonemesh/rpc/rpcerr"
	"github.com/zonemesh/rpc/router"
)

type fakeConn struct{ id string }

func (f fakeConn) ID() string { return f.id }

// TestZoneReroute covers property #10 and scenario S2: a zone mapped to
// s1 routes there; once s1 goes Offline and s2 is registered as the new
// primary, the same zone-targeted request routes to s2.
func TestZoneReroute(t *testing.T) {
	r := router.New()
	r.AddConnection(router.ServerDescriptor{ServerID: "s1", Connection: fakeConn{"s1"}, IsPrimary: true, Health: router.HealthHealthy})
	r.UpdateZoneMap("42", "s1")

	d, err := r.Route(router.RouteRequest{TargetZoneID: "42"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.ServerID != "s1" {
		t.Fatalf("expected s1, got %s", d.ServerID)
	}

	r.AddConnection(router.ServerDescriptor{ServerID: "s1", Connection: fakeConn{"s1"}, IsPrimary: true, Health: router.HealthOffline})
	r.AddConnection(router.ServerDescriptor{ServerID: "s2", Connection: fakeConn{"s2"}, IsPrimary: true, Health: router.HealthHealthy})

	d, err = r.Route(router.RouteRequest{TargetZoneID: "42"})
	if err != nil {
		t.Fatalf("unexpected error after reroute: %v", err)
	}
	if d.ServerID != "s2" {
		t.Fatalf("expected reroute to s2, got %s", d.ServerID)
	}
}

func TestExplicitTargetFallsThroughWhenMappedServerMissing(t *testing.T) {
	r := router.New()
	r.AddConnection(router.ServerDescriptor{ServerID: "s1", Connection: fakeConn{"s1"}, Health: router.HealthHealthy})
	r.UpdateZoneMap("7", "ghost-server")

	d, err := r.Route(router.RouteRequest{TargetZoneID: "7"})
	if err != nil {
		t.Fatalf("expected any-healthy fallback, got error: %v", err)
	}
	if d.ServerID != "s1" {
		t.Fatalf("expected fallback to s1, got %s", d.ServerID)
	}
}

func TestZoneAwareGrainPrefersAdvertisedZone(t *testing.T) {
	r := router.New()
	r.AddConnection(router.ServerDescriptor{ServerID: "s1", Connection: fakeConn{"s1"}, Health: router.HealthHealthy, Zones: []string{"eu"}})
	r.AddConnection(router.ServerDescriptor{ServerID: "s2", Connection: fakeConn{"s2"}, Health: router.HealthHealthy, Zones: []string{"us"}})

	d, err := r.Route(router.RouteRequest{ZoneAware: true, Zone: "us"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.ServerID != "s2" {
		t.Fatalf("expected s2 for zone us, got %s", d.ServerID)
	}
}

func TestGrainTypePatternRecursesIntoZoneMap(t *testing.T) {
	r := router.New()
	r.AddConnection(router.ServerDescriptor{ServerID: "s1", Connection: fakeConn{"s1"}, Health: router.HealthHealthy})
	r.UpdateZoneMap("inventory-zone", "s1")
	r.SetGrainTypePattern("Inventory", "inventory-zone")

	d, err := r.Route(router.RouteRequest{GrainType: "InventoryGrain"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.ServerID != "s1" {
		t.Fatalf("expected s1 via grain-type pattern, got %s", d.ServerID)
	}
}

func TestPrimaryTieBreaksLexicographically(t *testing.T) {
	r := router.New()
	r.AddConnection(router.ServerDescriptor{ServerID: "zzz", Connection: fakeConn{"zzz"}, IsPrimary: true, Health: router.HealthHealthy})
	r.AddConnection(router.ServerDescriptor{ServerID: "aaa", Connection: fakeConn{"aaa"}, IsPrimary: true, Health: router.HealthDegraded})

	d, err := r.Route(router.RouteRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.ServerID != "aaa" {
		t.Fatalf("expected lexicographic tie-break to aaa, got %s", d.ServerID)
	}
}

func TestNoServersAvailable(t *testing.T) {
	r := router.New()
	r.AddConnection(router.ServerDescriptor{ServerID: "s1", Connection: fakeConn{"s1"}, Health: router.HealthOffline})

	_, err := r.Route(router.RouteRequest{})
	if !rpcerr.Is(err, rpcerr.CodeNoServersAvailable) {
		t.Fatalf("expected NoServersAvailable, got %v", err)
	}
}

func TestRemoveConnectionExcludesFromAnyHealthy(t *testing.T) {
	r := router.New()
	r.AddConnection(router.ServerDescriptor{ServerID: "s1", Connection: fakeConn{"s1"}, Health: router.HealthHealthy})
	r.RemoveConnection("s1")

	_, err := r.Route(router.RouteRequest{})
	if !rpcerr.Is(err, rpcerr.CodeNoServersAvailable) {
		t.Fatalf("expected NoServersAvailable after removal, got %v", err)
	}
}
