package router

import (
	"sort"
	"strings"
	"sync"

	"github.com/zonemesh/rpc/rpcerr"
)

// RouteRequest carries the routing context the composite strategy chain
// consults, in priority order: explicit target zone, then zone-aware
// grain context, then a grain-type pattern table, then primary, then any
// healthy server.
type RouteRequest struct {
	TargetZoneID string
	ZoneAware    bool
	Zone         string
	GrainType    string
}

// Manager is the connection manager and router: it holds the live server
// set and the zone-to-server map behind a single writer lock. Writers
// replace the maps copy-on-write; Route takes that same lock only to copy
// the current map references (so it waits while a concurrent
// AddConnection/RemoveConnection/UpdateZoneMap is cloning) and then
// evaluates strategies on the snapshot without holding it. Grounded on
// the teacher's connection-registry locking shape, generalized from
// yamux session bookkeeping to RPC server descriptors.
type Manager struct {
	opts Options

	mu            sync.Mutex
	connections   map[string]*ServerDescriptor
	zoneToServer  map[string]string
	grainPatterns []grainPattern
}

type grainPattern struct {
	substring string
	zoneID    string
}

// New constructs an empty Manager.
func New(opts ...Option) *Manager {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Manager{
		opts:         o,
		connections:  make(map[string]*ServerDescriptor),
		zoneToServer: make(map[string]string),
	}
}

// AddConnection registers or replaces a server's descriptor. Only
// descriptors with Health != Offline are eligible for any strategy; a
// caller marking a server Offline should call AddConnection again with
// the updated health rather than RemoveConnection, since the zone map may
// still reference it until reassigned.
func (m *Manager) AddConnection(d ServerDescriptor) {
	m.mu.Lock()
	next := cloneConnections(m.connections)
	next[d.ServerID] = &d
	m.connections = next
	m.mu.Unlock()
	m.reportConnectionCount()
}

// RemoveConnection drops a server entirely, e.g. once its connection has
// closed and is no longer a candidate for any strategy, including
// any-healthy.
func (m *Manager) RemoveConnection(serverID string) {
	m.mu.Lock()
	next := cloneConnections(m.connections)
	delete(next, serverID)
	m.connections = next
	m.mu.Unlock()
	m.reportConnectionCount()
}

// UpdateZoneMap replaces the zone_id -> server_id assignment for a single
// zone. The router does not validate that serverID is currently
// registered or healthy; Route re-checks that at lookup time since the
// zone map may outlive the connection it names.
func (m *Manager) UpdateZoneMap(zoneID, serverID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	next := make(map[string]string, len(m.zoneToServer))
	for k, v := range m.zoneToServer {
		next[k] = v
	}
	next[zoneID] = serverID
	m.zoneToServer = next
}

// SetGrainTypePattern registers an optional substring(grain_type_name) ->
// zone_id table, tried as the "grain-type pattern" strategy after
// zone-aware grain and before primary.
func (m *Manager) SetGrainTypePattern(substring, zoneID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.grainPatterns = append(append([]grainPattern{}, m.grainPatterns...), grainPattern{substring: substring, zoneID: zoneID})
}

func cloneConnections(src map[string]*ServerDescriptor) map[string]*ServerDescriptor {
	next := make(map[string]*ServerDescriptor, len(src))
	for k, v := range src {
		next[k] = v
	}
	return next
}

func (m *Manager) reportConnectionCount() {
	snap := m.snapshot()
	var healthy, degraded, unhealthy, offline int
	for _, d := range snap.connections {
		switch d.Health {
		case HealthHealthy:
			healthy++
		case HealthDegraded:
			degraded++
		case HealthUnhealthy:
			unhealthy++
		case HealthOffline:
			offline++
		}
	}
	m.opts.observer.ConnectionCount(healthy, degraded, unhealthy, offline)
}

// snapshot is an immutable read of the manager's state taken under the
// writer lock, so Route itself never holds the lock while evaluating
// strategies.
type snapshot struct {
	connections   map[string]*ServerDescriptor
	zoneToServer  map[string]string
	grainPatterns []grainPattern
}

func (m *Manager) snapshot() snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return snapshot{connections: m.connections, zoneToServer: m.zoneToServer, grainPatterns: m.grainPatterns}
}

// Route resolves a RouteRequest to a target ServerDescriptor using the
// composite strategy chain in spec priority order, falling back to any
// healthy server, and finally to NoServersAvailable.
func (m *Manager) Route(req RouteRequest) (*ServerDescriptor, error) {
	snap := m.snapshot()

	if req.TargetZoneID != "" {
		if d, ok := explicitTarget(snap, req.TargetZoneID); ok {
			m.opts.observer.RouteDecision("explicit_target", true)
			return d, nil
		}
	}
	if req.ZoneAware && req.Zone != "" {
		if d, ok := zoneAwareGrain(snap, req.Zone); ok {
			m.opts.observer.RouteDecision("zone_aware_grain", true)
			return d, nil
		}
	}
	if req.GrainType != "" {
		if zoneID, ok := matchGrainPattern(snap, req.GrainType); ok {
			if d, ok := explicitTarget(snap, zoneID); ok {
				m.opts.observer.RouteDecision("grain_type_pattern", true)
				return d, nil
			}
		}
	}
	if d, ok := primary(snap); ok {
		m.opts.observer.RouteDecision("primary", true)
		return d, nil
	}
	if d, ok := anyHealthy(snap); ok {
		m.opts.observer.RouteDecision("any_healthy", true)
		return d, nil
	}
	m.opts.observer.RouteDecision("any_healthy", false)
	m.opts.logger.Printf("router: no servers available for request %+v", req)
	return nil, rpcerr.Wrap(rpcerr.ComponentRouter, rpcerr.CodeNoServersAvailable, nil)
}

// explicitTarget implements strategy 1: zone_to_server[z] when the mapped
// server is registered and currently Established (i.e. not Offline).
func explicitTarget(snap snapshot, zoneID string) (*ServerDescriptor, bool) {
	serverID, ok := snap.zoneToServer[zoneID]
	if !ok {
		return nil, false
	}
	d, ok := snap.connections[serverID]
	if !ok || d.Health == HealthOffline {
		return nil, false
	}
	return d, true
}

// zoneAwareGrain implements strategy 2: first Healthy/Degraded server
// advertising zone, lexicographically tie-broken.
func zoneAwareGrain(snap snapshot, zone string) (*ServerDescriptor, bool) {
	var candidates []*ServerDescriptor
	for _, d := range snap.connections {
		if d.Health.eligibleForPrimary() && d.advertisesZone(zone) {
			candidates = append(candidates, d)
		}
	}
	return pickLexFirst(candidates)
}

// matchGrainPattern implements strategy 3: the first configured pattern
// whose substring appears in grainType maps to a zone id, which the
// caller then resolves via explicitTarget (the "apply then recurse"
// language).
func matchGrainPattern(snap snapshot, grainType string) (string, bool) {
	for _, p := range snap.grainPatterns {
		if strings.Contains(grainType, p.substring) {
			return p.zoneID, true
		}
	}
	return "", false
}

// primary implements strategy 4: first is_primary=true server with health
// in {Healthy, Degraded}.
func primary(snap snapshot) (*ServerDescriptor, bool) {
	var candidates []*ServerDescriptor
	for _, d := range snap.connections {
		if d.IsPrimary && d.Health.eligibleForPrimary() {
			candidates = append(candidates, d)
		}
	}
	return pickLexFirst(candidates)
}

// anyHealthy implements strategy 5 and the global fallback: first server
// whose health is not Offline or Unhealthy.
func anyHealthy(snap snapshot) (*ServerDescriptor, bool) {
	var candidates []*ServerDescriptor
	for _, d := range snap.connections {
		if d.Health.eligibleForAnyHealthy() {
			candidates = append(candidates, d)
		}
	}
	return pickLexFirst(candidates)
}

func pickLexFirst(candidates []*ServerDescriptor) (*ServerDescriptor, bool) {
	if len(candidates) == 0 {
		return nil, false
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].ServerID < candidates[j].ServerID })
	return candidates[0], true
}
