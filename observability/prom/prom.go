// Package prom exports observability events to Prometheus. It is adapted
// from the teacher's observability/prom package: the same registry/handler
// helpers and per-subsystem exporter structs, re-pointed at this module's
// session/endpoint/router/authz metric names instead of tunnel/RPC ones.
package prom

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zonemesh/rpc/observability"
)

// NewRegistry returns a fresh Prometheus registry.
func NewRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// Handler returns a Prometheus HTTP handler bound to the registry.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// SessionObserver exports PSK handshake and record-layer metrics.
type SessionObserver struct {
	handshakeTotal   *prometheus.CounterVec
	handshakeLatency prometheus.Histogram
	recordDropTotal  *prometheus.CounterVec
	recordSent       prometheus.Counter
	recordReceived   prometheus.Counter
}

// NewSessionObserver registers PSK session metrics on the registry.
func NewSessionObserver(reg *prometheus.Registry) *SessionObserver {
	o := &SessionObserver{
		handshakeTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "zonerpc_psk_handshakes_total",
			Help: "PSK handshake attempts by result.",
		}, []string{"result"}),
		handshakeLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "zonerpc_psk_handshake_latency_seconds",
			Help:    "PSK handshake latency.",
			Buckets: prometheus.DefBuckets,
		}),
		recordDropTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "zonerpc_psk_record_drops_total",
			Help: "Record-layer datagrams dropped by reason.",
		}, []string{"reason"}),
		recordSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "zonerpc_psk_records_sent_total",
			Help: "Encrypted records sent.",
		}),
		recordReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "zonerpc_psk_records_received_total",
			Help: "Encrypted records accepted.",
		}),
	}
	reg.MustRegister(o.handshakeTotal, o.handshakeLatency, o.recordDropTotal, o.recordSent, o.recordReceived)
	return o
}

func (o *SessionObserver) Handshake(result observability.HandshakeResult, d time.Duration) {
	o.handshakeTotal.WithLabelValues(string(result)).Inc()
	o.handshakeLatency.Observe(d.Seconds())
}

func (o *SessionObserver) RecordDropped(reason observability.RecordDropReason) {
	o.recordDropTotal.WithLabelValues(string(reason)).Inc()
}

func (o *SessionObserver) RecordSent() { o.recordSent.Inc() }

func (o *SessionObserver) RecordReceived() { o.recordReceived.Inc() }

// EndpointObserver exports RPC endpoint metrics.
type EndpointObserver struct {
	serverRequests    *prometheus.CounterVec
	serverLatency     prometheus.Histogram
	clientCalls       *prometheus.CounterVec
	clientCallLatency prometheus.Histogram
	streamItems       prometheus.Counter
	streamCancels     prometheus.Counter
	heartbeatTimeouts prometheus.Counter
}

// NewEndpointObserver registers endpoint metrics on the registry.
func NewEndpointObserver(reg *prometheus.Registry) *EndpointObserver {
	o := &EndpointObserver{
		serverRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "zonerpc_endpoint_server_requests_total",
			Help: "Server-side requests dispatched, by result.",
		}, []string{"result"}),
		serverLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "zonerpc_endpoint_server_latency_seconds",
			Help:    "Server-side request handling latency.",
			Buckets: prometheus.DefBuckets,
		}),
		clientCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "zonerpc_endpoint_client_calls_total",
			Help: "Client-side invoke() outcomes.",
		}, []string{"result"}),
		clientCallLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "zonerpc_endpoint_client_call_latency_seconds",
			Help:    "Client-side invoke() latency.",
			Buckets: prometheus.DefBuckets,
		}),
		streamItems: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "zonerpc_endpoint_stream_items_total",
			Help: "AsyncEnumerableItem messages observed.",
		}),
		streamCancels: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "zonerpc_endpoint_stream_cancels_total",
			Help: "Streams canceled before completion.",
		}),
		heartbeatTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "zonerpc_endpoint_heartbeat_timeouts_total",
			Help: "Connections declared lost due to heartbeat silence.",
		}),
	}
	reg.MustRegister(o.serverRequests, o.serverLatency, o.clientCalls, o.clientCallLatency,
		o.streamItems, o.streamCancels, o.heartbeatTimeouts)
	return o
}

func (o *EndpointObserver) ServerRequest(result observability.RequestResult, d time.Duration) {
	o.serverRequests.WithLabelValues(string(result)).Inc()
	o.serverLatency.Observe(d.Seconds())
}

func (o *EndpointObserver) ClientCall(result observability.CallResult, d time.Duration) {
	o.clientCalls.WithLabelValues(string(result)).Inc()
	o.clientCallLatency.Observe(d.Seconds())
}

func (o *EndpointObserver) StreamItem() { o.streamItems.Inc() }

func (o *EndpointObserver) StreamCanceled() { o.streamCancels.Inc() }

func (o *EndpointObserver) HeartbeatTimeout() { o.heartbeatTimeouts.Inc() }

// RouterObserver exports connection-manager and routing metrics.
type RouterObserver struct {
	connGauge     *prometheus.GaugeVec
	routeDecision *prometheus.CounterVec
}

// NewRouterObserver registers router metrics on the registry.
func NewRouterObserver(reg *prometheus.Registry) *RouterObserver {
	o := &RouterObserver{
		connGauge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "zonerpc_router_connections",
			Help: "Connected servers by health state.",
		}, []string{"health"}),
		routeDecision: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "zonerpc_router_route_decisions_total",
			Help: "Routing strategy outcomes.",
		}, []string{"strategy", "ok"}),
	}
	reg.MustRegister(o.connGauge, o.routeDecision)
	return o
}

func (o *RouterObserver) ConnectionCount(healthy, degraded, unhealthy, offline int) {
	o.connGauge.WithLabelValues("healthy").Set(float64(healthy))
	o.connGauge.WithLabelValues("degraded").Set(float64(degraded))
	o.connGauge.WithLabelValues("unhealthy").Set(float64(unhealthy))
	o.connGauge.WithLabelValues("offline").Set(float64(offline))
}

func (o *RouterObserver) RouteDecision(strategy string, ok bool) {
	okLabel := "false"
	if ok {
		okLabel = "true"
	}
	o.routeDecision.WithLabelValues(strategy, okLabel).Inc()
}

// AuthzObserver exports authorization filter metrics.
type AuthzObserver struct {
	decisions *prometheus.CounterVec
}

// NewAuthzObserver registers authorization metrics on the registry.
func NewAuthzObserver(reg *prometheus.Registry) *AuthzObserver {
	o := &AuthzObserver{
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "zonerpc_authz_decisions_total",
			Help: "Authorization decisions by deciding rule and outcome.",
		}, []string{"rule", "decision"}),
	}
	reg.MustRegister(o.decisions)
	return o
}

func (o *AuthzObserver) Decision(rule string, decision observability.AuthzDecision) {
	o.decisions.WithLabelValues(rule, string(decision)).Inc()
}
