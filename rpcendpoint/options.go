package rpcendpoint

import (
	"io"
	"log"
	"time"

	"github.com/zonemesh/rpc/authz"
	"github.com/zonemesh/rpc/internal/defaults"
	"github.com/zonemesh/rpc/observability"
	"github.com/zonemesh/rpc/transport"
	"github.com/zonemesh/rpc/wire"
)

// ProtocolVersion is the RPC-level handshake version this build speaks.
// A mismatched Handshake.ProtocolVersion is rejected with ProtocolViolation.
const ProtocolVersion int32 = 1

type serverConfig struct {
	serverID            string
	zoneID              string
	zoneToServer        map[string]string
	manifest            wire.Manifest
	invokers            *InvokerRegistry
	authz               *authz.Filter
	observer            observability.EndpointObserver
	logger              *log.Logger
	heartbeatInterval   time.Duration
	heartbeatLossFactor int
	deliveryMode        transport.DeliveryMode
	channel             transport.Channel
	inboxSize           int
}

func defaultServerConfig() serverConfig {
	return serverConfig{
		invokers:            NewInvokerRegistry(),
		authz:               authz.NewFilter(nil, nil),
		observer:            observability.NoopEndpointObserver,
		logger:              log.New(io.Discard, "", 0),
		heartbeatInterval:   defaults.HeartbeatInterval,
		heartbeatLossFactor: defaults.HeartbeatLossFactor,
		deliveryMode:        transport.ReliableOrdered,
		channel:             "rpc",
		inboxSize:           256,
	}
}

// ServerOption configures NewServerConnection.
type ServerOption func(*serverConfig)

func WithServerID(id string) ServerOption { return func(c *serverConfig) { c.serverID = id } }
func WithZoneID(zoneID string) ServerOption { return func(c *serverConfig) { c.zoneID = zoneID } }
func WithZoneToServer(m map[string]string) ServerOption {
	return func(c *serverConfig) { c.zoneToServer = m }
}
func WithManifest(m wire.Manifest) ServerOption { return func(c *serverConfig) { c.manifest = m } }
func WithInvokers(reg *InvokerRegistry) ServerOption {
	return func(c *serverConfig) { c.invokers = reg }
}
func WithAuthzFilter(f *authz.Filter) ServerOption { return func(c *serverConfig) { c.authz = f } }
func WithEndpointObserver(o observability.EndpointObserver) ServerOption {
	return func(c *serverConfig) { c.observer = o }
}
func WithLogger(l *log.Logger) ServerOption { return func(c *serverConfig) { c.logger = l } }
func WithHeartbeatInterval(d time.Duration) ServerOption {
	return func(c *serverConfig) { c.heartbeatInterval = d }
}
func WithDeliveryMode(mode transport.DeliveryMode, channel transport.Channel) ServerOption {
	return func(c *serverConfig) { c.deliveryMode = mode; c.channel = channel }
}

type clientConfig struct {
	clientID          string
	protocolVersion   int32
	features          []string
	observer          observability.EndpointObserver
	logger            *log.Logger
	heartbeatInterval time.Duration
	lossFactor        int
	deliveryMode      transport.DeliveryMode
	channel           transport.Channel
	inboxSize         int
	deadlineScan      time.Duration
}

func defaultClientConfig() clientConfig {
	return clientConfig{
		protocolVersion:   ProtocolVersion,
		observer:          observability.NoopEndpointObserver,
		logger:            log.New(io.Discard, "", 0),
		heartbeatInterval: defaults.HeartbeatInterval,
		lossFactor:        defaults.HeartbeatLossFactor,
		deliveryMode:      transport.ReliableOrdered,
		channel:           "rpc",
		inboxSize:         256,
		deadlineScan:      defaults.DeadlineScanInterval,
	}
}

// ClientOption configures NewClientConnection.
type ClientOption func(*clientConfig)

func WithClientID(id string) ClientOption     { return func(c *clientConfig) { c.clientID = id } }
func WithFeatures(f ...string) ClientOption   { return func(c *clientConfig) { c.features = f } }
func WithClientObserver(o observability.EndpointObserver) ClientOption {
	return func(c *clientConfig) { c.observer = o }
}
func WithClientLogger(l *log.Logger) ClientOption { return func(c *clientConfig) { c.logger = l } }
func WithClientHeartbeatInterval(d time.Duration) ClientOption {
	return func(c *clientConfig) { c.heartbeatInterval = d }
}
func WithClientDeliveryMode(mode transport.DeliveryMode, channel transport.Channel) ClientOption {
	return func(c *clientConfig) { c.deliveryMode = mode; c.channel = channel }
}
