// Copyright 2025 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package auctioneer

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/blinklabs-io/auctioneer/archive"
	"github.com/blinklabs-io/auctioneer/relay"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	DefaultShutdownTimeout  = 30 * time.Second
	DefaultAMQPExchange     = relay.DefaultAMQPExchange
	DefaultAPIListenAddress = ":8080"
)

// RelayPublisher is an externally constructed relay attached at startup
type RelayPublisher struct {
	Name      string
	Publisher relay.Publisher
	Subject   relay.SubjectFunc
}

type Config struct {
	promRegistry        prometheus.Registerer
	logger              *slog.Logger
	dataDir             string
	blobPlugin          string
	metadataPlugin      string
	apiListenAddress    string
	allowedOrigins      []string
	pingInterval        time.Duration
	bidRateLimit        float64
	bidRateBurst        int
	replayCacheSize     int
	subscriberQueueSize int
	maxSubscribersPerIP int
	eventBusWorkers     int
	eventBusQueueSize   int
	redisURL            string
	natsURL             string
	amqpURL             string
	amqpExchange        string
	relayQueueSize      int
	relayPublishers     []RelayPublisher
	archiveLocation     string
	archiveEncrypt      bool
	archiveBackendOpts  archive.BackendOptions
	archiveBackend      archive.Backend
	auditInterval       time.Duration
	auditConcurrency    int
	tracing             bool
	tracingStdout       bool
	shutdownTimeout     time.Duration
}

func (n *Node) configValidate() error {
	if n.config.bidRateLimit < 0 {
		return fmt.Errorf("invalid bid rate limit: %f", n.config.bidRateLimit)
	}
	if n.config.bidRateLimit > 0 && n.config.bidRateBurst <= 0 {
		return errors.New("bid rate burst must be positive when rate limiting")
	}
	if n.config.maxSubscribersPerIP < 0 {
		return fmt.Errorf(
			"invalid max subscribers per IP: %d",
			n.config.maxSubscribersPerIP,
		)
	}
	if n.config.archiveEncrypt &&
		n.config.archiveLocation == "" &&
		n.config.archiveBackend == nil {
		return errors.New("archive encryption requires an archive location")
	}
	for _, tmpRelay := range n.config.relayPublishers {
		if tmpRelay.Name == "" || tmpRelay.Publisher == nil ||
			tmpRelay.Subject == nil {
			return errors.New("relay publisher requires a name, publisher and subject")
		}
	}
	return nil
}

// ConfigOptionFunc is a type that represents functions that modify the node config
type ConfigOptionFunc func(*Config)

// NewConfig creates a new auctioneer config with the specified options
func NewConfig(opts ...ConfigOptionFunc) Config {
	c := Config{
		// Default logger will throw away logs
		// We do this so we don't have to add guards around every log operation
		logger:           slog.New(slog.NewJSONHandler(io.Discard, nil)),
		apiListenAddress: DefaultAPIListenAddress,
		amqpExchange:     DefaultAMQPExchange,
		shutdownTimeout:  DefaultShutdownTimeout,
	}
	// Apply options
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// WithDatabasePath specifies the persistent data directory to use. The default is to store everything in memory
func WithDatabasePath(dataDir string) ConfigOptionFunc {
	return func(c *Config) {
		c.dataDir = dataDir
	}
}

// WithBlobPlugin specifies the blob storage plugin to use.
func WithBlobPlugin(plugin string) ConfigOptionFunc {
	return func(c *Config) {
		c.blobPlugin = plugin
	}
}

// WithMetadataPlugin specifies the metadata storage plugin to use.
func WithMetadataPlugin(plugin string) ConfigOptionFunc {
	return func(c *Config) {
		c.metadataPlugin = plugin
	}
}

// WithLogger specifies the logger to use. This defaults to discarding log output
func WithLogger(logger *slog.Logger) ConfigOptionFunc {
	return func(c *Config) {
		c.logger = logger
	}
}

// WithPrometheusRegistry specifies a prometheus.Registerer instance to add metrics to. In most cases, prometheus.DefaultRegistry would be
// a good choice to get metrics working
func WithPrometheusRegistry(registry prometheus.Registerer) ConfigOptionFunc {
	return func(c *Config) {
		c.promRegistry = registry
	}
}

// WithAPIListenAddress specifies the HTTP/WebSocket listen address. The default is ":8080"
func WithAPIListenAddress(address string) ConfigOptionFunc {
	return func(c *Config) {
		c.apiListenAddress = address
	}
}

// WithAllowedOrigins limits WebSocket upgrades to the given Origin values
func WithAllowedOrigins(origins ...string) ConfigOptionFunc {
	return func(c *Config) {
		c.allowedOrigins = append(c.allowedOrigins, origins...)
	}
}

// WithPingInterval specifies how often WebSocket subscribers are pinged
func WithPingInterval(interval time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.pingInterval = interval
	}
}

// WithBidRateLimit limits each bidder to a sustained number of bids per second with the given burst. A limit of 0 disables rate limiting
func WithBidRateLimit(limit float64, burst int) ConfigOptionFunc {
	return func(c *Config) {
		c.bidRateLimit = limit
		c.bidRateBurst = burst
	}
}

// WithReplayCacheSize specifies how many recent messages are kept per auction for reconnecting subscribers
func WithReplayCacheSize(size int) ConfigOptionFunc {
	return func(c *Config) {
		c.replayCacheSize = size
	}
}

// WithSubscriberQueueSize specifies the per-subscriber buffer. A subscriber that falls this far behind must resubscribe
func WithSubscriberQueueSize(size int) ConfigOptionFunc {
	return func(c *Config) {
		c.subscriberQueueSize = size
	}
}

// WithMaxSubscribersPerIP limits concurrent subscriptions from one source address. 0 means unlimited
func WithMaxSubscribersPerIP(limit int) ConfigOptionFunc {
	return func(c *Config) {
		c.maxSubscribersPerIP = limit
	}
}

// WithEventBusWorkers sets the number of broadcast workers and the size of each worker's queue
func WithEventBusWorkers(workers int, queueSize int) ConfigOptionFunc {
	return func(c *Config) {
		c.eventBusWorkers = workers
		c.eventBusQueueSize = queueSize
	}
}

// WithRedisRelay publishes every auction message to Redis pub/sub
func WithRedisRelay(url string) ConfigOptionFunc {
	return func(c *Config) {
		c.redisURL = url
	}
}

// WithNATSRelay publishes every auction message to NATS
func WithNATSRelay(url string) ConfigOptionFunc {
	return func(c *Config) {
		c.natsURL = url
	}
}

// WithAMQPRelay publishes every auction message to an AMQP topic exchange. An empty exchange uses "auction.events"
func WithAMQPRelay(url string, exchange string) ConfigOptionFunc {
	return func(c *Config) {
		c.amqpURL = url
		if exchange != "" {
			c.amqpExchange = exchange
		}
	}
}

// WithRelayQueueSize specifies the per-relay buffer
func WithRelayQueueSize(size int) ConfigOptionFunc {
	return func(c *Config) {
		c.relayQueueSize = size
	}
}

// WithRelayPublisher attaches an already connected relay publisher
func WithRelayPublisher(
	name string,
	pub relay.Publisher,
	subject relay.SubjectFunc,
) ConfigOptionFunc {
	return func(c *Config) {
		c.relayPublishers = append(
			c.relayPublishers,
			RelayPublisher{Name: name, Publisher: pub, Subject: subject},
		)
	}
}

// WithArchive enables exporting ended auctions to a file://, gs:// or s3:// location
func WithArchive(
	location string,
	encrypt bool,
	opts archive.BackendOptions,
) ConfigOptionFunc {
	return func(c *Config) {
		c.archiveLocation = location
		c.archiveEncrypt = encrypt
		c.archiveBackendOpts = opts
	}
}

// WithArchiveBackend uses an already opened archive backend. This takes precedence over WithArchive
func WithArchiveBackend(backend archive.Backend) ConfigOptionFunc {
	return func(c *Config) {
		c.archiveBackend = backend
	}
}

// WithAudit enables the periodic ledger chain audit. An interval of 0 disables it
func WithAudit(interval time.Duration, concurrency int) ConfigOptionFunc {
	return func(c *Config) {
		c.auditInterval = interval
		c.auditConcurrency = concurrency
	}
}

// WithTracing enables tracing. By default, spans are submitted to a HTTP(s) endpoint using OTLP. This can be configured
// using the OTEL_EXPORTER_OTLP_* env vars documented in the README for [go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp]
func WithTracing(tracing bool) ConfigOptionFunc {
	return func(c *Config) {
		c.tracing = tracing
	}
}

// WithTracingStdout enables tracing output to stdout. This also requires tracing to enabled separately. This is mostly useful for debugging
func WithTracingStdout(stdout bool) ConfigOptionFunc {
	return func(c *Config) {
		c.tracingStdout = stdout
	}
}

// WithShutdownTimeout specifies the timeout for graceful shutdown. The default is 30 seconds
func WithShutdownTimeout(timeout time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.shutdownTimeout = timeout
	}
}
