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

// Package relay mirrors auction messages to external brokers so that
// consumers outside this process can follow auctions
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/blinklabs-io/auctioneer/event"
	"github.com/blinklabs-io/auctioneer/fanout"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	DefaultQueueSize      = 4096
	DefaultPublishTimeout = 5 * time.Second
)

// Publisher sends one payload to a broker subject. Implementations wrap a
// broker client
type Publisher interface {
	Publish(ctx context.Context, subject string, payload []byte) error
	Close() error
}

// SubjectFunc maps an auction ID to a broker subject
type SubjectFunc func(auctionID string) string

type Config struct {
	Logger         *slog.Logger
	PromRegistry   prometheus.Registerer
	EventBus       *event.EventBus
	QueueSize      int
	PublishTimeout time.Duration
}

type relayMetrics struct {
	published *prometheus.CounterVec
	dropped   *prometheus.CounterVec
	failed    *prometheus.CounterVec
}

// Manager owns the configured relays and attaches them to the event bus
type Manager struct {
	config  Config
	logger  *slog.Logger
	metrics *relayMetrics
	mu      sync.Mutex
	relays  []*Relay
	subIds  map[*Relay]event.SubscriberId
}

func NewManager(cfg Config) (*Manager, error) {
	if cfg.EventBus == nil {
		return nil, errors.New("relay manager requires an event bus")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = DefaultPublishTimeout
	}
	m := &Manager{
		config: cfg,
		logger: cfg.Logger.With("component", "relay"),
		subIds: make(map[*Relay]event.SubscriberId),
	}
	if cfg.PromRegistry != nil {
		promautoFactory := promauto.With(cfg.PromRegistry)
		m.metrics = &relayMetrics{
			published: promautoFactory.NewCounterVec(
				prometheus.CounterOpts{
					Name: "auctioneer_relay_published_total",
					Help: "messages published to external brokers",
				},
				[]string{"relay"},
			),
			dropped: promautoFactory.NewCounterVec(
				prometheus.CounterOpts{
					Name: "auctioneer_relay_dropped_total",
					Help: "messages dropped because a relay queue was full",
				},
				[]string{"relay"},
			),
			failed: promautoFactory.NewCounterVec(
				prometheus.CounterOpts{
					Name: "auctioneer_relay_publish_failures_total",
					Help: "failed publishes to external brokers",
				},
				[]string{"relay"},
			),
		}
	}
	return m, nil
}

// Add starts a relay for the publisher and subscribes it to every auction
// message on the bus
func (m *Manager) Add(name string, pub Publisher, subject SubjectFunc) *Relay {
	r := &Relay{
		name:    name,
		pub:     pub,
		subject: subject,
		timeout: m.config.PublishTimeout,
		logger:  m.logger.With("relay", name),
		metrics: m.metrics,
		queue:   make(chan fanout.Message, m.config.QueueSize),
		doneCh:  make(chan struct{}),
	}
	go r.worker()
	subId := m.config.EventBus.RegisterSubscriber(event.TopicAll, r)
	m.mu.Lock()
	m.relays = append(m.relays, r)
	m.subIds[r] = subId
	m.mu.Unlock()
	m.logger.Info("relay started", "relay", name)
	return r
}

// Stop detaches every relay, flushes queued messages and closes the
// broker clients
func (m *Manager) Stop() error {
	m.mu.Lock()
	relays := m.relays
	subIds := m.subIds
	m.relays = nil
	m.subIds = make(map[*Relay]event.SubscriberId)
	m.mu.Unlock()
	var errs []error
	for _, r := range relays {
		m.config.EventBus.Unsubscribe(event.TopicAll, subIds[r])
		r.Close()
		<-r.doneCh
		if err := r.pub.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close relay %s: %w", r.name, err))
		}
	}
	return errors.Join(errs...)
}

// Relay is an event bus subscriber that forwards auction messages to one
// broker. Deliver never blocks; when the queue is full the message is
// dropped and counted. Remote consumers detect the gap by server_seq
type Relay struct {
	name      string
	pub       Publisher
	subject   SubjectFunc
	timeout   time.Duration
	logger    *slog.Logger
	metrics   *relayMetrics
	queue     chan fanout.Message
	doneCh    chan struct{}
	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
}

func (r *Relay) Deliver(evt event.Event) error {
	msg, ok := evt.Data.(fanout.Message)
	if !ok {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return nil
	}
	select {
	case r.queue <- msg:
	default:
		if r.metrics != nil {
			r.metrics.dropped.WithLabelValues(r.name).Inc()
		}
		r.logger.Warn(
			"relay queue full, dropping message",
			"auction_id", msg.AuctionID,
			"server_seq", msg.ServerSeq,
		)
	}
	return nil
}

// Close stops accepting messages. Queued messages are still published
func (r *Relay) Close() {
	r.closeOnce.Do(func() {
		r.mu.Lock()
		r.closed = true
		close(r.queue)
		r.mu.Unlock()
	})
}

func (r *Relay) worker() {
	defer close(r.doneCh)
	for msg := range r.queue {
		if err := r.publish(msg); err != nil {
			if r.metrics != nil {
				r.metrics.failed.WithLabelValues(r.name).Inc()
			}
			r.logger.Error(
				"relay publish failed",
				"auction_id", msg.AuctionID,
				"server_seq", msg.ServerSeq,
				"error", err,
			)
			continue
		}
		if r.metrics != nil {
			r.metrics.published.WithLabelValues(r.name).Inc()
		}
	}
}

func (r *Relay) publish(msg fanout.Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	return r.pub.Publish(ctx, r.subject(msg.AuctionID), payload)
}
