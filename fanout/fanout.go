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

package fanout

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/blinklabs-io/auctioneer/event"
	"github.com/blinklabs-io/auctioneer/ledger"
	"github.com/blinklabs-io/auctioneer/state"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	DefaultReplayCacheSize     = 1024
	DefaultSubscriberQueueSize = 256
)

var (
	// ErrResubscribe is returned by Subscription.Next when the subscriber
	// fell behind and its queued messages were discarded. The consumer
	// must subscribe again with its last delivered seq
	ErrResubscribe        = errors.New("subscriber fell behind, resubscribe required")
	ErrSubscriptionClosed = errors.New("subscription closed")
	ErrAuctionNotFound    = state.ErrAuctionNotFound
	ErrTooManySubscribers = errors.New("too many subscribers from this address")
)

type Config struct {
	Logger       *slog.Logger
	PromRegistry prometheus.Registerer
	EventBus     *event.EventBus
	Ledger       *ledger.Ledger
	State        *state.Store
	// ReplayCacheSize is the number of recent messages kept per auction
	ReplayCacheSize     int
	SubscriberQueueSize int
	// MaxSubscribersPerIP limits concurrent subscriptions per source
	// address. Zero disables the limit
	MaxSubscribersPerIP int
}

type fanoutMetrics struct {
	published     *prometheus.CounterVec
	subscriptions prometheus.Gauge
	replayed      *prometheus.CounterVec
	resubscribes  prometheus.Counter
}

// Service broadcasts auction changes to subscribers and replays missed
// messages to reconnecting ones
type Service struct {
	config    Config
	logger    *slog.Logger
	bus       *event.EventBus
	ledger    *ledger.Ledger
	state     *state.Store
	caches    sync.Map // auction ID -> *replayCache
	ipLimiter *ipLimiter
	metrics   *fanoutMetrics
}

func New(cfg Config) (*Service, error) {
	if cfg.EventBus == nil {
		return nil, errors.New("fanout requires an event bus")
	}
	if cfg.State == nil {
		return nil, errors.New("fanout requires a state store")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if cfg.ReplayCacheSize <= 0 {
		cfg.ReplayCacheSize = DefaultReplayCacheSize
	}
	if cfg.SubscriberQueueSize <= 0 {
		cfg.SubscriberQueueSize = DefaultSubscriberQueueSize
	}
	s := &Service{
		config:    cfg,
		logger:    cfg.Logger.With("component", "fanout"),
		bus:       cfg.EventBus,
		ledger:    cfg.Ledger,
		state:     cfg.State,
		ipLimiter: newIPLimiter(cfg.MaxSubscribersPerIP),
	}
	if cfg.PromRegistry != nil {
		promautoFactory := promauto.With(cfg.PromRegistry)
		s.metrics = &fanoutMetrics{
			published: promautoFactory.NewCounterVec(
				prometheus.CounterOpts{
					Name: "auctioneer_fanout_messages_published_total",
					Help: "messages published by type",
				},
				[]string{"type"},
			),
			subscriptions: promautoFactory.NewGauge(prometheus.GaugeOpts{
				Name: "auctioneer_fanout_subscriptions",
				Help: "open auction subscriptions",
			}),
			replayed: promautoFactory.NewCounterVec(
				prometheus.CounterOpts{
					Name: "auctioneer_fanout_replayed_messages_total",
					Help: "messages replayed to reconnecting subscribers by source",
				},
				[]string{"source"},
			),
			resubscribes: promautoFactory.NewCounter(prometheus.CounterOpts{
				Name: "auctioneer_fanout_resubscribe_total",
				Help: "subscriptions closed because the subscriber fell behind",
			}),
		}
	}
	return s, nil
}

func (s *Service) cacheFor(auctionID string) *replayCache {
	if tmp, ok := s.caches.Load(auctionID); ok {
		return tmp.(*replayCache)
	}
	tmp, _ := s.caches.LoadOrStore(
		auctionID,
		newReplayCache(s.config.ReplayCacheSize),
	)
	return tmp.(*replayCache)
}

// Publish caches a message for replay, if it is sequenced, and hands it to
// the event bus. It never blocks
func (s *Service) Publish(msg Message) {
	if msg.Sequenced() {
		s.cacheFor(msg.AuctionID).add(msg)
	}
	topic := AuctionTopic(msg.AuctionID)
	if !s.bus.PublishAsync(topic, event.NewEvent(topic, msg)) {
		s.logger.Warn(
			"message not queued, topic subscribers closed",
			"auction_id", msg.AuctionID,
			"server_seq", msg.ServerSeq,
		)
	}
	if s.metrics != nil {
		s.metrics.published.WithLabelValues(string(msg.Type)).Inc()
	}
}

// PublishEvent broadcasts a committed ledger event
func (s *Service) PublishEvent(evt ledger.Event, _ state.Snapshot) {
	s.Publish(MessageFromEvent(evt))
}

// PublishStatus broadcasts a status transition
func (s *Service) PublishStatus(from state.Status, snap state.Snapshot) {
	s.Publish(StatusMessage(from, snap))
}

// Forget drops the replay cache of an auction
func (s *Service) Forget(auctionID string) {
	s.caches.Delete(auctionID)
}

type subscribeOptions struct {
	remoteAddr string
}

type SubscribeOption func(*subscribeOptions)

// WithRemoteAddr attributes the subscription to a client address for the
// per-address limit
func WithRemoteAddr(remoteAddr string) SubscribeOption {
	return func(o *subscribeOptions) {
		o.remoteAddr = remoteAddr
	}
}

// Subscribe opens a subscription to an auction. The returned subscription
// carries the current snapshot and, when sinceSeq is given, the messages
// after sinceSeq up to the snapshot. Next then yields live messages after
// the snapshot without gaps or duplicates
func (s *Service) Subscribe(
	ctx context.Context,
	auctionID string,
	sinceSeq *uint64,
	opts ...SubscribeOption,
) (*Subscription, error) {
	var options subscribeOptions
	for _, opt := range opts {
		opt(&options)
	}
	if _, ok := s.state.Get(auctionID); !ok {
		return nil, ErrAuctionNotFound
	}
	ipKey := IPKey(options.remoteAddr)
	if !s.ipLimiter.acquire(ipKey) {
		return nil, ErrTooManySubscribers
	}
	topic := AuctionTopic(auctionID)
	// Register for live messages before reading the snapshot so that
	// nothing committed after the snapshot can be missed
	subId, sub := s.bus.Subscribe(topic, s.config.SubscriberQueueSize)
	if subId == 0 {
		s.ipLimiter.release(ipKey)
		return nil, event.ErrBusStopped
	}
	snap, ok := s.state.Get(auctionID)
	if !ok {
		s.bus.Unsubscribe(topic, subId)
		s.ipLimiter.release(ipKey)
		return nil, ErrAuctionNotFound
	}
	var replay []Message
	if sinceSeq != nil && *sinceSeq < snap.LastSeq {
		var err error
		replay, err = s.backlog(ctx, auctionID, *sinceSeq, snap.LastSeq)
		if err != nil {
			s.bus.Unsubscribe(topic, subId)
			s.ipLimiter.release(ipKey)
			return nil, fmt.Errorf("read replay backlog: %w", err)
		}
	}
	ret := &Subscription{
		Snapshot: snap,
		Replay:   replay,
		service:  s,
		topic:    topic,
		subId:    subId,
		sub:      sub,
		ipKey:    ipKey,
	}
	ret.lastSeq.Store(snap.LastSeq)
	ret.lastStatus.Store(snap.StatusVersion)
	if s.metrics != nil {
		s.metrics.subscriptions.Inc()
	}
	s.logger.Debug(
		"subscription opened",
		"auction_id", auctionID,
		"snapshot_seq", snap.LastSeq,
		"replayed", len(replay),
	)
	return ret, nil
}

// backlog returns the sequenced messages with afterSeq < seq <= toSeq
func (s *Service) backlog(
	ctx context.Context,
	auctionID string,
	afterSeq uint64,
	toSeq uint64,
) ([]Message, error) {
	if msgs, ok := s.cacheFor(auctionID).between(afterSeq, toSeq); ok {
		if s.metrics != nil {
			s.metrics.replayed.WithLabelValues("cache").Add(float64(len(msgs)))
		}
		return msgs, nil
	}
	if s.ledger == nil {
		return nil, errors.New("replay range not cached and no ledger configured")
	}
	events, err := s.ledger.ReadRange(ctx, auctionID, afterSeq+1, toSeq)
	if err != nil {
		return nil, err
	}
	ret := make([]Message, 0, len(events))
	for _, evt := range events {
		ret = append(ret, MessageFromEvent(evt))
	}
	if s.metrics != nil {
		s.metrics.replayed.WithLabelValues("ledger").Add(float64(len(ret)))
	}
	return ret, nil
}

// SubscriberCount returns the number of open subscriptions for an auction
func (s *Service) SubscriberCount(auctionID string) int {
	return s.bus.SubscriberCount(AuctionTopic(auctionID))
}
