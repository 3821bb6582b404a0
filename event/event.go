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

package event

import (
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	DefaultSubscriberQueueSize = 256
	DefaultAsyncQueueSize      = 1024
	DefaultAsyncWorkerCount    = 4

	// TopicAll receives every event published on the bus
	TopicAll Topic = "*"
)

var (
	ErrSubscriberOverflow = errors.New("subscriber queue overflow")
	ErrTopicOverflow      = errors.New("topic queue overflow")
	ErrBusStopped         = errors.New("event bus stopped")
)

type Topic string

type SubscriberId uint64

type HandlerFunc func(Event)

type Event struct {
	Timestamp time.Time
	Topic     Topic
	Data      any
}

func NewEvent(topic Topic, data any) Event {
	return Event{
		Topic:     topic,
		Timestamp: time.Now(),
		Data:      data,
	}
}

// Subscriber is a delivery abstraction that allows the EventBus to deliver
// events to in-memory queues and to network-backed relays via the same
// interface. Deliver must not block. Returning an error from Deliver
// removes the subscriber from the bus and closes it.
// Implementations must ensure Close() is idempotent and safe to call multiple times.
type Subscriber interface {
	Deliver(Event) error
	Close()
}

// closeReasoner is implemented by subscribers that record why they were
// closed
type closeReasoner interface {
	CloseWithError(error)
}

type BusOption func(*EventBus)

// WithAsyncWorkers sets the number of async delivery workers. Each topic is
// always handled by the same worker
func WithAsyncWorkers(count int) BusOption {
	return func(e *EventBus) {
		if count > 0 {
			e.workerCount = count
		}
	}
}

// WithAsyncQueueSize sets the queue depth of each async worker
func WithAsyncQueueSize(size int) BusOption {
	return func(e *EventBus) {
		if size > 0 {
			e.queueSize = size
		}
	}
}

type EventBus struct {
	subscribers map[Topic]map[SubscriberId]Subscriber
	metrics     *eventMetrics
	logger      *slog.Logger
	lastSubId   SubscriberId
	mu          sync.RWMutex

	// Async publishing. Topics are sharded across workers so that events
	// for a single topic are delivered in publish order
	workerCount int
	queueSize   int
	shards      []chan Event
	asyncWg     sync.WaitGroup
	stopCh      chan struct{}
	stopOnce    sync.Once
	stopMu      sync.RWMutex
	stopped     bool
}

// NewEventBus creates a new EventBus and starts its async workers
func NewEventBus(
	promRegistry prometheus.Registerer,
	logger *slog.Logger,
	opts ...BusOption,
) *EventBus {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	e := &EventBus{
		subscribers: make(map[Topic]map[SubscriberId]Subscriber),
		logger:      logger.With("component", "event"),
		workerCount: DefaultAsyncWorkerCount,
		queueSize:   DefaultAsyncQueueSize,
		stopCh:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	if promRegistry != nil {
		e.initMetrics(promRegistry)
	}
	e.shards = make([]chan Event, e.workerCount)
	for i := range e.shards {
		e.shards[i] = make(chan Event, e.queueSize)
		e.asyncWg.Add(1)
		go e.asyncWorker(e.shards[i])
	}
	return e
}

// asyncWorker processes events from one shard of the async queue
func (e *EventBus) asyncWorker(queue chan Event) {
	defer e.asyncWg.Done()
	for {
		select {
		case <-e.stopCh:
			return
		case evt := <-queue:
			e.Publish(evt.Topic, evt)
		}
	}
}

func (e *EventBus) shardFor(topic Topic) chan Event {
	h := fnv.New32a()
	_, _ = h.Write([]byte(topic))
	return e.shards[h.Sum32()%uint32(len(e.shards))] //nolint:gosec
}

// Subscribe registers an in-memory subscriber with a bounded queue. A
// queue size of 0 uses DefaultSubscriberQueueSize
func (e *EventBus) Subscribe(
	topic Topic,
	queueSize int,
) (SubscriberId, *ChannelSubscriber) {
	if queueSize <= 0 {
		queueSize = DefaultSubscriberQueueSize
	}
	sub := NewChannelSubscriber(queueSize)
	subId := e.register(topic, sub, "in-memory")
	if subId == 0 {
		sub.CloseWithError(ErrBusStopped)
	}
	return subId, sub
}

// SubscribeFunc calls handlerFunc for each event on the topic from a
// dedicated goroutine
func (e *EventBus) SubscribeFunc(
	topic Topic,
	handlerFunc HandlerFunc,
) SubscriberId {
	subId, sub := e.Subscribe(topic, 0)
	go func() {
		for evt := range sub.Events() {
			handlerFunc(evt)
		}
	}()
	return subId
}

// RegisterSubscriber allows external adapters (e.g., network-backed relays)
// to register with the EventBus. It returns the assigned subscriber id, or
// 0 if the bus has been stopped.
func (e *EventBus) RegisterSubscriber(
	topic Topic,
	sub Subscriber,
) SubscriberId {
	return e.register(topic, sub, "remote")
}

func (e *EventBus) register(
	topic Topic,
	sub Subscriber,
	kind string,
) SubscriberId {
	e.stopMu.RLock()
	defer e.stopMu.RUnlock()
	if e.stopped {
		return 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	subId := e.lastSubId + 1
	e.lastSubId = subId
	if _, ok := e.subscribers[topic]; !ok {
		e.subscribers[topic] = make(map[SubscriberId]Subscriber)
	}
	e.subscribers[topic][subId] = sub
	if e.metrics != nil {
		e.metrics.subscribers.WithLabelValues(kind).Inc()
	}
	return subId
}

func subscriberKind(sub Subscriber) string {
	if _, ok := sub.(*ChannelSubscriber); ok {
		return "in-memory"
	}
	return "remote"
}

func (e *EventBus) remove(topic Topic, subId SubscriberId) Subscriber {
	e.mu.Lock()
	defer e.mu.Unlock()
	evtTypeSubs, ok := e.subscribers[topic]
	if !ok {
		return nil
	}
	sub, ok := evtTypeSubs[subId]
	if !ok {
		return nil
	}
	delete(evtTypeSubs, subId)
	if len(evtTypeSubs) == 0 {
		delete(e.subscribers, topic)
	}
	if e.metrics != nil {
		e.metrics.subscribers.WithLabelValues(subscriberKind(sub)).Dec()
	}
	return sub
}

// Unsubscribe stops delivery of events on a topic for an existing
// subscriber and closes it
func (e *EventBus) Unsubscribe(topic Topic, subId SubscriberId) {
	if sub := e.remove(topic, subId); sub != nil {
		sub.Close()
	}
}

// SubscriberCount returns the number of subscribers on a topic
func (e *EventBus) SubscriberCount(topic Topic) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.subscribers[topic])
}

type subItem struct {
	topic Topic
	id    SubscriberId
	sub   Subscriber
}

func (e *EventBus) gather(topic Topic) []subItem {
	e.mu.RLock()
	defer e.mu.RUnlock()
	subs := e.subscribers[topic]
	all := e.subscribers[TopicAll]
	ret := make([]subItem, 0, len(subs)+len(all))
	for id, sub := range subs {
		ret = append(ret, subItem{topic: topic, id: id, sub: sub})
	}
	if topic != TopicAll {
		for id, sub := range all {
			ret = append(ret, subItem{topic: TopicAll, id: id, sub: sub})
		}
	}
	return ret
}

// Publish delivers an event to every subscriber of the topic and of
// TopicAll from the calling goroutine
func (e *EventBus) Publish(topic Topic, evt Event) {
	evt.Topic = topic
	for _, item := range e.gather(topic) {
		// Protect against panics inside subscriber Deliver implementations.
		var deliverErr error
		func() {
			defer func() {
				if r := recover(); r != nil {
					deliverErr = fmt.Errorf("subscriber deliver panic: %v", r)
				}
			}()
			deliverErr = item.sub.Deliver(evt)
		}()
		if deliverErr == nil {
			continue
		}
		// Unregister the failing subscriber
		if sub := e.remove(item.topic, item.id); sub != nil {
			if cr, ok := sub.(closeReasoner); ok {
				cr.CloseWithError(deliverErr)
			} else {
				sub.Close()
			}
		}
		if e.metrics != nil {
			e.metrics.deliveryErrors.WithLabelValues(subscriberKind(item.sub)).
				Inc()
		}
		e.logger.Debug(
			"event delivery error",
			"topic", item.topic,
			"subscriber_id", item.id,
			"error", deliverErr,
		)
	}
	if e.metrics != nil {
		e.metrics.eventsTotal.Inc()
	}
}

// PublishAsync enqueues an event for asynchronous delivery and returns
// immediately. Events for the same topic are delivered in the order they
// were enqueued. If the topic's queue is full the event cannot be
// delivered in order, so every subscriber of the topic is closed with
// ErrTopicOverflow and false is returned
func (e *EventBus) PublishAsync(topic Topic, evt Event) bool {
	e.stopMu.RLock()
	defer e.stopMu.RUnlock()
	if e.stopped {
		return false
	}
	evt.Topic = topic
	select {
	case e.shardFor(topic) <- evt:
		return true
	default:
	}
	e.logger.Warn(
		"async event queue full, closing topic subscribers",
		"topic", topic,
	)
	if e.metrics != nil {
		e.metrics.asyncDropped.Inc()
	}
	e.CloseTopic(topic, ErrTopicOverflow)
	return false
}

// CloseTopic removes and closes every subscriber of a topic. Subscribers
// that record a close reason are given err
func (e *EventBus) CloseTopic(topic Topic, err error) {
	e.mu.Lock()
	subs := e.subscribers[topic]
	delete(e.subscribers, topic)
	if e.metrics != nil {
		for _, sub := range subs {
			e.metrics.subscribers.WithLabelValues(subscriberKind(sub)).Dec()
		}
	}
	e.mu.Unlock()
	for _, sub := range subs {
		if cr, ok := sub.(closeReasoner); ok && err != nil {
			cr.CloseWithError(err)
		} else {
			sub.Close()
		}
	}
}

// Stop shuts down the async workers and closes all subscribers. Events
// still queued for async delivery are discarded. The bus cannot be reused
func (e *EventBus) Stop() {
	e.stopOnce.Do(func() {
		e.stopMu.Lock()
		e.stopped = true
		e.stopMu.Unlock()
		close(e.stopCh)
		e.asyncWg.Wait()

		e.mu.Lock()
		subsCopy := e.subscribers
		e.subscribers = make(map[Topic]map[SubscriberId]Subscriber)
		e.mu.Unlock()
		for _, topicSubs := range subsCopy {
			for _, sub := range topicSubs {
				sub.Close()
			}
		}
		if e.metrics != nil {
			e.metrics.subscribers.Reset()
		}
	})
}
