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
	"sync"
	"sync/atomic"

	"github.com/blinklabs-io/auctioneer/event"
	"github.com/blinklabs-io/auctioneer/state"
)

// Subscription is one consumer of an auction's message stream
type Subscription struct {
	Snapshot state.Snapshot
	Replay   []Message
	service  *Service
	topic    event.Topic
	subId    event.SubscriberId
	sub      *event.ChannelSubscriber
	ipKey    string
	lastSeq  atomic.Uint64
	// lastStatus is the StatusVersion of the newest status delivered
	lastStatus atomic.Uint64
	closeOnce  sync.Once
}

// LastDeliveredSeq returns the highest ledger seq the consumer has been
// given, counting the snapshot and replay
func (s *Subscription) LastDeliveredSeq() uint64 {
	return s.lastSeq.Load()
}

// Next blocks until the next live message is available. It returns
// ErrResubscribe if the subscriber fell behind and ErrSubscriptionClosed
// after Close
func (s *Subscription) Next(ctx context.Context) (Message, error) {
	for {
		var evt event.Event
		var ok bool
		select {
		case <-ctx.Done():
			return Message{}, ctx.Err()
		case evt, ok = <-s.sub.Events():
		}
		if !ok {
			if s.sub.Err() != nil {
				s.fellBehind()
				return Message{}, ErrResubscribe
			}
			return Message{}, ErrSubscriptionClosed
		}
		msg, ok := evt.Data.(Message)
		if !ok {
			continue
		}
		if !msg.Sequenced() {
			// A transition published before the snapshot was taken can
			// still be queued; the snapshot already shows it
			if msg.StatusVersion <= s.lastStatus.Load() {
				continue
			}
			s.lastStatus.Store(msg.StatusVersion)
			return msg, nil
		}
		last := s.lastSeq.Load()
		if msg.ServerSeq <= last {
			// Already covered by the snapshot or replay
			continue
		}
		if msg.ServerSeq != last+1 {
			s.fellBehind()
			s.Close()
			return Message{}, ErrResubscribe
		}
		s.lastSeq.Store(msg.ServerSeq)
		return msg, nil
	}
}

func (s *Subscription) fellBehind() {
	if s.service.metrics != nil {
		s.service.metrics.resubscribes.Inc()
	}
	s.service.logger.Debug(
		"subscriber must resubscribe",
		"topic", s.topic,
		"last_seq", s.lastSeq.Load(),
	)
}

// Close ends the subscription. It is safe to call more than once
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		s.service.bus.Unsubscribe(s.topic, s.subId)
		s.service.ipLimiter.release(s.ipKey)
		if s.service.metrics != nil {
			s.service.metrics.subscriptions.Dec()
		}
	})
}
