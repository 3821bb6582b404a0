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
	"sync"
)

// ChannelSubscriber is the in-memory subscriber. Deliver never blocks: when
// the queue is full the subscriber closes itself with ErrSubscriberOverflow
// rather than silently skipping an event
type ChannelSubscriber struct {
	ch     chan Event
	mu     sync.Mutex
	closed bool
	err    error
	done   chan struct{}
}

func NewChannelSubscriber(queueSize int) *ChannelSubscriber {
	return &ChannelSubscriber{
		ch:   make(chan Event, queueSize),
		done: make(chan struct{}),
	}
}

// Events returns the delivery channel. It is closed when the subscriber is
// closed; any events already queued remain readable
func (c *ChannelSubscriber) Events() <-chan Event {
	return c.ch
}

// Done is closed when the subscriber is closed
func (c *ChannelSubscriber) Done() <-chan struct{} {
	return c.done
}

// Err returns the reason the subscriber was closed, or nil
func (c *ChannelSubscriber) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *ChannelSubscriber) Deliver(evt Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		// Subscriber already closed; drop the event without returning an error.
		return nil
	}
	select {
	case c.ch <- evt:
		return nil
	default:
		return ErrSubscriberOverflow
	}
}

func (c *ChannelSubscriber) Close() {
	c.CloseWithError(nil)
}

// CloseWithError closes the subscriber and records err as the reason. Only
// the first close has any effect
func (c *ChannelSubscriber) CloseWithError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.err = err
	close(c.ch)
	close(c.done)
}
