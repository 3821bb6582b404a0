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

import "sync"

// replayCache keeps the most recent sequenced messages of one auction.
// Messages are held in a ring with contiguous sequence numbers
type replayCache struct {
	mu       sync.RWMutex
	messages []Message
	start    int
	count    int
}

func newReplayCache(size int) *replayCache {
	return &replayCache{
		messages: make([]Message, size),
	}
}

func (c *replayCache) last() (Message, bool) {
	if c.count == 0 {
		return Message{}, false
	}
	return c.messages[(c.start+c.count-1)%len(c.messages)], true
}

func (c *replayCache) add(msg Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if last, ok := c.last(); ok {
		if msg.ServerSeq <= last.ServerSeq {
			return
		}
		if msg.ServerSeq != last.ServerSeq+1 {
			// Keep the cache contiguous
			c.start = 0
			c.count = 0
		}
	}
	if c.count < len(c.messages) {
		c.messages[(c.start+c.count)%len(c.messages)] = msg
		c.count++
		return
	}
	c.messages[c.start] = msg
	c.start = (c.start + 1) % len(c.messages)
}

// between returns the messages with afterSeq < seq <= toSeq. The second
// return value is false if the cache does not hold the whole range
func (c *replayCache) between(afterSeq uint64, toSeq uint64) ([]Message, bool) {
	if toSeq <= afterSeq {
		return nil, true
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.count == 0 {
		return nil, false
	}
	first := c.messages[c.start]
	last, _ := c.last()
	if first.ServerSeq > afterSeq+1 || last.ServerSeq < toSeq {
		return nil, false
	}
	ret := make([]Message, 0, toSeq-afterSeq)
	for i := range c.count {
		msg := c.messages[(c.start+i)%len(c.messages)]
		if msg.ServerSeq <= afterSeq {
			continue
		}
		if msg.ServerSeq > toSeq {
			break
		}
		ret = append(ret, msg)
	}
	return ret, true
}
