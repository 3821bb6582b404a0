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

package sequencer

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// bidderIdleTimeout is how long an unused bidder limiter is kept
	bidderIdleTimeout = 10 * time.Minute
	// bidderPruneThreshold is the limiter count above which idle entries
	// are pruned
	bidderPruneThreshold = 10_000
)

type bidderLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// bidderRateLimiter manages per-bidder token buckets
type bidderRateLimiter struct {
	mu      sync.Mutex
	bidders map[string]*bidderLimiter
	limit   rate.Limit
	burst   int
	nowFunc func() time.Time
}

func newBidderRateLimiter(
	limit float64,
	burst int,
	nowFunc func() time.Time,
) *bidderRateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &bidderRateLimiter{
		bidders: make(map[string]*bidderLimiter),
		limit:   rate.Limit(limit),
		burst:   burst,
		nowFunc: nowFunc,
	}
}

// Allow consumes one token for the bidder. Returns false if the bidder is
// over its rate
func (rl *bidderRateLimiter) Allow(bidderID string) bool {
	now := rl.nowFunc()
	rl.mu.Lock()
	entry, ok := rl.bidders[bidderID]
	if !ok {
		if len(rl.bidders) >= bidderPruneThreshold {
			rl.prune(now)
		}
		entry = &bidderLimiter{
			limiter: rate.NewLimiter(rl.limit, rl.burst),
		}
		rl.bidders[bidderID] = entry
	}
	entry.lastSeen = now
	rl.mu.Unlock()
	return entry.limiter.AllowN(now, 1)
}

// prune removes idle bidders. Must be called with rl.mu held
func (rl *bidderRateLimiter) prune(now time.Time) {
	for id, entry := range rl.bidders {
		if now.Sub(entry.lastSeen) > bidderIdleTimeout {
			delete(rl.bidders, id)
		}
	}
}
