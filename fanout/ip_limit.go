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
	"net"
	"sync"
)

// IPKey extracts a limit key from a remote address, with or without a
// port. For IPv4 addresses the key is the bare IP string. For IPv6
// addresses the key is the /64 prefix so that a client rotating within a
// single /64 subnet is still counted as one source. Anything that does not
// parse as an IP returns an empty string and is exempt from limiting.
func IPKey(remoteAddr string) string {
	host := remoteAddr
	if tmpHost, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = tmpHost
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return ""
	}
	// IPv4 or IPv4-mapped IPv6: use the full address as the key
	if ip4 := ip.To4(); ip4 != nil {
		return ip4.String()
	}
	// IPv6: mask to /64 prefix to handle subnet rotation
	mask := net.CIDRMask(64, 128)
	return ip.Mask(mask).String() + "/64"
}

type ipLimiter struct {
	mu    sync.Mutex
	max   int
	conns map[string]int
}

func newIPLimiter(maxPerIP int) *ipLimiter {
	return &ipLimiter{
		max:   maxPerIP,
		conns: make(map[string]int),
	}
}

// acquire attempts to reserve a subscriber slot for the given IP key. It
// returns false if the per-IP limit has been reached.
func (l *ipLimiter) acquire(ipKey string) bool {
	if ipKey == "" || l.max <= 0 {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conns[ipKey] >= l.max {
		return false
	}
	l.conns[ipKey]++
	return true
}

// release decrements the subscriber count for the given IP key.
func (l *ipLimiter) release(ipKey string) {
	if ipKey == "" || l.max <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.conns[ipKey]--
	if l.conns[ipKey] <= 0 {
		delete(l.conns, ipKey)
	}
}

func (l *ipLimiter) count(ipKey string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.conns[ipKey]
}
