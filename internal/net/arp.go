// Copyright 2024 Google Inc. All Rights Reserved.
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

package net

import (
	"sync"
	"time"

	"github.com/coreklabs/corekernel/internal/kerrno"
	"github.com/coreklabs/corekernel/internal/sched"
	"github.com/coreklabs/corekernel/ttlcache"
)

// IPv4Addr is a 4-byte IPv4 address.
type IPv4Addr [4]byte

const arpCacheTTL = 5 * time.Minute

// ARPCache resolves IPv4 addresses to hardware addresses, per §4.K's
// "ARP" contract: broadcast-request on miss with a blocking sender,
// unconditional update on gratuitous ARP or a reply.
type ARPCache struct {
	cache *ttlcache.Cache[IPv4Addr, HardwareAddr]

	mu      sync.Mutex
	pending map[IPv4Addr][]*sched.Thread
	blocker *sched.ThreadBlocker
}

// SendRequestFunc broadcasts an ARP request for addr onto the wire.
type SendRequestFunc func(addr IPv4Addr)

func NewARPCache() *ARPCache {
	return &ARPCache{
		cache:   ttlcache.New[IPv4Addr, HardwareAddr](arpCacheTTL, time.Minute),
		pending: make(map[IPv4Addr][]*sched.Thread),
		blocker: sched.NewThreadBlocker(),
	}
}

// Update unconditionally installs the mac binding for addr, used for both
// gratuitous ARP and ARP replies (§4.K: "Gratuitous ARP and replies
// update the cache unconditionally"). Any threads blocked waiting on this
// address are woken.
func (a *ARPCache) Update(addr IPv4Addr, mac HardwareAddr) {
	a.cache.Set(addr, mac)

	a.mu.Lock()
	waiters := a.pending[addr]
	delete(a.pending, addr)
	a.mu.Unlock()

	for _, t := range waiters {
		a.blocker.Unblock(t)
	}
}

// Resolve looks addr up, broadcasting an ARP request and blocking the
// calling thread up to timeout on a cache miss. Returns ETIMEDOUT if no
// reply arrives in time, dropping the original packet per §4.K.
func (a *ARPCache) Resolve(t *sched.Thread, mu sync.Locker, addr IPv4Addr, sendRequest SendRequestFunc, timeout time.Duration, after func(func())) (HardwareAddr, kerrno.Errno) {
	if mac, ok := a.cache.Get(addr); ok {
		return mac, 0
	}

	mu.Lock()
	a.mu.Lock()
	_, inFlight := a.pending[addr]
	a.pending[addr] = append(a.pending[addr], t)
	a.mu.Unlock()
	if !inFlight {
		sendRequest(addr)
	}

	// BlockWithTimeoutNs drops mu for the wait and reacquires it before
	// returning, matching the lock-held-on-entry convention every
	// ThreadBlocker caller follows (internal/usb.Endpoint.Submit).
	result := a.blocker.BlockWithTimeoutNs(t, mu, timeout.Nanoseconds(), after)
	mu.Unlock()
	if result == sched.WaitTimedOut {
		a.mu.Lock()
		waiters := a.pending[addr]
		for i, w := range waiters {
			if w == t {
				a.pending[addr] = append(waiters[:i], waiters[i+1:]...)
				break
			}
		}
		a.mu.Unlock()
		return HardwareAddr{}, kerrno.ETIMEDOUT
	}

	mac, ok := a.cache.Get(addr)
	if !ok {
		return HardwareAddr{}, kerrno.ETIMEDOUT
	}
	return mac, 0
}
