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

package usb

import (
	"sync"

	"github.com/coreklabs/corekernel/internal/kerrno"
	"github.com/coreklabs/corekernel/roundrobinslice"
	"golang.org/x/sync/errgroup"
)

// PortEvent is one port-status-change notification a hub's
// status-change endpoint reports.
type PortEvent struct {
	Port    int
	Tier    int
	Changed bool
}

// PortResetFunc resets port and returns the slot id the controller
// assigned to whatever device answered, or ENODEV if the port came back
// empty (disconnected before reset completed).
type PortResetFunc func(port int) (slotID int, errno kerrno.Errno)

// HubDriver implements §4.J's "Hub driver": a background task polls
// port-status-change endpoints, resets changed ports, and registers new
// devices. Port resets within one hub are serialized per tier — a
// tier-n hub must finish every reset it owns before any tier-n+1 hub
// begins one, to avoid every newly-reset device colliding on USB's
// address-0 default state.
type HubDriver struct {
	controller  *Controller
	resetPort   PortResetFunc
	onEnumerate func(slotID int, tier int)

	mu       sync.Mutex
	tierDone map[int]chan struct{}

	rootPorts *roundrobinslice.RoundRobinSlice[int]
}

func NewHubDriver(c *Controller, resetPort PortResetFunc, onEnumerate func(slotID int, tier int)) *HubDriver {
	return &HubDriver{
		controller:  c,
		resetPort:   resetPort,
		onEnumerate: onEnumerate,
		tierDone:    make(map[int]chan struct{}),
	}
}

// SetRootPorts registers the root hub's port numbers for the background
// poll task to cycle through. Each call to NextRootPortToPoll hands back
// the next port in rotation, giving every root port an equal share of
// polling attention regardless of how long any one port's status-change
// handling takes.
func (h *HubDriver) SetRootPorts(ports []int) {
	h.rootPorts = roundrobinslice.New(ports)
}

// NextRootPortToPoll returns the next root port the poll task should
// check for a status-change event, or ok == false if no root ports have
// been registered.
func (h *HubDriver) NextRootPortToPoll() (port int, ok bool) {
	if h.rootPorts == nil {
		return 0, false
	}
	return h.rootPorts.Get()
}

// waitForTier blocks until every port reset registered for tier-1 has
// completed, so tier-n work never starts before tier-(n-1) finishes.
// Tier 0 (the root hub's own ports) has nothing to wait for.
func (h *HubDriver) waitForTier(tier int) {
	if tier <= 0 {
		return
	}
	h.mu.Lock()
	ch, ok := h.tierDone[tier-1]
	h.mu.Unlock()
	if ok {
		<-ch
	}
}

func (h *HubDriver) markTierDone(tier int) {
	h.mu.Lock()
	ch, ok := h.tierDone[tier]
	if !ok {
		ch = make(chan struct{})
		h.tierDone[tier] = ch
	}
	h.mu.Unlock()
	close(ch)
}

// HandlePortEvents resets every changed port in events concurrently
// within their own tier, but only after the preceding tier's resets have
// all completed. Each reset's enumeration failure is reported but does
// not stop the others in the same tier.
func (h *HubDriver) HandlePortEvents(events []PortEvent) error {
	byTier := make(map[int][]PortEvent)
	maxTier := 0
	for _, e := range events {
		if !e.Changed {
			continue
		}
		byTier[e.Tier] = append(byTier[e.Tier], e)
		if e.Tier > maxTier {
			maxTier = e.Tier
		}
	}

	for tier := 0; tier <= maxTier; tier++ {
		ports := byTier[tier]
		h.waitForTier(tier)

		var g errgroup.Group
		for _, e := range ports {
			e := e
			g.Go(func() error {
				slotID, errno := h.resetPort(e.Port)
				if errno != 0 {
					if errno == kerrno.ENODEV {
						return nil // port emptied before reset finished; not an error
					}
					return errno
				}
				h.onEnumerate(slotID, e.Tier)
				return nil
			})
		}
		err := g.Wait()
		h.markTierDone(tier)
		if err != nil {
			return err
		}
	}
	return nil
}
