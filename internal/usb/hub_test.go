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

package usb_test

import (
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/coreklabs/corekernel/internal/kerrno"
	"github.com/coreklabs/corekernel/internal/usb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHubDriver_Tier1FinishesBeforeTier2Starts(t *testing.T) {
	var mu sync.Mutex
	var order []string

	resetPort := func(port int) (int, kerrno.Errno) {
		mu.Lock()
		order = append(order, "reset:"+portLabel(port))
		mu.Unlock()
		if port < 10 {
			time.Sleep(15 * time.Millisecond) // tier-1 port takes longer
		}
		return port, 0
	}

	h := usb.NewHubDriver(nil, resetPort, func(slotID int, tier int) {
		mu.Lock()
		order = append(order, "enum:"+portLabel(slotID))
		mu.Unlock()
	})

	err := h.HandlePortEvents([]usb.PortEvent{
		{Port: 1, Tier: 1, Changed: true},
		{Port: 20, Tier: 2, Changed: true},
	})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	// The tier-2 reset must appear after every tier-1 event (reset+enum).
	tier2Idx := indexOf(order, "reset:20")
	tier1EnumIdx := indexOf(order, "enum:1")
	require.NotEqual(t, -1, tier2Idx)
	require.NotEqual(t, -1, tier1EnumIdx)
	assert.Less(t, tier1EnumIdx, tier2Idx)
}

func TestHubDriver_PortEmptiedDuringResetIsNotAnError(t *testing.T) {
	resetPort := func(port int) (int, kerrno.Errno) { return 0, kerrno.ENODEV }
	h := usb.NewHubDriver(nil, resetPort, func(int, int) {})

	err := h.HandlePortEvents([]usb.PortEvent{{Port: 1, Tier: 0, Changed: true}})
	assert.NoError(t, err)
}

func TestHubDriver_UnchangedPortsAreIgnored(t *testing.T) {
	called := false
	resetPort := func(port int) (int, kerrno.Errno) { called = true; return port, 0 }
	h := usb.NewHubDriver(nil, resetPort, func(int, int) {})

	err := h.HandlePortEvents([]usb.PortEvent{{Port: 1, Tier: 0, Changed: false}})
	require.NoError(t, err)
	assert.False(t, called)
}

func TestHubDriver_ResetErrorPropagates(t *testing.T) {
	resetPort := func(port int) (int, kerrno.Errno) { return 0, kerrno.EIO }
	h := usb.NewHubDriver(nil, resetPort, func(int, int) {})

	err := h.HandlePortEvents([]usb.PortEvent{{Port: 1, Tier: 0, Changed: true}})
	assert.Error(t, err)
}

func TestHubDriver_NextRootPortToPollRotates(t *testing.T) {
	h := usb.NewHubDriver(nil, nil, nil)
	_, ok := h.NextRootPortToPoll()
	assert.False(t, ok, "no root ports registered yet")

	h.SetRootPorts([]int{1, 2, 3})
	seen := make([]int, 4)
	for i := range seen {
		port, ok := h.NextRootPortToPoll()
		require.True(t, ok)
		seen[i] = port
	}
	assert.Equal(t, []int{1, 2, 3, 1}, seen)
}

func portLabel(n int) string {
	return strconv.Itoa(n)
}

func indexOf(s []string, v string) int {
	for i, x := range s {
		if x == v {
			return i
		}
	}
	return -1
}
