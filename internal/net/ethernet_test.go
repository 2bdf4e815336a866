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

package net_test

import (
	"testing"

	netstack "github.com/coreklabs/corekernel/internal/net"
	"github.com/stretchr/testify/assert"
)

func TestL2Dispatcher_RoutesByEtherType(t *testing.T) {
	d := netstack.NewL2Dispatcher()

	var gotIPv4, gotARP netstack.Frame
	d.RegisterHandler(netstack.EtherTypeIPv4, func(f netstack.Frame) { gotIPv4 = f })
	d.RegisterHandler(netstack.EtherTypeARP, func(f netstack.Frame) { gotARP = f })

	ipv4Frame := netstack.Frame{Type: netstack.EtherTypeIPv4, Payload: []byte{1, 2, 3}}
	d.Dispatch(ipv4Frame)
	assert.Equal(t, ipv4Frame, gotIPv4)
	assert.Zero(t, gotARP)

	arpFrame := netstack.Frame{Type: netstack.EtherTypeARP, Payload: []byte{4, 5}}
	d.Dispatch(arpFrame)
	assert.Equal(t, arpFrame, gotARP)
}

func TestL2Dispatcher_UnregisteredTypeIsDropped(t *testing.T) {
	d := netstack.NewL2Dispatcher()
	called := false
	d.RegisterHandler(netstack.EtherTypeIPv4, func(netstack.Frame) { called = true })

	assert.NotPanics(t, func() {
		d.Dispatch(netstack.Frame{Type: netstack.EtherType(0x1234)})
	})
	assert.False(t, called)
}
