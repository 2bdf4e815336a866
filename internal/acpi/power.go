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

package acpi

import "github.com/coreklabs/corekernel/internal/kerrno"

// SleepRegister is the SLP_TYPa/SLP_TYPb plus SLP_EN write target, as
// decoded from \_S5 and programmed per §4.I's power-transitions
// contract. The caller supplies the actual port/memory write.
type SleepRegister interface {
	WriteSleepControl(sleepType uint8, sleepEnable bool) kerrno.Errno
	WriteResetRegister(value byte) kerrno.Errno
}

// PowerController drives the two power transitions §4.I names.
type PowerController struct {
	ip   *Interpreter
	root *NamespaceNode
	reg  SleepRegister
}

func NewPowerController(ip *Interpreter, root *NamespaceNode, reg SleepRegister) *PowerController {
	return &PowerController{ip: ip, root: root, reg: reg}
}

// Poweroff evaluates \_PTS(5), then writes SLP_TYPa (the first element of
// \_S5) together with SLP_EN. Only that one sleep type is programmed; the
// SLP_TYPb element of \_S5 is not used.
func (p *PowerController) Poweroff() kerrno.Errno {
	if pts, ok := p.root.Lookup("_PTS"); ok && pts.Method != nil {
		if _, errno := p.ip.Invoke(p.root, pts.Method, []*Node{NewInteger(5)}); errno != 0 {
			return errno
		}
	}

	s5, ok := p.root.Lookup("_S5")
	if !ok || s5.Value == nil || s5.Value.Kind != KindPackage || len(s5.Value.Package) < 2 {
		return kerrno.ENODEV
	}
	sleepTypeA := uint8(s5.Value.Package[0].Integer)

	return p.reg.WriteSleepControl(sleepTypeA, true)
}

// Reset writes the FADT reset register.
func (p *PowerController) Reset(value byte) kerrno.Errno {
	return p.reg.WriteResetRegister(value)
}

// GPEHandler is a General-Purpose-Event dispatch target: the method
// named `_Lxx`/`_Exx` matching the GPE that fired.
type GPEHandler struct {
	Name   string
	Method *MethodBody
}

// EventDispatcher routes SCI-sourced GPEs to their matching handler
// method from the event thread, per §4.I "Interrupt routing".
type EventDispatcher struct {
	ip       *Interpreter
	root     *NamespaceNode
	handlers map[int]*GPEHandler
}

func NewEventDispatcher(ip *Interpreter, root *NamespaceNode) *EventDispatcher {
	return &EventDispatcher{ip: ip, root: root, handlers: make(map[int]*GPEHandler)}
}

// RegisterGPE installs the handler for GPE number gpe.
func (d *EventDispatcher) RegisterGPE(gpe int, h *GPEHandler) {
	d.handlers[gpe] = h
}

// Dispatch evaluates the handler registered for gpe, if any. Returns
// ENODEV if no `_Lxx`/`_Exx` method is registered for this GPE.
func (d *EventDispatcher) Dispatch(gpe int) kerrno.Errno {
	h, ok := d.handlers[gpe]
	if !ok {
		return kerrno.ENODEV
	}
	_, errno := d.ip.Invoke(d.root, h.Method, nil)
	return errno
}
