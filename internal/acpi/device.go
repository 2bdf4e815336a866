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

import (
	"github.com/coreklabs/corekernel/internal/klog"
)

// DeviceKind distinguishes the namespace node types that participate in
// device initialisation (§4.I).
type DeviceKind int

const (
	KindScope DeviceKind = iota
	KindDevice
	KindProcessor
	KindThermalZone
	KindPowerResource
)

// DeviceNode augments a NamespaceNode with the device-init-relevant
// method references.
type DeviceNode struct {
	Namespace *NamespaceNode
	Kind      DeviceKind
	Children  []*DeviceNode

	STA *MethodBody // optional
	INI *MethodBody // optional, must be zero-arg
}

// InitWalk walks the device tree per §4.I: for each node, if _STA
// exists, call it; bit 0 of the result selects "run _INI", bit 1 selects
// "initialise children". If _STA is absent, both are on. Errors from any
// one node's methods are logged, not propagated — the walk never aborts.
func InitWalk(ip *Interpreter, root *DeviceNode) {
	initWalk(ip, root)
}

func initWalk(ip *Interpreter, node *DeviceNode) {
	runINI := true
	initChildren := true

	if node.STA != nil {
		result, errno := ip.Invoke(node.Namespace, node.STA, nil)
		if errno != 0 {
			klog.Warnf("acpi: _STA evaluation failed for %s: errno=%v", node.Namespace.Name, errno)
		} else {
			runINI = result.Integer&0x1 != 0
			initChildren = result.Integer&0x2 != 0
		}
	}

	if runINI && node.INI != nil {
		if node.INI.ArgCount != 0 {
			klog.Warnf("acpi: _INI must be zero-arg, skipping %s", node.Namespace.Name)
		} else if _, errno := ip.Invoke(node.Namespace, node.INI, nil); errno != 0 {
			klog.Warnf("acpi: _INI evaluation failed for %s: errno=%v", node.Namespace.Name, errno)
		}
	}

	if initChildren {
		for _, child := range node.Children {
			initWalk(ip, child)
		}
	}
}
