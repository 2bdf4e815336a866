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
	"fmt"

	"github.com/coreklabs/corekernel/internal/kerrno"
)

// ConvMask selects the target type of Node.Convert, per §4.I's evaluation
// contract.
type ConvMask int

const (
	ConvInteger ConvMask = 1 << iota
	ConvBuffer
	ConvString
	ConvBufferField
	ConvFieldUnit
)

// NodeKind distinguishes the concrete data types AML values can hold.
type NodeKind int

const (
	KindInteger NodeKind = iota
	KindString
	KindBuffer
	KindPackage
)

// Node is the evaluation contract every AML object satisfies (§4.I):
// evaluate, convert, store, copy.
type Node struct {
	Kind    NodeKind
	Integer uint64
	Str     string
	Buf     []byte
	Package []*Node
}

func NewInteger(v uint64) *Node { return &Node{Kind: KindInteger, Integer: v} }
func NewString(s string) *Node  { return &Node{Kind: KindString, Str: s} }
func NewBuffer(b []byte) *Node  { return &Node{Kind: KindBuffer, Buf: append([]byte(nil), b...)} }

// Evaluate returns n unchanged; named objects evaluate to themselves
// once stored, methods evaluate by execution (handled by the
// interpreter, not Node itself).
func (n *Node) Evaluate() *Node { return n }

// Convert implements the type-directed coercions from §4.I:
// Integer.convert(ConvInteger) is identity; String.convert(ConvBuffer)
// copies the raw bytes; Buffer.convert(ConvInteger) zero-extends the
// first 8 bytes little-endian; String.convert(ConvString) and
// Buffer.convert(ConvBuffer) return n itself. Other combinations return nil.
func (n *Node) Convert(mask ConvMask) *Node {
	switch n.Kind {
	case KindInteger:
		if mask&ConvInteger != 0 {
			return n
		}
	case KindString:
		if mask&ConvString != 0 {
			return n
		}
		if mask&ConvBuffer != 0 {
			return NewBuffer([]byte(n.Str))
		}
	case KindBuffer:
		if mask&ConvBuffer != 0 {
			return n
		}
		if mask&ConvInteger != 0 {
			var v uint64
			for i := 0; i < 8 && i < len(n.Buf); i++ {
				v |= uint64(n.Buf[i]) << uint(8*i)
			}
			return NewInteger(v)
		}
	case KindPackage:
		// Packages have no defined conversion target in §4.I; evaluated
		// directly by Index/DerefOf.
	}
	return nil
}

// Store copies src's value into n in place, matching AML's Store
// semantics of overwriting the destination's held value while keeping
// its identity (name) fixed.
func (n *Node) Store(src *Node) *Node {
	n.Kind = src.Kind
	n.Integer = src.Integer
	n.Str = src.Str
	n.Buf = append([]byte(nil), src.Buf...)
	n.Package = src.Package
	return n
}

// Copy returns a deep copy (CopyObject semantics: a new object, unlike
// Store which mutates in place).
func (n *Node) Copy() *Node {
	c := &Node{Kind: n.Kind, Integer: n.Integer, Str: n.Str, Buf: append([]byte(nil), n.Buf...)}
	for _, p := range n.Package {
		c.Package = append(c.Package, p.Copy())
	}
	return c
}

// Equal implements LEqual's type-directed comparison per ACPI §19: two
// nodes compare equal if, after converting the second to the first's
// type where defined, their values match.
func (n *Node) Equal(other *Node) (bool, kerrno.Errno) {
	switch n.Kind {
	case KindInteger:
		o := other.Convert(ConvInteger)
		if o == nil {
			return false, kerrno.EINVAL
		}
		return n.Integer == o.Integer, 0
	case KindString:
		o := other.Convert(ConvString)
		if o == nil {
			o = other.Convert(ConvBuffer)
			if o == nil {
				return false, kerrno.EINVAL
			}
			return n.Str == string(o.Buf), 0
		}
		return n.Str == o.Str, 0
	case KindBuffer:
		o := other.Convert(ConvBuffer)
		if o == nil {
			return false, kerrno.EINVAL
		}
		return string(n.Buf) == string(o.Buf), 0
	default:
		return false, kerrno.ENOTSUP
	}
}

func (n *Node) String() string {
	switch n.Kind {
	case KindInteger:
		return fmt.Sprintf("Integer(%#x)", n.Integer)
	case KindString:
		return fmt.Sprintf("String(%q)", n.Str)
	case KindBuffer:
		return fmt.Sprintf("Buffer(%d bytes)", len(n.Buf))
	case KindPackage:
		return fmt.Sprintf("Package(%d elements)", len(n.Package))
	}
	return "Node(?)"
}

// NamespaceNode is one entry in the ACPI namespace tree: a Scope,
// Device, Processor, ThermalZone, PowerResource, Method, Name, or Field.
type NamespaceNode struct {
	Name     string
	Parent   *NamespaceNode
	Children map[string]*NamespaceNode

	Value  *Node      // for Name-declared data objects
	Method *MethodBody // non-nil for Method nodes
}

func NewNamespaceNode(name string, parent *NamespaceNode) *NamespaceNode {
	return &NamespaceNode{Name: name, Parent: parent, Children: make(map[string]*NamespaceNode)}
}

// Lookup resolves a single name segment starting from n, walking up to
// the root if not found locally (AML's standard scoping search rule).
// The name is not split on dots: a multi-segment path only matches a
// child stored under that exact key.
func (n *NamespaceNode) Lookup(name string) (*NamespaceNode, bool) {
	for scope := n; scope != nil; scope = scope.Parent {
		if child, ok := scope.Children[name]; ok {
			return child, true
		}
	}
	return nil, false
}

// MethodBody is a compiled (here: pre-parsed) AML method: its opcode
// stream plus argument count.
type MethodBody struct {
	ArgCount int
	Ops      []Op
}
