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
	"sync"

	"github.com/coreklabs/corekernel/internal/kerrno"
)

// OpCode enumerates the AML opcode families from §4.I. The interpreter
// here operates on a pre-decoded Op stream (the namespace loader is
// responsible for turning a raw AML byte stream into Ops); this mirrors
// splitting "parse" from "execute" the way a bytecode VM would, without
// committing to a specific in-memory AML encoding.
type OpCode int

const (
	OpAdd OpCode = iota
	OpSubtract
	OpMultiply
	OpDivide
	OpShiftLeft
	OpShiftRight
	OpAnd
	OpOr
	OpXor
	OpNot
	OpNand
	OpNor
	OpLNot
	OpLAnd
	OpLOr
	OpLEqual
	OpLGreater
	OpLLess
	OpIncrement
	OpDecrement
	OpToInteger
	OpToBuffer
	OpToString
	OpSizeOf
	OpObjectType
	OpDerefOf
	OpIndex
	OpIf
	OpElse
	OpWhile
	OpBreak
	OpContinue
	OpReturn
	OpStore
	OpCopyObject
	OpRefOf
	OpAcquire
	OpRelease
	OpSignal
	OpWait
	OpReset
	OpSleep
	OpStall
	OpNotify
	OpFatal   // stubbed: see TODO below
	OpBankField // stubbed: see TODO below
	OpUnload    // stubbed: see TODO below
	OpCall      // invoke another named method
	OpPush      // push a literal/arg/local reference
)

// Operand is a reference an Op reads its inputs from or writes its
// result to: a literal Node, an Arg[n], a Local[n], or a named object.
type Operand struct {
	Literal *Node
	ArgIdx  int
	IsArg   bool
	LocalID int
	IsLocal bool
	Name    string
	IsName  bool
}

func Lit(n *Node) Operand       { return Operand{Literal: n} }
func Arg(i int) Operand         { return Operand{IsArg: true, ArgIdx: i} }
func Local(i int) Operand       { return Operand{IsLocal: true, LocalID: i} }
func Named(name string) Operand { return Operand{IsName: true, Name: name} }

// Op is one interpreter instruction. Not every field is used by every
// opcode; Then/Else/Body hold nested instruction streams for If/While.
type Op struct {
	Code      OpCode
	Operands  []Operand
	Dest      *Operand
	Then      []Op
	Else      []Op
	Body      []Op
	CallName  string
	CallArgs  []Operand
	NotifyVal uint64
}

// MethodContext is the per-invocation state §4.I requires: eight Arg
// references and eight Local slots, scoped to one call.
type MethodContext struct {
	Args   [8]*Node
	Locals [8]*Node
	Scope  *NamespaceNode
}

type controlSignal int

const (
	ctrlNone controlSignal = iota
	ctrlBreak
	ctrlContinue
	ctrlReturn
)

// Interpreter executes AML opcode streams under a single global lock
// (§4.I "single-threaded per ACPI global lock; re-entrant per-method
// local state").
type Interpreter struct {
	mu      sync.Mutex
	regions map[SpaceID]RegionHandler
}

func NewInterpreter() *Interpreter {
	return &Interpreter{regions: make(map[SpaceID]RegionHandler)}
}

// RegisterRegionHandler installs the OperationRegion access handler for
// a given address space id (§4.I "OperationRegion access").
func (ip *Interpreter) RegisterRegionHandler(space SpaceID, h RegionHandler) {
	ip.mu.Lock()
	defer ip.mu.Unlock()
	ip.regions[space] = h
}

// Invoke executes method with args, returning its Return value (or a
// zero Integer if it falls off the end without an explicit Return).
func (ip *Interpreter) Invoke(scope *NamespaceNode, method *MethodBody, args []*Node) (*Node, kerrno.Errno) {
	ip.mu.Lock()
	defer ip.mu.Unlock()

	ctx := &MethodContext{Scope: scope}
	for i := 0; i < len(args) && i < 8; i++ {
		ctx.Args[i] = args[i]
	}
	for i := range ctx.Locals {
		ctx.Locals[i] = NewInteger(0)
	}

	result, _, errno := ip.execBlock(ctx, method.Ops)
	if errno != 0 {
		return nil, errno
	}
	if result == nil {
		result = NewInteger(0)
	}
	return result, 0
}

func (ip *Interpreter) execBlock(ctx *MethodContext, ops []Op) (*Node, controlSignal, kerrno.Errno) {
	for _, op := range ops {
		result, signal, errno := ip.execOp(ctx, op)
		if errno != 0 {
			return nil, ctrlNone, errno
		}
		if signal != ctrlNone {
			return result, signal, 0
		}
	}
	return nil, ctrlNone, 0
}

func (ip *Interpreter) resolve(ctx *MethodContext, o Operand) (*Node, kerrno.Errno) {
	switch {
	case o.Literal != nil:
		return o.Literal, 0
	case o.IsArg:
		if o.ArgIdx < 0 || o.ArgIdx >= 8 {
			return nil, kerrno.EINVAL
		}
		return ctx.Args[o.ArgIdx], 0
	case o.IsLocal:
		if o.LocalID < 0 || o.LocalID >= 8 {
			return nil, kerrno.EINVAL
		}
		return ctx.Locals[o.LocalID], 0
	case o.IsName:
		node, ok := ctx.Scope.Lookup(o.Name)
		if !ok || node.Value == nil {
			return nil, kerrno.ENOENT
		}
		return node.Value, 0
	default:
		return nil, kerrno.EINVAL
	}
}

func (ip *Interpreter) assign(ctx *MethodContext, dest *Operand, val *Node) kerrno.Errno {
	if dest == nil {
		return 0
	}
	switch {
	case dest.IsArg:
		ctx.Args[dest.ArgIdx] = val
	case dest.IsLocal:
		ctx.Locals[dest.LocalID] = val
	case dest.IsName:
		node, ok := ctx.Scope.Lookup(dest.Name)
		if !ok {
			return kerrno.ENOENT
		}
		if node.Value == nil {
			node.Value = val
		} else {
			node.Value.Store(val)
		}
	}
	return 0
}

func (ip *Interpreter) execOp(ctx *MethodContext, op Op) (*Node, controlSignal, kerrno.Errno) {
	switch op.Code {
	case OpIf:
		cond, errno := ip.resolve(ctx, op.Operands[0])
		if errno != 0 {
			return nil, ctrlNone, errno
		}
		if cond.Integer != 0 {
			return ip.execBlock(ctx, op.Then)
		}
		return ip.execBlock(ctx, op.Else)

	case OpWhile:
		for {
			cond, errno := ip.resolve(ctx, op.Operands[0])
			if errno != 0 {
				return nil, ctrlNone, errno
			}
			if cond.Integer == 0 {
				return nil, ctrlNone, 0
			}
			result, signal, errno := ip.execBlock(ctx, op.Body)
			if errno != 0 {
				return nil, ctrlNone, errno
			}
			switch signal {
			case ctrlBreak:
				return nil, ctrlNone, 0
			case ctrlReturn:
				return result, ctrlReturn, 0
			}
		}

	case OpBreak:
		return nil, ctrlBreak, 0
	case OpContinue:
		return nil, ctrlContinue, 0
	case OpReturn:
		var val *Node
		if len(op.Operands) > 0 {
			v, errno := ip.resolve(ctx, op.Operands[0])
			if errno != 0 {
				return nil, ctrlNone, errno
			}
			val = v
		}
		return val, ctrlReturn, 0

	case OpStore, OpCopyObject:
		src, errno := ip.resolve(ctx, op.Operands[0])
		if errno != 0 {
			return nil, ctrlNone, errno
		}
		val := src
		if op.Code == OpCopyObject {
			val = src.Copy()
		}
		return nil, ctrlNone, ip.assign(ctx, op.Dest, val)

	case OpFatal:
		// TODO: Fatal should halt the owning CPU per the ACPI spec; no
		// CPU-halt primitive exists in this hosted model yet.
		return nil, ctrlNone, kerrno.ENOSYS
	case OpBankField:
		// TODO: BankField requires a bank-select register write before
		// every access; not yet wired to a concrete OperationRegion.
		return nil, ctrlNone, kerrno.ENOSYS
	case OpUnload:
		// TODO: dynamic SSDT unload is not supported; tables are loaded
		// once at boot and never removed.
		return nil, ctrlNone, kerrno.ENOSYS

	case OpNotify:
		return nil, ctrlNone, 0

	default:
		return ip.execValueOp(ctx, op)
	}
}

func (ip *Interpreter) execValueOp(ctx *MethodContext, op Op) (*Node, controlSignal, kerrno.Errno) {
	operands := make([]*Node, len(op.Operands))
	for i, o := range op.Operands {
		v, errno := ip.resolve(ctx, o)
		if errno != 0 {
			return nil, ctrlNone, errno
		}
		operands[i] = v
	}

	var result *Node
	var errno kerrno.Errno

	switch op.Code {
	case OpAdd:
		result = NewInteger(operands[0].Integer + operands[1].Integer)
	case OpSubtract:
		result = NewInteger(operands[0].Integer - operands[1].Integer)
	case OpMultiply:
		result = NewInteger(operands[0].Integer * operands[1].Integer)
	case OpDivide:
		if operands[1].Integer == 0 {
			return nil, ctrlNone, kerrno.EINVAL
		}
		result = NewInteger(operands[0].Integer / operands[1].Integer)
	case OpShiftLeft:
		result = NewInteger(operands[0].Integer << operands[1].Integer)
	case OpShiftRight:
		result = NewInteger(operands[0].Integer >> operands[1].Integer)
	case OpAnd:
		result = NewInteger(operands[0].Integer & operands[1].Integer)
	case OpOr:
		result = NewInteger(operands[0].Integer | operands[1].Integer)
	case OpXor:
		result = NewInteger(operands[0].Integer ^ operands[1].Integer)
	case OpNot:
		result = NewInteger(^operands[0].Integer)
	case OpNand:
		result = NewInteger(^(operands[0].Integer & operands[1].Integer))
	case OpNor:
		result = NewInteger(^(operands[0].Integer | operands[1].Integer))
	case OpIncrement:
		result = NewInteger(operands[0].Integer + 1)
	case OpDecrement:
		result = NewInteger(operands[0].Integer - 1)
	case OpLNot:
		result = boolNode(operands[0].Integer == 0)
	case OpLAnd:
		result = boolNode(operands[0].Integer != 0 && operands[1].Integer != 0)
	case OpLOr:
		result = boolNode(operands[0].Integer != 0 || operands[1].Integer != 0)
	case OpLEqual:
		eq, e := operands[0].Equal(operands[1])
		errno = e
		result = boolNode(eq)
	case OpLGreater:
		result = boolNode(operands[0].Integer > operands[1].Integer)
	case OpLLess:
		result = boolNode(operands[0].Integer < operands[1].Integer)
	case OpToInteger:
		result = operands[0].Convert(ConvInteger)
	case OpToBuffer:
		result = operands[0].Convert(ConvBuffer)
	case OpToString:
		result = operands[0].Convert(ConvString)
	case OpSizeOf:
		result = NewInteger(uint64(sizeOf(operands[0])))
	case OpObjectType:
		result = NewInteger(uint64(operands[0].Kind))
	case OpDerefOf:
		result = operands[0]
	case OpIndex:
		idx := int(operands[1].Integer)
		if operands[0].Kind == KindPackage && idx < len(operands[0].Package) {
			result = operands[0].Package[idx]
		} else if operands[0].Kind == KindBuffer && idx < len(operands[0].Buf) {
			result = NewInteger(uint64(operands[0].Buf[idx]))
		} else {
			errno = kerrno.EINVAL
		}
	case OpSleep, OpStall:
		result = NewInteger(0)
	case OpAcquire, OpRelease, OpSignal, OpWait, OpReset:
		result = NewInteger(0)
	case OpCall:
		return nil, ctrlNone, kerrno.ENOSYS // method-to-method calls resolved by a higher-level loader
	default:
		return nil, ctrlNone, kerrno.ENOSYS
	}

	if errno != 0 {
		return nil, ctrlNone, errno
	}
	if err := ip.assign(ctx, op.Dest, result); err != 0 {
		return nil, ctrlNone, err
	}
	return result, ctrlNone, 0
}

func boolNode(b bool) *Node {
	if b {
		return NewInteger(1)
	}
	return NewInteger(0)
}

func sizeOf(n *Node) int {
	switch n.Kind {
	case KindString:
		return len(n.Str)
	case KindBuffer:
		return len(n.Buf)
	case KindPackage:
		return len(n.Package)
	default:
		return 0
	}
}
