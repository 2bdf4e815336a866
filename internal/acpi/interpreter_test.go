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

package acpi_test

import (
	"testing"

	"github.com/coreklabs/corekernel/internal/acpi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInterpreter_ArithmeticAndReturn(t *testing.T) {
	ip := acpi.NewInterpreter()
	scope := acpi.NewNamespaceNode("\\", nil)
	method := &acpi.MethodBody{
		ArgCount: 2,
		Ops: []acpi.Op{
			{
				Code:     acpi.OpAdd,
				Operands: []acpi.Operand{acpi.Arg(0), acpi.Arg(1)},
				Dest:     localDest(0),
			},
			{Code: acpi.OpReturn, Operands: []acpi.Operand{acpi.Local(0)}},
		},
	}

	result, errno := ip.Invoke(scope, method, []*acpi.Node{acpi.NewInteger(2), acpi.NewInteger(3)})
	require.Equal(t, 0, int(errno))
	assert.Equal(t, uint64(5), result.Integer)
}

func TestInterpreter_NoReturnFallsOffWithZero(t *testing.T) {
	ip := acpi.NewInterpreter()
	scope := acpi.NewNamespaceNode("\\", nil)
	method := &acpi.MethodBody{Ops: []acpi.Op{
		{Code: acpi.OpAdd, Operands: []acpi.Operand{acpi.Lit(acpi.NewInteger(1)), acpi.Lit(acpi.NewInteger(1))}},
	}}

	result, errno := ip.Invoke(scope, method, nil)
	require.Equal(t, 0, int(errno))
	assert.Equal(t, uint64(0), result.Integer)
}

func TestInterpreter_IfTakesThenBranch(t *testing.T) {
	ip := acpi.NewInterpreter()
	scope := acpi.NewNamespaceNode("\\", nil)
	method := &acpi.MethodBody{Ops: []acpi.Op{
		{
			Code:     acpi.OpIf,
			Operands: []acpi.Operand{acpi.Lit(acpi.NewInteger(1))},
			Then:     []acpi.Op{{Code: acpi.OpReturn, Operands: []acpi.Operand{acpi.Lit(acpi.NewInteger(7))}}},
			Else:     []acpi.Op{{Code: acpi.OpReturn, Operands: []acpi.Operand{acpi.Lit(acpi.NewInteger(8))}}},
		},
	}}

	result, errno := ip.Invoke(scope, method, nil)
	require.Equal(t, 0, int(errno))
	assert.Equal(t, uint64(7), result.Integer)
}

func TestInterpreter_WhileLoopsUntilConditionFalse(t *testing.T) {
	ip := acpi.NewInterpreter()
	scope := acpi.NewNamespaceNode("\\", nil)
	// Local0 starts at 0 (zero-inited); loop increments it to 3, then returns it.
	whileMethod := &acpi.MethodBody{Ops: []acpi.Op{
		{
			Code:     acpi.OpWhile,
			Operands: []acpi.Operand{acpi.Local(1)},
			Body: []acpi.Op{
				{Code: acpi.OpIncrement, Operands: []acpi.Operand{acpi.Local(0)}, Dest: localDest(0)},
				{
					Code:     acpi.OpLLess,
					Operands: []acpi.Operand{acpi.Local(0), acpi.Lit(acpi.NewInteger(3))},
					Dest:     localDest(1),
				},
			},
		},
		{Code: acpi.OpReturn, Operands: []acpi.Operand{acpi.Local(0)}},
	}}

	// Locals initialise to Integer(0); seed Local1 (loop condition) to true
	// via a leading Store so the while loop enters at least once.
	whileMethod.Ops = append([]acpi.Op{
		{Code: acpi.OpStore, Operands: []acpi.Operand{acpi.Lit(acpi.NewInteger(1))}, Dest: localDest(1)},
	}, whileMethod.Ops...)

	result, errno := ip.Invoke(scope, whileMethod, nil)
	require.Equal(t, 0, int(errno))
	assert.Equal(t, uint64(3), result.Integer)
}

func TestInterpreter_BreakExitsWhileEarly(t *testing.T) {
	ip := acpi.NewInterpreter()
	scope := acpi.NewNamespaceNode("\\", nil)
	method := &acpi.MethodBody{Ops: []acpi.Op{
		{Code: acpi.OpStore, Operands: []acpi.Operand{acpi.Lit(acpi.NewInteger(1))}, Dest: localDest(1)},
		{
			Code:     acpi.OpWhile,
			Operands: []acpi.Operand{acpi.Local(1)},
			Body: []acpi.Op{
				{Code: acpi.OpBreak},
			},
		},
		{Code: acpi.OpReturn, Operands: []acpi.Operand{acpi.Local(0)}},
	}}

	result, errno := ip.Invoke(scope, method, nil)
	require.Equal(t, 0, int(errno))
	assert.Equal(t, uint64(0), result.Integer)
}

func TestInterpreter_StoreWritesNamedObject(t *testing.T) {
	ip := acpi.NewInterpreter()
	root := acpi.NewNamespaceNode("\\", nil)
	named := acpi.NewNamespaceNode("FOO", root)
	named.Value = acpi.NewInteger(0)
	root.Children["FOO"] = named

	method := &acpi.MethodBody{Ops: []acpi.Op{
		{Code: acpi.OpStore, Operands: []acpi.Operand{acpi.Lit(acpi.NewInteger(99))}, Dest: namedDest("FOO")},
	}}

	_, errno := ip.Invoke(root, method, nil)
	require.Equal(t, 0, int(errno))
	assert.Equal(t, uint64(99), named.Value.Integer)
}

func TestInterpreter_StubbedOpsReturnENOSYS(t *testing.T) {
	ip := acpi.NewInterpreter()
	scope := acpi.NewNamespaceNode("\\", nil)

	for _, code := range []acpi.OpCode{acpi.OpFatal, acpi.OpBankField, acpi.OpUnload} {
		method := &acpi.MethodBody{Ops: []acpi.Op{{Code: code}}}
		_, errno := ip.Invoke(scope, method, nil)
		assert.NotEqual(t, 0, int(errno), "opcode %v should be stubbed", code)
	}
}

func TestInterpreter_DivideByZeroIsEINVAL(t *testing.T) {
	ip := acpi.NewInterpreter()
	scope := acpi.NewNamespaceNode("\\", nil)
	method := &acpi.MethodBody{Ops: []acpi.Op{
		{Code: acpi.OpDivide, Operands: []acpi.Operand{acpi.Lit(acpi.NewInteger(4)), acpi.Lit(acpi.NewInteger(0))}},
	}}
	_, errno := ip.Invoke(scope, method, nil)
	assert.NotEqual(t, 0, int(errno))
}

func localDest(i int) *acpi.Operand {
	o := acpi.Local(i)
	return &o
}

func namedDest(name string) *acpi.Operand {
	o := acpi.Named(name)
	return &o
}
