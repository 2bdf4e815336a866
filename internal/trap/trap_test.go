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

package trap_test

import (
	"testing"

	"github.com/coreklabs/corekernel/cfg"
	"github.com/coreklabs/corekernel/internal/kerrno"
	"github.com/coreklabs/corekernel/internal/mm"
	"github.com/coreklabs/corekernel/internal/paging"
	"github.com/coreklabs/corekernel/internal/trap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIDT_UnhandledVectorDoesNotPanic(t *testing.T) {
	disp := trap.NewDispatcher()
	idt := trap.NewIDT(disp)
	assert.NotPanics(t, func() {
		idt.Deliver(&trap.TrapFrame{Vector: 13}, nil)
	})
}

func TestIDT_InstallTrapRoutesByVector(t *testing.T) {
	disp := trap.NewDispatcher()
	idt := trap.NewIDT(disp)

	var gotCode uint64
	idt.InstallTrap(14, func(f *trap.TrapFrame, pt *paging.PageTable) { gotCode = f.ErrorCode })

	idt.Deliver(&trap.TrapFrame{Vector: 14, ErrorCode: 0x4}, nil)
	assert.EqualValues(t, 0x4, gotCode)
}

type fakeIRQDevice struct{ count int }

func (d *fakeIRQDevice) HandleIRQ(trap.Vector) { d.count++ }

func TestIDT_IRQDeliveredToEveryRegisteredInterruptable(t *testing.T) {
	disp := trap.NewDispatcher()
	idt := trap.NewIDT(disp)

	a, b := &fakeIRQDevice{}, &fakeIRQDevice{}
	idt.AddInterruptable(33, a)
	idt.AddInterruptable(33, b)

	idt.Deliver(&trap.TrapFrame{Vector: 33}, nil)
	assert.Equal(t, 1, a.count)
	assert.Equal(t, 1, b.count)

	idt.RemoveInterruptable(33, a)
	idt.Deliver(&trap.TrapFrame{Vector: 33}, nil)
	assert.Equal(t, 1, a.count, "removed device should not see the second IRQ")
	assert.Equal(t, 2, b.count)
}

func TestDispatcher_UnregisteredSyscallIsENOSYS(t *testing.T) {
	disp := trap.NewDispatcher()
	ret := disp.Dispatch(trap.SysFutex, nil, 0, 0, 0, 0, 0)
	assert.Equal(t, kerrno.SyscallReturn(kerrno.ENOSYS), ret)
}

func TestDispatcher_RegisteredSyscallReturnsItsValue(t *testing.T) {
	disp := trap.NewDispatcher()
	disp.Register(trap.SysClockGettime, func(pt *paging.PageTable, a1, a2, a3, a4, a5 uint64) (int64, kerrno.Errno) {
		return 42, 0
	})
	assert.Equal(t, int64(42), disp.Dispatch(trap.SysClockGettime, nil, 0, 0, 0, 0, 0))
}

func TestDispatcher_ErrorTranslatesToNegativeErrno(t *testing.T) {
	disp := trap.NewDispatcher()
	disp.Register(trap.SysRead, func(pt *paging.PageTable, a1, a2, a3, a4, a5 uint64) (int64, kerrno.Errno) {
		return 0, kerrno.EBADF
	})
	ret := disp.Dispatch(trap.SysRead, nil, 0, 0, 0, 0, 0)
	assert.Equal(t, -int64(kerrno.EBADF), ret)
}

func TestIDT_SyscallVectorRoutesThroughDispatcher(t *testing.T) {
	disp := trap.NewDispatcher()
	disp.Register(trap.SysWrite, func(pt *paging.PageTable, a1, a2, a3, a4, a5 uint64) (int64, kerrno.Errno) {
		return int64(a3), 0
	})
	idt := trap.NewIDT(disp)

	frame := &trap.TrapFrame{Vector: trap.SyscallVector, RAX: uint64(trap.SysWrite), RDX: 7}
	idt.Deliver(frame, nil)
	assert.EqualValues(t, 7, frame.RAX)
}

func newTestPageTable(t *testing.T) *paging.PageTable {
	t.Helper()
	heap := mm.NewHeap([]mm.Range{{Start: 0, End: 256}})
	return paging.New(heap)
}

func TestValidateUserRange_UnmappedPageIsEFAULT(t *testing.T) {
	pt := newTestPageTable(t)
	errno := trap.ValidateUserRange(pt, 0x1000, 16)
	assert.Equal(t, kerrno.EFAULT, errno)
}

func TestValidateUserRange_MappedUserPageSucceeds(t *testing.T) {
	pt := newTestPageTable(t)
	pt.MapPageAt(paging.Page(1), 0x2000, paging.FlagWritable|paging.FlagUser)
	require.Equal(t, kerrno.Errno(0), trap.ValidateUserRange(pt, cfg.FrameSize, 16))
}

func TestValidateUserRange_KernelOnlyPageIsEFAULT(t *testing.T) {
	pt := newTestPageTable(t)
	pt.MapPageAt(paging.Page(1), 0x2000, paging.FlagWritable) // no FlagUser
	assert.Equal(t, kerrno.EFAULT, trap.ValidateUserRange(pt, cfg.FrameSize, 16))
}

func TestValidateUserRange_SpanningTwoPagesRequiresBothMapped(t *testing.T) {
	pt := newTestPageTable(t)
	pt.MapPageAt(paging.Page(1), 0x2000, paging.FlagUser)
	// the range straddles page 0 and page 1; page 0 is never mapped, so
	// the whole range must fail even though page 1 is valid.
	errno := trap.ValidateUserRange(pt, cfg.FrameSize-8, 16)
	assert.Equal(t, kerrno.EFAULT, errno)
}

func TestValidateUserRange_ZeroLengthAlwaysValid(t *testing.T) {
	pt := newTestPageTable(t)
	assert.Equal(t, kerrno.Errno(0), trap.ValidateUserRange(pt, 0, 0))
}

func TestTrapFrame_WasWrite(t *testing.T) {
	assert.True(t, (&trap.TrapFrame{ErrorCode: 0x2}).WasWrite())
	assert.False(t, (&trap.TrapFrame{ErrorCode: 0x0}).WasWrite())
}

func TestIDT_PageFaultHandlerReceivesFaultingPageTable(t *testing.T) {
	disp := trap.NewDispatcher()
	idt := trap.NewIDT(disp)
	pt := newTestPageTable(t)

	var got *paging.PageTable
	idt.InstallTrap(trap.PageFaultVector, func(f *trap.TrapFrame, p *paging.PageTable) { got = p })
	idt.Deliver(&trap.TrapFrame{Vector: trap.PageFaultVector, FaultAddr: 0x3000}, pt)

	assert.Same(t, pt, got)
}

func TestSyscallNo_StringMatchesName(t *testing.T) {
	assert.Equal(t, "write", trap.SysWrite.String())
	assert.Equal(t, "unknown", trap.SyscallNo(9999).String())
}
