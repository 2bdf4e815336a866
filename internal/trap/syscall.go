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

package trap

import (
	"github.com/coreklabs/corekernel/cfg"
	"github.com/coreklabs/corekernel/internal/kerrno"
	"github.com/coreklabs/corekernel/internal/paging"
)

// SyscallNo is a syscall number, resolved by sys_dispatch's switch over
// the fixed list in §4.L.
type SyscallNo int

const (
	SysExit SyscallNo = iota
	SysRead
	SysWrite
	SysOpenat
	SysFstatat
	SysFork
	SysExecve
	SysMmap
	SysMunmap
	SysMsync
	SysSigaction
	SysKill
	SysFutex
	SysEpollCreate1
	SysEpollCtl
	SysEpollPwait2
	SysSmoCreate
	SysSmoMap
	SysSmoDelete
	SysPselect
	SysReadDir
	SysTcgetattr
	SysTcsetattr
	SysTtyCtrl
	SysPoweroff
	SysLoadKeymap
	SysClockGettime
	SysNanosleep

	syscallCount
)

var syscallNames = [syscallCount]string{
	SysExit:         "exit",
	SysRead:         "read",
	SysWrite:        "write",
	SysOpenat:       "openat",
	SysFstatat:      "fstatat",
	SysFork:         "fork",
	SysExecve:       "execve",
	SysMmap:         "mmap",
	SysMunmap:       "munmap",
	SysMsync:        "msync",
	SysSigaction:    "sigaction",
	SysKill:         "kill",
	SysFutex:        "futex",
	SysEpollCreate1: "epoll_create1",
	SysEpollCtl:     "epoll_ctl",
	SysEpollPwait2:  "epoll_pwait2",
	SysSmoCreate:    "smo_create",
	SysSmoMap:       "smo_map",
	SysSmoDelete:    "smo_delete",
	SysPselect:      "pselect",
	SysReadDir:      "read_dir",
	SysTcgetattr:    "tcgetattr",
	SysTcsetattr:    "tcsetattr",
	SysTtyCtrl:      "tty_ctrl",
	SysPoweroff:     "poweroff",
	SysLoadKeymap:   "load_keymap",
	SysClockGettime: "clock_gettime",
	SysNanosleep:    "nanosleep",
}

func (n SyscallNo) String() string {
	if n < 0 || int(n) >= len(syscallNames) {
		return "unknown"
	}
	return syscallNames[n]
}

// SyscallFunc implements one syscall's body. pt is the calling process's
// page table, supplied so a handler can validate any user pointer among
// a1..a5 before dereferencing it; a real implementation copies data in
// via the FastPage window once validated.
type SyscallFunc func(pt *paging.PageTable, a1, a2, a3, a4, a5 uint64) (int64, kerrno.Errno)

// Dispatcher is sys_dispatch: a table from syscall number to its
// registered body, resolved the way a real kernel resolves one entry in
// a giant switch statement — here an array indexed by the same fixed
// enumeration.
type Dispatcher struct {
	table [syscallCount]SyscallFunc
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{}
}

// Register installs fn as no's body, overwriting any previous
// registration; cmd/boot.go wires every syscall this core implements
// during startup.
func (d *Dispatcher) Register(no SyscallNo, fn SyscallFunc) {
	if no < 0 || int(no) >= len(d.table) {
		return
	}
	d.table[no] = fn
}

// Dispatch resolves no against the table and runs its body, returning
// ENOSYS for a number outside the fixed list or one no registered body
// covers.
func (d *Dispatcher) Dispatch(no SyscallNo, pt *paging.PageTable, a1, a2, a3, a4, a5 uint64) int64 {
	if no < 0 || int(no) >= len(d.table) || d.table[no] == nil {
		return kerrno.SyscallReturn(kerrno.ENOSYS)
	}
	ret, errno := d.table[no](pt, a1, a2, a3, a4, a5)
	if errno != kerrno.ESUCCESS {
		return kerrno.SyscallReturn(errno)
	}
	return ret
}

// ValidateUserRange checks that every page in the count-byte range
// starting at vaddr is present and user-accessible in pt, the per-
// syscall check §4.L requires before touching a user-supplied pointer.
// A zero-length range (count <= 0) is always valid, matching POSIX
// read/write of nbyte == 0.
func ValidateUserRange(pt *paging.PageTable, vaddr uint64, count int) kerrno.Errno {
	if count <= 0 {
		return kerrno.ESUCCESS
	}
	first := paging.Page(vaddr / cfg.FrameSize)
	last := paging.Page((vaddr + uint64(count) - 1) / cfg.FrameSize)
	for p := first; p <= last; p++ {
		flags, ok := pt.GetPageFlags(p)
		if !ok || flags&paging.FlagPresent == 0 || flags&paging.FlagUser == 0 {
			return kerrno.EFAULT
		}
	}
	return kerrno.ESUCCESS
}
