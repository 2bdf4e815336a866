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

// Package process implements the process model (§4.F): fork/exec
// semantics, the fixed-capacity FD table, and default signal dispositions.
package process

import (
	"sync"

	"github.com/coreklabs/corekernel/internal/kerrno"
	"github.com/coreklabs/corekernel/internal/paging"
	"github.com/coreklabs/corekernel/internal/region"
	"github.com/google/uuid"
)

// Signal identifies a POSIX-style signal number.
type Signal int

const (
	SIGINT Signal = iota + 1
	SIGQUIT
	SIGKILL
	SIGSEGV
	SIGPIPE
	SIGCHLD
	SIGTSTP
	SIGCONT
	SIGTERM
)

// Disposition is what a process does by default when a signal it has not
// installed a handler for arrives (§4.F "Signal delivery").
type Disposition int

const (
	DispTerm Disposition = iota
	DispIgnore
	DispStop
	DispContinue
)

// defaultDispositions mirrors the table in §4.F: TERM for most, IGN for
// CHLD, STOP for TSTP (STOP itself has no handler slot), CONT for CONT.
var defaultDispositions = map[Signal]Disposition{
	SIGINT:  DispTerm,
	SIGQUIT: DispTerm,
	SIGKILL: DispTerm,
	SIGSEGV: DispTerm,
	SIGPIPE: DispTerm,
	SIGCHLD: DispIgnore,
	SIGTSTP: DispStop,
	SIGCONT: DispContinue,
	SIGTERM: DispTerm,
}

// FileDescription is the shared, reference-counted object an FD table
// slot points at. Multiple FDs (via dup/dup2) and fork-inherited copies
// can reference the same description; it is destroyed only once every
// reference has dropped it.
type FileDescription struct {
	mu       sync.Mutex
	refcount int
	closed   func() // on_close hook, invoked once refcount reaches zero

	CloseOnExec bool
}

func NewFileDescription(onClose func()) *FileDescription {
	return &FileDescription{refcount: 1, closed: onClose}
}

func (d *FileDescription) retain() {
	d.mu.Lock()
	d.refcount++
	d.mu.Unlock()
}

func (d *FileDescription) release() {
	d.mu.Lock()
	d.refcount--
	zero := d.refcount == 0
	d.mu.Unlock()
	if zero && d.closed != nil {
		d.closed()
	}
}

// FDTable is a fixed-capacity array of file description slots (§4.F).
type FDTable struct {
	mu       sync.Mutex
	slots    []*FileDescription
	capacity int
}

// NewFDTable constructs an empty table with the given OPEN_MAX capacity.
func NewFDTable(capacity int) *FDTable {
	return &FDTable{slots: make([]*FileDescription, capacity), capacity: capacity}
}

// Install places desc in the lowest free slot, returning its fd number,
// or -EMFILE if the table is full.
func (t *FDTable) Install(desc *FileDescription) (int, kerrno.Errno) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, s := range t.slots {
		if s == nil {
			t.slots[i] = desc
			return i, 0
		}
	}
	return -1, kerrno.EMFILE
}

// Get returns the description at fd, or nil if fd is out of range or
// unused.
func (t *FDTable) Get(fd int) *FileDescription {
	t.mu.Lock()
	defer t.mu.Unlock()
	if fd < 0 || fd >= len(t.slots) {
		return nil
	}
	return t.slots[fd]
}

// Dup duplicates oldfd into the lowest free slot, retaining the shared
// description. Returns -EBADF if oldfd is unused.
func (t *FDTable) Dup(oldfd int) (int, kerrno.Errno) {
	t.mu.Lock()
	if oldfd < 0 || oldfd >= len(t.slots) || t.slots[oldfd] == nil {
		t.mu.Unlock()
		return -1, kerrno.EBADF
	}
	desc := t.slots[oldfd]
	t.mu.Unlock()

	newfd, errno := t.Install(desc)
	if errno == 0 {
		desc.retain()
	}
	return newfd, errno
}

// Dup2 duplicates oldfd into newfd exactly, closing whatever newfd
// previously held. A no-op (returns newfd) if oldfd == newfd and is open.
func (t *FDTable) Dup2(oldfd, newfd int) (int, kerrno.Errno) {
	t.mu.Lock()
	if oldfd < 0 || oldfd >= len(t.slots) || t.slots[oldfd] == nil {
		t.mu.Unlock()
		return -1, kerrno.EBADF
	}
	if newfd < 0 || newfd >= len(t.slots) {
		t.mu.Unlock()
		return -1, kerrno.EBADF
	}
	if oldfd == newfd {
		t.mu.Unlock()
		return newfd, 0
	}

	desc := t.slots[oldfd]
	old := t.slots[newfd]
	t.slots[newfd] = desc
	t.mu.Unlock()

	desc.retain()
	if old != nil {
		old.release()
	}
	return newfd, 0
}

// Close drops fd's reference, destroying the description if this was the
// last reference.
func (t *FDTable) Close(fd int) kerrno.Errno {
	t.mu.Lock()
	if fd < 0 || fd >= len(t.slots) || t.slots[fd] == nil {
		t.mu.Unlock()
		return kerrno.EBADF
	}
	desc := t.slots[fd]
	t.slots[fd] = nil
	t.mu.Unlock()

	desc.release()
	return 0
}

// Fork produces a new table of the same capacity whose occupied slots
// point at the same descriptions, each retained once more, matching
// "duplicates the FD table" from §4.F. Slots marked CloseOnExec are
// still inherited across fork (only exec drops them).
func (t *FDTable) Fork() *FDTable {
	t.mu.Lock()
	defer t.mu.Unlock()
	child := NewFDTable(t.capacity)
	for i, s := range t.slots {
		if s == nil {
			continue
		}
		s.retain()
		child.slots[i] = s
	}
	return child
}

// CloseOnExec closes every slot marked close-on-exec, per the exec
// contract in §4.F.
func (t *FDTable) CloseOnExec() {
	t.mu.Lock()
	var toClose []int
	for i, s := range t.slots {
		if s != nil && s.CloseOnExec {
			toClose = append(toClose, i)
		}
	}
	t.mu.Unlock()
	for _, fd := range toClose {
		t.Close(fd)
	}
}

// Region is an alias so process.go need not import internal/region
// directly in every signature; kept distinct from paging.Page for
// readability at call sites.
type Region = region.Region

// Process models one address space plus its process-wide state: the FD
// table, working directory, credentials, and signal dispositions/pending
// mask that fork duplicates and exec partially resets.
type Process struct {
	ID  uuid.UUID
	PID int

	mu sync.Mutex

	Regions []*Region
	PT      *paging.PageTable
	FDs     *FDTable
	Cwd     string

	dispositions   map[Signal]Disposition
	pendingMask    map[Signal]bool
	blockedMask    map[Signal]bool
	ProcessGroupID int
}

// New constructs a process with default dispositions and an empty FD
// table of the given OPEN_MAX capacity.
func New(pid int, openMax int) *Process {
	p := &Process{
		PID:          pid,
		ID:           uuid.New(),
		FDs:          NewFDTable(openMax),
		Cwd:          "/",
		dispositions: make(map[Signal]Disposition),
		pendingMask:  make(map[Signal]bool),
		blockedMask:  make(map[Signal]bool),
	}
	for sig, disp := range defaultDispositions {
		p.dispositions[sig] = disp
	}
	return p
}

// RegionContaining returns the region covering vpage, or nil if vpage
// falls outside every mapped region (the caller should treat that as
// SIGSEGV).
func (p *Process) RegionContaining(vpage paging.Page) *Region {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, r := range p.Regions {
		if r.Contains(vpage) {
			return r
		}
	}
	return nil
}

// Fork snapshots the full memory-region list (cloning each into a fresh
// address space owned by the child), duplicates the FD table, cwd and
// signal dispositions, and returns the child. Both the parent's and the
// child's caller are expected to see "returns twice" by checking which
// *Process they hold, matching the POSIX contract at a level this
// simulation can express.
func (p *Process) Fork(childPID int, newRegionTable func(*Region) *Region) *Process {
	p.mu.Lock()
	defer p.mu.Unlock()

	child := New(childPID, len(p.FDs.slots))
	child.FDs = p.FDs.Fork()
	child.Cwd = p.Cwd
	child.ProcessGroupID = p.ProcessGroupID
	for sig, disp := range p.dispositions {
		child.dispositions[sig] = disp
	}
	for _, r := range p.Regions {
		child.Regions = append(child.Regions, newRegionTable(r))
	}
	return child
}

// AddRegion appends r to the process's region list, as mmap does once it
// has carved out a fresh mapping.
func (p *Process) AddRegion(r *Region) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Regions = append(p.Regions, r)
}

// RemoveRegion drops r from the process's region list, as munmap does
// once it has torn down the mapping's page-table entries.
func (p *Process) RemoveRegion(r *Region) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, x := range p.Regions {
		if x == r {
			p.Regions = append(p.Regions[:i], p.Regions[i+1:]...)
			return
		}
	}
}

// Exec drops all non-shared regions, closes close-on-exec FDs, and
// resets signal dispositions to default wherever the current handler is
// not IGN (§4.F). The caller is responsible for loading the new image
// and replacing p.Regions with the freshly mapped ones.
func (p *Process) Exec(keepRegion func(*Region) bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	kept := p.Regions[:0]
	for _, r := range p.Regions {
		if keepRegion(r) {
			kept = append(kept, r)
		}
	}
	p.Regions = kept

	for sig, disp := range p.dispositions {
		if disp != DispIgnore {
			p.dispositions[sig] = defaultDispositions[sig]
		}
	}

	p.FDs.CloseOnExec()
}

// SetDisposition installs a non-default disposition for sig, as a
// sigaction call would.
func (p *Process) SetDisposition(sig Signal, disp Disposition) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dispositions[sig] = disp
}

// Disposition reports sig's current disposition.
func (p *Process) Disposition(sig Signal) Disposition {
	p.mu.Lock()
	defer p.mu.Unlock()
	if d, ok := p.dispositions[sig]; ok {
		return d
	}
	return DispTerm
}

// Post marks sig pending, matching kill()'s delivery-side effect; actual
// dispatch to the handler happens on return to userspace (§4.F), modeled
// by DeliverableNow at the syscall-return boundary.
func (p *Process) Post(sig Signal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pendingMask[sig] = true
}

// SetBlocked sets sig's presence in the blocked-signal mask (sigprocmask).
func (p *Process) SetBlocked(sig Signal, blocked bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.blockedMask[sig] = blocked
}

// DeliverableNow picks the lowest-numbered signal in
// pending & ~blocked, per §4.F, clearing it from pending as it would be
// consumed by signal-frame construction. Returns 0, false if none.
func (p *Process) DeliverableNow() (Signal, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var lowest Signal
	found := false
	for sig := range p.pendingMask {
		if p.blockedMask[sig] {
			continue
		}
		if !found || sig < lowest {
			lowest = sig
			found = true
		}
	}
	if found {
		delete(p.pendingMask, lowest)
	}
	return lowest, found
}
