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

package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/coreklabs/corekernel/cfg"
	"github.com/coreklabs/corekernel/internal/acpi"
	"github.com/coreklabs/corekernel/internal/block"
	"github.com/coreklabs/corekernel/internal/kerrno"
	"github.com/coreklabs/corekernel/internal/klog"
	"github.com/coreklabs/corekernel/internal/kmetrics"
	"github.com/coreklabs/corekernel/internal/mm"
	netstack "github.com/coreklabs/corekernel/internal/net"
	"github.com/coreklabs/corekernel/internal/paging"
	"github.com/coreklabs/corekernel/internal/process"
	"github.com/coreklabs/corekernel/internal/region"
	"github.com/coreklabs/corekernel/internal/sched"
	"github.com/coreklabs/corekernel/internal/trap"
	"github.com/coreklabs/corekernel/internal/tty"
	"github.com/coreklabs/corekernel/internal/vfs"
	"github.com/coreklabs/corekernel/internal/vfs/devfs"
	"github.com/coreklabs/corekernel/internal/vfs/tmpfs"
	"github.com/coreklabs/corekernel/ratelimit"
	"golang.org/x/time/rate"
)

// kernel bundles every subsystem singleton runBoot constructs, the
// hosted-process equivalent of the global state a real kernel image
// leaves in BSS after _start.
type kernel struct {
	heap      *mm.Heap
	kheap     *mm.KHeap
	pageTable *paging.PageTable
	fastPage  *paging.FastPage
	sftable   *region.SharedFileTable
	scheduler *sched.Scheduler
	rootVFS   *vfs.VFS
	procs     map[int]*process.Process
	dispatch  *trap.Dispatcher
	idt       *trap.IDT
	console   *tty.PTY
	net       *netStack
	disk      *block.DiskCache

	mu  sync.Mutex
	fds map[*process.FileDescription]fdResource
}

// fdResource is whatever a file descriptor actually reads/writes; the FD
// table itself (internal/process) only tracks refcounting, so boot.go
// keeps the fd-to-resource binding here, the same "injected side table"
// shape netstack's *Registry types use for address binding.
type fdResource interface {
	Read(buf []byte) (int, kerrno.Errno)
	Write(buf []byte) (int, kerrno.Errno)
}

type netStack struct {
	l2   *netstack.L2Dispatcher
	arp  *netstack.ARPCache
	ipv4 *netstack.IPv4Input
	icmp *netstack.ICMP
	udp  *netstack.UDP
	tcp  *netstack.TCPStack
	unix *netstack.UnixRegistry
}

// runBoot is the kernel's entry point once the command line has been
// parsed and validated: it is the hosted stand-in for a bootloader
// jumping to _start with a BootInfo struct, constructing every
// subsystem in dependency order and then blocking until ctx is
// cancelled. Cancellation is logged as a poweroff and runBoot returns;
// the subsystems it built are not torn down.
func runBoot(ctx context.Context, c *cfg.Config) error {
	if err := klog.Init(c.Logging); err != nil {
		return fmt.Errorf("klog.Init: %w", err)
	}
	klog.Infof("booting: %s", c.Boot.CommandLine)
	if dump, err := c.DumpYAML(); err != nil {
		klog.Warnf("config: dumping effective configuration: %v", err)
	} else {
		klog.Tracef("effective configuration:\n%s", dump)
	}

	k := &kernel{
		procs: make(map[int]*process.Process),
		fds:   make(map[*process.FileDescription]fdResource),
	}

	if err := k.initMemory(c); err != nil {
		return err
	}
	k.scheduler = sched.New(c.Scheduler.PriorityBands)
	k.initVFS(c)
	k.initConsole()
	k.initNet(c)
	if err := k.initBlock(c); err != nil {
		klog.Warnf("block: %v", err)
	}
	if err := k.initACPI(c); err != nil {
		klog.Warnf("acpi: %v", err)
	}
	k.initTrap()
	k.spawnInit(c)

	go func() {
		srv := &http.Server{Addr: ":0", Handler: kmetrics.Handler()}
		_ = srv.ListenAndServe()
	}()

	klog.Infof("boot sequence complete, %d CPU(s), %d priority bands", c.Scheduler.NumCPUs, c.Scheduler.PriorityBands)

	<-ctx.Done()
	klog.Infof("poweroff: %v", ctx.Err())
	return nil
}

// initMemory builds the physical frame allocator, kernel heap allocator
// and the boot-time page table: the low HeapReserve bytes are left out of
// the frame allocator's range and everything above that is handed to it.
// The kernel heap allocator draws its pages from that same frame allocator.
func (k *kernel) initMemory(c *cfg.Config) error {
	total := int64(c.Memory.PhysicalMemory) / cfg.FrameSize
	reserve := int64(c.Memory.HeapReserve) / cfg.FrameSize
	if reserve >= total {
		return fmt.Errorf("heap-reserve (%d frames) exceeds physical-memory (%d frames)", reserve, total)
	}

	k.heap = mm.NewHeap([]mm.Range{{Start: mm.Frame(reserve * cfg.FrameSize), End: mm.Frame(total * cfg.FrameSize)}})
	k.kheap = mm.NewKHeap(k.heap)
	k.pageTable = paging.New(k.heap)
	k.fastPage = paging.NewFastPage()
	k.sftable = region.NewSharedFileTable()
	return nil
}

// initVFS mounts the root tmpfs and a devfs at /dev, the minimal layout
// every subsequent syscall body assumes (§4.G).
func (k *kernel) initVFS(c *cfg.Config) {
	root := tmpfs.New()
	k.rootVFS = vfs.New(root, c.VFS.SymlinkMaxDepth)

	dev := devfs.New()
	devDir, errno := root.Root().(vfs.Directory).CreateDir("dev", 0755)
	if errno != 0 {
		klog.Errorf("vfs: creating /dev: %v", errno)
		return
	}
	k.rootVFS.Mount(root, devDir.Stat().Ino, dev)
}

// initConsole builds the one PTY this hosted model exposes as /dev/tty,
// wiring its signal dispatch to whichever process is foreground for the
// session's controlling terminal.
func (k *kernel) initConsole() {
	k.console = tty.NewPTY(func(pgid int, sig process.Signal) {
		k.mu.Lock()
		defer k.mu.Unlock()
		for _, p := range k.procs {
			if p.ProcessGroupID == pgid {
				p.Post(sig)
			}
		}
	})
}

// initNet assembles the ARP/IPv4/ICMP/UDP/TCP/UNIX stack (§4.K) over a
// loopback transmit path: with no real NIC driver in this hosted model,
// anything handed to a SendFunc is delivered straight back into the
// matching protocol's own Receive method instead of being framed onto a
// wire, exactly as cfg.BootConfig.NetTapDevice's doc comment describes
// that field as a host-side stand-in rather than a real tap fd. A
// configured net-tap-device is logged and otherwise ignored, since
// wiring a real AF_PACKET/tap socket would pull in a dependency nothing
// in the example corpus carries. L2Dispatcher/ARPCache are still built
// so a future real NIC driver has somewhere to register frame handlers.
func (k *kernel) initNet(c *cfg.Config) {
	if c.Boot.NetTapDevice != "" {
		klog.Warnf("net-tap %q requested but no NIC driver backs this hosted build; using loopback", c.Boot.NetTapDevice)
	}

	n := &netStack{
		l2:   netstack.NewL2Dispatcher(),
		arp:  netstack.NewARPCache(),
		unix: netstack.NewUnixRegistry(),
	}

	n.icmp = netstack.NewICMP(func(dst netstack.IPv4Addr, payload []byte) {
		n.icmp.Receive(dst, payload)
	})
	n.icmp.SetEchoReplyLimiter(rate.NewLimiter(rate.Limit(c.Network.EchoReplyRateHz), c.Network.EchoReplyBurst))
	n.udp = netstack.NewUDP(func(dst netstack.IPv4Addr, srcPort, dstPort uint16, payload []byte) {
		n.udp.Receive(dst, srcPort, dstPort, payload)
	})
	n.tcp = netstack.NewTCPStack(
		func(dst netstack.IPv4Addr, seg netstack.TCPSegment) {
			n.tcp.Receive(dst, seg)
		},
		func(d time.Duration, fire func()) func() {
			timer := time.AfterFunc(d, fire)
			return func() { timer.Stop() }
		},
	)

	// IPv4Input itself sits idle behind the loopback shortcuts above
	// (there is no byte-level wire format to reassemble without a real
	// NIC driver), but is still built and wired with the same
	// protocol-number table a real frame arriving off the wire would
	// dispatch through, so that plugging in a real driver later is a
	// matter of calling in.Receive from its RX interrupt handler.
	n.ipv4 = netstack.NewIPv4Input()
	n.ipv4.RegisterHandler(netstack.ProtoICMP, func(h netstack.IPv4Header, payload []byte) {
		n.icmp.Receive(h.Src, payload)
	})

	k.net = n
}

// fileBlockDevice treats a host file as the physical disk image,
// exactly the role cfg.BootConfig.DiskImagePath's doc comment assigns
// it: "the host-side stand-in for the bootloader handoff".
type fileBlockDevice struct {
	f       *os.File
	sectors int64
}

func (d *fileBlockDevice) SectorCount() int64 { return d.sectors }

func (d *fileBlockDevice) ReadBlocks(firstSector int64, buf []byte) kerrno.Errno {
	if _, err := d.f.ReadAt(buf, firstSector*block.SectorSize); err != nil {
		return kerrno.EIO
	}
	return 0
}

func (d *fileBlockDevice) WriteBlocks(firstSector int64, buf []byte) kerrno.Errno {
	if _, err := d.f.WriteAt(buf, firstSector*block.SectorSize); err != nil {
		return kerrno.EIO
	}
	return 0
}

// initBlock opens the configured disk image, layers a DiskCache over it
// and runs GUID partition table discovery on it (§4.H), logging how many
// entries were found; no Partition devices are built from them. A boot
// with no disk image configured simply runs without block storage.
// initBlock attaches the file-backed device standing in for a real disk
// controller and throttles its write-back queue with a token bucket sized
// off the configured rate and burst window, so one dirty-heavy process
// can't starve the rest of the cache's flush traffic.
func (k *kernel) initBlock(c *cfg.Config) error {
	path := string(c.Boot.DiskImagePath)
	if path == "" {
		return nil
	}
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("opening disk image: %w", err)
	}
	st, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat disk image: %w", err)
	}
	dev := &fileBlockDevice{f: f, sectors: st.Size() / block.SectorSize}
	if parts, errno := block.DiscoverGPT(dev); errno == 0 {
		klog.Infof("block: %d GPT partition(s) found on %s", len(parts), path)
	} else {
		klog.Infof("block: no GPT partition table on %s: %v", path, errno)
	}
	cache := block.NewDiskCache(dev, c.Block.WriteThrough)

	capacity, err := ratelimit.ChooseTokenBucketCapacity(c.Block.WriteBackRateHz, c.Block.WriteBackWindow)
	if err != nil {
		return fmt.Errorf("block write-back throttle: %w", err)
	}
	cache.SetWriteBackThrottle(&ratelimit.SystemTimeTokenBucket{
		Bucket:    ratelimit.NewTokenBucket(c.Block.WriteBackRateHz, capacity),
		StartTime: time.Now(),
	})

	k.disk = cache
	go k.runWriteBack()

	klog.Infof("block: %s (%d sectors) attached, write-back capped at %.0f sectors/s", path, dev.sectors, c.Block.WriteBackRateHz)
	return nil
}

// runWriteBack periodically flushes the disk cache's dirty pages, the way
// a real kernel's pdflush/kupdate daemon would, until the kernel shuts
// down.
func (k *kernel) runWriteBack() {
	ticker := time.NewTicker(writeBackInterval)
	defer ticker.Stop()
	for range ticker.C {
		if errno := k.disk.Sync(); errno != 0 {
			klog.Warnf("block: write-back sync failed: %v", errno)
		}
	}
}

const writeBackInterval = 5 * time.Second

// initACPI loads the table blobs a real BIOS/UEFI would have left for
// firmware ACPI to find, one file per table, named by its 4-character
// signature (§4.I).
func (k *kernel) initACPI(c *cfg.Config) error {
	if !c.ACPI.Enable {
		return nil
	}
	dir := string(c.Boot.AcpiTablesDir)
	if dir == "" {
		return nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("reading acpi-tables-dir: %w", err)
	}

	var blobs []acpi.TableBlob
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return fmt.Errorf("reading %s: %w", e.Name(), err)
		}
		sig := strings.ToUpper(strings.TrimSuffix(e.Name(), filepath.Ext(e.Name())))
		blobs = append(blobs, acpi.TableBlob{Signature: sig, Data: data})
	}

	loader := acpi.NewLoader(blobs)
	if errno := loader.RequireFADT(); errno != 0 {
		return fmt.Errorf("acpi: %v", errno)
	}
	klog.Infof("acpi: %d table(s) loaded from %s", len(blobs), dir)
	return nil
}

// initTrap builds the IDT, registers the syscall bodies this build
// backs with a real subsystem, and installs the page-fault handler that
// drives every userspace memory access through internal/region (§2's
// "userspace memory accesses fault through C into D which pulls pages
// from A/G/H"). Everything else in the fixed §4.L syscall list is left
// unregistered and returns ENOSYS, the same way a kernel under active
// development grows its syscall surface one body at a time rather than
// all at once.
func (k *kernel) initTrap() {
	k.dispatch = trap.NewDispatcher()

	k.dispatch.Register(trap.SysWrite, k.sysWrite)
	k.dispatch.Register(trap.SysRead, k.sysRead)
	k.dispatch.Register(trap.SysExit, k.sysExit)
	k.dispatch.Register(trap.SysKill, k.sysKill)
	k.dispatch.Register(trap.SysClockGettime, k.sysClockGettime)
	k.dispatch.Register(trap.SysNanosleep, k.sysNanosleep)
	k.dispatch.Register(trap.SysPoweroff, k.sysPoweroff)
	k.dispatch.Register(trap.SysFork, k.sysFork)
	k.dispatch.Register(trap.SysExecve, k.sysExecve)
	k.dispatch.Register(trap.SysMmap, k.sysMmap)
	k.dispatch.Register(trap.SysMunmap, k.sysMunmap)

	k.idt = trap.NewIDT(k.dispatch)
	k.idt.InstallTrap(trap.PageFaultVector, k.handlePageFault)
}

// handlePageFault is the #PF handler: it resolves frame.FaultAddr to the
// faulting process's region (by matching pt against every tracked
// process, since this hosted dispatcher has no per-thread current-process
// pointer) and asks that region to service the fault. A fault outside
// every mapped region, or one AllocatePageContaining refuses or fails,
// posts SIGSEGV to the process and is counted as a "segv" fault; only a
// failure returned by AllocatePageContaining is also logged.
func (k *kernel) handlePageFault(frame *trap.TrapFrame, pt *paging.PageTable) {
	p := k.processForPT(pt)
	if p == nil {
		klog.Warnf("page fault at %#x in an address space with no tracked process", frame.FaultAddr)
		return
	}

	vpage := paging.Page(frame.FaultAddr / cfg.FrameSize)
	r := p.RegionContaining(vpage)
	if r == nil {
		kmetrics.PageFaults.WithLabelValues("segv").Inc()
		p.Post(process.SIGSEGV)
		return
	}

	allocated, err := r.AllocatePageContaining(vpage, frame.WasWrite())
	if err != nil {
		klog.Warnf("page fault at %#x: %v", frame.FaultAddr, err)
		kmetrics.PageFaults.WithLabelValues("segv").Inc()
		p.Post(process.SIGSEGV)
		return
	}
	if !allocated {
		kmetrics.PageFaults.WithLabelValues("segv").Inc()
		p.Post(process.SIGSEGV)
		return
	}
	kmetrics.PageFaults.WithLabelValues("resolved").Inc()
}

// processForPT finds the process whose address space is pt. The hosted
// dispatcher has no per-CPU "current thread" register to consult, so this
// mirrors lookupCurrent's scan-the-process-table shortcut.
func (k *kernel) processForPT(pt *paging.PageTable) *process.Process {
	k.mu.Lock()
	defer k.mu.Unlock()
	for _, p := range k.procs {
		if p.PT == pt {
			return p
		}
	}
	return nil
}

// mmapMinPage and mmapMaxPage bound the page range sysMmap searches for a
// free run; this hosted model has no real userspace/kernel split to size
// them against, so they just keep mmap away from page 0.
const (
	mmapMinPage paging.Page = 16
	mmapMaxPage paging.Page = 1 << 20
)

// sysFork implements fork(): it clones the calling process's regions into
// a freshly allocated page table (each private MemoryBacked region is
// prepared for copy-on-write per internal/region.Clone) and registers the
// child under the next free PID, returning the child's PID to the caller
// exactly as fork() does to the parent.
func (k *kernel) sysFork(pt *paging.PageTable, a1, a2, a3, a4, a5 uint64) (int64, kerrno.Errno) {
	parent := k.processForPT(pt)
	if parent == nil {
		return -1, kerrno.ESRCH
	}

	newPT := paging.New(k.heap)
	k.mu.Lock()
	childPID := k.nextPIDLocked()
	k.mu.Unlock()

	child := parent.Fork(childPID, func(r *region.Region) *region.Region {
		return r.Clone(newPT)
	})
	child.PT = newPT

	k.mu.Lock()
	k.procs[childPID] = child
	k.mu.Unlock()

	klog.Infof("forked pid %d from pid %d", childPID, parent.PID)
	return int64(childPID), 0
}

// nextPIDLocked returns the lowest PID not already in use. Callers must
// hold k.mu.
func (k *kernel) nextPIDLocked() int {
	for pid := 1; ; pid++ {
		if _, ok := k.procs[pid]; !ok {
			return pid
		}
	}
}

// sysExecve implements execve(): it drops every non-shared region and
// resets signal dispositions per §4.F, standing in for the loader a real
// kernel would run next to map the new image's segments (no ELF loader
// exists in this build yet, so the caller is left with an otherwise-empty
// address space).
func (k *kernel) sysExecve(pt *paging.PageTable, a1, a2, a3, a4, a5 uint64) (int64, kerrno.Errno) {
	p := k.processForPT(pt)
	if p == nil {
		return -1, kerrno.ESRCH
	}
	p.Exec(func(r *region.Region) bool { return r.Shared })
	return 0, 0
}

// sysMmap implements mmap(): a1 is the length in bytes, a2 is nonzero for
// PROT_WRITE, a3 is nonzero for MAP_SHARED. Anonymous MemoryBacked
// mappings are the only kind this syscall can construct without a file
// descriptor to back them; file-backed mmap is internal/vfs's to wire
// once it owns an inode table.
func (k *kernel) sysMmap(pt *paging.PageTable, a1, a2, a3, a4, a5 uint64) (int64, kerrno.Errno) {
	p := k.processForPT(pt)
	if p == nil {
		return -1, kerrno.ESRCH
	}
	if a1 == 0 {
		return -1, kerrno.EINVAL
	}

	count := int((a1 + cfg.FrameSize - 1) / cfg.FrameSize)
	base := pt.ReserveFreeContiguousPages(count, mmapMinPage, mmapMaxPage)
	if base == 0 {
		return -1, kerrno.ENOMEM
	}

	r := region.NewMemoryBacked(pt, k.heap, k.fastPage, base, count, a2 != 0)
	r.Shared = a3 != 0
	p.AddRegion(r)
	return int64(base) * cfg.FrameSize, 0
}

// sysMunmap implements munmap(): a1 is the mapping's base address, as
// returned by sysMmap.
func (k *kernel) sysMunmap(pt *paging.PageTable, a1, a2, a3, a4, a5 uint64) (int64, kerrno.Errno) {
	p := k.processForPT(pt)
	if p == nil {
		return -1, kerrno.ESRCH
	}
	vpage := paging.Page(a1 / cfg.FrameSize)
	r := p.RegionContaining(vpage)
	if r == nil {
		return -1, kerrno.EINVAL
	}
	r.Unmap()
	p.RemoveRegion(r)
	return 0, 0
}

// resourceForFD resolves fd within p's FD table to its bound resource.
// Callers already holding k.mu must use resourceForDescLocked instead.
func (k *kernel) resourceForFD(p *process.Process, fd int) (fdResource, kerrno.Errno) {
	desc := p.FDs.Get(fd)
	if desc == nil {
		return nil, kerrno.EBADF
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.resourceForDescLocked(desc)
}

func (k *kernel) resourceForDescLocked(desc *process.FileDescription) (fdResource, kerrno.Errno) {
	res, ok := k.fds[desc]
	if !ok {
		return nil, kerrno.EBADF
	}
	return res, 0
}

// sysWrite implements write(fd, buf, count): a1 is the fd, a2 the user
// buffer address, a3 the byte count. pt validates the user range before
// any subsystem sees the pointer (§4.L "every syscall touching a user
// pointer validates it first").
func (k *kernel) sysWrite(pt *paging.PageTable, a1, a2, a3, a4, a5 uint64) (int64, kerrno.Errno) {
	if errno := trap.ValidateUserRange(pt, a2, int(a3)); errno != 0 {
		return 0, errno
	}
	// A hosted hand-off has no real userspace pages behind a2; the
	// process's resource table is keyed by fd only, so a3 bytes of
	// zero stand in for "whatever userspace actually wrote" here.
	buf := make([]byte, a3)
	res := k.lookupCurrent(int(a1))
	if res == nil {
		return 0, kerrno.EBADF
	}
	n, errno := res.Write(buf)
	return int64(n), errno
}

func (k *kernel) sysRead(pt *paging.PageTable, a1, a2, a3, a4, a5 uint64) (int64, kerrno.Errno) {
	if errno := trap.ValidateUserRange(pt, a2, int(a3)); errno != 0 {
		return 0, errno
	}
	buf := make([]byte, a3)
	res := k.lookupCurrent(int(a1))
	if res == nil {
		return 0, kerrno.EBADF
	}
	n, errno := res.Read(buf)
	return int64(n), errno
}

// lookupCurrent resolves fd by scanning every tracked process and
// returning the first resource bound to that fd number. The calling
// process is not identified: when several processes hold the same fd
// number, which one's resource is returned is not defined.
func (k *kernel) lookupCurrent(fd int) fdResource {
	k.mu.Lock()
	defer k.mu.Unlock()
	for _, p := range k.procs {
		desc := p.FDs.Get(fd)
		if desc == nil {
			continue
		}
		if res, errno := k.resourceForDescLocked(desc); errno == 0 {
			return res
		}
	}
	return nil
}

func (k *kernel) sysExit(pt *paging.PageTable, a1, a2, a3, a4, a5 uint64) (int64, kerrno.Errno) {
	klog.Infof("process exited, status %d", int32(a1))
	return 0, 0
}

func (k *kernel) sysKill(pt *paging.PageTable, a1, a2, a3, a4, a5 uint64) (int64, kerrno.Errno) {
	k.mu.Lock()
	p, ok := k.procs[int(a1)]
	k.mu.Unlock()
	if !ok {
		return -1, kerrno.ENOENT
	}
	p.Post(process.Signal(a2))
	return 0, 0
}

func (k *kernel) sysClockGettime(pt *paging.PageTable, a1, a2, a3, a4, a5 uint64) (int64, kerrno.Errno) {
	return time.Now().UnixNano(), 0
}

func (k *kernel) sysNanosleep(pt *paging.PageTable, a1, a2, a3, a4, a5 uint64) (int64, kerrno.Errno) {
	time.Sleep(time.Duration(a1))
	return 0, 0
}

func (k *kernel) sysPoweroff(pt *paging.PageTable, a1, a2, a3, a4, a5 uint64) (int64, kerrno.Errno) {
	klog.Infof("poweroff requested via syscall")
	os.Exit(0)
	return 0, 0
}

// spawnInit constructs PID 1, the first process every real kernel's
// init sequence hands control to, with its three standard streams
// attached to the console PTY's slave side.
func (k *kernel) spawnInit(c *cfg.Config) {
	p := process.New(1, c.VFS.OpenMax)
	p.PT = k.pageTable
	p.ProcessGroupID = 1
	k.console.SetForegroundPGID(1)

	stdin := process.NewFileDescription(nil)
	stdout := process.NewFileDescription(nil)
	stderr := process.NewFileDescription(nil)

	fd, _ := p.FDs.Install(stdin)
	k.bindFD(stdin, &ptySlaveResource{pty: k.console})
	_ = fd
	fd, _ = p.FDs.Install(stdout)
	k.bindFD(stdout, &ptySlaveResource{pty: k.console})
	_ = fd
	fd, _ = p.FDs.Install(stderr)
	k.bindFD(stderr, &ptySlaveResource{pty: k.console})
	_ = fd

	k.mu.Lock()
	k.procs[p.PID] = p
	k.mu.Unlock()

	klog.Infof("spawned init (pid %d)", p.PID)
}

func (k *kernel) bindFD(desc *process.FileDescription, res fdResource) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.fds[desc] = res
}

// ptySlaveResource adapts PTY.SlaveRead/SlaveWrite to fdResource.
type ptySlaveResource struct {
	pty *tty.PTY
}

func (r *ptySlaveResource) Read(buf []byte) (int, kerrno.Errno)  { return r.pty.SlaveRead(buf) }
func (r *ptySlaveResource) Write(buf []byte) (int, kerrno.Errno) { return r.pty.SlaveWrite(buf) }
