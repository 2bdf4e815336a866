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

// Package tmpfs is the default root filesystem (§4.G "pluggable
// filesystems"): an entirely in-memory, paged filesystem. Regular file
// contents live in page-sized chunks so that internal/region's
// file-backed fault path can address them by page offset the same way it
// would address a disk-backed file.
package tmpfs

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/coreklabs/corekernel/cfg"
	"github.com/coreklabs/corekernel/internal/kerrno"
	"github.com/coreklabs/corekernel/internal/vfs"
)

var nextIno uint64 = 1

func allocIno() uint64 {
	return atomic.AddUint64(&nextIno, 1)
}

// FS is one tmpfs instance, usually mounted once as VFS root.
type FS struct {
	root *dirInode
}

// New constructs an empty tmpfs with a root directory.
func New() *FS {
	fs := &FS{}
	fs.root = newDir(fs, nil, 0755)
	fs.root.refcount = 1 // pinned root reference, per §4.G
	return fs
}

func (fs *FS) Name() string    { return "tmpfs" }
func (fs *FS) Root() vfs.Inode { return fs.root }

type baseInode struct {
	fs       *FS
	mu       sync.Mutex
	refcount int
	stat     vfs.Stat
	onClose  func()
}

func (b *baseInode) Stat() vfs.Stat {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stat
}

func (b *baseInode) FS() vfs.FileSystem { return b.fs }

func (b *baseInode) Retain() {
	b.mu.Lock()
	b.refcount++
	b.mu.Unlock()
}

func (b *baseInode) Release() {
	b.mu.Lock()
	b.refcount--
	zero := b.refcount <= 0
	b.mu.Unlock()
	if zero && b.onClose != nil {
		b.onClose()
	}
}

// fileInode is a regular, paged file.
type fileInode struct {
	baseInode
	mu    sync.Mutex
	pages map[int]*[cfg.FrameSize]byte
	size  int64
}

func newFile(fs *FS, perm uint32) *fileInode {
	now := time.Now()
	f := &fileInode{pages: make(map[int]*[cfg.FrameSize]byte)}
	f.fs = fs
	f.refcount = 1
	f.stat = vfs.Stat{Ino: allocIno(), Perm: perm, Nlink: 1, BlkSize: cfg.FrameSize, ATime: now, MTime: now, CTime: now}
	return f
}

// ReadPage implements internal/region.PageSource: a file-backed region
// mapping a tmpfs inode reads directly from the page map rather than
// going through a block device, since tmpfs has no disk behind it.
func (f *fileInode) ReadPage(pageOffset int, buf *[cfg.FrameSize]byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.pages[pageOffset]; ok {
		*buf = *p
	} else {
		for i := range buf {
			buf[i] = 0
		}
	}
	return nil
}

func (f *fileInode) ReadAt(buf []byte, offset int64) (int, kerrno.Errno) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if offset >= f.size {
		return 0, 0
	}
	n := 0
	for n < len(buf) && offset+int64(n) < f.size {
		pos := offset + int64(n)
		pageOff := int(pos / cfg.FrameSize)
		inPage := int(pos % cfg.FrameSize)
		page, ok := f.pages[pageOff]
		var b byte
		if ok {
			b = page[inPage]
		}
		buf[n] = b
		n++
	}
	return n, 0
}

func (f *fileInode) WriteAt(buf []byte, offset int64) (int, kerrno.Errno) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, b := range buf {
		pos := offset + int64(i)
		pageOff := int(pos / cfg.FrameSize)
		inPage := int(pos % cfg.FrameSize)
		page, ok := f.pages[pageOff]
		if !ok {
			page = &[cfg.FrameSize]byte{}
			f.pages[pageOff] = page
		}
		page[inPage] = b
		if pos+1 > f.size {
			f.size = pos + 1
		}
	}
	f.stat.Size = f.size
	f.stat.MTime = time.Now()
	return len(buf), 0
}

// dirInode is a directory, holding a name -> inode map.
type dirInode struct {
	baseInode
	mu      sync.Mutex
	entries map[string]vfs.Inode
	order   []string
}

func newDir(fs *FS, parent *dirInode, perm uint32) *dirInode {
	now := time.Now()
	d := &dirInode{entries: make(map[string]vfs.Inode)}
	d.fs = fs
	d.refcount = 1
	d.stat = vfs.Stat{Ino: allocIno(), Mode: vfs.ModeDir, Perm: perm, Nlink: 2, BlkSize: cfg.FrameSize, ATime: now, MTime: now, CTime: now}
	return d
}

func (d *dirInode) FindInode(name string) (vfs.Inode, kerrno.Errno) {
	d.mu.Lock()
	defer d.mu.Unlock()
	ino, ok := d.entries[name]
	if !ok {
		return nil, kerrno.ENOENT
	}
	return ino, 0
}

func (d *dirInode) insert(name string, ino vfs.Inode) kerrno.Errno {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.entries[name]; exists {
		return kerrno.EEXIST
	}
	d.entries[name] = ino
	d.order = append(d.order, name)
	return 0
}

func (d *dirInode) CreateFile(name string, perm uint32) (vfs.Inode, kerrno.Errno) {
	f := newFile(d.fs, perm)
	if errno := d.insert(name, f); errno != 0 {
		return nil, errno
	}
	return f, 0
}

func (d *dirInode) CreateDir(name string, perm uint32) (vfs.Inode, kerrno.Errno) {
	sub := newDir(d.fs, d, perm)
	if errno := d.insert(name, sub); errno != 0 {
		return nil, errno
	}
	return sub, 0
}

func (d *dirInode) Unlink(name string) kerrno.Errno {
	d.mu.Lock()
	defer d.mu.Unlock()
	ino, ok := d.entries[name]
	if !ok {
		return kerrno.ENOENT
	}
	delete(d.entries, name)
	for i, n := range d.order {
		if n == name {
			d.order = append(d.order[:i], d.order[i+1:]...)
			break
		}
	}
	ino.Release()
	return 0
}

func (d *dirInode) Link(name string, target vfs.Inode) kerrno.Errno {
	if errno := d.insert(name, target); errno != 0 {
		return errno
	}
	target.Retain()
	return 0
}

func (d *dirInode) Symlink(name, target string) (vfs.Inode, kerrno.Errno) {
	now := time.Now()
	s := &symlinkInode{target: target}
	s.fs = d.fs
	s.refcount = 1
	s.stat = vfs.Stat{Ino: allocIno(), Mode: vfs.ModeSymlink, Perm: 0777, Nlink: 1, ATime: now, MTime: now, CTime: now}
	if errno := d.insert(name, s); errno != 0 {
		return nil, errno
	}
	return s, 0
}

// ReadDir fills buf starting at cookie (an index into insertion order),
// returning ENOBUFS if len(buf) == 0 and entries remain (§4.G).
func (d *dirInode) ReadDir(cookie int, buf []DirEntry) (int, int, kerrno.Errno) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if cookie >= len(d.order) {
		return 0, cookie, 0
	}
	if len(buf) == 0 {
		return 0, cookie, kerrno.ENOBUFS
	}

	n := 0
	i := cookie
	for i < len(d.order) && n < len(buf) {
		name := d.order[i]
		ino := d.entries[name]
		buf[n] = DirEntry{Ino: ino.Stat().Ino, Type: ino.Stat().Mode, Name: name}
		n++
		i++
	}
	return n, i, 0
}

// DirEntry re-exports vfs.DirEntry so callers need not import vfs solely
// for the ReadDir signature's element type.
type DirEntry = vfs.DirEntry

type symlinkInode struct {
	baseInode
	target string
}

func (s *symlinkInode) ReadLink() (string, kerrno.Errno) {
	return s.target, 0
}

var (
	_ vfs.Directory    = (*dirInode)(nil)
	_ vfs.FileReader   = (*fileInode)(nil)
	_ vfs.FileWriter   = (*fileInode)(nil)
	_ vfs.SymlinkInode = (*symlinkInode)(nil)
)
