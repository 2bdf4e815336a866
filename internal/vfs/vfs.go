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

// Package vfs implements the virtual filesystem layer (§4.G): path
// walking across mount points with bounded symlink resolution, a
// reference-counted Inode capability set, and directory iteration with
// ENOBUFS-retry semantics. Concrete filesystems (internal/vfs/tmpfs,
// internal/vfs/devfs) are external collaborators that only need to
// satisfy the Inode/Directory interfaces below.
package vfs

import (
	"strings"
	"sync"
	"time"

	"github.com/coreklabs/corekernel/internal/kerrno"
)

// Mode bits, a narrow subset of the POSIX st_mode namespace.
type Mode uint32

const (
	ModeDir     Mode = 1 << 16
	ModeSymlink Mode = 1 << 17
	ModeSocket  Mode = 1 << 18
)

// Stat is the subset of inode metadata every inode carries, per §3.
type Stat struct {
	Ino     uint64
	Mode    Mode
	Perm    uint32
	UID     uint32
	GID     uint32
	Size    int64
	ATime   time.Time
	MTime   time.Time
	CTime   time.Time
	Nlink   int
	BlkSize int
}

// DirEntry is one entry returned by Directory.ReadDir.
type DirEntry struct {
	Ino  uint64
	Type Mode
	Name string
}

// Inode is the capability-polymorphic handle §3 describes: every
// filesystem's nodes implement at least this; Directory, Symlink, Socket
// and Pipe are additional capabilities an inode may also implement, type
// asserted by callers that need them.
type Inode interface {
	Stat() Stat
	FS() FileSystem

	// Retain/Release implement the reference-counting ownership model;
	// Release triggers the filesystem's on_close hook on the last drop.
	Retain()
	Release()
}

// FileReader/FileWriter are the byte-stream capabilities a regular-file
// inode exposes.
type FileReader interface {
	ReadAt(buf []byte, offset int64) (int, kerrno.Errno)
}

type FileWriter interface {
	WriteAt(buf []byte, offset int64) (int, kerrno.Errno)
}

// Directory is the capability a directory inode exposes: name resolution
// plus the mutating namespace operations and buffered iteration.
type Directory interface {
	Inode
	FindInode(name string) (Inode, kerrno.Errno)
	CreateFile(name string, perm uint32) (Inode, kerrno.Errno)
	CreateDir(name string, perm uint32) (Inode, kerrno.Errno)
	Unlink(name string) kerrno.Errno
	Link(name string, target Inode) kerrno.Errno
	Symlink(name, target string) (Inode, kerrno.Errno)

	// ReadDir fills buf starting at cookie, returning how many entries
	// were written and the cookie to resume from. ENOBUFS is returned (n=0)
	// if buf cannot hold even a single entry and entries remain.
	ReadDir(cookie int, buf []DirEntry) (n int, nextCookie int, errno kerrno.Errno)
}

// SymlinkInode is the capability a symlink inode exposes.
type SymlinkInode interface {
	Inode
	ReadLink() (string, kerrno.Errno)
}

// FileSystem is one mounted filesystem driver.
type FileSystem interface {
	Name() string
	Root() Inode
}

// mount records one (covered inode) -> (guest filesystem) binding.
type mount struct {
	coveredFS  FileSystem
	coveredIno uint64
	guest      FileSystem
}

const defaultMaxSymlinkDepth = 40

// VFS is the singleton mount table plus path-walking entry points.
type VFS struct {
	mu     sync.RWMutex
	root   FileSystem
	mounts []mount

	maxSymlinkDepth int
}

// New constructs a VFS rooted at root.
func New(root FileSystem, maxSymlinkDepth int) *VFS {
	if maxSymlinkDepth <= 0 {
		maxSymlinkDepth = defaultMaxSymlinkDepth
	}
	return &VFS{root: root, maxSymlinkDepth: maxSymlinkDepth}
}

// Mount binds guest as the filesystem visible at (coveredFS, coveredIno).
func (v *VFS) Mount(coveredFS FileSystem, coveredIno uint64, guest FileSystem) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.mounts = append(v.mounts, mount{coveredFS: coveredFS, coveredIno: coveredIno, guest: guest})
}

// mountedAt returns the guest filesystem's root if (fs, ino) is a mount
// point, else ok=false.
func (v *VFS) mountedAt(fs FileSystem, ino uint64) (Inode, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	for _, m := range v.mounts {
		if m.coveredFS == fs && m.coveredIno == ino {
			return m.guest.Root(), true
		}
	}
	return nil, false
}

// WalkOptions controls terminal-component behavior.
type WalkOptions struct {
	NoFollow bool // O_NOFOLLOW: abort if the final component is a symlink
}

// Walk resolves path starting from cwd (nil means the VFS root),
// crossing mount points and following symlinks up to maxSymlinkDepth,
// per §4.G.
func (v *VFS) Walk(cwd Inode, path string, opts WalkOptions) (Inode, kerrno.Errno) {
	return v.walk(cwd, path, opts, 0)
}

func (v *VFS) walk(cwd Inode, path string, opts WalkOptions, depth int) (Inode, kerrno.Errno) {
	current := cwd
	if strings.HasPrefix(path, "/") || current == nil {
		current = v.root.Root()
	}

	segments := splitPath(path)
	for i, seg := range segments {
		last := i == len(segments)-1

		if mounted, ok := v.mountedAt(current.FS(), current.Stat().Ino); ok {
			current = mounted
		}

		dir, ok := current.(Directory)
		if !ok {
			return nil, kerrno.ENOTDIR
		}
		next, errno := dir.FindInode(seg)
		if errno != 0 {
			return nil, errno
		}

		if next.Stat().Mode&ModeSymlink != 0 {
			if last && opts.NoFollow {
				return next, 0
			}
			if depth >= v.maxSymlinkDepth {
				return nil, kerrno.ELOOP
			}
			sl, ok := next.(SymlinkInode)
			if !ok {
				return nil, kerrno.EINVAL
			}
			target, errno := sl.ReadLink()
			if errno != 0 {
				return nil, errno
			}
			resolved, errno := v.walk(current, target, WalkOptions{}, depth+1)
			if errno != 0 {
				return nil, errno
			}
			current = resolved
			continue
		}

		current = next
	}

	if mounted, ok := v.mountedAt(current.FS(), current.Stat().Ino); ok {
		current = mounted
	}
	return current, 0
}

func splitPath(path string) []string {
	var out []string
	for _, seg := range strings.Split(path, "/") {
		if seg == "" || seg == "." {
			continue
		}
		out = append(out, seg)
	}
	return out
}
