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

// Package devfs implements /dev (§6 "Filesystem layout exposed to
// userspace"): a flat directory of device nodes. devfs itself supplies
// null/zero/random, which need no driver; Register lets a driver outside
// this package add a node of its own.
package devfs

import (
	"crypto/rand"
	"sync"
	"sync/atomic"

	"github.com/coreklabs/corekernel/internal/kerrno"
	"github.com/coreklabs/corekernel/internal/vfs"
)

var nextIno uint64 = 1

func allocIno() uint64 { return atomic.AddUint64(&nextIno, 1) }

// FS is the /dev filesystem.
type FS struct {
	root *dirInode
}

// New constructs a devfs pre-populated with null, zero, and random.
func New() *FS {
	fs := &FS{}
	fs.root = &dirInode{entries: make(map[string]vfs.Inode)}
	fs.root.fs = fs
	fs.root.refcount = 1
	fs.root.stat = vfs.Stat{Ino: allocIno(), Mode: vfs.ModeDir, Perm: 0755, Nlink: 2}

	fs.root.entries["null"] = newDevice(fs, &nullDevice{})
	fs.root.entries["zero"] = newDevice(fs, &zeroDevice{})
	fs.root.entries["random"] = newDevice(fs, &randomDevice{})
	return fs
}

func (fs *FS) Name() string    { return "devfs" }
func (fs *FS) Root() vfs.Inode { return fs.root }

// Register installs a device node named name, backed by dev, so that
// drivers built outside this package (tty*, sd*, eth*, fb0, ...) can
// appear under /dev without devfs knowing their concrete type.
func (fs *FS) Register(name string, dev Device) {
	fs.root.mu.Lock()
	defer fs.root.mu.Unlock()
	fs.root.entries[name] = newDevice(fs, dev)
}

// Device is the minimal capability a /dev node's backing driver exposes.
type Device interface {
	ReadAt(buf []byte, offset int64) (int, kerrno.Errno)
	WriteAt(buf []byte, offset int64) (int, kerrno.Errno)
}

type dirInode struct {
	fs       *FS
	mu       sync.Mutex
	refcount int
	stat     vfs.Stat
	entries  map[string]vfs.Inode
	order    []string
}

func (d *dirInode) Stat() vfs.Stat        { return d.stat }
func (d *dirInode) FS() vfs.FileSystem    { return d.fs }
func (d *dirInode) Retain()               {}
func (d *dirInode) Release()              {}

func (d *dirInode) FindInode(name string) (vfs.Inode, kerrno.Errno) {
	d.mu.Lock()
	defer d.mu.Unlock()
	ino, ok := d.entries[name]
	if !ok {
		return nil, kerrno.ENOENT
	}
	return ino, 0
}

func (d *dirInode) CreateFile(string, uint32) (vfs.Inode, kerrno.Errno) { return nil, kerrno.ENOTSUP }
func (d *dirInode) CreateDir(string, uint32) (vfs.Inode, kerrno.Errno)  { return nil, kerrno.ENOTSUP }
func (d *dirInode) Unlink(string) kerrno.Errno                         { return kerrno.ENOTSUP }
func (d *dirInode) Link(string, vfs.Inode) kerrno.Errno                { return kerrno.ENOTSUP }
func (d *dirInode) Symlink(string, string) (vfs.Inode, kerrno.Errno)   { return nil, kerrno.ENOTSUP }

func (d *dirInode) ReadDir(cookie int, buf []vfs.DirEntry) (int, int, kerrno.Errno) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cookie >= len(d.entries) {
		return 0, cookie, 0
	}
	if len(buf) == 0 {
		return 0, cookie, kerrno.ENOBUFS
	}

	names := make([]string, 0, len(d.entries))
	for name := range d.entries {
		names = append(names, name)
	}
	// Deterministic order for iteration stability across calls in the
	// same generation: sort once per call rather than maintaining a
	// separately-synchronized order slice, since devfs churns rarely.
	for i := 1; i < len(names); i++ {
		for j := i; j > 0 && names[j-1] > names[j]; j-- {
			names[j-1], names[j] = names[j], names[j-1]
		}
	}

	n := 0
	i := cookie
	for i < len(names) && n < len(buf) {
		name := names[i]
		ino := d.entries[name]
		buf[n] = vfs.DirEntry{Ino: ino.Stat().Ino, Type: ino.Stat().Mode, Name: name}
		n++
		i++
	}
	return n, i, 0
}

// deviceInode wraps a Device as an Inode with no directory capability.
type deviceInode struct {
	fs   *FS
	stat vfs.Stat
	dev  Device
}

func newDevice(fs *FS, dev Device) *deviceInode {
	return &deviceInode{fs: fs, dev: dev, stat: vfs.Stat{Ino: allocIno(), Perm: 0666, Nlink: 1}}
}

func (d *deviceInode) Stat() vfs.Stat     { return d.stat }
func (d *deviceInode) FS() vfs.FileSystem { return d.fs }
func (d *deviceInode) Retain()            {}
func (d *deviceInode) Release()           {}

func (d *deviceInode) ReadAt(buf []byte, offset int64) (int, kerrno.Errno) {
	return d.dev.ReadAt(buf, offset)
}
func (d *deviceInode) WriteAt(buf []byte, offset int64) (int, kerrno.Errno) {
	return d.dev.WriteAt(buf, offset)
}

type nullDevice struct{}

func (nullDevice) ReadAt([]byte, int64) (int, kerrno.Errno)        { return 0, 0 }
func (nullDevice) WriteAt(buf []byte, _ int64) (int, kerrno.Errno) { return len(buf), 0 }

type zeroDevice struct{}

func (zeroDevice) ReadAt(buf []byte, _ int64) (int, kerrno.Errno) {
	for i := range buf {
		buf[i] = 0
	}
	return len(buf), 0
}
func (zeroDevice) WriteAt(buf []byte, _ int64) (int, kerrno.Errno) { return len(buf), 0 }

type randomDevice struct{}

func (randomDevice) ReadAt(buf []byte, _ int64) (int, kerrno.Errno) {
	n, err := rand.Read(buf)
	if err != nil {
		return 0, kerrno.EIO
	}
	return n, 0
}
func (randomDevice) WriteAt(buf []byte, _ int64) (int, kerrno.Errno) { return len(buf), 0 }

var (
	_ vfs.Directory = (*dirInode)(nil)
	_ vfs.Inode     = (*deviceInode)(nil)
)
