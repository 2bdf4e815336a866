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

package vfs_test

import (
	"testing"

	"github.com/coreklabs/corekernel/internal/kerrno"
	"github.com/coreklabs/corekernel/internal/vfs"
	"github.com/coreklabs/corekernel/internal/vfs/devfs"
	"github.com/coreklabs/corekernel/internal/vfs/tmpfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVFS_WalkSimplePath(t *testing.T) {
	fs := tmpfs.New()
	v := vfs.New(fs, 0)

	root := fs.Root().(vfs.Directory)
	_, errno := root.CreateDir("a", 0755)
	require.Zero(t, errno)

	a, errno := v.Walk(nil, "/a", vfs.WalkOptions{})
	require.Zero(t, errno)
	assert.NotZero(t, a.Stat().Ino)
}

func TestVFS_WalkCrossesMountPoint(t *testing.T) {
	root := tmpfs.New()
	v := vfs.New(root, 0)

	rootDir := root.Root().(vfs.Directory)
	mountIno, errno := rootDir.CreateDir("dev", 0755)
	require.Zero(t, errno)

	dev := devfs.New()
	v.Mount(root, mountIno.Stat().Ino, dev)

	null, errno := v.Walk(nil, "/dev/null", vfs.WalkOptions{})
	require.Zero(t, errno)
	assert.Equal(t, dev.Root().(vfs.Directory).Stat().Ino != null.Stat().Ino, true)
}

func TestVFS_WalkFollowsSymlink(t *testing.T) {
	fs := tmpfs.New()
	v := vfs.New(fs, 0)
	root := fs.Root().(vfs.Directory)

	_, errno := root.CreateFile("real", 0644)
	require.Zero(t, errno)
	_, errno = root.Symlink("link", "/real")
	require.Zero(t, errno)

	resolved, errno := v.Walk(nil, "/link", vfs.WalkOptions{})
	require.Zero(t, errno)
	assert.Zero(t, resolved.Stat().Mode&vfs.ModeSymlink)
}

func TestVFS_WalkNoFollowStopsAtSymlink(t *testing.T) {
	fs := tmpfs.New()
	v := vfs.New(fs, 0)
	root := fs.Root().(vfs.Directory)

	_, errno := root.CreateFile("real", 0644)
	require.Zero(t, errno)
	_, errno = root.Symlink("link", "/real")
	require.Zero(t, errno)

	resolved, errno := v.Walk(nil, "/link", vfs.WalkOptions{NoFollow: true})
	require.Zero(t, errno)
	assert.NotZero(t, resolved.Stat().Mode&vfs.ModeSymlink)
}

func TestVFS_WalkDetectsSymlinkLoop(t *testing.T) {
	fs := tmpfs.New()
	v := vfs.New(fs, 2)
	root := fs.Root().(vfs.Directory)

	_, errno := root.Symlink("a", "/b")
	require.Zero(t, errno)
	_, errno = root.Symlink("b", "/a")
	require.Zero(t, errno)

	_, errno = v.Walk(nil, "/a", vfs.WalkOptions{})
	assert.Equal(t, kerrno.ELOOP, errno)
}

func TestVFS_WalkMissingComponent(t *testing.T) {
	fs := tmpfs.New()
	v := vfs.New(fs, 0)
	_, errno := v.Walk(nil, "/nope", vfs.WalkOptions{})
	assert.Equal(t, kerrno.ENOENT, errno)
}

func TestPipe_ReadBlocksUntilWrite(t *testing.T) {
	p := vfs.NewPipe(16)
	done := make(chan struct{})
	var n int
	go func() {
		buf := make([]byte, 4)
		n, _ = p.Read(buf)
		close(done)
	}()

	_, errno := p.Write([]byte("hi"))
	require.Zero(t, errno)
	<-done
	assert.Equal(t, 2, n)
}

func TestPipe_WriteAfterReadersGoneReturnsEPIPE(t *testing.T) {
	p := vfs.NewPipe(16)
	p.CloseReader()
	_, errno := p.Write([]byte("x"))
	assert.Equal(t, kerrno.EPIPE, errno)
}
