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

package vfs

import (
	"sync"

	"github.com/coreklabs/corekernel/internal/kerrno"
)

// Pipe is the capability a pipe inode exposes: a bounded in-kernel byte
// buffer with blocking semantics expressed here as condition variables
// rather than a full ThreadBlocker wiring, since a pipe has no mount-table
// position of its own.
type Pipe struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond

	buf      []byte
	capacity int
	readers  int
	writers  int
}

// NewPipe constructs a pipe with the given buffer capacity.
func NewPipe(capacity int) *Pipe {
	p := &Pipe{capacity: capacity, readers: 1, writers: 1}
	p.notEmpty = sync.NewCond(&p.mu)
	p.notFull = sync.NewCond(&p.mu)
	return p
}

// CloseReader/CloseWriter drop one end's reference; the last writer
// dropping unblocks readers with EOF (n=0, errno=0), the last reader
// dropping causes further writes to fail with EPIPE.
func (p *Pipe) CloseReader() {
	p.mu.Lock()
	p.readers--
	p.mu.Unlock()
	p.notFull.Broadcast()
}

func (p *Pipe) CloseWriter() {
	p.mu.Lock()
	p.writers--
	p.mu.Unlock()
	p.notEmpty.Broadcast()
}

// Read copies up to len(buf) bytes out, blocking while the pipe is empty
// and at least one writer remains open. Returns (0, 0) at EOF.
func (p *Pipe) Read(buf []byte) (int, kerrno.Errno) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.buf) == 0 && p.writers > 0 {
		p.notEmpty.Wait()
	}
	if len(p.buf) == 0 {
		return 0, 0
	}
	n := copy(buf, p.buf)
	p.buf = p.buf[n:]
	p.notFull.Broadcast()
	return n, 0
}

// Write appends buf, blocking while the pipe is full and at least one
// reader remains open. Returns EPIPE if no reader remains.
func (p *Pipe) Write(buf []byte) (int, kerrno.Errno) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.readers == 0 {
		return 0, kerrno.EPIPE
	}
	for len(p.buf)+len(buf) > p.capacity && p.readers > 0 {
		p.notFull.Wait()
	}
	if p.readers == 0 {
		return 0, kerrno.EPIPE
	}
	p.buf = append(p.buf, buf...)
	p.notEmpty.Broadcast()
	return len(buf), 0
}
