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

package tty

import (
	"github.com/coreklabs/corekernel/internal/kerrno"
	"github.com/coreklabs/corekernel/internal/vfs"
)

const defaultPTYBufBytes = 4096

// PTY is one pseudo-terminal pair. Bytes written to the master pass
// through the slave's line discipline exactly as if they were typed at
// a keyboard (so a terminal emulator driving the master gets the same
// cooked-mode editing and INTR/QUIT/SUSP dispatch a real console would
// apply); bytes the slave-side program writes go straight back to the
// master unprocessed, since a real PTY never re-runs a program's own
// output back through its own input editor.
type PTY struct {
	disc      *Discipline
	masterOut *vfs.Pipe
}

// NewPTY constructs a pair with ICANON-default termios and no
// foreground process group; signal is wired to the discipline exactly
// as NewDiscipline describes.
func NewPTY(signal SignalFunc) *PTY {
	return &PTY{
		disc:      NewDiscipline(signal),
		masterOut: vfs.NewPipe(defaultPTYBufBytes),
	}
}

// MasterWrite feeds keystrokes from the controlling terminal into the
// slave's line discipline.
func (p *PTY) MasterWrite(buf []byte) (int, kerrno.Errno) {
	for _, b := range buf {
		p.disc.Input(b)
	}
	return len(buf), 0
}

// MasterRead drains whatever the slave-side program has written.
func (p *PTY) MasterRead(buf []byte) (int, kerrno.Errno) {
	return p.masterOut.Read(buf)
}

// SlaveRead drains cooked (or raw, depending on termios) input destined
// for the program attached to the slave.
func (p *PTY) SlaveRead(buf []byte) (int, kerrno.Errno) {
	return p.disc.Read(buf)
}

// SlaveWrite is the slave-side program's output, relayed to the master
// untouched.
func (p *PTY) SlaveWrite(buf []byte) (int, kerrno.Errno) {
	return p.masterOut.Write(buf)
}

func (p *PTY) SetForegroundPGID(pgid int) { p.disc.SetForegroundPGID(pgid) }
func (p *PTY) SetTermios(t Termios)       { p.disc.SetTermios(t) }
func (p *PTY) Termios() Termios           { return p.disc.GetTermios() }

// Close tears down both ends; any blocked Read on either side observes
// EOF (master) or the pipe's EPIPE/EOF semantics (slave).
func (p *PTY) Close() {
	p.masterOut.CloseReader()
	p.masterOut.CloseWriter()
	p.disc.out.CloseReader()
	p.disc.out.CloseWriter()
}
