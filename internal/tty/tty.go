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

// Package tty implements the line discipline (§4.M): cooked/raw input
// editing and ICANON-mode signal generation, ANSI CSI output
// interpretation over a caller-supplied terminal driver, and the PTY
// master/slave pair.
package tty

import (
	"sync"

	"github.com/coreklabs/corekernel/internal/kerrno"
	"github.com/coreklabs/corekernel/internal/process"
	"github.com/coreklabs/corekernel/internal/vfs"
)

// Termios mirrors the subset of POSIX termios this core models: the
// ICANON/ECHO/ISIG mode bits and the special control characters that
// drive cooked-mode editing and signal generation.
type Termios struct {
	ICANON bool
	Echo   bool
	ISIG   bool

	VINTR  byte
	VQUIT  byte
	VSUSP  byte
	VERASE byte
	VKILL  byte
	VEOF   byte
}

// DefaultTermios returns the conventional cooked-mode defaults: ^C
// (INTR), ^\ (QUIT), ^Z (SUSP), DEL (ERASE), ^U (KILL), ^D (EOF).
func DefaultTermios() Termios {
	return Termios{
		ICANON: true,
		Echo:   true,
		ISIG:   true,
		VINTR:  0x03,
		VQUIT:  0x1c,
		VSUSP:  0x1a,
		VERASE: 0x7f,
		VKILL:  0x15,
		VEOF:   0x04,
	}
}

const defaultLineBufBytes = 4096

// SignalFunc posts sig to every thread in the foreground process group,
// the delivery side §4.M describes; the caller wires this to
// process.Process.Post for whichever processes share pgid.
type SignalFunc func(pgid int, sig process.Signal)

// Discipline is one line discipline instance: an input editor that
// either passes bytes straight through (raw mode) or accumulates them
// into a line with backspace/kill-character editing, releasing whole
// lines to the reader on newline (cooked mode). Released bytes land in
// a vfs.Pipe, the same blocking byte buffer already used for UNIX
// STREAM sockets and TCP's send/receive queues, rather than a new
// circular-buffer type built just for this.
type Discipline struct {
	mu     sync.Mutex
	cfg    Termios
	line   []byte
	out    *vfs.Pipe
	fgPGID int
	signal SignalFunc
}

// NewDiscipline constructs a cooked-mode discipline with no foreground
// process group set; signal is called (without the discipline's lock
// held) whenever ISIG is on and a control character maps to one.
func NewDiscipline(signal SignalFunc) *Discipline {
	return &Discipline{cfg: DefaultTermios(), out: vfs.NewPipe(defaultLineBufBytes), signal: signal}
}

func (d *Discipline) SetTermios(t Termios) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cfg = t
}

func (d *Discipline) GetTermios() Termios {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cfg
}

// SetForegroundPGID sets which process group receives INTR/QUIT/SUSP.
func (d *Discipline) SetForegroundPGID(pgid int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fgPGID = pgid
}

// Input feeds one byte of raw input through the discipline.
func (d *Discipline) Input(b byte) {
	d.mu.Lock()

	if d.cfg.ISIG {
		if sig, ok := d.signalFor(b); ok {
			pgid := d.fgPGID
			d.mu.Unlock()
			if d.signal != nil {
				d.signal(pgid, sig)
			}
			return
		}
	}

	if !d.cfg.ICANON {
		d.mu.Unlock()
		d.out.Write([]byte{b})
		return
	}

	var release []byte
	switch b {
	case d.cfg.VERASE:
		if len(d.line) > 0 {
			d.line = d.line[:len(d.line)-1]
		}
	case d.cfg.VKILL:
		d.line = d.line[:0]
	case '\n', '\r':
		d.line = append(d.line, '\n')
		release = append([]byte(nil), d.line...)
		d.line = d.line[:0]
	default:
		d.line = append(d.line, b)
	}
	d.mu.Unlock()

	if release != nil {
		d.out.Write(release)
	}
}

func (d *Discipline) signalFor(b byte) (process.Signal, bool) {
	switch b {
	case d.cfg.VINTR:
		return process.SIGINT, true
	case d.cfg.VQUIT:
		return process.SIGQUIT, true
	case d.cfg.VSUSP:
		return process.SIGTSTP, true
	default:
		return 0, false
	}
}

// Read drains released input: whole lines in cooked mode, raw bytes as
// they arrive in raw mode.
func (d *Discipline) Read(buf []byte) (int, kerrno.Errno) {
	return d.out.Read(buf)
}
