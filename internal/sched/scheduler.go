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

package sched

import (
	"sync"

	"github.com/coreklabs/corekernel/common"
	"github.com/jacobsa/syncutil"
)

// Scheduler owns one ready queue per priority band plus the idle thread,
// mirroring one simulated CPU (§4.E). A real kernel has one Scheduler per
// CPU; NumCPUs of them are constructed at boot.
type Scheduler struct {
	Mu syncutil.InvariantMutex

	bands []common.Queue[*Thread]
	idle  *Thread
	mu    sync.Mutex

	current *Thread
}

// New constructs a Scheduler with the given number of FIFO priority
// bands (band 0 is highest priority) and a dedicated idle thread.
func New(priorityBands int) *Scheduler {
	s := &Scheduler{idle: NewThread(priorityBands, func() {})}
	s.Mu = syncutil.NewInvariantMutex(s.checkInvariants)
	for i := 0; i < priorityBands; i++ {
		s.bands = append(s.bands, common.NewLinkedListQueue[*Thread]())
	}
	return s
}

func (s *Scheduler) checkInvariants() {
	if len(s.bands) == 0 {
		panic("sched: scheduler constructed with zero priority bands")
	}
}

// Enqueue places t at the tail of its priority band's ready queue,
// transitioning it to Executing-eligible. Newly runnable threads always
// join the tail (§4.E "Ordering").
func (s *Scheduler) Enqueue(t *Thread) {
	s.mu.Lock()
	defer s.mu.Unlock()

	band := t.Priority
	if band < 0 || band >= len(s.bands) {
		band = len(s.bands) - 1
	}
	s.bands[band].Push(t)
}

// Next pops the highest-priority non-empty band's head thread, or the
// idle thread if every band is empty. The returned thread is set to
// Executing and becomes s.Current().
func (s *Scheduler) Next() *Thread {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, band := range s.bands {
		if !band.IsEmpty() {
			t := band.Pop()
			t.setState(Executing)
			s.current = t
			return t
		}
	}
	s.idle.setState(Executing)
	s.current = s.idle
	return s.idle
}

// RemoveThread drops t from whichever ready-queue band it is currently
// sitting in, without waiting for its turn to be popped by Next; used
// when a signal terminates a thread that is runnable but not yet
// scheduled (§4.F kill delivery must not leave a dead thread's pointer
// sitting in a band for some future Next to hand back out). Reports
// whether t was found in any band.
func (s *Scheduler) RemoveThread(t *Thread) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, band := range s.bands {
		if band.Remove(func(cand *Thread) bool { return cand == t }) {
			return true
		}
	}
	return false
}

// Current reports the thread last returned by Next.
func (s *Scheduler) Current() *Thread {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Reschedule implements the cooperative yield path (§4.E): the current
// thread, if not terminating, is re-enqueued at the tail of its band and
// Next is called to pick a (possibly different) thread to run.
func (s *Scheduler) Reschedule() *Thread {
	cur := s.Current()
	if cur != nil && cur != s.idle && cur.State() == Executing {
		s.Enqueue(cur)
	}
	return s.Next()
}

// Len reports the number of runnable (non-idle) threads across every
// band, for metrics (internal/kmetrics runnable-threads gauge).
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, band := range s.bands {
		n += band.Len()
	}
	return n
}
