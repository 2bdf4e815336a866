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

// Package sched implements the scheduler (§4.E): one ready/blocked queue
// pair per CPU, FIFO priority bands, and the ThreadBlocker suspension
// primitive every blocking kernel operation is built on.
package sched

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// State is a thread's position in the §4.E state machine.
type State int

const (
	NotStarted State = iota
	Executing
	Blocked
	Terminating
	Gone
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "NotStarted"
	case Executing:
		return "Executing"
	case Blocked:
		return "Blocked"
	case Terminating:
		return "Terminating"
	case Gone:
		return "Gone"
	default:
		return "Unknown"
	}
}

// Thread is one schedulable unit of execution.
type Thread struct {
	ID       uuid.UUID
	Priority int // 0 = highest band

	mu       sync.Mutex
	state    State
	blocker  *ThreadBlocker
	runFn    func()
	wakeCh   chan struct{}
}

// NewThread constructs a thread in NotStarted state. runFn is stored on
// the thread; the scheduler's Next and Reschedule do not call it.
func NewThread(priority int, runFn func()) *Thread {
	return &Thread{
		ID:       uuid.New(),
		Priority: priority,
		state:    NotStarted,
		runFn:    runFn,
		wakeCh:   make(chan struct{}, 1),
	}
}

func (t *Thread) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Thread) setState(s State) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
}

// Terminate transitions Executing -> Terminating. It is a no-op from any
// other state; a thread cannot be terminated twice.
func (t *Thread) Terminate() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == Executing {
		t.state = Terminating
	}
}

// ThreadBlocker is the suspension primitive every blocking kernel
// operation (§5 "Suspension points") is implemented on top of: a mutex is
// released atomically with the thread entering Blocked state, and the
// thread is woken either by Unblock (normal wake), a timeout, or
// Cancel (signal-driven interruption, EINTR semantics).
type ThreadBlocker struct {
	mu      sync.Mutex
	waiters map[*Thread]chan wakeReason
}

type wakeReason int

const (
	wokeNormal wakeReason = iota
	wokeTimeout
	wokeCancelled
)

// WaitResult reports why a blocking call returned.
type WaitResult int

const (
	WaitOK WaitResult = iota
	WaitTimedOut
	WaitInterrupted
)

func NewThreadBlocker() *ThreadBlocker {
	return &ThreadBlocker{waiters: make(map[*Thread]chan wakeReason)}
}

// BlockIndefinite drops mu (if non-nil), enqueues the thread, context
// switches (here: blocks the calling goroutine), and re-acquires mu
// before returning. There is no timeout; only Unblock or Cancel can wake
// the thread.
func (b *ThreadBlocker) BlockIndefinite(t *Thread, mu sync.Locker) WaitResult {
	return b.blockWith(t, mu, nil)
}

// BlockWithTimeoutNs behaves like BlockIndefinite but also wakes,
// returning WaitTimedOut, when the callback it hands to after fires; the
// delay is whatever after applies. ns <= 0 means no timeout is armed.
func (b *ThreadBlocker) BlockWithTimeoutNs(t *Thread, mu sync.Locker, ns int64, after func(func())) WaitResult {
	timeoutCh := make(chan struct{})
	if ns > 0 {
		after(func() { close(timeoutCh) })
	}
	return b.blockWith(t, mu, timeoutCh)
}

func (b *ThreadBlocker) blockWith(t *Thread, mu sync.Locker, timeoutCh <-chan struct{}) WaitResult {
	ch := make(chan wakeReason, 1)

	b.mu.Lock()
	b.waiters[t] = ch
	b.mu.Unlock()

	t.setState(Blocked)
	if mu != nil {
		mu.Unlock()
	}

	var reason wakeReason
	if timeoutCh == nil {
		reason = <-ch
	} else {
		select {
		case reason = <-ch:
		case <-timeoutCh:
			reason = wokeTimeout
			b.mu.Lock()
			delete(b.waiters, t)
			b.mu.Unlock()
		}
	}

	if mu != nil {
		mu.Lock()
	}
	t.setState(Executing)

	switch reason {
	case wokeTimeout:
		return WaitTimedOut
	case wokeCancelled:
		return WaitInterrupted
	default:
		return WaitOK
	}
}

// Unblock wakes t normally. Safe to call from ISR context: it never
// blocks itself, only enqueues the wake.
func (b *ThreadBlocker) Unblock(t *Thread) {
	b.wake(t, wokeNormal)
}

// Cancel wakes t with the interrupted indication, used for signal
// delivery to a blocked thread.
func (b *ThreadBlocker) Cancel(t *Thread) {
	b.wake(t, wokeCancelled)
}

func (b *ThreadBlocker) wake(t *Thread, reason wakeReason) {
	b.mu.Lock()
	ch, ok := b.waiters[t]
	if ok {
		delete(b.waiters, t)
	}
	b.mu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- reason:
	default:
	}
}

func (t *Thread) String() string {
	return fmt.Sprintf("Thread{%s pri=%d state=%s}", t.ID, t.Priority, t.State())
}
