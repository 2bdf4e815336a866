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

package sched_test

import (
	"sync"
	"testing"
	"time"

	"github.com/coreklabs/corekernel/internal/sched"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduler_FIFOWithinBand(t *testing.T) {
	s := sched.New(2)
	a := sched.NewThread(0, nil)
	b := sched.NewThread(0, nil)
	s.Enqueue(a)
	s.Enqueue(b)

	assert.Same(t, a, s.Next())
	assert.Same(t, b, s.Next())
}

func TestScheduler_HigherBandWinsOverLower(t *testing.T) {
	s := sched.New(4)
	low := sched.NewThread(3, nil)
	high := sched.NewThread(0, nil)
	s.Enqueue(low)
	s.Enqueue(high)

	assert.Same(t, high, s.Next())
	assert.Same(t, low, s.Next())
}

func TestScheduler_NextReturnsIdleWhenEmpty(t *testing.T) {
	s := sched.New(1)
	idle := s.Next()
	require.NotNil(t, idle)
	assert.Equal(t, sched.Executing, idle.State())
}

func TestScheduler_RescheduleRequeuesCurrentAtTail(t *testing.T) {
	s := sched.New(1)
	a := sched.NewThread(0, nil)
	b := sched.NewThread(0, nil)
	s.Enqueue(a)
	s.Enqueue(b)

	require.Same(t, a, s.Next()) // a now Executing/current
	next := s.Reschedule()       // a requeued at tail, b picked
	assert.Same(t, b, next)

	after := s.Reschedule() // b requeued, a picked again
	assert.Same(t, a, after)
}

func TestScheduler_RemoveThreadDropsQueuedThreadWithoutDisturbingOthers(t *testing.T) {
	s := sched.New(1)
	a := sched.NewThread(0, nil)
	b := sched.NewThread(0, nil)
	c := sched.NewThread(0, nil)
	s.Enqueue(a)
	s.Enqueue(b)
	s.Enqueue(c)

	assert.True(t, s.RemoveThread(b))
	assert.Same(t, a, s.Next())
	assert.Same(t, c, s.Next())
}

func TestScheduler_RemoveThreadNotQueuedReturnsFalse(t *testing.T) {
	s := sched.New(1)
	a := sched.NewThread(0, nil)
	assert.False(t, s.RemoveThread(a))
}

func TestThread_StateMachine(t *testing.T) {
	th := sched.NewThread(0, nil)
	assert.Equal(t, sched.NotStarted, th.State())

	s := sched.New(1)
	s.Enqueue(th)
	s.Next()
	assert.Equal(t, sched.Executing, th.State())

	th.Terminate()
	assert.Equal(t, sched.Terminating, th.State())
}

func TestThreadBlocker_UnblockWakesWaiter(t *testing.T) {
	blocker := sched.NewThreadBlocker()
	th := sched.NewThread(0, nil)

	var mu sync.Mutex
	done := make(chan sched.WaitResult, 1)
	go func() {
		mu.Lock()
		done <- blocker.BlockIndefinite(th, &mu)
	}()

	time.Sleep(10 * time.Millisecond)
	blocker.Unblock(th)

	select {
	case r := <-done:
		assert.Equal(t, sched.WaitOK, r)
	case <-time.After(time.Second):
		t.Fatal("blocked thread was never woken")
	}
}

func TestThreadBlocker_CancelReturnsInterrupted(t *testing.T) {
	blocker := sched.NewThreadBlocker()
	th := sched.NewThread(0, nil)

	var mu sync.Mutex
	done := make(chan sched.WaitResult, 1)
	go func() {
		mu.Lock()
		done <- blocker.BlockIndefinite(th, &mu)
	}()

	time.Sleep(10 * time.Millisecond)
	blocker.Cancel(th)

	select {
	case r := <-done:
		assert.Equal(t, sched.WaitInterrupted, r)
	case <-time.After(time.Second):
		t.Fatal("blocked thread was never cancelled")
	}
}

func TestThreadBlocker_TimeoutFiresWithoutUnblock(t *testing.T) {
	blocker := sched.NewThreadBlocker()
	th := sched.NewThread(0, nil)

	var mu sync.Mutex
	mu.Lock()
	result := blocker.BlockWithTimeoutNs(th, &mu, 1, func(fire func()) {
		go func() {
			time.Sleep(5 * time.Millisecond)
			fire()
		}()
	})
	assert.Equal(t, sched.WaitTimedOut, result)
}
