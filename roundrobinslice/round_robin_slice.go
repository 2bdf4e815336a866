// Copyright 2025 Google LLC
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

// Package roundrobinslice cycles through a fixed set of items one at a
// time. The xHCI hub uses it to poll registered root ports in a fair
// rotation.
package roundrobinslice

import "sync/atomic"

// RoundRobinSlice hands out the elements of a fixed slice in rotation. The
// zero value is not usable; construct with New.
type RoundRobinSlice[T any] struct {
	items []T
	next  atomic.Uint64
}

// New returns a RoundRobinSlice over items. The slice is copied, so later
// mutation of items by the caller has no effect.
func New[T any](items []T) *RoundRobinSlice[T] {
	rr := &RoundRobinSlice[T]{
		items: make([]T, len(items)),
	}
	copy(rr.items, items)
	return rr
}

// Get returns the next item in rotation. It returns ok == false if the
// RoundRobinSlice holds no items.
func (rr *RoundRobinSlice[T]) Get() (item T, ok bool) {
	if len(rr.items) == 0 {
		return
	}

	i := rr.next.Add(1) - 1
	return rr.items[i%uint64(len(rr.items))], true
}

// Len returns the number of items being cycled through.
func (rr *RoundRobinSlice[T]) Len() int {
	return len(rr.items)
}
