// Copyright 2015 Google Inc. All Rights Reserved.
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

package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// ChooseTokenBucketCapacity picks a bucket capacity that lets a stream
// running at rateHz tokens per second stay within roughly a 10% margin of
// its target rate over the given measurement window, without letting a
// single caller burst through the whole window's budget at once.
func ChooseTokenBucketCapacity(
	rateHz float64,
	window time.Duration) (capacity int64, err error) {
	if rateHz <= 0 {
		err = fmt.Errorf("ratelimit: non-positive rate: %f", rateHz)
		return
	}
	if window <= 0 {
		err = fmt.Errorf("ratelimit: non-positive window: %v", window)
		return
	}

	capacity = int64(rateHz * window.Seconds() / 10)
	if capacity < 1 {
		capacity = 1
	}
	return
}

// SystemTimeTokenBucket adapts a TokenBucket, whose Remove method is
// expressed in terms of an arbitrary monotonic tick, to wall-clock time
// measured from StartTime. It implements Throttle.
type SystemTimeTokenBucket struct {
	Bucket    *TokenBucket
	StartTime time.Time

	mu sync.Mutex
}

var _ Throttle = &SystemTimeTokenBucket{}

// Capacity returns the bucket's burst capacity.
func (tb *SystemTimeTokenBucket) Capacity() uint64 {
	return uint64(tb.Bucket.capacity)
}

// Wait blocks until tokens units may be claimed, or ctx is cancelled.
func (tb *SystemTimeTokenBucket) Wait(
	ctx context.Context,
	tokens uint64) (ok bool) {
	tb.mu.Lock()
	now := time.Since(tb.StartTime)
	departure := tb.Bucket.Remove(int64(now), tokens)
	tb.mu.Unlock()

	delay := time.Duration(departure) - now
	if delay <= 0 {
		return true
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
