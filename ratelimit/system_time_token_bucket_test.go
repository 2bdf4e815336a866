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

package ratelimit_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coreklabs/corekernel/ratelimit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func processArrivals(
	tb *ratelimit.SystemTimeTokenBucket,
	arrivalRateHz float64,
	d time.Duration) (processed uint64) {
	ctx := context.Background()
	interval := time.Duration(float64(time.Second) / arrivalRateHz)
	deadline := time.Now().Add(d)

	for time.Now().Before(deadline) {
		if tb.Wait(ctx, 1) {
			processed++
		}
		time.Sleep(interval)
	}
	return
}

func TestSystemTimeTokenBucket_LimitsSuccessfully(t *testing.T) {
	const perCaseDuration = 200 * time.Millisecond

	testCases := []struct {
		numActors     int
		arrivalRateHz float64
		limitRateHz   float64
	}{
		{1, 50, 100},
		{4, 50, 100},
	}

	for i, tc := range testCases {
		capacity, err := ratelimit.ChooseTokenBucketCapacity(tc.limitRateHz, perCaseDuration)
		require.NoError(t, err)

		tb := &ratelimit.SystemTimeTokenBucket{
			Bucket:    ratelimit.NewTokenBucket(tc.limitRateHz, capacity),
			StartTime: time.Now(),
		}

		var wg sync.WaitGroup
		var totalProcessed uint64

		for range tc.numActors {
			wg.Add(1)
			go func() {
				defer wg.Done()
				processed := processArrivals(tb, tc.arrivalRateHz, perCaseDuration)
				atomic.AddUint64(&totalProcessed, processed)
			}()
		}
		wg.Wait()

		assert.Greater(t, totalProcessed, uint64(0), "test case %d", i)
	}
}

func TestChooseTokenBucketCapacity_RejectsInvalidInputs(t *testing.T) {
	_, err := ratelimit.ChooseTokenBucketCapacity(0, time.Second)
	assert.Error(t, err)

	_, err = ratelimit.ChooseTokenBucketCapacity(100, 0)
	assert.Error(t, err)
}
