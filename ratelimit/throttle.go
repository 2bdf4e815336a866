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

import "context"

// Throttle paces a stream of discrete units of work (bytes, sectors,
// transfer-ring entries) against a budget. Wait blocks until tokens may be
// spent or the context is cancelled, in which case it returns false.
type Throttle interface {
	// Capacity returns the maximum number of tokens that may be claimed in
	// a single Wait call.
	Capacity() uint64

	// Wait blocks until tokens units of work may proceed, returning false
	// if ctx is cancelled first.
	Wait(ctx context.Context, tokens uint64) (ok bool)
}
