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
	"errors"
	"io"
)

type throttledReader struct {
	ctx      context.Context
	wrapped  io.Reader
	throttle Throttle
}

// ThrottledReader returns an io.Reader that paces reads from r against
// throttle. A Read call larger than the throttle's capacity is cut to
// capacity and returns a short read; the rest is left for later calls.
func ThrottledReader(
	ctx context.Context,
	r io.Reader,
	throttle Throttle) io.Reader {
	return &throttledReader{
		ctx:      ctx,
		wrapped:  r,
		throttle: throttle,
	}
}

func (tr *throttledReader) Read(p []byte) (n int, err error) {
	capacity := tr.throttle.Capacity()
	if uint64(len(p)) > capacity {
		p = p[:capacity]
	}

	if !tr.throttle.Wait(tr.ctx, uint64(len(p))) {
		err = errors.New("throttle: wait cancelled")
		return
	}

	return tr.wrapped.Read(p)
}
