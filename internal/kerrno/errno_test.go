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

package kerrno_test

import (
	"errors"
	"testing"

	"github.com/coreklabs/corekernel/internal/kerrno"
	"github.com/stretchr/testify/assert"
)

func TestSyscallReturn(t *testing.T) {
	assert.EqualValues(t, 0, kerrno.SyscallReturn(kerrno.ESUCCESS))
	assert.EqualValues(t, -int64(kerrno.ENOENT), kerrno.SyscallReturn(kerrno.ENOENT))
}

func TestErrno_ErrorsIs(t *testing.T) {
	var err error = kerrno.EAGAIN
	assert.True(t, errors.Is(err, kerrno.EAGAIN))
	assert.False(t, errors.Is(err, kerrno.ENOENT))
}

func TestFromOSError_Nil(t *testing.T) {
	assert.Equal(t, kerrno.ESUCCESS, kerrno.FromOSError(nil))
}

func TestFromOSError_Unknown(t *testing.T) {
	assert.Equal(t, kerrno.EIO, kerrno.FromOSError(errors.New("boom")))
}
