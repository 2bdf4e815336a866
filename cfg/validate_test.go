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

package cfg_test

import (
	"testing"

	"github.com/coreklabs/corekernel/cfg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateConfig_DefaultsAreValid(t *testing.T) {
	c := cfg.GetDefaultConfig()
	require.NoError(t, cfg.ValidateConfig(&c))
}

func TestValidateConfig_RejectsUndersizedPhysicalMemory(t *testing.T) {
	c := cfg.GetDefaultConfig()
	c.Memory.PhysicalMemory = 1
	assert.Error(t, cfg.ValidateConfig(&c))
}

func TestValidateConfig_RejectsHeapReserveExceedingPhysicalMemory(t *testing.T) {
	c := cfg.GetDefaultConfig()
	c.Memory.HeapReserve = c.Memory.PhysicalMemory * 2
	assert.Error(t, cfg.ValidateConfig(&c))
}

func TestValidateConfig_RejectsZeroTimeSlice(t *testing.T) {
	c := cfg.GetDefaultConfig()
	c.Scheduler.TimeSlice = 0
	assert.Error(t, cfg.ValidateConfig(&c))
}

func TestValidateConfig_RejectsZeroCPUs(t *testing.T) {
	c := cfg.GetDefaultConfig()
	c.Scheduler.NumCPUs = 0
	assert.Error(t, cfg.ValidateConfig(&c))
}

func TestValidateConfig_RejectsUnknownRootFilesystem(t *testing.T) {
	c := cfg.GetDefaultConfig()
	c.VFS.RootFilesystem = "btrfs"
	assert.Error(t, cfg.ValidateConfig(&c))
}

func TestValidateConfig_RejectsSubMinimumMTU(t *testing.T) {
	c := cfg.GetDefaultConfig()
	c.Network.MTU = 60
	assert.Error(t, cfg.ValidateConfig(&c))
}

func TestValidateConfig_RejectsInvertedRTOBounds(t *testing.T) {
	c := cfg.GetDefaultConfig()
	c.Network.TCPMinRTO = c.Network.TCPMaxRTO * 2
	assert.Error(t, cfg.ValidateConfig(&c))
}

func TestValidateConfig_RejectsInvalidLogRotate(t *testing.T) {
	c := cfg.GetDefaultConfig()
	c.Logging.LogRotate.MaxFileSizeMB = 0
	assert.Error(t, cfg.ValidateConfig(&c))
}

func TestValidateConfig_RejectsNegativeEchoReplyRate(t *testing.T) {
	c := cfg.GetDefaultConfig()
	c.Network.EchoReplyRateHz = -1
	assert.Error(t, cfg.ValidateConfig(&c))
}

func TestValidateConfig_RejectsZeroWriteBackRate(t *testing.T) {
	c := cfg.GetDefaultConfig()
	c.Block.WriteBackRateHz = 0
	assert.Error(t, cfg.ValidateConfig(&c))
}

func TestValidateConfig_RejectsZeroWriteBackWindow(t *testing.T) {
	c := cfg.GetDefaultConfig()
	c.Block.WriteBackWindow = 0
	assert.Error(t, cfg.ValidateConfig(&c))
}
