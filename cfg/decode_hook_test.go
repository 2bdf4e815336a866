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
	"time"

	"github.com/coreklabs/corekernel/cfg"
	"github.com/mitchellh/mapstructure"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, input map[string]any, out any) {
	t.Helper()
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: cfg.DecodeHook(),
		TagName:    "yaml",
		Result:     out,
	})
	require.NoError(t, err)
	require.NoError(t, decoder.Decode(input))
}

func TestDecodeHook_Config(t *testing.T) {
	var c cfg.Config
	decode(t, map[string]any{
		"memory": map[string]any{
			"physical-memory": "512Mi",
		},
		"vfs": map[string]any{
			"file-mode": "644",
		},
		"logging": map[string]any{
			"severity": "debug",
		},
		"scheduler": map[string]any{
			"time-slice": "5ms",
		},
	}, &c)

	assert.EqualValues(t, 512<<20, c.Memory.PhysicalMemory)
	assert.EqualValues(t, 0644, c.VFS.FileMode)
	assert.Equal(t, cfg.DebugLogSeverity, c.Logging.Severity)
	assert.Equal(t, 5*time.Millisecond, c.Scheduler.TimeSlice)
}

func TestDecodeHook_RejectsInvalidSeverity(t *testing.T) {
	var c cfg.Config
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: cfg.DecodeHook(),
		Result:     &c,
	})
	require.NoError(t, err)

	err = decoder.Decode(map[string]any{
		"logging": map[string]any{"severity": "CRITICAL"},
	})
	assert.Error(t, err)
}
