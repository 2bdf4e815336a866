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
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBindFlags_RegistersEveryKey(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	require.NoError(t, cfg.BindFlags(fs))

	for _, name := range []string{
		"command-line",
		"memory-map",
		"disk-image",
		"net-tap",
		"acpi-tables",
		"physical-memory",
		"heap-reserve",
		"fast-page-slots",
		"time-slice",
		"num-cpus",
		"priority-bands",
		"root-filesystem",
		"symlink-max-depth",
		"open-max",
		"mtu",
		"arp-cache-ttl",
		"tcp-time-wait",
		"echo-reply-rate-hz",
		"echo-reply-burst",
		"block-write-through",
		"block-write-back-rate-hz",
		"block-write-back-window",
		"acpi-enable",
		"log-severity",
		"log-format",
		"log-file",
		"debug-panic-on-invariant",
	} {
		assert.NotNil(t, fs.Lookup(name), "flag %q should be registered", name)
	}
}

func TestGetDefaultConfig_IsValid(t *testing.T) {
	c := cfg.GetDefaultConfig()
	assert.NoError(t, cfg.ValidateConfig(&c))
	assert.Equal(t, "tmpfs", c.VFS.RootFilesystem)
	assert.Equal(t, 1, c.Scheduler.NumCPUs)
}

func TestConfig_DumpYAML_EmitsYAMLTaggedKeys(t *testing.T) {
	c := cfg.GetDefaultConfig()
	c.Boot.CommandLine = "root=/dev/sda1 quiet"

	out, err := c.DumpYAML()
	require.NoError(t, err)
	assert.Contains(t, out, "command-line: root=/dev/sda1 quiet")
	assert.Contains(t, out, "write-back-rate-hz")
}
