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

package cfg

import (
	"fmt"
	"time"
)

func isValidLogRotateConfig(config *LogRotateLoggingConfig) error {
	if config.MaxFileSizeMB <= 0 {
		return fmt.Errorf("max-file-size-mb should be at least 1")
	}
	if config.BackupFileCount < 0 {
		return fmt.Errorf("backup-file-count should be 0 (to retain all backup files) or a positive value")
	}
	return nil
}

func isValidMemoryConfig(c *MemoryConfig) error {
	if c.PhysicalMemory < ByteSize(FrameSize) {
		return fmt.Errorf("physical-memory must be at least one frame (%d bytes)", FrameSize)
	}
	if c.HeapReserve <= 0 {
		return fmt.Errorf("heap-reserve must be positive")
	}
	if c.HeapReserve > c.PhysicalMemory {
		return fmt.Errorf("heap-reserve (%d) cannot exceed physical-memory (%d)", c.HeapReserve, c.PhysicalMemory)
	}
	if c.FastPageSlots < 1 {
		return fmt.Errorf("fast-page-slots must be at least 1 per CPU")
	}
	return nil
}

func isValidSchedulerConfig(c *SchedulerConfig) error {
	if c.TimeSlice <= 0 {
		return fmt.Errorf("time-slice must be positive")
	}
	if c.NumCPUs < 1 {
		return fmt.Errorf("num-cpus must be at least 1")
	}
	if c.PriorityBands < 1 {
		return fmt.Errorf("priority-bands must be at least 1")
	}
	return nil
}

func isValidVFSConfig(c *VFSConfig) error {
	if c.SymlinkMaxDepth < 1 {
		return fmt.Errorf("symlink-max-depth must be at least 1")
	}
	if c.OpenMax < 1 {
		return fmt.Errorf("open-max must be at least 1")
	}
	if c.RootFilesystem != "tmpfs" && c.RootFilesystem != "ext2" {
		return fmt.Errorf("root-filesystem must be tmpfs or ext2, got %q", c.RootFilesystem)
	}
	return nil
}

func isValidNetworkConfig(c *NetworkConfig) error {
	if c.MTU < 68 {
		return fmt.Errorf("mtu must be at least 68 (the IPv4 minimum)")
	}
	if c.TCPMinRTO < time.Millisecond || c.TCPMinRTO > c.TCPMaxRTO {
		return fmt.Errorf("tcp-min-rto must be positive and no greater than tcp-max-rto")
	}
	if c.ArpCacheTTL <= 0 {
		return fmt.Errorf("arp-cache-ttl must be positive")
	}
	if c.EchoReplyRateHz < 0 {
		return fmt.Errorf("echo-reply-rate-hz must not be negative")
	}
	if c.EchoReplyBurst < 1 {
		return fmt.Errorf("echo-reply-burst must be at least 1")
	}
	return nil
}

func isValidBlockConfig(c *BlockConfig) error {
	if c.WriteBackRateHz <= 0 {
		return fmt.Errorf("write-back-rate-hz must be positive")
	}
	if c.WriteBackWindow <= 0 {
		return fmt.Errorf("write-back-window must be positive")
	}
	return nil
}

// ValidateConfig returns a non-nil error if the config is invalid.
func ValidateConfig(config *Config) error {
	if err := isValidLogRotateConfig(&config.Logging.LogRotate); err != nil {
		return fmt.Errorf("error parsing log-rotate config: %w", err)
	}
	if err := isValidMemoryConfig(&config.Memory); err != nil {
		return fmt.Errorf("error parsing memory config: %w", err)
	}
	if err := isValidSchedulerConfig(&config.Scheduler); err != nil {
		return fmt.Errorf("error parsing scheduler config: %w", err)
	}
	if err := isValidVFSConfig(&config.VFS); err != nil {
		return fmt.Errorf("error parsing vfs config: %w", err)
	}
	if err := isValidNetworkConfig(&config.Network); err != nil {
		return fmt.Errorf("error parsing network config: %w", err)
	}
	if err := isValidBlockConfig(&config.Block); err != nil {
		return fmt.Errorf("error parsing block config: %w", err)
	}
	return nil
}
