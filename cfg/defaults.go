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

import "time"

// GetDefaultConfig returns the configuration used during early boot, before
// any config file or flag has been parsed.
func GetDefaultConfig() Config {
	return Config{
		Memory: MemoryConfig{
			PhysicalMemory: 256 << 20,
			HeapReserve:    16 << 20,
			FastPageSlots:  1,
		},
		Scheduler: SchedulerConfig{
			TimeSlice:     10 * time.Millisecond,
			NumCPUs:       1,
			PriorityBands: 4,
		},
		VFS: VFSConfig{
			RootFilesystem:  "tmpfs",
			SymlinkMaxDepth: DefaultSymlinkMaxDepth,
			OpenMax:         DefaultOpenMax,
			FileMode:        0644,
			DirMode:         0755,
		},
		Network: NetworkConfig{
			MTU:             1500,
			ArpCacheTTL:     60 * time.Second,
			ArpReplyTimeout: 1 * time.Second,
			TCPMinRTO:       MinTCPRTOMillis * time.Millisecond,
			TCPMaxRTO:       MaxTCPRTOMillis * time.Millisecond,
			TCPTimeWait:     2 * TCPMSLSeconds * time.Second,
			EchoReplyRateHz: 100,
			EchoReplyBurst:  20,
		},
		Block: BlockConfig{
			WriteThrough:    false,
			WriteBackRateHz: 50000,
			WriteBackWindow: time.Second,
		},
		ACPI: ACPIConfig{
			Enable:             true,
			EvaluateDeviceInit: true,
		},
		Logging: GetDefaultLoggingConfig(),
	}
}

// GetDefaultLoggingConfig returns the default configuration that is to be used
// during application startup, before the provided configuration has been
// parsed.
func GetDefaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		Severity: InfoLogSeverity,
		Format:   "text",
		LogRotate: LogRotateLoggingConfig{
			BackupFileCount: 10,
			Compress:        true,
			MaxFileSizeMB:   512,
		},
	}
}
