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
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config is the fully decoded boot-time configuration of the kernel. It is
// populated from defaults, an optional YAML config file and command-line
// flags, in that order of increasing precedence, exactly like a real
// bootloader command line overrides firmware defaults.
type Config struct {
	Boot      BootConfig      `yaml:"boot"`
	Memory    MemoryConfig    `yaml:"memory"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	VFS       VFSConfig       `yaml:"vfs"`
	Network   NetworkConfig   `yaml:"network"`
	Block     BlockConfig     `yaml:"block"`
	ACPI      ACPIConfig      `yaml:"acpi"`
	Logging   LoggingConfig   `yaml:"logging"`
	Debug     DebugConfig     `yaml:"debug"`
}

// BootConfig carries the host-side stand-ins for the bootloader handoff
// (§6 BootInfo of the design): a memory map, a disk image, a network tap and
// the ACPI table blobs that would otherwise come from firmware.
type BootConfig struct {
	CommandLine   string       `yaml:"command-line"`
	MemoryMapPath ResolvedPath `yaml:"memory-map-path"`
	DiskImagePath ResolvedPath `yaml:"disk-image-path"`
	NetTapDevice  string       `yaml:"net-tap-device"`
	AcpiTablesDir ResolvedPath `yaml:"acpi-tables-dir"`
}

// MemoryConfig sizes the physical frame allocator and kernel heap.
type MemoryConfig struct {
	PhysicalMemory ByteSize `yaml:"physical-memory"`
	HeapReserve    ByteSize `yaml:"heap-reserve"`
	FastPageSlots  int      `yaml:"fast-page-slots"`
}

// SchedulerConfig tunes the ready-queue/preemption behaviour.
type SchedulerConfig struct {
	TimeSlice     time.Duration `yaml:"time-slice"`
	NumCPUs       int           `yaml:"num-cpus"`
	PriorityBands int           `yaml:"priority-bands"`
}

// VFSConfig governs path walking and the default mount layout.
type VFSConfig struct {
	RootFilesystem  string `yaml:"root-filesystem"`
	SymlinkMaxDepth int    `yaml:"symlink-max-depth"`
	OpenMax         int    `yaml:"open-max"`
	FileMode        Octal  `yaml:"file-mode"`
	DirMode         Octal  `yaml:"dir-mode"`
}

// NetworkConfig tunes the ARP cache and TCP retransmission timers.
type NetworkConfig struct {
	MTU             int           `yaml:"mtu"`
	ArpCacheTTL     time.Duration `yaml:"arp-cache-ttl"`
	ArpReplyTimeout time.Duration `yaml:"arp-reply-timeout"`
	TCPMinRTO       time.Duration `yaml:"tcp-min-rto"`
	TCPMaxRTO       time.Duration `yaml:"tcp-max-rto"`
	TCPTimeWait     time.Duration `yaml:"tcp-time-wait"`
	EchoReplyRateHz float64       `yaml:"echo-reply-rate-hz"`
	EchoReplyBurst  int           `yaml:"echo-reply-burst"`
}

// BlockConfig tunes the disk cache's write-back throttle.
type BlockConfig struct {
	WriteThrough    bool          `yaml:"write-through"`
	WriteBackRateHz float64       `yaml:"write-back-rate-hz"`
	WriteBackWindow time.Duration `yaml:"write-back-window"`
}

// ACPIConfig toggles the AML interpreter and device walk.
type ACPIConfig struct {
	Enable             bool `yaml:"enable"`
	EvaluateDeviceInit bool `yaml:"evaluate-device-init"`
}

// LoggingConfig configures internal/klog.
type LoggingConfig struct {
	Severity  LogSeverity            `yaml:"severity"`
	Format    string                 `yaml:"format"`
	FilePath  ResolvedPath           `yaml:"file-path"`
	LogRotate LogRotateLoggingConfig `yaml:"log-rotate"`
}

// LogRotateLoggingConfig mirrors lumberjack's rotation knobs.
type LogRotateLoggingConfig struct {
	MaxFileSizeMB   int  `yaml:"max-file-size-mb"`
	BackupFileCount int  `yaml:"backup-file-count"`
	Compress        bool `yaml:"compress"`
}

// DebugConfig controls invariant-violation behaviour during development.
type DebugConfig struct {
	PanicOnInvariantViolation bool `yaml:"panic-on-invariant-violation"`
	TraceSyscalls             bool `yaml:"trace-syscalls"`
}

// BindFlags registers every flag that can override Config and binds each one
// into viper under the matching dotted key, so that flag > config-file >
// default precedence falls out of viper.Unmarshal for free.
func BindFlags(flagSet *pflag.FlagSet) error {
	var err error

	bind := func(key string) error {
		return viper.BindPFlag(key, flagSet.Lookup(key))
	}

	flagSet.String("command-line", "", "Kernel command line, as it would be supplied by the bootloader.")
	if err = bind("boot.command-line"); err != nil {
		return err
	}
	flagSet.String("memory-map", "", "Path to a file describing the usable physical memory ranges.")
	if err = bind("boot.memory-map-path"); err != nil {
		return err
	}
	flagSet.String("disk-image", "", "Path to the disk image backing the block device stack.")
	if err = bind("boot.disk-image-path"); err != nil {
		return err
	}
	flagSet.String("net-tap", "", "Host tap device backing the simulated network interface.")
	if err = bind("boot.net-tap-device"); err != nil {
		return err
	}
	flagSet.String("acpi-tables", "", "Directory of ACPI table blobs (DSDT/SSDT/FADT) to load in place of firmware ACPI.")
	if err = bind("boot.acpi-tables-dir"); err != nil {
		return err
	}

	flagSet.String("physical-memory", "256Mi", "Total physical memory made available to the frame allocator.")
	if err = bind("memory.physical-memory"); err != nil {
		return err
	}
	flagSet.String("heap-reserve", "16Mi", "Memory permanently mapped into the kernel heap pool.")
	if err = bind("memory.heap-reserve"); err != nil {
		return err
	}
	flagSet.Int("fast-page-slots", 1, "Per-CPU fast page window slots.")
	if err = bind("memory.fast-page-slots"); err != nil {
		return err
	}

	flagSet.Duration("time-slice", 10*time.Millisecond, "Scheduler preemption quantum.")
	if err = bind("scheduler.time-slice"); err != nil {
		return err
	}
	flagSet.Int("num-cpus", 1, "Number of simulated CPUs (ready/blocked queue pairs).")
	if err = bind("scheduler.num-cpus"); err != nil {
		return err
	}
	flagSet.Int("priority-bands", 4, "Number of FIFO priority bands in the ready queue.")
	if err = bind("scheduler.priority-bands"); err != nil {
		return err
	}

	flagSet.String("root-filesystem", "tmpfs", "Filesystem driver mounted as VFS root (tmpfs or ext2).")
	if err = bind("vfs.root-filesystem"); err != nil {
		return err
	}
	flagSet.Int("symlink-max-depth", 40, "Maximum symlink resolution depth during path walk.")
	if err = bind("vfs.symlink-max-depth"); err != nil {
		return err
	}
	flagSet.Int("open-max", 1024, "Per-process open file descriptor table capacity.")
	if err = bind("vfs.open-max"); err != nil {
		return err
	}

	flagSet.Int("mtu", 1500, "Link MTU of the simulated network interface.")
	if err = bind("network.mtu"); err != nil {
		return err
	}
	flagSet.Duration("arp-cache-ttl", 60*time.Second, "ARP cache entry lifetime.")
	if err = bind("network.arp-cache-ttl"); err != nil {
		return err
	}
	flagSet.Duration("tcp-time-wait", 2*TCPMSLSeconds*time.Second, "TCP TIME_WAIT duration (2*MSL).")
	if err = bind("network.tcp-time-wait"); err != nil {
		return err
	}
	flagSet.Float64("echo-reply-rate-hz", 100, "Maximum outgoing ICMP echo replies per second.")
	if err = bind("network.echo-reply-rate-hz"); err != nil {
		return err
	}
	flagSet.Int("echo-reply-burst", 20, "Burst size for the ICMP echo reply rate limiter.")
	if err = bind("network.echo-reply-burst"); err != nil {
		return err
	}

	flagSet.Bool("block-write-through", false, "Bypass the disk cache and issue writes straight to the block device.")
	if err = bind("block.write-through"); err != nil {
		return err
	}
	flagSet.Float64("block-write-back-rate-hz", 50000, "Sectors per second the disk cache's write-back may sustain.")
	if err = bind("block.write-back-rate-hz"); err != nil {
		return err
	}
	flagSet.Duration("block-write-back-window", time.Second, "Burst window used to size the write-back token bucket.")
	if err = bind("block.write-back-window"); err != nil {
		return err
	}

	flagSet.Bool("acpi-enable", true, "Run ACPI table discovery and AML device init at boot.")
	if err = bind("acpi.enable"); err != nil {
		return err
	}

	flagSet.String("log-severity", "INFO", "Minimum log severity: TRACE, DEBUG, INFO, WARNING, ERROR, OFF.")
	if err = bind("logging.severity"); err != nil {
		return err
	}
	flagSet.String("log-format", "text", "Kernel log encoding: text or json.")
	if err = bind("logging.format"); err != nil {
		return err
	}
	flagSet.String("log-file", "", "Path to the rotated kernel log file (dmesg is always kept in memory regardless).")
	if err = bind("logging.file-path"); err != nil {
		return err
	}

	flagSet.Bool("debug-panic-on-invariant", false, "Panic instead of logging when an internal invariant is violated.")
	if err = bind("debug.panic-on-invariant-violation"); err != nil {
		return err
	}

	return nil
}

// DumpYAML renders the fully resolved configuration back to YAML, the same
// shape a --config file takes, so the boot log can record exactly what
// this boot actually ran with.
func (c *Config) DumpYAML() (string, error) {
	b, err := yaml.Marshal(c)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
