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

// Package klog is the kernel's own log/slog-based leveled logger. Every
// subsystem logs through it instead of fmt.Printf, mirroring how a real
// kernel's printk works: every message also lands in an in-memory dmesg
// ring buffer that /proc serves regardless of where (or whether) the
// persisted log file is configured.
package klog

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/coreklabs/corekernel/cfg"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Custom slog levels, one per cfg.LogSeverity value.
const (
	LevelTrace slog.Level = -8
	LevelDebug slog.Level = slog.LevelDebug
	LevelInfo  slog.Level = slog.LevelInfo
	LevelWarn  slog.Level = slog.LevelWarn
	LevelError slog.Level = slog.LevelError
	LevelOff   slog.Level = 12
)

var severityToLevel = map[cfg.LogSeverity]slog.Level{
	cfg.TraceLogSeverity:   LevelTrace,
	cfg.DebugLogSeverity:   LevelDebug,
	cfg.InfoLogSeverity:    LevelInfo,
	cfg.WarningLogSeverity: LevelWarn,
	cfg.ErrorLogSeverity:   LevelError,
	cfg.OffLogSeverity:     LevelOff,
}

var levelNames = map[slog.Level]string{
	LevelTrace: "TRACE",
	LevelDebug: "DEBUG",
	LevelInfo:  "INFO",
	LevelWarn:  "WARNING",
	LevelError: "ERROR",
}

type factory struct {
	mu       sync.Mutex
	level    *slog.LevelVar
	format   string
	file     *lumberjack.Logger
	ring     *dmesgRing
	severity cfg.LogSeverity
}

var defaultFactory = newFactory()
var defaultLogger = slog.New(defaultFactory.handler(os.Stderr, "corekernel: "))

func newFactory() *factory {
	return &factory{
		level:  new(slog.LevelVar),
		format: "text",
		ring:   newDmesgRing(1024),
	}
}

// Init configures the kernel logger from the boot configuration: severity
// threshold, text/json encoding and, if FilePath is set, a lumberjack-
// rotated log file. Regardless of FilePath, dmesg keeps the last messages
// in memory for /proc.
func Init(c cfg.LoggingConfig) error {
	defaultFactory.mu.Lock()
	defer defaultFactory.mu.Unlock()

	defaultFactory.format = c.Format
	defaultFactory.severity = c.Severity
	level, ok := severityToLevel[c.Severity]
	if !ok {
		return fmt.Errorf("klog: unknown severity %q", c.Severity)
	}
	defaultFactory.level.Set(level)

	var w io.Writer = os.Stderr
	if c.FilePath != "" {
		defaultFactory.file = &lumberjack.Logger{
			Filename:   string(c.FilePath),
			MaxSize:    c.LogRotate.MaxFileSizeMB,
			MaxBackups: c.LogRotate.BackupFileCount,
			Compress:   c.LogRotate.Compress,
		}
		w = defaultFactory.file
	}

	defaultLogger = slog.New(defaultFactory.handler(w, ""))
	return nil
}

func (f *factory) handler(w io.Writer, prefix string) slog.Handler {
	mw := io.MultiWriter(w, f.ring)
	if f.format == "json" {
		return &severityHandler{next: slog.NewJSONHandler(mw, &slog.HandlerOptions{Level: f.level})}
	}
	return &severityHandler{next: slog.NewTextHandler(mw, &slog.HandlerOptions{Level: f.level}), prefix: prefix}
}

// severityHandler adds a "severity" attribute carrying the custom
// severity names (TRACE/WARNING) the kernel uses in place of slog's
// DEBUG/WARN defaults, and optionally prefixes the message the way a
// subsystem tag would (e.g. "sched: "). slog's own "level" field is still
// written as well.
type severityHandler struct {
	next   slog.Handler
	prefix string
}

func (h *severityHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *severityHandler) Handle(ctx context.Context, r slog.Record) error {
	name, ok := levelNames[r.Level]
	if !ok {
		name = r.Level.String()
	}
	r2 := slog.NewRecord(r.Time, r.Level, h.prefix+r.Message, r.PC)
	r2.AddAttrs(slog.String("severity", name))
	r.Attrs(func(a slog.Attr) bool {
		r2.AddAttrs(a)
		return true
	})
	return h.next.Handle(ctx, r2)
}

func (h *severityHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &severityHandler{next: h.next.WithAttrs(attrs), prefix: h.prefix}
}

func (h *severityHandler) WithGroup(name string) slog.Handler {
	return &severityHandler{next: h.next.WithGroup(name), prefix: h.prefix}
}

func log(level slog.Level, format string, args ...any) {
	defaultLogger.Log(context.Background(), level, fmt.Sprintf(format, args...))
}

// Tracef logs at TRACE severity, the most verbose level.
func Tracef(format string, args ...any) { log(LevelTrace, format, args...) }

// Debugf logs at DEBUG severity.
func Debugf(format string, args ...any) { log(LevelDebug, format, args...) }

// Infof logs at INFO severity.
func Infof(format string, args ...any) { log(LevelInfo, format, args...) }

// Warnf logs at WARNING severity.
func Warnf(format string, args ...any) { log(LevelWarn, format, args...) }

// Errorf logs at ERROR severity.
func Errorf(format string, args ...any) { log(LevelError, format, args...) }

// Dmesg returns the most recent log lines, oldest first, the way reading
// /proc/kmsg surfaces the kernel ring buffer.
func Dmesg() []string {
	return defaultFactory.ring.lines()
}

// dmesgRing is a fixed-capacity ring buffer of log lines, written to on
// every Handle call regardless of where the persisted log goes.
type dmesgRing struct {
	mu       sync.Mutex
	buf      []string
	capacity int
	next     int
	full     bool
}

func newDmesgRing(capacity int) *dmesgRing {
	return &dmesgRing{buf: make([]string, capacity), capacity: capacity}
}

func (r *dmesgRing) Write(p []byte) (int, error) {
	line := bytes.TrimRight(p, "\n")
	r.mu.Lock()
	r.buf[r.next] = string(line)
	r.next = (r.next + 1) % r.capacity
	if r.next == 0 {
		r.full = true
	}
	r.mu.Unlock()
	return len(p), nil
}

func (r *dmesgRing) lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.full {
		out := make([]string, r.next)
		copy(out, r.buf[:r.next])
		return out
	}

	out := make([]string, 0, r.capacity)
	out = append(out, r.buf[r.next:]...)
	out = append(out, r.buf[:r.next]...)
	return out
}
