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

// Package kmetrics exposes the kernel's internal counters to Prometheus:
// page faults, context switches, TCP retransmits and AML method
// evaluations are the ones an operator debugging a hung boot actually
// wants to see.
package kmetrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the kernel's private Prometheus registry; a fresh one is
// used instead of the global default so that repeated boots in tests don't
// collide on "already registered" panics.
var Registry = prometheus.NewRegistry()

var (
	// PageFaults counts page faults handled by internal/region, labeled by
	// outcome (resolved, cow, segv).
	PageFaults = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "kernel_page_faults_total",
		Help: "Page faults handled, by outcome.",
	}, []string{"outcome"})

	// ContextSwitches counts scheduler context switches.
	ContextSwitches = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "kernel_context_switches_total",
		Help: "Thread context switches performed by the scheduler.",
	})

	// RunnableThreads reports the instantaneous ready-queue depth.
	RunnableThreads = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "kernel_runnable_threads",
		Help: "Threads currently on a CPU ready queue.",
	})

	// TCPRetransmits counts TCP segment retransmissions, labeled by cause.
	TCPRetransmits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "kernel_tcp_retransmits_total",
		Help: "TCP segments retransmitted, by cause.",
	}, []string{"cause"})

	// AMLEvaluations counts AML method/object evaluations, labeled by the
	// namespace node kind being evaluated.
	AMLEvaluations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "kernel_acpi_aml_evaluations_total",
		Help: "AML object evaluations, by node kind.",
	}, []string{"kind"})

	// DiskCacheSyncDuration times disk-cache sync() batches.
	DiskCacheSyncDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "kernel_disk_cache_sync_duration_seconds",
		Help:    "Time spent flushing dirty disk-cache entries.",
		Buckets: prometheus.DefBuckets,
	})
)

func init() {
	Registry.MustRegister(
		PageFaults,
		ContextSwitches,
		RunnableThreads,
		TCPRetransmits,
		AMLEvaluations,
		DiskCacheSyncDuration,
	)
}

// Handler serves the kernel's metrics in the Prometheus exposition format,
// suitable for mounting on a debug HTTP listener.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
