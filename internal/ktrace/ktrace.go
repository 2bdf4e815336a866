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

// Package ktrace wraps go.opentelemetry.io/otel spans around syscall
// dispatch and AML evaluation, the two call paths deep enough and frequent
// enough that "what this hang is actually waiting on" needs a trace, not
// just a log line.
package ktrace

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/coreklabs/corekernel"

// Provider wraps an otel TracerProvider configured for the kernel. Boot
// installs one sampling-everything provider; tests may install their own
// with an in-memory exporter.
type Provider struct {
	tp *trace.TracerProvider
}

// NewProvider builds a Provider from the given span processors (typically
// a batch processor wrapping an OTLP or stdout exporter).
func NewProvider(opts ...trace.TracerProviderOption) *Provider {
	return &Provider{tp: trace.NewTracerProvider(opts...)}
}

// Install registers p as the global otel tracer provider.
func (p *Provider) Install() {
	otel.SetTracerProvider(p.tp)
}

// Shutdown flushes and stops every registered span processor.
func (p *Provider) Shutdown(ctx context.Context) error {
	return p.tp.Shutdown(ctx)
}

func tracer() oteltrace.Tracer {
	return otel.Tracer(tracerName)
}

// SyscallSpan starts a span for one sys_dispatch call, tagged with the
// syscall number.
func SyscallSpan(ctx context.Context, name string, number int64) (context.Context, oteltrace.Span) {
	return tracer().Start(ctx, "syscall."+name,
		oteltrace.WithAttributes(attribute.Int64("syscall.number", number)))
}

// AMLSpan starts a span for evaluating one AML namespace node.
func AMLSpan(ctx context.Context, nodeName string, kind string) (context.Context, oteltrace.Span) {
	return tracer().Start(ctx, "acpi.aml.evaluate",
		oteltrace.WithAttributes(
			attribute.String("acpi.node", nodeName),
			attribute.String("acpi.kind", kind),
		))
}
