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

package ktrace_test

import (
	"context"
	"testing"

	"github.com/coreklabs/corekernel/internal/ktrace"
	"github.com/stretchr/testify/require"
)

func TestSyscallSpan_StartsAndEnds(t *testing.T) {
	p := ktrace.NewProvider()
	p.Install()
	defer func() { require.NoError(t, p.Shutdown(context.Background())) }()

	ctx, span := ktrace.SyscallSpan(context.Background(), "SYS_READ", 0)
	require.NotNil(t, span)
	span.End()
	require.NotNil(t, ctx)
}

func TestAMLSpan_StartsAndEnds(t *testing.T) {
	p := ktrace.NewProvider()
	p.Install()
	defer func() { require.NoError(t, p.Shutdown(context.Background())) }()

	_, span := ktrace.AMLSpan(context.Background(), "_INI", "Method")
	require.NotNil(t, span)
	span.End()
}
