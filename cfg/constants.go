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

const (
	// FrameSize is the fixed physical page size assumed throughout the
	// memory subsystem (§3 Frame).
	FrameSize = 4096

	// DefaultOpenMax is the default OPEN_MAX fd table capacity.
	DefaultOpenMax = 1024

	// DefaultSymlinkMaxDepth bounds symlink resolution loops during path walk.
	DefaultSymlinkMaxDepth = 40
)

const (
	// TCP retransmit timer bounds (§4.K).
	MinTCPRTOMillis = 200
	MaxTCPRTOMillis = 60_000

	// TCPMSLSeconds is the maximum segment lifetime used to size TIME_WAIT.
	TCPMSLSeconds = 30
)
