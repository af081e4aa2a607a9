// Copyright 2026 The orc-core Authors
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

package constants

import "time"

const (
	// DefaultAppVersion is the version reported by local builds that were
	// not stamped via ldflags. Crash reporting stays disabled for it.
	DefaultAppVersion = "0.0.0-dev"

	// DefaultDevelopmentEnvironment is the crash reporting environment for
	// prerelease builds.
	DefaultDevelopmentEnvironment = "development"

	// DefaultProductionEnvironment is the crash reporting environment for
	// tagged release builds.
	DefaultProductionEnvironment = "production"
)

const (
	// DefaultTickInterval is the period of the runner loop. It bounds how
	// quickly periodic checks and auto-recovery react:
	// - Too small: task hooks get starved by bookkeeping
	// - Too large: delayed fault detection and command latency
	DefaultTickInterval = 100 * time.Millisecond

	// DefaultTransitionTimeout bounds a single command execution (task hook
	// plus transition) inside the runner loop.
	DefaultTransitionTimeout = 30 * time.Second

	// MinTransitionHeadroom is the minimum remaining context lifetime
	// required before a transition is allowed to start. Transitions that
	// get interrupted mid-flight leave the underlying FSM wedged, so it is
	// better to refuse them up front.
	MinTransitionHeadroom = 10 * time.Millisecond

	// CommandQueueSize is the capacity of the runner's command intake.
	// Submissions beyond it block the submitter, not the loop.
	CommandQueueSize = 16

	// FaultQueueSize is the capacity of the runner's fault intake. Fault
	// reports beyond it are dropped and counted, never blocked on.
	FaultQueueSize = 16

	// NotifierBufferSize is the per-subscriber channel capacity for state
	// change notifications.
	NotifierBufferSize = 16
)

const (
	// DefaultAPIAddress is the listen address of the control API.
	DefaultAPIAddress = ":8090"

	// DefaultMetricsAddress is the listen address of the metrics endpoint.
	DefaultMetricsAddress = ":8091"

	// DefaultShutdownTimeout bounds graceful HTTP server shutdown.
	DefaultShutdownTimeout = 3 * time.Second

	// CommandDedupTTL is how long a command request id is remembered for
	// idempotent replay of its outcome.
	CommandDedupTTL = 2 * time.Minute

	// CommandDedupCullInterval is how often expired request ids are culled.
	CommandDedupCullInterval = 30 * time.Second
)

const (
	// DefaultWatchdogInterval is the period between process samples.
	DefaultWatchdogInterval = 5 * time.Second

	// DefaultMaxRecoveryBackoff caps the delay between automatic recovery
	// attempts for transient faults.
	DefaultMaxRecoveryBackoff = 1 * time.Minute
)
