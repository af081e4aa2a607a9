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

package process

import "context"

// Task is the hook surface a controlled task implements. The machine
// itself stays free of side effects; the Runner calls the hook matching
// a command before applying the transition, so the machine only moves
// once the task's work succeeded.
//
// A hook error is a domain fault: the command is not applied and the
// machine is forced to error with the hook error as reason. Wrap hook
// errors with pkg/faults to steer auto-recovery; plain errors count as
// transient.
//
// Every hook receives a context bounded by the runner's per-cycle
// timeout and must return promptly when it is cancelled.
type Task interface {
	// Configure applies the task's configuration (standby -> configured).
	Configure(ctx context.Context) error
	// Start begins processing (configured -> running).
	Start(ctx context.Context) error
	// Stop ends processing, keeping the configuration (running -> configured).
	Stop(ctx context.Context) error
	// Pause suspends processing (running -> paused).
	Pause(ctx context.Context) error
	// Resume continues processing (paused -> running).
	Resume(ctx context.Context) error
	// Reset drops the applied configuration (configured -> standby).
	Reset(ctx context.Context) error
	// Recover cleans up after a fault (error -> recovery target). A
	// failing Recover hook leaves the machine in error.
	Recover(ctx context.Context) error
	// Exit releases everything for good (standby/configured -> done).
	Exit(ctx context.Context) error

	// IterateRunning is called once per runner tick while the machine is
	// running; it carries the task's actual processing step.
	IterateRunning(ctx context.Context) error

	// PeriodicCheck is called once per runner tick in every non-terminal
	// state. A failing check is a domain fault and forces the machine to
	// error.
	PeriodicCheck(ctx context.Context) error
}

// NopTask implements Task with no-ops. Embed it to override only the
// hooks a task actually needs.
type NopTask struct{}

var _ Task = NopTask{}

func (NopTask) Configure(ctx context.Context) error { return nil }
func (NopTask) Start(ctx context.Context) error     { return nil }
func (NopTask) Stop(ctx context.Context) error      { return nil }
func (NopTask) Pause(ctx context.Context) error     { return nil }
func (NopTask) Resume(ctx context.Context) error    { return nil }
func (NopTask) Reset(ctx context.Context) error     { return nil }
func (NopTask) Recover(ctx context.Context) error   { return nil }
func (NopTask) Exit(ctx context.Context) error      { return nil }

func (NopTask) IterateRunning(ctx context.Context) error { return nil }
func (NopTask) PeriodicCheck(ctx context.Context) error  { return nil }

// hookFor returns the hook matching cmd, or nil for commands without a
// task-side effect (fail reports a failure, it does not cause one).
func hookFor(task Task, cmd Command) func(context.Context) error {
	switch cmd {
	case CommandConfigure:
		return task.Configure
	case CommandStart:
		return task.Start
	case CommandStop:
		return task.Stop
	case CommandPause:
		return task.Pause
	case CommandResume:
		return task.Resume
	case CommandReset:
		return task.Reset
	case CommandRecover:
		return task.Recover
	case CommandExit:
		return task.Exit
	default:
		return nil
	}
}
