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

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/open-run-control/orc-core/pkg/constants"
	"github.com/open-run-control/orc-core/pkg/faults"
	"github.com/open-run-control/orc-core/pkg/logger"
	"github.com/open-run-control/orc-core/pkg/metrics"
	"github.com/open-run-control/orc-core/pkg/sentry"
	"github.com/open-run-control/orc-core/pkg/state"
)

// RunnerConfig parameterizes a Runner.
type RunnerConfig struct {
	// TickInterval is the period of the control loop; it also bounds the
	// time budget of a single tick's task work.
	TickInterval time.Duration

	// AutoRecover enables automatic recovery from transient faults.
	AutoRecover bool

	// MaxRecoveryBackoff caps the delay between automatic recovery
	// attempts.
	MaxRecoveryBackoff time.Duration

	// Logger overrides the default component logger; used by tests.
	Logger *zap.SugaredLogger
}

// commandRequest pairs a submitted command with its reply channel.
type commandRequest struct {
	reply chan commandResult
	cmd   Command
}

// commandResult is the outcome of one executed command.
type commandResult struct {
	err   error
	state state.State
}

// Runner is the single writer of one machine. All transition requests
// are confined to its Execute goroutine, which realizes the serialized
// mutation contract of the machine: commands arrive via Submit, faults
// via Fault, and a ticker drives the task's periodic work.
type Runner struct {
	machine   *Machine
	task      Task
	cfg       RunnerConfig
	log       *zap.SugaredLogger
	snapshots *SnapshotManager

	commands chan commandRequest
	faultCh  chan error

	// stopped is closed when Execute returns, failing pending and future
	// Submit calls fast.
	stopped chan struct{}

	// Auto-recovery bookkeeping, touched only by the Execute goroutine.
	recoveryBackoff *backoff.ExponentialBackOff
	nextRecoveryAt  time.Time
}

// NewRunner creates a runner for one machine and its task.
func NewRunner(machine *Machine, task Task, cfg RunnerConfig) *Runner {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = constants.DefaultTickInterval
	}

	if cfg.MaxRecoveryBackoff <= 0 {
		cfg.MaxRecoveryBackoff = constants.DefaultMaxRecoveryBackoff
	}

	log := cfg.Logger
	if log == nil {
		log = logger.For(logger.ComponentRunner)
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxInterval = cfg.MaxRecoveryBackoff
	bo.MaxElapsedTime = 0 // recovery attempts never expire

	r := &Runner{
		machine:         machine,
		task:            task,
		cfg:             cfg,
		log:             log,
		snapshots:       NewSnapshotManager(),
		commands:        make(chan commandRequest, constants.CommandQueueSize),
		faultCh:         make(chan error, constants.FaultQueueSize),
		stopped:         make(chan struct{}),
		recoveryBackoff: bo,
	}

	metrics.InitErrorCounter(metrics.ComponentRunner, machine.ID())
	r.snapshots.Update(machine.Snapshot())

	return r
}

// Machine returns the machine this runner drives.
func (r *Runner) Machine() *Machine {
	return r.machine
}

// Snapshots returns the snapshot manager fed by this runner.
func (r *Runner) Snapshots() *SnapshotManager {
	return r.snapshots
}

// Submit enqueues a command and waits for its outcome: the resulting
// state, or the error the transition produced. It returns
// ErrRunnerStopped once the loop has terminated and the context error
// when ctx expires while waiting.
func (r *Runner) Submit(ctx context.Context, cmd Command) (state.State, error) {
	req := commandRequest{cmd: cmd, reply: make(chan commandResult, 1)}

	select {
	case r.commands <- req:
	case <-r.stopped:
		return state.Undefined, ErrRunnerStopped
	case <-ctx.Done():
		return state.Undefined, ctx.Err()
	}

	select {
	case res := <-req.reply:
		return res.state, res.err
	case <-r.stopped:
		// The loop buffers the reply before it exits, so a command it
		// already executed must report its own outcome even when the
		// shutdown signal arrives first.
		select {
		case res := <-req.reply:
			return res.state, res.err
		default:
			return state.Undefined, ErrRunnerStopped
		}
	case <-ctx.Done():
		return state.Undefined, ctx.Err()
	}
}

// Fault reports an out-of-band domain fault, e.g. from a watchdog. It
// never blocks: when the fault queue is full the report is dropped and
// counted, because a wedged fault reporter would be worse than a lost
// duplicate report.
func (r *Runner) Fault(reason error) {
	select {
	case r.faultCh <- reason:
	case <-r.stopped:
	default:
		metrics.IncErrorCount(metrics.ComponentRunner, r.machine.ID())
		r.log.Warnf("Machine %s: fault queue full, dropping fault: %v", r.machine.ID(), reason)
	}
}

// Execute runs the control loop until ctx is cancelled. Cancellation is
// a clean shutdown and returns nil; only a panic inside the loop
// produces an error.
func (r *Runner) Execute(ctx context.Context) (err error) {
	defer close(r.stopped)

	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("runner panic: %v", rec)
			sentry.ReportMachineError(r.log, r.machine.ID(), "execute", err)
		}
	}()

	r.log.Infof("Machine %s: runner starting (tick %s, auto-recover %t)",
		r.machine.ID(), r.cfg.TickInterval, r.cfg.AutoRecover)

	ticker := time.NewTicker(r.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.log.Infof("Machine %s: runner stopping", r.machine.ID())

			return nil
		case req := <-r.commands:
			r.executeCommand(ctx, req)
		case reason := <-r.faultCh:
			r.handleFault(ctx, reason)
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

// executeCommand runs one submitted command under the transition
// timeout and replies with the outcome.
func (r *Runner) executeCommand(ctx context.Context, req commandRequest) {
	cctx, cancel := context.WithTimeout(ctx, constants.DefaultTransitionTimeout)
	defer cancel()

	res := r.runCommand(cctx, req.cmd)
	req.reply <- res

	r.snapshots.Update(r.machine.Snapshot())
}

// runCommand executes the task hook for cmd and, when it succeeds,
// applies the transition. Hook errors are domain faults: the command is
// not applied and the machine is forced to error instead. Commands the
// current state does not admit skip the hook entirely and surface the
// machine's InvalidTransitionError.
func (r *Runner) runCommand(ctx context.Context, cmd Command) commandResult {
	if !r.machine.Can(cmd) {
		st, err := r.machine.Apply(ctx, cmd)

		return commandResult{state: st, err: err}
	}

	if hook := hookFor(r.task, cmd); hook != nil {
		if hookErr := hook(ctx); hookErr != nil {
			fault := faults.Categorize(fmt.Errorf("%s hook failed: %w", cmd, hookErr))
			r.log.Warnf("Machine %s: %v", r.machine.ID(), fault)

			if err := r.machine.ForceError(ctx, fault); err != nil {
				r.log.Errorf("Machine %s: recording hook fault failed: %v", r.machine.ID(), err)
			}
			r.scheduleRecovery()

			return commandResult{state: r.machine.CurrentState(), err: fault}
		}
	}

	st, err := r.machine.Apply(ctx, cmd)
	if err == nil && cmd == CommandRecover {
		r.resetRecovery()
	}

	return commandResult{state: st, err: err}
}

// handleFault drives an out-of-band fault report into the machine.
// Advisory faults are logged and counted but do not force the error
// state.
func (r *Runner) handleFault(ctx context.Context, reason error) {
	cctx, cancel := context.WithTimeout(ctx, constants.DefaultTransitionTimeout)
	defer cancel()

	if faults.IsAdvisoryFault(reason) {
		metrics.IncFault(r.machine.ID(), faults.CategoryAdvisory.String())
		r.log.Warnf("Machine %s: advisory fault: %v", r.machine.ID(), reason)

		return
	}

	if err := r.machine.ForceError(cctx, reason); err != nil {
		r.log.Errorf("Machine %s: fault not recorded: %v (fault was: %v)", r.machine.ID(), err, reason)

		return
	}

	r.scheduleRecovery()
	r.snapshots.Update(r.machine.Snapshot())
}

// tick performs the periodic work of one loop cycle: the task's
// processing step while running, its periodic check in every
// non-terminal state, and the auto-recovery evaluation while in error.
// The cycle budget is one tick interval; an overrun is logged and the
// remaining work skipped, never fatal.
func (r *Runner) tick(ctx context.Context) {
	cctx, cancel := context.WithTimeout(ctx, r.cfg.TickInterval)
	defer cancel()

	current := r.machine.CurrentState()
	if current.IsTerminal() {
		return
	}

	if current == state.Running {
		if err := r.task.IterateRunning(cctx); err != nil {
			r.faultFromTick(cctx, fmt.Errorf("iteration failed: %w", err))

			return
		}
	}

	if cctx.Err() != nil {
		metrics.IncErrorCount(metrics.ComponentRunner, r.machine.ID())
		r.log.Warnf("Machine %s: tick overran its %s budget, skipping periodic check",
			r.machine.ID(), r.cfg.TickInterval)

		return
	}

	if err := r.task.PeriodicCheck(cctx); err != nil {
		r.faultFromTick(cctx, fmt.Errorf("periodic check failed: %w", err))

		return
	}

	if r.machine.CurrentState() == state.Error {
		r.maybeRecover(cctx)
	}
}

// faultFromTick reports a fault detected by the tick work itself.
func (r *Runner) faultFromTick(ctx context.Context, reason error) {
	fault := faults.Categorize(reason)
	r.log.Warnf("Machine %s: %v", r.machine.ID(), fault)

	if err := r.machine.ForceError(ctx, fault); err != nil {
		r.log.Errorf("Machine %s: recording tick fault failed: %v", r.machine.ID(), err)

		return
	}

	r.scheduleRecovery()
	r.snapshots.Update(r.machine.Snapshot())
}

// scheduleRecovery arms the next automatic recovery attempt after the
// current backoff delay. Only transient faults are eligible; permanent
// ones wait for an operator.
func (r *Runner) scheduleRecovery() {
	if !r.cfg.AutoRecover {
		return
	}

	if !faults.IsTransientFault(r.machine.LastFault()) {
		return
	}

	delay := r.recoveryBackoff.NextBackOff()
	r.nextRecoveryAt = time.Now().Add(delay)
	r.log.Infof("Machine %s: automatic recovery in %s", r.machine.ID(), delay)
}

// resetRecovery clears the backoff after a successful recovery.
func (r *Runner) resetRecovery() {
	r.recoveryBackoff.Reset()
	r.nextRecoveryAt = time.Time{}
}

// maybeRecover attempts an automatic recover once the scheduled backoff
// has elapsed.
func (r *Runner) maybeRecover(ctx context.Context) {
	if !r.cfg.AutoRecover || r.nextRecoveryAt.IsZero() {
		return
	}

	if !faults.IsTransientFault(r.machine.LastFault()) {
		return
	}

	if time.Now().Before(r.nextRecoveryAt) {
		return
	}

	res := r.runCommand(ctx, CommandRecover)
	if res.err != nil {
		r.log.Warnf("Machine %s: automatic recovery failed: %v", r.machine.ID(), res.err)

		return
	}

	r.log.Infof("Machine %s: automatic recovery succeeded, now %s", r.machine.ID(), res.state)
	r.snapshots.Update(r.machine.Snapshot())
}
