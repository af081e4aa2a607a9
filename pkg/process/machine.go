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
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/looplab/fsm"
	"go.uber.org/zap"

	internalfsm "github.com/open-run-control/orc-core/internal/fsm"
	"github.com/open-run-control/orc-core/pkg/faults"
	"github.com/open-run-control/orc-core/pkg/logger"
	"github.com/open-run-control/orc-core/pkg/metrics"
	"github.com/open-run-control/orc-core/pkg/sentry"
	"github.com/open-run-control/orc-core/pkg/state"
)

// Machine owns the lifecycle state of exactly one controlled process and
// enforces the legal transition graph. A new machine starts in standby;
// done is terminal and admits nothing.
//
// All mutation goes through Apply and ForceError. They are safe to call
// concurrently, but the intended discipline is a single writer (the
// Runner); concurrent CurrentState readers never block writers and
// always observe either the pre- or post-transition state.
type Machine struct {
	base *internalfsm.BaseMachine

	cfg MachineConfig
	log *zap.SugaredLogger

	createdAt time.Time

	// mu guards lastFault and lastChange, which callbacks write while the
	// underlying FSM holds its own transition lock.
	mu         sync.RWMutex
	lastFault  error
	lastChange *StateChange
}

// MachineConfig parameterizes a Machine.
type MachineConfig struct {
	// ID identifies the machine in logs, metrics and notifications. A
	// fresh UUID is generated when empty.
	ID string

	// RecoveryTarget is the state the recover command leads to from
	// error: Standby (the default) or Configured.
	RecoveryTarget state.State

	// Notifier, when set, receives a StateChange for every transition.
	Notifier *Notifier

	// Logger overrides the default component logger; used by tests.
	Logger *zap.SugaredLogger
}

// NewMachine creates a machine in the standby state.
func NewMachine(cfg MachineConfig) (*Machine, error) {
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}

	switch cfg.RecoveryTarget {
	case state.Undefined:
		cfg.RecoveryTarget = state.Standby
	case state.Standby, state.Configured:
	default:
		return nil, fmt.Errorf("invalid recovery target %q: valid targets are %q and %q",
			cfg.RecoveryTarget, state.Standby, state.Configured)
	}

	log := cfg.Logger
	if log == nil {
		log = logger.For(logger.ComponentProcessMachine)
	}

	m := &Machine{
		cfg:       cfg,
		log:       log,
		createdAt: time.Now(),
	}

	m.base = internalfsm.NewBaseMachine(internalfsm.BaseMachineConfig{
		ID:           cfg.ID,
		InitialState: state.Standby.String(),
		Transitions:  transitions(cfg.RecoveryTarget),
	}, log)

	metrics.InitErrorCounter(metrics.ComponentProcessMachine, cfg.ID)
	metrics.UpdateMachineState(cfg.ID, state.Standby)

	m.registerCallbacks()

	return m, nil
}

// registerCallbacks wires one enter callback per state. Callbacks run
// synchronously inside the transition and must not fail; they log the
// transition, update the state gauge, record the change and publish it.
func (m *Machine) registerCallbacks() {
	for _, s := range state.States() {
		entered := s
		m.base.AddCallback("enter_"+entered.String(), func(ctx context.Context, e *fsm.Event) {
			m.onEnter(entered, e)
		})
	}
}

// onEnter is the shared enter-state callback body.
func (m *Machine) onEnter(entered state.State, e *fsm.Event) {
	change := StateChange{
		MachineID: m.ID(),
		From:      state.StateFromString(e.Src),
		To:        entered,
		Cause:     causeOf(e.Event),
		At:        time.Now(),
	}

	m.log.Infof("Machine %s: %s -> %s (%s)", m.ID(), change.From, change.To, change.Cause)
	metrics.UpdateMachineState(m.ID(), entered)

	m.mu.Lock()
	m.lastChange = &change
	if entered == state.Error && len(e.Args) > 0 {
		if reason, ok := e.Args[0].(error); ok {
			m.lastFault = reason
		}
	}
	m.mu.Unlock()

	if m.cfg.Notifier != nil {
		m.cfg.Notifier.publish(change)
	}
}

// causeOf maps the internal event name to the notification cause: the
// command name, or "fault" for the out-of-band force-error event.
func causeOf(event string) string {
	if event == eventForceError {
		return CauseFault
	}

	return event
}

// ID returns the machine's identifier.
func (m *Machine) ID() string {
	return m.base.GetID()
}

// RecoveryTarget returns the state the recover command leads to.
func (m *Machine) RecoveryTarget() state.State {
	return m.cfg.RecoveryTarget
}

// CurrentState returns the current state. It never fails, has no side
// effects and is safe for concurrent readers.
func (m *Machine) CurrentState() state.State {
	return state.StateFromString(m.base.Current())
}

// Can reports whether cmd has an edge from the current state. The
// Runner uses it to skip task hooks for commands Apply would reject.
func (m *Machine) Can(cmd Command) bool {
	return m.base.Can(string(cmd))
}

// Apply attempts the transition named by cmd from the current state.
//
// On success the new state is installed atomically and returned. When no
// edge exists for (current state, cmd) the machine is left untouched and
// an *InvalidTransitionError is returned; an invalid command never
// escalates the machine to error by itself. fail while already in error
// is a legal no-op. A context that is already cancelled or about to
// expire rejects the attempt with the context error, machine unchanged.
func (m *Machine) Apply(ctx context.Context, cmd Command) (state.State, error) {
	start := time.Now()
	from := m.CurrentState()

	err := m.base.SendEvent(ctx, string(cmd))
	switch {
	case err == nil:
	case internalfsm.IsNoTransition(err):
		// Self-loop, e.g. fail while already in error.
	case internalfsm.IsInvalidEvent(err), internalfsm.IsUnknownEvent(err):
		metrics.IncInvalidTransition(m.ID(), string(cmd))
		m.log.Debugf("Machine %s: rejected command %q in state %q", m.ID(), cmd, from)

		return from, &InvalidTransitionError{From: from, Command: cmd}
	default:
		return from, err
	}

	if cmd == CommandRecover {
		m.setLastFault(nil)
	}

	metrics.ObserveTransitionTime(m.ID(), string(cmd), time.Since(start))

	return m.CurrentState(), nil
}

// ForceError is the out-of-band fault intake: an unconditional
// transition to error from any non-done state, recording reason as the
// machine's last fault. Calling it on a machine that already sits in
// error records the newer fault without a transition.
//
// A fault reported after the machine has exited cannot be modeled as a
// state anymore; the inconsistency is logged, counted and crash-reported,
// and ErrMachineDone tells the caller the fault was discarded.
func (m *Machine) ForceError(ctx context.Context, reason error) error {
	if m.base.Is(state.Done.String()) {
		metrics.IncErrorCount(metrics.ComponentProcessMachine, m.ID())
		sentry.ReportMachineErrorf(m.log, m.ID(), "force_error",
			"fault reported after machine exited, discarding: %v", reason)

		return ErrMachineDone
	}

	categorized := faults.Categorize(reason)
	metrics.IncFault(m.ID(), faults.CategoryOf(categorized).String())

	err := m.base.SendEvent(ctx, eventForceError, categorized)
	switch {
	case err == nil:
	case internalfsm.IsNoTransition(err):
		// Already in error: no transition fires, so no callback records
		// the fault. Record it here.
		m.setLastFault(categorized)
	default:
		return err
	}

	return nil
}

// LastFault returns the most recent domain fault, or nil when none was
// reported or a recover cleared it.
func (m *Machine) LastFault() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.lastFault
}

func (m *Machine) setLastFault(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastFault = err
}
