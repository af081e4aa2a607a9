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

// Package fsm provides the shared machine shell concrete state machines
// are built on: a looplab FSM plus the locking and context discipline
// every machine in this module needs.
package fsm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/looplab/fsm"
	"go.uber.org/zap"

	"github.com/open-run-control/orc-core/pkg/constants"
)

// BaseMachine implements the shared logic for all state machines in this
// module. Concrete machines (e.g. the process lifecycle machine) wrap it
// and register their per-state callbacks.
type BaseMachine struct {
	cfg BaseMachineConfig

	// mu guards direct state access (SetState, Current). Event delivery
	// itself is serialized by the underlying FSM, which also keeps state
	// reads atomic with respect to a transition in flight.
	mu sync.RWMutex

	// fsm holds the transition table and the current state
	fsm *fsm.FSM

	// Registered "enter_state" callbacks, for logging or minor side effects.
	callbacks map[string]fsm.Callback

	// logger is the logger for the machine
	logger *zap.SugaredLogger
}

// BaseMachineConfig holds parameters for setting up the base machine.
type BaseMachineConfig struct {
	// ID identifies the machine in logs and metrics.
	ID string

	// InitialState is the state the machine is constructed in.
	InitialState string

	// Transitions is the complete transition table. States with no
	// outgoing entries are terminal.
	Transitions []fsm.EventDesc
}

// NewBaseMachine sets up a machine with the given transition table.
// Callbacks registered with AddCallback fire on entering their state.
func NewBaseMachine(cfg BaseMachineConfig, logger *zap.SugaredLogger) *BaseMachine {
	m := &BaseMachine{
		cfg:       cfg,
		callbacks: make(map[string]fsm.Callback),
		logger:    logger,
	}

	m.fsm = fsm.NewFSM(
		cfg.InitialState,
		fsm.Events(cfg.Transitions),
		fsm.Callbacks{
			"enter_state": func(ctx context.Context, e *fsm.Event) {
				// Call registered callback for this state if exists
				if cb, ok := m.callbacks["enter_"+e.Dst]; ok {
					cb(ctx, e)
				}
			},
		},
	)

	return m
}

// AddCallback registers a callback for a given event name, e.g.
// "enter_running". Registration must complete before the machine starts
// serving events; the callbacks map is not locked.
func (m *BaseMachine) AddCallback(eventName string, callback fsm.Callback) {
	m.callbacks[eventName] = callback
}

// Current returns the current state of the machine.
func (m *BaseMachine) Current() string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.fsm.Current()
}

// Is reports whether the machine is in the given state.
func (m *BaseMachine) Is(state string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.fsm.Is(state)
}

// Can reports whether the named event has an edge from the current
// state. A self-loop counts as an edge.
func (m *BaseMachine) Can(eventName string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.fsm.Can(eventName)
}

// SetState installs a state directly without firing callbacks.
// This should only be called in tests.
func (m *BaseMachine) SetState(state string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fsm.SetState(state)
}

// SendEvent sends an event to the machine and returns whether the event
// was processed.
//
// A context that expires mid-transition leaves the underlying FSM with
// its transition flag set, and every later event then fails with
// "previous transition did not complete". Better to refuse up front:
// 1. Reject event sending if the context is already cancelled
// 2. Refuse to start a transition when too little lifetime remains
func (m *BaseMachine) SendEvent(ctx context.Context, eventName string, args ...interface{}) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	if deadline, ok := ctx.Deadline(); ok {
		if time.Until(deadline) < constants.MinTransitionHeadroom {
			return fmt.Errorf("context deadline exceeded")
		}
	}

	return m.fsm.Event(ctx, eventName, args...)
}

// GetID returns the machine's identifier.
func (m *BaseMachine) GetID() string {
	return m.cfg.ID
}

// GetLogger returns the machine's logger.
func (m *BaseMachine) GetLogger() *zap.SugaredLogger {
	return m.logger
}

// IsNoTransition reports whether err is the underlying FSM's signal that
// source and destination state were the same. Machines with legal
// self-loops treat it as success.
func IsNoTransition(err error) bool {
	var noTransition fsm.NoTransitionError

	return errors.As(err, &noTransition)
}

// IsInvalidEvent reports whether err says the event has no edge from the
// current state. The event name exists in the table, the source state
// does not admit it.
func IsInvalidEvent(err error) bool {
	var invalidEvent fsm.InvalidEventError

	return errors.As(err, &invalidEvent)
}

// IsUnknownEvent reports whether err says the event name appears nowhere
// in the transition table.
func IsUnknownEvent(err error) bool {
	var unknownEvent fsm.UnknownEventError

	return errors.As(err, &unknownEvent)
}
