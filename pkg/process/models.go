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

// Package process implements the lifecycle state machine of one
// controlled process: the command vocabulary, the transition table, and
// the single-writer runner that drives task hooks around transitions.
package process

import (
	"github.com/looplab/fsm"

	"github.com/open-run-control/orc-core/pkg/state"
)

// Command is a lifecycle command consumed by the machine. The canonical
// lowercase strings double as the wire form at the control boundary.
type Command string

const (
	// CommandConfigure applies a configuration: standby -> configured.
	CommandConfigure Command = "configure"
	// CommandStart begins processing: configured -> running.
	CommandStart Command = "start"
	// CommandStop ends processing, keeping the configuration:
	// running -> configured.
	CommandStop Command = "stop"
	// CommandPause suspends processing: running -> paused.
	CommandPause Command = "pause"
	// CommandResume continues processing: paused -> running.
	CommandResume Command = "resume"
	// CommandReset drops the configuration: configured -> standby.
	CommandReset Command = "reset"
	// CommandExit shuts the process down for good: standby or
	// configured -> done. There is no way back from done.
	CommandExit Command = "exit"
	// CommandFail reports a failure through the command protocol: any
	// non-terminal state -> error. From error it is a legal no-op.
	CommandFail Command = "fail"
	// CommandRecover leaves the error state for the configured recovery
	// target (standby by default).
	CommandRecover Command = "recover"
)

// eventForceError is the internal event behind ForceError. It is not
// part of the command vocabulary; faults arrive out of band.
const eventForceError = "force_error"

// Commands returns the full command vocabulary in a stable order.
func Commands() []Command {
	return []Command{
		CommandConfigure,
		CommandStart,
		CommandStop,
		CommandPause,
		CommandResume,
		CommandReset,
		CommandExit,
		CommandFail,
		CommandRecover,
	}
}

// ParseCommand maps a canonical lowercase name to its Command. The
// boolean is false for anything outside the vocabulary; matching is
// case-sensitive like the state names.
func ParseCommand(name string) (Command, bool) {
	for _, c := range Commands() {
		if string(c) == name {
			return c, true
		}
	}

	return "", false
}

// nonTerminalStateNames lists the source states of the failure edges:
// every defined state except done.
func nonTerminalStateNames() []string {
	var names []string
	for _, s := range state.States() {
		if s.IsTerminal() {
			continue
		}
		names = append(names, s.String())
	}

	return names
}

// transitions builds the machine's transition table. done has no
// outgoing edges, which is what makes it terminal. The recovery target
// parameterizes the single recover edge.
func transitions(recoveryTarget state.State) []fsm.EventDesc {
	return []fsm.EventDesc{
		{Name: string(CommandConfigure), Src: []string{state.Standby.String()}, Dst: state.Configured.String()},
		{Name: string(CommandStart), Src: []string{state.Configured.String()}, Dst: state.Running.String()},
		{Name: string(CommandPause), Src: []string{state.Running.String()}, Dst: state.Paused.String()},
		{Name: string(CommandResume), Src: []string{state.Paused.String()}, Dst: state.Running.String()},
		{Name: string(CommandStop), Src: []string{state.Running.String()}, Dst: state.Configured.String()},
		{Name: string(CommandReset), Src: []string{state.Configured.String()}, Dst: state.Standby.String()},
		{Name: string(CommandExit), Src: []string{state.Standby.String(), state.Configured.String()}, Dst: state.Done.String()},
		{Name: string(CommandFail), Src: nonTerminalStateNames(), Dst: state.Error.String()},
		{Name: string(CommandRecover), Src: []string{state.Error.String()}, Dst: recoveryTarget.String()},
		{Name: eventForceError, Src: nonTerminalStateNames(), Dst: state.Error.String()},
	}
}
