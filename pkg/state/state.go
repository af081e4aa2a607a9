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

// Package state defines the closed lifecycle state vocabulary of a
// controlled process and the canonical lowercase string form used at
// system boundaries (logs, status reports, wire transport).
//
// Transition legality lives in pkg/process; this package only fixes the
// vocabulary other layers serialize.
package state

// State is the lifecycle state of one controlled process. The zero value
// is Undefined, which marks uninitialized or unrecognized input and is
// never a valid state of a correctly operating machine.
type State int

const (
	// Undefined is the sentinel for "no valid state". A machine that
	// reports Undefined after construction has a programming defect, not
	// a domain condition.
	Undefined State = iota

	// Standby is the initial state: the process exists but carries no
	// applied configuration.
	Standby

	// Configured means a configuration has been applied and the process
	// can be started.
	Configured

	// Running means the controlled task is actively processing.
	Running

	// Paused means processing is suspended; configuration and resources
	// are retained.
	Paused

	// Error means a transition or check failed. Error is a normal,
	// recoverable state, not a terminal one.
	Error

	// Done is the unique terminal state. No transitions leave it.
	Done
)

// String returns the canonical lowercase name of s. It is total: every
// value serializes, with Undefined and out-of-range values mapping to
// "undefined".
func (s State) String() string {
	switch s {
	case Standby:
		return "standby"
	case Configured:
		return "configured"
	case Running:
		return "running"
	case Paused:
		return "paused"
	case Error:
		return "error"
	case Done:
		return "done"
	default:
		return "undefined"
	}
}

// ParseState maps a canonical lowercase name to its State. The boolean
// is false when name does not match any defined state, with Undefined as
// the first return. Matching is case-sensitive: "Standby" is not a state
// name. "undefined" itself does not parse either, since the sentinel
// names a defect rather than a state a caller may request.
func ParseState(name string) (State, bool) {
	switch name {
	case "standby":
		return Standby, true
	case "configured":
		return Configured, true
	case "running":
		return Running, true
	case "paused":
		return Paused, true
	case "error":
		return Error, true
	case "done":
		return Done, true
	default:
		return Undefined, false
	}
}

// StateFromString is the total-function form of ParseState: unrecognized
// input yields the Undefined sentinel instead of a second return value.
// Kept for callers that transport state names and want decoding to never
// fail; they must check for Undefined themselves. New code should prefer
// ParseState.
func StateFromString(name string) State {
	s, _ := ParseState(name)

	return s
}

// MarshalText implements encoding.TextMarshaler so states serialize as
// their canonical name in JSON and YAML payloads.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText keeps decoding total, like StateFromString: unrecognized
// names decode to the Undefined sentinel instead of failing.
func (s *State) UnmarshalText(text []byte) error {
	*s = StateFromString(string(text))

	return nil
}

// States returns the defined states in lifecycle order, Undefined
// excluded. Useful at boundaries that enumerate the vocabulary
// (validation, metrics initialization).
func States() []State {
	return []State{Standby, Configured, Running, Paused, Error, Done}
}

// IsTerminal reports whether s admits no outgoing transitions.
func (s State) IsTerminal() bool {
	return s == Done
}

// IsActive reports whether the controlled task holds work in s.
func (s State) IsActive() bool {
	return s == Running || s == Paused
}
