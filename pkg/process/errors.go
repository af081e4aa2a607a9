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
	"errors"
	"fmt"

	"github.com/open-run-control/orc-core/pkg/state"
)

// ErrMachineDone is returned when an operation reaches a machine that
// has already entered the terminal done state.
var ErrMachineDone = errors.New("machine has exited and accepts no further input")

// ErrRunnerStopped is returned by Submit once the runner loop has
// terminated; commands submitted afterwards are never executed.
var ErrRunnerStopped = errors.New("runner has stopped")

// InvalidTransitionError reports a command for which no edge leaves the
// machine's current state. The machine is unchanged when it is returned.
// It marks a caller-side protocol violation, not a domain fault: the
// machine never escalates it to the error state.
type InvalidTransitionError struct {
	From    state.State
	Command Command
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition: no edge for command %q from state %q", e.Command, e.From)
}

// IsInvalidTransition reports whether err is an InvalidTransitionError.
func IsInvalidTransition(err error) bool {
	var ite *InvalidTransitionError

	return errors.As(err, &ite)
}
