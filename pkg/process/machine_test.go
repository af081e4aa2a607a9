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

package process_test

import (
	"context"
	"errors"
	"fmt"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap/zaptest"

	"github.com/open-run-control/orc-core/pkg/faults"
	"github.com/open-run-control/orc-core/pkg/process"
	"github.com/open-run-control/orc-core/pkg/state"
)

// newMachine builds a machine with a test logger, failing the spec on
// construction errors.
func newMachine(cfg process.MachineConfig) *process.Machine {
	GinkgoHelper()

	cfg.Logger = zaptest.NewLogger(GinkgoT()).Sugar()
	m, err := process.NewMachine(cfg)
	Expect(err).NotTo(HaveOccurred())

	return m
}

// driveTo walks a machine from standby into the given state via legal
// commands.
func driveTo(ctx context.Context, m *process.Machine, target state.State) {
	GinkgoHelper()

	path := map[state.State][]process.Command{
		state.Standby:    {},
		state.Configured: {process.CommandConfigure},
		state.Running:    {process.CommandConfigure, process.CommandStart},
		state.Paused:     {process.CommandConfigure, process.CommandStart, process.CommandPause},
		state.Done:       {process.CommandExit},
	}

	cmds, ok := path[target]
	Expect(ok).To(BeTrue(), "no command path to state %s", target)

	for _, cmd := range cmds {
		_, err := m.Apply(ctx, cmd)
		Expect(err).NotTo(HaveOccurred())
	}

	Expect(m.CurrentState()).To(Equal(target))
}

var _ = Describe("Machine", func() {
	var (
		ctx context.Context
		m   *process.Machine
	)

	BeforeEach(func() {
		ctx = context.Background()
		m = newMachine(process.MachineConfig{ID: "test-machine"})
	})

	Describe("construction", func() {
		It("starts in standby", func() {
			Expect(m.CurrentState()).To(Equal(state.Standby))
		})

		It("generates an id when none is given", func() {
			anon := newMachine(process.MachineConfig{})
			Expect(anon.ID()).NotTo(BeEmpty())
		})

		It("defaults the recovery target to standby", func() {
			Expect(m.RecoveryTarget()).To(Equal(state.Standby))
		})

		It("rejects recovery targets outside standby and configured", func() {
			_, err := process.NewMachine(process.MachineConfig{
				RecoveryTarget: state.Running,
				Logger:         zaptest.NewLogger(GinkgoT()).Sugar(),
			})
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("the nominal lifecycle", func() {
		It("walks standby -> configured -> running -> paused -> running", func() {
			st, err := m.Apply(ctx, process.CommandConfigure)
			Expect(err).NotTo(HaveOccurred())
			Expect(st).To(Equal(state.Configured))

			st, err = m.Apply(ctx, process.CommandStart)
			Expect(err).NotTo(HaveOccurred())
			Expect(st).To(Equal(state.Running))

			st, err = m.Apply(ctx, process.CommandPause)
			Expect(err).NotTo(HaveOccurred())
			Expect(st).To(Equal(state.Paused))

			st, err = m.Apply(ctx, process.CommandResume)
			Expect(err).NotTo(HaveOccurred())
			Expect(st).To(Equal(state.Running))
		})

		It("stops back to configured and resets back to standby", func() {
			driveTo(ctx, m, state.Running)

			st, err := m.Apply(ctx, process.CommandStop)
			Expect(err).NotTo(HaveOccurred())
			Expect(st).To(Equal(state.Configured))

			st, err = m.Apply(ctx, process.CommandReset)
			Expect(err).NotTo(HaveOccurred())
			Expect(st).To(Equal(state.Standby))
		})

		It("exits from standby and from configured", func() {
			st, err := m.Apply(ctx, process.CommandExit)
			Expect(err).NotTo(HaveOccurred())
			Expect(st).To(Equal(state.Done))

			other := newMachine(process.MachineConfig{})
			driveTo(ctx, other, state.Configured)
			st, err = other.Apply(ctx, process.CommandExit)
			Expect(err).NotTo(HaveOccurred())
			Expect(st).To(Equal(state.Done))
		})
	})

	Describe("invalid transitions", func() {
		It("rejects start from standby and leaves the state untouched", func() {
			st, err := m.Apply(ctx, process.CommandStart)
			Expect(err).To(HaveOccurred())
			Expect(st).To(Equal(state.Standby))
			Expect(m.CurrentState()).To(Equal(state.Standby))

			var ite *process.InvalidTransitionError
			Expect(errors.As(err, &ite)).To(BeTrue())
			Expect(ite.From).To(Equal(state.Standby))
			Expect(ite.Command).To(Equal(process.CommandStart))
		})

		It("never changes state on any failed command", func() {
			driveTo(ctx, m, state.Paused)

			for _, cmd := range []process.Command{
				process.CommandConfigure,
				process.CommandStart,
				process.CommandStop,
				process.CommandReset,
				process.CommandExit,
				process.CommandRecover,
			} {
				before := m.CurrentState()
				_, err := m.Apply(ctx, cmd)
				Expect(process.IsInvalidTransition(err)).To(BeTrue(), "command %s", cmd)
				Expect(m.CurrentState()).To(Equal(before), "command %s", cmd)
			}
		})

		It("rejects commands outside the vocabulary", func() {
			st, err := m.Apply(ctx, process.Command("bogus"))
			Expect(process.IsInvalidTransition(err)).To(BeTrue())
			Expect(st).To(Equal(state.Standby))
		})

		It("does not escalate an invalid command to the error state", func() {
			_, err := m.Apply(ctx, process.CommandPause)
			Expect(err).To(HaveOccurred())
			Expect(m.CurrentState()).To(Equal(state.Standby))
		})
	})

	Describe("terminality of done", func() {
		BeforeEach(func() {
			driveTo(ctx, m, state.Done)
		})

		It("rejects every command", func() {
			for _, cmd := range process.Commands() {
				st, err := m.Apply(ctx, cmd)
				Expect(process.IsInvalidTransition(err)).To(BeTrue(), "command %s", cmd)
				Expect(st).To(Equal(state.Done))
			}
		})

		It("discards forced errors with ErrMachineDone", func() {
			err := m.ForceError(ctx, errors.New("late fault"))
			Expect(err).To(MatchError(process.ErrMachineDone))
			Expect(m.CurrentState()).To(Equal(state.Done))
		})
	})

	Describe("the error state", func() {
		It("is reachable from every non-terminal state via fail", func() {
			for _, from := range []state.State{
				state.Standby,
				state.Configured,
				state.Running,
				state.Paused,
			} {
				fresh := newMachine(process.MachineConfig{})
				driveTo(ctx, fresh, from)

				st, err := fresh.Apply(ctx, process.CommandFail)
				Expect(err).NotTo(HaveOccurred(), "from %s", from)
				Expect(st).To(Equal(state.Error), "from %s", from)
			}
		})

		It("treats fail while already in error as a legal no-op", func() {
			_, err := m.Apply(ctx, process.CommandFail)
			Expect(err).NotTo(HaveOccurred())

			st, err := m.Apply(ctx, process.CommandFail)
			Expect(err).NotTo(HaveOccurred())
			Expect(st).To(Equal(state.Error))
		})

		It("recovers to standby by default", func() {
			driveTo(ctx, m, state.Running)
			Expect(m.ForceError(ctx, errors.New("watchdog timeout"))).To(Succeed())
			Expect(m.CurrentState()).To(Equal(state.Error))

			st, err := m.Apply(ctx, process.CommandRecover)
			Expect(err).NotTo(HaveOccurred())
			Expect(st).To(Equal(state.Standby))
		})

		It("recovers to configured when configured as the target", func() {
			cm := newMachine(process.MachineConfig{RecoveryTarget: state.Configured})
			driveTo(ctx, cm, state.Running)
			Expect(cm.ForceError(ctx, errors.New("watchdog timeout"))).To(Succeed())

			st, err := cm.Apply(ctx, process.CommandRecover)
			Expect(err).NotTo(HaveOccurred())
			Expect(st).To(Equal(state.Configured))
		})
	})

	Describe("ForceError and LastFault", func() {
		It("records the fault and clears it on recover", func() {
			reason := errors.New("watchdog timeout")
			Expect(m.ForceError(ctx, reason)).To(Succeed())
			Expect(m.CurrentState()).To(Equal(state.Error))
			Expect(m.LastFault()).To(MatchError(reason))

			_, err := m.Apply(ctx, process.CommandRecover)
			Expect(err).NotTo(HaveOccurred())
			Expect(m.LastFault()).To(BeNil())
		})

		It("categorizes plain reasons as transient", func() {
			Expect(m.ForceError(ctx, errors.New("flaky collaborator"))).To(Succeed())
			Expect(faults.IsTransientFault(m.LastFault())).To(BeTrue())
		})

		It("keeps explicit categories", func() {
			reason := faults.NewPermanentFault(errors.New("broken configuration"))
			Expect(m.ForceError(ctx, reason)).To(Succeed())
			Expect(faults.IsPermanentFault(m.LastFault())).To(BeTrue())
		})

		It("records the newer fault when already in error", func() {
			Expect(m.ForceError(ctx, errors.New("first"))).To(Succeed())
			Expect(m.ForceError(ctx, errors.New("second"))).To(Succeed())
			Expect(m.CurrentState()).To(Equal(state.Error))
			Expect(m.LastFault()).To(MatchError(ContainSubstring("second")))
		})
	})

	Describe("context discipline", func() {
		It("rejects commands on a cancelled context without touching the state", func() {
			cancelled, cancel := context.WithCancel(ctx)
			cancel()

			st, err := m.Apply(cancelled, process.CommandConfigure)
			Expect(err).To(MatchError(context.Canceled))
			Expect(st).To(Equal(state.Standby))
			Expect(m.CurrentState()).To(Equal(state.Standby))
		})
	})

	Describe("Snapshot", func() {
		It("captures state, last change and last fault as values", func() {
			driveTo(ctx, m, state.Running)
			Expect(m.ForceError(ctx, fmt.Errorf("watchdog timeout"))).To(Succeed())

			snap := m.Snapshot()
			Expect(snap.ID).To(Equal("test-machine"))
			Expect(snap.State).To(Equal(state.Error.String()))
			Expect(snap.LastFault).To(ContainSubstring("watchdog timeout"))
			Expect(snap.LastChange).NotTo(BeNil())
			Expect(snap.LastChange.From).To(Equal(state.Running))
			Expect(snap.LastChange.To).To(Equal(state.Error))
			Expect(snap.LastChange.Cause).To(Equal(process.CauseFault))
		})
	})

	Describe("notification", func() {
		It("publishes every transition with its command as cause", func() {
			notifier := process.NewNotifier()
			nm := newMachine(process.MachineConfig{Notifier: notifier})

			id, ch := notifier.Subscribe()
			defer notifier.Unsubscribe(id)

			_, err := nm.Apply(ctx, process.CommandConfigure)
			Expect(err).NotTo(HaveOccurred())

			var change process.StateChange
			Eventually(ch).Should(Receive(&change))
			Expect(change.MachineID).To(Equal(nm.ID()))
			Expect(change.From).To(Equal(state.Standby))
			Expect(change.To).To(Equal(state.Configured))
			Expect(change.Cause).To(Equal(string(process.CommandConfigure)))
		})
	})
})

var _ = Describe("ParseCommand", func() {
	It("round-trips every command in the vocabulary", func() {
		for _, cmd := range process.Commands() {
			parsed, ok := process.ParseCommand(string(cmd))
			Expect(ok).To(BeTrue())
			Expect(parsed).To(Equal(cmd))
		}
	})

	It("rejects unknown and wrongly cased names", func() {
		_, ok := process.ParseCommand("bogus")
		Expect(ok).To(BeFalse())

		_, ok = process.ParseCommand("Start")
		Expect(ok).To(BeFalse())
	})
})
