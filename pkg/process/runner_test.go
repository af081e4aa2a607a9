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
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap/zaptest"

	"github.com/open-run-control/orc-core/pkg/faults"
	"github.com/open-run-control/orc-core/pkg/process"
	"github.com/open-run-control/orc-core/pkg/state"
)

// recordingTask counts hook invocations and fails on demand.
type recordingTask struct {
	process.NopTask

	mu    sync.Mutex
	calls map[string]int

	iterations atomic.Int64

	failConfigure error
	failRecover   error
	failCheck     atomic.Pointer[error]

	onStart func()
}

func newRecordingTask() *recordingTask {
	return &recordingTask{calls: make(map[string]int)}
}

func (t *recordingTask) record(hook string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls[hook]++
}

func (t *recordingTask) callCount(hook string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.calls[hook]
}

func (t *recordingTask) Configure(ctx context.Context) error {
	t.record("configure")

	return t.failConfigure
}

func (t *recordingTask) Start(ctx context.Context) error {
	t.record("start")
	if t.onStart != nil {
		t.onStart()
	}

	return nil
}

func (t *recordingTask) Recover(ctx context.Context) error {
	t.record("recover")

	return t.failRecover
}

func (t *recordingTask) IterateRunning(ctx context.Context) error {
	t.iterations.Add(1)

	return nil
}

func (t *recordingTask) PeriodicCheck(ctx context.Context) error {
	if errp := t.failCheck.Load(); errp != nil {
		t.failCheck.Store(nil)

		return *errp
	}

	return nil
}

var _ = Describe("Runner", func() {
	var (
		ctx    context.Context
		cancel context.CancelFunc
		task   *recordingTask
		runner *process.Runner
		done   chan struct{}
	)

	// startRunner builds a machine plus runner around task and starts the
	// loop. Registered as a helper so individual specs can tweak the
	// config first.
	startRunner := func(cfg process.RunnerConfig) {
		GinkgoHelper()

		m, err := process.NewMachine(process.MachineConfig{
			Logger: zaptest.NewLogger(GinkgoT()).Sugar(),
		})
		Expect(err).NotTo(HaveOccurred())

		cfg.Logger = zaptest.NewLogger(GinkgoT()).Sugar()
		if cfg.TickInterval == 0 {
			cfg.TickInterval = 5 * time.Millisecond
		}

		runner = process.NewRunner(m, task, cfg)
		done = make(chan struct{})

		go func() {
			defer GinkgoRecover()
			defer close(done)
			Expect(runner.Execute(ctx)).To(Succeed())
		}()
	}

	BeforeEach(func() {
		ctx, cancel = context.WithCancel(context.Background())
		task = newRecordingTask()
	})

	AfterEach(func() {
		cancel()
		if done != nil {
			Eventually(done).Should(BeClosed())
		}
	})

	It("executes submitted commands through their hooks", func() {
		startRunner(process.RunnerConfig{})

		st, err := runner.Submit(ctx, process.CommandConfigure)
		Expect(err).NotTo(HaveOccurred())
		Expect(st).To(Equal(state.Configured))
		Expect(task.callCount("configure")).To(Equal(1))

		st, err = runner.Submit(ctx, process.CommandStart)
		Expect(err).NotTo(HaveOccurred())
		Expect(st).To(Equal(state.Running))
		Expect(task.callCount("start")).To(Equal(1))
	})

	It("skips the hook for commands the current state does not admit", func() {
		startRunner(process.RunnerConfig{})

		_, err := runner.Submit(ctx, process.CommandStart)
		Expect(process.IsInvalidTransition(err)).To(BeTrue())
		Expect(task.callCount("start")).To(BeZero())
		Expect(runner.Machine().CurrentState()).To(Equal(state.Standby))
	})

	It("forces the machine to error when a hook fails", func() {
		task.failConfigure = errors.New("config rejected by device")
		startRunner(process.RunnerConfig{})

		_, err := runner.Submit(ctx, process.CommandConfigure)
		Expect(err).To(HaveOccurred())
		Expect(runner.Machine().CurrentState()).To(Equal(state.Error))
		Expect(runner.Machine().LastFault()).To(MatchError(ContainSubstring("config rejected")))
	})

	It("iterates the task while running", func() {
		startRunner(process.RunnerConfig{})

		_, err := runner.Submit(ctx, process.CommandConfigure)
		Expect(err).NotTo(HaveOccurred())
		_, err = runner.Submit(ctx, process.CommandStart)
		Expect(err).NotTo(HaveOccurred())

		Eventually(func() int64 { return task.iterations.Load() }).
			Should(BeNumerically(">", 2))
	})

	It("turns a failing periodic check into a domain fault", func() {
		startRunner(process.RunnerConfig{})

		checkErr := errors.New("collaborator unreachable")
		task.failCheck.Store(&checkErr)

		Eventually(func() state.State { return runner.Machine().CurrentState() }).
			Should(Equal(state.Error))
	})

	It("drives out-of-band faults into the machine", func() {
		startRunner(process.RunnerConfig{})

		runner.Fault(errors.New("watchdog timeout"))

		Eventually(func() state.State { return runner.Machine().CurrentState() }).
			Should(Equal(state.Error))
		Expect(runner.Machine().LastFault()).To(MatchError(ContainSubstring("watchdog timeout")))
	})

	It("does not force the error state for advisory faults", func() {
		startRunner(process.RunnerConfig{})

		runner.Fault(faults.NewAdvisoryFault(errors.New("memory usage elevated")))

		Consistently(func() state.State { return runner.Machine().CurrentState() }, "50ms").
			Should(Equal(state.Standby))
	})

	It("automatically recovers from transient faults", func() {
		startRunner(process.RunnerConfig{
			AutoRecover:        true,
			MaxRecoveryBackoff: 20 * time.Millisecond,
		})

		runner.Fault(faults.NewTransientFault(errors.New("flaky link")))

		Eventually(func() state.State { return runner.Machine().CurrentState() }).
			Should(Equal(state.Error))
		Eventually(func() state.State { return runner.Machine().CurrentState() }, "2s").
			Should(Equal(state.Standby))
		Expect(task.callCount("recover")).To(BeNumerically(">=", 1))
	})

	It("leaves permanent faults for the operator", func() {
		startRunner(process.RunnerConfig{
			AutoRecover:        true,
			MaxRecoveryBackoff: 20 * time.Millisecond,
		})

		runner.Fault(faults.NewPermanentFault(errors.New("broken configuration")))

		Eventually(func() state.State { return runner.Machine().CurrentState() }).
			Should(Equal(state.Error))
		Consistently(func() state.State { return runner.Machine().CurrentState() }, "100ms").
			Should(Equal(state.Error))
		Expect(task.callCount("recover")).To(BeZero())
	})

	It("keeps the machine in error when the recover hook fails", func() {
		task.failRecover = errors.New("cleanup failed")
		startRunner(process.RunnerConfig{})

		_, err := runner.Submit(ctx, process.CommandFail)
		Expect(err).NotTo(HaveOccurred())
		Expect(runner.Machine().CurrentState()).To(Equal(state.Error))

		_, err = runner.Submit(ctx, process.CommandRecover)
		Expect(err).To(HaveOccurred())
		Expect(runner.Machine().CurrentState()).To(Equal(state.Error))
	})

	It("updates the snapshot after every executed command", func() {
		startRunner(process.RunnerConfig{})

		_, err := runner.Submit(ctx, process.CommandConfigure)
		Expect(err).NotTo(HaveOccurred())

		snap := runner.Snapshots().Get()
		Expect(snap).NotTo(BeNil())
		Expect(snap.State).To(Equal(state.Configured.String()))
	})

	It("reports the command's own outcome when shutdown races the reply", func() {
		startRunner(process.RunnerConfig{})

		_, err := runner.Submit(context.Background(), process.CommandConfigure)
		Expect(err).NotTo(HaveOccurred())

		// Cancelling from inside the hook makes the loop exit right
		// after it buffered the reply, so the stopped signal and the
		// reply race inside Submit.
		task.onStart = cancel

		_, err = runner.Submit(context.Background(), process.CommandStart)
		Expect(err).NotTo(MatchError(process.ErrRunnerStopped))
		Expect(task.callCount("start")).To(Equal(1))
		Eventually(done).Should(BeClosed())
	})

	It("rejects submissions after shutdown", func() {
		startRunner(process.RunnerConfig{})

		cancel()
		Eventually(done).Should(BeClosed())

		_, err := runner.Submit(context.Background(), process.CommandConfigure)
		Expect(err).To(MatchError(process.ErrRunnerStopped))
	})
})
