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

// Package watchdog supervises the controlled OS process and reports
// breaches as domain faults. It is the detector for faults the command
// protocol cannot see: the process vanishing, runaway memory, pegged
// CPU.
package watchdog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	gopsproc "github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"

	"github.com/open-run-control/orc-core/pkg/config"
	"github.com/open-run-control/orc-core/pkg/faults"
	"github.com/open-run-control/orc-core/pkg/logger"
	"github.com/open-run-control/orc-core/pkg/metrics"
	"github.com/open-run-control/orc-core/pkg/process"
)

// FaultSink receives the faults the watchdog detects. The runner's
// out-of-band fault intake satisfies it.
type FaultSink interface {
	Fault(reason error)
}

var _ FaultSink = (*process.Runner)(nil)

// Sample is one observation of the supervised process.
type Sample struct {
	TakenAt    time.Time `json:"takenAt"`
	PID        int32     `json:"pid"`
	Alive      bool      `json:"alive"`
	RSSBytes   uint64    `json:"rssBytes"`
	CPUPercent float64   `json:"cpuPercent"`
}

// Watchdog samples one OS process on a fixed interval and feeds
// threshold breaches into its fault sink. A vanished process is a
// permanent fault; resource breaches are transient, since recovery can
// plausibly clear them.
type Watchdog struct {
	cfg  config.WatchdogConfig
	pid  int32
	sink FaultSink
	log  *zap.SugaredLogger

	mu   sync.RWMutex
	last *Sample
}

// NewWatchdog creates a watchdog for the process named in cfg; a zero
// PID supervises the agent's own process.
func NewWatchdog(cfg config.WatchdogConfig, sink FaultSink) *Watchdog {
	pid := cfg.PID
	if pid == 0 {
		pid = int32(os.Getpid())
	}

	return &Watchdog{
		cfg:  cfg,
		pid:  pid,
		sink: sink,
		log:  logger.For(logger.ComponentWatchdog),
	}
}

// Execute runs the sampling loop until ctx is cancelled.
func (w *Watchdog) Execute(ctx context.Context) error {
	w.log.Infof("Watchdog starting for pid %d (interval %s)", w.pid, w.cfg.CheckInterval.AsDuration())

	ticker := time.NewTicker(w.cfg.CheckInterval.AsDuration())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info("Watchdog stopping")

			return nil
		case <-ticker.C:
			w.check(ctx)
		}
	}
}

// check takes one sample and reports breaches.
func (w *Watchdog) check(ctx context.Context) {
	sample := Sample{TakenAt: time.Now(), PID: w.pid}
	defer w.store(&sample)

	proc, err := gopsproc.NewProcessWithContext(ctx, w.pid)
	if err != nil {
		w.reportVanished(err)

		return
	}

	alive, err := proc.IsRunningWithContext(ctx)
	if err != nil || !alive {
		w.reportVanished(err)

		return
	}
	sample.Alive = true

	if mem, err := proc.MemoryInfoWithContext(ctx); err == nil && mem != nil {
		sample.RSSBytes = mem.RSS
		if w.cfg.MaxMemoryBytes > 0 && mem.RSS > w.cfg.MaxMemoryBytes {
			w.sink.Fault(faults.NewTransientFault(
				fmt.Errorf("process %d memory %d bytes exceeds limit %d", w.pid, mem.RSS, w.cfg.MaxMemoryBytes)))
		}
	} else if err != nil {
		metrics.IncErrorCount(metrics.ComponentWatchdog, fmt.Sprint(w.pid))
		w.log.Debugf("Memory sample for pid %d failed: %v", w.pid, err)
	}

	if cpu, err := proc.CPUPercentWithContext(ctx); err == nil {
		sample.CPUPercent = cpu
		if w.cfg.MaxCPUPercent > 0 && cpu > w.cfg.MaxCPUPercent {
			w.sink.Fault(faults.NewTransientFault(
				fmt.Errorf("process %d CPU %.1f%% exceeds limit %.1f%%", w.pid, cpu, w.cfg.MaxCPUPercent)))
		}
	} else {
		metrics.IncErrorCount(metrics.ComponentWatchdog, fmt.Sprint(w.pid))
		w.log.Debugf("CPU sample for pid %d failed: %v", w.pid, err)
	}
}

// reportVanished reports the supervised process as gone. That is not
// recoverable by a state transition, so the fault is permanent.
func (w *Watchdog) reportVanished(cause error) {
	if cause == nil {
		cause = errors.New("process reported not running")
	}

	metrics.IncErrorCount(metrics.ComponentWatchdog, fmt.Sprint(w.pid))
	w.log.Errorf("Supervised process %d is gone: %v", w.pid, cause)
	w.sink.Fault(faults.NewPermanentFault(
		fmt.Errorf("supervised process %d is not running: %w", w.pid, cause)))
}

// store records the most recent sample.
func (w *Watchdog) store(sample *Sample) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.last = sample
}

// LastSample returns a copy of the most recent sample, or nil before
// the first check ran.
func (w *Watchdog) LastSample() *Sample {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.last == nil {
		return nil
	}

	sample := *w.last

	return &sample
}
