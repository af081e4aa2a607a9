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

package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/open-run-control/orc-core/pkg/logger"
	"github.com/open-run-control/orc-core/pkg/sentry"
	"github.com/open-run-control/orc-core/pkg/state"
)

const (
	// Component labels.
	ComponentBaseMachine    = "base_machine"
	ComponentProcessMachine = "process_machine"
	ComponentRunner         = "runner"
	ComponentNotifier       = "notifier"
	ComponentAPIServer      = "api_server"
	ComponentWatchdog       = "watchdog"
	ComponentConfigManager  = "config_manager"
)

var (
	// Namespace and subsystem for all metrics.
	namespace = "orc"
	subsystem = "core"

	// Error counters.
	errorCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "errors_total",
			Help:      "Total number of errors encountered by component",
		},
		[]string{"component", "machine"},
	)

	// Transition timing.
	transitionTime = promauto.NewSummaryVec(
		prometheus.SummaryOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "transition_duration_milliseconds",
			Help:      "Time taken to execute a command including its task hook (in milliseconds)",
			Objectives: map[float64]float64{
				0.5:  0.01, // 50th percentile with 1% error
				0.9:  0.01, // 90th percentile with 1% error
				0.99: 0.01, // 99th percentile with 1% error
			},
		},
		[]string{"machine", "command"},
	)

	// Machine state metric, encoded with the numeric state vocabulary
	// (1=standby, 2=configured, 3=running, 4=paused, 5=error, 6=done,
	// 0=undefined).
	machineCurrentState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "machine_current_state",
			Help:      "Current state of the machine (0=undefined, 1=standby, 2=configured, 3=running, 4=paused, 5=error, 6=done)",
		},
		[]string{"machine"},
	)

	// Rejected commands.
	invalidTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "invalid_transitions_total",
			Help:      "Total number of commands rejected because no edge leaves the current state",
		},
		[]string{"machine", "command"},
	)

	// Domain faults by category.
	faultCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "faults_total",
			Help:      "Total number of domain faults reported, by category",
		},
		[]string{"machine", "category"},
	)

	// Notifications dropped because a subscriber was not keeping up.
	droppedNotifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "dropped_notifications_total",
			Help:      "Total number of state change notifications dropped on slow subscribers",
		},
		[]string{"machine"},
	)
)

// SetupMetricsEndpoint starts an HTTP server to expose metrics.
// This should be called once at application startup.
func SetupMetricsEndpoint(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:        addr,
		Handler:     mux,
		ReadTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			sentry.ReportIssue(err, sentry.IssueTypeFatal, logger.For("metrics"))
		}
	}()

	return server
}

// IncErrorCountAndLog increments the error counter for a component and
// logs a debug message if a logger is provided.
func IncErrorCountAndLog(component, machine string, err error, log *zap.SugaredLogger) {
	IncErrorCount(component, machine)

	if log != nil {
		log.Debugf("Component %s machine %s failed: %v", component, machine, err)
	}
}

// IncErrorCount increments the error counter for a component.
func IncErrorCount(component, machine string) {
	errorCounter.WithLabelValues(component, machine).Inc()
}

// InitErrorCounter initializes the error counter for a component so the
// series exists before the first error.
func InitErrorCounter(component, machine string) {
	errorCounter.WithLabelValues(component, machine).Add(0)
}

// ObserveTransitionTime records the time taken to execute a command.
func ObserveTransitionTime(machine, command string, duration time.Duration) {
	transitionTime.WithLabelValues(machine, command).Observe(float64(duration.Milliseconds()))
}

// UpdateMachineState updates the current state metric for a machine.
func UpdateMachineState(machine string, current state.State) {
	machineCurrentState.WithLabelValues(machine).Set(float64(current))
}

// IncInvalidTransition counts a command rejected by the transition table.
func IncInvalidTransition(machine, command string) {
	invalidTransitions.WithLabelValues(machine, command).Inc()
}

// IncFault counts a reported domain fault by category.
func IncFault(machine, category string) {
	faultCounter.WithLabelValues(machine, category).Inc()
}

// IncDroppedNotification counts a notification dropped on a slow subscriber.
func IncDroppedNotification(machine string) {
	droppedNotifications.WithLabelValues(machine).Inc()
}
