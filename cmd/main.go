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

package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/open-run-control/orc-core/pkg/api"
	"github.com/open-run-control/orc-core/pkg/config"
	"github.com/open-run-control/orc-core/pkg/constants"
	"github.com/open-run-control/orc-core/pkg/logger"
	"github.com/open-run-control/orc-core/pkg/metrics"
	"github.com/open-run-control/orc-core/pkg/process"
	"github.com/open-run-control/orc-core/pkg/sentry"
	"github.com/open-run-control/orc-core/pkg/watchdog"
)

// appVersion is stamped via -ldflags at release time; the default marks
// a local build and keeps crash reporting disabled.
var appVersion = constants.DefaultAppVersion

func main() {
	configPath := flag.String("config", "orc-core.yaml", "path to the configuration file")
	debug := flag.Bool("debug", false, "enable debug logging on the control API")
	flag.Parse()

	// Initialize the global logger first thing
	logger.Initialize()

	sentry.InitSentry(appVersion)

	log := logger.For(logger.ComponentCore)
	log.Infof("Starting orc-core %s...", appVersion)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Load the config
	configManager := config.NewFileConfigManager(*configPath)

	cfg, err := configManager.GetConfig(ctx)
	if err != nil {
		sentry.ReportIssuef(sentry.IssueTypeFatal, log, "Failed to load config: %s", err)
		os.Exit(1)
	}

	// Start the metrics server
	metricsServer := metrics.SetupMetricsEndpoint(cfg.Metrics.Address)
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), constants.DefaultShutdownTimeout)
		defer shutdownCancel()

		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			sentry.ReportIssuef(sentry.IssueTypeError, log, "Failed to shutdown metrics server: %s", err)
		}
	}()

	// Wire the machine, its notifier and the runner. The daemon controls
	// its own process: the task hooks are no-ops and the lifecycle is
	// driven entirely over the control API.
	notifier := process.NewNotifier()

	machine, err := process.NewMachine(process.MachineConfig{
		ID:             cfg.Machine.ID,
		RecoveryTarget: cfg.RecoveryTarget(),
		Notifier:       notifier,
	})
	if err != nil {
		sentry.ReportIssuef(sentry.IssueTypeFatal, log, "Failed to create machine: %s", err)
		os.Exit(1)
	}

	runner := process.NewRunner(machine, process.NopTask{}, process.RunnerConfig{
		TickInterval:       cfg.Runner.TickInterval.AsDuration(),
		AutoRecover:        cfg.Runner.AutoRecover,
		MaxRecoveryBackoff: cfg.Runner.MaxRecoveryBackoff.AsDuration(),
	})

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return runner.Execute(groupCtx)
	})

	var dog *watchdog.Watchdog
	if cfg.Watchdog.Enabled {
		dog = watchdog.NewWatchdog(cfg.Watchdog, runner)
		group.Go(func() error {
			return dog.Execute(groupCtx)
		})
	}

	apiServer := api.NewServer(api.ServerConfig{
		Address:  cfg.API.Address,
		Runner:   runner,
		Notifier: notifier,
		Watchdog: dog,
		Version:  appVersion,
		Debug:    *debug,
	})
	group.Go(func() error {
		return apiServer.Execute(groupCtx)
	})

	log.Infof("orc-core running: machine %s, API %s, metrics %s",
		machine.ID(), cfg.API.Address, cfg.Metrics.Address)

	if err := group.Wait(); err != nil {
		sentry.ReportIssue(err, sentry.IssueTypeError, log)
		log.Errorf("orc-core exited with error: %v", err)

		// Give crash reporting a moment to flush before the process ends.
		time.Sleep(100 * time.Millisecond)
		os.Exit(1)
	}

	log.Info("orc-core stopped")
}
