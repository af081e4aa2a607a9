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

// Package config defines the agent's YAML configuration and the manager
// that loads it, with environment overrides winning over file values.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/open-run-control/orc-core/pkg/constants"
	"github.com/open-run-control/orc-core/pkg/state"
)

// Duration wraps time.Duration with YAML support for strings like
// "100ms" or "1m30s".
type Duration time.Duration

// AsDuration returns the wrapped time.Duration.
func (d Duration) AsDuration() time.Duration {
	return time.Duration(d)
}

// UnmarshalYAML decodes a Go duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("duration must be a string like \"100ms\": %w", err)
	}

	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}

	*d = Duration(parsed)

	return nil
}

// MarshalYAML encodes the duration back to its string form.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Config is the full agent configuration.
type Config struct {
	Machine  MachineConfig     `yaml:"machine"`
	Runner   RunnerConfig      `yaml:"runner"`
	API      APIConfig         `yaml:"api"`
	Metrics  MetricsConfig     `yaml:"metrics"`
	Watchdog WatchdogConfig    `yaml:"watchdog"`
	Location map[string]string `yaml:"location,omitempty"`
}

// MachineConfig configures the lifecycle machine.
type MachineConfig struct {
	// ID identifies this controlled process in logs, metrics and status
	// reports. Generated when empty.
	ID string `yaml:"id,omitempty"`

	// RecoveryTarget is the state the recover command leads to from
	// error: "standby" (default) or "configured".
	RecoveryTarget string `yaml:"recoveryTarget,omitempty"`
}

// RunnerConfig configures the control loop.
type RunnerConfig struct {
	TickInterval       Duration `yaml:"tickInterval,omitempty"`
	MaxRecoveryBackoff Duration `yaml:"maxRecoveryBackoff,omitempty"`
	AutoRecover        bool     `yaml:"autoRecover"`
}

// APIConfig configures the control API server.
type APIConfig struct {
	Address string `yaml:"address,omitempty"`
}

// MetricsConfig configures the metrics endpoint.
type MetricsConfig struct {
	Address string `yaml:"address,omitempty"`
}

// WatchdogConfig configures process supervision.
type WatchdogConfig struct {
	// PID of the supervised process; 0 means the agent's own process.
	PID int32 `yaml:"pid,omitempty"`

	// MaxMemoryBytes forces a fault when the supervised process's RSS
	// exceeds it. 0 disables the check.
	MaxMemoryBytes uint64 `yaml:"maxMemoryBytes,omitempty"`

	// MaxCPUPercent forces a fault when CPU usage exceeds it. 0 disables
	// the check.
	MaxCPUPercent float64 `yaml:"maxCpuPercent,omitempty"`

	CheckInterval Duration `yaml:"checkInterval,omitempty"`
	Enabled       bool     `yaml:"enabled"`
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() Config {
	return Config{
		Machine: MachineConfig{
			RecoveryTarget: state.Standby.String(),
		},
		Runner: RunnerConfig{
			TickInterval:       Duration(constants.DefaultTickInterval),
			MaxRecoveryBackoff: Duration(constants.DefaultMaxRecoveryBackoff),
			AutoRecover:        true,
		},
		API: APIConfig{
			Address: constants.DefaultAPIAddress,
		},
		Metrics: MetricsConfig{
			Address: constants.DefaultMetricsAddress,
		},
		Watchdog: WatchdogConfig{
			Enabled:       true,
			CheckInterval: Duration(constants.DefaultWatchdogInterval),
		},
	}
}

// RecoveryTarget parses the configured recovery target state.
func (c *Config) RecoveryTarget() state.State {
	s, _ := state.ParseState(c.Machine.RecoveryTarget)

	return s
}

// Validate rejects configurations the agent cannot run with.
func (c *Config) Validate() error {
	if c.Machine.RecoveryTarget != "" {
		target, ok := state.ParseState(c.Machine.RecoveryTarget)
		if !ok || (target != state.Standby && target != state.Configured) {
			return fmt.Errorf("machine.recoveryTarget %q: valid targets are %q and %q",
				c.Machine.RecoveryTarget, state.Standby, state.Configured)
		}
	}

	if c.Runner.TickInterval.AsDuration() <= 0 {
		return fmt.Errorf("runner.tickInterval must be positive, got %s", c.Runner.TickInterval.AsDuration())
	}

	if c.Runner.MaxRecoveryBackoff.AsDuration() <= 0 {
		return fmt.Errorf("runner.maxRecoveryBackoff must be positive, got %s", c.Runner.MaxRecoveryBackoff.AsDuration())
	}

	if c.Watchdog.Enabled && c.Watchdog.CheckInterval.AsDuration() <= 0 {
		return fmt.Errorf("watchdog.checkInterval must be positive, got %s", c.Watchdog.CheckInterval.AsDuration())
	}

	return nil
}
