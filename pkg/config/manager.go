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

package config

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/open-run-control/orc-core/pkg/env"
	"github.com/open-run-control/orc-core/pkg/faults"
	"github.com/open-run-control/orc-core/pkg/logger"
)

// Environment variables that override file values. Overrides win so a
// deployment can correct a bad file without editing it.
const (
	EnvMachineID          = "ORC_MACHINE_ID"
	EnvRecoveryTarget     = "ORC_RECOVERY_TARGET"
	EnvTickInterval       = "ORC_TICK_INTERVAL"
	EnvAutoRecover        = "ORC_AUTO_RECOVER"
	EnvAPIAddress         = "ORC_API_ADDRESS"
	EnvMetricsAddress     = "ORC_METRICS_ADDRESS"
	EnvWatchdogEnabled    = "ORC_WATCHDOG_ENABLED"
	EnvMaxRecoveryBackoff = "ORC_MAX_RECOVERY_BACKOFF"
)

// ConfigManager provides the agent's configuration.
type ConfigManager interface {
	GetConfig(ctx context.Context) (Config, error)
}

// FileConfigManager loads the configuration from a YAML file on every
// call, skipping the re-parse via a content hash when the bytes did not
// change. A missing file yields the defaults; a broken file is a
// permanent fault.
type FileConfigManager struct {
	path string
	log  *zap.SugaredLogger

	mu sync.Mutex
	// cacheHash is xxhash.Sum64 of the raw file bytes the cached config
	// was parsed from.
	cacheHash uint64
	cache     Config
	cached    bool
}

// NewFileConfigManager creates a manager reading from path.
func NewFileConfigManager(path string) *FileConfigManager {
	return &FileConfigManager{
		path: path,
		log:  logger.For(logger.ComponentConfigManager),
	}
}

// GetConfig returns the current configuration: file values overlaid on
// the defaults, environment overrides overlaid on both.
func (m *FileConfigManager) GetConfig(ctx context.Context) (Config, error) {
	if ctx.Err() != nil {
		return Config{}, ctx.Err()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := os.ReadFile(m.path)
	if err != nil {
		if !os.IsNotExist(err) {
			return Config{}, faults.NewPermanentFault(fmt.Errorf("reading config file %s: %w", m.path, err))
		}

		m.log.Debugf("Config file %s does not exist, using defaults", m.path)

		return m.finalize(DefaultConfig())
	}

	sum := xxhash.Sum64(data)
	if m.cached && sum == m.cacheHash {
		return m.finalize(m.cache)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, faults.NewPermanentFault(fmt.Errorf("parsing config file %s: %w", m.path, err))
	}

	m.cache = cfg
	m.cacheHash = sum
	m.cached = true
	m.log.Infof("Loaded config from %s", m.path)

	return m.finalize(cfg)
}

// finalize applies environment overrides and validates. Overrides are
// applied after caching so a changed environment takes effect without a
// file change.
func (m *FileConfigManager) finalize(cfg Config) (Config, error) {
	if err := applyEnvOverrides(&cfg); err != nil {
		return Config{}, faults.NewPermanentFault(err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, faults.NewPermanentFault(err)
	}

	return cfg, nil
}

// applyEnvOverrides overlays ORC_* environment variables on cfg.
func applyEnvOverrides(cfg *Config) error {
	if v, _ := env.GetAsString(EnvMachineID, false, ""); v != "" {
		cfg.Machine.ID = v
	}

	if v, _ := env.GetAsString(EnvRecoveryTarget, false, ""); v != "" {
		cfg.Machine.RecoveryTarget = v
	}

	if v, _ := env.GetAsString(EnvAPIAddress, false, ""); v != "" {
		cfg.API.Address = v
	}

	if v, _ := env.GetAsString(EnvMetricsAddress, false, ""); v != "" {
		cfg.Metrics.Address = v
	}

	if os.Getenv(EnvTickInterval) != "" {
		v, err := env.GetAsDuration(EnvTickInterval, false, cfg.Runner.TickInterval.AsDuration())
		if err != nil {
			return err
		}
		cfg.Runner.TickInterval = Duration(v)
	}

	if os.Getenv(EnvMaxRecoveryBackoff) != "" {
		v, err := env.GetAsDuration(EnvMaxRecoveryBackoff, false, cfg.Runner.MaxRecoveryBackoff.AsDuration())
		if err != nil {
			return err
		}
		cfg.Runner.MaxRecoveryBackoff = Duration(v)
	}

	if os.Getenv(EnvAutoRecover) != "" {
		v, err := env.GetAsBool(EnvAutoRecover, false, cfg.Runner.AutoRecover)
		if err != nil {
			return err
		}
		cfg.Runner.AutoRecover = v
	}

	if os.Getenv(EnvWatchdogEnabled) != "" {
		v, err := env.GetAsBool(EnvWatchdogEnabled, false, cfg.Watchdog.Enabled)
		if err != nil {
			return err
		}
		cfg.Watchdog.Enabled = v
	}

	return nil
}

// WriteConfig serializes cfg to the manager's path, creating parent
// directories as needed. Used by tooling and tests, not the agent.
func (m *FileConfigManager) WriteConfig(ctx context.Context, cfg Config) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := os.WriteFile(m.path, data, 0o644); err != nil {
		return fmt.Errorf("writing config file %s: %w", m.path, err)
	}

	// Invalidate so the next GetConfig re-reads what was written.
	m.cached = false

	return nil
}

var _ ConfigManager = (*FileConfigManager)(nil)
