// Copyright 2025 UMH Systems GmbH
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
	"errors"
	"fmt"
	"io/fs"
	"os"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/united-manufacturing-hub/motion-core/pkg/env"
)

// DefaultConfigPath is used when CONFIG_PATH is not set.
const DefaultConfigPath = "/data/config.yaml"

// Load reads the config at path on top of DefaultConfig, applies the environment overrides and validates the result.
// A missing file is not an error.
func Load(path string, log *zap.SugaredLogger) (FullConfig, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)

	switch {
	case errors.Is(err, fs.ErrNotExist):
		if log != nil {
			log.Infof("No config at %s, using defaults", path)
		}
	case err != nil:
		return FullConfig{}, fmt.Errorf("failed to read config %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return FullConfig{}, fmt.Errorf("%w: failed to parse %s: %w", ErrInvalidConfig, path, err)
		}
	}

	cfg, err = ApplyEnv(cfg)
	if err != nil {
		return FullConfig{}, err
	}

	if err := cfg.Validate(); err != nil {
		return FullConfig{}, err
	}

	return cfg, nil
}

// ApplyEnv overrides the agent section from METRICS_PORT, API_PORT, HAL_BACKEND and SENTRY_DSN,
// and the failsafe timeout from HEARTBEAT_TIMEOUT.
func ApplyEnv(cfg FullConfig) (FullConfig, error) {
	heartbeat, err := env.GetAsDuration("HEARTBEAT_TIMEOUT", false, 0)
	if err != nil {
		return cfg, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	if heartbeat != 0 {
		cfg.Control.HeartbeatTimeout = heartbeat.String()
	}

	if cfg.Agent.MetricsPort, err = env.GetAsInt("METRICS_PORT", false, cfg.Agent.MetricsPort); err != nil {
		return cfg, err
	}

	if cfg.Agent.APIPort, err = env.GetAsInt("API_PORT", false, cfg.Agent.APIPort); err != nil {
		return cfg, err
	}

	if cfg.Agent.HALBackend, err = env.GetAsString("HAL_BACKEND", false, cfg.Agent.HALBackend); err != nil {
		return cfg, err
	}

	if cfg.Agent.SentryDSN, err = env.GetAsString("SENTRY_DSN", false, cfg.Agent.SentryDSN); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// Write stores cfg at path, replacing the file atomically.
func Write(path string, cfg FullConfig) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return os.Rename(tmp, path)
}
