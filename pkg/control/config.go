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

package control

import (
	"math"
	"time"

	"github.com/united-manufacturing-hub/motion-core/pkg/constants"
	"github.com/united-manufacturing-hub/motion-core/pkg/degradation"
	"github.com/united-manufacturing-hub/motion-core/pkg/following"
	"github.com/united-manufacturing-hub/motion-core/pkg/motionlimit"
	"github.com/united-manufacturing-hub/motion-core/pkg/obstacle"
)

// BatteryConfig sets the pack voltage limits. PackChannel is the power channel that measures the pack.
type BatteryConfig struct {
	PackChannel      int     `json:"packChannel"`
	LowVoltageV      float64 `json:"lowVoltageV"`
	CriticalVoltageV float64 `json:"criticalVoltageV"`
}

// BusRecoveryConfig sets the retry schedule of the I2C bus recovery.
type BusRecoveryConfig struct {
	MaxRetries      uint64        `json:"maxRetries"`
	InitialInterval time.Duration `json:"initialInterval"`
	MaxInterval     time.Duration `json:"maxInterval"`
}

// Config is the runtime configuration of the pipeline.
type Config struct {
	Degradation degradation.Config    `json:"degradation"`
	Obstacle    obstacle.Config       `json:"obstacle"`
	Following   following.Config      `json:"following"`
	Gears       motionlimit.GearTable `json:"gears"`

	HeartbeatTimeout time.Duration `json:"heartbeatTimeout"`
	SensorMaxAge     time.Duration `json:"sensorMaxAge"`
	MaxSpeedKmh      float64       `json:"maxSpeedKmh"`

	Battery             BatteryConfig     `json:"battery"`
	TemperatureWarningC float64           `json:"temperatureWarningC"`
	SteeringCenterBand  float64           `json:"steeringCenterBand"`
	FollowStepMM        float64           `json:"followStepMM"`
	BusRecovery         BusRecoveryConfig `json:"busRecovery"`
}

// DefaultConfig returns the stock configuration for a 24 V vehicle.
func DefaultConfig() Config {
	return Config{
		Degradation:      degradation.DefaultConfig(),
		Obstacle:         obstacle.DefaultConfig(),
		Following:        following.DefaultConfig(),
		Gears:            motionlimit.DefaultGearTable(),
		HeartbeatTimeout: constants.HeartbeatTimeout,
		SensorMaxAge:     constants.SensorSnapshotMaxAge,
		MaxSpeedKmh:      6,
		Battery: BatteryConfig{
			PackChannel:      0,
			LowVoltageV:      21,
			CriticalVoltageV: 19.5,
		},
		TemperatureWarningC: 70,
		SteeringCenterBand:  5,
		FollowStepMM:        100,
		BusRecovery: BusRecoveryConfig{
			MaxRetries:      5,
			InitialInterval: 100 * time.Millisecond,
			MaxInterval:     2 * time.Second,
		},
	}
}

// Sanitize replaces unusable pipeline values with defaults. The component sections
// are sanitized by the components themselves when applied.
func (cfg Config) Sanitize() Config {
	def := DefaultConfig()

	if len(cfg.Gears) == 0 {
		cfg.Gears = def.Gears
	}

	cfg.Gears = cfg.Gears.Clone()

	if cfg.HeartbeatTimeout <= 0 {
		cfg.HeartbeatTimeout = def.HeartbeatTimeout
	}

	if cfg.SensorMaxAge <= 0 {
		cfg.SensorMaxAge = def.SensorMaxAge
	}

	if !positive(cfg.MaxSpeedKmh) {
		cfg.MaxSpeedKmh = def.MaxSpeedKmh
	}

	if cfg.Battery.PackChannel < 0 || cfg.Battery.PackChannel >= 6 {
		cfg.Battery.PackChannel = def.Battery.PackChannel
	}

	if !positive(cfg.Battery.LowVoltageV) {
		cfg.Battery.LowVoltageV = def.Battery.LowVoltageV
	}

	if !positive(cfg.Battery.CriticalVoltageV) || cfg.Battery.CriticalVoltageV > cfg.Battery.LowVoltageV {
		cfg.Battery.CriticalVoltageV = cfg.Battery.LowVoltageV
	}

	if !positive(cfg.TemperatureWarningC) {
		cfg.TemperatureWarningC = def.TemperatureWarningC
	}

	if math.IsNaN(cfg.SteeringCenterBand) || cfg.SteeringCenterBand < 0 {
		cfg.SteeringCenterBand = def.SteeringCenterBand
	}

	if !positive(cfg.FollowStepMM) {
		cfg.FollowStepMM = def.FollowStepMM
	}

	if cfg.BusRecovery.MaxRetries == 0 {
		cfg.BusRecovery.MaxRetries = def.BusRecovery.MaxRetries
	}

	if cfg.BusRecovery.InitialInterval <= 0 {
		cfg.BusRecovery.InitialInterval = def.BusRecovery.InitialInterval
	}

	if cfg.BusRecovery.MaxInterval < cfg.BusRecovery.InitialInterval {
		cfg.BusRecovery.MaxInterval = cfg.BusRecovery.InitialInterval
	}

	return cfg
}

func positive(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0) && x > 0
}
