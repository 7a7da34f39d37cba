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

package following

import (
	"math"
	"time"

	"github.com/united-manufacturing-hub/motion-core/pkg/constants"
)

// Config holds the following controller tunables. Distances are in millimetres.
type Config struct {
	TargetDistanceMM float64 `yaml:"targetDistanceMM" json:"targetDistanceMM"`

	Kp float64 `yaml:"kp" json:"kp"`
	Ki float64 `yaml:"ki" json:"ki"`
	Kd float64 `yaml:"kd" json:"kd"`

	// IntegralLimit bounds the integral term in mm·s.
	IntegralLimit float64 `yaml:"integralLimit" json:"integralLimit"`

	// MaxReduction is the largest slowdown the PID alone may request, adjustment >= 1-MaxReduction.
	MaxReduction float64 `yaml:"maxReduction" json:"maxReduction"`

	EmergencyDistanceMM int `yaml:"emergencyDistanceMM" json:"emergencyDistanceMM"`
	MaxRangeMM          int `yaml:"maxRangeMM" json:"maxRangeMM"`

	TargetLostTimeout time.Duration `yaml:"-" json:"targetLostTimeout"`
	TickInterval      time.Duration `yaml:"-" json:"tickInterval"`
}

// DefaultConfig returns the stock tunables.
func DefaultConfig() Config {
	return Config{
		TargetDistanceMM:    1000,
		Kp:                  2.0,
		Ki:                  0.5,
		Kd:                  0.1,
		IntegralLimit:       500,
		MaxReduction:        0.8,
		EmergencyDistanceMM: 300,
		MaxRangeMM:          4000,
		TargetLostTimeout:   2 * time.Second,
		TickInterval:        constants.FollowingTickInterval,
	}
}

// Sanitize replaces nonsense with defaults and clamps MaxReduction to [0,1].
func (cfg Config) Sanitize() Config {
	def := DefaultConfig()

	if !finitePositive(cfg.TargetDistanceMM) {
		cfg.TargetDistanceMM = def.TargetDistanceMM
	}

	for _, g := range []*float64{&cfg.Kp, &cfg.Ki, &cfg.Kd} {
		if math.IsNaN(*g) || math.IsInf(*g, 0) || *g < 0 {
			*g = 0
		}
	}

	if !finitePositive(cfg.IntegralLimit) {
		cfg.IntegralLimit = def.IntegralLimit
	}

	if math.IsNaN(cfg.MaxReduction) || cfg.MaxReduction < 0 {
		cfg.MaxReduction = 0
	} else if cfg.MaxReduction > 1 {
		cfg.MaxReduction = 1
	}

	if cfg.EmergencyDistanceMM <= 0 {
		cfg.EmergencyDistanceMM = def.EmergencyDistanceMM
	}

	if cfg.MaxRangeMM <= cfg.EmergencyDistanceMM {
		cfg.MaxRangeMM = max(def.MaxRangeMM, cfg.EmergencyDistanceMM+1)
	}

	if cfg.TargetLostTimeout <= 0 {
		cfg.TargetLostTimeout = def.TargetLostTimeout
	}

	if cfg.TickInterval <= 0 {
		cfg.TickInterval = def.TickInterval
	}

	return cfg
}

func finitePositive(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0) && x > 0
}
