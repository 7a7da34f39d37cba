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

package degradation

import "github.com/united-manufacturing-hub/motion-core/pkg/motionlimit"

// Multipliers are the three input gates of one degradation state.
type Multipliers struct {
	Power    float64 `yaml:"power" json:"power"`
	Steering float64 `yaml:"steering" json:"steering"`
	Speed    float64 `yaml:"speed" json:"speed"`
}

// Thresholds are the system error counts at which each state is entered.
type Thresholds struct {
	Degraded int `yaml:"degraded" json:"degraded"`
	Limp     int `yaml:"limp" json:"limp"`
	Critical int `yaml:"critical" json:"critical"`
}

// Config holds the degradation tunables.
type Config struct {
	Degraded        Multipliers `yaml:"degraded" json:"degraded"`
	Limp            Multipliers `yaml:"limp" json:"limp"`
	Critical        Multipliers `yaml:"critical" json:"critical"`
	ErrorThresholds Thresholds  `yaml:"errorThresholds" json:"errorThresholds"`
}

// DefaultConfig returns the stock tunables.
func DefaultConfig() Config {
	return Config{
		Degraded:        Multipliers{Power: 0.7, Steering: 0.85, Speed: 0.7},
		Limp:            Multipliers{Power: 0.4, Steering: 0.6, Speed: 0.35},
		Critical:        Multipliers{Power: 0.1, Steering: 0.3, Speed: 0.1},
		ErrorThresholds: Thresholds{Degraded: 3, Limp: 10, Critical: 25},
	}
}

// Sanitize returns cfg with every multiplier in [0,1], degraded >= limp >= critical per
// multiplier, and thresholds that are positive and non-decreasing.
func (cfg Config) Sanitize() Config {
	out := Config{
		Degraded: cfg.Degraded.clamp(),
		Limp:     cfg.Limp.clamp(),
		Critical: cfg.Critical.clamp(),
	}

	out.Limp = out.Limp.atMost(out.Degraded)
	out.Critical = out.Critical.atMost(out.Limp)

	th := cfg.ErrorThresholds
	th.Degraded = max(th.Degraded, 1)
	th.Limp = max(th.Limp, th.Degraded)
	th.Critical = max(th.Critical, th.Limp)
	out.ErrorThresholds = th

	return out
}

// For returns the multipliers of state s.
func (cfg Config) For(s State) Multipliers {
	switch s {
	case StateDegraded:
		return cfg.Degraded
	case StateLimp:
		return cfg.Limp
	case StateCritical:
		return cfg.Critical
	default:
		return Multipliers{Power: 1, Steering: 1, Speed: 1}
	}
}

func (m Multipliers) clamp() Multipliers {
	return Multipliers{
		Power:    motionlimit.Clamp01(m.Power),
		Steering: motionlimit.Clamp01(m.Steering),
		Speed:    motionlimit.Clamp01(m.Speed),
	}
}

func (m Multipliers) atMost(upper Multipliers) Multipliers {
	return Multipliers{
		Power:    min(m.Power, upper.Power),
		Steering: min(m.Steering, upper.Steering),
		Speed:    min(m.Speed, upper.Speed),
	}
}
