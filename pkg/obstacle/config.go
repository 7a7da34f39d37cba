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

package obstacle

import (
	"time"

	"github.com/united-manufacturing-hub/motion-core/pkg/motionlimit"
)

// Config holds the zone boundaries and factors. Distances are in millimetres.
type Config struct {
	EmergencyMM int `yaml:"emergencyMM" json:"emergencyMM"`
	CloseMM     int `yaml:"closeMM" json:"closeMM"`
	NearMM      int `yaml:"nearMM" json:"nearMM"`
	MidMM       int `yaml:"midMM" json:"midMM"`
	FarMM       int `yaml:"farMM" json:"farMM"`

	// Zone 4 interpolates between CloseMinFactor at EmergencyMM and CloseMaxFactor at CloseMM.
	CloseMinFactor float64 `yaml:"closeMinFactor" json:"closeMinFactor"`
	CloseMaxFactor float64 `yaml:"closeMaxFactor" json:"closeMaxFactor"`

	NearReactedFactor float64 `yaml:"nearReactedFactor" json:"nearReactedFactor"`
	NearForcedFactor  float64 `yaml:"nearForcedFactor" json:"nearForcedFactor"`
	MidGentleFactor   float64 `yaml:"midGentleFactor" json:"midGentleFactor"`

	// ReactionDropPercent is the pedal drop within ReactionWindow that counts as "the driver reacted".
	ReactionDropPercent float64       `yaml:"reactionDropPercent" json:"reactionDropPercent"`
	ReactionWindow      time.Duration `yaml:"-" json:"reactionWindow"`
}

// DefaultConfig returns the stock zone table.
func DefaultConfig() Config {
	return Config{
		EmergencyMM:         200,
		CloseMM:             500,
		NearMM:              1000,
		MidMM:               1500,
		FarMM:               4000,
		CloseMinFactor:      0.1,
		CloseMaxFactor:      0.4,
		NearReactedFactor:   0.7,
		NearForcedFactor:    0.4,
		MidGentleFactor:     0.9,
		ReactionDropPercent: 10,
		ReactionWindow:      500 * time.Millisecond,
	}
}

// Sanitize clamps every factor to [0,1] and makes the boundaries strictly increasing.
func (cfg Config) Sanitize() Config {
	def := DefaultConfig()

	if cfg.EmergencyMM <= 0 {
		cfg.EmergencyMM = def.EmergencyMM
	}

	cfg.CloseMM = max(cfg.CloseMM, cfg.EmergencyMM+1)
	cfg.NearMM = max(cfg.NearMM, cfg.CloseMM+1)
	cfg.MidMM = max(cfg.MidMM, cfg.NearMM+1)
	cfg.FarMM = max(cfg.FarMM, cfg.MidMM)

	cfg.CloseMinFactor = motionlimit.Clamp01(cfg.CloseMinFactor)
	cfg.CloseMaxFactor = max(motionlimit.Clamp01(cfg.CloseMaxFactor), cfg.CloseMinFactor)
	cfg.NearReactedFactor = motionlimit.Clamp01(cfg.NearReactedFactor)
	cfg.NearForcedFactor = motionlimit.Clamp01(cfg.NearForcedFactor)
	cfg.MidGentleFactor = motionlimit.Clamp01(cfg.MidGentleFactor)

	if cfg.ReactionDropPercent <= 0 {
		cfg.ReactionDropPercent = def.ReactionDropPercent
	}

	if cfg.ReactionWindow <= 0 {
		cfg.ReactionWindow = def.ReactionWindow
	}

	return cfg
}
