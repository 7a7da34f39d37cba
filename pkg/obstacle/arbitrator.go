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

// Package obstacle maps the nearest ranging distance to one of six zones and a speed factor.
package obstacle

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/motion-core/pkg/constants"
	"github.com/united-manufacturing-hub/motion-core/pkg/logger"
	"github.com/united-manufacturing-hub/motion-core/pkg/metrics"
)

// Zone 0 is clear, zone 5 is an emergency stop.
type Zone int

const (
	ZoneClear Zone = iota
	ZoneAlert
	ZoneMid
	ZoneNear
	ZoneClose
	ZoneEmergency
)

func (z Zone) String() string {
	switch z {
	case ZoneClear:
		return "clear"
	case ZoneAlert:
		return "alert"
	case ZoneMid:
		return "mid"
	case ZoneNear:
		return "near"
	case ZoneClose:
		return "close"
	case ZoneEmergency:
		return "emergency"
	default:
		return fmt.Sprintf("Zone(%d)", int(z))
	}
}

// Inputs are the per-cycle values the arbitrator needs from the snapshot.
type Inputs struct {
	DistanceMM    int
	SensorHealthy bool
	PedalPercent  float64
	PedalValid    bool
	AccActive     bool
}

// SafetyState is the arbitrator output of one cycle. Zone and Factor always belong together.
type SafetyState struct {
	Zone           Zone      `json:"zone"`
	DistanceMM     int       `json:"distanceMM"`
	Factor         float64   `json:"factor"`
	ChildReacted   bool      `json:"childReacted"`
	ReactionAt     time.Time `json:"reactionAt"`
	AccPriority    bool      `json:"accPriority"`
	EmergencyBrake bool      `json:"emergencyBrake"`
	SensorHealthy  bool      `json:"sensorHealthy"`
}

// ValidDistance reports whether d is a usable ranging reading.
func ValidDistance(d int) bool {
	return d >= 0 && d < constants.DistanceCeilingMM
}

// Arbitrator is owned by the safety task.
type Arbitrator struct {
	mu    sync.RWMutex
	cfg   Config
	state SafetyState

	// pedal history for the reaction heuristic
	havePedal     bool
	lastPedal     float64
	lastPedalAt   time.Time
	inRun         bool
	runStartPedal float64
	runStartAt    time.Time

	logger *zap.SugaredLogger
}

// NewArbitrator returns an arbitrator in zone 0.
func NewArbitrator(cfg Config) *Arbitrator {
	return &Arbitrator{
		cfg: cfg.Sanitize(),
		state: SafetyState{
			Zone:          ZoneClear,
			DistanceMM:    constants.InvalidDistanceMM,
			Factor:        1,
			SensorHealthy: true,
		},
		logger: logger.For(logger.ComponentObstacle),
	}
}

// Update evaluates one cycle and returns the new state.
func (a *Arbitrator) Update(in Inputs, now time.Time) SafetyState {
	a.mu.Lock()
	defer a.mu.Unlock()

	prev := a.state
	reacted, reactionAt := a.trackReaction(in, now)

	next := SafetyState{
		DistanceMM:    in.DistanceMM,
		ChildReacted:  reacted,
		ReactionAt:    reactionAt,
		SensorHealthy: in.SensorHealthy,
	}

	switch {
	case !in.SensorHealthy:
		next.Zone = ZoneEmergency
		next.Factor = 0
		next.EmergencyBrake = true
	default:
		next.Zone = ZoneFor(in.DistanceMM, a.cfg)
		next.Factor, next.AccPriority = a.factorFor(next.Zone, in.DistanceMM, reacted, in.AccActive)
		next.EmergencyBrake = next.Zone == ZoneEmergency
	}

	a.state = next
	metrics.UpdateObstacle(int(next.Zone), next.Factor)

	if next.Zone != prev.Zone {
		if next.Zone == ZoneEmergency {
			a.logger.Warnf("Obstacle zone %s -> %s at %d mm (sensor healthy: %t)", prev.Zone, next.Zone, in.DistanceMM, in.SensorHealthy)
		} else {
			a.logger.Debugf("Obstacle zone %s -> %s at %d mm", prev.Zone, next.Zone, in.DistanceMM)
		}
	}

	return next
}

// ZoneFor maps a distance to its zone. Invalid distances are zone 0.
//
// Exactly FarMM is zone 1, matching the closed [MidMM, FarMM] band in the zone table.
// One of the worked scenarios labels 4000 mm as zone 0 instead, which contradicts that
// table. Only the reported zone differs, the factor is 1.0 in both.
func ZoneFor(distanceMM int, cfg Config) Zone {
	switch {
	case !ValidDistance(distanceMM):
		return ZoneClear
	case distanceMM < cfg.EmergencyMM:
		return ZoneEmergency
	case distanceMM < cfg.CloseMM:
		return ZoneClose
	case distanceMM < cfg.NearMM:
		return ZoneNear
	case distanceMM < cfg.MidMM:
		return ZoneMid
	case distanceMM <= cfg.FarMM:
		return ZoneAlert
	default:
		return ZoneClear
	}
}

func (a *Arbitrator) factorFor(z Zone, d int, reacted, acc bool) (factor float64, accPriority bool) {
	cfg := a.cfg

	switch z {
	case ZoneEmergency:
		return 0, false
	case ZoneClose:
		span := float64(cfg.CloseMM - cfg.EmergencyMM)
		t := float64(d-cfg.EmergencyMM) / span

		return cfg.CloseMinFactor + t*(cfg.CloseMaxFactor-cfg.CloseMinFactor), false
	case ZoneNear:
		if reacted {
			return cfg.NearReactedFactor, false
		}

		return cfg.NearForcedFactor, false
	case ZoneMid:
		if acc {
			return 1, true
		}

		if reacted {
			return 1, false
		}

		return cfg.MidGentleFactor, false
	default:
		return 1, false
	}
}

// trackReaction updates the pedal history and returns whether the driver reacted.
// A reaction is a pedal drop of more than ReactionDropPercent from the start of the
// current decreasing run, with the run not older than ReactionWindow.
func (a *Arbitrator) trackReaction(in Inputs, now time.Time) (bool, time.Time) {
	reacted, reactionAt := a.state.ChildReacted, a.state.ReactionAt

	if !in.PedalValid {
		a.havePedal = false
		a.inRun = false

		return false, time.Time{}
	}

	pedal := in.PedalPercent

	switch {
	case !a.havePedal:
		reacted = false
	case pedal < a.lastPedal:
		if !a.inRun || now.Sub(a.runStartAt) > a.cfg.ReactionWindow {
			a.inRun = true
			a.runStartPedal = a.lastPedal
			a.runStartAt = a.lastPedalAt
		}

		if a.runStartPedal-pedal > a.cfg.ReactionDropPercent {
			reacted = true
			reactionAt = now
		}
	default:
		a.inRun = false
		reacted = false
	}

	if reacted && now.Sub(reactionAt) >= a.cfg.ReactionWindow {
		reacted = false
	}

	a.havePedal = true
	a.lastPedal = pedal
	a.lastPedalAt = now

	if !reacted {
		reactionAt = time.Time{}
	}

	return reacted, reactionAt
}

// State returns the state of the last cycle.
func (a *Arbitrator) State() SafetyState {
	a.mu.RLock()
	defer a.mu.RUnlock()

	return a.state
}

// SetConfig sanitizes and applies cfg, then returns what was applied.
func (a *Arbitrator) SetConfig(cfg Config) Config {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.cfg = cfg.Sanitize()

	return a.cfg
}

// Config returns the applied config.
func (a *Arbitrator) Config() Config {
	a.mu.RLock()
	defer a.mu.RUnlock()

	return a.cfg
}
