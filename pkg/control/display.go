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
	"context"
	"fmt"
	"time"

	"github.com/united-manufacturing-hub/motion-core/pkg/degradation"
	"github.com/united-manufacturing-hub/motion-core/pkg/failsafe"
	"github.com/united-manufacturing-hub/motion-core/pkg/obstacle"
)

// HUD is the model rendered by the display.
type HUD struct {
	Timestamp      time.Time `json:"timestamp"`
	SpeedKmh       float64   `json:"speedKmh"`
	Gear           string    `json:"gear"`
	Degradation    string    `json:"degradation"`
	Zone           int       `json:"zone"`
	DistanceMM     int       `json:"distanceMM"`
	Following      string    `json:"following"`
	FollowTargetMM float64   `json:"followTargetMM"`
	FinalFactor    float64   `json:"finalFactor"`
	PackVoltageV   float64   `json:"packVoltageV"`
	ConsumedWh     float64   `json:"consumedWh"`
	Warnings       []string  `json:"warnings"`
}

// DisplayTask rebuilds the HUD from the last published cycle. It never touches the bus.
func (p *Pipeline) DisplayTask(_ context.Context, now time.Time) error {
	hud := BuildHUD(p.store, p.Energy(), now)
	p.hud.Store(&hud)

	return nil
}

// HUD returns the last model built by the display task.
func (p *Pipeline) HUD() (HUD, bool) {
	hud := p.hud.Load()
	if hud == nil {
		return HUD{}, false
	}

	return *hud, true
}

// BuildHUD derives the HUD from the latest cycle output. Warnings stay on screen for as long as
// their condition holds: non-NORMAL degradation, any obstacle zone above 0, failsafe, safe boot or a hold.
func BuildHUD(store *OutputStore, energy EnergyStatus, now time.Time) HUD {
	hud := HUD{
		Timestamp:    now,
		PackVoltageV: energy.PackVoltageV,
		ConsumedWh:   energy.ConsumedWh,
		Warnings:     []string{},
	}

	out, ok := store.Latest()
	if !ok {
		hud.Warnings = append(hud.Warnings, "NO SAFETY DATA")

		return hud
	}

	hud.Gear = out.Gear
	hud.Degradation = out.Degradation.StateName
	hud.Zone = int(out.Obstacle.Zone)
	hud.DistanceMM = out.Obstacle.DistanceMM
	hud.Following = out.Following.StateName
	hud.FollowTargetMM = out.Following.TargetMM
	hud.FinalFactor = out.FinalFactor

	var (
		sum float64
		n   int
	)

	for _, w := range out.Sensors.WheelSpeeds {
		if w.Valid {
			sum += w.Value
			n++
		}
	}

	if n > 0 {
		hud.SpeedKmh = sum / float64(n)
	}

	if out.Failsafe.State == failsafe.StateFailsafe {
		hud.Warnings = append(hud.Warnings, "FAILSAFE: "+out.Failsafe.Reason)
	}

	if out.SafeBoot {
		hud.Warnings = append(hud.Warnings, "SAFE BOOT: actuation disabled")
	}

	if out.Degradation.State != degradation.StateNormal {
		hud.Warnings = append(hud.Warnings, "DEGRADATION: "+out.Degradation.StateName)
	}

	if out.Obstacle.Zone != obstacle.ZoneClear {
		hud.Warnings = append(hud.Warnings, obstacleWarning(out.Obstacle))
	}

	if out.Held && !out.SafeBoot && out.Failsafe.State != failsafe.StateFailsafe {
		hud.Warnings = append(hud.Warnings, "HOLD: "+out.HeldReason)
	}

	return hud
}

func obstacleWarning(s obstacle.SafetyState) string {
	if !s.SensorHealthy {
		return "OBSTACLE SENSOR FAULT"
	}

	return fmt.Sprintf("OBSTACLE %s: %d mm", s.Zone, s.DistanceMM)
}
