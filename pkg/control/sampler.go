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

	"github.com/united-manufacturing-hub/motion-core/pkg/constants"
	"github.com/united-manufacturing-hub/motion-core/pkg/motionlimit"
	"github.com/united-manufacturing-hub/motion-core/pkg/obstacle"
	"github.com/united-manufacturing-hub/motion-core/pkg/sharedstate"
	"github.com/united-manufacturing-hub/motion-core/pkg/watchdog"
)

// ControlTask samples the vehicle, publishes the snapshot and advances the control intent heartbeat.
func (p *Pipeline) ControlTask(ctx context.Context, now time.Time) error {
	snap, err := p.SampleSensors(ctx, now)
	if err != nil {
		p.report(TaskControl, watchdog.StatusWarning)

		return err
	}

	if err := p.PublishIntent(ctx, snap, now); err != nil {
		p.report(TaskControl, watchdog.StatusWarning)

		return err
	}

	p.report(TaskControl, watchdog.StatusOK)

	return nil
}

// SampleSensors reads every HAL input into one snapshot and writes it to the bus.
func (p *Pipeline) SampleSensors(ctx context.Context, now time.Time) (sharedstate.SensorSnapshot, error) {
	snap := p.sample(now)

	if err := p.bus.WriteSensors(ctx, snap); err != nil {
		return snap, fmt.Errorf("failed to publish sensor snapshot: %w", err)
	}

	return snap, nil
}

// PublishIntent derives the control intent from snap and writes it with heartbeat now.
func (p *Pipeline) PublishIntent(ctx context.Context, snap sharedstate.SensorSnapshot, now time.Time) error {
	cfg := p.Config()

	intent := sharedstate.ControlIntent{
		MotorsActive: snap.Pedal.Valid && snap.Pedal.Value > 0 && snap.Shifter != motionlimit.GearNeutral,
		Heartbeat:    now,
	}

	if snap.Pedal.Valid {
		intent.TargetSpeedKmh = motionlimit.Clamp01(snap.Pedal.Value/100) * cfg.MaxSpeedKmh
	}

	if snap.Steering.Valid {
		intent.TargetSteering = snap.Steering.Value
	}

	if err := p.bus.WriteIntent(ctx, intent); err != nil {
		return fmt.Errorf("failed to publish control intent: %w", err)
	}

	return nil
}

func (p *Pipeline) sample(now time.Time) sharedstate.SensorSnapshot {
	v := p.vehicle

	var snap sharedstate.SensorSnapshot

	for ch := range snap.Power {
		current, currentOK := v.ReadCurrent(ch)
		voltage, voltageOK := v.ReadVoltage(ch)
		snap.Power[ch] = sharedstate.PowerChannel{
			CurrentA: current,
			VoltageV: voltage,
			PowerW:   current * voltage,
			Valid:    currentOK && voltageOK,
		}
	}

	snap.PowerTimestamp = now

	for ch := range snap.Temperatures {
		snap.Temperatures[ch].Value, snap.Temperatures[ch].Valid = v.ReadTemperature(ch)
	}

	for ch := range snap.WheelSpeeds {
		snap.WheelSpeeds[ch].Value, snap.WheelSpeeds[ch].Valid = v.ReadWheelSpeed(ch)
	}

	snap.Pedal.Value, snap.Pedal.Valid = v.PedalPercent()
	snap.Steering.Value, snap.Steering.Valid = v.SteeringAngle()
	snap.Shifter = v.Shifter()
	snap.Buttons = v.Buttons()
	snap.InputTimestamp = now

	snap.BusHealthy = v.IsBusHealthy()
	snap.BusConsecutiveError = v.ConsecutiveBusErrors()

	snap.Ranging = p.nearest(now)

	return snap
}

// nearest merges every ranging sensor into the closest valid reading.
// One unhealthy sensor, or none at all, marks the merged reading unhealthy.
func (p *Pipeline) nearest(now time.Time) sharedstate.Ranging {
	r := sharedstate.Ranging{DistanceMM: constants.InvalidDistanceMM, Timestamp: now}

	ids := p.vehicle.SensorIDs()
	r.Healthy = len(ids) > 0

	for _, id := range ids {
		if !p.vehicle.IsHealthy(id) {
			r.Healthy = false

			continue
		}

		if d := p.vehicle.MinDistance(id); obstacle.ValidDistance(d) && d < r.DistanceMM {
			r.DistanceMM = d
		}
	}

	return r
}
