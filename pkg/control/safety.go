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
	"math"
	"time"

	"github.com/united-manufacturing-hub/motion-core/pkg/constants"
	"github.com/united-manufacturing-hub/motion-core/pkg/degradation"
	"github.com/united-manufacturing-hub/motion-core/pkg/failsafe"
	"github.com/united-manufacturing-hub/motion-core/pkg/following"
	"github.com/united-manufacturing-hub/motion-core/pkg/hal"
	"github.com/united-manufacturing-hub/motion-core/pkg/metrics"
	"github.com/united-manufacturing-hub/motion-core/pkg/motionlimit"
	"github.com/united-manufacturing-hub/motion-core/pkg/obstacle"
	"github.com/united-manufacturing-hub/motion-core/pkg/sharedstate"
	"github.com/united-manufacturing-hub/motion-core/pkg/watchdog"
)

// SafetyTask runs one safety cycle: failsafe, one snapshot read, the three arbitrators,
// the motion limit and actuation. Every cycle publishes a CycleOutput.
func (p *Pipeline) SafetyTask(ctx context.Context, now time.Time) error {
	defer p.report(TaskSafety, watchdog.StatusOK)

	cfg := p.Config()
	out := CycleOutput{
		Timestamp: now,
		Cycle:     p.cycles.Add(1),
		SafeBoot:  p.SafeBoot(),
	}

	// every successful acquire resets its guard counter, so sample before this cycle touches the bus
	stats := p.bus.Stats()
	busHealthy := p.bus.Healthy(constants.BusMaxConsecutiveFailures)

	if p.failsafe.Check(ctx, now) == failsafe.StateFailsafe {
		// the failsafe has already forced zero
		return p.hold(ctx, &out, now, "heartbeat failsafe", false)
	}

	if out.SafeBoot {
		return p.hold(ctx, &out, now, "safe boot", true)
	}

	if !busHealthy {
		return p.hold(ctx, &out, now, "shared state bus unhealthy", true)
	}

	if p.bus.SensorsStale(ctx, cfg.SensorMaxAge, now) {
		return p.hold(ctx, &out, now, "stale sensor snapshot", true)
	}

	snap, err := p.bus.ReadSensors(ctx)
	if err != nil {
		_ = p.hold(ctx, &out, now, "sensor snapshot unavailable", true)

		return fmt.Errorf("failed to read sensor snapshot: %w", err)
	}

	out.Sensors = snap

	intent, err := p.bus.ReadIntent(ctx)
	if err != nil {
		_ = p.hold(ctx, &out, now, "control intent unavailable", true)

		return fmt.Errorf("failed to read control intent: %w", err)
	}

	p.handleButtons(ctx, snap.Buttons, cfg, now)

	p.degradation.Update(ctx, p.degradationInputs(snap, stats, cfg), now)

	pedal := 0.0
	if snap.Pedal.Valid {
		pedal = snap.Pedal.Value
	}

	obs := p.obstacle.Update(obstacle.Inputs{
		DistanceMM:    snap.Ranging.DistanceMM,
		SensorHealthy: snap.Ranging.Healthy,
		PedalPercent:  snap.Pedal.Value,
		PedalValid:    snap.Pedal.Valid,
		AccActive:     p.following.State() == following.StateActive,
	}, now)

	adjustment := p.following.Update(ctx, following.Inputs{
		DistanceMM:    snap.Ranging.DistanceMM,
		DistanceValid: snap.Ranging.Healthy && snap.Ranging.DistanceValid(),
		PedalPercent:  pedal,
	}, now)

	gear := cfg.Gears.Multiplier(snap.Shifter)
	final := motionlimit.Combine(gear, obs.Factor, adjustment)

	demand := motionlimit.Demand{SpeedCeilingKmh: cfg.MaxSpeedKmh}
	if intent.MotorsActive {
		demand.PedalPercent = pedal
	}

	demand.SteeringLevel = intent.TargetSteering

	cmd := motionlimit.Apply(p.degradation, demand, final)
	metrics.SetFinalFactor(final)

	out.Gear = snap.Shifter.String()
	out.GearFactor = gear
	out.FinalFactor = final

	if err := p.vehicle.Apply(cmd); err != nil {
		_ = p.hold(ctx, &out, now, "actuator rejected command", true)

		return fmt.Errorf("failed to apply command: %w", err)
	}

	if p.lastHold != "" {
		p.logger.Infof("Actuation resumed after hold: %s", p.lastHold)
		p.lastHold = ""
	}

	out.Command = cmd

	return p.publish(&out, now)
}

// hold publishes a zero command for this cycle. force is false when the failsafe already forced zero.
func (p *Pipeline) hold(ctx context.Context, out *CycleOutput, now time.Time, reason string, force bool) error {
	if force {
		p.vehicle.ForceZero(reason)
	}

	if reason != p.lastHold {
		p.logger.Warnf("Actuation held at zero: %s", reason)
		p.lastHold = reason
	}

	switch reason {
	case "stale sensor snapshot", "sensor snapshot unavailable", "shared state bus unhealthy":
		p.following.Standby(ctx, now)
	}

	metrics.SetFinalFactor(0)

	out.Held = true
	out.HeldReason = reason
	out.FinalFactor = 0
	out.Command = motionlimit.ZeroCommand(reason)

	return p.publish(out, now)
}

func (p *Pipeline) publish(out *CycleOutput, now time.Time) error {
	out.Failsafe = p.failsafe.Status()
	out.Degradation = p.degradation.Status(now)
	out.Obstacle = p.obstacle.State()
	out.Following = p.following.Status()

	if err := p.store.Publish(*out); err != nil {
		return fmt.Errorf("failed to publish cycle output: %w", err)
	}

	return nil
}

// handleButtons acts on rising edges of the follow buttons.
func (p *Pipeline) handleButtons(ctx context.Context, buttons uint16, cfg Config, now time.Time) {
	pressed := buttons &^ p.lastButtons
	p.lastButtons = buttons

	if pressed&hal.ButtonFollowToggle != 0 {
		if p.following.Enabled() {
			p.following.Disable(ctx, now)
		} else {
			p.following.Enable(ctx, now)
		}
	}

	target := p.following.Status().TargetMM

	if pressed&hal.ButtonFollowNearer != 0 {
		target = p.following.SetTarget(target - cfg.FollowStepMM)
	}

	if pressed&hal.ButtonFollowFarther != 0 {
		p.following.SetTarget(target + cfg.FollowStepMM)
	}
}

// degradationInputs folds the snapshot and the guard counters sampled at the start of the cycle into policy inputs.
func (p *Pipeline) degradationInputs(snap sharedstate.SensorSnapshot, stats sharedstate.Stats, cfg Config) degradation.Inputs {
	errs := snap.InvalidCount() + snap.BusConsecutiveError +
		stats.SensorConsecutiveFailures + stats.IntentConsecutiveFailures

	in := degradation.Inputs{
		PedalValid:       snap.Pedal.Valid,
		SteeringValid:    snap.Steering.Valid,
		ErrorCount:       errs,
		SteeringCentered: snap.Steering.Valid && math.Abs(snap.Steering.Value) <= cfg.SteeringCenterBand,
		BusUnhealthy:     !snap.BusHealthy,
	}

	if pack := snap.Power[cfg.Battery.PackChannel]; pack.Valid {
		in.BatteryUndervoltage = pack.VoltageV < cfg.Battery.LowVoltageV
		in.BatteryCritical = pack.VoltageV < cfg.Battery.CriticalVoltageV
	}

	for _, t := range snap.Temperatures {
		if t.Valid && t.Value >= cfg.TemperatureWarningC {
			in.TemperatureWarning = true
		}
	}

	return in
}
