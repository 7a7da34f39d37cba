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

// Package motionlimit turns the per-cycle safety factors into the command handed to actuation.
//
// Degradation gates the inputs (pedal, steering-assist level, speed ceiling) and the final
// factor scales the resulting traction demand. An obstacle therefore shrinks whatever
// envelope the degradation state currently allows.
package motionlimit

import "math"

// Limiter is the input gate. It is implemented by the degradation engine.
type Limiter interface {
	LimitPower(pedalPercent float64) float64
	LimitSteering(level float64) float64
	LimitSpeed(kmh float64) float64
	Multipliers() (power, steering, speed float64)
}

// Demand is what the operator asks for in this cycle.
type Demand struct {
	PedalPercent    float64
	SteeringLevel   float64
	SpeedCeilingKmh float64
}

// Command is handed to the actuator once per safety cycle.
type Command struct {
	TractionPercent float64 `json:"tractionPercent"`
	SteeringLevel   float64 `json:"steeringLevel"`
	SpeedCeilingKmh float64 `json:"speedCeilingKmh"`

	PowerMultiplier    float64 `json:"powerMultiplier"`
	SteeringMultiplier float64 `json:"steeringMultiplier"`
	SpeedMultiplier    float64 `json:"speedMultiplier"`
	FinalFactor        float64 `json:"finalFactor"`

	// Zero is set when the command was forced to zero motion, Reason says why.
	Zero   bool   `json:"zero"`
	Reason string `json:"reason,omitempty"`
}

// Clamp01 bounds x to [0,1]. NaN maps to 0.
func Clamp01(x float64) float64 {
	if math.IsNaN(x) || x <= 0 {
		return 0
	}

	if x >= 1 {
		return 1
	}

	return x
}

// Combine returns gear × obstacle × following with every input clamped to [0,1] first,
// so the result is always in [0,1].
func Combine(gear, obstacle, following float64) float64 {
	return Clamp01(gear) * Clamp01(obstacle) * Clamp01(following)
}

// Apply gates the demand through the limiter and scales traction by finalFactor.
func Apply(limiter Limiter, demand Demand, finalFactor float64) Command {
	final := Clamp01(finalFactor)
	power, steering, speed := limiter.Multipliers()

	pedal := demand.PedalPercent
	if math.IsNaN(pedal) || pedal < 0 {
		pedal = 0
	}

	if pedal > 100 {
		pedal = 100
	}

	ceiling := demand.SpeedCeilingKmh
	if math.IsNaN(ceiling) || ceiling < 0 {
		ceiling = 0
	}

	level := demand.SteeringLevel
	if math.IsNaN(level) {
		level = 0
	}

	return Command{
		TractionPercent:    limiter.LimitPower(pedal) * final,
		SteeringLevel:      limiter.LimitSteering(level),
		SpeedCeilingKmh:    limiter.LimitSpeed(ceiling),
		PowerMultiplier:    power,
		SteeringMultiplier: steering,
		SpeedMultiplier:    speed,
		FinalFactor:        final,
	}
}

// ZeroCommand is the safe default: no traction, no steering assist, zero speed ceiling.
func ZeroCommand(reason string) Command {
	return Command{Zero: true, Reason: reason}
}
