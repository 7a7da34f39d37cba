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

package sharedstate

import (
	"time"

	"github.com/united-manufacturing-hub/motion-core/pkg/constants"
	"github.com/united-manufacturing-hub/motion-core/pkg/motionlimit"
)

const (
	PowerChannels       = 6
	TemperatureChannels = 4
	WheelChannels       = 4
)

// Reading is a single sensor value. Value means nothing unless Valid is set.
type Reading struct {
	Value float64 `json:"value"`
	Valid bool    `json:"valid"`
}

// PowerChannel is one current/voltage/power measurement point.
type PowerChannel struct {
	CurrentA float64 `json:"currentA"`
	VoltageV float64 `json:"voltageV"`
	PowerW   float64 `json:"powerW"`
	Valid    bool    `json:"valid"`
}

// Ranging is the nearest distance over all ranging sensors.
type Ranging struct {
	// DistanceMM is constants.InvalidDistanceMM when no sensor reported a valid echo.
	DistanceMM int       `json:"distanceMM"`
	Healthy    bool      `json:"healthy"`
	Timestamp  time.Time `json:"timestamp"`
}

// DistanceValid reports whether DistanceMM is a usable reading.
func (r Ranging) DistanceValid() bool {
	return r.DistanceMM >= 0 && r.DistanceMM < constants.DistanceCeilingMM
}

// SensorSnapshot is the critical core's view of the vehicle, sampled once per control cycle.
type SensorSnapshot struct {
	Power          [PowerChannels]PowerChannel `json:"power"`
	PowerTimestamp time.Time                   `json:"powerTimestamp"`

	Temperatures [TemperatureChannels]Reading `json:"temperatures"`
	WheelSpeeds  [WheelChannels]Reading       `json:"wheelSpeeds"`

	// Pedal is in percent [0,100], Steering is the steering level [-100,100].
	Pedal          Reading           `json:"pedal"`
	Steering       Reading           `json:"steering"`
	Shifter        motionlimit.Gear  `json:"shifter"`
	Buttons        uint16            `json:"buttons"`
	InputTimestamp time.Time         `json:"inputTimestamp"`

	BusHealthy          bool `json:"busHealthy"`
	BusConsecutiveError int  `json:"busConsecutiveErrors"`

	Ranging Ranging `json:"ranging"`
}

// InvalidCount returns the number of readings in the snapshot that are not valid.
func (s SensorSnapshot) InvalidCount() int {
	n := 0

	for _, p := range s.Power {
		if !p.Valid {
			n++
		}
	}

	for _, t := range s.Temperatures {
		if !t.Valid {
			n++
		}
	}

	for _, w := range s.WheelSpeeds {
		if !w.Valid {
			n++
		}
	}

	if !s.Pedal.Valid {
		n++
	}

	if !s.Steering.Valid {
		n++
	}

	return n
}

// ControlIntent is written by the control task once per cycle and read by the safety task.
type ControlIntent struct {
	MotorsActive   bool    `json:"motorsActive"`
	TargetSpeedKmh float64 `json:"targetSpeedKmh"`
	TargetSteering float64 `json:"targetSteering"`

	// Heartbeat must advance every control cycle, it never moves backwards.
	Heartbeat time.Time `json:"heartbeat"`
	Sequence  uint64    `json:"sequence"`
}
