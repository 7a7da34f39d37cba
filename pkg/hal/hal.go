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

// Package hal is the boundary to the vehicle hardware. Drivers live behind these
// interfaces, the control plane never talks to a bus directly.
package hal

import "github.com/united-manufacturing-hub/motion-core/pkg/motionlimit"

// Operator button bits as reported by OperatorInput.Buttons.
const (
	ButtonFollowToggle uint16 = 1 << iota
	ButtonFollowNearer
	ButtonFollowFarther
	ButtonHorn
)

// SensorLayer reads the I2C power, temperature and wheel-speed sensors.
// Every read reports whether the value is valid.
type SensorLayer interface {
	ReadCurrent(ch int) (float64, bool)
	ReadVoltage(ch int) (float64, bool)
	ReadTemperature(ch int) (float64, bool)
	ReadWheelSpeed(ch int) (float64, bool)
	IsBusHealthy() bool
	ConsecutiveBusErrors() int
	// RecoverBus runs one bus recovery attempt and reports whether the bus is usable again.
	RecoverBus() bool
}

// RangingLayer reads the distance sensors. MinDistance returns the sentinel for "no echo".
type RangingLayer interface {
	SensorIDs() []int
	MinDistance(id int) int
	IsHealthy(id int) bool
}

// OperatorInput reads the driver controls.
type OperatorInput interface {
	PedalPercent() (float64, bool)
	SteeringAngle() (float64, bool)
	Shifter() motionlimit.Gear
	Buttons() uint16
}

// Actuator consumes the motion command. ForceZero must take effect without waiting on anything.
type Actuator interface {
	Apply(cmd motionlimit.Command) error
	ForceZero(reason string)
}

// HardwareWatchdog resets the board unless fed in time.
type HardwareWatchdog interface {
	Feed() error
}

// Vehicle bundles all of the above.
type Vehicle interface {
	SensorLayer
	RangingLayer
	OperatorInput
	Actuator
	HardwareWatchdog
}
