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

// Package sim is an in-memory vehicle implementing every hal interface.
// It backs the "sim" HAL backend and the end-to-end tests.
package sim

import (
	"fmt"
	"sync"
	"time"

	"github.com/united-manufacturing-hub/motion-core/pkg/constants"
	"github.com/united-manufacturing-hub/motion-core/pkg/hal"
	"github.com/united-manufacturing-hub/motion-core/pkg/motionlimit"
	"github.com/united-manufacturing-hub/motion-core/pkg/sharedstate"
)

var _ hal.Vehicle = (*Vehicle)(nil)

// MaxSpeedKmh is the top speed reached at 100 % traction.
const MaxSpeedKmh = 6.0

// Vehicle is safe for concurrent use.
type Vehicle struct {
	mu sync.Mutex

	current     [sharedstate.PowerChannels]float64
	voltage     [sharedstate.PowerChannels]float64
	powerValid  [sharedstate.PowerChannels]bool
	temperature [sharedstate.TemperatureChannels]float64
	tempValid   [sharedstate.TemperatureChannels]bool
	wheelValid  [sharedstate.WheelChannels]bool
	speedKmh    float64

	busHealthy      bool
	busErrors       int
	recoverAttempts int
	recoverSucceeds bool

	distances     map[int]int
	rangingHealth map[int]bool
	closingMMps   float64

	pedal      float64
	pedalValid bool
	steer      float64
	steerValid bool
	shifter    motionlimit.Gear
	buttons    uint16

	lastCommand motionlimit.Command
	applied     int
	forced      int
	lastReason  string
	applyErr    error

	feeds   int
	feedErr error
}

// NewVehicle returns a healthy vehicle in high gear, standing still, with one
// ranging sensor (id 0) reporting no echo.
func NewVehicle() *Vehicle {
	v := &Vehicle{
		busHealthy:      true,
		recoverSucceeds: true,
		distances:       map[int]int{0: constants.InvalidDistanceMM},
		rangingHealth:   map[int]bool{0: true},
		pedalValid:      true,
		steerValid:      true,
		shifter:         motionlimit.GearHigh,
	}

	for i := range v.voltage {
		v.voltage[i] = 24
		v.current[i] = 0.5
		v.powerValid[i] = true
	}

	for i := range v.temperature {
		v.temperature[i] = 30
		v.tempValid[i] = true
	}

	for i := range v.wheelValid {
		v.wheelValid[i] = true
	}

	return v
}

// SensorLayer

func (v *Vehicle) ReadCurrent(ch int) (float64, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if ch < 0 || ch >= len(v.current) || !v.busHealthy {
		return 0, false
	}

	return v.current[ch], v.powerValid[ch]
}

func (v *Vehicle) ReadVoltage(ch int) (float64, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if ch < 0 || ch >= len(v.voltage) || !v.busHealthy {
		return 0, false
	}

	return v.voltage[ch], v.powerValid[ch]
}

func (v *Vehicle) ReadTemperature(ch int) (float64, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if ch < 0 || ch >= len(v.temperature) || !v.busHealthy {
		return 0, false
	}

	return v.temperature[ch], v.tempValid[ch]
}

func (v *Vehicle) ReadWheelSpeed(ch int) (float64, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if ch < 0 || ch >= len(v.wheelValid) {
		return 0, false
	}

	return v.speedKmh, v.wheelValid[ch]
}

func (v *Vehicle) IsBusHealthy() bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	return v.busHealthy
}

func (v *Vehicle) ConsecutiveBusErrors() int {
	v.mu.Lock()
	defer v.mu.Unlock()

	return v.busErrors
}

func (v *Vehicle) RecoverBus() bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.recoverAttempts++

	if v.recoverSucceeds {
		v.busHealthy = true
		v.busErrors = 0
	}

	return v.busHealthy
}

// RangingLayer

func (v *Vehicle) SensorIDs() []int {
	v.mu.Lock()
	defer v.mu.Unlock()

	ids := make([]int, 0, len(v.distances))
	for id := range v.distances {
		ids = append(ids, id)
	}

	return ids
}

func (v *Vehicle) MinDistance(id int) int {
	v.mu.Lock()
	defer v.mu.Unlock()

	d, ok := v.distances[id]
	if !ok {
		return constants.InvalidDistanceMM
	}

	return d
}

func (v *Vehicle) IsHealthy(id int) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	return v.rangingHealth[id]
}

// OperatorInput

func (v *Vehicle) PedalPercent() (float64, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()

	return v.pedal, v.pedalValid
}

func (v *Vehicle) SteeringAngle() (float64, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()

	return v.steer, v.steerValid
}

func (v *Vehicle) Shifter() motionlimit.Gear {
	v.mu.Lock()
	defer v.mu.Unlock()

	return v.shifter
}

func (v *Vehicle) Buttons() uint16 {
	v.mu.Lock()
	defer v.mu.Unlock()

	return v.buttons
}

// Actuator

func (v *Vehicle) Apply(cmd motionlimit.Command) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.applyErr != nil {
		return v.applyErr
	}

	v.lastCommand = cmd
	v.applied++

	return nil
}

func (v *Vehicle) ForceZero(reason string) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.lastCommand = motionlimit.ZeroCommand(reason)
	v.forced++
	v.lastReason = reason
}

// HardwareWatchdog

func (v *Vehicle) Feed() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.feedErr != nil {
		return v.feedErr
	}

	v.feeds++

	return nil
}

// Step advances the simple physics by dt: speed follows the last traction command
// and the nearest obstacle closes in by the vehicle speed plus its own closing speed.
func (v *Vehicle) Step(dt time.Duration) {
	v.mu.Lock()
	defer v.mu.Unlock()

	target := v.lastCommand.TractionPercent / 100 * MaxSpeedKmh
	if v.lastCommand.SpeedCeilingKmh > 0 && target > v.lastCommand.SpeedCeilingKmh {
		target = v.lastCommand.SpeedCeilingKmh
	}

	if v.lastCommand.Zero {
		target = 0
	}

	v.speedKmh += (target - v.speedKmh) * min(1, dt.Seconds()*2)

	closing := v.speedKmh/3.6*1000 + v.closingMMps
	for id, d := range v.distances {
		if d >= constants.DistanceCeilingMM || d < 0 {
			continue
		}

		d -= int(closing * dt.Seconds())
		v.distances[id] = max(d, 0)
	}

	for i := range v.current {
		v.current[i] = 0.5 + v.lastCommand.TractionPercent/10
	}
}

// Setters used by tests and the simulator driver.

func (v *Vehicle) SetPedal(percent float64, valid bool) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.pedal, v.pedalValid = percent, valid
}

func (v *Vehicle) SetSteering(angle float64, valid bool) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.steer, v.steerValid = angle, valid
}

func (v *Vehicle) SetShifter(g motionlimit.Gear) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.shifter = g
}

func (v *Vehicle) SetButtons(bits uint16) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.buttons = bits
}

// SetDistance sets the reading of ranging sensor id, adding the sensor if needed.
func (v *Vehicle) SetDistance(id, mm int) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if _, ok := v.rangingHealth[id]; !ok {
		v.rangingHealth[id] = true
	}

	v.distances[id] = mm
}

func (v *Vehicle) SetRangingHealthy(id int, healthy bool) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.rangingHealth[id] = healthy
}

// SetClosingSpeed makes every valid obstacle approach at mmps regardless of the vehicle speed.
func (v *Vehicle) SetClosingSpeed(mmps float64) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.closingMMps = mmps
}

// SetBusHealthy marks the I2C bus healthy or failed. A failed bus counts one error.
func (v *Vehicle) SetBusHealthy(healthy bool) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.busHealthy = healthy
	if !healthy {
		v.busErrors++
	}
}

// SetRecoverSucceeds controls whether RecoverBus brings the bus back.
func (v *Vehicle) SetRecoverSucceeds(ok bool) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.recoverSucceeds = ok
}

func (v *Vehicle) SetVoltage(ch int, volts float64, valid bool) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.voltage[ch] = volts
	v.powerValid[ch] = valid
}

func (v *Vehicle) SetTemperature(ch int, celsius float64, valid bool) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.temperature[ch] = celsius
	v.tempValid[ch] = valid
}

func (v *Vehicle) SetApplyError(err error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.applyErr = err
}

func (v *Vehicle) SetFeedError(err error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.feedErr = err
}

// Inspection

// LastCommand returns the last command applied or forced.
func (v *Vehicle) LastCommand() motionlimit.Command {
	v.mu.Lock()
	defer v.mu.Unlock()

	return v.lastCommand
}

// Counters returns how often Apply, ForceZero and Feed succeeded.
func (v *Vehicle) Counters() (applied, forced, feeds int) {
	v.mu.Lock()
	defer v.mu.Unlock()

	return v.applied, v.forced, v.feeds
}

// LastForceReason returns the reason of the last ForceZero.
func (v *Vehicle) LastForceReason() string {
	v.mu.Lock()
	defer v.mu.Unlock()

	return v.lastReason
}

// RecoverAttempts returns the number of RecoverBus calls.
func (v *Vehicle) RecoverAttempts() int {
	v.mu.Lock()
	defer v.mu.Unlock()

	return v.recoverAttempts
}

func (v *Vehicle) String() string {
	v.mu.Lock()
	defer v.mu.Unlock()

	return fmt.Sprintf("sim.Vehicle{speed=%.2fkm/h pedal=%.0f gear=%s}", v.speedKmh, v.pedal, v.shifter)
}
