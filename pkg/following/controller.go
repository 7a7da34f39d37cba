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

// Package following implements the distance-following (adaptive cruise) controller.
//
// While ACTIVE, a PID on the gap error (measured - target) produces a speed
// adjustment in [1-MaxReduction, 1]. A positive error means the gap is wider
// than requested and reduces speed, closeness is handled by BRAKING and by the
// obstacle zones. The adjustment never exceeds what the pedal asks for.
package following

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/motion-core/internal/fsm"
	"github.com/united-manufacturing-hub/motion-core/pkg/logger"
	"github.com/united-manufacturing-hub/motion-core/pkg/metrics"
	"github.com/united-manufacturing-hub/motion-core/pkg/motionlimit"
)

// State of the following controller.
type State int

const (
	StateDisabled State = iota
	StateStandby
	StateActive
	StateBraking
)

var stateNames = [...]string{"DISABLED", "STANDBY", "ACTIVE", "BRAKING"}

func (s State) String() string {
	if s < StateDisabled || s > StateBraking {
		return fmt.Sprintf("State(%d)", int(s))
	}

	return stateNames[s]
}

func parseState(name string) State {
	for i, n := range stateNames {
		if n == name {
			return State(i)
		}
	}

	return StateDisabled
}

// Inputs are the per-cycle values the controller needs from the snapshot.
type Inputs struct {
	DistanceMM    int
	DistanceValid bool
	PedalPercent  float64
}

// Status is a read-only view of the controller.
type Status struct {
	Enabled        bool    `json:"enabled"`
	State          State   `json:"-"`
	StateName      string  `json:"state"`
	TargetMM       float64 `json:"targetMM"`
	MeasuredMM     int     `json:"measuredMM"`
	Adjustment     float64 `json:"adjustment"`
	TargetDetected bool    `json:"targetDetected"`
	Integral       float64 `json:"integral"`
	LastError      float64 `json:"lastError"`
}

// Controller is owned by the safety task. Enable and Disable may be called from diagnostics.
type Controller struct {
	mu      sync.Mutex
	machine *fsm.Machine
	cfg     Config
	pid     pid

	enabled        bool
	measured       int
	targetDetected bool
	// raw is the last PID adjustment before the pedal cap, held while the target is lost
	raw        float64
	adjustment float64
	lastTick   time.Time
	lostSince  time.Time

	logger *zap.SugaredLogger
}

// NewController returns a disabled controller.
func NewController(cfg Config, now time.Time) *Controller {
	log := logger.For(logger.ComponentFollowing)
	cfg = cfg.Sanitize()

	c := &Controller{
		machine: fsm.NewMachine(fsm.MachineConfig{
			ID:           "following",
			InitialState: StateDisabled.String(),
			States:       stateNames[:],
		}, now, log),
		cfg:        cfg,
		measured:   -1,
		raw:        1,
		adjustment: 1,
		logger:     log,
	}
	c.pid = pid{kp: cfg.Kp, ki: cfg.Ki, kd: cfg.Kd, integralLimit: cfg.IntegralLimit}

	return c
}

// Enable arms the controller. It starts in STANDBY until a target is detected.
func (c *Controller) Enable(ctx context.Context, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.enabled {
		return
	}

	c.enabled = true
	c.goTo(ctx, StateStandby, now)
	c.logger.Infof("Following enabled, target %.0f mm", c.cfg.TargetDistanceMM)
}

// Disable disarms the controller and resets the PID.
func (c *Controller) Disable(ctx context.Context, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.enabled {
		return
	}

	c.enabled = false
	c.resetPID()
	c.lostSince = time.Time{}
	c.raw, c.adjustment = 1, 1
	c.goTo(ctx, StateDisabled, now)
	c.logger.Info("Following disabled")
}

// Standby drops an armed controller back to STANDBY with a reset PID.
// The safety task calls it when it has no fresh snapshot to act on.
func (c *Controller) Standby(ctx context.Context, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.enabled || c.state() == StateStandby {
		return
	}

	c.resetPID()
	c.lostSince = time.Time{}
	c.raw, c.adjustment = 1, 1
	c.goTo(ctx, StateStandby, now)
	c.export()
}

// SetTarget changes the following distance. Non-positive values are ignored.
func (c *Controller) SetTarget(mm float64) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	if finitePositive(mm) {
		c.cfg.TargetDistanceMM = mm
	}

	return c.cfg.TargetDistanceMM
}

// Update runs one safety cycle and returns the speed adjustment in [0,1].
// The PID only runs when a tick interval has elapsed since its last evaluation.
func (c *Controller) Update(ctx context.Context, in Inputs, now time.Time) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.measured = in.DistanceMM
	c.targetDetected = in.DistanceValid && in.DistanceMM >= 0 && in.DistanceMM < c.cfg.MaxRangeMM

	defer c.export()

	if !c.enabled {
		c.adjustment = 1

		return c.adjustment
	}

	pedalCap := motionlimit.Clamp01(in.PedalPercent / 100)
	state := c.state()

	if c.targetDetected && in.DistanceMM < c.cfg.EmergencyDistanceMM {
		if state != StateBraking {
			c.logger.Warnf("Following: target at %d mm, braking", in.DistanceMM)
		}

		c.goTo(ctx, StateBraking, now)
		c.resetPID()
		c.lostSince = time.Time{}
		c.raw, c.adjustment = 0, 0

		return c.adjustment
	}

	if !c.targetDetected {
		if state == StateStandby {
			c.raw, c.adjustment = 1, 1

			return c.adjustment
		}

		if c.lostSince.IsZero() {
			c.lostSince = now
			c.resetPID()
		}

		if now.Sub(c.lostSince) >= c.cfg.TargetLostTimeout {
			c.goTo(ctx, StateStandby, now)
			c.lostSince = time.Time{}
			c.raw, c.adjustment = 1, 1

			return c.adjustment
		}

		c.adjustment = math.Min(c.raw, pedalCap)

		return c.adjustment
	}

	c.lostSince = time.Time{}

	if state != StateActive {
		c.goTo(ctx, StateActive, now)
		c.resetPID()
	}

	if c.lastTick.IsZero() || now.Sub(c.lastTick) >= c.cfg.TickInterval {
		c.lastTick = now
		errMM := float64(in.DistanceMM) - c.cfg.TargetDistanceMM
		output := c.pid.step(errMM, c.cfg.TickInterval)

		c.raw = clamp(1-output/1000, 1-c.cfg.MaxReduction, 1)
	}

	c.adjustment = math.Min(c.raw, pedalCap)

	return c.adjustment
}

func (c *Controller) resetPID() {
	c.pid.reset()
	c.lastTick = time.Time{}
}

func (c *Controller) state() State {
	return parseState(c.machine.Current())
}

func (c *Controller) goTo(ctx context.Context, s State, now time.Time) {
	if _, err := c.machine.Goto(context.WithoutCancel(ctx), s.String(), now); err != nil {
		c.logger.Errorf("Following transition to %s failed: %v", s, err)
	}
}

func (c *Controller) export() {
	metrics.UpdateFollowing(int(c.state()), c.adjustment)
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state()
}

// Enabled reports whether the controller is armed.
func (c *Controller) Enabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.enabled
}

// Status returns a read-only view.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.state()

	return Status{
		Enabled:        c.enabled,
		State:          s,
		StateName:      s.String(),
		TargetMM:       c.cfg.TargetDistanceMM,
		MeasuredMM:     c.measured,
		Adjustment:     c.adjustment,
		TargetDetected: c.targetDetected,
		Integral:       c.pid.integral,
		LastError:      c.pid.lastError,
	}
}

// SetConfig sanitizes and applies cfg, then returns what was applied. The PID is reset.
func (c *Controller) SetConfig(cfg Config) Config {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cfg = cfg.Sanitize()
	c.pid = pid{kp: c.cfg.Kp, ki: c.cfg.Ki, kd: c.cfg.Kd, integralLimit: c.cfg.IntegralLimit}
	c.lastTick = time.Time{}

	return c.cfg
}

// Config returns the applied config.
func (c *Controller) Config() Config {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.cfg
}

func clamp(x, lo, hi float64) float64 {
	if math.IsNaN(x) {
		return lo
	}

	return math.Max(lo, math.Min(hi, x))
}
