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

// Package degradation implements the four-level limp-mode state machine.
//
// The engine gates the operator inputs: pedal percent, steering-assist level and
// the speed ceiling are each scaled by the multiplier of the current state.
// Escalation is immediate. Recovering from LIMP or CRITICAL to a less severe
// state waits until the steering is centered, so steering assist never jumps
// back mid-turn.
package degradation

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/motion-core/internal/fsm"
	"github.com/united-manufacturing-hub/motion-core/pkg/logger"
	"github.com/united-manufacturing-hub/motion-core/pkg/metrics"
	"github.com/united-manufacturing-hub/motion-core/pkg/sentry"
)

// State is a degradation level, ordered by severity.
type State int

const (
	StateNormal State = iota
	StateDegraded
	StateLimp
	StateCritical
)

var stateNames = [...]string{"NORMAL", "DEGRADED", "LIMP", "CRITICAL"}

func (s State) String() string {
	if s < StateNormal || s > StateCritical {
		return fmt.Sprintf("State(%d)", int(s))
	}

	return stateNames[s]
}

// ParseState parses a state name, case-insensitive.
func ParseState(name string) (State, error) {
	for i, n := range stateNames {
		if strings.EqualFold(n, name) {
			return State(i), nil
		}
	}

	return StateNormal, fmt.Errorf("unknown degradation state %q", name)
}

// Inputs are the health signals evaluated every safety cycle.
type Inputs struct {
	PedalValid          bool `json:"pedalValid"`
	SteeringValid       bool `json:"steeringValid"`
	ErrorCount          int  `json:"errorCount"`
	BatteryUndervoltage bool `json:"batteryUndervoltage"`
	TemperatureWarning  bool `json:"temperatureWarning"`
	BatteryCritical     bool `json:"batteryCritical"`
	SteeringCentered    bool `json:"steeringCentered"`
	BusUnhealthy        bool `json:"busUnhealthy"`
}

// Evaluate applies the degradation policy to in. An unhealthy sensor bus is worst-case
// input and never rates better than LIMP, even while every channel still reads valid.
func Evaluate(in Inputs, th Thresholds) State {
	switch {
	case !in.PedalValid && !in.SteeringValid,
		in.BatteryCritical,
		in.ErrorCount >= th.Critical:
		return StateCritical
	case !in.PedalValid || !in.SteeringValid,
		in.ErrorCount >= th.Limp,
		in.BusUnhealthy,
		in.BatteryUndervoltage && in.TemperatureWarning:
		return StateLimp
	case in.BatteryUndervoltage || in.TemperatureWarning,
		in.ErrorCount >= th.Degraded:
		return StateDegraded
	default:
		return StateNormal
	}
}

// Status is a read-only view of the engine.
type Status struct {
	State          State         `json:"-"`
	StateName      string        `json:"state"`
	Inputs         Inputs        `json:"inputs"`
	Multipliers    Multipliers   `json:"multipliers"`
	TimeInState    time.Duration `json:"timeInState"`
	LastTransition time.Time     `json:"lastTransition"`
	Forced         bool          `json:"forced"`
}

// Engine owns the degradation state. It is updated by the safety task and read by actuation and diagnostics.
type Engine struct {
	mu          sync.RWMutex
	machine     *fsm.Machine
	cfg         Config
	inputs      Inputs
	multipliers Multipliers
	forced      bool
	cause       string

	logger *zap.SugaredLogger
}

// NewEngine returns an engine in NORMAL with the sanitized cfg.
func NewEngine(cfg Config, now time.Time) *Engine {
	log := logger.For(logger.ComponentDegradation)

	states := make([]string, 0, len(stateNames))
	states = append(states, stateNames[:]...)

	e := &Engine{
		machine: fsm.NewMachine(fsm.MachineConfig{
			ID:           "degradation",
			InitialState: StateNormal.String(),
			States:       states,
		}, now, log),
		cfg:    cfg.Sanitize(),
		inputs: Inputs{PedalValid: true, SteeringValid: true, SteeringCentered: true},
		logger: log,
	}
	e.multipliers = e.cfg.For(StateNormal)
	e.machine.OnEnter(StateCritical.String(), e.enterCritical)
	e.export()

	return e
}

// enterCritical runs inside transition, with e.mu held.
func (e *Engine) enterCritical(_ context.Context, from, to string, _ time.Time) {
	sentry.ReportSafetyIssuef(sentry.IssueTypeWarning, e.logger, logger.ComponentDegradation, to,
		"degradation %s -> %s (%s): inputs %+v", from, to, e.cause, e.inputs)
}

// Update evaluates in and transitions. It returns the resulting state.
func (e *Engine) Update(ctx context.Context, in Inputs, now time.Time) State {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.inputs = in

	current := e.current()
	next := Evaluate(in, e.cfg.ErrorThresholds)

	if next < current && current >= StateLimp && !in.SteeringCentered && !e.forced {
		next = current
	}

	e.forced = false
	e.transition(ctx, current, next, now, "policy")

	return e.current()
}

// ForceState sets the state for diagnostics. The next Update re-evaluates the policy.
func (e *Engine) ForceState(ctx context.Context, s State, now time.Time) error {
	if s < StateNormal || s > StateCritical {
		return fmt.Errorf("cannot force unknown degradation state %d", int(s))
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.transition(ctx, e.current(), s, now, "forced")
	e.forced = true

	return nil
}

func (e *Engine) transition(ctx context.Context, from, to State, now time.Time, cause string) {
	if from != to {
		e.cause = cause
		if _, err := e.machine.Goto(context.WithoutCancel(ctx), to.String(), now); err != nil {
			e.logger.Errorf("Degradation transition %s -> %s failed: %v", from, to, err)

			return
		}

		if to != StateCritical {
			e.logger.Infof("Degradation %s -> %s (%s)", from, to, cause)
		}
	}

	e.multipliers = e.cfg.For(to)
	e.export()
}

func (e *Engine) current() State {
	s, err := ParseState(e.machine.Current())
	if err != nil {
		return StateCritical
	}

	return s
}

func (e *Engine) export() {
	metrics.UpdateDegradation(int(e.current()), e.multipliers.Power, e.multipliers.Steering, e.multipliers.Speed)
}

// State returns the current state.
func (e *Engine) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.current()
}

// IsSafeToOperate reports whether the vehicle may be driven normally (NORMAL or DEGRADED).
func (e *Engine) IsSafeToOperate() bool {
	s := e.State()

	return s == StateNormal || s == StateDegraded
}

// Multipliers returns the current power, steering and speed multipliers.
func (e *Engine) Multipliers() (power, steering, speed float64) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.multipliers.Power, e.multipliers.Steering, e.multipliers.Speed
}

// LimitPower scales a pedal percentage by the power multiplier.
func (e *Engine) LimitPower(pedalPercent float64) float64 {
	p, _, _ := e.Multipliers()

	return pedalPercent * p
}

// LimitSteering scales a steering-assist level by the steering multiplier.
func (e *Engine) LimitSteering(level float64) float64 {
	_, s, _ := e.Multipliers()

	return level * s
}

// LimitSpeed scales a speed ceiling by the speed multiplier.
func (e *Engine) LimitSpeed(kmh float64) float64 {
	_, _, v := e.Multipliers()

	return kmh * v
}

// SetConfig sanitizes and applies cfg, then returns what was applied.
// The multipliers of the current state take effect immediately.
func (e *Engine) SetConfig(cfg Config) Config {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.cfg = cfg.Sanitize()
	e.multipliers = e.cfg.For(e.current())
	e.export()

	return e.cfg
}

// Config returns the applied config.
func (e *Engine) Config() Config {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.cfg
}

// Status returns a read-only view at now.
func (e *Engine) Status(now time.Time) Status {
	e.mu.RLock()
	defer e.mu.RUnlock()

	s := e.current()

	return Status{
		State:          s,
		StateName:      s.String(),
		Inputs:         e.inputs,
		Multipliers:    e.multipliers,
		TimeInState:    e.machine.TimeInState(now),
		LastTransition: e.machine.LastTransition(),
		Forced:         e.forced,
	}
}
