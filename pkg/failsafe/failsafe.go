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

// Package failsafe watches the control-intent heartbeat from the safety task
// and forces zero motion when the control pipeline stops advancing it.
package failsafe

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/motion-core/internal/fsm"
	"github.com/united-manufacturing-hub/motion-core/pkg/constants"
	"github.com/united-manufacturing-hub/motion-core/pkg/logger"
	"github.com/united-manufacturing-hub/motion-core/pkg/metrics"
	"github.com/united-manufacturing-hub/motion-core/pkg/sentry"
)

// State of the failsafe.
type State string

const (
	StateOK       State = "OK"
	StateFailsafe State = "FAILSAFE"
)

// HeartbeatSource returns the latest control-intent heartbeat. It must use a short bounded wait.
type HeartbeatSource interface {
	IntentHeartbeat(ctx context.Context) (time.Time, error)
}

// ZeroForcer drives actuation to zero. It is called directly from Check, never through the bus.
type ZeroForcer interface {
	ForceZero(reason string)
}

// Status is a read-only view of the failsafe.
type Status struct {
	State         State     `json:"state"`
	Trips         uint64    `json:"trips"`
	TrippedAt     time.Time `json:"trippedAt"`
	LastHeartbeat time.Time `json:"lastHeartbeat"`
	Reason        string    `json:"reason,omitempty"`
}

// Failsafe is checked once per safety cycle.
type Failsafe struct {
	machine  *fsm.Machine
	source   HeartbeatSource
	actuator ZeroForcer

	mu               sync.Mutex
	timeout          time.Duration
	reminderInterval time.Duration
	startedAt        time.Time
	lastReminder     time.Time
	trippedAt        time.Time
	trips            uint64
	lastHeartbeat    time.Time
	reason           string

	logger *zap.SugaredLogger
}

// NewFailsafe returns a failsafe in OK. Until the first heartbeat arrives, now is used as
// the reference, so the control task has one timeout window to come up.
func NewFailsafe(source HeartbeatSource, actuator ZeroForcer, timeout time.Duration, now time.Time) *Failsafe {
	log := logger.For(logger.ComponentFailsafe)

	metrics.SetFailsafeActive(false)

	f := &Failsafe{
		machine: fsm.NewMachine(fsm.MachineConfig{
			ID:           "failsafe",
			InitialState: string(StateOK),
			States:       []string{string(StateOK), string(StateFailsafe)},
		}, now, log),
		source:           source,
		actuator:         actuator,
		timeout:          timeout,
		reminderInterval: constants.FailsafeReminderInterval,
		startedAt:        now,
		logger:           log,
	}

	f.machine.OnEnter(string(StateFailsafe), f.enterFailsafe)
	f.machine.OnEnter(string(StateOK), f.enterOK)

	return f
}

// enterFailsafe and enterOK run inside Check, with f.mu held.
func (f *Failsafe) enterFailsafe(_ context.Context, _, _ string, now time.Time) {
	f.trips++
	f.trippedAt = now
	f.lastReminder = now

	metrics.SetFailsafeActive(true)
	metrics.IncFailsafeTrips()
	sentry.ReportSafetyIssuef(sentry.IssueTypeWarning, f.logger, logger.ComponentFailsafe, string(StateFailsafe),
		"failsafe tripped, motion forced to zero: %s", f.reason)
}

func (f *Failsafe) enterOK(_ context.Context, _, _ string, now time.Time) {
	metrics.SetFailsafeActive(false)
	f.logger.Infof("Heartbeat fresh again after %s in failsafe, resuming", now.Sub(f.trippedAt))
	f.reason = ""
}

// Check reads the heartbeat and trips or recovers. While tripped, ForceZero is re-asserted on every call.
func (f *Failsafe) Check(ctx context.Context, now time.Time) State {
	hb, err := f.source.IntentHeartbeat(ctx)

	f.mu.Lock()
	defer f.mu.Unlock()

	var reason string

	switch {
	case err != nil:
		reason = fmt.Sprintf("heartbeat unreadable: %v", err)
	default:
		f.lastHeartbeat = hb

		ref := hb
		if ref.IsZero() || ref.Before(f.startedAt) {
			ref = f.startedAt
		}

		if age := now.Sub(ref); age > f.timeout {
			reason = fmt.Sprintf("heartbeat %s old, limit %s", age, f.timeout)
		}
	}

	if reason == "" {
		if _, err := f.machine.Goto(ctx, string(StateOK), now); err != nil {
			f.logger.Errorf("Failed to leave failsafe: %v", err)

			return State(f.machine.Current())
		}

		return StateOK
	}

	f.actuator.ForceZero(reason)
	f.reason = reason

	// The machine still moves to FAILSAFE even if ctx is done, actuation is already zero.
	entered, err := f.machine.Goto(context.WithoutCancel(ctx), string(StateFailsafe), now)
	if err != nil {
		f.logger.Errorf("Failed to enter failsafe: %v", err)
	}

	if entered || err != nil {
		return StateFailsafe
	}

	if now.Sub(f.lastReminder) >= f.reminderInterval {
		f.lastReminder = now
		f.logger.Warnf("Still in failsafe for %s: %s", now.Sub(f.trippedAt), reason)
	}

	return StateFailsafe
}

// State returns the current state.
func (f *Failsafe) State() State {
	return State(f.machine.Current())
}

// Active reports whether motion is currently forced to zero.
func (f *Failsafe) Active() bool {
	return f.machine.Is(string(StateFailsafe))
}

// SetTimeout changes the heartbeat limit. Non-positive values are ignored.
func (f *Failsafe) SetTimeout(timeout time.Duration) time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()

	if timeout > 0 {
		f.timeout = timeout
	}

	return f.timeout
}

// Status returns a read-only view.
func (f *Failsafe) Status() Status {
	f.mu.Lock()
	defer f.mu.Unlock()

	return Status{
		State:         State(f.machine.Current()),
		Trips:         f.trips,
		TrippedAt:     f.trippedAt,
		LastHeartbeat: f.lastHeartbeat,
		Reason:        f.reason,
	}
}
