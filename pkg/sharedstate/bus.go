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

// Package sharedstate moves sensor snapshots and control intents between the
// critical and general cores. Every structure sits behind its own bounded-wait
// guard, and values only ever cross the guard by copy.
package sharedstate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/motion-core/pkg/constants"
)

// ErrHeartbeatRegression is returned by WriteIntent when the new heartbeat is older than the stored one.
var ErrHeartbeatRegression = errors.New("control intent heartbeat moved backwards")

const (
	GuardSensors = "SharedState.sensors"
	GuardIntent  = "SharedState.intent"
)

// Bus is the cross-core shared state.
//
// Every wait is bounded by the lock or probe timeout and by the caller's context,
// whichever ends first. The scheduler gives each run a deadline of one task period,
// so on the 10ms critical tasks a full read or write waits at most 10ms, not BusLockTimeout.
// A waiter that gives up counts as a failed acquisition either way.
type Bus struct {
	sensors *Guarded[SensorSnapshot]
	intent  *Guarded[ControlIntent]

	lockTimeout  time.Duration
	probeTimeout time.Duration
}

// NewBus returns a Bus using the default lock and probe timeouts.
func NewBus(logger *zap.SugaredLogger) *Bus {
	return NewBusWithTimeouts(constants.BusLockTimeout, constants.BusProbeTimeout, logger)
}

// NewBusWithTimeouts returns a Bus with custom bounded waits.
func NewBusWithTimeouts(lockTimeout, probeTimeout time.Duration, logger *zap.SugaredLogger) *Bus {
	return &Bus{
		sensors:      NewGuarded(GuardSensors, SensorSnapshot{Ranging: Ranging{DistanceMM: constants.InvalidDistanceMM}}, logger),
		intent:       NewGuarded(GuardIntent, ControlIntent{}, logger),
		lockTimeout:  lockTimeout,
		probeTimeout: probeTimeout,
	}
}

// WriteSensors publishes a new snapshot. On ErrLockTimeout the previous snapshot is retained.
func (b *Bus) WriteSensors(ctx context.Context, s SensorSnapshot) error {
	return b.sensors.Store(ctx, b.lockTimeout, s)
}

// ReadSensors returns a copy of the latest snapshot.
func (b *Bus) ReadSensors(ctx context.Context) (SensorSnapshot, error) {
	return b.sensors.Load(ctx, b.lockTimeout)
}

// WriteIntent publishes a new control intent and assigns its sequence number.
// A heartbeat older than the stored one is rejected with ErrHeartbeatRegression.
func (b *Bus) WriteIntent(ctx context.Context, in ControlIntent) error {
	return b.intent.Update(ctx, b.lockTimeout, func(current ControlIntent) (ControlIntent, error) {
		if in.Heartbeat.Before(current.Heartbeat) {
			return current, fmt.Errorf("%w: %s < %s", ErrHeartbeatRegression,
				in.Heartbeat.Format(time.RFC3339Nano), current.Heartbeat.Format(time.RFC3339Nano))
		}

		in.Sequence = current.Sequence + 1

		return in, nil
	})
}

// ReadIntent returns a copy of the latest control intent.
func (b *Bus) ReadIntent(ctx context.Context) (ControlIntent, error) {
	return b.intent.Load(ctx, b.lockTimeout)
}

// IntentHeartbeat returns the intent heartbeat using the short probe window.
func (b *Bus) IntentHeartbeat(ctx context.Context) (time.Time, error) {
	in, err := b.intent.Load(ctx, b.probeTimeout)
	if err != nil {
		return time.Time{}, err
	}

	return in.Heartbeat, nil
}

// SensorsStale reports whether the snapshot input timestamp is older than maxAge.
// A probe that cannot get the guard counts as stale.
func (b *Bus) SensorsStale(ctx context.Context, maxAge time.Duration, now time.Time) bool {
	s, err := b.sensors.Load(ctx, b.probeTimeout)
	if err != nil {
		return true
	}

	return isStale(s.InputTimestamp, maxAge, now)
}

// IntentStale reports whether the intent heartbeat is older than maxAge.
// A probe that cannot get the guard counts as stale.
func (b *Bus) IntentStale(ctx context.Context, maxAge time.Duration, now time.Time) bool {
	hb, err := b.IntentHeartbeat(ctx)
	if err != nil {
		return true
	}

	return isStale(hb, maxAge, now)
}

// Healthy returns false once either structure has failed maxConsecutive acquisitions in a row.
func (b *Bus) Healthy(maxConsecutive int) bool {
	return b.sensors.ConsecutiveFailures() < maxConsecutive && b.intent.ConsecutiveFailures() < maxConsecutive
}

// Stats is a read-only view of the guard failure counters.
type Stats struct {
	SensorConsecutiveFailures int    `json:"sensorConsecutiveFailures"`
	SensorTotalFailures       uint64 `json:"sensorTotalFailures"`
	IntentConsecutiveFailures int    `json:"intentConsecutiveFailures"`
	IntentTotalFailures       uint64 `json:"intentTotalFailures"`
}

// Stats returns the current guard failure counters.
func (b *Bus) Stats() Stats {
	return Stats{
		SensorConsecutiveFailures: b.sensors.ConsecutiveFailures(),
		SensorTotalFailures:       b.sensors.TotalFailures(),
		IntentConsecutiveFailures: b.intent.ConsecutiveFailures(),
		IntentTotalFailures:       b.intent.TotalFailures(),
	}
}

func isStale(ts time.Time, maxAge time.Duration, now time.Time) bool {
	if ts.IsZero() {
		return true
	}

	return now.Sub(ts) > maxAge
}
