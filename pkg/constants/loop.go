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

package constants

import "time"

const (
	// SafetyTaskPeriod is the period of the critical safety task (100 Hz).
	// The heartbeat failsafe, the arbitrators and the motion limit all run on this tick,
	// so a stalled control pipeline is noticed at most one period after the heartbeat threshold.
	SafetyTaskPeriod = 10 * time.Millisecond

	// ControlTaskPeriod is the period of the critical control-computation task (100 Hz).
	// It samples the sensors, writes the SensorSnapshot and advances the ControlIntent heartbeat.
	ControlTaskPeriod = 10 * time.Millisecond

	// PowerTaskPeriod is the period of the power-sequencing task (10 Hz).
	PowerTaskPeriod = 100 * time.Millisecond

	// DisplayTaskPeriod is the period of the HUD task (~30 Hz).
	DisplayTaskPeriod = 33 * time.Millisecond

	// TelemetryTaskPeriod is the period of the telemetry task (10 Hz).
	TelemetryTaskPeriod = 100 * time.Millisecond

	// FollowingTickInterval is the fixed PID evaluation interval of the following controller (10 Hz).
	FollowingTickInterval = 100 * time.Millisecond

	// StarvationThreshold is the number of missed periods after which a task is considered starved.
	StarvationThreshold = 5

	// StarvationCheckInterval is how often the starvation checker inspects the task table.
	StarvationCheckInterval = 250 * time.Millisecond

	// MaxTasksPerCore bounds the task table of one executor.
	MaxTasksPerCore = 8
)
