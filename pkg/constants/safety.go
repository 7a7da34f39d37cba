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
	// BusLockTimeout bounds a full read or write of a shared structure.
	BusLockTimeout = 50 * time.Millisecond

	// BusProbeTimeout bounds the cheap staleness probe.
	BusProbeTimeout = 10 * time.Millisecond

	// BusMaxConsecutiveFailures is the number of consecutive lock failures on one structure
	// that is reported as a liveness problem. A single missed cycle is not.
	BusMaxConsecutiveFailures = 5

	// SensorSnapshotMaxAge is the oldest snapshot the safety task will act on.
	SensorSnapshotMaxAge = 50 * time.Millisecond

	// HeartbeatTimeout is the maximum age of the ControlIntent heartbeat before the failsafe trips.
	HeartbeatTimeout = 200 * time.Millisecond

	// FailsafeReminderInterval throttles the "still in failsafe" log line.
	FailsafeReminderInterval = 5 * time.Second

	// LockTimeoutLogInterval throttles lock timeout logging to avoid log storms at 100 Hz.
	LockTimeoutLogInterval = time.Second

	// InvalidDistanceMM is the sentinel the ranging layer reports for "no echo / out of range".
	// Any reading at or above DistanceCeilingMM is treated the same way.
	InvalidDistanceMM = 8190

	// DistanceCeilingMM is the highest distance still accepted as a valid reading.
	DistanceCeilingMM = 8000
)
