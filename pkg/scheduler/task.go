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

package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Core identifies the executor a task runs on.
type Core int

const (
	// CoreCritical runs the safety, control and power tasks. It never waits on the general core.
	CoreCritical Core = iota
	// CoreGeneral runs display and telemetry. Its tasks can be suspended.
	CoreGeneral
)

func (c Core) String() string {
	switch c {
	case CoreCritical:
		return "critical"
	case CoreGeneral:
		return "general"
	default:
		return fmt.Sprintf("Core(%d)", int(c))
	}
}

var (
	// ErrInvalidTask is returned by Register for a spec that cannot be scheduled.
	ErrInvalidTask = errors.New("invalid task")

	// ErrCriticalTaskCreation is returned by RegisterAll when a critical-core task could not be created.
	// The system must not start without all of its critical tasks.
	ErrCriticalTaskCreation = errors.New("critical task creation failed")
)

// TaskFunc is one run of a periodic task. ctx expires after the task period.
type TaskFunc func(ctx context.Context, now time.Time) error

// TaskSpec describes a periodic task.
type TaskSpec struct {
	Name     string
	Core     Core
	Priority int
	Period   time.Duration
	Run      TaskFunc
}

func (s TaskSpec) validate() error {
	switch {
	case s.Name == "":
		return fmt.Errorf("%w: empty name", ErrInvalidTask)
	case s.Core != CoreCritical && s.Core != CoreGeneral:
		return fmt.Errorf("%w: %s: unknown core %s", ErrInvalidTask, s.Name, s.Core)
	case s.Period <= 0:
		return fmt.Errorf("%w: %s: period must be positive, got %s", ErrInvalidTask, s.Name, s.Period)
	case s.Run == nil:
		return fmt.Errorf("%w: %s: no run func", ErrInvalidTask, s.Name)
	}

	return nil
}

// TaskStats is a read-only view of one task.
type TaskStats struct {
	Name         string        `json:"name"`
	Core         string        `json:"core"`
	Priority     int           `json:"priority"`
	Period       time.Duration `json:"period"`
	Runs         uint64        `json:"runs"`
	Errors       uint64        `json:"errors"`
	MissedTicks  uint64        `json:"missedTicks"`
	Overruns     uint64        `json:"overruns"`
	LastRun      time.Time     `json:"lastRun"`
	LastDuration time.Duration `json:"lastDuration"`
	Suspended    bool          `json:"suspended"`
}

type task struct {
	spec TaskSpec

	// next is only touched by the owning executor
	next time.Time

	mu           sync.Mutex
	runs         uint64
	errors       uint64
	missed       uint64
	overruns     uint64
	lastRun      time.Time
	lastDuration time.Duration
}

func (t *task) stats(suspended bool) TaskStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	return TaskStats{
		Name:         t.spec.Name,
		Core:         t.spec.Core.String(),
		Priority:     t.spec.Priority,
		Period:       t.spec.Period,
		Runs:         t.runs,
		Errors:       t.errors,
		MissedTicks:  t.missed,
		Overruns:     t.overruns,
		LastRun:      t.lastRun,
		LastDuration: t.lastDuration,
		Suspended:    suspended && t.spec.Core == CoreGeneral,
	}
}
