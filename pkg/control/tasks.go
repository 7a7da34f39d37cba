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

package control

import (
	"github.com/united-manufacturing-hub/motion-core/pkg/constants"
	"github.com/united-manufacturing-hub/motion-core/pkg/scheduler"
)

// DefaultTasks returns the standard task set. telemetry may be nil when no telemetry sink is running.
func DefaultTasks(p *Pipeline, telemetry scheduler.TaskFunc) []scheduler.TaskSpec {
	specs := []scheduler.TaskSpec{
		{Name: TaskSafety, Core: scheduler.CoreCritical, Priority: 3, Period: constants.SafetyTaskPeriod, Run: p.SafetyTask},
		{Name: TaskControl, Core: scheduler.CoreCritical, Priority: 2, Period: constants.ControlTaskPeriod, Run: p.ControlTask},
		{Name: TaskPower, Core: scheduler.CoreCritical, Priority: 1, Period: constants.PowerTaskPeriod, Run: p.PowerTask},
		{Name: TaskDisplay, Core: scheduler.CoreGeneral, Priority: 2, Period: constants.DisplayTaskPeriod, Run: p.DisplayTask},
	}

	if telemetry != nil {
		specs = append(specs, scheduler.TaskSpec{
			Name:     TaskTelemetry,
			Core:     scheduler.CoreGeneral,
			Priority: 1,
			Period:   constants.TelemetryTaskPeriod,
			Run:      telemetry,
		})
	}

	return specs
}
