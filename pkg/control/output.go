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
	"sync"
	"time"

	"github.com/tiendc/go-deepcopy"

	"github.com/united-manufacturing-hub/motion-core/pkg/degradation"
	"github.com/united-manufacturing-hub/motion-core/pkg/failsafe"
	"github.com/united-manufacturing-hub/motion-core/pkg/following"
	"github.com/united-manufacturing-hub/motion-core/pkg/motionlimit"
	"github.com/united-manufacturing-hub/motion-core/pkg/obstacle"
	"github.com/united-manufacturing-hub/motion-core/pkg/sharedstate"
)

// CycleOutput is everything one safety cycle decided. Once published it is never modified.
type CycleOutput struct {
	Timestamp time.Time `json:"timestamp"`
	Cycle     uint64    `json:"cycle"`

	Failsafe    failsafe.Status            `json:"failsafe"`
	Degradation degradation.Status         `json:"degradation"`
	Obstacle    obstacle.SafetyState       `json:"obstacle"`
	Following   following.Status           `json:"following"`
	Gear        string                     `json:"gear"`
	GearFactor  float64                    `json:"gearFactor"`
	FinalFactor float64                    `json:"finalFactor"`
	Command     motionlimit.Command        `json:"command"`
	Sensors     sharedstate.SensorSnapshot `json:"sensors"`

	// Held is set when actuation was forced to zero this cycle, HeldReason says why.
	Held       bool   `json:"held"`
	HeldReason string `json:"heldReason,omitempty"`
	SafeBoot   bool   `json:"safeBoot"`
}

// OutputStore publishes the latest CycleOutput to readers on the general core.
// Readers get their own copy and never block the safety task for longer than a copy.
type OutputStore struct {
	mu     sync.RWMutex
	latest *CycleOutput
}

// NewOutputStore returns an empty store.
func NewOutputStore() *OutputStore {
	return &OutputStore{}
}

// Publish stores a deep copy of out.
func (s *OutputStore) Publish(out CycleOutput) error {
	var clone CycleOutput
	if err := deepcopy.Copy(&clone, &out); err != nil {
		return err
	}

	s.mu.Lock()
	s.latest = &clone
	s.mu.Unlock()

	return nil
}

// Latest returns a deep copy of the last published output. ok is false before the first publish.
func (s *OutputStore) Latest() (out CycleOutput, ok bool) {
	s.mu.RLock()
	latest := s.latest
	s.mu.RUnlock()

	if latest == nil {
		return CycleOutput{}, false
	}

	if err := deepcopy.Copy(&out, latest); err != nil {
		return CycleOutput{}, false
	}

	return out, true
}
