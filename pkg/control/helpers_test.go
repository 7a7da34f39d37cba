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

package control_test

import (
	"context"
	"sync"
	"time"

	. "github.com/onsi/gomega"

	"github.com/united-manufacturing-hub/motion-core/pkg/control"
	"github.com/united-manufacturing-hub/motion-core/pkg/hal"
	"github.com/united-manufacturing-hub/motion-core/pkg/hal/sim"
)

const cycle = 10 * time.Millisecond

// rig drives a pipeline on a simulated vehicle with an explicit clock.
type rig struct {
	ctx     context.Context
	vehicle *sim.Vehicle
	p       *control.Pipeline
	now     time.Time
}

func newRig(cfg control.Config, opts ...control.Option) *rig {
	return newRigOn(func(v *sim.Vehicle) hal.Vehicle { return v }, cfg, opts...)
}

// newRigOn is newRig with the pipeline driving wrap(vehicle) instead of the bare simulator.
func newRigOn(wrap func(*sim.Vehicle) hal.Vehicle, cfg control.Config, opts ...control.Option) *rig {
	t0 := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	v := sim.NewVehicle()

	return &rig{
		ctx:     context.Background(),
		vehicle: v,
		p:       control.NewPipeline(wrap(v), cfg, t0, opts...),
		now:     t0,
	}
}

// step advances one period and runs control then safety, as both critical tasks do each period.
func (r *rig) step() control.CycleOutput {
	r.now = r.now.Add(cycle)
	Expect(r.p.ControlTask(r.ctx, r.now)).To(Succeed())
	Expect(r.p.SafetyTask(r.ctx, r.now)).To(Succeed())

	return r.latest()
}

// stepWithoutIntent keeps sampling sensors but never advances the intent heartbeat.
func (r *rig) stepWithoutIntent() control.CycleOutput {
	r.now = r.now.Add(cycle)
	_, err := r.p.SampleSensors(r.ctx, r.now)
	Expect(err).NotTo(HaveOccurred())
	Expect(r.p.SafetyTask(r.ctx, r.now)).To(Succeed())

	return r.latest()
}

func (r *rig) latest() control.CycleOutput {
	out, ok := r.p.Store().Latest()
	Expect(ok).To(BeTrue())

	return out
}

func (r *rig) press(bits uint16) {
	r.vehicle.SetButtons(bits)
	r.step()
	r.vehicle.SetButtons(0)
	r.step()
}

// unhealthyBus reports a failed I2C bus while every channel keeps reading valid.
type unhealthyBus struct {
	*sim.Vehicle
}

func (unhealthyBus) IsBusHealthy() bool { return false }

type fakeBoot struct {
	mu       sync.Mutex
	safe     bool
	stableAt time.Time
	calls    int
}

func (f *fakeBoot) SafeBoot() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.safe
}

func (f *fakeBoot) MarkStable(now time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++
	if f.stableAt.IsZero() {
		f.stableAt = now

		return true, nil
	}

	return false, nil
}
