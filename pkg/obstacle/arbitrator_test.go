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

package obstacle_test

import (
	"math/rand"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/united-manufacturing-hub/motion-core/pkg/constants"
	"github.com/united-manufacturing-hub/motion-core/pkg/obstacle"
)

func at(d int) obstacle.Inputs {
	return obstacle.Inputs{DistanceMM: d, SensorHealthy: true, PedalPercent: 50, PedalValid: true}
}

var _ = Describe("Arbitrator", func() {
	var (
		arb *obstacle.Arbitrator
		t0  time.Time
	)

	BeforeEach(func() {
		arb = obstacle.NewArbitrator(obstacle.DefaultConfig())
		t0 = time.Unix(4000, 0)
	})

	DescribeTable("zones and factors without reaction or ACC",
		func(d int, zone obstacle.Zone, factor float64) {
			st := arb.Update(at(d), t0)
			Expect(st.Zone).To(Equal(zone))
			Expect(st.Factor).To(BeNumerically("~", factor, 1e-9))
		},
		Entry("emergency", 150, obstacle.ZoneEmergency, 0.0),
		Entry("zero distance", 0, obstacle.ZoneEmergency, 0.0),
		Entry("close lower edge", 200, obstacle.ZoneClose, 0.1),
		Entry("close middle", 350, obstacle.ZoneClose, 0.25),
		Entry("close upper edge", 499, obstacle.ZoneClose, 0.1+0.3*299.0/300.0),
		Entry("near forced", 800, obstacle.ZoneNear, 0.4),
		Entry("mid gentle", 1200, obstacle.ZoneMid, 0.9),
		Entry("alert", 3000, obstacle.ZoneAlert, 1.0),
		Entry("alert boundary", 4000, obstacle.ZoneAlert, 1.0),
		Entry("clear", 4001, obstacle.ZoneClear, 1.0),
		Entry("sentinel", constants.InvalidDistanceMM, obstacle.ZoneClear, 1.0),
		Entry("above ceiling", 8000, obstacle.ZoneClear, 1.0),
		Entry("negative", -5, obstacle.ZoneClear, 1.0),
	)

	It("sets the emergency brake below 200 mm", func() {
		st := arb.Update(at(199), t0)
		Expect(st.EmergencyBrake).To(BeTrue())
		Expect(st.Factor).To(BeZero())
	})

	It("forces zone 5 when the sensor is unhealthy whatever the distance", func() {
		for _, d := range []int{150, 900, 4000, constants.InvalidDistanceMM} {
			in := at(d)
			in.SensorHealthy = false
			st := arb.Update(in, t0)
			Expect(st.Zone).To(Equal(obstacle.ZoneEmergency))
			Expect(st.Factor).To(BeZero())
			Expect(st.SensorHealthy).To(BeFalse())
		}
	})

	It("gives ACC priority in zone 2", func() {
		in := at(1200)
		in.AccActive = true
		st := arb.Update(in, t0)
		Expect(st.Factor).To(Equal(1.0))
		Expect(st.AccPriority).To(BeTrue())
	})

	It("keeps the factor in [0,1] for arbitrary inputs", func() {
		r := rand.New(rand.NewSource(7))
		now := t0
		for i := 0; i < 5000; i++ {
			now = now.Add(10 * time.Millisecond)
			st := arb.Update(obstacle.Inputs{
				DistanceMM:    r.Intn(9000) - 500,
				SensorHealthy: r.Intn(10) > 0,
				PedalPercent:  r.Float64() * 100,
				PedalValid:    r.Intn(10) > 0,
				AccActive:     r.Intn(2) == 0,
			}, now)
			Expect(st.Factor).To(BeNumerically(">=", 0))
			Expect(st.Factor).To(BeNumerically("<=", 1))
			Expect(st.Zone).To(SatisfyAny(Equal(obstacle.ZoneFor(st.DistanceMM, arb.Config())), Equal(obstacle.ZoneEmergency)))
		}
	})

	Describe("child reacted", func() {
		step := func(pedal float64, now time.Time) obstacle.SafetyState {
			in := at(800)
			in.PedalPercent = pedal

			return arb.Update(in, now)
		}

		It("detects a pedal drop of more than 10 points", func() {
			step(60, t0)
			step(55, t0.Add(10*time.Millisecond))
			st := step(49, t0.Add(20*time.Millisecond))

			Expect(st.ChildReacted).To(BeTrue())
			Expect(st.ReactionAt).To(Equal(t0.Add(20 * time.Millisecond)))
			Expect(st.Factor).To(Equal(0.7))
		})

		It("does not count a drop of exactly 10 points", func() {
			step(60, t0)
			st := step(50, t0.Add(10*time.Millisecond))
			Expect(st.ChildReacted).To(BeFalse())
			Expect(st.Factor).To(Equal(0.4))
		})

		It("clears immediately on a flat pedal", func() {
			step(60, t0)
			Expect(step(40, t0.Add(10*time.Millisecond)).ChildReacted).To(BeTrue())
			st := step(40, t0.Add(20*time.Millisecond))
			Expect(st.ChildReacted).To(BeFalse())
			Expect(st.ReactionAt.IsZero()).To(BeTrue())
		})

		It("clears immediately on an increasing pedal", func() {
			step(60, t0)
			step(40, t0.Add(10*time.Millisecond))
			Expect(step(45, t0.Add(20*time.Millisecond)).ChildReacted).To(BeFalse())
		})

		It("clears on an invalid pedal", func() {
			step(60, t0)
			step(40, t0.Add(10*time.Millisecond))

			in := at(800)
			in.PedalValid = false
			Expect(arb.Update(in, t0.Add(20*time.Millisecond)).ChildReacted).To(BeFalse())
		})

		It("ignores a slow drift spread over more than the window", func() {
			pedal := 60.0
			now := t0
			step(pedal, now)
			for i := 0; i < 60; i++ {
				now = now.Add(100 * time.Millisecond)
				pedal -= 1.5
				Expect(step(pedal, now).ChildReacted).To(BeFalse())
			}
		})

		It("expires 500 ms after the last qualifying decrease", func() {
			step(80, t0)
			Expect(step(60, t0.Add(10*time.Millisecond)).ChildReacted).To(BeTrue())

			// The run from 80 keeps qualifying until it is older than the window (last at +410ms).
			// After that the slow decrease restarts the run and never qualifies again.
			now := t0.Add(10 * time.Millisecond)
			pedal := 60.0
			var st obstacle.SafetyState
			for now.Before(t0.Add(1000 * time.Millisecond)) {
				now = now.Add(100 * time.Millisecond)
				pedal -= 0.5
				st = step(pedal, now)
			}

			Expect(st.ChildReacted).To(BeFalse())
		})

		It("lets a reacting driver through zone 2 at full speed", func() {
			step(60, t0)
			in := at(1200)
			in.PedalPercent = 30
			st := arb.Update(in, t0.Add(10*time.Millisecond))
			Expect(st.Zone).To(Equal(obstacle.ZoneMid))
			Expect(st.Factor).To(Equal(1.0))
			Expect(st.AccPriority).To(BeFalse())
		})
	})

	Describe("SetConfig", func() {
		It("repairs unordered boundaries and clamps factors", func() {
			applied := arb.SetConfig(obstacle.Config{
				EmergencyMM:       300,
				CloseMM:           100,
				NearMM:            100,
				MidMM:             100,
				FarMM:             100,
				CloseMinFactor:    0.5,
				CloseMaxFactor:    0.2,
				NearReactedFactor: 2,
				NearForcedFactor:  -1,
				MidGentleFactor:   0.8,
			})

			Expect(applied.CloseMM).To(Equal(301))
			Expect(applied.NearMM).To(Equal(302))
			Expect(applied.MidMM).To(Equal(303))
			Expect(applied.FarMM).To(Equal(303))
			Expect(applied.CloseMaxFactor).To(Equal(0.5))
			Expect(applied.NearReactedFactor).To(Equal(1.0))
			Expect(applied.NearForcedFactor).To(BeZero())
			Expect(applied.ReactionWindow).To(Equal(500 * time.Millisecond))
			Expect(arb.Update(at(250), t0).Zone).To(Equal(obstacle.ZoneEmergency))
		})
	})
})
