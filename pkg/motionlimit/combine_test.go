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

package motionlimit_test

import (
	"math"
	"math/rand"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/united-manufacturing-hub/motion-core/pkg/motionlimit"
)

type fixedLimiter struct {
	power, steering, speed float64
}

func (f fixedLimiter) LimitPower(p float64) float64    { return p * f.power }
func (f fixedLimiter) LimitSteering(l float64) float64 { return l * f.steering }
func (f fixedLimiter) LimitSpeed(k float64) float64    { return k * f.speed }
func (f fixedLimiter) Multipliers() (float64, float64, float64) {
	return f.power, f.steering, f.speed
}

var _ = Describe("Combine", func() {
	It("multiplies the three factors", func() {
		Expect(motionlimit.Combine(1, 0.5, 0.6)).To(BeNumerically("~", 0.3, 1e-9))
	})

	It("is zero when any factor is zero", func() {
		Expect(motionlimit.Combine(1, 0, 1)).To(BeZero())
		Expect(motionlimit.Combine(0, 1, 1)).To(BeZero())
	})

	It("clamps out-of-range and NaN inputs", func() {
		Expect(motionlimit.Combine(2, 1, 1)).To(Equal(1.0))
		Expect(motionlimit.Combine(-1, 1, 1)).To(BeZero())
		Expect(motionlimit.Combine(math.NaN(), 1, 1)).To(BeZero())
		Expect(motionlimit.Combine(1, math.Inf(1), 0.5)).To(Equal(0.5))
	})

	It("stays within [0,1] for arbitrary inputs", func() {
		r := rand.New(rand.NewSource(42))
		for i := 0; i < 10000; i++ {
			f := motionlimit.Combine(r.Float64()*4-2, r.Float64()*4-2, r.Float64()*4-2)
			Expect(f).To(BeNumerically(">=", 0))
			Expect(f).To(BeNumerically("<=", 1))
		}
	})
})

var _ = Describe("Apply", func() {
	It("gates inputs by the limiter and scales traction by the final factor", func() {
		cmd := motionlimit.Apply(fixedLimiter{0.7, 0.85, 0.7}, motionlimit.Demand{
			PedalPercent:    80,
			SteeringLevel:   50,
			SpeedCeilingKmh: 10,
		}, 0.5)

		Expect(cmd.TractionPercent).To(BeNumerically("~", 80*0.7*0.5, 1e-9))
		Expect(cmd.SteeringLevel).To(BeNumerically("~", 42.5, 1e-9))
		Expect(cmd.SpeedCeilingKmh).To(BeNumerically("~", 7, 1e-9))
		Expect(cmd.PowerMultiplier).To(Equal(0.7))
		Expect(cmd.SteeringMultiplier).To(Equal(0.85))
		Expect(cmd.SpeedMultiplier).To(Equal(0.7))
		Expect(cmd.FinalFactor).To(Equal(0.5))
		Expect(cmd.Zero).To(BeFalse())
	})

	It("clamps the pedal to [0,100]", func() {
		cmd := motionlimit.Apply(fixedLimiter{1, 1, 1}, motionlimit.Demand{PedalPercent: 150}, 1)
		Expect(cmd.TractionPercent).To(Equal(100.0))

		cmd = motionlimit.Apply(fixedLimiter{1, 1, 1}, motionlimit.Demand{PedalPercent: math.NaN()}, 1)
		Expect(cmd.TractionPercent).To(BeZero())
	})

	It("produces zero traction for a zero final factor", func() {
		cmd := motionlimit.Apply(fixedLimiter{1, 1, 1}, motionlimit.Demand{PedalPercent: 100}, 0)
		Expect(cmd.TractionPercent).To(BeZero())
	})
})

var _ = Describe("GearTable", func() {
	It("maps known gears and zeroes unknown ones", func() {
		table := motionlimit.DefaultGearTable()
		Expect(table.Multiplier(motionlimit.GearHigh)).To(Equal(1.0))
		Expect(table.Multiplier(motionlimit.GearNeutral)).To(BeZero())
		Expect(table.Multiplier(motionlimit.Gear(7))).To(BeZero())
	})

	It("clamps on clone", func() {
		table := motionlimit.GearTable{motionlimit.GearLow: 1.5, motionlimit.GearReverse: -0.2}.Clone()
		Expect(table[motionlimit.GearLow]).To(Equal(1.0))
		Expect(table[motionlimit.GearReverse]).To(BeZero())
	})

	It("names gears", func() {
		Expect(motionlimit.GearReverse.String()).To(Equal("R"))
		Expect(motionlimit.Gear(9).String()).To(Equal("Gear(9)"))
	})

	It("parses gear names", func() {
		g, err := motionlimit.ParseGear("1")
		Expect(err).NotTo(HaveOccurred())
		Expect(g).To(Equal(motionlimit.GearLow))

		_, err = motionlimit.ParseGear("D")
		Expect(err).To(HaveOccurred())
	})
})
