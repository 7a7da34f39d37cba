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

package telemetry_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/united-manufacturing-hub/motion-core/pkg/telemetry"
)

var _ = Describe("Collector", func() {
	var (
		ctx   context.Context
		t0    time.Time
		calls int
		fail  bool
		c     *telemetry.Collector
	)

	BeforeEach(func() {
		ctx = context.Background()
		t0 = time.Unix(1000, 0)
		calls, fail = 0, false

		c = telemetry.NewCollector(time.Second, func(context.Context) (telemetry.HostStats, error) {
			calls++
			if fail {
				return telemetry.HostStats{}, errors.New("no procfs")
			}

			return telemetry.HostStats{CPUPercent: float64(10 * calls), MemoryPercent: 40}, nil
		})
	})

	It("samples at most once per interval", func() {
		s, err := c.Collect(ctx, t0)
		Expect(err).NotTo(HaveOccurred())
		Expect(s.CPUPercent).To(Equal(10.0))
		Expect(s.SampledAt).To(Equal(t0))

		s, _ = c.Collect(ctx, t0.Add(500*time.Millisecond))
		Expect(s.CPUPercent).To(Equal(10.0))
		Expect(calls).To(Equal(1))

		s, _ = c.Collect(ctx, t0.Add(time.Second))
		Expect(s.CPUPercent).To(Equal(20.0))
		Expect(calls).To(Equal(2))
	})

	It("keeps the previous values when sampling fails", func() {
		_, err := c.Collect(ctx, t0)
		Expect(err).NotTo(HaveOccurred())

		fail = true
		s, err := c.Collect(ctx, t0.Add(time.Second))
		Expect(err).To(MatchError("no procfs"))
		Expect(s.CPUPercent).To(Equal(10.0))
		Expect(s.MemoryPercent).To(Equal(40.0))

		// the failed attempt still counts as a sample for throttling
		_, err = c.Collect(ctx, t0.Add(1500*time.Millisecond))
		Expect(err).To(HaveOccurred())
		Expect(calls).To(Equal(2))
	})

	It("reads the real host", func() {
		s, err := telemetry.SampleHost(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(s.MemoryPercent).To(BeNumerically(">", 0))
		Expect(s.CPUPercent).To(BeNumerically(">=", 0))
	})
})
