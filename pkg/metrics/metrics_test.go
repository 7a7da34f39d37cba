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

package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
)

var _ = Describe("Safety gauges", func() {
	It("exports the degradation state and multipliers", func() {
		UpdateDegradation(2, 0.5, 0.6, 0.4)

		Expect(testutil.ToFloat64(degradationState)).To(Equal(2.0))
		Expect(testutil.ToFloat64(degradationMultiplier.WithLabelValues("power"))).To(Equal(0.5))
		Expect(testutil.ToFloat64(degradationMultiplier.WithLabelValues("steering"))).To(Equal(0.6))
		Expect(testutil.ToFloat64(degradationMultiplier.WithLabelValues("speed"))).To(Equal(0.4))
	})

	It("exports failsafe activity and trips", func() {
		before := testutil.ToFloat64(failsafeTrips)

		SetFailsafeActive(true)
		IncFailsafeTrips()
		Expect(testutil.ToFloat64(failsafeActive)).To(Equal(1.0))
		Expect(testutil.ToFloat64(failsafeTrips)).To(Equal(before + 1))

		SetFailsafeActive(false)
		Expect(testutil.ToFloat64(failsafeActive)).To(BeZero())
	})

	It("exports the arbitration factors", func() {
		UpdateObstacle(4, 0.25)
		UpdateFollowing(2, 0.6)
		SetFinalFactor(0.15)

		Expect(testutil.ToFloat64(obstacleZone)).To(Equal(4.0))
		Expect(testutil.ToFloat64(obstacleFactor)).To(Equal(0.25))
		Expect(testutil.ToFloat64(followingState)).To(Equal(2.0))
		Expect(testutil.ToFloat64(followingAdjustment)).To(Equal(0.6))
		Expect(testutil.ToFloat64(finalFactor)).To(Equal(0.15))
	})

	It("counts errors per component and instance", func() {
		InitErrorCounter(ComponentAPI, "test_instance")
		Expect(testutil.ToFloat64(errorCounter.WithLabelValues(ComponentAPI, "test_instance"))).To(BeZero())

		IncErrorCountAndLog(ComponentAPI, "test_instance", errors.New("encode failed"), zap.NewNop().Sugar()) //nolint:err113 // Test needs dynamic error
		IncErrorCount(ComponentAPI, "test_instance")
		Expect(testutil.ToFloat64(errorCounter.WithLabelValues(ComponentAPI, "test_instance"))).To(Equal(2.0))
	})

	It("counts bus lock timeouts and task timing", func() {
		IncBusLockTimeout("sensors", "read")
		AddDeadlinesMissed("critical", "safety", 3)
		ObserveTaskCycle("critical", "safety", 2*time.Millisecond)

		Expect(testutil.ToFloat64(busLockTimeouts.WithLabelValues("sensors", "read"))).To(BeNumerically(">=", 1))
		Expect(testutil.ToFloat64(deadlinesMissed.WithLabelValues("critical", "safety"))).To(BeNumerically(">=", 3))
	})
})

var _ = Describe("Metrics endpoint", func() {
	It("serves the registered vectors", func() {
		SetBootAttempts(2)
		SetHostUsage("cpu", 12.5)

		server := SetupMetricsEndpoint("127.0.0.1:0")
		DeferCleanup(server.Close)

		rec := httptest.NewRecorder()
		server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(ContainSubstring("umh_motion_boot_attempts 2"))
		Expect(rec.Body.String()).To(ContainSubstring(`umh_motion_host_usage_percent{resource="cpu"} 12.5`))
	})
})
