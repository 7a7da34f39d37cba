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
	"net/http/httptest"
	"time"

	"github.com/goccy/go-json"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/motion-core/pkg/control"
	"github.com/united-manufacturing-hub/motion-core/pkg/hal/sim"
	"github.com/united-manufacturing-hub/motion-core/pkg/telemetry"
)

var _ = Describe("Publisher", func() {
	var (
		ctx       context.Context
		now       time.Time
		p         *control.Pipeline
		hub       *telemetry.Hub
		publisher *telemetry.Publisher
	)

	BeforeEach(func() {
		ctx = context.Background()
		now = time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
		p = control.NewPipeline(sim.NewVehicle(), control.DefaultConfig(), now)
		hub = telemetry.NewHub(zap.NewNop().Sugar())
		collector := telemetry.NewCollector(time.Second, func(context.Context) (telemetry.HostStats, error) {
			return telemetry.HostStats{CPUPercent: 12, MemoryPercent: 34}, nil
		})
		publisher = telemetry.NewPublisher(p, hub, collector, zap.NewNop().Sugar())
	})

	It("builds an empty frame before the first cycle", func() {
		frame := publisher.Frame(ctx, now)
		Expect(frame.Output).To(BeNil())
		Expect(frame.HUD).To(BeNil())
		Expect(frame.Host.MemoryPercent).To(Equal(34.0))
	})

	It("carries the last cycle and the HUD", func() {
		now = now.Add(10 * time.Millisecond)
		Expect(p.ControlTask(ctx, now)).To(Succeed())
		Expect(p.SafetyTask(ctx, now)).To(Succeed())
		Expect(p.DisplayTask(ctx, now)).To(Succeed())

		frame := publisher.Frame(ctx, now)
		Expect(frame.Output).NotTo(BeNil())
		Expect(frame.Output.Cycle).To(BeNumerically(">", 0))
		Expect(frame.HUD).NotTo(BeNil())
		Expect(frame.Timestamp).To(Equal(now))
	})

	It("broadcasts frames to connected clients", func() {
		srv := httptest.NewServer(hub)
		DeferCleanup(srv.Close)
		DeferCleanup(hub.Close)

		conn := dial(srv.URL)
		defer conn.Close()
		Eventually(hub.Clients).Should(Equal(1))

		Expect(publisher.Task(ctx, now)).To(Succeed())

		Expect(conn.SetReadDeadline(time.Now().Add(2 * time.Second))).To(Succeed())
		_, data, err := conn.ReadMessage()
		Expect(err).NotTo(HaveOccurred())

		var frame map[string]any
		Expect(json.Unmarshal(data, &frame)).To(Succeed())
		Expect(frame).To(HaveKey("energy"))
		Expect(frame["host"]).To(HaveKeyWithValue("cpuPercent", BeNumerically("==", 12)))
	})

	It("is a no-op without clients", func() {
		Expect(publisher.Task(ctx, now)).To(Succeed())
	})
})
