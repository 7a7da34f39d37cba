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
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/motion-core/pkg/config"
	"github.com/united-manufacturing-hub/motion-core/pkg/control"
	"github.com/united-manufacturing-hub/motion-core/pkg/degradation"
	"github.com/united-manufacturing-hub/motion-core/pkg/hal/sim"
	"github.com/united-manufacturing-hub/motion-core/pkg/scheduler"
	"github.com/united-manufacturing-hub/motion-core/pkg/telemetry"
	"github.com/united-manufacturing-hub/motion-core/pkg/watchdog"
)

type fakeTasks struct {
	mu        sync.Mutex
	suspended bool
}

func (f *fakeTasks) SuspendNonCritical() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.suspended = true
}

func (f *fakeTasks) ResumeNonCritical() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.suspended = false
}

func (f *fakeTasks) Suspended() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.suspended
}

func (f *fakeTasks) Stats() []scheduler.TaskStats {
	return []scheduler.TaskStats{{Name: control.TaskSafety, Core: "critical", Priority: 3, Period: 10 * time.Millisecond}}
}

type fakeWatchdog struct{}

func (fakeWatchdog) Tripped() (bool, string) { return false, "" }
func (fakeWatchdog) Feeds() uint64 { return 42 }

func (fakeWatchdog) Heartbeats() []watchdog.HeartbeatInfo {
	return []watchdog.HeartbeatInfo{{Name: control.TaskSafety, Status: "OK"}}
}

func do(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	return rec
}

func decode[T any](rec *httptest.ResponseRecorder) T {
	var v T
	Expect(json.Unmarshal(rec.Body.Bytes(), &v)).To(Succeed())

	return v
}

var _ = Describe("Server", func() {
	var (
		ctx     context.Context
		now     time.Time
		vehicle *sim.Vehicle
		p       *control.Pipeline
		tasks   *fakeTasks
		hub     *telemetry.Hub
		opts    []telemetry.ServerOption
	)

	BeforeEach(func() {
		ctx = context.Background()
		now = time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
		vehicle = sim.NewVehicle()
		p = control.NewPipeline(vehicle, control.DefaultConfig(), now)
		tasks = &fakeTasks{}
		hub = telemetry.NewHub(zap.NewNop().Sugar())
		opts = []telemetry.ServerOption{
			telemetry.WithTasks(tasks),
			telemetry.WithWatchdog(fakeWatchdog{}),
			telemetry.WithServerClock(func() time.Time { return now }),
		}
	})

	handler := func() http.Handler {
		return telemetry.NewServer(p, hub, zap.NewNop().Sugar(), opts...).Handler()
	}

	step := func() {
		now = now.Add(10 * time.Millisecond)
		Expect(p.ControlTask(ctx, now)).To(Succeed())
		Expect(p.SafetyTask(ctx, now)).To(Succeed())
		Expect(p.DisplayTask(ctx, now)).To(Succeed())
	}

	Describe("GET /status", func() {
		It("reports the last cycle and the component states", func() {
			vehicle.SetPedal(50, true)
			step()

			rec := do(handler(), http.MethodGet, "/status", "")
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Header().Get("Content-Type")).To(Equal("application/json"))

			body := decode[map[string]any](rec)
			Expect(body).To(HaveKey("output"))
			Expect(body).To(HaveKey("hud"))
			Expect(body["safeBoot"]).To(BeFalse())
			Expect(body["tasksSuspended"]).To(BeFalse())
			Expect(body["degradation"]).To(HaveKeyWithValue("state", "NORMAL"))
			Expect(body["following"]).To(HaveKeyWithValue("state", "DISABLED"))
			Expect(body["watchdog"]).To(HaveKeyWithValue("feeds", BeNumerically("==", 42)))
			Expect(body["tasks"]).To(HaveLen(1))
		})

		It("works before the first cycle", func() {
			rec := do(handler(), http.MethodGet, "/status", "")
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(decode[map[string]any](rec)).NotTo(HaveKey("output"))
		})
	})

	Describe("config", func() {
		It("returns the running config", func() {
			rec := do(handler(), http.MethodGet, "/config", "")
			Expect(rec.Code).To(Equal(http.StatusOK))

			cc := decode[config.ControlConfig](rec)
			Expect(cc.HeartbeatTimeout).To(Equal("200ms"))
			Expect(cc.Gears).To(HaveKeyWithValue("1", 0.5))
		})

		It("overlays a partial update and applies it", func() {
			rec := do(handler(), http.MethodPut, "/config", `{"heartbeatTimeout":"150ms","maxSpeedKmh":4}`)
			Expect(rec.Code).To(Equal(http.StatusOK), rec.Body.String())

			cfg := p.Config()
			Expect(cfg.HeartbeatTimeout).To(Equal(150 * time.Millisecond))
			Expect(cfg.MaxSpeedKmh).To(Equal(4.0))
			Expect(cfg.SensorMaxAge).To(Equal(control.DefaultConfig().SensorMaxAge))
			Expect(decode[config.ControlConfig](rec).HeartbeatTimeout).To(Equal("150ms"))
		})

		DescribeTable("rejects invalid updates and keeps the running config",
			func(body string) {
				rec := do(handler(), http.MethodPut, "/config", body)
				Expect(rec.Code).To(Equal(http.StatusBadRequest))
				Expect(decode[map[string]string](rec)).To(HaveKey("error"))
				Expect(p.Config().HeartbeatTimeout).To(Equal(200 * time.Millisecond))
			},
			Entry("malformed json", `{"heartbeatTimeout":`),
			Entry("bad duration", `{"heartbeatTimeout":"soon"}`),
			Entry("negative duration", `{"heartbeatTimeout":"-5ms"}`),
			Entry("unknown gear", `{"heartbeatTimeout":"150ms","gears":{"X":0.3}}`),
		)

		It("persists accepted updates when a config file is set", func() {
			path := filepath.Join(GinkgoT().TempDir(), "config.yaml")
			opts = append(opts, telemetry.WithConfigFile(path, config.DefaultConfig()))

			rec := do(handler(), http.MethodPut, "/config", `{"sensorMaxAge":"40ms"}`)
			Expect(rec.Code).To(Equal(http.StatusOK))

			loaded, err := config.Load(path, zap.NewNop().Sugar())
			Expect(err).NotTo(HaveOccurred())
			Expect(loaded.Control.SensorMaxAge).To(Equal("40ms"))
			Expect(loaded.Agent).To(Equal(config.DefaultConfig().Agent))
		})
	})

	Describe("POST /degradation/force", func() {
		It("forces the named state", func() {
			rec := do(handler(), http.MethodPost, "/degradation/force", `{"state":"limp"}`)
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(p.Degradation().State()).To(Equal(degradation.StateLimp))
			Expect(decode[map[string]any](rec)).To(HaveKeyWithValue("forced", true))
		})

		It("rejects unknown states", func() {
			rec := do(handler(), http.MethodPost, "/degradation/force", `{"state":"turbo"}`)
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
			Expect(p.Degradation().State()).To(Equal(degradation.StateNormal))
		})
	})

	Describe("POST /bootloop/reset", func() {
		It("is not found without a counter", func() {
			rec := do(handler(), http.MethodPost, "/bootloop/reset", "")
			Expect(rec.Code).To(Equal(http.StatusNotFound))
		})

		It("clears safe boot", func() {
			counter, err := watchdog.NewBootLoopCounter(watchdog.BootLoopConfig{
				Path:        filepath.Join(GinkgoT().TempDir(), "bootloop.yaml"),
				MaxAttempts: 1,
				Window:      time.Minute,
				StableAfter: time.Second,
			})
			Expect(err).NotTo(HaveOccurred())

			safe, err := counter.RecordBoot(now)
			Expect(err).NotTo(HaveOccurred())
			Expect(safe).To(BeTrue())

			opts = append(opts, telemetry.WithBootLoop(counter))
			rec := do(handler(), http.MethodPost, "/bootloop/reset", "")
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(counter.SafeBoot()).To(BeFalse())
			Expect(decode[watchdog.BootRecord](rec).Attempts).To(BeZero())
		})
	})

	Describe("tasks", func() {
		It("suspends and resumes non-critical tasks", func() {
			h := handler()

			rec := do(h, http.MethodPost, "/tasks/suspend", "")
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(tasks.Suspended()).To(BeTrue())
			Expect(decode[map[string]bool](rec)).To(HaveKeyWithValue("suspended", true))

			rec = do(h, http.MethodPost, "/tasks/resume", "")
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(tasks.Suspended()).To(BeFalse())
		})

		It("is not found without a scheduler", func() {
			opts = nil
			rec := do(handler(), http.MethodPost, "/tasks/suspend", "")
			Expect(rec.Code).To(Equal(http.StatusNotFound))
		})
	})

	It("serves telemetry over /ws", func() {
		srv := httptest.NewServer(handler())
		DeferCleanup(srv.Close)
		DeferCleanup(hub.Close)

		conn := dial(srv.URL + "/ws")
		defer conn.Close()
		Eventually(hub.Clients).Should(Equal(1))
	})
})
