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

package scheduler_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/united-manufacturing-hub/motion-core/pkg/backoff"
	"github.com/united-manufacturing-hub/motion-core/pkg/scheduler"
	"github.com/united-manufacturing-hub/motion-core/pkg/starvationchecker"
)

type recorder struct {
	mu    sync.Mutex
	order []string
}

func (r *recorder) task(name string) scheduler.TaskFunc {
	return func(context.Context, time.Time) error {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.order = append(r.order, name)

		return nil
	}
}

func (r *recorder) get() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]string(nil), r.order...)
}

func statsFor(s *scheduler.Scheduler, name string) scheduler.TaskStats {
	for _, st := range s.Stats() {
		if st.Name == name {
			return st
		}
	}

	Fail("task not found: " + name)

	return scheduler.TaskStats{}
}

var _ = Describe("Scheduler", func() {
	var (
		ctx   context.Context
		t0    time.Time
		now   time.Time
		sched *scheduler.Scheduler
		rec   *recorder
	)

	BeforeEach(func() {
		ctx = context.Background()
		t0 = time.Unix(10000, 0)
		now = t0
		rec = &recorder{}
		sched = scheduler.NewScheduler(scheduler.WithClock(func() time.Time { return now }))
	})

	Describe("Register", func() {
		It("rejects invalid specs", func() {
			Expect(sched.Register(scheduler.TaskSpec{Name: "", Period: time.Millisecond, Run: rec.task("x")})).
				To(MatchError(scheduler.ErrInvalidTask))
			Expect(sched.Register(scheduler.TaskSpec{Name: "a", Period: 0, Run: rec.task("a")})).
				To(MatchError(scheduler.ErrInvalidTask))
			Expect(sched.Register(scheduler.TaskSpec{Name: "a", Period: time.Millisecond})).
				To(MatchError(scheduler.ErrInvalidTask))
			Expect(sched.Register(scheduler.TaskSpec{Name: "a", Core: scheduler.Core(7), Period: time.Millisecond, Run: rec.task("a")})).
				To(MatchError(scheduler.ErrInvalidTask))
		})

		It("rejects duplicate names", func() {
			spec := scheduler.TaskSpec{Name: "a", Period: time.Millisecond, Run: rec.task("a")}
			Expect(sched.Register(spec)).To(Succeed())
			Expect(sched.Register(spec)).To(MatchError(scheduler.ErrInvalidTask))
		})

		It("bounds the number of tasks per core", func() {
			var err error
			for i := 0; err == nil && i < 100; i++ {
				err = sched.Register(scheduler.TaskSpec{Name: fmt.Sprintf("t%d", i), Period: time.Millisecond, Run: rec.task("t")})
			}
			Expect(err).To(MatchError(scheduler.ErrInvalidTask))
		})
	})

	Describe("RegisterAll", func() {
		It("aborts on a critical task failure", func() {
			err := sched.RegisterAll([]scheduler.TaskSpec{
				{Name: "safety", Core: scheduler.CoreCritical, Period: 10 * time.Millisecond, Run: rec.task("safety")},
				{Name: "control", Core: scheduler.CoreCritical, Period: 0, Run: rec.task("control")},
				{Name: "display", Core: scheduler.CoreGeneral, Period: 33 * time.Millisecond, Run: rec.task("display")},
			})

			Expect(err).To(MatchError(scheduler.ErrCriticalTaskCreation))
			Expect(errors.Is(err, scheduler.ErrInvalidTask)).To(BeTrue())
			Expect(backoff.IsPermanentError(err)).To(BeTrue())
			Expect(sched.Stats()).To(HaveLen(1))
		})

		It("skips a failing non-critical task", func() {
			err := sched.RegisterAll([]scheduler.TaskSpec{
				{Name: "safety", Core: scheduler.CoreCritical, Period: 10 * time.Millisecond, Run: rec.task("safety")},
				{Name: "display", Core: scheduler.CoreGeneral, Period: 0, Run: rec.task("display")},
				{Name: "telemetry", Core: scheduler.CoreGeneral, Period: 100 * time.Millisecond, Run: rec.task("telemetry")},
			})

			Expect(err).NotTo(HaveOccurred())
			names := []string{}
			for _, st := range sched.Stats() {
				names = append(names, st.Name)
			}
			Expect(names).To(Equal([]string{"safety", "telemetry"}))
		})
	})

	Describe("dispatch", func() {
		BeforeEach(func() {
			Expect(sched.RegisterAll([]scheduler.TaskSpec{
				{Name: "power", Core: scheduler.CoreCritical, Priority: 1, Period: 100 * time.Millisecond, Run: rec.task("power")},
				{Name: "safety", Core: scheduler.CoreCritical, Priority: 3, Period: 10 * time.Millisecond, Run: rec.task("safety")},
				{Name: "control", Core: scheduler.CoreCritical, Priority: 2, Period: 10 * time.Millisecond, Run: rec.task("control")},
				{Name: "display", Core: scheduler.CoreGeneral, Priority: 2, Period: 33 * time.Millisecond, Run: rec.task("display")},
			})).To(Succeed())
		})

		It("runs due tasks in descending priority", func() {
			wake := sched.DispatchForTest(ctx, scheduler.CoreCritical, t0, t0)
			Expect(rec.get()).To(Equal([]string{"safety", "control", "power"}))
			Expect(wake).To(Equal(t0.Add(10 * time.Millisecond)))
		})

		It("runs only tasks whose deadline passed", func() {
			sched.DispatchForTest(ctx, scheduler.CoreCritical, t0, t0)
			now = t0.Add(10 * time.Millisecond)
			wake := sched.DispatchForTest(ctx, scheduler.CoreCritical, t0, now)

			Expect(rec.get()).To(Equal([]string{"safety", "control", "power", "safety", "control"}))
			Expect(wake).To(Equal(t0.Add(20 * time.Millisecond)))
		})

		It("advances by whole periods and counts skipped deadlines", func() {
			sched.DispatchForTest(ctx, scheduler.CoreCritical, t0, t0)
			now = t0.Add(35 * time.Millisecond)
			wake := sched.DispatchForTest(ctx, scheduler.CoreCritical, t0, now)

			Expect(wake).To(Equal(t0.Add(40 * time.Millisecond)))
			Expect(statsFor(sched, "safety").MissedTicks).To(Equal(uint64(2)))
			Expect(statsFor(sched, "safety").Runs).To(Equal(uint64(2)))
			Expect(statsFor(sched, "power").MissedTicks).To(BeZero())
		})

		It("does not run general tasks while suspended", func() {
			sched.SuspendNonCritical()
			Expect(sched.Suspended()).To(BeTrue())

			sched.DispatchForTest(ctx, scheduler.CoreGeneral, t0, t0)
			Expect(rec.get()).To(BeEmpty())
			Expect(statsFor(sched, "display").Suspended).To(BeTrue())

			sched.ResumeNonCritical()
			now = t0.Add(33 * time.Millisecond)
			sched.DispatchForTest(ctx, scheduler.CoreGeneral, t0, now)
			Expect(rec.get()).To(Equal([]string{"display"}))
		})

		It("keeps critical tasks running while general tasks are suspended", func() {
			sched.SuspendNonCritical()
			sched.DispatchForTest(ctx, scheduler.CoreCritical, t0, t0)
			Expect(rec.get()).To(HaveLen(3))
			Expect(statsFor(sched, "safety").Suspended).To(BeFalse())
		})
	})

	Describe("task execution", func() {
		It("gives every run a context bounded by the period", func() {
			var deadline time.Time
			var hasDeadline bool
			Expect(sched.Register(scheduler.TaskSpec{
				Name: "bounded", Period: 10 * time.Millisecond,
				Run: func(ctx context.Context, _ time.Time) error {
					deadline, hasDeadline = ctx.Deadline()

					return nil
				},
			})).To(Succeed())

			sched.DispatchForTest(ctx, scheduler.CoreCritical, t0, t0)
			Expect(hasDeadline).To(BeTrue())
			Expect(time.Until(deadline)).To(BeNumerically("<=", 10*time.Millisecond))
		})

		It("counts errors but ignores ignored errors", func() {
			calls := 0
			Expect(sched.Register(scheduler.TaskSpec{
				Name: "flaky", Period: 10 * time.Millisecond,
				Run: func(context.Context, time.Time) error {
					calls++
					if calls == 1 {
						return errors.New("boom")
					}

					return backoff.NewIgnoredError(errors.New("frame skipped"))
				},
			})).To(Succeed())

			sched.DispatchForTest(ctx, scheduler.CoreCritical, t0, t0)
			now = t0.Add(10 * time.Millisecond)
			sched.DispatchForTest(ctx, scheduler.CoreCritical, t0, now)

			Expect(statsFor(sched, "flaky").Runs).To(Equal(uint64(2)))
			Expect(statsFor(sched, "flaky").Errors).To(Equal(uint64(1)))
		})

		It("records overruns measured on the scheduler clock", func() {
			Expect(sched.Register(scheduler.TaskSpec{
				Name: "slow", Period: 10 * time.Millisecond,
				Run: func(context.Context, time.Time) error {
					now = now.Add(25 * time.Millisecond)

					return nil
				},
			})).To(Succeed())

			sched.DispatchForTest(ctx, scheduler.CoreCritical, t0, t0)
			st := statsFor(sched, "slow")
			Expect(st.Overruns).To(Equal(uint64(1)))
			Expect(st.LastDuration).To(Equal(25 * time.Millisecond))
		})

		It("touches the starvation checker on every run", func() {
			checker := starvationchecker.NewStarvationChecker()
			sched = scheduler.NewScheduler(
				scheduler.WithClock(func() time.Time { return now }),
				scheduler.WithStarvationChecker(checker),
			)
			Expect(sched.Register(scheduler.TaskSpec{Name: "safety", Period: 10 * time.Millisecond, Run: rec.task("safety")})).To(Succeed())

			now = t0.Add(5 * time.Millisecond)
			sched.DispatchForTest(ctx, scheduler.CoreCritical, t0, now)
			Expect(checker.GetLastRunTime("safety")).To(Equal(now))
			Expect(checker.CheckOnce(now.Add(40 * time.Millisecond))).To(BeEmpty())
			Expect(checker.CheckOnce(now.Add(60 * time.Millisecond))).To(HaveLen(1))
		})
	})

	Describe("Start", func() {
		It("runs both executors until the context is cancelled", func() {
			sched = scheduler.NewScheduler()
			var critical, general atomic.Int64
			Expect(sched.RegisterAll([]scheduler.TaskSpec{
				{Name: "c", Core: scheduler.CoreCritical, Period: 2 * time.Millisecond, Run: func(context.Context, time.Time) error {
					critical.Add(1)

					return nil
				}},
				{Name: "g", Core: scheduler.CoreGeneral, Period: 2 * time.Millisecond, Run: func(context.Context, time.Time) error {
					general.Add(1)

					return nil
				}},
			})).To(Succeed())

			runCtx, cancel := context.WithCancel(ctx)
			done := make(chan error, 1)
			go func() { done <- sched.Start(runCtx) }()

			Eventually(func() int64 { return critical.Load() }).Should(BeNumerically(">=", 5))
			Eventually(func() int64 { return general.Load() }).Should(BeNumerically(">=", 5))

			cancel()
			Eventually(done).Should(Receive(BeNil()))
			Expect(sched.Register(scheduler.TaskSpec{Name: "late", Period: time.Millisecond, Run: rec.task("late")})).
				To(MatchError(scheduler.ErrInvalidTask))
		})
	})
})
