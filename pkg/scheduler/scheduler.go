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

// Package scheduler runs the periodic tasks of both cores.
//
// Each core gets one executor goroutine. An executor sleeps until the earliest
// absolute deadline of its tasks, then runs every due task in descending
// priority. Deadlines advance by whole periods, so a task that overran does
// not try to catch up: the skipped deadlines are counted as misses instead.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/united-manufacturing-hub/motion-core/pkg/backoff"
	"github.com/united-manufacturing-hub/motion-core/pkg/constants"
	"github.com/united-manufacturing-hub/motion-core/pkg/logger"
	"github.com/united-manufacturing-hub/motion-core/pkg/metrics"
	"github.com/united-manufacturing-hub/motion-core/pkg/sentry"
	"github.com/united-manufacturing-hub/motion-core/pkg/starvationchecker"
)

// Scheduler owns the task tables of both cores.
type Scheduler struct {
	mu      sync.RWMutex
	tasks   map[Core][]*task
	names   map[string]struct{}
	started bool

	suspended atomic.Bool

	starvation *starvationchecker.StarvationChecker
	clock      func() time.Time
	logger     *zap.SugaredLogger
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock replaces time.Now. Used by tests.
func WithClock(clock func() time.Time) Option {
	return func(s *Scheduler) { s.clock = clock }
}

// WithStarvationChecker makes the scheduler watch every registered task.
func WithStarvationChecker(checker *starvationchecker.StarvationChecker) Option {
	return func(s *Scheduler) { s.starvation = checker }
}

// NewScheduler returns an empty scheduler.
func NewScheduler(opts ...Option) *Scheduler {
	s := &Scheduler{
		tasks:  make(map[Core][]*task),
		names:  make(map[string]struct{}),
		clock:  time.Now,
		logger: logger.For(logger.ComponentScheduler),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Register validates spec and adds it to its core's task table.
func (s *Scheduler) Register(spec TaskSpec) error {
	if err := spec.validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("%w: %s: scheduler already started", ErrInvalidTask, spec.Name)
	}

	if _, ok := s.names[spec.Name]; ok {
		return fmt.Errorf("%w: %s: duplicate name", ErrInvalidTask, spec.Name)
	}

	if len(s.tasks[spec.Core]) >= constants.MaxTasksPerCore {
		return fmt.Errorf("%w: %s: %s core already has %d tasks", ErrInvalidTask, spec.Name, spec.Core, constants.MaxTasksPerCore)
	}

	s.names[spec.Name] = struct{}{}
	s.tasks[spec.Core] = append(s.tasks[spec.Core], &task{spec: spec})

	sort.SliceStable(s.tasks[spec.Core], func(i, j int) bool {
		return s.tasks[spec.Core][i].spec.Priority > s.tasks[spec.Core][j].spec.Priority
	})

	metrics.InitErrorCounter(metrics.ComponentScheduler, spec.Name)

	if s.starvation != nil {
		s.starvation.Watch(spec.Name, constants.StarvationThreshold*spec.Period, s.clock())
	}

	s.logger.Debugf("Registered task %s on %s core (priority %d, period %s)", spec.Name, spec.Core, spec.Priority, spec.Period)

	return nil
}

// RegisterAll registers specs in order. A critical-core task that fails returns an error
// wrapping ErrCriticalTaskCreation. A general-core task that fails is logged and skipped.
func (s *Scheduler) RegisterAll(specs []TaskSpec) error {
	for _, spec := range specs {
		err := s.Register(spec)
		if err == nil {
			continue
		}

		metrics.IncTaskCreationFailure(spec.Core.String(), spec.Name)

		if spec.Core == CoreCritical {
			return backoff.NewPermanentError(fmt.Errorf("%w: %s: %w", ErrCriticalTaskCreation, spec.Name, err))
		}

		sentry.ReportIssuef(sentry.IssueTypeWarning, s.logger, "[Scheduler.RegisterAll] skipping non-critical task %s: %v", spec.Name, err)
	}

	return nil
}

// Start runs one executor per core with at least one task and blocks until ctx is done
// or an executor fails.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()

		return fmt.Errorf("scheduler already started")
	}

	s.started = true

	cores := make(map[Core][]*task, len(s.tasks))
	for core, tasks := range s.tasks {
		cores[core] = append([]*task(nil), tasks...)
	}
	s.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)

	for core, tasks := range cores {
		if len(tasks) == 0 {
			continue
		}

		g.Go(func() error {
			return s.runExecutor(gctx, core, tasks)
		})
	}

	s.logger.Infof("Scheduler started with %d critical and %d general tasks", len(cores[CoreCritical]), len(cores[CoreGeneral]))

	return g.Wait()
}

func (s *Scheduler) runExecutor(ctx context.Context, core Core, tasks []*task) error {
	start := s.clock()
	for _, t := range tasks {
		t.next = start
	}

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Infof("%s executor stopped", core)

			return nil
		case <-timer.C:
		}

		wake := s.dispatch(ctx, tasks, s.clock())
		timer.Reset(wake.Sub(s.clock()))
	}
}

// dispatch runs every due task in priority order and returns the next wake-up time.
func (s *Scheduler) dispatch(ctx context.Context, tasks []*task, now time.Time) time.Time {
	suspended := s.suspended.Load()

	for _, t := range tasks {
		if ctx.Err() != nil {
			break
		}

		if now.Before(t.next) {
			continue
		}

		missed := uint64(now.Sub(t.next) / t.spec.Period)
		t.next = t.next.Add(time.Duration(missed+1) * t.spec.Period)

		if missed > 0 {
			t.mu.Lock()
			t.missed += missed
			t.mu.Unlock()
			metrics.AddDeadlinesMissed(t.spec.Core.String(), t.spec.Name, int(missed))
		}

		if suspended && t.spec.Core == CoreGeneral {
			s.touch(t.spec.Name, now)

			continue
		}

		s.runTask(ctx, t)
	}

	wake := tasks[0].next
	for _, t := range tasks[1:] {
		if t.next.Before(wake) {
			wake = t.next
		}
	}

	return wake
}

// runTask bounds each run by one period. Bus waits inside the run end at that deadline too,
// so a critical task can never stall its core for longer than its own period.
func (s *Scheduler) runTask(ctx context.Context, t *task) {
	period := t.spec.Period

	taskCtx, cancel := context.WithTimeout(ctx, period)
	defer cancel()

	start := s.clock()
	err := t.spec.Run(taskCtx, start)
	elapsed := s.clock().Sub(start)

	metrics.ObserveTaskCycle(t.spec.Core.String(), t.spec.Name, elapsed)
	s.touch(t.spec.Name, start)

	t.mu.Lock()
	t.runs++
	t.lastRun = start
	t.lastDuration = elapsed
	if elapsed > period {
		t.overruns++
	}
	if err != nil && !backoff.IsIgnoredError(err) {
		t.errors++
	}
	t.mu.Unlock()

	if elapsed > period {
		s.logger.Warnf("Task %s cycle time %v is greater than its period %v", t.spec.Name, elapsed, period)

		if elapsed > 2*period {
			s.logger.Errorf("Task %s cycle time %v is greater than 2*period %v", t.spec.Name, elapsed, period)
		}
	}

	if err == nil || backoff.IsIgnoredError(err) {
		return
	}

	err = backoff.CategorizeError(err)
	if backoff.IsPermanentError(err) {
		sentry.ReportTaskErrorf(s.logger, t.spec.Core.String(), t.spec.Name, "task %s failed permanently: %v", t.spec.Name, err)

		return
	}

	metrics.IncErrorCountAndLog(metrics.ComponentScheduler, t.spec.Name, err, s.logger)
}

func (s *Scheduler) touch(name string, now time.Time) {
	if s.starvation != nil {
		s.starvation.Touch(name, now)
	}
}

// SuspendNonCritical stops running general-core tasks. Their deadlines keep advancing.
func (s *Scheduler) SuspendNonCritical() {
	if !s.suspended.Swap(true) {
		s.logger.Info("Non-critical tasks suspended")
	}
}

// ResumeNonCritical resumes general-core tasks.
func (s *Scheduler) ResumeNonCritical() {
	if s.suspended.Swap(false) {
		s.logger.Info("Non-critical tasks resumed")
	}
}

// Suspended reports whether general-core tasks are suspended.
func (s *Scheduler) Suspended() bool {
	return s.suspended.Load()
}

// Stats returns a view of every task, critical core first, each core in dispatch order.
func (s *Scheduler) Stats() []TaskStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	suspended := s.suspended.Load()

	out := make([]TaskStats, 0, len(s.names))
	for _, core := range []Core{CoreCritical, CoreGeneral} {
		for _, t := range s.tasks[core] {
			out = append(out, t.stats(suspended))
		}
	}

	return out
}
