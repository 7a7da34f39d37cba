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

package starvationchecker

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/motion-core/pkg/logger"
	"github.com/united-manufacturing-hub/motion-core/pkg/metrics"
	"github.com/united-manufacturing-hub/motion-core/pkg/sentry"
)

// StarvationChecker watches the periodic tasks for runs that stopped happening.
//
// Each task has its own threshold, typically several of its periods. The scheduler
// calls Touch after every dispatch. A background goroutine compares the last
// touch against the threshold and reports starvation through metrics and sentry.
// A task that is starved on the critical core is a liveness problem, the
// failsafe and the hardware watchdog handle the consequences.
type StarvationChecker struct {
	ctx    context.Context //nolint:containedctx // This is intentional for background service lifecycle
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *zap.SugaredLogger

	mutex sync.RWMutex
	tasks map[string]*watchedTask
}

type watchedTask struct {
	threshold time.Duration
	lastRun   time.Time
}

// Starved describes one task that exceeded its threshold.
type Starved struct {
	Task  string
	Since time.Duration
}

// NewStarvationChecker creates a checker without any tasks. Start launches the background loop.
func NewStarvationChecker() *StarvationChecker {
	return &StarvationChecker{
		logger: logger.For(logger.ComponentStarvationChecker),
		tasks:  make(map[string]*watchedTask),
	}
}

// Watch adds a task with its starvation threshold. now counts as its first run.
func (s *StarvationChecker) Watch(task string, threshold time.Duration, now time.Time) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.tasks[task] = &watchedTask{threshold: threshold, lastRun: now}
}

// Touch marks now as the most recent run of task.
func (s *StarvationChecker) Touch(task string, now time.Time) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if t, ok := s.tasks[task]; ok {
		t.lastRun = now
	}
}

// GetLastRunTime returns the last run of task, zero if the task is unknown.
func (s *StarvationChecker) GetLastRunTime(task string) time.Time {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if t, ok := s.tasks[task]; ok {
		return t.lastRun
	}

	return time.Time{}
}

// CheckOnce returns all tasks whose last run is older than their threshold at now, sorted by name.
func (s *StarvationChecker) CheckOnce(now time.Time) []Starved {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var starved []Starved

	for name, t := range s.tasks {
		since := now.Sub(t.lastRun)
		if since > t.threshold {
			starved = append(starved, Starved{Task: name, Since: since})
		}
	}

	sort.Slice(starved, func(i, j int) bool { return starved[i].Task < starved[j].Task })

	return starved
}

// Start launches the background check loop. Stop must be called to end it.
func (s *StarvationChecker) Start(interval time.Duration) {
	s.ctx, s.cancel = context.WithCancel(context.Background())

	s.wg.Add(1)

	go s.checkStarvationLoop(interval)

	s.logger.Infof("Starvation checker started with interval %s", interval)
}

func (s *StarvationChecker) checkStarvationLoop(interval time.Duration) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			for _, st := range s.CheckOnce(time.Now()) {
				metrics.AddStarvationTime(st.Task, interval.Seconds())
				sentry.ReportIssuef(sentry.IssueTypeWarning, s.logger,
					"[StarvationChecker.checkStarvationLoop] Task %s starved: %.3f seconds since last run", st.Task, st.Since.Seconds())
			}
		}
	}
}

// Stop terminates the background loop. It is a no-op if Start was never called.
func (s *StarvationChecker) Stop() {
	if s.cancel == nil {
		return
	}

	s.logger.Info("Stopping starvation checker")
	s.cancel()
	s.wg.Wait()
	s.logger.Info("Starvation checker stopped")
}
