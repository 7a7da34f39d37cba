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

package watchdog

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/motion-core/pkg/hal"
	"github.com/united-manufacturing-hub/motion-core/pkg/logger"
	"github.com/united-manufacturing-hub/motion-core/pkg/metrics"
	"github.com/united-manufacturing-hub/motion-core/pkg/sentry"
)

/*
# Introduction

	Watchdog sits between the periodic tasks and the hardware watchdog.
	Tasks register a heartbeat and report it every cycle. The check loop feeds the
	hardware watchdog only while every heartbeat is fresh.

## Example
		w := watchdog.NewWatchdog(vehicle, resetHook)
		id, err := w.RegisterHeartbeat("safety", 0, 100*time.Millisecond)
		go w.Start(ctx, 50*time.Millisecond)
		for {
			// one safety cycle
			w.ReportHeartbeatStatus(id, watchdog.StatusOK)
		}

## Logic
	Each check compares every heartbeat against its timeout. If one is overdue,
	reported an error, or sent more than warningsUntilFailure consecutive warnings,
	the watchdog trips: it stops feeding for good, reports to Sentry and calls the
	reset hook. The hardware watchdog then resets the board.
	A tripped watchdog never feeds again in this process.
*/

// ErrTripped is returned by Check once the watchdog has stopped feeding.
var ErrTripped = errors.New("watchdog tripped")

// HeartbeatStatus is the status of a heartbeat.
type HeartbeatStatus int

const (
	StatusOK HeartbeatStatus = iota
	StatusWarning
	StatusError
)

func (s HeartbeatStatus) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusWarning:
		return "WARNING"
	case StatusError:
		return "ERROR"
	default:
		return fmt.Sprintf("HeartbeatStatus(%d)", int(s))
	}
}

type heartbeat struct {
	name                 string
	id                   uuid.UUID
	timeout              time.Duration
	warningsUntilFailure uint32

	lastStatus HeartbeatStatus
	lastTime   time.Time
	warnings   uint32
	received   uint64

	file string
	line int
}

// HeartbeatInfo is a read-only view of one heartbeat.
type HeartbeatInfo struct {
	Name     string    `json:"name"`
	ID       string    `json:"id"`
	Status   string    `json:"status"`
	LastTime time.Time `json:"lastTime"`
	Received uint64    `json:"received"`
}

// Watchdog is safe for concurrent use.
type Watchdog struct {
	mu         sync.Mutex
	heartbeats map[uuid.UUID]*heartbeat
	names      map[string]uuid.UUID

	feeder  hal.HardwareWatchdog
	onReset func(reason string)

	tripped    atomic.Bool
	tripReason atomic.Value
	feeds      atomic.Uint64

	watchdogID uuid.UUID
	clock      func() time.Time
	logger     *zap.SugaredLogger
}

// Option configures a Watchdog.
type Option func(*Watchdog)

// WithClock replaces time.Now. Used by tests.
func WithClock(clock func() time.Time) Option {
	return func(w *Watchdog) { w.clock = clock }
}

// NewWatchdog returns a watchdog feeding feeder. onReset is called once when it trips and may be nil.
func NewWatchdog(feeder hal.HardwareWatchdog, onReset func(reason string), opts ...Option) *Watchdog {
	w := &Watchdog{
		heartbeats: make(map[uuid.UUID]*heartbeat),
		names:      make(map[string]uuid.UUID),
		feeder:     feeder,
		onReset:    onReset,
		watchdogID: uuid.New(),
		clock:      time.Now,
		logger:     logger.For(logger.ComponentWatchdog),
	}

	for _, opt := range opts {
		opt(w)
	}

	return w
}

// RegisterHeartbeat registers a named heartbeat and returns its identifier.
// warningsUntilFailure == 0 disables the warning limit. timeout == 0 disables the age check.
func (w *Watchdog) RegisterHeartbeat(name string, warningsUntilFailure uint32, timeout time.Duration) (uuid.UUID, error) {
	id := uuid.New()
	_, file, line, _ := runtime.Caller(1)

	w.mu.Lock()
	defer w.mu.Unlock()

	if existing, ok := w.names[name]; ok {
		return uuid.Nil, fmt.Errorf("heartbeat already registered: %s (%s)", name, existing)
	}

	w.heartbeats[id] = &heartbeat{
		name:                 name,
		id:                   id,
		timeout:              timeout,
		warningsUntilFailure: warningsUntilFailure,
		lastTime:             w.clock(),
		file:                 file,
		line:                 line,
	}
	w.names[name] = id

	w.logger.Infof("[%s] Registered heartbeat %s (%s), timeout %s", w.watchdogID, name, id, timeout)

	return id, nil
}

// UnregisterHeartbeat removes a heartbeat. Call this when the task exits normally.
func (w *Watchdog) UnregisterHeartbeat(id uuid.UUID) {
	w.mu.Lock()
	defer w.mu.Unlock()

	hb, ok := w.heartbeats[id]
	if !ok {
		w.logger.Warnf("[%s] Unregister heartbeat called with unknown identifier: %s", w.watchdogID, id)

		return
	}

	delete(w.heartbeats, id)
	delete(w.names, hb.name)
}

// ReportHeartbeatStatus records a heartbeat. An error, or too many consecutive warnings, trips the watchdog.
func (w *Watchdog) ReportHeartbeatStatus(id uuid.UUID, status HeartbeatStatus) {
	w.mu.Lock()

	hb, ok := w.heartbeats[id]
	if !ok {
		w.mu.Unlock()
		sentry.ReportIssuef(sentry.IssueTypeError, w.logger, "Report heartbeat called with unknown identifier: %s", id)

		return
	}

	hb.lastStatus = status
	hb.lastTime = w.clock()
	hb.received++

	var reason string

	switch status {
	case StatusOK:
		hb.warnings = 0
	case StatusWarning:
		hb.warnings++
		if hb.warningsUntilFailure != 0 && hb.warnings >= hb.warningsUntilFailure {
			reason = fmt.Sprintf("heartbeat %s sent too many consecutive warnings (%d/%d)", hb.name, hb.warnings, hb.warningsUntilFailure)
		}
	case StatusError:
		reason = fmt.Sprintf("heartbeat %s reported an error", hb.name)
	}
	w.mu.Unlock()

	if reason != "" {
		w.trip(reason)
	}
}

// Check runs one round: it trips on an overdue heartbeat and otherwise feeds the hardware watchdog.
func (w *Watchdog) Check(now time.Time) error {
	if w.tripped.Load() {
		return ErrTripped
	}

	if reason := w.overdue(now); reason != "" {
		w.trip(reason)

		return ErrTripped
	}

	if err := w.feeder.Feed(); err != nil {
		metrics.IncErrorCountAndLog(metrics.ComponentWatchdog, "feed", err, w.logger)

		return fmt.Errorf("failed to feed hardware watchdog: %w", err)
	}

	w.feeds.Add(1)

	return nil
}

func (w *Watchdog) overdue(now time.Time) string {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, hb := range w.heartbeats {
		if hb.timeout == 0 {
			continue
		}

		if age := now.Sub(hb.lastTime); age > hb.timeout {
			return fmt.Sprintf("heartbeat %s too old: %s (limit %s, registered at %s:%d, lifetime heartbeats %d)",
				hb.name, age, hb.timeout, hb.file, hb.line, hb.received)
		}
	}

	return ""
}

func (w *Watchdog) trip(reason string) {
	if w.tripped.Swap(true) {
		return
	}

	w.tripReason.Store(reason)
	metrics.IncErrorCount(metrics.ComponentWatchdog, "trip")
	sentry.ReportSafetyIssuef(sentry.IssueTypeError, w.logger, logger.ComponentWatchdog, "tripped",
		"[%s] watchdog tripped, hardware watchdog no longer fed: %s", w.watchdogID, reason)

	if w.onReset != nil {
		w.onReset(reason)
	}
}

// Start runs Check every interval until ctx is done.
func (w *Watchdog) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Infof("[%s] Watchdog stopped", w.watchdogID)

			return
		case <-ticker.C:
			if err := w.Check(w.clock()); err != nil && !errors.Is(err, ErrTripped) {
				w.logger.Warnf("[%s] %v", w.watchdogID, err)
			}
		}
	}
}

// Tripped reports whether the watchdog stopped feeding, and why.
func (w *Watchdog) Tripped() (bool, string) {
	if !w.tripped.Load() {
		return false, ""
	}

	reason, _ := w.tripReason.Load().(string)

	return true, reason
}

// Feeds returns the number of successful hardware feeds.
func (w *Watchdog) Feeds() uint64 {
	return w.feeds.Load()
}

// Heartbeats returns every registered heartbeat sorted by name.
func (w *Watchdog) Heartbeats() []HeartbeatInfo {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := make([]HeartbeatInfo, 0, len(w.heartbeats))
	for _, hb := range w.heartbeats {
		out = append(out, HeartbeatInfo{
			Name:     hb.name,
			ID:       hb.id.String(),
			Status:   hb.lastStatus.String(),
			LastTime: hb.lastTime,
			Received: hb.received,
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })

	return out
}
