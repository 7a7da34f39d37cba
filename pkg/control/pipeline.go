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

package control

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/motion-core/pkg/constants"
	"github.com/united-manufacturing-hub/motion-core/pkg/degradation"
	"github.com/united-manufacturing-hub/motion-core/pkg/failsafe"
	"github.com/united-manufacturing-hub/motion-core/pkg/following"
	"github.com/united-manufacturing-hub/motion-core/pkg/hal"
	"github.com/united-manufacturing-hub/motion-core/pkg/logger"
	"github.com/united-manufacturing-hub/motion-core/pkg/obstacle"
	"github.com/united-manufacturing-hub/motion-core/pkg/sharedstate"
	"github.com/united-manufacturing-hub/motion-core/pkg/watchdog"
)

// Task names as registered with the scheduler and the watchdog.
const (
	TaskSafety    = "safety"
	TaskControl   = "control"
	TaskPower     = "power"
	TaskDisplay   = "display"
	TaskTelemetry = "telemetry"
)

// ErrBusRecoveryFailed is returned by the power task while the I2C bus stays down.
var ErrBusRecoveryFailed = errors.New("i2c bus recovery failed")

// BootGuard is the part of the boot-loop counter the pipeline uses.
type BootGuard interface {
	SafeBoot() bool
	MarkStable(now time.Time) (bool, error)
}

type watchdogLink struct {
	w   *watchdog.Watchdog
	ids map[string]uuid.UUID
}

// Pipeline owns every per-cycle component and exposes them as scheduler tasks.
// The safety, control and power tasks run on the critical core, display runs on the general core.
type Pipeline struct {
	cfgMu sync.RWMutex
	cfg   Config

	vehicle     hal.Vehicle
	bus         *sharedstate.Bus
	failsafe    *failsafe.Failsafe
	degradation *degradation.Engine
	obstacle    *obstacle.Arbitrator
	following   *following.Controller
	store       *OutputStore
	boot        BootGuard

	watchdog atomic.Pointer[watchdogLink]
	cycles   atomic.Uint64
	hud      atomic.Pointer[HUD]

	// owned by the safety task
	lastButtons uint16
	lastHold    string

	power powerState

	logger *zap.SugaredLogger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithBootGuard holds actuation at zero while guard reports safe boot, and lets the power task mark the boot stable.
func WithBootGuard(guard BootGuard) Option {
	return func(p *Pipeline) { p.boot = guard }
}

// WithBus replaces the default bus. Used by tests that need short lock timeouts.
func WithBus(bus *sharedstate.Bus) Option {
	return func(p *Pipeline) { p.bus = bus }
}

// NewPipeline wires the components around vehicle. now is the boot time.
func NewPipeline(vehicle hal.Vehicle, cfg Config, now time.Time, opts ...Option) *Pipeline {
	cfg = cfg.Sanitize()

	p := &Pipeline{
		vehicle: vehicle,
		store:   NewOutputStore(),
		logger:  logger.For(logger.ComponentSafetyTask),
	}

	for _, opt := range opts {
		opt(p)
	}

	if p.bus == nil {
		p.bus = sharedstate.NewBus(logger.For(logger.ComponentSharedState))
	}

	p.failsafe = failsafe.NewFailsafe(p.bus, vehicle, cfg.HeartbeatTimeout, now)
	p.degradation = degradation.NewEngine(cfg.Degradation, now)
	p.obstacle = obstacle.NewArbitrator(cfg.Obstacle)
	p.following = following.NewController(cfg.Following, now)

	cfg.Degradation = p.degradation.Config()
	cfg.Obstacle = p.obstacle.Config()
	cfg.Following = p.following.Config()
	p.cfg = cfg

	return p
}

// ApplyConfig validates and applies cfg to every component and returns what was applied.
// It is safe to call while the scheduler is running.
func (p *Pipeline) ApplyConfig(cfg Config) Config {
	cfg = cfg.Sanitize()

	p.failsafe.SetTimeout(cfg.HeartbeatTimeout)
	cfg.Degradation = p.degradation.SetConfig(cfg.Degradation)
	cfg.Obstacle = p.obstacle.SetConfig(cfg.Obstacle)
	cfg.Following = p.following.SetConfig(cfg.Following)

	p.cfgMu.Lock()
	p.cfg = cfg
	p.cfgMu.Unlock()

	p.logger.Infof("Applied configuration: heartbeat timeout %s, sensor max age %s, max speed %.1f km/h",
		cfg.HeartbeatTimeout, cfg.SensorMaxAge, cfg.MaxSpeedKmh)

	return cfg
}

// Config returns the applied configuration.
func (p *Pipeline) Config() Config {
	p.cfgMu.RLock()
	defer p.cfgMu.RUnlock()

	cfg := p.cfg
	cfg.Gears = p.cfg.Gears.Clone()

	return cfg
}

// AttachWatchdog registers a heartbeat for every critical task.
// A safety or control task that misses ten periods stops the hardware watchdog feed.
func (p *Pipeline) AttachWatchdog(w *watchdog.Watchdog) error {
	link := &watchdogLink{w: w, ids: make(map[string]uuid.UUID)}

	for _, hb := range []struct {
		name     string
		warnings uint32
		timeout  time.Duration
	}{
		{TaskSafety, 0, 10 * constants.SafetyTaskPeriod},
		{TaskControl, 50, 10 * constants.ControlTaskPeriod},
		{TaskPower, 0, 10 * constants.PowerTaskPeriod},
	} {
		id, err := w.RegisterHeartbeat(hb.name, hb.warnings, hb.timeout)
		if err != nil {
			return fmt.Errorf("failed to register %s heartbeat: %w", hb.name, err)
		}

		link.ids[hb.name] = id
	}

	p.watchdog.Store(link)

	return nil
}

func (p *Pipeline) report(task string, status watchdog.HeartbeatStatus) {
	link := p.watchdog.Load()
	if link == nil {
		return
	}

	if id, ok := link.ids[task]; ok {
		link.w.ReportHeartbeatStatus(id, status)
	}
}

// Bus returns the shared state bus.
func (p *Pipeline) Bus() *sharedstate.Bus { return p.bus }
func (p *Pipeline) Store() *OutputStore { return p.store }
func (p *Pipeline) Failsafe() *failsafe.Failsafe { return p.failsafe }
func (p *Pipeline) Degradation() *degradation.Engine { return p.degradation }
func (p *Pipeline) Obstacle() *obstacle.Arbitrator { return p.obstacle }
func (p *Pipeline) Following() *following.Controller { return p.following }
func (p *Pipeline) SafeBoot() bool { return p.boot != nil && p.boot.SafeBoot() }
