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

package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/tiendc/go-deepcopy"

	"github.com/united-manufacturing-hub/motion-core/pkg/control"
	"github.com/united-manufacturing-hub/motion-core/pkg/degradation"
	"github.com/united-manufacturing-hub/motion-core/pkg/following"
	"github.com/united-manufacturing-hub/motion-core/pkg/motionlimit"
	"github.com/united-manufacturing-hub/motion-core/pkg/obstacle"
	"github.com/united-manufacturing-hub/motion-core/pkg/watchdog"
)

// ErrInvalidConfig is wrapped by every validation error.
var ErrInvalidConfig = errors.New("invalid config")

// HAL backends.
const (
	BackendSim    = "sim"
	BackendDevice = "device"
)

type FullConfig struct {
	// Agent config, requires restart to take effect
	Agent AgentConfig `yaml:"agent" json:"agent"`
	// Control config, can be hot-swapped through the API
	Control ControlConfig `yaml:"control" json:"control"`
	// Boot-loop counter, read once at boot
	BootLoop BootLoopConfig `yaml:"bootLoop" json:"bootLoop"`
}

type AgentConfig struct {
	MetricsPort int `yaml:"metricsPort" json:"metricsPort"` // Port to expose metrics on
	// Port of the diagnostics API, 0 disables it
	APIPort int `yaml:"apiPort" json:"apiPort"`
	// "sim" or "device"
	HALBackend string `yaml:"halBackend" json:"halBackend"`
	SentryDSN  string `yaml:"sentryDsn,omitempty" json:"-"`

	// Hardware watchdog device, used with the device backend
	WatchdogDevice string `yaml:"watchdogDevice" json:"watchdogDevice"`
	// How often the watchdog checks heartbeats and feeds
	WatchdogInterval string `yaml:"watchdogInterval" json:"watchdogInterval"`
}

type BootLoopConfig struct {
	Path        string `yaml:"path" json:"path"`
	MaxAttempts int    `yaml:"maxAttempts" json:"maxAttempts"`
	Window      string `yaml:"window" json:"window"`
	StableAfter string `yaml:"stableAfter" json:"stableAfter"`
}

// ControlConfig is the file form of control.Config. Durations are strings such as "200ms".
type ControlConfig struct {
	Degradation degradation.Config `yaml:"degradation" json:"degradation"`
	Obstacle    ObstacleConfig     `yaml:"obstacle" json:"obstacle"`
	Following   FollowingConfig    `yaml:"following" json:"following"`
	// keyed by shifter position: R, N, 1, 2
	Gears map[string]float64 `yaml:"gears" json:"gears"`

	HeartbeatTimeout string  `yaml:"heartbeatTimeout" json:"heartbeatTimeout"`
	SensorMaxAge     string  `yaml:"sensorMaxAge" json:"sensorMaxAge"`
	MaxSpeedKmh      float64 `yaml:"maxSpeedKmh" json:"maxSpeedKmh"`

	Battery             BatteryConfig     `yaml:"battery" json:"battery"`
	TemperatureWarningC float64           `yaml:"temperatureWarningC" json:"temperatureWarningC"`
	SteeringCenterBand  float64           `yaml:"steeringCenterBand" json:"steeringCenterBand"`
	FollowStepMM        float64           `yaml:"followStepMM" json:"followStepMM"`
	BusRecovery         BusRecoveryConfig `yaml:"busRecovery" json:"busRecovery"`
}

type ObstacleConfig struct {
	obstacle.Config `yaml:",inline"`

	ReactionWindow string `yaml:"reactionWindow" json:"reactionWindow"`
}

type FollowingConfig struct {
	following.Config `yaml:",inline"`

	TargetLostTimeout string `yaml:"targetLostTimeout" json:"targetLostTimeout"`
	TickInterval      string `yaml:"tickInterval" json:"tickInterval"`
}

type BatteryConfig struct {
	PackChannel      int     `yaml:"packChannel" json:"packChannel"`
	LowVoltageV      float64 `yaml:"lowVoltageV" json:"lowVoltageV"`
	CriticalVoltageV float64 `yaml:"criticalVoltageV" json:"criticalVoltageV"`
}

type BusRecoveryConfig struct {
	MaxRetries      uint64 `yaml:"maxRetries" json:"maxRetries"`
	InitialInterval string `yaml:"initialInterval" json:"initialInterval"`
	MaxInterval     string `yaml:"maxInterval" json:"maxInterval"`
}

// DefaultConfig is used when no config file exists.
func DefaultConfig() FullConfig {
	boot := watchdog.DefaultBootLoopConfig()

	return FullConfig{
		Agent: AgentConfig{
			MetricsPort:      8080,
			APIPort:          8081,
			HALBackend:       BackendSim,
			WatchdogDevice:   "/dev/watchdog",
			WatchdogInterval: "50ms",
		},
		Control: FromControl(control.DefaultConfig()),
		BootLoop: BootLoopConfig{
			Path:        boot.Path,
			MaxAttempts: boot.MaxAttempts,
			Window:      boot.Window.String(),
			StableAfter: boot.StableAfter.String(),
		},
	}
}

// Clone creates a deep copy of FullConfig
func (c FullConfig) Clone() FullConfig {
	var clone FullConfig
	_ = deepcopy.Copy(&clone, &c)

	return clone
}

// Validate rejects values no component could sanitize into something meaningful.
func (c FullConfig) Validate() error {
	if err := validPort("agent.metricsPort", c.Agent.MetricsPort, false); err != nil {
		return err
	}

	if err := validPort("agent.apiPort", c.Agent.APIPort, true); err != nil {
		return err
	}

	if c.Agent.APIPort != 0 && c.Agent.APIPort == c.Agent.MetricsPort {
		return fmt.Errorf("%w: agent.apiPort and agent.metricsPort are both %d", ErrInvalidConfig, c.Agent.APIPort)
	}

	switch c.Agent.HALBackend {
	case BackendSim, BackendDevice:
	default:
		return fmt.Errorf("%w: agent.halBackend must be %q or %q, got %q", ErrInvalidConfig, BackendSim, BackendDevice, c.Agent.HALBackend)
	}

	if _, err := c.WatchdogInterval(); err != nil {
		return err
	}

	if _, err := c.BootLoopConfig(); err != nil {
		return err
	}

	if _, err := c.Control.ToControl(); err != nil {
		return err
	}

	return nil
}

// WatchdogInterval parses agent.watchdogInterval.
func (c FullConfig) WatchdogInterval() (time.Duration, error) {
	return positiveDuration("agent.watchdogInterval", c.Agent.WatchdogInterval)
}

// BootLoopConfig converts the bootLoop section.
func (c FullConfig) BootLoopConfig() (watchdog.BootLoopConfig, error) {
	window, err := positiveDuration("bootLoop.window", c.BootLoop.Window)
	if err != nil {
		return watchdog.BootLoopConfig{}, err
	}

	stable, err := positiveDuration("bootLoop.stableAfter", c.BootLoop.StableAfter)
	if err != nil {
		return watchdog.BootLoopConfig{}, err
	}

	if c.BootLoop.MaxAttempts < 1 {
		return watchdog.BootLoopConfig{}, fmt.Errorf("%w: bootLoop.maxAttempts must be at least 1, got %d", ErrInvalidConfig, c.BootLoop.MaxAttempts)
	}

	return watchdog.BootLoopConfig{
		Path:        c.BootLoop.Path,
		MaxAttempts: c.BootLoop.MaxAttempts,
		Window:      window,
		StableAfter: stable,
	}, nil
}

// ToControl converts the section into the runtime form. Empty durations keep their defaults.
// Out-of-range numbers are left to the components, which clamp them when applied.
func (cc ControlConfig) ToControl() (control.Config, error) {
	def := control.DefaultConfig()
	out := def

	out.Degradation = cc.Degradation
	out.Obstacle = cc.Obstacle.Config
	out.Following = cc.Following.Config
	out.MaxSpeedKmh = cc.MaxSpeedKmh
	out.Battery = control.BatteryConfig(cc.Battery)
	out.TemperatureWarningC = cc.TemperatureWarningC
	out.SteeringCenterBand = cc.SteeringCenterBand
	out.FollowStepMM = cc.FollowStepMM
	out.BusRecovery.MaxRetries = cc.BusRecovery.MaxRetries

	durations := []struct {
		name   string
		value  string
		target *time.Duration
		def    time.Duration
	}{
		{"control.heartbeatTimeout", cc.HeartbeatTimeout, &out.HeartbeatTimeout, def.HeartbeatTimeout},
		{"control.sensorMaxAge", cc.SensorMaxAge, &out.SensorMaxAge, def.SensorMaxAge},
		{"control.obstacle.reactionWindow", cc.Obstacle.ReactionWindow, &out.Obstacle.ReactionWindow, def.Obstacle.ReactionWindow},
		{"control.following.targetLostTimeout", cc.Following.TargetLostTimeout, &out.Following.TargetLostTimeout, def.Following.TargetLostTimeout},
		{"control.following.tickInterval", cc.Following.TickInterval, &out.Following.TickInterval, def.Following.TickInterval},
		{"control.busRecovery.initialInterval", cc.BusRecovery.InitialInterval, &out.BusRecovery.InitialInterval, def.BusRecovery.InitialInterval},
		{"control.busRecovery.maxInterval", cc.BusRecovery.MaxInterval, &out.BusRecovery.MaxInterval, def.BusRecovery.MaxInterval},
	}

	for _, d := range durations {
		if d.value == "" {
			*d.target = d.def

			continue
		}

		parsed, err := positiveDuration(d.name, d.value)
		if err != nil {
			return control.Config{}, err
		}

		*d.target = parsed
	}

	if len(cc.Gears) > 0 {
		out.Gears = make(motionlimit.GearTable, len(cc.Gears))

		for name, m := range cc.Gears {
			g, err := motionlimit.ParseGear(name)
			if err != nil {
				return control.Config{}, fmt.Errorf("%w: control.gears: %w", ErrInvalidConfig, err)
			}

			out.Gears[g] = m
		}
	}

	return out, nil
}

// FromControl is the inverse of ToControl.
func FromControl(cfg control.Config) ControlConfig {
	gears := make(map[string]float64, len(cfg.Gears))
	for g, m := range cfg.Gears {
		gears[g.String()] = m
	}

	return ControlConfig{
		Degradation: cfg.Degradation,
		Obstacle: ObstacleConfig{
			Config:         cfg.Obstacle,
			ReactionWindow: cfg.Obstacle.ReactionWindow.String(),
		},
		Following: FollowingConfig{
			Config:            cfg.Following,
			TargetLostTimeout: cfg.Following.TargetLostTimeout.String(),
			TickInterval:      cfg.Following.TickInterval.String(),
		},
		Gears:               gears,
		HeartbeatTimeout:    cfg.HeartbeatTimeout.String(),
		SensorMaxAge:        cfg.SensorMaxAge.String(),
		MaxSpeedKmh:         cfg.MaxSpeedKmh,
		Battery:             BatteryConfig(cfg.Battery),
		TemperatureWarningC: cfg.TemperatureWarningC,
		SteeringCenterBand:  cfg.SteeringCenterBand,
		FollowStepMM:        cfg.FollowStepMM,
		BusRecovery: BusRecoveryConfig{
			MaxRetries:      cfg.BusRecovery.MaxRetries,
			InitialInterval: cfg.BusRecovery.InitialInterval.String(),
			MaxInterval:     cfg.BusRecovery.MaxInterval.String(),
		},
	}
}

func positiveDuration(name, value string) (time.Duration, error) {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %w", ErrInvalidConfig, name, err)
	}

	if d <= 0 {
		return 0, fmt.Errorf("%w: %s must be positive, got %s", ErrInvalidConfig, name, d)
	}

	return d, nil
}

func validPort(name string, port int, allowZero bool) error {
	if allowZero && port == 0 {
		return nil
	}

	if port < 1 || port > 65535 {
		return fmt.Errorf("%w: %s must be in 1..65535, got %d", ErrInvalidConfig, name, port)
	}

	return nil
}
