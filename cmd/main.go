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

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/motion-core/pkg/backoff"
	"github.com/united-manufacturing-hub/motion-core/pkg/config"
	"github.com/united-manufacturing-hub/motion-core/pkg/constants"
	"github.com/united-manufacturing-hub/motion-core/pkg/control"
	"github.com/united-manufacturing-hub/motion-core/pkg/env"
	"github.com/united-manufacturing-hub/motion-core/pkg/hal"
	"github.com/united-manufacturing-hub/motion-core/pkg/hal/sim"
	"github.com/united-manufacturing-hub/motion-core/pkg/logger"
	"github.com/united-manufacturing-hub/motion-core/pkg/metrics"
	"github.com/united-manufacturing-hub/motion-core/pkg/scheduler"
	"github.com/united-manufacturing-hub/motion-core/pkg/sentry"
	"github.com/united-manufacturing-hub/motion-core/pkg/starvationchecker"
	"github.com/united-manufacturing-hub/motion-core/pkg/telemetry"
	"github.com/united-manufacturing-hub/motion-core/pkg/version"
	"github.com/united-manufacturing-hub/motion-core/pkg/watchdog"
)

// exitWatchdogReset is the exit code after a watchdog trip, so the supervisor restarts us
// and the boot-loop counter sees the restart.
const exitWatchdogReset = 3

// shutdownGrace bounds the wait for the executors to finish their current cycle.
const shutdownGrace = time.Second

func main() {
	// Initialize the global logger first thing
	logger.Initialize()
	defer func() { _ = logger.Sync() }()

	// Initialize Sentry from the environment so config errors are reported too
	dsn, _ := env.GetAsString("SENTRY_DSN", false, "")
	sentry.InitSentry(version.GetAppVersion(), dsn, true)

	log := logger.For(logger.ComponentCore)
	log.Infof("Starting motion-core %s...", version.GetAppVersion())

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Load the config
	configPath, _ := env.GetAsString("CONFIG_PATH", false, config.DefaultConfigPath)

	cfg, err := config.Load(configPath, logger.For(logger.ComponentConfig))
	if err != nil {
		sentry.ReportIssuef(sentry.IssueTypeFatal, log, "Failed to load config: %w", err)
		os.Exit(1)
	}

	if cfg.Agent.SentryDSN != "" && cfg.Agent.SentryDSN != dsn {
		sentry.InitSentry(version.GetAppVersion(), cfg.Agent.SentryDSN, true)
	}

	controlCfg, err := cfg.Control.ToControl()
	if err != nil {
		sentry.ReportIssuef(sentry.IssueTypeFatal, log, "Invalid control config: %w", err)
		os.Exit(1)
	}

	// Count this boot before anything can move
	bootCfg, err := cfg.BootLoopConfig()
	if err != nil {
		sentry.ReportIssuef(sentry.IssueTypeFatal, log, "Invalid boot-loop config: %w", err)
		os.Exit(1)
	}

	bootLoop, err := watchdog.NewBootLoopCounter(bootCfg)
	if err != nil {
		sentry.ReportIssuef(sentry.IssueTypeFatal, log, "Failed to open boot-loop record: %w", err)
		os.Exit(1)
	}

	safeBoot, err := bootLoop.RecordBoot(time.Now())
	if err != nil {
		// the counter still holds the in-memory record, so keep going
		sentry.ReportIssuef(sentry.IssueTypeError, log, "Failed to persist boot record: %w", err)
	}

	if safeBoot {
		log.Warnf("Safe boot: %d unstable boots in a row, actuation stays at zero until reset", bootLoop.Record().Attempts)
	}

	// Start the metrics server
	metricsServer := metrics.SetupMetricsEndpoint(fmt.Sprintf(":%d", cfg.Agent.MetricsPort))
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer shutdownCancel()

		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			sentry.ReportIssuef(sentry.IssueTypeError, log, "Failed to shutdown metrics server: %w", err)
		}
	}()

	// Hardware
	vehicle := sim.NewVehicle()
	go simulate(ctx, vehicle)

	var feeder hal.HardwareWatchdog = vehicle

	if cfg.Agent.HALBackend == config.BackendDevice {
		device, err := hal.NewDeviceWatchdog(cfg.Agent.WatchdogDevice)
		if err != nil {
			sentry.ReportIssuef(sentry.IssueTypeFatal, log, "Failed to open hardware watchdog: %w", err)
			os.Exit(1)
		}

		defer func() {
			if err := device.Close(); err != nil {
				log.Errorf("Failed to close hardware watchdog: %v", err)
			}
		}()

		feeder = device
	}

	log.Infof("HAL backend %s, vehicle %s", cfg.Agent.HALBackend, vehicle)

	// Control pipeline
	pipeline := control.NewPipeline(vehicle, controlCfg, time.Now(), control.WithBootGuard(bootLoop))

	hub := telemetry.NewHub(logger.For(logger.ComponentTelemetryTask))
	publisher := telemetry.NewPublisher(pipeline, hub, nil, logger.For(logger.ComponentTelemetryTask))

	// Scheduler
	checker := starvationchecker.NewStarvationChecker()
	checker.Start(constants.StarvationCheckInterval)
	defer checker.Stop()

	sched := scheduler.NewScheduler(scheduler.WithStarvationChecker(checker))
	if err := sched.RegisterAll(control.DefaultTasks(pipeline, publisher.Task)); err != nil {
		sentry.ReportIssuef(sentry.IssueTypeFatal, log, "Refusing to start without critical tasks: %w", backoff.ExtractOriginalError(err))
		os.Exit(1)
	}

	// Boundary watchdog
	watchdogInterval, err := cfg.WatchdogInterval()
	if err != nil {
		sentry.ReportIssuef(sentry.IssueTypeFatal, log, "Invalid watchdog interval: %w", err)
		os.Exit(1)
	}

	resetCh := make(chan string, 1)
	boundary := watchdog.NewWatchdog(feeder, func(reason string) {
		vehicle.ForceZero("watchdog: " + reason)
		select {
		case resetCh <- reason:
		default:
		}
	})

	if err := pipeline.AttachWatchdog(boundary); err != nil {
		sentry.ReportIssuef(sentry.IssueTypeFatal, log, "Failed to register task heartbeats: %w", err)
		os.Exit(1)
	}

	go boundary.Start(ctx, watchdogInterval)

	// Diagnostics API
	var api *telemetry.Server

	if cfg.Agent.APIPort != 0 {
		api = telemetry.NewServer(pipeline, hub, logger.For(logger.ComponentAPI),
			telemetry.WithTasks(sched),
			telemetry.WithWatchdog(boundary),
			telemetry.WithBootLoop(bootLoop),
			telemetry.WithConfigFile(configPath, cfg),
		)

		go func() {
			if err := api.Start(fmt.Sprintf(":%d", cfg.Agent.APIPort)); err != nil {
				sentry.ReportIssuef(sentry.IssueTypeError, log, "Diagnostics API stopped: %w", err)
			}
		}()

		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer shutdownCancel()

			if err := api.Stop(shutdownCtx); err != nil {
				log.Errorf("Failed to shutdown diagnostics API: %v", err)
			}
		}()
	} else {
		log.Info("Diagnostics API disabled via configuration")
	}

	go StatusLogger(ctx, pipeline, sched)

	// Run until a signal, a watchdog trip or a failed executor
	runCtx, runCancel := context.WithCancel(ctx)
	defer runCancel()

	schedDone := make(chan error, 1)
	go func() { schedDone <- sched.Start(runCtx) }()

	exitCode := 0
	schedStopped := false

	select {
	case <-ctx.Done():
		log.Info("Shutdown requested")
	case reason := <-resetCh:
		log.Errorf("Watchdog tripped (%s), exiting for restart", reason)
		exitCode = exitWatchdogReset
	case err := <-schedDone:
		schedStopped = true
		if err != nil && !errors.Is(err, context.Canceled) {
			sentry.ReportIssuef(sentry.IssueTypeError, log, "Scheduler failed: %w", err)
			exitCode = 1
		}
	}

	// ForceZero must follow the executors' return, or an in-flight safety cycle can overwrite it
	runCancel()

	if !schedStopped {
		select {
		case <-schedDone:
		case <-time.After(shutdownGrace):
			log.Warnf("Scheduler did not stop within %s, forcing zero anyway", shutdownGrace)
		}
	}

	vehicle.ForceZero("shutdown")

	log.Info("motion-core completed")

	if exitCode != 0 {
		_ = logger.Sync()
		os.Exit(exitCode)
	}
}

// simulate advances the simulated vehicle in real time.
func simulate(ctx context.Context, v *sim.Vehicle) {
	const step = 10 * time.Millisecond

	ticker := time.NewTicker(step)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			v.Step(step)
		}
	}
}

// StatusLogger logs a one-line summary of the control plane every 5 seconds.
func StatusLogger(ctx context.Context, pipeline *control.Pipeline, sched *scheduler.Scheduler) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	statusLogger := logger.For("StatusLogger")
	if statusLogger == nil {
		statusLogger = zap.NewNop().Sugar()
	}

	statusLogger.Info("Starting status logger")

	for {
		select {
		case <-ctx.Done():
			statusLogger.Info("Stopping status logger")

			return
		case <-ticker.C:
			hud, ok := pipeline.HUD()
			if !ok {
				sentry.ReportIssuef(sentry.IssueTypeWarning, statusLogger, "[StatusLogger] No HUD available yet")

				continue
			}

			statusLogger.Infof("=== Status: gear %s, %.1f km/h, factor %.2f, %s, zone %d, following %s, %.1f V ===",
				hud.Gear, hud.SpeedKmh, hud.FinalFactor, hud.Degradation, hud.Zone, hud.Following, hud.PackVoltageV)

			for _, w := range hud.Warnings {
				statusLogger.Warnf("  └─ %s", w)
			}

			for _, t := range sched.Stats() {
				if t.MissedTicks > 0 || t.Overruns > 0 || t.Errors > 0 {
					statusLogger.Infof("  └─ task %s (%s): %d runs, %d errors, %d missed, %d overruns",
						t.Name, t.Core, t.Runs, t.Errors, t.MissedTicks, t.Overruns)
				}
			}
		}
	}
}
