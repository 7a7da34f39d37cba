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
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/motion-core/pkg/logger"
	"github.com/united-manufacturing-hub/motion-core/pkg/sentry"
)

const (
	// Component labels.
	ComponentScheduler   = "scheduler"
	ComponentSharedState = "shared_state"
	ComponentSafetyTask  = "safety_task"
	ComponentControlTask = "control_task"
	ComponentPowerTask   = "power_task"
	ComponentDisplay     = "display_task"
	ComponentTelemetry   = "telemetry_task"
	ComponentWatchdog    = "watchdog"
	ComponentAPI         = "api"
)

var (
	namespace = "umh"
	subsystem = "motion"

	errorCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "errors_total",
			Help:      "Total number of errors encountered by component",
		},
		[]string{"component", "instance"},
	)

	taskCycleTime = promauto.NewSummaryVec(
		prometheus.SummaryOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "task_cycle_duration_milliseconds",
			Help:      "Time taken by one run of a periodic task (in milliseconds)",
			Objectives: map[float64]float64{
				0.5:  0.01,
				0.9:  0.01,
				0.99: 0.001,
			},
		},
		[]string{"core", "task"},
	)

	deadlinesMissed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "task_deadlines_missed_total",
			Help:      "Number of periodic deadlines a task skipped because the previous run overran",
		},
		[]string{"core", "task"},
	)

	taskCreationFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "task_creation_failures_total",
			Help:      "Number of tasks that could not be created at boot",
		},
		[]string{"core", "task"},
	)

	starvationSeconds = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "task_starved_total_seconds",
			Help:      "Total seconds a task went without running",
		},
		[]string{"task"},
	)

	busLockTimeouts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "bus_lock_timeouts_total",
			Help:      "Number of bounded waits on a shared structure that expired",
		},
		[]string{"structure", "operation"},
	)

	failsafeActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "failsafe_active",
			Help:      "1 while the heartbeat failsafe forces zero motion",
		},
	)

	failsafeTrips = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "failsafe_trips_total",
			Help:      "Number of OK to FAILSAFE transitions",
		},
	)

	degradationState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "degradation_state",
			Help:      "Degradation state (0=NORMAL, 1=DEGRADED, 2=LIMP, 3=CRITICAL)",
		},
	)

	degradationMultiplier = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "degradation_multiplier",
			Help:      "Current degradation multiplier by kind",
		},
		[]string{"kind"},
	)

	obstacleZone = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "obstacle_zone",
			Help:      "Current obstacle zone (0=clear .. 5=emergency)",
		},
	)

	obstacleFactor = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "obstacle_factor",
			Help:      "Current obstacle speed reduction factor",
		},
	)

	followingState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "following_state",
			Help:      "Following controller state (0=DISABLED, 1=STANDBY, 2=ACTIVE, 3=BRAKING)",
		},
	)

	followingAdjustment = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "following_adjustment",
			Help:      "Current following controller speed adjustment",
		},
	)

	finalFactor = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "final_factor",
			Help:      "Final motion multiplier handed to actuation",
		},
	)

	bootAttempts = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "boot_attempts",
			Help:      "Consecutive boots without reaching the stable uptime",
		},
	)

	hostUsage = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "host_usage_percent",
			Help:      "Host resource usage of the general core",
		},
		[]string{"resource"},
	)
)

// IncErrorCountAndLog increments the error counter for a component and logs at debug level if a logger is provided.
func IncErrorCountAndLog(component, instance string, err error, log *zap.SugaredLogger) {
	IncErrorCount(component, instance)

	if log != nil {
		log.Debugf("Component %s instance %s failed: %v", component, instance, err)
	}
}

// IncErrorCount increments the error counter for a component.
func IncErrorCount(component, instance string) {
	errorCounter.WithLabelValues(component, instance).Inc()
}

// InitErrorCounter initializes the error counter for a component so it is exported as 0.
func InitErrorCounter(component, instance string) {
	errorCounter.WithLabelValues(component, instance).Add(0)
}

// ObserveTaskCycle records the duration of one task run.
func ObserveTaskCycle(core, task string, duration time.Duration) {
	taskCycleTime.WithLabelValues(core, task).Observe(float64(duration.Microseconds()) / 1000)
}

// AddDeadlinesMissed adds n skipped deadlines for a task.
func AddDeadlinesMissed(core, task string, n int) {
	deadlinesMissed.WithLabelValues(core, task).Add(float64(n))
}

// IncTaskCreationFailure counts a task that failed to be created.
func IncTaskCreationFailure(core, task string) {
	taskCreationFailures.WithLabelValues(core, task).Inc()
}

// AddStarvationTime increases the starvation counter of a task by the specified seconds.
func AddStarvationTime(task string, seconds float64) {
	starvationSeconds.WithLabelValues(task).Add(seconds)
}

// IncBusLockTimeout counts an expired bounded wait on a shared structure.
func IncBusLockTimeout(structure, operation string) {
	busLockTimeouts.WithLabelValues(structure, operation).Inc()
}

// SetFailsafeActive exports whether the failsafe currently forces zero motion.
func SetFailsafeActive(active bool) {
	failsafeActive.Set(boolToFloat(active))
}

// IncFailsafeTrips counts an OK to FAILSAFE transition.
func IncFailsafeTrips() {
	failsafeTrips.Inc()
}

// UpdateDegradation exports the degradation state and its three multipliers.
func UpdateDegradation(stateValue int, power, steering, speed float64) {
	degradationState.Set(float64(stateValue))
	degradationMultiplier.WithLabelValues("power").Set(power)
	degradationMultiplier.WithLabelValues("steering").Set(steering)
	degradationMultiplier.WithLabelValues("speed").Set(speed)
}

// UpdateObstacle exports the obstacle zone and factor.
func UpdateObstacle(zone int, factor float64) {
	obstacleZone.Set(float64(zone))
	obstacleFactor.Set(factor)
}

// UpdateFollowing exports the following controller state and adjustment.
func UpdateFollowing(stateValue int, adjustment float64) {
	followingState.Set(float64(stateValue))
	followingAdjustment.Set(adjustment)
}

// SetFinalFactor exports the final motion multiplier.
func SetFinalFactor(factor float64) {
	finalFactor.Set(factor)
}

// SetBootAttempts exports the boot-loop counter.
func SetBootAttempts(n int) {
	bootAttempts.Set(float64(n))
}

// SetHostUsage exports host usage for resource ("cpu", "memory").
func SetHostUsage(resource string, percent float64) {
	hostUsage.WithLabelValues(resource).Set(percent)
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}

	return 0
}

// SetupMetricsEndpoint starts an HTTP server to expose metrics.
// This should be called once at application startup.
func SetupMetricsEndpoint(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:        addr,
		Handler:     mux,
		ReadTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			sentry.ReportIssue(err, sentry.IssueTypeError, logger.For("metrics"))
		}
	}()

	return server
}
