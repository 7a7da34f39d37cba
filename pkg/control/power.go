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
	"context"
	"fmt"
	"sync"
	"time"

	cenkalti "github.com/cenkalti/backoff"

	"github.com/united-manufacturing-hub/motion-core/pkg/backoff"
	"github.com/united-manufacturing-hub/motion-core/pkg/watchdog"
)

// EnergyStatus is the power task's running account.
type EnergyStatus struct {
	PowerW         float64   `json:"powerW"`
	ConsumedWh     float64   `json:"consumedWh"`
	PackVoltageV   float64   `json:"packVoltageV"`
	BusRecovering  bool      `json:"busRecovering"`
	BusRecoveries  uint64    `json:"busRecoveries"`
	LastSampleTime time.Time `json:"lastSampleTime"`
}

type powerState struct {
	mu sync.Mutex

	retry       cenkalti.BackOff
	recovering  bool
	nextAttempt time.Time

	energy EnergyStatus
}

// maxEnergyGap bounds the interval integrated in one step, so a stalled task does not book a burst.
const maxEnergyGap = time.Second

// PowerTask recovers the I2C bus when it is down, integrates energy use and marks the boot stable.
func (p *Pipeline) PowerTask(ctx context.Context, now time.Time) error {
	cfg := p.Config()
	status := watchdog.StatusOK

	var result error

	if p.vehicle.IsBusHealthy() {
		p.power.mu.Lock()
		p.power.recovering = false
		p.power.energy.BusRecovering = false
		p.power.mu.Unlock()
	} else {
		status = watchdog.StatusWarning
		result = p.recoverBus(now, cfg.BusRecovery)
	}

	p.accountEnergy(ctx, now, cfg)

	if p.boot != nil {
		cleared, err := p.boot.MarkStable(now)
		if err != nil {
			p.logger.Warnf("Failed to persist stable boot: %v", err)
		} else if cleared {
			p.logger.Info("Boot marked stable")
		}
	}

	p.report(TaskPower, status)

	return result
}

// recoverBus makes at most one recovery attempt per call. Attempts are spaced by an
// exponential schedule so the critical core never sleeps waiting for the bus.
func (p *Pipeline) recoverBus(now time.Time, cfg BusRecoveryConfig) error {
	ps := &p.power
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if !ps.recovering {
		exp := cenkalti.NewExponentialBackOff()
		exp.InitialInterval = cfg.InitialInterval
		exp.MaxInterval = cfg.MaxInterval
		exp.RandomizationFactor = 0
		exp.MaxElapsedTime = 0
		exp.Reset()

		ps.retry = cenkalti.WithMaxRetries(exp, cfg.MaxRetries)
		ps.recovering = true
		ps.nextAttempt = now
		ps.energy.BusRecovering = true

		p.logger.Warnf("I2C bus unhealthy after %d consecutive errors, starting recovery", p.vehicle.ConsecutiveBusErrors())
	}

	if now.Before(ps.nextAttempt) {
		return nil
	}

	if p.vehicle.RecoverBus() {
		ps.recovering = false
		ps.energy.BusRecovering = false
		ps.energy.BusRecoveries++
		p.logger.Info("I2C bus recovered")

		return nil
	}

	wait := ps.retry.NextBackOff()
	if wait == cenkalti.Stop {
		// the next call starts a fresh schedule
		ps.recovering = false

		return backoff.NewPermanentError(fmt.Errorf("%w after %d retries", ErrBusRecoveryFailed, cfg.MaxRetries))
	}

	ps.nextAttempt = now.Add(wait)

	return backoff.NewTransientError(fmt.Errorf("%w, next attempt in %s", ErrBusRecoveryFailed, wait))
}

func (p *Pipeline) accountEnergy(ctx context.Context, now time.Time, cfg Config) {
	snap, err := p.bus.ReadSensors(ctx)
	if err != nil {
		// the next cycle integrates over the gap
		return
	}

	var watts float64

	for _, ch := range snap.Power {
		if ch.Valid {
			watts += ch.PowerW
		}
	}

	p.power.mu.Lock()
	defer p.power.mu.Unlock()

	e := &p.power.energy
	if !e.LastSampleTime.IsZero() && now.After(e.LastSampleTime) {
		e.ConsumedWh += e.PowerW * min(now.Sub(e.LastSampleTime), maxEnergyGap).Hours()
	}

	e.PowerW = watts
	e.LastSampleTime = now

	if pack := snap.Power[cfg.Battery.PackChannel]; pack.Valid {
		e.PackVoltageV = pack.VoltageV
	}
}

// Energy returns the running energy account.
func (p *Pipeline) Energy() EnergyStatus {
	p.power.mu.Lock()
	defer p.power.mu.Unlock()

	return p.power.energy
}
