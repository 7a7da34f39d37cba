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

package sharedstate

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/united-manufacturing-hub/motion-core/pkg/constants"
	"github.com/united-manufacturing-hub/motion-core/pkg/metrics"
)

// ErrLockTimeout is returned when a guard could not be acquired within its bounded wait.
// The guarded value is unchanged.
var ErrLockTimeout = errors.New("shared state lock timeout")

// Guarded holds a value of type T behind a bounded-wait guard.
// Values are copied in and out, so T must not contain pointers, slices or maps
// if readers are to be isolated from writers.
type Guarded[T any] struct {
	name  string
	sem   *semaphore.Weighted
	value T

	consecutiveFailures atomic.Int64
	totalFailures       atomic.Uint64

	logger    *zap.SugaredLogger
	sometimes rate.Sometimes
}

// NewGuarded returns a guard named name holding initial.
func NewGuarded[T any](name string, initial T, logger *zap.SugaredLogger) *Guarded[T] {
	return &Guarded[T]{
		name:      name,
		sem:       semaphore.NewWeighted(1),
		value:     initial,
		logger:    logger,
		sometimes: rate.Sometimes{First: 1, Interval: constants.LockTimeoutLogInterval},
	}
}

// Load returns a copy of the value.
func (g *Guarded[T]) Load(ctx context.Context, timeout time.Duration) (T, error) {
	var zero T

	release, err := g.acquire(ctx, timeout, "read")
	if err != nil {
		return zero, err
	}
	defer release()

	return g.value, nil
}

// Store replaces the value.
func (g *Guarded[T]) Store(ctx context.Context, timeout time.Duration, v T) error {
	release, err := g.acquire(ctx, timeout, "write")
	if err != nil {
		return err
	}
	defer release()

	g.value = v

	return nil
}

// Update replaces the value with fn(current). If fn returns an error the value is kept.
// fn runs under the guard and must not touch other guards.
func (g *Guarded[T]) Update(ctx context.Context, timeout time.Duration, fn func(current T) (T, error)) error {
	release, err := g.acquire(ctx, timeout, "write")
	if err != nil {
		return err
	}
	defer release()

	next, err := fn(g.value)
	if err != nil {
		return err
	}

	g.value = next

	return nil
}

// ConsecutiveFailures returns the number of acquisitions that failed since the last success.
func (g *Guarded[T]) ConsecutiveFailures() int {
	return int(g.consecutiveFailures.Load())
}

// TotalFailures returns the number of failed acquisitions since start.
func (g *Guarded[T]) TotalFailures() uint64 {
	return g.totalFailures.Load()
}

// Name returns the guard name.
func (g *Guarded[T]) Name() string {
	return g.name
}

func (g *Guarded[T]) acquire(ctx context.Context, timeout time.Duration, op string) (func(), error) {
	checkNoGuardHeld(g.name)

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := g.sem.Acquire(waitCtx, 1); err != nil {
		g.consecutiveFailures.Add(1)
		g.totalFailures.Add(1)
		metrics.IncBusLockTimeout(g.name, op)

		if g.logger != nil {
			g.sometimes.Do(func() {
				g.logger.Warnf("Timed out after %s waiting for %s (%s), %d consecutive failures",
					timeout, g.name, op, g.consecutiveFailures.Load())
			})
		}

		return nil, fmt.Errorf("%w: %s %s after %s", ErrLockTimeout, g.name, op, timeout)
	}

	recordGuardAcquired(g.name)
	g.consecutiveFailures.Store(0)

	return func() {
		recordGuardReleased(g.name)
		g.sem.Release(1)
	}, nil
}
