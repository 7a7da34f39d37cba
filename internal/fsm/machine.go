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

package fsm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/looplab/fsm"
	"go.uber.org/zap"
)

const eventGotoPrefix = "goto_"

// MachineConfig holds parameters for setting up a Machine.
type MachineConfig struct {
	// ID is used in log lines and errors only
	ID string

	// InitialState is the state the machine starts in
	InitialState string

	// States lists every state. Each one can be reached from every other.
	States []string
}

// EnterCallback runs synchronously inside Goto, on the goroutine that caused the transition.
// now is the time passed to Goto.
type EnterCallback func(ctx context.Context, from, to string, now time.Time)

type nowKey struct{}

// Machine is a small wrapper around looplab/fsm used by the safety state machines.
// It tracks when the current state was entered and dispatches per-state enter callbacks.
type Machine struct {
	cfg MachineConfig

	mu sync.RWMutex

	fsm *fsm.FSM

	callbacks map[string]EnterCallback

	enteredAt      time.Time
	lastTransition time.Time

	logger *zap.SugaredLogger
}

// NewMachine creates a Machine in cfg.InitialState. now stamps the time the initial state was entered.
func NewMachine(cfg MachineConfig, now time.Time, logger *zap.SugaredLogger) *Machine {
	m := &Machine{
		cfg:       cfg,
		callbacks: make(map[string]EnterCallback),
		enteredAt: now,
		logger:    logger,
	}

	events := make([]fsm.EventDesc, 0, len(cfg.States))
	for _, dst := range cfg.States {
		src := make([]string, 0, len(cfg.States)-1)
		for _, s := range cfg.States {
			if s != dst {
				src = append(src, s)
			}
		}
		events = append(events, fsm.EventDesc{Name: eventGotoPrefix + dst, Src: src, Dst: dst})
	}

	m.fsm = fsm.NewFSM(
		cfg.InitialState,
		fsm.Events(events),
		fsm.Callbacks{
			"enter_state": m.enter,
		},
	)

	return m
}

func (m *Machine) enter(ctx context.Context, e *fsm.Event) {
	cb, ok := m.callbacks[e.Dst]
	if !ok {
		return
	}

	now, _ := ctx.Value(nowKey{}).(time.Time)
	cb(ctx, e.Src, e.Dst, now)
}

// OnEnter registers cb to run whenever state is entered through Goto.
// Must be called before the machine is used concurrently.
func (m *Machine) OnEnter(state string, cb EnterCallback) {
	m.callbacks[state] = cb
}

// Current returns the current state.
func (m *Machine) Current() string {
	return m.fsm.Current()
}

// Is reports whether the machine is in state.
func (m *Machine) Is(state string) bool {
	return m.fsm.Is(state)
}

// Goto moves the machine to dst. It returns true if the state changed.
// Moving to the current state is a no-op and not an error, an unknown dst is.
func (m *Machine) Goto(ctx context.Context, dst string, now time.Time) (bool, error) {
	from := m.fsm.Current()
	if from == dst {
		return false, nil
	}

	if ctx.Err() != nil {
		return false, ctx.Err()
	}

	err := m.fsm.Event(context.WithValue(ctx, nowKey{}, now), eventGotoPrefix+dst)
	if err != nil {
		var noTransition fsm.NoTransitionError
		if errors.As(err, &noTransition) {
			return false, nil
		}

		return false, fmt.Errorf("machine %s: %s -> %s: %w", m.cfg.ID, from, dst, err)
	}

	m.mu.Lock()
	m.enteredAt = now
	m.lastTransition = now
	m.mu.Unlock()

	if m.logger != nil {
		m.logger.Debugf("Machine %s: %s -> %s", m.cfg.ID, from, dst)
	}

	return true, nil
}

// TimeInState returns how long the machine has been in its current state.
func (m *Machine) TimeInState(now time.Time) time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if now.Before(m.enteredAt) {
		return 0
	}

	return now.Sub(m.enteredAt)
}

// LastTransition returns the time of the last state change, zero if none happened yet.
func (m *Machine) LastTransition() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.lastTransition
}
