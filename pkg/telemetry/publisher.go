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

package telemetry

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/motion-core/pkg/control"
	"github.com/united-manufacturing-hub/motion-core/pkg/metrics"
)

// Frame is one telemetry message.
type Frame struct {
	Timestamp time.Time            `json:"timestamp"`
	HUD       *control.HUD         `json:"hud,omitempty"`
	Output    *control.CycleOutput `json:"output,omitempty"`
	Energy    control.EnergyStatus `json:"energy"`
	Host      HostStats            `json:"host"`
}

// Source is what the publisher reads from the control pipeline.
type Source interface {
	HUD() (control.HUD, bool)
	Store() *control.OutputStore
	Energy() control.EnergyStatus
}

// Publisher builds frames and broadcasts them to the hub.
type Publisher struct {
	source    Source
	hub       *Hub
	collector *Collector
	logger    *zap.SugaredLogger
}

// NewPublisher wires a source to a hub.
func NewPublisher(source Source, hub *Hub, collector *Collector, logger *zap.SugaredLogger) *Publisher {
	if collector == nil {
		collector = NewCollector(DefaultSampleInterval, nil)
	}

	return &Publisher{source: source, hub: hub, collector: collector, logger: logger}
}

// Frame assembles the current frame.
func (p *Publisher) Frame(ctx context.Context, now time.Time) Frame {
	frame := Frame{Timestamp: now, Energy: p.source.Energy()}

	if hud, ok := p.source.HUD(); ok {
		frame.HUD = &hud
	}

	if out, ok := p.source.Store().Latest(); ok {
		frame.Output = &out
	}

	host, err := p.collector.Collect(ctx, now)
	if err != nil {
		p.logger.Debugf("Host sample failed: %v", err)
	}
	frame.Host = host

	return frame
}

// Task is the telemetry task. Frames are built even without clients so host metrics stay current.
func (p *Publisher) Task(ctx context.Context, now time.Time) error {
	frame := p.Frame(ctx, now)

	if p.hub.Clients() == 0 {
		return nil
	}

	if err := p.hub.Broadcast(frame); err != nil {
		metrics.IncErrorCountAndLog(metrics.ComponentTelemetry, "broadcast", err, p.logger)

		return err
	}

	return nil
}
