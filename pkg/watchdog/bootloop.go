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
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/united-manufacturing-hub/motion-core/pkg/logger"
	"github.com/united-manufacturing-hub/motion-core/pkg/metrics"
	"github.com/united-manufacturing-hub/motion-core/pkg/sentry"
)

// BootRecord is the persisted boot history.
type BootRecord struct {
	FirstAttempt time.Time `yaml:"firstAttempt" json:"firstAttempt"`
	LastBoot     time.Time `yaml:"lastBoot" json:"lastBoot"`
	Attempts     int       `yaml:"attempts" json:"attempts"`
	SafeBoot     bool      `yaml:"safeBoot" json:"safeBoot"`
}

// BootLoopConfig configures the boot-loop counter.
type BootLoopConfig struct {
	Path        string        `yaml:"path"`
	MaxAttempts int           `yaml:"maxAttempts"`
	Window      time.Duration `yaml:"-"`
	StableAfter time.Duration `yaml:"-"`
}

// DefaultBootLoopConfig returns the defaults used when no config file is present.
func DefaultBootLoopConfig() BootLoopConfig {
	return BootLoopConfig{
		Path:        "/data/bootloop.yaml",
		MaxAttempts: 3,
		Window:      5 * time.Minute,
		StableAfter: 30 * time.Second,
	}
}

// BootLoopCounter counts unstable boots. Reaching MaxAttempts within Window enters safe boot,
// which holds actuation at zero for the rest of the session.
type BootLoopCounter struct {
	mu     sync.Mutex
	cfg    BootLoopConfig
	record BootRecord

	bootedAt time.Time
	// holdSession stays set after a safe boot even once the file record is cleared by MarkStable.
	holdSession bool
	stable      bool

	logger *zap.SugaredLogger
}

// NewBootLoopCounter loads the record at cfg.Path. A missing file starts a fresh record.
func NewBootLoopCounter(cfg BootLoopConfig) (*BootLoopCounter, error) {
	defaults := DefaultBootLoopConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaults.MaxAttempts
	}

	if cfg.Window <= 0 {
		cfg.Window = defaults.Window
	}

	if cfg.StableAfter <= 0 {
		cfg.StableAfter = defaults.StableAfter
	}

	b := &BootLoopCounter{
		cfg:    cfg,
		logger: logger.For(logger.ComponentBootLoop),
	}

	if err := b.load(); err != nil {
		return nil, err
	}

	return b, nil
}

func (b *BootLoopCounter) load() error {
	if b.cfg.Path == "" {
		return nil
	}

	data, err := os.ReadFile(b.cfg.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}

	if err != nil {
		return fmt.Errorf("failed to read boot record %s: %w", b.cfg.Path, err)
	}

	if err := yaml.Unmarshal(data, &b.record); err != nil {
		// A corrupt record must not keep the vehicle from booting.
		b.logger.Warnf("Boot record %s is corrupt, starting fresh: %v", b.cfg.Path, err)
		b.record = BootRecord{}
	}

	return nil
}

func (b *BootLoopCounter) save() error {
	if b.cfg.Path == "" {
		return nil
	}

	data, err := yaml.Marshal(b.record)
	if err != nil {
		return fmt.Errorf("failed to encode boot record: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(b.cfg.Path), 0o755); err != nil {
		return fmt.Errorf("failed to create boot record directory: %w", err)
	}

	tmp := b.cfg.Path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write boot record: %w", err)
	}

	if err := os.Rename(tmp, b.cfg.Path); err != nil {
		return fmt.Errorf("failed to replace boot record: %w", err)
	}

	return nil
}

// RecordBoot counts this boot and returns whether the session runs in safe boot.
// The record is updated in memory even if persisting it fails.
func (b *BootLoopCounter) RecordBoot(now time.Time) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.bootedAt = now

	if b.record.Attempts == 0 || now.Sub(b.record.FirstAttempt) > b.cfg.Window || now.Before(b.record.FirstAttempt) {
		b.record.Attempts = 0
		b.record.FirstAttempt = now
		b.record.SafeBoot = false
	}

	b.record.Attempts++
	b.record.LastBoot = now

	if b.record.Attempts >= b.cfg.MaxAttempts {
		b.record.SafeBoot = true
	}

	b.holdSession = b.record.SafeBoot
	metrics.SetBootAttempts(b.record.Attempts)

	if b.holdSession {
		sentry.ReportSafetyIssuef(sentry.IssueTypeWarning, b.logger, logger.ComponentBootLoop, "safe_boot",
			"boot loop detected: %d boots since %s, holding actuation at zero", b.record.Attempts, b.record.FirstAttempt.Format(time.RFC3339))
	} else {
		b.logger.Infof("Boot %d/%d within %s", b.record.Attempts, b.cfg.MaxAttempts, b.cfg.Window)
	}

	return b.holdSession, b.save()
}

// SafeBoot reports whether actuation is held for this session.
func (b *BootLoopCounter) SafeBoot() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.holdSession
}

// MarkStable clears the persisted counter once the system has run for StableAfter.
// It returns true on the call that cleared it. Safe boot stays in effect for this session.
func (b *BootLoopCounter) MarkStable(now time.Time) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.stable || b.bootedAt.IsZero() || now.Sub(b.bootedAt) < b.cfg.StableAfter {
		return false, nil
	}

	b.stable = true
	b.record.Attempts = 0
	b.record.SafeBoot = false
	metrics.SetBootAttempts(0)
	b.logger.Infof("System stable for %s, boot counter cleared", b.cfg.StableAfter)

	return true, b.save()
}

// Reset clears the record and releases the session hold. This is an operator action.
func (b *BootLoopCounter) Reset(now time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.record = BootRecord{LastBoot: now}
	b.holdSession = false
	metrics.SetBootAttempts(0)
	b.logger.Warnf("Boot counter reset by operator, safe boot released")

	return b.save()
}

// Record returns a copy of the current record.
func (b *BootLoopCounter) Record() BootRecord {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.record
}
