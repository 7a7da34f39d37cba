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

package hal

import (
	"fmt"
	"os"
	"sync"
)

// DeviceWatchdog feeds a Linux watchdog character device such as /dev/watchdog.
type DeviceWatchdog struct {
	mu   sync.Mutex
	path string
	f    *os.File
}

// NewDeviceWatchdog opens path for writing. Once opened, the kernel resets the board
// unless Feed is called within the device timeout.
func NewDeviceWatchdog(path string) (*DeviceWatchdog, error) {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open watchdog device %s: %w", path, err)
	}

	return &DeviceWatchdog{path: path, f: f}, nil
}

// Feed writes a keepalive byte.
func (d *DeviceWatchdog) Feed() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.f == nil {
		return fmt.Errorf("watchdog device %s is closed", d.path)
	}

	if _, err := d.f.Write([]byte{'k'}); err != nil {
		return fmt.Errorf("failed to feed watchdog device %s: %w", d.path, err)
	}

	return nil
}

// Close writes the magic close character, which disarms the device on drivers that support it.
func (d *DeviceWatchdog) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.f == nil {
		return nil
	}

	_, _ = d.f.Write([]byte{'V'})
	err := d.f.Close()
	d.f = nil

	return err
}
