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
	"fmt"
	"runtime"
	"strconv"
	"strings"
	"sync"

	"github.com/united-manufacturing-hub/motion-core/pkg/env"
)

// Bus guards must never nest: a goroutine holding one guard may not acquire another.
// The tracker below enforces this when ENABLE_LOCK_ORDER_CHECKS is set to a true value.

// lockOrderTracker tracks which guards each goroutine holds.
type lockOrderTracker struct {
	mu    sync.RWMutex
	locks map[uint64][]string // goroutine ID → held guard names
}

var globalTracker = &lockOrderTracker{
	locks: make(map[uint64][]string),
}

// lockOrderChecksEnabled is read on every acquire so tests can toggle it. Unparseable values disable the checks.
func lockOrderChecksEnabled() bool {
	enabled, err := env.GetAsBool("ENABLE_LOCK_ORDER_CHECKS", false, false)

	return err == nil && enabled
}

// getGoroutineID returns the ID of the current goroutine.
// This is a bit of a hack but is acceptable for development-only debugging.
func getGoroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	// Stack trace format: "goroutine 123 [running]:\n..."
	idField := strings.Fields(string(buf[:n]))[1]
	id, _ := strconv.ParseUint(idField, 10, 64)

	return id
}

// checkNoGuardHeld panics if the current goroutine already holds any bus guard.
func checkNoGuardHeld(name string) {
	if !lockOrderChecksEnabled() {
		return
	}

	gid := getGoroutineID()

	globalTracker.mu.RLock()
	held := append([]string(nil), globalTracker.locks[gid]...)
	globalTracker.mu.RUnlock()

	if len(held) == 0 {
		return
	}

	stack := make([]byte, 4096)
	n := runtime.Stack(stack, false)

	panic(fmt.Sprintf(
		"lock order violation: goroutine %d attempting to acquire %s while holding %s\n"+
			"Bus guards must not be nested\n"+
			"Stack trace:\n%s",
		gid, name, strings.Join(held, ", "), string(stack[:n]),
	))
}

// recordGuardAcquired records that the current goroutine has acquired a guard.
func recordGuardAcquired(name string) {
	if !lockOrderChecksEnabled() {
		return
	}

	gid := getGoroutineID()

	globalTracker.mu.Lock()
	defer globalTracker.mu.Unlock()

	globalTracker.locks[gid] = append(globalTracker.locks[gid], name)
}

// recordGuardReleased records that the current goroutine has released a guard.
func recordGuardReleased(name string) {
	if !lockOrderChecksEnabled() {
		return
	}

	gid := getGoroutineID()

	globalTracker.mu.Lock()
	defer globalTracker.mu.Unlock()

	locks := globalTracker.locks[gid]
	for i := len(locks) - 1; i >= 0; i-- {
		if locks[i] == name {
			globalTracker.locks[gid] = append(locks[:i], locks[i+1:]...)

			break
		}
	}

	if len(globalTracker.locks[gid]) == 0 {
		delete(globalTracker.locks, gid)
	}
}
