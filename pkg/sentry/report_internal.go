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

package sentry

import (
	"runtime/debug"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"
)

// debounceInterval is the minimum time between two Sentry events with the same title.
// Local logging is never debounced.
const debounceInterval = 30 * time.Minute

var (
	lastSent   = make(map[string]time.Time)
	lastSentMu sync.Mutex
)

// shouldSend reports whether an event with this title may be sent now.
func shouldSend(level sentry.Level, err error) bool {
	if !shouldDebounceErrors {
		return true
	}

	key := getLevelString(level) + ":" + getMeaningfulErrorTitle(err)

	lastSentMu.Lock()
	defer lastSentMu.Unlock()

	if last, ok := lastSent[key]; ok && time.Since(last) < debounceInterval {
		return false
	}

	lastSent[key] = time.Now()

	return true
}

// reportFatal sends a fatal error to Sentry, logs it and panics.
func reportFatal(err error, log *zap.SugaredLogger, context map[string]interface{}) {
	log.Error("motion-core has encountered a fatal error and will now terminate. Motion stays inhibited until restart.")
	log.Errorf("Error: %s", err)
	log.Errorf("Stack trace: %s", string(debug.Stack()))

	sendSentryEvent(createSentryEventWithContext(sentry.LevelFatal, err, context))
	sentry.Flush(time.Second * 5)

	log.Panic("Fatal error")
}

func reportError(err error, log *zap.SugaredLogger, context map[string]interface{}) {
	log.Error(err)

	if shouldSend(sentry.LevelError, err) {
		sendSentryEvent(createSentryEventWithContext(sentry.LevelError, err, context))
	}
}

func reportWarning(err error, log *zap.SugaredLogger, context map[string]interface{}) {
	log.Warn(err)

	if shouldSend(sentry.LevelWarning, err) {
		sendSentryEvent(createSentryEventWithContext(sentry.LevelWarning, err, context))
	}
}
