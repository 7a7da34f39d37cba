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
	"fmt"

	"go.uber.org/zap"
)

type IssueType string

const (
	IssueTypeWarning IssueType = "warning"
	IssueTypeError   IssueType = "error"
	IssueTypeFatal   IssueType = "fatal"
)

// ReportIssue logs err and forwards it to Sentry. Fatal issues panic after the event is flushed.
func ReportIssue(err error, issueType IssueType, log *zap.SugaredLogger) {
	ReportIssueWithContext(err, issueType, log, nil)
}

func ReportIssuef(issueType IssueType, log *zap.SugaredLogger, template string, args ...interface{}) {
	ReportIssue(fmt.Errorf(template, args...), issueType, log)
}

// ReportIssueWithContext reports an issue with additional context data that will be attached as tags.
func ReportIssueWithContext(err error, issueType IssueType, log *zap.SugaredLogger, context map[string]interface{}) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	switch issueType {
	case IssueTypeFatal:
		reportFatal(err, log, context)
	case IssueTypeError:
		reportError(err, log, context)
	case IssueTypeWarning:
		reportWarning(err, log, context)
	}
}

// ReportSafetyIssuef reports a safety-path event (failsafe trip, degradation to CRITICAL, watchdog reset)
// tagged with the component and the state it ended up in.
func ReportSafetyIssuef(issueType IssueType, log *zap.SugaredLogger, component string, state string, template string, args ...interface{}) {
	context := map[string]interface{}{
		"component": component,
		"state":     state,
	}
	ReportIssueWithContext(fmt.Errorf(template, args...), issueType, log, context)
}

// ReportTaskErrorf reports an error raised by a scheduled task.
func ReportTaskErrorf(log *zap.SugaredLogger, core string, task string, template string, args ...interface{}) {
	context := map[string]interface{}{
		"core":      core,
		"task":      task,
		"operation": "task_run",
	}
	ReportIssueWithContext(fmt.Errorf(template, args...), IssueTypeError, log, context)
}
