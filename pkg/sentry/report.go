// Copyright 2026 The orc-core Authors
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
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"
)

type IssueType string

const (
	IssueTypeWarning IssueType = "warning"
	IssueTypeError   IssueType = "error"
	IssueTypeFatal   IssueType = "fatal"
)

// debounceWindow is the minimum interval between reports of the same
// level; crash reporting is a defect signal, not a log stream.
const debounceWindow = 2 * time.Hour

var (
	errorLastSent   = time.Now().Add(-24 * time.Hour)
	warningLastSent = time.Now().Add(-24 * time.Hour)
	lastSentMutex   sync.Mutex
)

func ReportIssue(err error, issueType IssueType, log *zap.SugaredLogger) {
	ReportIssueWithContext(err, issueType, log, nil)
}

func ReportIssuef(issueType IssueType, log *zap.SugaredLogger, template string, args ...interface{}) {
	ReportIssue(fmt.Errorf(template, args...), issueType, log)
}

// ReportIssueWithContext reports an issue with additional context data
// that will be included as tags.
func ReportIssueWithContext(err error, issueType IssueType, log *zap.SugaredLogger, context map[string]interface{}) {
	if log == nil {
		// If logger initialization failed somehow, avoid nil panics
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

// ReportIssuefWithContext formats an error message and reports it with
// additional context data.
func ReportIssuefWithContext(issueType IssueType, log *zap.SugaredLogger, context map[string]interface{}, template string, args ...interface{}) {
	ReportIssueWithContext(fmt.Errorf(template, args...), issueType, log, context)
}

// ReportMachineError reports a machine-related error with proper context.
func ReportMachineError(log *zap.SugaredLogger, machineID string, operation string, err error) {
	context := map[string]interface{}{
		"machine_id": machineID,
		"operation":  operation,
	}
	ReportIssueWithContext(err, IssueTypeError, log, context)
}

// ReportMachineErrorf formats a machine-related error message and reports
// it with proper context.
func ReportMachineErrorf(log *zap.SugaredLogger, machineID string, operation string, template string, args ...interface{}) {
	ReportMachineError(log, machineID, operation, fmt.Errorf(template, args...))
}

// ReportMachineFatal reports a machine-related fatal error with proper
// context. It terminates the process via panic after flushing.
func ReportMachineFatal(log *zap.SugaredLogger, machineID string, operation string, err error) {
	context := map[string]interface{}{
		"machine_id": machineID,
		"operation":  operation,
	}
	ReportIssueWithContext(err, IssueTypeFatal, log, context)
}

// reportFatal sends a fatal error including the stacks of all live
// goroutines, flushes, then panics. Fatal means the process cannot
// continue.
func reportFatal(err error, log *zap.SugaredLogger, context map[string]interface{}) {
	log.Error("orc-core has encountered a fatal error and will now terminate.")
	log.Errorf("Error: %s", err)

	event := createSentryEventWithContext(sentry.LevelFatal, err, context)

	threads, stack := captureGoroutinesAsThreads()
	event.Threads = threads
	log.Errorf("Stack trace: %s", string(stack))

	sendSentryEvent(event)
	sentry.Flush(5 * time.Second)

	log.Panic("Fatal error")
}

// reportError sends an error, debounced so repeated faults do not flood
// the project.
func reportError(err error, log *zap.SugaredLogger, context map[string]interface{}) {
	log.Error(err)

	if shouldDebounceErrors {
		lastSentMutex.Lock()
		defer lastSentMutex.Unlock()

		if time.Since(errorLastSent) < debounceWindow {
			return
		}
		errorLastSent = time.Now()
	}

	sendSentryEvent(createSentryEventWithContext(sentry.LevelError, err, context))
}

// reportWarning sends a warning, debounced like errors.
func reportWarning(err error, log *zap.SugaredLogger, context map[string]interface{}) {
	log.Warn(err)

	if shouldDebounceErrors {
		lastSentMutex.Lock()
		defer lastSentMutex.Unlock()

		if time.Since(warningLastSent) < debounceWindow {
			return
		}
		warningLastSent = time.Now()
	}

	sendSentryEvent(createSentryEventWithContext(sentry.LevelWarning, err, context))
}
