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

// Package sentry reports unexpected conditions to crash reporting.
// Reporting is inert unless ORC_SENTRY_DSN is set and the build carries
// a stamped version, so local runs and tests never phone home.
package sentry

import (
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"

	"github.com/open-run-control/orc-core/pkg/constants"
	"github.com/open-run-control/orc-core/pkg/env"
)

// Package-level state for debouncing errors.
var shouldDebounceErrors = true

// EnableTestMode disables debouncing for testing.
func EnableTestMode() {
	shouldDebounceErrors = false
}

// DisableTestMode restores normal debouncing behavior.
func DisableTestMode() {
	shouldDebounceErrors = true
}

// InitSentry initializes crash reporting with the given app version.
// Local development builds (the default unset version) and processes
// without ORC_SENTRY_DSN stay unreported; CI and release builds stamp
// the version via ldflags.
func InitSentry(appVersion string) {
	if appVersion == "" || appVersion == constants.DefaultAppVersion {
		zap.S().Debug("Crash reporting disabled for local development build")

		return
	}

	dsn, err := env.GetAsString("ORC_SENTRY_DSN", false, "")
	if err != nil || dsn == "" {
		zap.S().Debug("Crash reporting disabled, no DSN configured")

		return
	}

	environment := constants.DefaultDevelopmentEnvironment

	version, err := semver.NewVersion(appVersion)
	if err != nil {
		zap.S().Errorf("Failed to parse app version, using default environment (development): %s", err)
	} else if version.Prerelease() == "" {
		environment = constants.DefaultProductionEnvironment
	}

	err = sentry.Init(sentry.ClientOptions{
		Dsn:           dsn,
		Environment:   environment,
		Release:       "orc-core@" + appVersion,
		EnableTracing: false,
	})
	if err != nil {
		zap.S().Errorf("Failed to initialize crash reporting: %s", err)

		return
	}
}

func getMeaningfulErrorTitle(err error) string {
	message := err.Error()

	// First phrase only, up to period, comma or colon
	idx := strings.IndexAny(message, ".,:")
	if idx > 0 {
		message = message[:idx]
	}

	if len(message) > 100 {
		message = message[:97] + "..."
	}

	return message
}

func createSentryEvent(level sentry.Level, err error) *sentry.Event {
	event := sentry.NewEvent()
	event.Level = level
	event.Message = err.Error()

	exception := &sentry.Exception{
		Type:       getMeaningfulErrorTitle(err),
		Value:      err.Error(),
		Stacktrace: sentry.ExtractStacktrace(err),
	}
	event.Exception = []sentry.Exception{*exception}

	// Default stack trace fingerprinting groups similar errors; the level
	// hint keeps warnings apart from errors.
	event.Fingerprint = []string{
		"{{ default }}",
		"level: " + getLevelString(level),
	}

	return event
}

// createSentryEventWithContext creates an event with additional context data.
func createSentryEventWithContext(level sentry.Level, err error, context map[string]interface{}) *sentry.Event {
	event := createSentryEvent(level, err)

	if context != nil {
		if event.Tags == nil {
			event.Tags = make(map[string]string)
		}

		for key, value := range context {
			switch convertedValue := value.(type) {
			case string:
				event.Tags[key] = convertedValue
			case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64, bool:
				event.Tags[key] = fmt.Sprintf("%v", convertedValue)
			default:
				if event.Extra == nil {
					event.Extra = make(map[string]interface{})
				}
				event.Extra[key] = convertedValue
			}

			// Operation and machine id split fingerprints so distinct
			// failure sites group separately.
			if key == "operation" || key == "machine_id" {
				event.Fingerprint = append(event.Fingerprint, fmt.Sprintf("%s: %v", key, value))
			}
		}
	}

	return event
}

// Helper function to convert sentry.Level to string.
func getLevelString(level sentry.Level) string {
	switch level {
	case sentry.LevelDebug:
		return "debug"
	case sentry.LevelInfo:
		return "info"
	case sentry.LevelWarning:
		return "warning"
	case sentry.LevelError:
		return "error"
	case sentry.LevelFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Helper function to send an event to Sentry.
func sendSentryEvent(event *sentry.Event) {
	localHub := sentry.CurrentHub().Clone()
	localHub.CaptureEvent(event)
}
