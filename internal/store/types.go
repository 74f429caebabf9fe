// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tenderscope Contributors

package store

import "time"

// Status is the health state of one credential.
type Status string

const (
	StatusHealthy   Status = "HEALTHY"
	StatusUnhealthy Status = "UNHEALTHY"
)

// MaxRecentErrors bounds the per-credential error sample list; the oldest
// sample is evicted first.
const MaxRecentErrors = 3

// ErrorSample is one recorded failure.
type ErrorSample struct {
	ErrorType    string    `json:"error_type"`
	ErrorMessage string    `json:"error_message"`
	Timestamp    time.Time `json:"timestamp"`
}

// KeyHealth is the persisted health record for one credential identifier.
type KeyHealth struct {
	// Identifier is the credential's configuration-variable name, the
	// unique key for the record.
	Identifier string `json:"identifier"`

	Status Status `json:"status"`

	// ConsecutiveFailures resets to zero on any success.
	ConsecutiveFailures int `json:"consecutive_failures"`

	// DailyFailures resets only on the daily rollover, never on success.
	DailyFailures int `json:"daily_failures"`

	// LastCheckedAt is the time of the most recent outcome.
	LastCheckedAt time.Time `json:"last_checked_at"`

	// RetryAt is only meaningful while Status is UNHEALTHY.
	RetryAt *time.Time `json:"retry_at,omitempty"`

	RecentErrors []ErrorSample `json:"recent_errors"`
}

// CoolingDown reports whether the credential is inadmissible at now.
func (k *KeyHealth) CoolingDown(now time.Time) bool {
	return k.Status == StatusUnhealthy && k.RetryAt != nil && now.Before(*k.RetryAt)
}

// appendSample appends a sample to list, evicting the oldest entries so
// the result never exceeds MaxRecentErrors.
func appendSample(list []ErrorSample, sample ErrorSample) []ErrorSample {
	list = append(list, sample)
	if len(list) > MaxRecentErrors {
		list = list[len(list)-MaxRecentErrors:]
	}
	return list
}
