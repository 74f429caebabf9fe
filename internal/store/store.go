// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tenderscope Contributors

package store

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors for store operations, checkable with errors.Is().
var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput indicates the input parameters are invalid.
	ErrInvalidInput = errors.New("invalid input")

	// ErrDatabase is a catch-all for unexpected database failures.
	ErrDatabase = errors.New("database error")
)

// CooldownFunc computes the cooldown duration for a credential given its
// post-increment failure counters. The store calls it inside the failure
// upsert so the stored retry_at always reflects the counters it was
// derived from.
type CooldownFunc func(consecutiveFailures, dailyFailures int) time.Duration

// HealthStore persists per-credential health records. Records are created
// lazily on the first recorded outcome; a missing record means healthy
// with no cooldown.
//
// The store owns all mutation. Callers treat writes as best-effort at the
// dispatch layer, but the store itself reports errors normally.
type HealthStore interface {
	// Get returns the record for one credential identifier, or ErrNotFound.
	Get(ctx context.Context, identifier string) (*KeyHealth, error)

	// GetMany returns records for the given identifiers, keyed by
	// identifier. Identifiers with no stored record are absent from the
	// result, not an error.
	GetMany(ctx context.Context, identifiers []string) (map[string]*KeyHealth, error)

	// RecordSuccess upserts a healthy record: consecutive failures reset
	// to zero, daily failures untouched.
	RecordSuccess(ctx context.Context, identifier string) error

	// RecordFailure upserts an unhealthy record: both failure counters
	// incremented, the error sample appended (bounded), and retry_at set
	// to now + cooldownFor(newConsecutive, newDaily).
	RecordFailure(ctx context.Context, identifier string, sample ErrorSample, cooldownFor CooldownFunc) error

	// ListByStatus returns all records with the given status, or every
	// record when status is empty. Operational use only.
	ListByStatus(ctx context.Context, status Status) ([]*KeyHealth, error)

	// ResetAll clears counters, status, and retry times on every record,
	// returning the number of records touched. Run by the daily cron.
	ResetAll(ctx context.Context) (int64, error)

	Close() error
}
