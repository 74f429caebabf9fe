// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tenderscope Contributors

package gemini

import (
	"context"
	"log/slog"
	"time"

	"github.com/tenderscope/tenderscope/internal/store"
)

// maxSampleMessage bounds the error text stored in a health record, so a
// verbose provider response cannot bloat the store.
const maxSampleMessage = 500

// Recorder writes attempt outcomes to the health store. All writes are
// best-effort: a store outage is logged and swallowed, never surfaced to
// the in-flight generation request.
type Recorder struct {
	health  store.HealthStore
	policy  *CooldownPolicy
	nowFunc func() time.Time // for testing
}

// NewRecorder returns a Recorder applying the given cooldown policy on
// failures.
func NewRecorder(health store.HealthStore, policy *CooldownPolicy) *Recorder {
	return &Recorder{health: health, policy: policy, nowFunc: time.Now}
}

// Success marks the credential healthy and clears its consecutive-failure
// streak.
func (r *Recorder) Success(ctx context.Context, identifier string) {
	if err := r.health.RecordSuccess(ctx, identifier); err != nil {
		slog.Warn("recording credential success failed",
			"credential", identifier,
			"error", err,
		)
	}
}

// Failure increments the credential's failure counters and parks it for
// the policy-computed cooldown.
func (r *Recorder) Failure(ctx context.Context, identifier string, cause error) {
	msg := cause.Error()
	if len(msg) > maxSampleMessage {
		msg = msg[:maxSampleMessage]
	}
	sample := store.ErrorSample{
		ErrorType:    errorTypeOf(cause),
		ErrorMessage: msg,
		Timestamp:    r.nowFunc(),
	}

	if err := r.health.RecordFailure(ctx, identifier, sample, r.policy.Cooldown); err != nil {
		slog.Warn("recording credential failure failed",
			"credential", identifier,
			"error", err,
		)
	}
}
