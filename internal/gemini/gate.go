// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tenderscope Contributors

package gemini

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/tenderscope/tenderscope/internal/store"
)

// Gate is the circuit-breaker admission check consulted before each
// attempt. Cooldown expiry is evaluated lazily here; nothing re-opens a
// credential on a timer.
type Gate struct {
	health  store.HealthStore
	nowFunc func() time.Time // for testing
}

// NewGate returns a Gate reading from the given health store.
func NewGate(health store.HealthStore) *Gate {
	return &Gate{health: health, nowFunc: time.Now}
}

// SetNowFunc overrides the time source (for testing).
func (g *Gate) SetNowFunc(fn func() time.Time) { g.nowFunc = fn }

// Admit reports whether the credential may be attempted right now. A
// missing record means the credential has never failed and is admitted.
// Health reads are advisory: if the store itself is unavailable the
// credential is admitted rather than blocking generation on
// bookkeeping.
func (g *Gate) Admit(ctx context.Context, identifier string) (blocked bool, retryAt time.Time) {
	rec, err := g.health.Get(ctx, identifier)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			slog.Warn("health read failed, admitting credential",
				"credential", identifier,
				"error", err,
			)
		}
		return false, time.Time{}
	}
	return g.admitRecord(rec)
}

func (g *Gate) admitRecord(rec *store.KeyHealth) (blocked bool, retryAt time.Time) {
	if rec == nil {
		return false, time.Time{}
	}
	if rec.CoolingDown(g.nowFunc()) {
		return true, *rec.RetryAt
	}
	return false, time.Time{}
}
