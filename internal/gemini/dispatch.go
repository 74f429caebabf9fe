// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tenderscope Contributors

package gemini

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/tenderscope/tenderscope/internal/config"
	"github.com/tenderscope/tenderscope/internal/store"
	tserr "github.com/tenderscope/tenderscope/pkg/errors"
)

// Attempt carries everything a single provider call needs besides the
// credential. Once requests the non-streaming variant; the complete
// response text is then delivered to Sink in a single call.
type Attempt struct {
	Prompt   string
	Sink     Sink
	LogUsage bool
	Once     bool
}

// CallFunc performs one attempt against one credential. The Dispatcher
// is strategy logic only; the actual provider call is injected so tests
// can fake it.
type CallFunc func(ctx context.Context, cred Credential, att Attempt) error

// Dispatcher runs the attempt loop across a credential pool. Attempts
// within one dispatch are strictly sequential; there is no parallel
// fan-out, so primary/backup precedence holds and no call is billed
// twice.
type Dispatcher struct {
	health   store.HealthStore
	gate     *Gate
	recorder *Recorder
	call     CallFunc

	// Round-robin start position. Races between concurrent dispatches
	// only skew rotation, never correctness, so a plain atomic is
	// enough.
	cursor atomic.Int64
}

// NewDispatcher wires the strategy loop to its collaborators.
func NewDispatcher(health store.HealthStore, gate *Gate, recorder *Recorder, call CallFunc) *Dispatcher {
	return &Dispatcher{
		health:   health,
		gate:     gate,
		recorder: recorder,
		call:     call,
	}
}

// SetCursor positions the round-robin cursor (for testing).
func (d *Dispatcher) SetCursor(n int64) { d.cursor.Store(n) }

// Cursor reports the round-robin cursor position (for testing).
func (d *Dispatcher) Cursor() int64 { return d.cursor.Load() }

// Dispatch tries credentials from pool according to strategy until one
// succeeds, a fatal error stops the loop, or the pool is exhausted.
func (d *Dispatcher) Dispatch(ctx context.Context, strategy string, pool []Credential, att Attempt) error {
	if len(pool) == 0 {
		return tserr.New(tserr.CodeGeminiPoolEmpty, "no credentials configured",
			tserr.FieldStrategy(strategy))
	}

	if strategy == config.StrategyRoundRobin {
		return d.roundRobin(ctx, pool, att)
	}
	return d.failover(ctx, pool, att)
}

// failover walks the pool in order, checking admission immediately
// before each attempt. Blocked credentials are skipped without a health
// write.
func (d *Dispatcher) failover(ctx context.Context, pool []Credential, att Attempt) error {
	var lastErr error

	for _, cred := range pool {
		blocked, retryAt := d.gate.Admit(ctx, cred.Identifier)
		if blocked {
			slog.Info("credential cooling down, skipping",
				"credential", cred.Identifier,
				"retry_at", retryAt,
			)
			lastErr = tserr.New(tserr.CodeGeminiCredentialBlocked, "credential cooling down",
				tserr.FieldCredential(cred.Identifier),
				tserr.Field("retry_at", retryAt))
			continue
		}

		err := d.attempt(ctx, cred, att)
		if err == nil {
			return nil
		}
		lastErr = err
		if fatal(err) {
			return fatalError(cred, err)
		}
	}

	return exhausted(lastErr)
}

// roundRobin pre-filters the pool once via a batch health read, then
// rotates through the admitted subset starting at the shared cursor. A
// credential whose cooldown expires mid-loop is not reconsidered until
// the next dispatch.
func (d *Dispatcher) roundRobin(ctx context.Context, pool []Credential, att Attempt) error {
	records, err := d.health.GetMany(ctx, Identifiers(pool))
	if err != nil {
		slog.Warn("batch health read failed, admitting all credentials", "error", err)
		records = nil
	}

	var admitted []Credential
	for _, cred := range pool {
		if blocked, _ := d.gate.admitRecord(records[cred.Identifier]); !blocked {
			admitted = append(admitted, cred)
		}
	}
	if len(admitted) == 0 {
		return exhausted(nil)
	}

	n := len(admitted)
	start := int(d.cursor.Load()) % n
	if start < 0 {
		start = 0
	}

	var lastErr error
	for i := range n {
		idx := (start + i) % n
		cred := admitted[idx]

		err := d.attempt(ctx, cred, att)
		if err == nil {
			// The next unrelated request should prefer a different
			// credential.
			d.cursor.Store(int64((idx + 1) % n))
			return nil
		}
		lastErr = err
		if fatal(err) {
			return fatalError(cred, err)
		}
	}

	return exhausted(lastErr)
}

// attempt runs one provider call and records its outcome.
func (d *Dispatcher) attempt(ctx context.Context, cred Credential, att Attempt) error {
	err := d.call(ctx, cred, att)
	if err == nil {
		d.recorder.Success(ctx, cred.Identifier)
		return nil
	}

	d.recorder.Failure(ctx, cred.Identifier, err)
	slog.Warn("credential attempt failed",
		"credential", cred.Identifier,
		"retriable", IsRetriable(err),
		"error", err,
	)
	return err
}

func fatal(err error) bool { return !IsRetriable(err) }

func fatalError(cred Credential, err error) error {
	return tserr.Wrap(err, tserr.CodeGeminiRequestInvalid, "provider rejected request",
		tserr.FieldCredential(cred.Identifier))
}

func exhausted(lastErr error) error {
	if lastErr == nil {
		return tserr.New(tserr.CodeGeminiDispatchExhausted, "all credentials cooling down")
	}
	return tserr.Wrap(lastErr, tserr.CodeGeminiDispatchExhausted, "credential pool exhausted")
}
