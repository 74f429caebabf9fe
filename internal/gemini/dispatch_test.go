// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tenderscope Contributors

package gemini_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/tenderscope/tenderscope/internal/config"
	"github.com/tenderscope/tenderscope/internal/gemini"
	"github.com/tenderscope/tenderscope/internal/store"
	tserr "github.com/tenderscope/tenderscope/pkg/errors"
)

// callRecorder is a fake provider call that records attempt order and
// plays back per-credential behavior.
type callRecorder struct {
	mu       sync.Mutex
	attempts []string
	behave   map[string]func(att gemini.Attempt) error
}

func (c *callRecorder) fn(_ context.Context, cred gemini.Credential, att gemini.Attempt) error {
	c.mu.Lock()
	c.attempts = append(c.attempts, cred.Identifier)
	c.mu.Unlock()

	if behave, ok := c.behave[cred.Identifier]; ok {
		return behave(att)
	}
	return nil
}

func newTestDispatcher(health store.HealthStore, call gemini.CallFunc) *gemini.Dispatcher {
	policy := gemini.NewCooldownPolicy(10, 120*time.Minute)
	policy.SetJitterFunc(func() float64 { return 0 })
	return gemini.NewDispatcher(health, gemini.NewGate(health), gemini.NewRecorder(health, policy), call)
}

func credPool(ids ...string) []gemini.Credential {
	pool := make([]gemini.Credential, len(ids))
	for i, id := range ids {
		pool[i] = gemini.Credential{Identifier: id, Secret: "secret-" + id}
	}
	return pool
}

// block parks a credential for an hour so the gate refuses it.
func block(t *testing.T, health store.HealthStore, identifier string) {
	t.Helper()
	err := health.RecordFailure(context.Background(), identifier, store.ErrorSample{},
		func(_, _ int) time.Duration { return time.Hour })
	require.NoError(t, err)
}

func TestDispatcher_FailoverSkipsBlockedCredential(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryHealthStore()
	block(t, mem, "key-a")

	rec := &callRecorder{behave: map[string]func(gemini.Attempt) error{
		"key-b": func(att gemini.Attempt) error {
			att.Sink("ok")
			return nil
		},
	}}
	d := newTestDispatcher(mem, rec.fn)

	var out strings.Builder
	err := d.Dispatch(ctx, config.StrategyFailover, credPool("key-a", "key-b"),
		gemini.Attempt{Prompt: "p", Sink: func(s string) { out.WriteString(s) }})

	require.NoError(t, err)
	assert.Equal(t, []string{"key-b"}, rec.attempts, "blocked credential must not be attempted")
	assert.Equal(t, "ok", out.String())

	// Skipping is not a failure; the blocked record keeps its counters.
	recA, err := mem.Get(ctx, "key-a")
	require.NoError(t, err)
	assert.Equal(t, 1, recA.ConsecutiveFailures)
}

func TestDispatcher_FailoverRetriesAcrossPool(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	mem := store.NewMemoryHealthStore()
	mem.SetNowFunc(func() time.Time { return now })

	rec := &callRecorder{behave: map[string]func(gemini.Attempt) error{
		"key-x": func(gemini.Attempt) error {
			return genai.APIError{Code: 429, Message: "Resource has been exhausted"}
		},
		"key-y": func(att gemini.Attempt) error {
			att.Sink("Hello ")
			att.Sink("world")
			return nil
		},
	}}
	d := newTestDispatcher(mem, rec.fn)

	var chunks []string
	err := d.Dispatch(ctx, config.StrategyFailover, credPool("key-x", "key-y"),
		gemini.Attempt{Prompt: "p", Sink: func(s string) { chunks = append(chunks, s) }})

	require.NoError(t, err)
	assert.Equal(t, []string{"key-x", "key-y"}, rec.attempts)
	assert.Equal(t, []string{"Hello ", "world"}, chunks, "chunks must arrive in order")

	recX, err := mem.Get(ctx, "key-x")
	require.NoError(t, err)
	assert.Equal(t, store.StatusUnhealthy, recX.Status)
	assert.Equal(t, 1, recX.ConsecutiveFailures)
	require.NotNil(t, recX.RetryAt)
	assert.Equal(t, now.Add(time.Minute), *recX.RetryAt)

	recY, err := mem.Get(ctx, "key-y")
	require.NoError(t, err)
	assert.Equal(t, store.StatusHealthy, recY.Status)
}

func TestDispatcher_SingleBlockedCredentialExhaustsWithoutCall(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryHealthStore()
	block(t, mem, "key-a")

	rec := &callRecorder{}
	d := newTestDispatcher(mem, rec.fn)

	err := d.Dispatch(ctx, config.StrategyFailover, credPool("key-a"),
		gemini.Attempt{Prompt: "p", Sink: func(string) {}})

	require.Error(t, err)
	assert.True(t, tserr.IsExhausted(err))
	assert.Empty(t, rec.attempts, "provider must not be called for a blocked pool")
}

func TestDispatcher_FatalErrorStopsFailover(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryHealthStore()

	rec := &callRecorder{behave: map[string]func(gemini.Attempt) error{
		"key-a": func(gemini.Attempt) error {
			return genai.APIError{Code: 400, Message: "Invalid JSON payload received"}
		},
	}}
	d := newTestDispatcher(mem, rec.fn)

	err := d.Dispatch(ctx, config.StrategyFailover, credPool("key-a", "key-b"),
		gemini.Attempt{Prompt: "p", Sink: func(string) {}})

	require.Error(t, err)
	assert.True(t, tserr.HasCode(err, tserr.CodeGeminiRequestInvalid))
	assert.Equal(t, []string{"key-a"}, rec.attempts, "fatal errors must not trigger failover")

	// The failing attempt is still recorded.
	recA, err := mem.Get(ctx, "key-a")
	require.NoError(t, err)
	assert.Equal(t, 1, recA.ConsecutiveFailures)
}

func TestDispatcher_ExhaustedWrapsLastError(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryHealthStore()

	rec := &callRecorder{behave: map[string]func(gemini.Attempt) error{
		"key-a": func(gemini.Attempt) error { return genai.APIError{Code: 429} },
		"key-b": func(gemini.Attempt) error { return genai.APIError{Code: 429} },
	}}
	d := newTestDispatcher(mem, rec.fn)

	err := d.Dispatch(ctx, config.StrategyFailover, credPool("key-a", "key-b"),
		gemini.Attempt{Prompt: "p", Sink: func(string) {}})

	require.Error(t, err)
	assert.True(t, tserr.IsExhausted(err))
	assert.Equal(t, []string{"key-a", "key-b"}, rec.attempts)
}

func TestDispatcher_EmptyPool(t *testing.T) {
	d := newTestDispatcher(store.NewMemoryHealthStore(), (&callRecorder{}).fn)

	err := d.Dispatch(context.Background(), config.StrategyFailover, nil,
		gemini.Attempt{Prompt: "p", Sink: func(string) {}})

	require.Error(t, err)
	assert.True(t, tserr.HasCode(err, tserr.CodeGeminiPoolEmpty))
}

func TestDispatcher_RoundRobinAdvancesCursorPastSuccess(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryHealthStore()

	rec := &callRecorder{}
	d := newTestDispatcher(mem, rec.fn)
	d.SetCursor(1)

	err := d.Dispatch(ctx, config.StrategyRoundRobin, credPool("key-a", "key-b", "key-c"),
		gemini.Attempt{Prompt: "p", Sink: func(string) {}})

	require.NoError(t, err)
	assert.Equal(t, []string{"key-b"}, rec.attempts)
	assert.Equal(t, int64(2), d.Cursor())
}

func TestDispatcher_RoundRobinWrapsAround(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryHealthStore()

	rec := &callRecorder{behave: map[string]func(gemini.Attempt) error{
		"key-c": func(gemini.Attempt) error { return genai.APIError{Code: 429} },
	}}
	d := newTestDispatcher(mem, rec.fn)
	d.SetCursor(2)

	err := d.Dispatch(ctx, config.StrategyRoundRobin, credPool("key-a", "key-b", "key-c"),
		gemini.Attempt{Prompt: "p", Sink: func(string) {}})

	require.NoError(t, err)
	assert.Equal(t, []string{"key-c", "key-a"}, rec.attempts)
	assert.Equal(t, int64(1), d.Cursor())
}

func TestDispatcher_RoundRobinPrefiltersBlocked(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryHealthStore()
	block(t, mem, "key-b")

	rec := &callRecorder{behave: map[string]func(gemini.Attempt) error{
		"key-a": func(gemini.Attempt) error { return genai.APIError{Code: 429} },
	}}
	d := newTestDispatcher(mem, rec.fn)

	err := d.Dispatch(ctx, config.StrategyRoundRobin, credPool("key-a", "key-b", "key-c"),
		gemini.Attempt{Prompt: "p", Sink: func(string) {}})

	require.NoError(t, err)
	// key-b drops out of the rotation entirely; the admitted subset is
	// [key-a, key-c].
	assert.Equal(t, []string{"key-a", "key-c"}, rec.attempts)
	assert.Equal(t, int64(0), d.Cursor())
}

func TestDispatcher_RoundRobinAllBlocked(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryHealthStore()
	block(t, mem, "key-a")
	block(t, mem, "key-b")

	rec := &callRecorder{}
	d := newTestDispatcher(mem, rec.fn)

	err := d.Dispatch(ctx, config.StrategyRoundRobin, credPool("key-a", "key-b"),
		gemini.Attempt{Prompt: "p", Sink: func(string) {}})

	require.Error(t, err)
	assert.True(t, tserr.IsExhausted(err))
	assert.Empty(t, rec.attempts)
}

// failingStore simulates a health-store outage on every operation.
type failingStore struct{}

func (failingStore) Get(context.Context, string) (*store.KeyHealth, error) {
	return nil, store.ErrDatabase
}

func (failingStore) GetMany(context.Context, []string) (map[string]*store.KeyHealth, error) {
	return nil, store.ErrDatabase
}

func (failingStore) RecordSuccess(context.Context, string) error { return store.ErrDatabase }

func (failingStore) RecordFailure(context.Context, string, store.ErrorSample, store.CooldownFunc) error {
	return store.ErrDatabase
}

func (failingStore) ListByStatus(context.Context, store.Status) ([]*store.KeyHealth, error) {
	return nil, store.ErrDatabase
}

func (failingStore) ResetAll(context.Context) (int64, error) { return 0, store.ErrDatabase }
func (failingStore) Close() error                            { return nil }

func TestDispatcher_StoreOutageDoesNotFailRequest(t *testing.T) {
	ctx := context.Background()

	for _, strategy := range []string{config.StrategyFailover, config.StrategyRoundRobin} {
		t.Run(strategy, func(t *testing.T) {
			rec := &callRecorder{behave: map[string]func(gemini.Attempt) error{
				"key-a": func(att gemini.Attempt) error {
					att.Sink("result")
					return nil
				},
			}}
			d := newTestDispatcher(failingStore{}, rec.fn)

			var out strings.Builder
			err := d.Dispatch(ctx, strategy, credPool("key-a"),
				gemini.Attempt{Prompt: "p", Sink: func(s string) { out.WriteString(s) }})

			require.NoError(t, err, "health bookkeeping must stay off the critical path")
			assert.Equal(t, "result", out.String())
		})
	}
}
