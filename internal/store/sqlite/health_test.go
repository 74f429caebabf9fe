// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tenderscope Contributors

package sqlite_test

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tenderscope/tenderscope/internal/store"
	"github.com/tenderscope/tenderscope/internal/store/sqlite"
)

func newTestStore(t *testing.T) *sqlite.HealthStore {
	t.Helper()
	s, err := sqlite.NewHealthStore(filepath.Join(t.TempDir(), "health.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func fixedCooldown(d time.Duration) store.CooldownFunc {
	return func(_, _ int) time.Duration { return d }
}

func TestHealthStore_GetMissing(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get(context.Background(), "GEMINI_API_KEY_PROD_PRIMARY")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestHealthStore_FailureRoundTrip(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	s := newTestStore(t)
	s.SetNowFunc(func() time.Time { return now })

	sample := store.ErrorSample{ErrorType: "APIError", ErrorMessage: "429 quota exceeded", Timestamp: now}
	require.NoError(t, s.RecordFailure(ctx, "key-a", sample, fixedCooldown(time.Minute)))

	rec, err := s.Get(ctx, "key-a")
	require.NoError(t, err)
	assert.Equal(t, "key-a", rec.Identifier)
	assert.Equal(t, store.StatusUnhealthy, rec.Status)
	assert.Equal(t, 1, rec.ConsecutiveFailures)
	assert.Equal(t, 1, rec.DailyFailures)
	assert.True(t, rec.LastCheckedAt.Equal(now))
	require.NotNil(t, rec.RetryAt)
	assert.True(t, rec.RetryAt.Equal(now.Add(time.Minute)))
	require.Len(t, rec.RecentErrors, 1)
	assert.Equal(t, "APIError", rec.RecentErrors[0].ErrorType)
	assert.Equal(t, "429 quota exceeded", rec.RecentErrors[0].ErrorMessage)
}

func TestHealthStore_CountersIncrementInDatabase(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	var seen [][2]int
	for range 3 {
		err := s.RecordFailure(ctx, "key-a", store.ErrorSample{}, func(c, d int) time.Duration {
			seen = append(seen, [2]int{c, d})
			return time.Minute
		})
		require.NoError(t, err)
	}

	assert.Equal(t, [][2]int{{1, 1}, {2, 2}, {3, 3}}, seen,
		"cooldown must be computed from post-increment counters")
}

func TestHealthStore_SuccessResetsConsecutiveOnly(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	for range 4 {
		require.NoError(t, s.RecordFailure(ctx, "key-a", store.ErrorSample{}, fixedCooldown(time.Minute)))
	}
	require.NoError(t, s.RecordSuccess(ctx, "key-a"))

	rec, err := s.Get(ctx, "key-a")
	require.NoError(t, err)
	assert.Equal(t, store.StatusHealthy, rec.Status)
	assert.Equal(t, 0, rec.ConsecutiveFailures)
	assert.Equal(t, 4, rec.DailyFailures)
}

func TestHealthStore_SuccessCreatesRecordLazily(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.RecordSuccess(ctx, "key-fresh"))

	rec, err := s.Get(ctx, "key-fresh")
	require.NoError(t, err)
	assert.Equal(t, store.StatusHealthy, rec.Status)
	assert.Empty(t, rec.RecentErrors)
	assert.Nil(t, rec.RetryAt)
}

func TestHealthStore_RecentErrorsBounded(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	for i := range 5 {
		sample := store.ErrorSample{ErrorMessage: fmt.Sprintf("failure %d", i), Timestamp: time.Now()}
		require.NoError(t, s.RecordFailure(ctx, "key-a", sample, fixedCooldown(time.Minute)))
	}

	rec, err := s.Get(ctx, "key-a")
	require.NoError(t, err)
	require.Len(t, rec.RecentErrors, store.MaxRecentErrors)
	assert.Equal(t, "failure 2", rec.RecentErrors[0].ErrorMessage)
	assert.Equal(t, "failure 4", rec.RecentErrors[2].ErrorMessage)
}

func TestHealthStore_GetMany(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.RecordSuccess(ctx, "key-a"))
	require.NoError(t, s.RecordFailure(ctx, "key-b", store.ErrorSample{}, fixedCooldown(time.Minute)))

	got, err := s.GetMany(ctx, []string{"key-a", "key-b", "key-unseen"})
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, store.StatusHealthy, got["key-a"].Status)
	assert.Equal(t, store.StatusUnhealthy, got["key-b"].Status)

	empty, err := s.GetMany(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestHealthStore_ListByStatus(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.RecordSuccess(ctx, "key-a"))
	require.NoError(t, s.RecordFailure(ctx, "key-b", store.ErrorSample{}, fixedCooldown(time.Minute)))
	require.NoError(t, s.RecordFailure(ctx, "key-c", store.ErrorSample{}, fixedCooldown(time.Minute)))

	unhealthy, err := s.ListByStatus(ctx, store.StatusUnhealthy)
	require.NoError(t, err)
	require.Len(t, unhealthy, 2)
	assert.Equal(t, "key-b", unhealthy[0].Identifier)
	assert.Equal(t, "key-c", unhealthy[1].Identifier)

	all, err := s.ListByStatus(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestHealthStore_ResetAll(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.RecordFailure(ctx, "key-a", store.ErrorSample{}, fixedCooldown(time.Hour)))
	require.NoError(t, s.RecordFailure(ctx, "key-b", store.ErrorSample{}, fixedCooldown(time.Hour)))

	n, err := s.ResetAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	rec, err := s.Get(ctx, "key-b")
	require.NoError(t, err)
	assert.Equal(t, store.StatusHealthy, rec.Status)
	assert.Zero(t, rec.ConsecutiveFailures)
	assert.Zero(t, rec.DailyFailures)
	assert.Nil(t, rec.RetryAt)
}

func TestHealthStore_EmptyIdentifierRejected(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	assert.ErrorIs(t, s.RecordSuccess(ctx, ""), store.ErrInvalidInput)
	assert.ErrorIs(t, s.RecordFailure(ctx, "", store.ErrorSample{}, fixedCooldown(time.Minute)), store.ErrInvalidInput)
}
