// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tenderscope Contributors

package store

import (
	"context"
	"sync"
	"time"
)

// Compile-time interface check.
var _ HealthStore = (*MemoryHealthStore)(nil)

// MemoryHealthStore is an in-process HealthStore for development and
// tests. State does not survive restarts, so cross-process health
// sharing requires the sqlite backend.
type MemoryHealthStore struct {
	mu      sync.RWMutex
	records map[string]*KeyHealth
	nowFunc func() time.Time // for testing
}

// NewMemoryHealthStore returns an empty MemoryHealthStore.
func NewMemoryHealthStore() *MemoryHealthStore {
	return &MemoryHealthStore{
		records: make(map[string]*KeyHealth),
		nowFunc: time.Now,
	}
}

// SetNowFunc overrides the time source (for testing).
func (m *MemoryHealthStore) SetNowFunc(fn func() time.Time) {
	m.mu.Lock()
	m.nowFunc = fn
	m.mu.Unlock()
}

func (m *MemoryHealthStore) Get(_ context.Context, identifier string) (*KeyHealth, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[identifier]
	if !ok {
		return nil, ErrNotFound
	}
	cp := cloneRecord(rec)
	return &cp, nil
}

func (m *MemoryHealthStore) GetMany(_ context.Context, identifiers []string) (map[string]*KeyHealth, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]*KeyHealth, len(identifiers))
	for _, id := range identifiers {
		if rec, ok := m.records[id]; ok {
			cp := cloneRecord(rec)
			out[id] = &cp
		}
	}
	return out, nil
}

func (m *MemoryHealthStore) RecordSuccess(_ context.Context, identifier string) error {
	if identifier == "" {
		return ErrInvalidInput
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.nowFunc()
	rec, ok := m.records[identifier]
	if !ok {
		rec = &KeyHealth{Identifier: identifier}
		m.records[identifier] = rec
	}
	rec.Status = StatusHealthy
	rec.ConsecutiveFailures = 0
	rec.LastCheckedAt = now
	// DailyFailures and RetryAt are deliberately left alone; RetryAt is
	// irrelevant while the record is healthy.
	return nil
}

func (m *MemoryHealthStore) RecordFailure(_ context.Context, identifier string, sample ErrorSample, cooldownFor CooldownFunc) error {
	if identifier == "" {
		return ErrInvalidInput
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.nowFunc()
	rec, ok := m.records[identifier]
	if !ok {
		rec = &KeyHealth{Identifier: identifier}
		m.records[identifier] = rec
	}

	rec.ConsecutiveFailures++
	rec.DailyFailures++
	rec.Status = StatusUnhealthy
	rec.LastCheckedAt = now
	rec.RecentErrors = appendSample(rec.RecentErrors, sample)

	retryAt := now.Add(cooldownFor(rec.ConsecutiveFailures, rec.DailyFailures))
	rec.RetryAt = &retryAt
	return nil
}

func (m *MemoryHealthStore) ListByStatus(_ context.Context, status Status) ([]*KeyHealth, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*KeyHealth
	for _, rec := range m.records {
		if status != "" && rec.Status != status {
			continue
		}
		cp := cloneRecord(rec)
		out = append(out, &cp)
	}
	return out, nil
}

func (m *MemoryHealthStore) ResetAll(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, rec := range m.records {
		rec.Status = StatusHealthy
		rec.ConsecutiveFailures = 0
		rec.DailyFailures = 0
		rec.RetryAt = nil
	}
	return int64(len(m.records)), nil
}

func (m *MemoryHealthStore) Close() error { return nil }

// cloneRecord copies a record so callers cannot mutate stored state.
func cloneRecord(rec *KeyHealth) KeyHealth {
	cp := *rec
	if rec.RetryAt != nil {
		t := *rec.RetryAt
		cp.RetryAt = &t
	}
	cp.RecentErrors = append([]ErrorSample(nil), rec.RecentErrors...)
	return cp
}
