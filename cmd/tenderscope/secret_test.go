// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tenderscope Contributors

package main

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tenderscope/tenderscope/internal/secrets"
	tserr "github.com/tenderscope/tenderscope/pkg/errors"
)

// fakeSecretStore is an in-memory secrets.Store for CLI tests.
type fakeSecretStore struct {
	values map[string]string
}

func newFakeSecretStore() *fakeSecretStore {
	return &fakeSecretStore{values: make(map[string]string)}
}

func (f *fakeSecretStore) Store(_, key, value string) error {
	f.values[key] = value
	return nil
}

func (f *fakeSecretStore) Retrieve(_, key string) (string, error) {
	v, ok := f.values[key]
	if !ok {
		return "", tserr.Errorf(tserr.CodeSecretNotFound, "secret %q not found", key)
	}
	return v, nil
}

func (f *fakeSecretStore) Delete(_, key string) error {
	if _, ok := f.values[key]; !ok {
		return tserr.Errorf(tserr.CodeSecretNotFound, "secret %q not found", key)
	}
	delete(f.values, key)
	return nil
}

func (f *fakeSecretStore) List(string) ([]string, error) {
	keys := make([]string, 0, len(f.values))
	for k := range f.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func withFakeSecretStore(t *testing.T) *fakeSecretStore {
	t.Helper()

	fake := newFakeSecretStore()
	orig := secretStoreFactory
	secretStoreFactory = func() secrets.Store { return fake }
	t.Cleanup(func() { secretStoreFactory = orig })
	return fake
}

func TestSecretSet(t *testing.T) {
	fake := withFakeSecretStore(t)

	out, err := runCommand(t, "secret", "set", "gemini-prod", "sk-123", "--config", testConfigPath(t))
	require.NoError(t, err)
	assert.Contains(t, out, "Stored secret: gemini-prod")
	assert.Contains(t, out, "keyring://tenderscope/gemini-prod")
	assert.Equal(t, "sk-123", fake.values["gemini-prod"])
}

func TestSecretList(t *testing.T) {
	fake := withFakeSecretStore(t)
	fake.values["gemini-prod"] = "sk-123"
	fake.values["gemini-batch"] = "sk-456"

	out, err := runCommand(t, "secret", "list", "--config", testConfigPath(t))
	require.NoError(t, err)
	assert.Contains(t, out, "gemini-prod")
	assert.Contains(t, out, "gemini-batch")
}

func TestSecretList_Empty(t *testing.T) {
	withFakeSecretStore(t)

	out, err := runCommand(t, "secret", "list", "--config", testConfigPath(t))
	require.NoError(t, err)
	assert.Contains(t, out, "No secrets stored.")
}

func TestSecretDelete(t *testing.T) {
	fake := withFakeSecretStore(t)
	fake.values["gemini-prod"] = "sk-123"

	out, err := runCommand(t, "secret", "delete", "gemini-prod", "--config", testConfigPath(t))
	require.NoError(t, err)
	assert.Contains(t, out, "Deleted secret: gemini-prod")
	assert.Empty(t, fake.values)
}

func TestSecretDelete_NotFound(t *testing.T) {
	withFakeSecretStore(t)

	_, err := runCommand(t, "secret", "delete", "ghost", "--config", testConfigPath(t))
	require.Error(t, err)
	assert.True(t, tserr.HasCode(err, tserr.CodeSecretNotFound))
}

func TestVersionCommand(t *testing.T) {
	out, err := runCommand(t, "version", "--config", testConfigPath(t))
	require.NoError(t, err)
	assert.Contains(t, out, "tenderscope")
}
