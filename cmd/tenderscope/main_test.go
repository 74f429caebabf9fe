// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tenderscope Contributors

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

// testConfigPath writes a minimal config file so commands do not
// auto-discover or bootstrap one.
func testConfigPath(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "tenderscope.yaml")
	cfg := "storage:\n  backend: memory\n"
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o644))
	return path
}

// runCommand executes the root command with a fresh global viper and
// returns the combined output.
func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()

	viper.Reset()
	t.Cleanup(viper.Reset)

	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)

	err := root.Execute()
	return out.String(), err
}
