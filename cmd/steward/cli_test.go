// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"bytes"
	"testing"

	"github.com/sigil-dev/steward/internal/credentials"
	"github.com/spf13/viper"
)

// setupCLI isolates a test from the user's home directory, the global Viper
// instance and the OS keyring. It returns the in-memory secret store.
func setupCLI(t *testing.T) *credentials.MemoryStore {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Chdir(t.TempDir())

	viper.Reset()
	t.Cleanup(viper.Reset)

	store := credentials.NewMemoryStore()
	old := secretStoreFactory
	secretStoreFactory = func() credentials.Store { return store }
	t.Cleanup(func() { secretStoreFactory = old })
	return store
}

// execute runs the root command with args and returns combined output.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}
