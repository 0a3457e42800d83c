// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"bytes"
	"strings"
	"testing"

	stewarderr "github.com/sigil-dev/steward/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSecretSetListDelete(t *testing.T) {
	store := setupCLI(t)

	out, err := execute(t, "secret", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No secrets stored.")

	out, err = execute(t, "secret", "set", "deploy_token", "abc123")
	require.NoError(t, err)
	assert.Contains(t, out, "Stored secret: deploy_token")

	v, err := store.Retrieve(serviceName, "deploy_token")
	require.NoError(t, err)
	assert.Equal(t, "abc123", v)

	out, err = execute(t, "secret", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "deploy_token")

	out, err = execute(t, "secret", "delete", "deploy_token")
	require.NoError(t, err)
	assert.Contains(t, out, "Deleted secret: deploy_token")

	_, err = store.Retrieve(serviceName, "deploy_token")
	assert.True(t, stewarderr.HasCode(err, stewarderr.CodeSecretNotFound))
}

func TestSecretSet_FromStdin(t *testing.T) {
	store := setupCLI(t)

	root := NewRootCmd()
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetIn(strings.NewReader("from-stdin\n"))
	root.SetArgs([]string{"secret", "set", "api_key"})
	require.NoError(t, root.Execute())

	v, err := store.Retrieve(serviceName, "api_key")
	require.NoError(t, err)
	assert.Equal(t, "from-stdin", v)
}

func TestSecretSet_EmptyValue(t *testing.T) {
	setupCLI(t)

	root := NewRootCmd()
	root.SetOut(new(bytes.Buffer))
	root.SetIn(strings.NewReader("\n"))
	root.SetArgs([]string{"secret", "set", "api_key"})
	err := root.Execute()
	require.Error(t, err)
	assert.True(t, stewarderr.HasCode(err, stewarderr.CodeCLIInputInvalid))
}

func TestSecretDelete_NotFound(t *testing.T) {
	setupCLI(t)

	_, err := execute(t, "secret", "delete", "missing")
	require.Error(t, err)
	assert.True(t, stewarderr.HasCode(err, stewarderr.CodeSecretNotFound))
	assert.Contains(t, err.Error(), `"missing"`)
}

func TestSecretDelete_RequiresName(t *testing.T) {
	setupCLI(t)

	_, err := execute(t, "secret", "delete")
	assert.Error(t, err)
}
