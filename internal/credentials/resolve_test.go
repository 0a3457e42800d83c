// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package credentials_test

import (
	"testing"

	"github.com/sigil-dev/steward/internal/credentials"
	stewarderr "github.com/sigil-dev/steward/pkg/errors"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKeyringURI(t *testing.T) {
	tests := []struct {
		name        string
		uri         string
		wantService string
		wantKey     string
		wantErr     bool
	}{
		{"valid", "keyring://steward/api-key", "steward", "api-key", false},
		{"slashes in key", "keyring://steward/path/to/key", "steward", "path/to/key", false},
		{"not a keyring URI", "vault://secret/key", "", "", true},
		{"missing key", "keyring://steward/", "", "", true},
		{"missing service", "keyring:///key", "", "", true},
		{"no path", "keyring://steward", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, key, err := credentials.ParseKeyringURI(tt.uri)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, stewarderr.IsInvalidInput(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantService, svc)
			assert.Equal(t, tt.wantKey, key)
		})
	}
}

func TestResolve_SkipsFailures(t *testing.T) {
	store := credentials.NewMemoryStore()
	require.NoError(t, store.Store("steward", "content-token", "s3cret"))

	creds := credentials.Resolve(store, map[string]string{
		"content": "keyring://steward/content-token",
		"literal": "plain-value",
		"missing": "keyring://steward/nope",
		"broken":  "keyring://",
	})

	assert.Equal(t, []string{"content", "literal"}, creds.Keys())
	v, ok := creds.Get("content")
	assert.True(t, ok)
	assert.Equal(t, "s3cret", v)
	_, ok = creds.Get("missing")
	assert.False(t, ok)
	assert.NotContains(t, creds.String(), "s3cret")
}

func TestNewCredentials_CopiesInput(t *testing.T) {
	src := map[string]string{"a": "1"}
	creds := credentials.NewCredentials(src)
	src["a"] = "changed"
	src["b"] = "2"

	v, _ := creds.Get("a")
	assert.Equal(t, "1", v)
	assert.Equal(t, 1, creds.Len())

	var zero credentials.Credentials
	assert.Empty(t, zero.Keys())
}

func TestResolveViperSecrets(t *testing.T) {
	store := credentials.NewMemoryStore()
	require.NoError(t, store.Store("steward", "listen", "127.0.0.1:9000"))

	v := viper.New()
	v.Set("server.listen", "keyring://steward/listen")
	v.Set("log.level", "info")
	v.Set("checks.disk_path", "keyring://steward/missing")
	v.Set("credentials.token", "keyring://steward/listen")

	credentials.ResolveViperSecrets(v, store)

	assert.Equal(t, "127.0.0.1:9000", v.GetString("server.listen"))
	assert.Equal(t, "info", v.GetString("log.level"))
	assert.Equal(t, "keyring://steward/missing", v.GetString("checks.disk_path"))
	assert.Equal(t, "keyring://steward/listen", v.GetString("credentials.token"), "credentials resolve per entry")
}
