// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package credentials

import (
	"log/slog"
	"maps"
	"slices"
	"strings"

	stewarderr "github.com/sigil-dev/steward/pkg/errors"
	"github.com/spf13/viper"
)

const keyringScheme = "keyring://"

// IsKeyringURI reports whether value uses the keyring:// URI scheme.
func IsKeyringURI(value string) bool {
	return strings.HasPrefix(value, keyringScheme)
}

// ParseKeyringURI extracts service and key from a keyring://service/key URI.
func ParseKeyringURI(uri string) (service, key string, err error) {
	if !IsKeyringURI(uri) {
		return "", "", stewarderr.Errorf(stewarderr.CodeSecretInvalidInput, "not a keyring URI: %q", uri)
	}

	path := strings.TrimPrefix(uri, keyringScheme)
	parts := strings.SplitN(path, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", stewarderr.Errorf(stewarderr.CodeSecretInvalidInput,
			"invalid keyring URI %q: expected keyring://service/key", uri)
	}

	return parts[0], parts[1], nil
}

// ResolveKeyringURI resolves a single keyring:// URI to its secret value.
// Values that are not keyring URIs are returned unchanged.
func ResolveKeyringURI(store Store, value string) (string, error) {
	if !IsKeyringURI(value) {
		return value, nil
	}

	service, key, err := ParseKeyringURI(value)
	if err != nil {
		return "", err
	}

	secret, err := store.Retrieve(service, key)
	if err != nil {
		return "", stewarderr.Wrapf(err, stewarderr.CodeSecretResolveFailure,
			"resolving keyring URI %q", value)
	}
	return secret, nil
}

// Resolve turns the configured credential map into a read-only set.
// Entries that fail to resolve are logged and skipped.
func Resolve(store Store, raw map[string]string) Credentials {
	out := make(map[string]string, len(raw))
	for name, value := range raw {
		resolved, err := ResolveKeyringURI(store, value)
		if err != nil {
			slog.Warn("skipping credential that failed to resolve",
				"credential", name,
				"error", err,
			)
			continue
		}
		out[name] = resolved
	}
	return Credentials{values: out}
}

// ResolveViperSecrets resolves keyring:// string values anywhere in the
// configuration. Resolution failures are logged and the URI is kept, so
// the error surfaces where the value is used.
func ResolveViperSecrets(v *viper.Viper, store Store) {
	for _, key := range v.AllKeys() {
		if strings.HasPrefix(key, "credentials.") {
			// resolved per entry by Resolve
			continue
		}
		val := v.GetString(key)
		if !IsKeyringURI(val) {
			continue
		}

		resolved, err := ResolveKeyringURI(store, val)
		if err != nil {
			slog.Warn("failed to resolve keyring URI, keeping original value",
				"config_key", key,
				"error", err,
			)
			continue
		}
		v.Set(key, resolved)
	}
}

// Credentials is an immutable name to secret mapping. The zero value is
// empty and usable.
type Credentials struct {
	values map[string]string
}

// NewCredentials copies values into a read-only set.
func NewCredentials(values map[string]string) Credentials {
	return Credentials{values: maps.Clone(values)}
}

// Get returns the credential called name.
func (c Credentials) Get(name string) (string, bool) {
	v, ok := c.values[name]
	return v, ok
}

// Keys returns the credential names in sorted order.
func (c Credentials) Keys() []string {
	return slices.Sorted(maps.Keys(c.values))
}

// Len returns the number of credentials.
func (c Credentials) Len() int { return len(c.values) }

// String never prints secret values.
func (c Credentials) String() string {
	return "credentials[" + strings.Join(c.Keys(), ",") + "]"
}
