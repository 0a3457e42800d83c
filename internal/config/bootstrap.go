// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package config

import (
	_ "embed"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"

	stewarderr "github.com/sigil-dev/steward/pkg/errors"
)

//go:embed steward.yaml.default
var DefaultConfigYAML []byte

// DefaultConfigPath returns ~/.config/steward/steward.yaml.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", stewarderr.Errorf(stewarderr.CodeConfigLoadReadFailure, "resolving home directory: %w", err)
	}
	return filepath.Join(home, ".config", "steward", "steward.yaml"), nil
}

// BootstrapConfig writes the default commented config to the default path if
// it does not already exist. Returns the path written, or empty string if the
// file already existed or could not be written (logged and skipped).
func BootstrapConfig() string {
	cfgPath, err := DefaultConfigPath()
	if err != nil {
		slog.Debug("skipping config bootstrap", "error", err)
		return ""
	}
	return bootstrapAt(cfgPath)
}

func bootstrapAt(cfgPath string) string {
	if _, err := os.Stat(cfgPath); err == nil {
		return ""
	}

	dir := filepath.Dir(cfgPath)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		slog.Debug("skipping config bootstrap: cannot create directory", "path", dir, "error", err)
		return ""
	}

	if err := os.WriteFile(cfgPath, DefaultConfigYAML, 0o600); err != nil {
		slog.Debug("skipping config bootstrap: cannot write config", "path", cfgPath, "error", err)
		return ""
	}

	slog.Info("created default config", "path", cfgPath)
	return cfgPath
}

// WarnInsecurePermissions logs a warning when the config file is group- or
// world-readable. The credentials section may hold raw secrets.
// Windows uses ACLs rather than mode bits, so the check is skipped there.
func WarnInsecurePermissions(path string) bool {
	if path == "" || runtime.GOOS == "windows" {
		return false
	}

	info, err := os.Stat(path)
	if err != nil {
		slog.Debug("could not stat config file for permission check", "path", path, "error", err)
		return false
	}

	const groupOrOtherRead fs.FileMode = 0o044
	if info.Mode().Perm()&groupOrOtherRead == 0 {
		return false
	}

	slog.Warn("config file has insecure permissions, credentials may be exposed to other users",
		"path", path,
		"mode", info.Mode(),
		"recommended", "0600",
	)
	return true
}
