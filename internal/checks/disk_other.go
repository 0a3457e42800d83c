// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

//go:build !unix

package checks

import "errors"

func statfs(string) (Usage, error) {
	return Usage{}, errors.New("disk usage probe not supported on this platform")
}
