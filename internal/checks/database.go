// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package checks

import (
	"context"

	stewarderr "github.com/sigil-dev/steward/pkg/errors"
)

// Pinger is the connection the database check probes. The journal
// satisfies it.
type Pinger interface {
	Ping(ctx context.Context) error
	Reconnect(ctx context.Context) error
}

// Database probes journal connectivity and fixes it by reconnecting.
type Database struct {
	db Pinger
}

// NewDatabase creates a database check over db.
func NewDatabase(db Pinger) *Database {
	return &Database{db: db}
}

func (d *Database) Kind() Kind { return KindDatabase }

func (d *Database) Run(ctx context.Context) Result {
	if err := d.db.Ping(ctx); err != nil {
		return Critical("database unreachable: %v", err)
	}
	return Healthy("database reachable")
}

// Fix closes and reopens the connection, then probes it again.
func (d *Database) Fix(ctx context.Context) (bool, error) {
	if err := d.db.Reconnect(ctx); err != nil {
		return false, stewarderr.Wrap(err, stewarderr.CodeCheckFixFailure, "reconnecting database",
			stewarderr.FieldCheck(KindDatabase.String()))
	}
	if err := d.db.Ping(ctx); err != nil {
		return false, stewarderr.Wrap(err, stewarderr.CodeCheckFixFailure, "probing database after reconnect",
			stewarderr.FieldCheck(KindDatabase.String()))
	}
	return true, nil
}
