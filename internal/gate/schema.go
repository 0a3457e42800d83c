// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package gate

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"

	_ "github.com/mattn/go-sqlite3"
)

var destructiveDDL = []struct {
	re  *regexp.Regexp
	msg string
}{
	{regexp.MustCompile(`(?i)\bDROP\s+(TABLE|INDEX|VIEW|TRIGGER)\b`), "statement drops a schema object"},
	{regexp.MustCompile(`(?i)\bALTER\s+TABLE\s+\S+\s+DROP\b`), "statement drops a column"},
	{regexp.MustCompile(`(?i)\bTRUNCATE\b`), "statement truncates a table"},
	{regexp.MustCompile(`(?i)\bDELETE\s+FROM\s+\S+\s*(;|$)`), "statement deletes every row of a table"},
}

// validateSchema trial-runs the DDL inside a rolled-back transaction on a
// scratch in-memory database seeded with the base schema.
func (g *Gate) validateSchema(ctx context.Context, req ChangeRequest) (errs, warns []Diagnostic) {
	for _, d := range destructiveDDL {
		if d.re.MatchString(req.Payload) {
			warns = append(warns, Diagnostic{
				Message: d.msg,
				Fix:     "back up affected data before applying",
			})
		}
	}

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		return append(errs, Diagnostic{Message: fmt.Sprintf("schema sandbox unavailable: %v", err)}), warns
	}
	defer func() { _ = db.Close() }()
	// Every connection to :memory: is a separate database.
	db.SetMaxOpenConns(1)

	if g.baseSchema != "" {
		if _, err := db.ExecContext(ctx, g.baseSchema); err != nil {
			return append(errs, Diagnostic{
				Message: fmt.Sprintf("base schema failed to load: %v", err),
				Fix:     "fix gate.base_schema_file",
			}), warns
		}
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return append(errs, Diagnostic{Message: fmt.Sprintf("schema sandbox unavailable: %v", err)}), warns
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, req.Payload); err != nil {
		errs = append(errs, Diagnostic{
			Message: fmt.Sprintf("schema change failed: %v", err),
			Fix:     "correct the SQL statement; it must apply cleanly to the current schema",
		})
	}
	return errs, warns
}
