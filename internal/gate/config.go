// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package gate

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

var yamlLine = regexp.MustCompile(`line (\d+)`)

// validateConfig requires the payload to parse under the declared format.
func validateConfig(req ChangeRequest) (errs, warns []Diagnostic) {
	format := formatOf(req)
	var v any

	switch format {
	case "json":
		if err := json.Unmarshal([]byte(req.Payload), &v); err != nil {
			return []Diagnostic{jsonDiagnostic(req.Payload, err)}, nil
		}
	case "yaml", "yml":
		if err := yaml.Unmarshal([]byte(req.Payload), &v); err != nil {
			d := Diagnostic{
				Message: fmt.Sprintf("invalid YAML: %v", err),
				Fix:     "check indentation and that tabs are not used for indentation",
			}
			if m := yamlLine.FindStringSubmatch(err.Error()); m != nil {
				d.Line, _ = strconv.Atoi(m[1])
			}
			return []Diagnostic{d}, nil
		}
	case "toml":
		if err := toml.Unmarshal([]byte(req.Payload), &v); err != nil {
			d := Diagnostic{
				Message: fmt.Sprintf("invalid TOML: %v", err),
				Fix:     "check key syntax and that strings are quoted",
			}
			var derr *toml.DecodeError
			if errors.As(err, &derr) {
				d.Line, d.Column = derr.Position()
			}
			return []Diagnostic{d}, nil
		}
	default:
		return []Diagnostic{{
			Message: fmt.Sprintf("unsupported config format %q", format),
			Fix:     "set format to json, yaml or toml",
		}}, nil
	}

	if m, ok := v.(map[string]any); ok && len(m) == 0 {
		warns = append(warns, Diagnostic{Message: "config document is empty"})
	}
	return nil, warns
}

func jsonDiagnostic(payload string, err error) Diagnostic {
	d := Diagnostic{
		Message: fmt.Sprintf("invalid JSON: %v", err),
		Fix:     "check for trailing commas, unquoted keys and unbalanced braces",
	}

	var serr *json.SyntaxError
	if errors.As(err, &serr) {
		d.Line, d.Column = lineCol(payload, int(serr.Offset))
	}
	return d
}

// lineCol converts a byte offset into a 1-based line and column.
func lineCol(s string, offset int) (int, int) {
	if offset > len(s) {
		offset = len(s)
	}
	before := s[:offset]
	line := strings.Count(before, "\n") + 1
	col := offset - strings.LastIndexByte(before, '\n')
	return line, col
}
