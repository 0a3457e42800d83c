// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package gate

import (
	"context"
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

// maxSyntaxErrors caps reported parse errors; later ones are usually
// cascades of the first.
const maxSyntaxErrors = 10

var languageAliases = map[string]string{
	"go":         "go",
	"golang":     "go",
	"js":         "javascript",
	"javascript": "javascript",
	"mjs":        "javascript",
	"cjs":        "javascript",
	"jsx":        "javascript",
	"ts":         "typescript",
	"typescript": "typescript",
	"py":         "python",
	"python":     "python",
}

func languageFor(name string) *sitter.Language {
	switch name {
	case "go":
		return golang.GetLanguage()
	case "javascript":
		return javascript.GetLanguage()
	case "typescript":
		return typescript.GetLanguage()
	case "python":
		return python.GetLanguage()
	default:
		return nil
	}
}

// validateCode parses the payload and reports syntax errors as blocking and
// leftover debugging constructs as warnings.
func validateCode(ctx context.Context, req ChangeRequest) (errs, warns []Diagnostic) {
	src := []byte(req.Payload)

	errs = append(errs, conflictMarkers(req.Payload)...)

	format := formatOf(req)
	lang, ok := languageAliases[format]
	if !ok {
		warns = append(warns, Diagnostic{
			Message: fmt.Sprintf("syntax not verified: unsupported language %q", format),
			Fix:     "set format to go, javascript, typescript or python",
		})
		return errs, warns
	}

	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(languageFor(lang))

	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		warns = append(warns, Diagnostic{Message: fmt.Sprintf("syntax not verified: %v", err)})
		return errs, warns
	}
	defer tree.Close()

	root := tree.RootNode()
	if root.HasError() {
		errs = append(errs, syntaxErrors(root, src)...)
	}
	warns = append(warns, debugConstructs(root, src, lang)...)
	return errs, warns
}

func position(n *sitter.Node) (line, col int) {
	p := n.StartPoint()
	return int(p.Row) + 1, int(p.Column) + 1
}

func syntaxErrors(root *sitter.Node, src []byte) []Diagnostic {
	var out []Diagnostic
	walk(root, func(n *sitter.Node) bool {
		if len(out) >= maxSyntaxErrors {
			return false
		}
		switch {
		case n.IsMissing():
			line, col := position(n)
			out = append(out, Diagnostic{
				Message: fmt.Sprintf("syntax error: missing %s", n.Type()),
				Line:    line,
				Column:  col,
				Fix:     fmt.Sprintf("insert the missing %s", n.Type()),
			})
			return false
		case n.Type() == "ERROR":
			line, col := position(n)
			out = append(out, Diagnostic{
				Message: fmt.Sprintf("syntax error near %q", snippet(n.Content(src))),
				Line:    line,
				Column:  col,
				Fix:     "correct the syntax at the reported position",
			})
			return false
		}
		return n.HasError()
	})
	return out
}

func debugConstructs(root *sitter.Node, src []byte, lang string) []Diagnostic {
	var out []Diagnostic
	add := func(n *sitter.Node, msg string) {
		line, col := position(n)
		out = append(out, Diagnostic{Message: msg, Line: line, Column: col, Fix: "remove debugging code before applying"})
	}

	walk(root, func(n *sitter.Node) bool {
		switch n.Type() {
		case "debugger_statement":
			add(n, "debugger statement left in code")
		case "call_expression", "call":
			fn := n.ChildByFieldName("function")
			if fn == nil {
				return true
			}
			name := fn.Content(src)
			switch {
			case (lang == "javascript" || lang == "typescript") && strings.HasPrefix(name, "console."):
				add(n, fmt.Sprintf("%s call left in code", name))
			case lang == "python" && (name == "breakpoint" || name == "pdb.set_trace" || name == "print"):
				add(n, fmt.Sprintf("%s() call left in code", name))
			case lang == "go" && (name == "println" || name == "print" || name == "fmt.Println" || name == "spew.Dump"):
				add(n, fmt.Sprintf("%s call left in code", name))
			}
		}
		return true
	})
	return out
}

// walk visits n and its descendants depth-first; visit returns whether to
// descend into the node's children.
func walk(n *sitter.Node, visit func(*sitter.Node) bool) {
	if n == nil || !visit(n) {
		return
	}
	for i := range int(n.ChildCount()) {
		walk(n.Child(i), visit)
	}
}

func conflictMarkers(src string) []Diagnostic {
	var out []Diagnostic
	for i, line := range strings.Split(src, "\n") {
		if strings.HasPrefix(line, "<<<<<<< ") || line == "=======" || strings.HasPrefix(line, ">>>>>>> ") {
			out = append(out, Diagnostic{
				Message: "unresolved merge conflict marker",
				Line:    i + 1,
				Column:  1,
				Fix:     "resolve the merge conflict",
			})
		}
	}
	return out
}

func snippet(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 40 {
		s = s[:40] + "..."
	}
	return s
}
