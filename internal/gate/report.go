// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package gate

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true)
	blockedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	boxStyle     = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("62")).Padding(0, 1)
)

// RenderReport formats a result for operators: the verdict, every blocking
// reason with its suggested fix, then warnings.
func RenderReport(r Result) string {
	var b strings.Builder

	verdict := r.Verdict()
	var vs lipgloss.Style
	switch verdict {
	case VerdictBlocked:
		vs = blockedStyle
	case VerdictProceedWithWarnings:
		vs = warnStyle
	default:
		vs = okStyle
	}
	fmt.Fprintf(&b, "%s %s\n", titleStyle.Render("Verdict:"), vs.Render(strings.ToUpper(string(verdict))))
	if r.RequiresApproval {
		fmt.Fprintf(&b, "%s\n", warnStyle.Render("Approval required before applying"))
	}

	if len(r.Errors) > 0 {
		fmt.Fprintf(&b, "\n%s\n", titleStyle.Render(fmt.Sprintf("Blocking (%d)", len(r.Errors))))
		for _, d := range r.Errors {
			fmt.Fprintf(&b, "  %s %s\n", blockedStyle.Render("✗"), d.String())
			if d.Fix != "" {
				fmt.Fprintf(&b, "    %s\n", dimStyle.Render("fix: "+d.Fix))
			}
		}
	}

	if len(r.Warnings) > 0 {
		fmt.Fprintf(&b, "\n%s\n", titleStyle.Render(fmt.Sprintf("Warnings (%d)", len(r.Warnings))))
		for _, d := range r.Warnings {
			fmt.Fprintf(&b, "  %s %s\n", warnStyle.Render("!"), d.String())
			if d.Fix != "" {
				fmt.Fprintf(&b, "    %s\n", dimStyle.Render("hint: "+d.Fix))
			}
		}
	}

	return boxStyle.Render(strings.TrimRight(b.String(), "\n"))
}
