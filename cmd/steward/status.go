// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/sigil-dev/steward/internal/remediation"
	stewarderr "github.com/sigil-dev/steward/pkg/errors"
	"github.com/sigil-dev/steward/pkg/health"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	headingStyle  = lipgloss.NewStyle().Bold(true)
	healthyStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	degradedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	criticalStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show health and circuit breaker status",
		Long:  "Query a running steward for its latest health snapshot and circuit breaker states.",
		RunE:  runStatus,
	}

	cmd.Flags().String("address", "", "steward address (defaults to server.listen)")

	return cmd
}

func runStatus(cmd *cobra.Command, _ []string) error {
	addr, _ := cmd.Flags().GetString("address")
	if addr == "" {
		addr = viper.GetString("server.listen")
	}
	out := cmd.OutOrStdout()

	c := newAPIClient(addr)
	var snap health.Snapshot
	if err := c.getJSON("/api/v1/health", &snap); err != nil {
		if stewarderr.HasCode(err, stewarderr.CodeCLIServerNotRunning) {
			_, _ = fmt.Fprintf(out, "Steward at %s is not running (connection refused)\n", addr)
			return nil
		}
		return err
	}

	var breakers struct {
		Breakers []remediation.Breaker `json:"breakers"`
	}
	if err := c.getJSON("/api/v1/breakers", &breakers); err != nil {
		return err
	}

	renderStatus(out, addr, snap, breakers.Breakers)
	return nil
}

func statusStyle(s health.Status) lipgloss.Style {
	switch s {
	case health.StatusHealthy:
		return healthyStyle
	case health.StatusDegraded:
		return degradedStyle
	default:
		return criticalStyle
	}
}

func renderStatus(w io.Writer, addr string, snap health.Snapshot, breakers []remediation.Breaker) {
	_, _ = fmt.Fprintf(w, "%s %s\n", headingStyle.Render("Steward at"), addr)
	_, _ = fmt.Fprintf(w, "Overall: %s (score %d)\n",
		statusStyle(snap.Overall).Render(strings.ToUpper(string(snap.Overall))), snap.Score)

	_, _ = fmt.Fprintln(w, headingStyle.Render("Checks:"))
	for _, name := range snap.CheckNames() {
		c := snap.Checks[name]
		line := fmt.Sprintf("  %-12s %s", name, statusStyle(c.Status).Render(string(c.Status)))
		if c.Message != "" && !c.Healthy() {
			line += "  " + c.Message
		}
		_, _ = fmt.Fprintln(w, line)
	}

	if len(snap.Issues) > 0 {
		_, _ = fmt.Fprintln(w, headingStyle.Render("Issues:"))
		for _, is := range snap.Issues {
			fixed := ""
			if is.AutoFixed {
				fixed = " (auto-fixed)"
			}
			_, _ = fmt.Fprintf(w, "  [%s] %s: %s%s\n", is.Severity, is.Category, is.Message, fixed)
		}
	}

	_, _ = fmt.Fprintln(w, headingStyle.Render("Circuit breakers:"))
	open := 0
	for _, b := range breakers {
		if !b.Open {
			continue
		}
		open++
		_, _ = fmt.Fprintf(w, "  %s %s (failures %d, since %s)\n",
			criticalStyle.Render("OPEN"), b.Name, b.Failures, b.OpenedAt.Format("2006-01-02 15:04:05"))
	}
	if open == 0 {
		_, _ = fmt.Fprintln(w, "  none open")
	}
}
