// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"fmt"
	"os"

	"github.com/sigil-dev/steward/internal/config"
	"github.com/sigil-dev/steward/internal/gate"
	stewarderr "github.com/sigil-dev/steward/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <file>",
		Short: "Validate a proposed change",
		Long: `Run the validation gate over a file and print the verdict.

Without --remote only static checks run. With --remote the change is sent to
a running steward, which also weighs current health and open circuit breakers.`,
		Args: cobra.ExactArgs(1),
		RunE: runValidate,
	}

	cmd.Flags().String("kind", "", "change kind: code, config, env_var or schema (default from scheduler.default_kind)")
	cmd.Flags().String("format", "", "language or syntax; inferred from the file extension when empty")
	cmd.Flags().String("impact", "", "declared impact: low, medium or high")
	cmd.Flags().Bool("remote", false, "validate against a running steward")
	cmd.Flags().String("address", "", "steward address for --remote (defaults to server.listen)")

	return cmd
}

func runValidate(cmd *cobra.Command, args []string) error {
	path := args[0]
	payload, err := os.ReadFile(path)
	if err != nil {
		return stewarderr.Errorf(stewarderr.CodeCLIInputInvalid, "reading %s: %w", path, err)
	}

	kind, _ := cmd.Flags().GetString("kind")
	if kind == "" {
		kind = viper.GetString("scheduler.default_kind")
	}
	format, _ := cmd.Flags().GetString("format")
	impact, _ := cmd.Flags().GetString("impact")

	req := gate.ChangeRequest{
		Kind:          gate.Kind(kind),
		Payload:       string(payload),
		Format:        format,
		AffectedFiles: []string{path},
		Impact:        gate.Impact(impact),
	}

	var res gate.Result
	if remote, _ := cmd.Flags().GetBool("remote"); remote {
		res, err = validateRemote(cmd, req)
	} else {
		res, err = validateLocal(cmd, req)
	}
	if err != nil {
		return err
	}

	_, _ = fmt.Fprint(cmd.OutOrStdout(), gate.RenderReport(res))
	if !res.CanProceed {
		return stewarderr.New(stewarderr.CodeCLIChangeBlocked, "change blocked by validation gate",
			stewarderr.Field("errors", len(res.Errors)))
	}
	return nil
}

func validateLocal(cmd *cobra.Command, req gate.ChangeRequest) (gate.Result, error) {
	cfg, err := config.FromViper(viper.GetViper())
	if err != nil {
		return gate.Result{}, fmt.Errorf("loading config: %w", err)
	}
	baseSchema, err := readBaseSchema(cfg.Gate.BaseSchemaFile)
	if err != nil {
		return gate.Result{}, err
	}
	g := gate.New(gate.Config{
		SensitiveKeyLengths: cfg.Gate.SensitiveKeyLengths,
		BaseSchema:          baseSchema,
	}, nil, nil)
	return g.Validate(cmd.Context(), req), nil
}

func validateRemote(cmd *cobra.Command, req gate.ChangeRequest) (gate.Result, error) {
	addr, _ := cmd.Flags().GetString("address")
	if addr == "" {
		addr = viper.GetString("server.listen")
	}
	var res gate.Result
	if err := newAPIClient(addr).postJSON("/api/v1/validate", req, &res); err != nil {
		return gate.Result{}, err
	}
	return res, nil
}
