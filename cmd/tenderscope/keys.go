// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tenderscope Contributors

package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/tenderscope/tenderscope/internal/store"
)

func newKeysCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Inspect and reset credential health records",
	}

	cmd.AddCommand(
		newKeysListCmd(),
		newKeysResetCmd(),
	)

	return cmd
}

func newKeysListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List credential health records",
		RunE:  runKeysList,
	}

	cmd.Flags().String("status", "", "filter by status (HEALTHY or UNHEALTHY)")

	return cmd
}

func newKeysResetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Reset all credential health records",
		Long:  "Clears failure counters and cooldowns for every credential. Run this from a daily cron aligned with the provider's quota reset.",
		RunE:  runKeysReset,
	}
}

func runKeysList(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	health, err := healthStoreFactory(cfg.Storage)
	if err != nil {
		return fmt.Errorf("opening health store: %w", err)
	}
	defer health.Close() //nolint:errcheck

	status, _ := cmd.Flags().GetString("status")
	records, err := health.ListByStatus(cmd.Context(), store.Status(status))
	if err != nil {
		return fmt.Errorf("listing key health: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(records) == 0 {
		_, _ = fmt.Fprintln(out, "No health records.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "IDENTIFIER\tSTATUS\tCONSECUTIVE\tDAILY\tRETRY AT")
	for _, rec := range records {
		retryAt := "-"
		if rec.RetryAt != nil {
			retryAt = rec.RetryAt.Format(time.RFC3339)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\n",
			rec.Identifier, rec.Status, rec.ConsecutiveFailures, rec.DailyFailures, retryAt)
	}
	return w.Flush()
}

func runKeysReset(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	health, err := healthStoreFactory(cfg.Storage)
	if err != nil {
		return fmt.Errorf("opening health store: %w", err)
	}
	defer health.Close() //nolint:errcheck

	n, err := health.ResetAll(cmd.Context())
	if err != nil {
		return fmt.Errorf("resetting key health: %w", err)
	}

	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Reset %d health record(s).\n", n)
	return nil
}
