package main

import (
	"context"
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"slack2tg/internal/audit"
	"slack2tg/internal/config"

	"github.com/spf13/cobra"
)

func auditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect the delivery audit log",
		Long:  "Reads the SQLite delivery log written by 'serve' when audit.enabled is true. Records hold counts and outcomes, never message content.",
	}

	var limit int
	var asJSON bool
	recent := &cobra.Command{
		Use:   "recent",
		Short: "List the most recent deliveries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAuditStore(cmd.Context(), func(ctx context.Context, store *audit.SQLiteStore) error {
				recs, err := store.Recent(ctx, limit)
				if err != nil {
					return err
				}
				if asJSON {
					data, _ := json.MarshalIndent(recs, "", "  ")
					fmt.Fprintln(cmd.OutOrStdout(), string(data))
					return nil
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "TIME\tROUTE\tDEST\tOUTCOME\tPHOTOS\tDOCS\tCHUNKS\tMS\tERROR")
				for _, r := range recs {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%d\t%s\n",
						r.CreatedAt.Local().Format(time.DateTime), r.RouteKey, r.Destination, r.Outcome,
						r.Photos, r.Documents, r.Chunks, r.DurationMS, r.ErrorClass)
				}
				return tw.Flush()
			})
		},
	}
	recent.Flags().IntVarP(&limit, "limit", "n", 20, "number of records")
	recent.Flags().BoolVar(&asJSON, "json", false, "print JSON")

	var since time.Duration
	stats := &cobra.Command{
		Use:   "stats",
		Short: "Summarize outcomes per route",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAuditStore(cmd.Context(), func(ctx context.Context, store *audit.SQLiteStore) error {
				rows, err := store.StatsByRoute(ctx, time.Now().Add(-since))
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ROUTE\tDELIVERED\tFAILED")
				for _, s := range rows {
					fmt.Fprintf(tw, "%s\t%d\t%d\n", s.RouteKey, s.Delivered, s.Failed)
				}
				return tw.Flush()
			})
		},
	}
	stats.Flags().DurationVar(&since, "since", 24*time.Hour, "time window")

	var olderThan time.Duration
	prune := &cobra.Command{
		Use:   "prune",
		Short: "Delete old audit records",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAuditStore(cmd.Context(), func(ctx context.Context, store *audit.SQLiteStore) error {
				n, err := store.Prune(ctx, time.Now().Add(-olderThan))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d record(s)\n", n)
				return nil
			})
		},
	}
	prune.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "delete records older than this")

	cmd.AddCommand(recent, stats, prune, backupCmd(), restoreCmd())
	return cmd
}

// withAuditStore opens the configured audit database for the duration of fn.
func withAuditStore(ctx context.Context, fn func(context.Context, *audit.SQLiteStore) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	store, err := audit.NewSQLiteStore(config.ExpandPath(cfg.Audit.DBPath), logger)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(ctx, store)
}
