package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"shelterbot/internal/config"
	"shelterbot/internal/journal"
	"shelterbot/internal/logger"
)

func prefetchCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "prefetch",
		Short: "Download today's shelter photo into the static dir",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return err
			}
			log, closeLog, err := logger.New(cfg.General)
			if err != nil {
				return err
			}
			defer closeLog()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			a, err := buildApp(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.shelter.Prefetch(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), a.shelter.Key(time.Now()))
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", time.Minute, "overall download timeout")
	return cmd
}

func deliveriesCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "deliveries",
		Short: "List recent replies from the delivery journal",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return err
			}
			if !cfg.Journal.Enabled {
				return fmt.Errorf("journal is disabled (set journal.enabled in %s)", resolveConfigPath())
			}
			log, closeLog, err := logger.New(cfg.General)
			if err != nil {
				return err
			}
			defer closeLog()

			store, err := journal.Open(cfg.Journal.DBPath, log)
			if err != nil {
				return err
			}
			defer store.Close()

			entries, err := store.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TIME\tKIND\tSTATUS\tDELIVERED\tLATENCY\tLABEL\tERROR")
			for _, e := range entries {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%t\t%s\t%s\t%s\n",
					e.CreatedAt.Local().Format(time.DateTime),
					e.Kind, e.StatusCode, e.Delivered, e.Latency.Round(time.Millisecond), e.Label, e.Error)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of entries to show")
	return cmd
}
