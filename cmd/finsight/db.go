package main

import (
	"fmt"

	"github.com/nidhogg/finsight/internal/store"
	"github.com/spf13/cobra"
)

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Manage the results database",
}

var dbInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the analyses table",
	RunE: func(cmd *cobra.Command, args []string) error {
		rec, err := store.Open(cmd.Context(), cfg.Database.Recorder, logger)
		if err != nil {
			return err
		}
		defer rec.Close()
		if err := rec.Init(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "database ready: %s\n", store.Redact(cfg.Database.Recorder))
		return nil
	},
}

var dbHistoryLimit int

var dbHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "List recorded analyses",
	RunE: func(cmd *cobra.Command, args []string) error {
		rec, err := store.Open(cmd.Context(), cfg.Database.Recorder, logger)
		if err != nil {
			return err
		}
		defer rec.Close()
		rows, err := rec.List(cmd.Context(), dbHistoryLimit)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, r := range rows {
			fmt.Fprintf(out, "#%d\t%s\t%s\n", r.ID, r.CreatedAt.Format("2006-01-02 15:04:05"), r.Query)
		}
		return nil
	},
}

func init() {
	dbHistoryCmd.Flags().IntVarP(&dbHistoryLimit, "limit", "n", 20, "Rows to show")
	dbCmd.AddCommand(dbInitCmd)
	dbCmd.AddCommand(dbHistoryCmd)
}
