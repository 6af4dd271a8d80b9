package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
)

var recountCmd = &cobra.Command{
	Use:   "recount [site]",
	Short: "Reconcile recorded usage with the bytes on disk",
	Long: `Walk site directories and overwrite each site's recorded usage with the
measured total. Without an argument every site is recounted.

Run this after files were changed outside sitehost or after a crash
between storing a file and recording its size.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRecount,
}

var recountOutput string

func init() {
	recountCmd.Flags().StringVarP(&recountOutput, "output", "o", outputTable, "output format: table, json, yaml")
	rootCmd.AddCommand(recountCmd)
}

func runRecount(cmd *cobra.Command, args []string) error {
	if err := checkOutputFormat(recountOutput); err != nil {
		return err
	}

	a, err := appFromContext(cmd.Context())
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	if len(args) == 1 {
		usage, err := a.service.Recount(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("recount %s: %w", args[0], err)
		}
		return formatUsage(cmd.OutOrStdout(), recountOutput, args[0], usage)
	}

	n, err := a.service.RecountAll(cmd.Context())
	if err != nil {
		return fmt.Errorf("recount: %w", err)
	}

	slog.Info("recount complete", "sites", n)
	return nil
}
