package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
)

var proxyCmd = &cobra.Command{
	Use:   "proxy",
	Short: "Inspect and reconcile the reverse proxy",
}

var proxySyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Reconcile proxy routes with the registry",
	Long: `Reconcile the proxy's routes with the site registry.

With the declarative strategy the managed route list is replaced in one
request. With the incremental strategy stale routes are removed and
missing or changed routes are added one by one; failures are collected
and reported together.`,
	Args: cobra.NoArgs,
	RunE: runProxySync,
}

var proxyRoutesCmd = &cobra.Command{
	Use:   "routes",
	Short: "Show routes",
	Long: `Show the routes the proxy currently holds, or with --desired the
routes derived from the registry.`,
	Args: cobra.NoArgs,
	RunE: runProxyRoutes,
}

var (
	proxyOutput  string
	proxyDesired bool
)

func init() {
	proxyRoutesCmd.Flags().StringVarP(&proxyOutput, "output", "o", outputTable, "output format: table, json, yaml")
	proxyRoutesCmd.Flags().BoolVar(&proxyDesired, "desired", false, "show routes derived from the registry instead")

	proxyCmd.AddCommand(proxySyncCmd, proxyRoutesCmd)
	rootCmd.AddCommand(proxyCmd)
}

func runProxySync(cmd *cobra.Command, args []string) error {
	a, err := appFromContext(cmd.Context())
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	if err := a.service.SyncProxy(cmd.Context()); err != nil {
		return err
	}

	slog.Info("proxy routes reconciled", "strategy", a.proxy.Strategy().Name())
	return nil
}

func runProxyRoutes(cmd *cobra.Command, args []string) error {
	if err := checkOutputFormat(proxyOutput); err != nil {
		return err
	}

	a, err := appFromContext(cmd.Context())
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	list := a.proxy.Routes
	if proxyDesired {
		list = a.proxy.Desired
	}

	routes, err := list(cmd.Context())
	if err != nil {
		return fmt.Errorf("routes: %w", err)
	}

	return formatRoutes(cmd.OutOrStdout(), proxyOutput, routes)
}
