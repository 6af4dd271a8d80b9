package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/sagarc03/sitehost/config"
)

var version = "dev"

var rootCmd = &cobra.Command{
	Version: version,
	Use:     "sitehost",
	Short:   "Per-subdomain static site hosting control plane",
	Long: `sitehost provisions static sites on their own subdomain, accepts
uploads into per-site directories under a byte quota and keeps a
reverse proxy's routes in line with the site registry.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		configFiles, _ := cmd.Flags().GetStringSlice("config")

		cfg, err := config.Load(configFiles, cmd.Flags())
		if err != nil {
			return err
		}

		setupLogging(os.Stdout, cfg.Env, cfg.Log.Level)
		cmd.SetContext(config.WithContext(cmd.Context(), cfg))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringSlice("config", nil, "config file path(s), later files override earlier ones (default: ./config.yaml)")
	rootCmd.PersistentFlags().String("db-type", "", "database type: sqlite, postgres (default: sqlite, env: SITEHOST_DATABASE_TYPE)")
	rootCmd.PersistentFlags().String("db-dsn", "", "database connection string (default: sitehost.db, env: SITEHOST_DATABASE_DSN)")
	rootCmd.PersistentFlags().String("storage-path", "", "parent directory of all site roots (default: ./sites, env: SITEHOST_STORAGE_PATH)")
	rootCmd.PersistentFlags().String("domain", "", "parent domain of every site (env: SITEHOST_PROXY_DOMAIN)")
	rootCmd.PersistentFlags().String("proxy-driver", "", "proxy driver: caddy, memory (default: caddy, env: SITEHOST_PROXY_DRIVER)")
	rootCmd.PersistentFlags().String("admin-url", "", "Caddy admin API URL (default: http://localhost:2019, env: SITEHOST_PROXY_ADMIN_URL)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
