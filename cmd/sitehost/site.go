package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"

	"github.com/sagarc03/sitehost"
)

var siteCmd = &cobra.Command{
	Use:   "site",
	Short: "Manage sites",
}

var siteCreateCmd = &cobra.Command{
	Use:   "create [flags] <name>",
	Short: "Provision a site",
	Long: `Provision a site: create its directory, register it and publish its
proxy route. Any failure undoes the steps already taken.

Examples:
  # Create a site with the default quota
  sitehost site create blog

  # Create a site with a 50 MiB quota protected by basic auth
  sitehost site create docs --quota 52428800 --username team`,
	Args: cobra.ExactArgs(1),
	RunE: runSiteCreate,
}

var siteListCmd = &cobra.Command{
	Use:   "list [prefix]",
	Short: "List sites",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runSiteList,
}

var siteGetCmd = &cobra.Command{
	Use:   "get <name>",
	Short: "Show a site",
	Args:  cobra.ExactArgs(1),
	RunE:  runSiteGet,
}

var siteDeleteCmd = &cobra.Command{
	Use:   "delete [flags] <name>",
	Short: "Delete a site, its route and all its files",
	Args:  cobra.ExactArgs(1),
	RunE:  runSiteDelete,
}

var siteAuthCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage a site's basic-auth credentials",
}

var siteAuthSetCmd = &cobra.Command{
	Use:   "set [flags] <name>",
	Short: "Protect a site with basic auth",
	Long: `Protect a site with basic auth. The password is read from --password,
the SITEHOST_SITE_PASSWORD environment variable, or prompted for.`,
	Args: cobra.ExactArgs(1),
	RunE: runSiteAuthSet,
}

var siteAuthClearCmd = &cobra.Command{
	Use:   "clear <name>",
	Short: "Remove basic auth from a site",
	Args:  cobra.ExactArgs(1),
	RunE:  runSiteAuthClear,
}

var (
	siteQuota    int64
	siteUsername string
	sitePassword string
	siteYes      bool
	siteOutput   string
	siteAll      bool
)

func init() {
	siteCreateCmd.Flags().Int64Var(&siteQuota, "quota", 0, "quota in bytes (default: storage.default_quota)")
	siteCreateCmd.Flags().StringVar(&siteUsername, "username", "", "protect the site with basic auth for this user")
	siteCreateCmd.Flags().StringVar(&sitePassword, "password", "", "basic-auth password (prompted for when --username is set)")
	siteCreateCmd.Flags().StringVarP(&siteOutput, "output", "o", outputTable, "output format: table, json, yaml")

	siteListCmd.Flags().StringVarP(&siteOutput, "output", "o", outputTable, "output format: table, json, yaml")
	siteListCmd.Flags().BoolVar(&siteAll, "all", false, "fetch all pages")

	siteGetCmd.Flags().StringVarP(&siteOutput, "output", "o", outputTable, "output format: table, json, yaml")

	siteDeleteCmd.Flags().BoolVarP(&siteYes, "yes", "y", false, "skip the confirmation prompt")

	siteAuthSetCmd.Flags().StringVar(&siteUsername, "username", "", "basic-auth user name")
	siteAuthSetCmd.Flags().StringVar(&sitePassword, "password", "", "basic-auth password")
	_ = siteAuthSetCmd.MarkFlagRequired("username")

	siteAuthCmd.AddCommand(siteAuthSetCmd, siteAuthClearCmd)
	siteCmd.AddCommand(siteCreateCmd, siteListCmd, siteGetCmd, siteDeleteCmd, siteAuthCmd)
	rootCmd.AddCommand(siteCmd)
}

// readPassword returns the password from the flag, the environment or an
// interactive prompt, in that order.
func readPassword(flagValue string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	if env := os.Getenv("SITEHOST_SITE_PASSWORD"); env != "" {
		return env, nil
	}

	prompt := promptui.Prompt{
		Label: "Password",
		Mask:  '*',
		Validate: func(input string) error {
			if len(input) < 8 {
				return errors.New("password must be at least 8 characters")
			}
			return nil
		},
	}
	password, err := prompt.Run()
	if err != nil {
		return "", handlePromptError(err)
	}
	return password, nil
}

// handlePromptError turns promptui interruptions into a cancellation error.
func handlePromptError(err error) error {
	if errors.Is(err, promptui.ErrInterrupt) || errors.Is(err, promptui.ErrAbort) {
		return errors.New("cancelled")
	}
	return err
}

func runSiteCreate(cmd *cobra.Command, args []string) error {
	if err := checkOutputFormat(siteOutput); err != nil {
		return err
	}

	req := sitehost.CreateSite{Name: args[0], QuotaBytes: siteQuota}
	if siteUsername != "" {
		password, err := readPassword(sitePassword)
		if err != nil {
			return err
		}
		req.Auth = &sitehost.Credentials{Username: siteUsername, Password: password}
	}

	a, err := appFromContext(cmd.Context())
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	site, err := a.service.CreateSite(cmd.Context(), req)
	if err != nil {
		return fmt.Errorf("create site %s: %w", req.Name, err)
	}

	return formatSite(cmd.OutOrStdout(), siteOutput, site)
}

func runSiteList(cmd *cobra.Command, args []string) error {
	if err := checkOutputFormat(siteOutput); err != nil {
		return err
	}

	prefix := ""
	if len(args) > 0 {
		prefix = args[0]
	}

	a, err := appFromContext(cmd.Context())
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	var sites []sitehost.Site
	cursor := ""
	for {
		result, err := a.service.ListSites(cmd.Context(), sitehost.ListQuery{Prefix: prefix, Cursor: cursor})
		if err != nil {
			return fmt.Errorf("list sites: %w", err)
		}
		sites = append(sites, result.Items...)

		if !siteAll || result.NextCursor == "" {
			break
		}
		cursor = result.NextCursor
	}

	if sites == nil {
		sites = []sitehost.Site{}
	}
	return formatSites(cmd.OutOrStdout(), siteOutput, sites)
}

func runSiteGet(cmd *cobra.Command, args []string) error {
	if err := checkOutputFormat(siteOutput); err != nil {
		return err
	}

	a, err := appFromContext(cmd.Context())
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	site, err := a.service.GetSite(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("get site %s: %w", args[0], err)
	}

	return formatSite(cmd.OutOrStdout(), siteOutput, site)
}

func runSiteDelete(cmd *cobra.Command, args []string) error {
	name := args[0]

	if !siteYes {
		prompt := promptui.Prompt{
			Label:     fmt.Sprintf("Delete site '%s' and all its files", name),
			IsConfirm: true,
		}
		if _, promptErr := prompt.Run(); promptErr != nil {
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Cancelled.")
			return nil //nolint:nilerr // User cancelled, not an error
		}
	}

	a, err := appFromContext(cmd.Context())
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	if err := a.service.DeleteSite(cmd.Context(), name); err != nil {
		return fmt.Errorf("delete site %s: %w", name, err)
	}

	slog.Info("site deleted", "site", name)
	return nil
}

func runSiteAuthSet(cmd *cobra.Command, args []string) error {
	name := args[0]

	password, err := readPassword(sitePassword)
	if err != nil {
		return err
	}

	a, err := appFromContext(cmd.Context())
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	if _, err := a.service.SetAuth(cmd.Context(), name, sitehost.Credentials{Username: siteUsername, Password: password}); err != nil {
		return fmt.Errorf("set auth %s: %w", name, err)
	}

	slog.Info("basic auth enabled", "site", name, "username", siteUsername)
	return nil
}

func runSiteAuthClear(cmd *cobra.Command, args []string) error {
	name := args[0]

	a, err := appFromContext(cmd.Context())
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	if _, err := a.service.ClearAuth(cmd.Context(), name); err != nil {
		return fmt.Errorf("clear auth %s: %w", name, err)
	}

	slog.Info("basic auth removed", "site", name)
	return nil
}
