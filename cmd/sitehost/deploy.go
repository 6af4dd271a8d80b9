package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sagarc03/sitehost/client"
)

var deployCmd = &cobra.Command{
	Use:   "deploy [flags] <site> <dir>",
	Short: "Upload a local directory to a site through the API",
	Long: `Upload every file below a local directory to a site through a running
sitehost server. Paths are kept relative to the directory. Files that fail
(for example because the site's quota is exhausted) are reported and the
remaining files are still uploaded.

Examples:
  # Deploy a build output
  SITEHOST_TOKEN=... sitehost deploy blog ./public

  # Deploy into a sub-directory of the site
  sitehost deploy docs ./build --prefix v2 --endpoint https://api.example.com`,
	Args: cobra.ExactArgs(2),
	RunE: runDeploy,
}

var (
	deployEndpoint string
	deployToken    string
	deployPrefix   string
	deployOutput   string
)

func init() {
	deployCmd.Flags().StringVar(&deployEndpoint, "endpoint", "", "management API URL (default: http://localhost:5709, env: SITEHOST_ENDPOINT)")
	deployCmd.Flags().StringVar(&deployToken, "token", "", "API token (env: SITEHOST_TOKEN)")
	deployCmd.Flags().StringVar(&deployPrefix, "prefix", "", "remote directory to upload into")
	deployCmd.Flags().StringVarP(&deployOutput, "output", "o", outputTable, "output format: table, json, yaml")
	rootCmd.AddCommand(deployCmd)
}

// firstNonEmpty returns the first non-empty value.
func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func runDeploy(cmd *cobra.Command, args []string) error {
	if err := checkOutputFormat(deployOutput); err != nil {
		return err
	}

	site, dir := args[0], args[1]

	c, err := client.New(client.Config{
		Endpoint: firstNonEmpty(deployEndpoint, os.Getenv("SITEHOST_ENDPOINT"), "http://localhost:5709"),
		Token:    firstNonEmpty(deployToken, os.Getenv("SITEHOST_TOKEN")),
	})
	if err != nil {
		return err
	}

	results, err := c.Upload(cmd.Context(), site, client.UploadOptions{
		LocalPath:  dir,
		RemotePath: deployPrefix,
		Recursive:  true,
	})
	if fmtErr := formatUploads(cmd.OutOrStdout(), deployOutput, results); fmtErr != nil {
		return fmtErr
	}
	if err != nil {
		return fmt.Errorf("deploy %s: %w", site, err)
	}
	if client.HasUploadErrors(results) {
		return errors.New("some files failed to upload")
	}
	return nil
}
