package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/sagarc03/sitehost"
	"github.com/sagarc03/sitehost/client"
	"github.com/sagarc03/sitehost/proxy"
)

// Output formats accepted by -o.
const (
	outputTable = "table"
	outputJSON  = "json"
	outputYAML  = "yaml"
)

func checkOutputFormat(format string) error {
	switch format {
	case outputTable, outputJSON, outputYAML:
		return nil
	default:
		return fmt.Errorf("unknown output format %q (want table, json or yaml)", format)
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

// writeStructured handles the json and yaml formats. It reports false for
// the table format so the caller renders its own table.
func writeStructured(w io.Writer, format string, v any) (bool, error) {
	switch format {
	case outputJSON:
		return true, writeJSON(w, v)
	case outputYAML:
		return true, writeYAML(w, v)
	default:
		return false, nil
	}
}

func formatSites(w io.Writer, format string, sites []sitehost.Site) error {
	if done, err := writeStructured(w, format, sites); done {
		return err
	}

	if len(sites) == 0 {
		_, _ = fmt.Fprintln(w, "No sites found")
		return nil
	}

	maxNameLen := 4 // "NAME"
	for i := range sites {
		maxNameLen = max(maxNameLen, len(sites[i].Name))
	}

	_, _ = fmt.Fprintf(w, "%-*s  %10s  %10s  %4s  %s\n", maxNameLen, "NAME", "USED", "QUOTA", "AUTH", "CREATED")
	_, _ = fmt.Fprintf(w, "%s  %s  %s  %s  %s\n",
		strings.Repeat("-", maxNameLen), strings.Repeat("-", 10), strings.Repeat("-", 10), strings.Repeat("-", 4), strings.Repeat("-", 19))

	for i := range sites {
		s := &sites[i]
		auth := "no"
		if s.Auth != nil {
			auth = "yes"
		}
		_, _ = fmt.Fprintf(w, "%-*s  %10s  %10s  %4s  %s\n",
			maxNameLen,
			s.Name,
			formatSize(s.UsedBytes),
			formatSize(s.QuotaBytes),
			auth,
			s.CreatedAt.Format("2006-01-02 15:04:05"),
		)
	}

	_, _ = fmt.Fprintf(w, "\n%d site(s)\n", len(sites))
	return nil
}

func formatSite(w io.Writer, format string, site sitehost.Site) error {
	if done, err := writeStructured(w, format, site); done {
		return err
	}

	_, _ = fmt.Fprintf(w, "Site:    %s\n", site.Name)
	_, _ = fmt.Fprintf(w, "  Root:  %s\n", site.Root)
	_, _ = fmt.Fprintf(w, "  Usage: %s / %s\n", formatSize(site.UsedBytes), formatSize(site.QuotaBytes))
	if site.Auth != nil {
		_, _ = fmt.Fprintf(w, "  Auth:  %s\n", site.Auth.Username)
	}
	return nil
}

func formatRoutes(w io.Writer, format string, routes []proxy.Route) error {
	if done, err := writeStructured(w, format, routes); done {
		return err
	}

	if len(routes) == 0 {
		_, _ = fmt.Fprintln(w, "No routes")
		return nil
	}

	for i := range routes {
		r := &routes[i]
		auth := ""
		if r.Auth != nil {
			auth = " (basic auth)"
		}
		_, _ = fmt.Fprintf(w, "%s  %s -> %s%s\n", r.ID, strings.Join(r.Match.Hosts, ","), r.Files.Root, auth)
	}
	return nil
}

func formatUsage(w io.Writer, format string, name string, u sitehost.Usage) error {
	if done, err := writeStructured(w, format, u); done {
		return err
	}

	_, _ = fmt.Fprintf(w, "%s: %s / %s\n", name, formatSize(u.UsedBytes), formatSize(u.QuotaBytes))
	return nil
}

// uploadRow is the structured form of a client.UploadResult.
type uploadRow struct {
	LocalPath  string `json:"local_path" yaml:"local_path"`
	RemotePath string `json:"remote_path" yaml:"remote_path"`
	Size       int64  `json:"size_bytes" yaml:"size_bytes"`
	Replaced   bool   `json:"replaced" yaml:"replaced"`
	Error      string `json:"error,omitempty" yaml:"error,omitempty"`
}

func formatUploads(w io.Writer, format string, results []client.UploadResult) error {
	rows := make([]uploadRow, 0, len(results))
	for i := range results {
		r := &results[i]
		row := uploadRow{LocalPath: r.LocalPath, RemotePath: r.RemotePath, Size: r.Size, Replaced: r.Replaced}
		if r.Err != nil {
			row.Error = r.Err.Error()
		}
		rows = append(rows, row)
	}

	if done, err := writeStructured(w, format, rows); done {
		return err
	}

	var uploaded, failed int
	var last *client.UploadResult
	for i := range results {
		r := &results[i]
		if r.Err != nil {
			failed++
			_, _ = fmt.Fprintf(w, "FAIL  %s: %v\n", r.LocalPath, r.Err)
			continue
		}
		uploaded++
		last = r
		_, _ = fmt.Fprintf(w, "OK    %s -> %s (%s)\n", r.LocalPath, r.RemotePath, formatSize(r.Size))
	}

	_, _ = fmt.Fprintf(w, "\n%d uploaded, %d failed", uploaded, failed)
	if last != nil {
		_, _ = fmt.Fprintf(w, ", site usage %s / %s", formatSize(last.UsedBytes), formatSize(last.QuotaBytes))
	}
	_, _ = fmt.Fprintln(w)
	return nil
}

// formatSize formats bytes as human-readable size.
func formatSize(bytes int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
		TB = GB * 1024
	)

	switch {
	case bytes >= TB:
		return fmt.Sprintf("%.1f TB", float64(bytes)/TB)
	case bytes >= GB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/GB)
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/MB)
	case bytes >= KB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/KB)
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
