package cmd

import (
	"github.com/ethanolivertroy/reqcheck/internal/models"
	"github.com/ethanolivertroy/reqcheck/internal/scanner"
	"github.com/spf13/cobra"
)

func newCheckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check [paths...]",
		Short: "Lint manifests and resolve their minimum versions for conflicts",
		Long: `Check lints the manifests, then selects the lowest release satisfying each
Python requirement and walks the selected releases' dependencies down to
--max-depth. A dependency that excludes a selected version, or a package no
release satisfies, is reported as a conflict.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReport(cmd, args, (*scanner.Scanner).Check)
		},
	}
	addReportFlags(cmd)
	addNetworkFlags(cmd)

	f := cmd.Flags()
	f.String("index-url", models.DefaultIndexURL, "PyPI JSON API base URL")
	f.String("index-file", "", "Resolve against a static YAML index instead of PyPI")
	f.Int("max-depth", models.DefaultMaxDepth, "Dependency levels to resolve below the manifest (0: manifest only)")
	f.Int("concurrency", models.DefaultConcurrency, "Parallel index lookups")
	return cmd
}
