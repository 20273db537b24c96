package cmd

import (
	"github.com/ethanolivertroy/reqcheck/internal/scanner"
	"github.com/spf13/cobra"
)

func newParseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "parse [paths...]",
		Short: "Print the requirements declared by each manifest",
		Long: `Parse discovers manifests under the given paths (default: the current
directory) and lists every requirement with its section, constraint and
declared minimum version. Only syntax errors are reported.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReport(cmd, args, (*scanner.Scanner).Parse)
		},
	}
	addReportFlags(cmd)
	return cmd
}
