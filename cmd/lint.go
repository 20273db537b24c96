package cmd

import (
	"github.com/ethanolivertroy/reqcheck/internal/scanner"
	"github.com/spf13/cobra"
)

func newLintCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lint [paths...]",
		Short: "Check manifests for syntax and constraint problems",
		Long: `Lint applies the RQ rules to every manifest without contacting a package
index:

  RQ001  syntax error                    RQ005  no version constraint
  RQ002  invalid version literal         RQ006  non-canonical package name
  RQ003  duplicate requirement           RQ007  no minimum version
  RQ004  unsatisfiable across manifests  RQ008  empty manifest`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReport(cmd, args, (*scanner.Scanner).Lint)
		},
	}
	addReportFlags(cmd)
	return cmd
}
