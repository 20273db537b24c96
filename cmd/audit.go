package cmd

import (
	"github.com/ethanolivertroy/reqcheck/internal/models"
	"github.com/ethanolivertroy/reqcheck/internal/scanner"
	"github.com/spf13/cobra"
)

func newAuditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit [paths...]",
		Short: "Lint manifests and look up advisories for their minimum versions",
		Long: `Lint manifests and look up advisories for their minimum versions.

Advisories with CVE aliases are annotated with the CISA Known Exploited
Vulnerabilities catalog and FIRST EPSS scores unless --no-enrich is set.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReport(cmd, args, (*scanner.Scanner).Audit)
		},
	}
	addReportFlags(cmd)
	addNetworkFlags(cmd)
	f := cmd.Flags()
	f.String("osv-url", models.DefaultOSVURL, "OSV querybatch endpoint")
	f.Bool("no-enrich", false, "Skip the KEV catalog and EPSS lookups")
	f.String("kev-url", models.DefaultKEVURL, "CISA KEV catalog JSON feed")
	f.String("epss-url", models.DefaultEPSSURL, "FIRST EPSS API endpoint")
	return cmd
}
