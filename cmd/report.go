package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/ethanolivertroy/reqcheck/internal/config"
	"github.com/ethanolivertroy/reqcheck/internal/logging"
	"github.com/ethanolivertroy/reqcheck/internal/models"
	"github.com/ethanolivertroy/reqcheck/internal/reporter"
	"github.com/ethanolivertroy/reqcheck/internal/scanner"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.trai.ch/zerr"
)

// scanFunc runs one scanner pass.
type scanFunc func(s *scanner.Scanner, ctx context.Context) (*models.Report, error)

// setup loads the configuration for cmd and builds its logger.
func setup(cmd *cobra.Command) (*models.Config, *slog.Logger, error) {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath, cmd.Flags())
	if err != nil {
		return nil, nil, err
	}

	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		cfg.Log.Level = "debug"
	}

	logger, err := logging.New(cmd.ErrOrStderr(), cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

// addReportFlags declares the flags shared by commands that produce a report.
func addReportFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringP("format", "f", "terminal", "Output format: terminal, json, yaml, sarif")
	f.StringP("output", "o", "", "Output file path (default: stdout)")
	f.Bool("no-fail", false, "Exit 0 even when the report contains errors")
	f.Bool("require-pins", false, "Report requirements without a version constraint as errors in every manifest format")
	f.Bool("allow-unpinned", false, "Report requirements without a version constraint in requirements files as warnings")
	f.StringSlice("disable", nil, "Lint rules to disable, e.g. RQ006,RQ008")
	f.String("python-version", models.DefaultPythonVersion, "Python version used to evaluate environment markers")
	f.String("platform", models.DefaultSysPlatform, "sys_platform used to evaluate environment markers")
}

// addNetworkFlags declares the HTTP client flags.
func addNetworkFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.Duration("timeout", models.DefaultTimeout, "HTTP request timeout")
	f.Uint("retries", models.DefaultRetries, "Retries for failed HTTP requests")
}

// runReport executes scan over the paths in args and writes the report.
func runReport(cmd *cobra.Command, args []string, scan scanFunc) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}

	cfg.Paths = args
	if len(cfg.Paths) == 0 {
		cfg.Paths = []string{"."}
	}

	s, err := scanner.New(cfg, logger)
	if err != nil {
		return zerr.Wrap(err, "failed to initialize scanner")
	}

	report, err := scan(s, cmd.Context())
	if err != nil {
		return err
	}
	logger.Info("scan complete",
		"command", report.Command,
		"manifests", len(report.Manifests),
		"diagnostics", len(report.Diagnostics),
		"conflicts", len(report.Conflicts))

	out := cmd.OutOrStdout()
	useColor := false
	if f, ok := out.(*os.File); ok && f == os.Stdout && cfg.OutputFile == "" {
		useColor = !color.NoColor
	}

	rep := reporter.Get(cfg.OutputFormat, reporter.Options{Color: useColor, Version: Version})
	output, err := rep.Report(report)
	if err != nil {
		return zerr.Wrap(err, "failed to generate report")
	}

	if cfg.OutputFile != "" {
		if err := os.WriteFile(cfg.OutputFile, output, 0o644); err != nil {
			return zerr.With(zerr.Wrap(err, "failed to write output file"), "path", cfg.OutputFile)
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "Report written to %s\n", cfg.OutputFile)
	} else if _, err := out.Write(output); err != nil {
		return zerr.Wrap(err, "failed to write report")
	}

	if report.HasErrors() && !cfg.NoFail {
		return errProblemsFound
	}
	return nil
}
