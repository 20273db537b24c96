package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
)

// Exit codes returned by Run.
const (
	ExitOK      = 0
	ExitProblem = 1 // the report contains errors
	ExitFailure = 2 // usage or runtime failure
)

// errProblemsFound is returned by report commands when the report contains
// errors and --no-fail was not given.
var errProblemsFound = errors.New("problems found")

// newRootCmd builds the command tree. Flags are read through the config
// loader, so subcommands only declare them.
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "reqcheck",
		Short: "Lint dependency manifests and check that minimum versions install together",
		Long: `reqcheck reads dependency manifests and checks that the versions they
declare make sense together.

It supports multiple ecosystems:
  - Python: requirements*.txt, pyproject.toml
  - Node.js: package.json (lint only)
  - Go: go.mod (lint only)

The check command resolves every Python requirement at its declared minimum
version against PyPI and reports version conflicts. The audit command looks
the minimum versions up in the OSV vulnerability database.

Examples:
  # Lint the current directory
  reqcheck lint

  # Resolve minimum versions for a requirements file
  reqcheck check requirements.txt

  # Resolve two levels of dependencies for Python 3.9
  reqcheck check --max-depth 2 --python-version 3.9

  # Output SARIF for GitHub Code Scanning
  reqcheck check --format sarif --output results.sarif

  # Don't fail on problems (exit 0 regardless)
  reqcheck lint --no-fail`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       Version,
	}
	rootCmd.SetVersionTemplate("{{.Name}} version {{.Version}}\n")

	pf := rootCmd.PersistentFlags()
	pf.String("config", "", "Config file (default: .reqcheck.yaml in the working directory or $HOME)")
	pf.BoolP("verbose", "v", false, "Enable debug logging")
	pf.String("log-level", "warn", "Log level: debug, info, warn, error")
	pf.String("log-format", "text", "Log format: text, json")
	pf.Bool("no-cache", false, "Disable the response cache")
	pf.String("cache-dir", "", "Cache directory (default: user cache dir)")

	rootCmd.AddCommand(
		newParseCmd(),
		newLintCmd(),
		newCheckCmd(),
		newAuditCmd(),
		newCacheCmd(),
		newVersionCmd(),
	)
	return rootCmd
}

// Run executes the command line and returns the process exit code.
func Run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	rootCmd := newRootCmd()
	rootCmd.SetArgs(args)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	err := rootCmd.ExecuteContext(ctx)
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, errProblemsFound):
		return ExitProblem
	default:
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return ExitFailure
	}
}

// Execute runs reqcheck with the process arguments and exits.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := Run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}
