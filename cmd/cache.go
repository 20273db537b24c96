package cmd

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/ethanolivertroy/reqcheck/internal/cache"
	"github.com/ethanolivertroy/reqcheck/internal/scanner"
	"github.com/spf13/cobra"
)

func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or clear the response cache",
	}
	cmd.AddCommand(newCacheInfoCmd(), newCacheClearCmd())
	return cmd
}

func openCache(cmd *cobra.Command) (*cache.Cache, error) {
	cfg, _, err := setup(cmd)
	if err != nil {
		return nil, err
	}
	cfg.Cache.Disabled = false
	return scanner.OpenCache(cfg)
}

func newCacheInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show cache location, size and age",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := openCache(cmd)
			if err != nil {
				return err
			}
			stats, err := c.Stats()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Directory: %s\n", stats.Dir)
			fmt.Fprintf(out, "Entries:   %d (%d expired)\n", stats.Entries, stats.Expired)
			fmt.Fprintf(out, "Size:      %s\n", humanize.Bytes(stats.Bytes))
			if stats.Entries > 0 {
				fmt.Fprintf(out, "Oldest:    %s\n", humanize.Time(stats.Oldest))
				fmt.Fprintf(out, "Newest:    %s\n", humanize.Time(stats.Newest))
			}
			return nil
		},
	}
}

func newCacheClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove every cached response",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := openCache(cmd)
			if err != nil {
				return err
			}
			n, err := c.Clear()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d cached responses from %s\n", n, c.Dir)
			return nil
		},
	}
}
