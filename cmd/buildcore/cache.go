package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/moby/buildcore/cache"
)

func newCacheCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect a cache index",
	}
	cmd.AddCommand(newCacheStatsCommand())
	return cmd
}

func newCacheStatsCommand() *cobra.Command {
	var indexPath string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print policy, entry count, total and average size, and entry ages for a cache index",
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := cache.OpenIndex(indexPath)
			if err != nil {
				return err
			}
			defer index.Close()

			stats, err := index.Statistics()
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "POLICY\tENTRIES\tTOTAL BYTES\tAVG ENTRY SIZE\tOLDEST\tNEWEST\n")
			fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%s\t%s\n",
				stats.Policy, stats.EntryCount, stats.TotalBytes, stats.AvgEntrySize,
				stats.OldestEntry.Format("2006-01-02T15:04:05Z"), stats.NewestEntry.Format("2006-01-02T15:04:05Z"))
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&indexPath, "index", "", "path to the cache index database file")
	cmd.MarkFlagRequired("index")
	return cmd
}
