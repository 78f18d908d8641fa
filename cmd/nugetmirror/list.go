package main

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/git-pkgs/nugetmirror/fetch"
	"github.com/git-pkgs/nugetmirror/internal/catalog"
	"github.com/git-pkgs/nugetmirror/internal/core"
	"github.com/git-pkgs/nugetmirror/internal/logging"
)

func newListCommand() *cobra.Command {
	var (
		startFlag  string
		endFlag    string
		verbose    bool
		listedOnly bool
		maxThreads int
	)

	cmd := &cobra.Command{
		Use:   "list <feed-index>",
		Short: "Print the live packages of a feed",
		Long: `Traverse the feed's catalog, collapse edits and deletions, and print
one "id version" line per live package, sorted by id then version.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			start, end, err := parseWindow(startFlag, endFlag)
			if err != nil {
				return err
			}

			log := logging.Default()
			client := fetch.NewCircuitBreakerFetcher(fetch.NewFetcher())
			reader, err := catalog.NewReader(cmd.Context(), args[0], client,
				catalog.WithMaxThreads(maxThreads),
				catalog.WithLogger(log),
			)
			if err != nil {
				return err
			}

			entries, err := reader.FlattenedEntries(cmd.Context(), start, end)
			if err != nil {
				return err
			}

			if listedOnly {
				kept := entries[:0]
				for _, e := range entries {
					listed, err := reader.Listed(cmd.Context(), e)
					if err != nil {
						return err
					}
					if listed {
						kept = append(kept, e)
					}
				}
				entries = kept
			}

			sortEntries(entries)
			for _, e := range entries {
				if verbose {
					fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s %s\n",
						e.ID, e.Version.Normalized(), e.PURL(), e.CommitTime.Format(time.RFC3339Nano))
				} else {
					fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", e.ID, e.Version.Normalized())
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&startFlag, "start", "s", "", "window start, exclusive (ISO-8601)")
	cmd.Flags().StringVarP(&endFlag, "end", "e", "", "window end, inclusive (ISO-8601)")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "print package URL and commit timestamp")
	cmd.Flags().BoolVar(&listedOnly, "listed-only", false, "only print listed versions")
	cmd.Flags().IntVar(&maxThreads, "max-threads", catalog.DefaultMaxThreads, "maximum concurrent fetches")

	return cmd
}

func sortEntries(entries []*core.CatalogEntry) {
	sort.Slice(entries, func(i, j int) bool {
		a, b := strings.ToLower(entries[i].ID), strings.ToLower(entries[j].ID)
		if a != b {
			return a < b
		}
		return entries[i].Version.Compare(entries[j].Version) < 0
	})
}

// parseWindow maps the optional -s and -e flags onto the traversal
// window; missing edges widen to the whole catalog.
func parseWindow(start, end string) (time.Time, time.Time, error) {
	s := time.Time{}
	e := time.Date(9999, 12, 31, 23, 59, 59, 0, time.UTC)

	var err error
	if start != "" {
		if s, err = core.ParseTimestamp(start); err != nil {
			return s, e, fmt.Errorf("invalid start: %w", err)
		}
	}
	if end != "" {
		if e, err = core.ParseTimestamp(end); err != nil {
			return s, e, fmt.Errorf("invalid end: %w", err)
		}
	}
	return s, e, nil
}
