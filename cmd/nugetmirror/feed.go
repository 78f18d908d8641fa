package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/git-pkgs/nugetmirror/client"
	"github.com/git-pkgs/nugetmirror/fetch"
	"github.com/git-pkgs/nugetmirror/internal/catalog"
	"github.com/git-pkgs/nugetmirror/internal/core"
	"github.com/git-pkgs/nugetmirror/internal/feed"
	"github.com/git-pkgs/nugetmirror/internal/logging"
)

func newFeedCommand() *cobra.Command {
	var maxThreads int

	cmd := &cobra.Command{
		Use:   "feed <feed-index> <id>...",
		Short: "List versions through the package base address, without a catalog",
		Long: `Enumerate the published versions of the given package ids using only
the feed's package base address. Works against feeds that publish no
catalog.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logging.Default()
			c := fetch.NewCircuitBreakerFetcher(fetch.NewFetcher())

			index, err := feed.LoadServiceIndex(cmd.Context(), c, args[0], log)
			if err != nil {
				return err
			}
			if index.HasCatalog() {
				log.Debug("feed has a catalog; reading the flat container anyway")
			}

			packageBase, err := index.PackageBaseURI()
			if err != nil {
				return err
			}
			urls := client.NewURLBuilder(packageBase, "")

			reader := feed.NewFlatReader(c, urls, core.NewInternPool(), maxThreads, log)
			entries, err := reader.Entries(cmd.Context(), args[1:])
			if err != nil {
				return err
			}

			sortEntries(entries)
			for _, e := range entries {
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", e.ID, e.Version.Normalized())
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&maxThreads, "max-threads", catalog.DefaultMaxThreads, "maximum concurrent fetches")
	return cmd
}
