package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/git-pkgs/nugetmirror/fetch"
	"github.com/git-pkgs/nugetmirror/internal/catalog"
	"github.com/git-pkgs/nugetmirror/internal/logging"
	"github.com/git-pkgs/nugetmirror/internal/mirror"
)

func newNupkgsCommand() *cobra.Command {
	var (
		outputs      []string
		folderFormat string
		mode         string
		delayMinutes int
		maxThreads   int
		batchSize    int
		ignoreErrors bool
		includes     []string
		excludes     []string
	)

	cmd := &cobra.Command{
		Use:   "nupkgs <feed-index>",
		Short: "Mirror a feed's package archives to local storage",
		Long: `Traverse the feed's catalog from the persisted cursor, download every
live package archive into the output directory tree, and advance the
cursor once each batch of commits has been fully processed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			layout, err := mirror.ParseLayoutVersion(folderFormat)
			if err != nil {
				return err
			}
			downloadMode, err := parseDownloadMode(mode)
			if err != nil {
				return err
			}

			settings := mirror.Settings{
				FeedIndexURI: args[0],
				OutputRoots:  outputs,
				Layout:       layout,
				Mode:         downloadMode,
				Delay:        time.Duration(delayMinutes) * time.Minute,
				MaxThreads:   maxThreads,
				BatchSize:    batchSize,
				IgnoreErrors: ignoreErrors,
				Includes:     includes,
				Excludes:     excludes,
				Log:          logging.Default(),
			}

			m, err := mirror.New(cmd.Context(), settings, fetch.NewCircuitBreakerFetcher(fetch.NewFetcher()))
			if err != nil {
				return err
			}

			result, err := m.Run(cmd.Context())
			if err != nil {
				return err
			}
			if len(result.Errors) > 0 && !ignoreErrors {
				return fmt.Errorf("%d download(s) failed", len(result.Errors))
			}

			fmt.Fprintf(cmd.OutOrStdout(), "downloaded %d archive(s), cursor at %s\n",
				len(result.Downloaded), result.Cursor.Format(time.RFC3339Nano))
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&outputs, "output", "o", []string{"."}, "output root(s); the first holds cursor and run logs")
	cmd.Flags().StringVar(&folderFormat, "folder-format", "v3", "archive layout (v2 or v3)")
	cmd.Flags().StringVar(&mode, "mode", "overwrite-if-newer", "download mode (fail-if-exists, skip-if-exists, overwrite-if-newer, force)")
	cmd.Flags().IntVar(&delayMinutes, "delay", 10, "minutes subtracted from now to avoid racing the publisher")
	cmd.Flags().IntVar(&maxThreads, "max-threads", catalog.DefaultMaxThreads, "maximum concurrent downloads")
	cmd.Flags().IntVar(&batchSize, "batch-size", 128, "entries dispatched per batch")
	cmd.Flags().BoolVar(&ignoreErrors, "ignore-errors", false, "continue past exhausted download retries")
	cmd.Flags().StringSliceVarP(&includes, "include", "i", nil, "package id globs to include")
	cmd.Flags().StringSliceVarP(&excludes, "exclude", "e", nil, "package id globs to exclude")

	return cmd
}

func parseDownloadMode(s string) (mirror.DownloadMode, error) {
	switch s {
	case "fail-if-exists":
		return mirror.FailIfExists, nil
	case "skip-if-exists":
		return mirror.SkipIfExists, nil
	case "overwrite-if-newer":
		return mirror.OverwriteIfNewer, nil
	case "force":
		return mirror.Force, nil
	}
	return 0, fmt.Errorf("unknown download mode %q", s)
}
