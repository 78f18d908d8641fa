package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/git-pkgs/nugetmirror/fetch"
	"github.com/git-pkgs/nugetmirror/internal/catalog"
	"github.com/git-pkgs/nugetmirror/internal/logging"
	"github.com/git-pkgs/nugetmirror/internal/validate"
)

func newValidateCommand() *cobra.Command {
	var (
		delayMinutes int
		maxThreads   int
	)

	cmd := &cobra.Command{
		Use:   "validate <feed-index>",
		Short: "Check that every live package archive is reachable",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logging.Default()
			client := fetch.NewCircuitBreakerFetcher(fetch.NewFetcher())

			reader, err := catalog.NewReader(cmd.Context(), args[0], client,
				catalog.WithMaxThreads(maxThreads),
				catalog.WithLogger(log),
			)
			if err != nil {
				return err
			}

			end := time.Now().UTC().Add(-time.Duration(delayMinutes) * time.Minute)
			report, err := validate.Run(cmd.Context(), reader, client, time.Time{}, end, maxThreads, log)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "checked %d package(s)\n", report.Checked)
			for _, f := range report.Failures {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\n", f.Error())
			}
			for kind, n := range report.Counts {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %d\n", kind, n)
			}

			if !report.OK() {
				return fmt.Errorf("%d unreachable archive(s)", len(report.Failures))
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&delayMinutes, "delay", 10, "minutes subtracted from now for the window's upper edge")
	cmd.Flags().IntVar(&maxThreads, "max-threads", catalog.DefaultMaxThreads, "maximum concurrent probes")

	return cmd
}
