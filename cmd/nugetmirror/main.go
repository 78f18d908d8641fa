package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/git-pkgs/nugetmirror/internal/logging"
)

var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "nugetmirror",
		Short: "Mirror and inspect NuGet v3 feeds",
		Long: `nugetmirror reads a NuGet v3 feed's catalog, the append-only log of
package publish, edit, and delete events, and either lists the currently
live packages, mirrors their archives into a local directory tree, or
validates that every archive is reachable. Incremental mirror runs
resume from a cursor persisted in the output directory.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logging.SetLevel(viper.GetString("log-level"))
			logging.SetFormat(viper.GetString("log-format"))
			logging.SetOutput(viper.GetString("log-output"), 100, 3)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.String("log-level", "info", "log level (trace, debug, info, warn, error, none)")
	flags.String("log-format", "text", "log format (text or json)")
	flags.String("log-output", "=", "log output: - for stdout, = for stderr, or a file path")

	viper.SetEnvPrefix("NUGETMIRROR")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	if home, err := os.UserHomeDir(); err == nil {
		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".nugetmirror")
		_ = viper.ReadInConfig()
	}
	_ = viper.BindPFlags(flags)

	rootCmd.AddCommand(newListCommand())
	rootCmd.AddCommand(newFeedCommand())
	rootCmd.AddCommand(newNupkgsCommand())
	rootCmd.AddCommand(newValidateCommand())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
