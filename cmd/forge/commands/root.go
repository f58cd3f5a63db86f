package commands

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath    string
	workspacePath string
	verbose       bool
	jsonOutput    bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "forge",
		Short: "Forge - Pinned dependency and compilation toolchain",
		Long: `Forge fetches pinned external archives, verifies them against their
recorded checksums, and compiles array programs through a persistent
compilation cache.

Features:
  - Starlark workspace files with commit and sha256 pins
  - Fail-closed checksum verification with local override escape hatch
  - Typed project config via CUE (build, checks, tests)
  - OPA admission policies for archive pins
  - Persistent compilation cache keyed by module, options, and backend`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if verbose {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			}
		},
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "project config file path (default forge.cue)")
	rootCmd.PersistentFlags().StringVarP(&workspacePath, "workspace", "w", "", "workspace file path (default forge.star)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	// Add subcommands
	rootCmd.AddCommand(newInitCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newFetchCommand())
	rootCmd.AddCommand(newVerifyCommand())
	rootCmd.AddCommand(newCompileCommand())
	rootCmd.AddCommand(newCacheCommand())
	rootCmd.AddCommand(newDepsCommand())
	rootCmd.AddCommand(newTestsCommand())
	rootCmd.AddCommand(newRunsCommand())

	return rootCmd
}
