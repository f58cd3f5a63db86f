package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/arrayforge/arrayforge/pkg/stores"
)

const starterWorkspace = `# Pinned external archives. Every remote pin carries a full commit and
# the sha256 of its release archive; fetches fail closed on mismatch.
#
# archive(
#     name = "runtime",
#     commit = "0123456789abcdef0123456789abcdef01234567",
#     sha256 = "…64 hex chars…",
#     urls = ["https://github.com/example/runtime/archive/{commit}.tar.gz"],
#     strip_prefix = "runtime-{commit}",
# )
#
# local_override(name = "runtime", path = "/home/dev/runtime")
`

const starterConfig = `// Project configuration.
build: {
	backend:     "cpu"
	parallelism: 4
	store_dir:   ".forge/store"
	cache_dir:   ".forge/cache"
}

checks: {
	// suppressions: [{check: "deprecated-call", path: "third_party/"}]
	// allowed_hosts: ["github.com"]
}

tests: {
	// filters: [{pattern: "slow/*", action: "skip"}]
}
`

func newInitCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a forge project",
		Long: `Initialize a forge project with a workspace file, project config, store
and cache directories, and the run registry database.

Existing files are left untouched.`,
		Example: `  # Initialize in the current directory
  forge init`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			proj, err := loadProject(ctx)
			if err != nil {
				return err
			}

			log.Info().
				Str("store", proj.Build.StoreDir).
				Str("cache", proj.Build.CacheDir).
				Msg("Initializing project")

			for _, dir := range []string{proj.Build.StoreDir, proj.Build.CacheDir} {
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return fmt.Errorf("failed to create directory %s: %w", dir, err)
				}
				fmt.Printf("✓ Created directory: %s\n", dir)
			}

			for _, f := range []struct {
				path, content string
			}{
				{resolveWorkspacePath(), starterWorkspace},
				{resolveConfigPath(), starterConfig},
			} {
				if _, err := os.Stat(f.path); err == nil {
					fmt.Printf("- Kept existing file: %s\n", f.path)
					continue
				}
				if err := os.WriteFile(f.path, []byte(f.content), 0o644); err != nil {
					return fmt.Errorf("failed to write %s: %w", f.path, err)
				}
				fmt.Printf("✓ Created file: %s\n", f.path)
			}

			dbPath := filepath.Join(proj.Build.StoreDir, "forge.db")
			store, err := stores.NewSQLiteStore(stores.Config{Path: dbPath})
			if err != nil {
				return fmt.Errorf("failed to create store: %w", err)
			}
			defer store.Close()

			if err := store.Init(ctx); err != nil {
				return fmt.Errorf("failed to initialize store: %w", err)
			}
			if err := store.Migrate(ctx); err != nil {
				return fmt.Errorf("failed to run migrations: %w", err)
			}
			fmt.Printf("✓ Initialized run registry: %s\n", dbPath)

			return nil
		},
	}

	return cmd
}
