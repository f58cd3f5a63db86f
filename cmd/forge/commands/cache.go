package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/arrayforge/arrayforge/pkg/cache"
)

func newCacheCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and maintain the compilation cache",
	}

	cmd.AddCommand(newCacheStatsCommand())
	cmd.AddCommand(newCacheGCCommand())
	cmd.AddCommand(newCacheClearCommand())

	return cmd
}

// withCache opens the configured cache around fn.
func withCache(cmd *cobra.Command, fn func(c *cache.Cache) error) error {
	proj, err := loadProject(cmd.Context())
	if err != nil {
		return err
	}
	c, err := cache.Open(proj.Build.CacheDir)
	if err != nil {
		return err
	}
	defer c.Close()
	return fn(c)
}

func newCacheStatsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show compilation cache statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCache(cmd, func(c *cache.Cache) error {
				stats, err := c.Stats(cmd.Context())
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(stats)
				}
				fmt.Printf("entries: %d\nsize:    %d bytes\n", stats.Entries, stats.SizeBytes)
				return nil
			})
		},
	}
}

func newCacheGCCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "gc",
		Short: "Garbage collect the compilation cache",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCache(cmd, func(c *cache.Cache) error {
				if err := c.GC(cmd.Context()); err != nil {
					return err
				}
				fmt.Println("✓ Cache garbage collection complete")
				return nil
			})
		},
	}
}

func newCacheClearCommand() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every cached executable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("refusing to clear the cache without --yes")
			}
			return withCache(cmd, func(c *cache.Cache) error {
				if err := c.Clear(cmd.Context()); err != nil {
					return err
				}
				fmt.Println("✓ Cache cleared")
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&yes, "yes", false, "confirm clearing the cache")

	return cmd
}
