package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/arrayforge/arrayforge/pkg/stores"
)

func newRunsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect recorded fetch runs",
	}

	cmd.AddCommand(newRunsListCommand())
	cmd.AddCommand(newRunsShowCommand())
	cmd.AddCommand(newRunsRmCommand())

	return cmd
}

// withRunStore opens the configured run registry around fn.
func withRunStore(cmd *cobra.Command, fn func(store *stores.SQLiteStore) error) error {
	ctx := cmd.Context()
	proj, err := loadProject(ctx)
	if err != nil {
		return err
	}
	store, err := openRunStore(ctx, proj.Build.StoreDir)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(store)
}

func newRunsListCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List fetch runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRunStore(cmd, func(store *stores.SQLiteStore) error {
				runs, err := store.ListRuns(cmd.Context(), limit, 0)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(runs)
				}
				for _, r := range runs {
					errMsg := ""
					if r.Error != nil {
						errMsg = *r.Error
					}
					fmt.Printf("%-36s %-10s %s %s\n", r.ID, r.Status, r.StartedAt.Format("2006-01-02 15:04:05"), errMsg)
				}
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of runs to list")

	return cmd
}

func newRunsShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show a run with its archives and events",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRunStore(cmd, func(store *stores.SQLiteStore) error {
				ctx := cmd.Context()

				run, err := store.GetRun(ctx, args[0])
				if err != nil {
					return err
				}
				archives, err := store.ListArchives(ctx, run.ID)
				if err != nil {
					return err
				}
				events, err := store.ListEvents(ctx, run.ID, 100, 0)
				if err != nil {
					return err
				}

				if jsonOutput {
					return printJSON(map[string]interface{}{
						"run":      run,
						"archives": archives,
						"events":   events,
					})
				}

				fmt.Printf("run %s (%s)\n", run.ID, run.Status)
				fmt.Printf("  workspace: %s\n", run.WorkspacePath)
				fmt.Printf("  started:   %s\n", run.StartedAt.Format("2006-01-02 15:04:05"))
				if run.CompletedAt != nil {
					fmt.Printf("  completed: %s\n", run.CompletedAt.Format("2006-01-02 15:04:05"))
				}
				if run.Error != nil {
					fmt.Printf("  error:     %s\n", *run.Error)
				}
				for _, a := range archives {
					fmt.Printf("  archive %-20s %-10s %s\n", a.Name, a.Status, a.InstallPath)
				}
				for _, e := range events {
					fmt.Printf("  event   [%s] %s\n", e.Level, e.Message)
				}
				return nil
			})
		},
	}
}

func newRunsRmCommand() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "rm <run-id>",
		Short: "Delete a run and its archives and events",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("refusing to delete run without --yes")
			}
			return withRunStore(cmd, func(store *stores.SQLiteStore) error {
				if err := store.DeleteRun(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Printf("✓ Run %s deleted\n", args[0])
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&yes, "yes", false, "confirm deleting the run")

	return cmd
}
