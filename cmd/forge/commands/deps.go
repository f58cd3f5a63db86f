package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/arrayforge/arrayforge/pkg/fetch"
	"github.com/arrayforge/arrayforge/pkg/stores"
)

// lockEntry is a nil-safe lockfile lookup.
func lockEntry(lf *fetch.Lockfile, name string) *fetch.LockEntry {
	if lf == nil {
		return nil
	}
	return lf.Entry(name)
}

func newDepsCommand() *cobra.Command {
	var lockPath string

	cmd := &cobra.Command{
		Use:   "deps",
		Short: "List workspace pins and their resolved state",
		Long: `List every pin in the workspace together with its state from the
lockfile: locked (fetched and recorded), overridden (local path), or
unfetched. Pins missing from the lockfile fall back to the run registry's
latest archive record.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			ws, err := loadWorkspace(ctx)
			if err != nil {
				return err
			}

			var lf *fetch.Lockfile
			if _, err := os.Stat(lockPath); err == nil {
				lf, err = fetch.ReadLockfile(lockPath)
				if err != nil {
					return err
				}
			}

			// Registry fallback for pins fetched before the current
			// lockfile was written. Only consulted when the registry
			// database already exists.
			var store *stores.SQLiteStore
			if proj, err := loadProject(ctx); err == nil {
				dbPath := filepath.Join(proj.Build.StoreDir, "forge.db")
				if _, err := os.Stat(dbPath); err == nil {
					if s, err := openRunStore(ctx, proj.Build.StoreDir); err == nil {
						store = s
						defer store.Close()
					}
				}
			}

			type dep struct {
				Name   string `json:"name"`
				Commit string `json:"commit"`
				State  string `json:"state"`
				Path   string `json:"path,omitempty"`
			}

			deps := make([]dep, 0, len(ws.Pins))
			for _, pin := range ws.Pins {
				d := dep{Name: pin.Name, Commit: pin.Commit, State: "unfetched"}
				if pin.Overridden() {
					d.State = "overridden"
					d.Path = pin.Override
				} else if e := lockEntry(lf, pin.Name); e != nil {
					d.State = "locked"
					d.Path = e.Path
				} else if store != nil {
					if a, err := store.LatestArchive(ctx, pin.Name); err == nil && a != nil {
						d.State = string(a.Status)
						d.Path = a.InstallPath
					}
				}
				deps = append(deps, d)
			}

			if jsonOutput {
				return printJSON(deps)
			}
			for _, d := range deps {
				commit := d.Commit
				if len(commit) > 12 {
					commit = commit[:12]
				}
				fmt.Printf("%-20s %-12s %-10s %s\n", d.Name, commit, d.State, d.Path)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&lockPath, "lockfile", defaultLockfileName, "lockfile path")

	return cmd
}
