package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/arrayforge/arrayforge/pkg/config"
	"github.com/arrayforge/arrayforge/pkg/fetch"
	"github.com/arrayforge/arrayforge/pkg/stores"
	"github.com/arrayforge/arrayforge/pkg/workspace"
)

func newFetchCommand() *cobra.Command {
	var (
		only    []string
		force   bool
		retries int
	)

	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Fetch and verify pinned archives",
		Long: `Fetch the archives pinned in the workspace file, verify each download
against its pinned sha256, and extract it into the content store.

Every pin must pass the admission policies before anything is downloaded.
A checksum mismatch aborts the whole fetch: no unverified bytes ever reach
the store. On success the resolved state is written to the lockfile.`,
		Example: `  # Fetch everything in the workspace
  forge fetch

  # Fetch a single pin, re-downloading if already installed
  forge fetch --only runtime --force`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			proj, err := loadProject(ctx)
			if err != nil {
				return err
			}
			ws, err := loadWorkspace(ctx)
			if err != nil {
				return err
			}
			pins, err := selectPins(ws, only)
			if err != nil {
				return err
			}

			log.Info().
				Int("pins", len(pins)).
				Bool("force", force).
				Msg("Fetching pinned archives")

			if err := admitPins(cmd, proj, pins); err != nil {
				return err
			}

			// The run registry records what happened even when the fetch
			// fails partway.
			store, err := openRunStore(ctx, proj.Build.StoreDir)
			if err != nil {
				return err
			}
			defer store.Close()

			run := &stores.Run{
				ID:            uuid.New().String(),
				WorkspacePath: resolveWorkspacePath(),
				Status:        stores.RunStatusRunning,
				StartedAt:     time.Now(),
				Metadata:      runMetadata(only, force),
				CreatedAt:     time.Now(),
				UpdatedAt:     time.Now(),
			}
			if err := store.CreateRun(ctx, run); err != nil {
				return err
			}

			tracer, err := newTracer()
			if err != nil {
				return err
			}
			defer tracer.Shutdown(ctx)

			fetcher, err := fetch.NewFetcher(fetch.Options{
				StoreDir:    proj.Build.StoreDir,
				Parallelism: proj.Build.Parallelism,
				Retries:     retries,
				Force:       force,
				Tracer:      tracer,
			}, nil)
			if err != nil {
				return err
			}

			results, err := fetcher.FetchAll(ctx, ws, only)
			if err != nil {
				msg := err.Error()
				_ = store.UpdateRunStatus(ctx, run.ID, stores.RunStatusFailed, &msg)
				_ = store.AppendEvent(ctx, &stores.Event{
					RunID:   &run.ID,
					Level:   stores.EventLevelError,
					Message: "fetch failed: " + msg,
				})
				return err
			}

			for _, r := range results {
				recordResult(cmd, store, run.ID, r)
			}

			// Merge into the existing lockfile so a restricted fetch keeps
			// the resolved state of every other pin.
			lockPath := defaultLockfileName
			existing, err := fetch.ReadLockfile(lockPath)
			if err != nil && !errors.Is(err, os.ErrNotExist) {
				return err
			}
			if err := fetch.WriteLockfile(lockPath, fetch.MergeLockfile(existing, results)); err != nil {
				return err
			}
			if err := store.UpdateRunStatus(ctx, run.ID, stores.RunStatusCompleted, nil); err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(results)
			}
			for _, r := range results {
				fmt.Printf("✓ %-20s %s (%s)\n", r.Pin.Name, r.Path, resultStatus(r))
			}
			fmt.Printf("Wrote %s\n", lockPath)
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&only, "only", nil, "restrict the fetch to the named pins")
	cmd.Flags().BoolVar(&force, "force", false, "re-download pins that are already installed")
	cmd.Flags().IntVar(&retries, "retries", 3, "retry attempts per mirror for transient failures")

	return cmd
}

// admitPins evaluates the admission policies for every pin about to be
// fetched. Any error-severity violation aborts before network I/O.
func admitPins(cmd *cobra.Command, proj *config.Project, pins []*workspace.Pin) error {
	ctx := cmd.Context()

	engine, err := newPolicyEngine(ctx)
	if err != nil {
		return err
	}

	blocked := 0
	for _, pin := range pins {
		result, err := engine.EvaluatePin(ctx, pin, proj.Checks.AllowedHosts)
		if err != nil {
			return err
		}
		applySuppressions(&proj.Checks, result)
		for _, w := range result.Warnings {
			log.Warn().Str("archive", w.Archive).Str("policy", w.Policy).Msg(w.Message)
		}
		for _, v := range result.Violations {
			log.Error().Str("archive", v.Archive).Str("policy", v.Policy).Msg(v.Message)
		}
		if !result.Allowed {
			blocked++
		}
	}
	if blocked > 0 {
		return fmt.Errorf("%d pin(s) blocked by admission policy", blocked)
	}
	return nil
}

// openRunStore opens and migrates the run registry under the store dir.
func openRunStore(ctx context.Context, storeDir string) (*stores.SQLiteStore, error) {
	store, err := stores.NewSQLiteStore(stores.Config{
		Path: filepath.Join(storeDir, "forge.db"),
	})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

// recordResult writes one fetch result into the run registry. Registry
// failures are logged, not fatal: the fetch itself already succeeded.
func recordResult(cmd *cobra.Command, store *stores.SQLiteStore, runID string, r *fetch.Result) {
	ctx := cmd.Context()

	status := stores.ArchiveStatusDownloaded
	switch {
	case r.Overridden:
		status = stores.ArchiveStatusOverridden
	case r.Skipped:
		status = stores.ArchiveStatusCached
	}

	err := store.RecordArchive(ctx, &stores.Archive{
		ID:          uuid.New().String(),
		RunID:       runID,
		Name:        r.Pin.Name,
		Commit:      r.Pin.Commit,
		SHA256:      r.SHA256,
		URL:         r.URL,
		InstallPath: r.Path,
		Status:      status,
		SizeBytes:   r.SizeBytes,
		DurationMS:  r.Duration.Milliseconds(),
		CreatedAt:   time.Now(),
	})
	if err != nil {
		log.Warn().Err(err).Str("archive", r.Pin.Name).Msg("Failed to record archive")
		return
	}

	_ = store.AppendEvent(ctx, &stores.Event{
		RunID:   &runID,
		Archive: &r.Pin.Name,
		Level:   stores.EventLevelInfo,
		Message: fmt.Sprintf("archive %s: %s", r.Pin.Name, status),
	})
}

func runMetadata(only []string, force bool) string {
	buf, err := json.Marshal(map[string]interface{}{"only": only, "force": force})
	if err != nil {
		return "{}"
	}
	return string(buf)
}

func resultStatus(r *fetch.Result) string {
	switch {
	case r.Overridden:
		return "overridden"
	case r.Skipped:
		return "cached"
	default:
		return "downloaded"
	}
}
