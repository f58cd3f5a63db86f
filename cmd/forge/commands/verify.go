package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/arrayforge/arrayforge/pkg/fetch"
)

func newVerifyCommand() *cobra.Command {
	var (
		lockPath string
		watch    bool
	)

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify installed archives against the lockfile",
		Long: `Re-hash every archive recorded in the lockfile and compare it against
the pinned sha256. Missing installs and checksum mismatches fail the
command; local overrides are reported but never fail.

With --watch the verification re-runs whenever the lockfile or the store
change.`,
		Example: `  # One-shot verification
  forge verify

  # Keep verifying as the store changes
  forge verify --watch`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !watch {
				return runVerify(lockPath)
			}
			return watchVerify(cmd.Context(), lockPath)
		},
	}

	cmd.Flags().StringVar(&lockPath, "lockfile", defaultLockfileName, "lockfile path")
	cmd.Flags().BoolVar(&watch, "watch", false, "re-verify when the lockfile or store change")

	return cmd
}

// runVerify performs one verification pass.
func runVerify(lockPath string) error {
	lf, err := fetch.ReadLockfile(lockPath)
	if err != nil {
		return err
	}

	findings := fetch.Verify(lf)

	if jsonOutput {
		if err := printJSON(findings); err != nil {
			return err
		}
	} else {
		for _, f := range findings {
			marker := "✓"
			if f.Failed() {
				marker = "✗"
			}
			fmt.Printf("%s %-20s %s", marker, f.Name, f.Status)
			if f.Detail != "" {
				fmt.Printf(" (%s)", f.Detail)
			}
			fmt.Println()
		}
	}

	failed := 0
	for _, f := range findings {
		if f.Failed() {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("verification failed: %d archive(s) missing or tampered", failed)
	}
	return nil
}

// watchVerify re-runs verification on filesystem changes until the context
// is cancelled.
func watchVerify(ctx context.Context, lockPath string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory rather than the file: editors and atomic writes
	// replace the inode.
	if err := watcher.Add("."); err != nil {
		return err
	}
	if lf, err := fetch.ReadLockfile(lockPath); err == nil {
		for _, e := range lf.Archives {
			if e.Path != "" {
				_ = watcher.Add(e.Path)
			}
		}
	}

	if err := runVerify(lockPath); err != nil {
		log.Error().Err(err).Msg("Verification failed")
	}

	// Debounce bursts of events from a single fetch or editor save.
	var timer *time.Timer
	trigger := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(500*time.Millisecond, func() {
				select {
				case trigger <- struct{}{}:
				default:
				}
			})
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Msg("Watcher error")
		case <-trigger:
			log.Info().Msg("Change detected, re-verifying")
			if err := runVerify(lockPath); err != nil {
				log.Error().Err(err).Msg("Verification failed")
			}
		}
	}
}
