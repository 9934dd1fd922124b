package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/emarzona/backend/internal/models"
	syncpkg "github.com/emarzona/backend/internal/sync"
	"github.com/emarzona/backend/internal/sync/scheduler"
)

// SyncOptions holds flags for the sync command.
type SyncOptions struct {
	*RootOptions
	Server      string
	Token       string
	BatchSize   int
	Timeout     time.Duration
	RetryFailed bool
}

// NewSyncCommand creates the one-shot sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SyncOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Push pending actions to the sync endpoint once",
		Long: `Push one batch of pending actions to the sync endpoint and reconcile
the per-action results into the local queue.

Example:
  emarzona sync --server https://api.emarzona.example --token $EMARZONA_TOKEN
  emarzona sync --retry-failed`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(opts, cmd)
		},
	}

	def := scheduler.DefaultSchedulerConfig()
	cmd.Flags().StringVar(&opts.Server, "server", envOr("EMARZONA_SERVER_URL", "http://localhost:8080"), "sync endpoint base URL")
	cmd.Flags().StringVar(&opts.Token, "token", envOr("EMARZONA_TOKEN", ""), "bearer token")
	cmd.Flags().IntVar(&opts.BatchSize, "batch-size", def.BatchSize, "actions per batch")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", def.RequestTimeout, "request timeout")
	cmd.Flags().BoolVar(&opts.RetryFailed, "retry-failed", false, "move failed actions back to pending first")
	return cmd
}

func runSync(opts *SyncOptions, cmd *cobra.Command) error {
	f := formatterFor(opts.RootOptions, cmd)

	q, conn, err := openQueue(opts.RootOptions)
	if err != nil {
		return f.Fail(ExitCommandError, "open local queue", err)
	}
	defer conn.Close()

	transport := syncpkg.NewHTTPTransport(syncpkg.HTTPConfig{
		BaseURL: opts.Server,
		Tokens:  syncpkg.StaticToken(opts.Token),
		Timeout: opts.Timeout,
	})
	cfg := scheduler.DefaultSchedulerConfig()
	cfg.BatchSize = opts.BatchSize
	cfg.RequestTimeout = opts.Timeout
	s := scheduler.NewScheduler(q, transport, cfg)

	f.VerboseLog("syncing %s against %s", opts.DataDir, opts.Server)
	var result models.SyncResult
	if opts.RetryFailed {
		result = s.RetryFailed(cmd.Context())
	} else {
		result = s.SyncLocalQueue(cmd.Context())
	}

	if err := f.Success(result, func(w io.Writer) { renderSyncResult(w, result) }); err != nil {
		return err
	}
	if !result.Success {
		return NewExitError(ExitFailure, "sync did not complete cleanly")
	}
	return nil
}

func renderSyncResult(w io.Writer, r models.SyncResult) {
	switch {
	case r.Skipped == models.SkipEmpty:
		fmt.Fprintln(w, "Nothing to sync")
		return
	case r.Skipped != models.SkipNone:
		fmt.Fprintf(w, "Sync skipped: %s\n", r.Skipped)
		return
	case r.BatchError != "":
		fmt.Fprintf(w, "Sync failed: %s\n", r.BatchError)
		if r.AuthRequired {
			fmt.Fprintln(w, "The access token was rejected; pass a fresh one with --token")
		}
		return
	}
	fmt.Fprintf(w, "Synced %d, failed %d in %dms\n", r.Synced, r.Failed, r.DurationMillis())
	for _, e := range r.Errors {
		fmt.Fprintf(w, "  %s: %s\n", e.ActionID, e.Error)
	}
}
