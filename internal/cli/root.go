// Package cli implements the emarzona command line tool for inspecting and
// driving the local action queue.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/emarzona/backend/internal/db"
	"github.com/emarzona/backend/internal/sync/queue"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	DataDir string
	Format  string // "json" | "text"
	Verbose bool
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the emarzona CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "emarzona",
		Short: "Inspect and sync the Emarzona offline action queue",
		Long: `emarzona works on the agent's local action queue: list and enqueue
actions, apply the cleanup policy, push pending actions to the sync endpoint
and mint development bearer tokens.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.DataDir, "data-dir", envOr("EMARZONA_DATA_DIR", "./data"), "agent data directory")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")

	cmd.AddCommand(NewQueueCommand(opts))
	cmd.AddCommand(NewSyncCommand(opts))
	cmd.AddCommand(NewTokenCommand(opts))

	return cmd
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// openQueue opens the local queue in opts.DataDir. The caller closes the
// returned database.
func openQueue(opts *RootOptions) (*queue.LocalQueue, *db.DB, error) {
	return queue.Open(opts.DataDir, nil)
}

func formatterFor(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}
