package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/emarzona/backend/internal/actions"
	"github.com/emarzona/backend/internal/models"
)

// NewQueueCommand creates the queue command group.
func NewQueueCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and modify the local action queue",
	}
	cmd.AddCommand(newQueueListCommand(rootOpts))
	cmd.AddCommand(newQueueStatsCommand(rootOpts))
	cmd.AddCommand(newQueueEnqueueCommand(rootOpts))
	cmd.AddCommand(newQueueCleanupCommand(rootOpts))
	return cmd
}

func newQueueListCommand(rootOpts *RootOptions) *cobra.Command {
	var status string
	var limit int

	cmd := &cobra.Command{
		Use:           "list",
		Short:         "List queued actions, oldest first",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := formatterFor(rootOpts, cmd)
			st := models.ActionStatus(status)
			if st != "" && !st.Valid() {
				return f.Fail(ExitCommandError, fmt.Sprintf("unknown status %q", status), nil)
			}

			q, conn, err := openQueue(rootOpts)
			if err != nil {
				return f.Fail(ExitCommandError, "open local queue", err)
			}
			defer conn.Close()

			list, err := q.List(cmd.Context(), st, limit)
			if err != nil {
				return f.Fail(ExitFailure, "list actions", err)
			}
			if list == nil {
				list = []*models.LocalAction{}
			}
			return f.Success(list, func(w io.Writer) { renderActions(w, list) })
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "filter by status (pending|failed|synced)")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of actions (0 for all)")
	return cmd
}

func renderActions(w io.Writer, list []*models.LocalAction) {
	if len(list) == 0 {
		fmt.Fprintln(w, "No actions queued")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTYPE\tSTATUS\tRETRIES\tCREATED\tLAST ERROR")
	for _, a := range list {
		lastErr := ""
		if a.LastError != nil {
			lastErr = *a.LastError
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n",
			a.ID, a.ActionType, a.Status, a.RetryCount,
			a.CreatedAtTime().UTC().Format(time.RFC3339), lastErr)
	}
	tw.Flush()
}

func newQueueStatsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "stats",
		Short:         "Show per-status action counts",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := formatterFor(rootOpts, cmd)
			q, conn, err := openQueue(rootOpts)
			if err != nil {
				return f.Fail(ExitCommandError, "open local queue", err)
			}
			defer conn.Close()

			stats, err := q.Stats(cmd.Context())
			if err != nil {
				return f.Fail(ExitFailure, "queue stats", err)
			}
			return f.Success(stats, func(w io.Writer) {
				fmt.Fprintf(w, "total=%d pending=%d failed=%d synced=%d\n",
					stats.Total, stats.Pending, stats.Failed, stats.Synced)
			})
		},
	}
}

func newQueueEnqueueCommand(rootOpts *RootOptions) *cobra.Command {
	var actionType, storeID, payload string

	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Queue an action for the next sync",
		Long: `Queue an action for the next sync.

Example:
  emarzona queue enqueue --type add_to_cart --payload '{"product_id":"p1","quantity":2}'`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := formatterFor(rootOpts, cmd)
			p, err := actions.DecodeAndValidate(models.ActionType(actionType), json.RawMessage(payload))
			if err != nil {
				return f.Fail(ExitCommandError, "invalid action", err)
			}

			q, conn, err := openQueue(rootOpts)
			if err != nil {
				return f.Fail(ExitCommandError, "open local queue", err)
			}
			defer conn.Close()

			action, err := q.Enqueue(cmd.Context(), storeID, p)
			if err != nil {
				return f.Fail(ExitFailure, "enqueue action", err)
			}
			f.VerboseLog("idempotency key %s", action.IdempotencyKey)
			return f.Success(action, func(w io.Writer) {
				fmt.Fprintf(w, "Queued %s (%s)\n", action.ID, action.ActionType)
			})
		},
	}

	cmd.Flags().StringVar(&actionType, "type", "", "action type (create_order|update_product|add_to_cart|create_store|create_user)")
	cmd.Flags().StringVar(&storeID, "store", "", "store the action belongs to")
	cmd.Flags().StringVar(&payload, "payload", "", "JSON payload")
	_ = cmd.MarkFlagRequired("type")
	_ = cmd.MarkFlagRequired("payload")
	return cmd
}

func newQueueCleanupCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "cleanup",
		Short:         "Apply the cleanup policy now",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := formatterFor(rootOpts, cmd)
			q, conn, err := openQueue(rootOpts)
			if err != nil {
				return f.Fail(ExitCommandError, "open local queue", err)
			}
			defer conn.Close()

			removed, err := q.CleanupFailedActions(cmd.Context())
			if err != nil {
				return f.Fail(ExitFailure, "cleanup", err)
			}
			return f.Success(map[string]int{"removed": removed}, func(w io.Writer) {
				fmt.Fprintf(w, "Removed %d action(s)\n", removed)
			})
		},
	}
}
