package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/flowlineage/internal/store"
)

// ParkedOptions holds flags for the parked command.
type ParkedOptions struct {
	*RootOptions
	Database  string
	Status    string
	OlderThan time.Duration
}

// ParkedRow is one holding-area row in command output.
type ParkedRow struct {
	EventID    int64     `json:"event_id"`
	FlowUnitID string    `json:"flow_unit_id"`
	EventType  string    `json:"event_type"`
	Status     string    `json:"status"`
	Reason     string    `json:"reason,omitempty"`
	Attempts   int       `json:"attempts"`
	ParkedAt   time.Time `json:"parked_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// ParkedResult is the parked command's output.
type ParkedResult struct {
	Events []ParkedRow    `json:"events"`
	Counts map[string]int `json:"counts"`
	Purged int64          `json:"purged,omitempty"`
}

// NewParkedCommand creates the parked command.
func NewParkedCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ParkedOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "parked",
		Short: "Inspect the holding store",
		Long: `List events recorded in a holding store database.

Events are parked when their job root has not been seen yet. Rows move to
resolved once the event links, or to abandoned when it expires, exceeds
its retry budget or is still waiting at shutdown.

With --purge-older-than, resolved and abandoned rows last updated before
the cutoff are deleted before listing. Waiting rows are never purged.

Example:
  flowlineage parked --db holding.db
  flowlineage parked --db holding.db --purge-older-than 168h
  flowlineage parked --db holding.db --status abandoned --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runParked(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to holding store database (required)")
	cmd.Flags().StringVar(&opts.Status, "status", "", "only rows with this status (parked|resolved|abandoned)")
	cmd.Flags().DurationVar(&opts.OlderThan, "purge-older-than", 0, "delete settled rows not updated within this duration")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runParked(opts *ParkedOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	status, err := store.ParseStatus(opts.Status)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeGeneric, "invalid status", err, nil)
	}

	// Opening a missing path would create an empty database.
	if _, err := os.Stat(opts.Database); err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeNotFound, "holding store not found", err, nil)
	}

	st, err := store.Open(opts.Database)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeStoreFailed, "failed to open holding store", err, nil)
	}
	defer st.Close()

	ctx := cmd.Context()
	var purged int64
	if opts.OlderThan > 0 {
		purged, err = st.Purge(ctx, time.Now().Add(-opts.OlderThan))
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeStoreFailed, "failed to purge settled events", err, nil)
		}
		formatter.VerboseLog("Purged %d settled row(s)", purged)
	}

	rows, err := st.List(ctx, status)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeStoreFailed, "failed to list parked events", err, nil)
	}
	counts, err := st.Counts(ctx)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeStoreFailed, "failed to count parked events", err, nil)
	}
	formatter.VerboseLog("Read %d row(s) from %s", len(rows), opts.Database)

	result := ParkedResult{
		Events: make([]ParkedRow, 0, len(rows)),
		Counts: make(map[string]int, len(counts)),
		Purged: purged,
	}
	for s, n := range counts {
		result.Counts[string(s)] = n
	}
	for _, p := range rows {
		result.Events = append(result.Events, ParkedRow{
			EventID:    p.Event.EventID,
			FlowUnitID: p.Event.FlowUnitID,
			EventType:  string(p.Event.Type),
			Status:     string(p.Status),
			Reason:     p.Reason,
			Attempts:   p.Attempts,
			ParkedAt:   p.ParkedAt,
			UpdatedAt:  p.UpdatedAt,
		})
	}

	if opts.Format == "json" {
		return formatter.Success(result)
	}
	return outputParkedText(formatter, result)
}

func outputParkedText(f *OutputFormatter, result ParkedResult) error {
	w := f.Writer
	if len(result.Events) == 0 {
		fmt.Fprintln(w, "No parked events.")
	}
	for _, r := range result.Events {
		fmt.Fprintf(w, "%-9s  event=%d unit=%s type=%s attempts=%d parked=%s",
			r.Status, r.EventID, r.FlowUnitID, r.EventType, r.Attempts, r.ParkedAt.Format(time.RFC3339))
		if r.Reason != "" {
			fmt.Fprintf(w, " reason=%q", r.Reason)
		}
		fmt.Fprintln(w)
	}
	fmt.Fprintf(w, "\n%d parked, %d resolved, %d abandoned\n",
		result.Counts[string(store.StatusParked)],
		result.Counts[string(store.StatusResolved)],
		result.Counts[string(store.StatusAbandoned)])
	if result.Purged > 0 {
		fmt.Fprintf(w, "%d settled row(s) purged\n", result.Purged)
	}
	return nil
}
