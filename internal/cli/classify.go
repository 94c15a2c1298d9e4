package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/flowlineage/internal/classify"
	"github.com/roach88/flowlineage/internal/config"
	"github.com/roach88/flowlineage/internal/event"
	"github.com/roach88/flowlineage/internal/lineage"
)

// ClassifyOptions holds flags for the classify command.
type ClassifyOptions struct {
	*RootOptions
	ConfigPath string
	Input      string
	Link       bool
}

// GroupSummary describes one classified partition.
type GroupSummary struct {
	Feed        string         `json:"feed"`
	ComponentID string         `json:"component_id"`
	Label       classify.Label `json:"label"`
	Events      int            `json:"events"`
	EventIDs    []int64        `json:"event_ids"`
}

// ClassifyResult is the classify command's output.
type ClassifyResult struct {
	Groups  []GroupSummary         `json:"groups"`
	Counts  map[classify.Label]int `json:"counts"`
	Skipped int                    `json:"skipped"`
}

// NewClassifyCommand creates the classify command.
func NewClassifyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ClassifyOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "classify",
		Short: "Classify a cohort of events offline",
		Long: `Classify every event in the input as a single cohort, with no delay.

Events are partitioned by feed and component in first-seen order and each
partition is labeled stream or batch using the configured thresholds. With
--link, events are first linked through a fresh lineage graph so feed
names come from the configured feed map.

Example:
  flowlineage classify --input cohort.jsonl
  flowlineage classify --input cohort.jsonl --link --config flowlineage.yaml --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClassify(opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to YAML config")
	cmd.Flags().StringVarP(&opts.Input, "input", "i", "", `events file, or "-" for stdin (required)`)
	cmd.Flags().BoolVar(&opts.Link, "link", false, "link events before classifying")
	_ = cmd.MarkFlagRequired("input")

	return cmd
}

func runClassify(opts *ClassifyOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return formatter.Fail(ExitFailure, ErrCodeInvalidConfig, "invalid config", err, validationDetails(err))
	}

	input, closeInput, err := openInput(opts.Input, cmd.InOrStdin())
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeNotFound, "failed to open input", err, nil)
	}
	defer closeInput()

	events, skipped, err := decodeAll(input, formatter)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeReadFailed, "failed to read events", err, nil)
	}
	formatter.VerboseLog("Read %d event(s), skipped %d", len(events), skipped)

	if opts.Link {
		lookup, err := loadLookup(cfg.Feeds.Path)
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeFeedMap, "failed to load feed map", err, nil)
		}
		linkAll(cmd.Context(), lineage.NewBuilder(lineage.NewRegistry(), lookup), events, formatter)
	}

	classifier := classify.New(classify.Config{
		MaxTimeBetweenEvents:   cfg.Stream.MaxTimeBetweenEvents,
		EventsToConsiderStream: cfg.Stream.EventsToConsiderStream,
	})
	groups := classifier.Classify(events)

	result := ClassifyResult{
		Groups:  make([]GroupSummary, 0, len(groups)),
		Counts:  classify.Counts(groups),
		Skipped: skipped,
	}
	for _, g := range groups {
		ids := make([]int64, len(g.Events))
		for i, ev := range g.Events {
			ids[i] = ev.EventID
		}
		result.Groups = append(result.Groups, GroupSummary{
			Feed:        g.Feed,
			ComponentID: g.ComponentID,
			Label:       g.Label,
			Events:      len(g.Events),
			EventIDs:    ids,
		})
	}

	if opts.Format == "json" {
		return formatter.Success(result)
	}
	return outputClassifyText(formatter, result)
}

// decodeAll reads every event, skipping malformed lines.
func decodeAll(r io.Reader, formatter *OutputFormatter) ([]*event.Event, int, error) {
	dec := event.NewDecoder(r)
	var events []*event.Event
	skipped := 0
	for {
		ev, err := dec.Next()
		if err == io.EOF {
			return events, skipped, nil
		}
		if errors.Is(err, event.ErrMalformed) {
			skipped++
			formatter.VerboseLog("Skipping: %v", err)
			continue
		}
		if err != nil {
			return events, skipped, err
		}
		events = append(events, ev)
	}
}

// linkAll links events in input order. Events whose root cannot be
// resolved keep their source fields and are still classified.
func linkAll(ctx context.Context, b *lineage.Builder, events []*event.Event, formatter *OutputFormatter) {
	for _, ev := range events {
		if _, err := b.Link(ctx, ev); err != nil {
			formatter.VerboseLog("Link %s: %v", ev, err)
		}
	}
}

func outputClassifyText(f *OutputFormatter, result ClassifyResult) error {
	w := f.Writer
	if len(result.Groups) == 0 {
		fmt.Fprintln(w, "No events.")
		return nil
	}
	for _, g := range result.Groups {
		feed := g.Feed
		if feed == "" {
			feed = "-"
		}
		fmt.Fprintf(w, "%-6s  feed=%s component=%s events=%d\n", g.Label, feed, g.ComponentID, g.Events)
	}
	fmt.Fprintf(w, "\n%d stream, %d batch", result.Counts[classify.LabelStream], result.Counts[classify.LabelBatch])
	if result.Skipped > 0 {
		fmt.Fprintf(w, ", %d malformed line(s) skipped", result.Skipped)
	}
	fmt.Fprintln(w)
	return nil
}
