package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/flowlineage/internal/config"
	"github.com/roach88/flowlineage/internal/dispatch"
	"github.com/roach88/flowlineage/internal/event"
	"github.com/roach88/flowlineage/internal/feeds"
	"github.com/roach88/flowlineage/internal/lineage"
	"github.com/roach88/flowlineage/internal/pipeline"
	"github.com/roach88/flowlineage/internal/store"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	ConfigPath string
	Input      string
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Link, batch, classify and dispatch a stream of events",
		Long: `Read JSON Lines provenance events and run them through the pipeline.

Each event is linked into its job's lineage graph, held for the configured
process delay, classified as stream or batch with the rest of its cohort and
dispatched (JSON Lines on stdout, or NATS). Events whose job root is not yet
known are parked and retried as their ancestors arrive.

The command stops at end of input or on SIGINT/SIGTERM. Everything still
buffered is dispatched before exit.

Example:
  flowlineage run --input events.jsonl
  tail -f events.jsonl | flowlineage run --config flowlineage.yaml --input -`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to YAML config (defaults plus FLOWLINEAGE_* env when empty)")
	cmd.Flags().StringVarP(&opts.Input, "input", "i", "-", `events file, or "-" for stdin`)

	return cmd
}

func runPipeline(opts *RunOptions, cmd *cobra.Command) error {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return WrapExitError(ExitFailure, "invalid config", err)
	}

	lookup, err := loadLookup(cfg.Feeds.Path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load feed map", err)
	}

	input, closeInput, err := openInput(opts.Input, cmd.InOrStdin())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open input", err)
	}
	defer closeInput()

	dispatcher, closeDispatcher, err := newDispatcher(cfg, cmd.OutOrStdout())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to create dispatcher", err)
	}
	defer closeDispatcher()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	popts := []pipeline.Option{pipeline.WithMetrics(pipeline.NewMetrics(reg))}

	if cfg.Holding.Database != "" {
		slog.Info("opening holding store", "path", cfg.Holding.Database)
		st, err := store.Open(cfg.Holding.Database)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open holding store", err)
		}
		defer st.Close()
		popts = append(popts, pipeline.WithStore(st))
	}

	p := pipeline.New(cfg.PipelineConfig(), lookup, dispatcher, popts...)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return p.Run(gctx) })
	g.Go(func() error { return p.RunSweeper(gctx, sweepInterval(cfg.Holding.TTL)) })
	if cfg.Metrics.Addr != "" {
		serveMetrics(gctx, g, cfg.Metrics.Addr, reg)
	}

	// The reader is not part of the group: a blocked stdin read must not
	// hold up shutdown after a signal.
	readErr := make(chan error, 1)
	go func() {
		err := readEvents(gctx, p, input)
		readErr <- err
		if cerr := p.Close(context.WithoutCancel(gctx)); cerr != nil {
			slog.Error("final flush failed", "error", cerr)
		}
		cancel()
	}()

	runErr := g.Wait()
	if err := p.Close(context.WithoutCancel(ctx)); err != nil {
		slog.Error("final flush failed", "error", err)
	}

	stats := p.Metrics().Snapshot()
	slog.Info("pipeline finished",
		"submitted", stats.Submitted,
		"linked", stats.Linked,
		"parked", stats.Parked,
		"resolved", stats.Resolved,
		"abandoned", stats.Abandoned,
		"cohorts", stats.Cohorts,
		"stream", stats.Stream,
		"batch", stats.Batch,
		"dispatch_failures", stats.DispatchFailures,
	)

	// Cancellation and deadlines are normal ways to stop.
	if runErr != nil && !errors.Is(runErr, context.Canceled) && !errors.Is(runErr, context.DeadlineExceeded) {
		return WrapExitError(ExitFailure, "pipeline error", runErr)
	}
	select {
	case err := <-readErr:
		if err != nil {
			return WrapExitError(ExitFailure, "failed to read events", err)
		}
	default:
	}
	return nil
}

// readEvents submits every decodable event in r. Malformed lines are
// logged and skipped. Returns nil at end of input or once the pipeline
// stops accepting events.
func readEvents(ctx context.Context, p *pipeline.Pipeline, r io.Reader) error {
	dec := event.NewDecoder(r)
	skipped := 0
	for {
		if ctx.Err() != nil {
			return nil
		}
		ev, err := dec.Next()
		if err == io.EOF {
			slog.Debug("end of input", "skipped", skipped)
			return nil
		}
		if errors.Is(err, event.ErrMalformed) {
			skipped++
			slog.Warn("skipping malformed event", "error", err)
			continue
		}
		if err != nil {
			return err
		}

		if err := p.Submit(ctx, ev); err != nil {
			if errors.Is(err, pipeline.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

// loadLookup returns the feed lookup for path. An empty path means no
// feed metadata.
func loadLookup(path string) (lineage.FeedLookup, error) {
	if path == "" {
		return lineage.NopLookup{}, nil
	}
	static, err := feeds.LoadFile(path)
	if err != nil {
		return nil, err
	}
	slog.Info("feed map loaded", "path", path, "feeds", static.Len())
	return feeds.NewCaching(static), nil
}

// openInput opens path, with "-" (or empty) meaning stdin.
func openInput(path string, stdin io.Reader) (io.Reader, func(), error) {
	if path == "" || path == "-" {
		return stdin, func() {}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { _ = f.Close() }, nil
}

func newDispatcher(cfg *config.Config, stdout io.Writer) (dispatch.Dispatcher, func(), error) {
	switch cfg.Dispatch.Kind {
	case config.DispatchNATS:
		n, err := dispatch.ConnectNATS(cfg.Dispatch.NATSURL, cfg.Dispatch.Subject, "flowlineage")
		if err != nil {
			return nil, nil, err
		}
		slog.Info("dispatching to nats", "url", cfg.Dispatch.NATSURL, "subject", n.Subject())
		return n, func() {
			if err := n.Close(); err != nil {
				slog.Warn("nats close failed", "error", err)
			}
		}, nil
	case config.DispatchWriter, "":
		return dispatch.NewWriter(stdout), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown dispatch kind %q", cfg.Dispatch.Kind)
	}
}

// serveMetrics runs the /metrics endpoint in g until ctx is done.
func serveMetrics(ctx context.Context, g *errgroup.Group, addr string, reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g.Go(func() error {
		slog.Info("serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

// sweepInterval checks for expired parked events a few times per TTL.
func sweepInterval(ttl time.Duration) time.Duration {
	if d := ttl / 4; d > time.Second {
		return d
	}
	return time.Second
}
