// ============================================================================
// beaver-map Controller - run orchestrator
// ============================================================================
//
// Package: internal/controller
// File: controller.go
// Function: wire every component of a mapping run together and drive it
// from output initialization to the end-of-run summary
//
// Run sequence:
//   1. sink.Open        - create/truncate the output once, fail fast
//   2. BuildIndex       - read the reference, build the minimizer index
//                         (skipped when an engine is injected)
//   3. input.Open       - open the query source
//   4. worker.Pool.Run  - one processor clone per worker, batches of records
//   5. progress.Finish  - final message from the global count, display done
//   6. stats.Writer     - emit the runtime summary
//
// Timestamps:
//   start  - controller start, or the value passed with WithStartTime
//   ready  - engine available; the live throughput is measured from here
//   end    - last batch flushed
//
// Failure:
//   The first fatal error (decode, align, io) stops the pool and is
//   returned as is. Output already flushed stays in place; no summary is
//   written for a failed run.
//
// ============================================================================

package controller

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/ChuLiYu/beaver-map/internal/aligner"
	"github.com/ChuLiYu/beaver-map/internal/config"
	"github.com/ChuLiYu/beaver-map/internal/input"
	"github.com/ChuLiYu/beaver-map/internal/logger"
	"github.com/ChuLiYu/beaver-map/internal/metrics"
	"github.com/ChuLiYu/beaver-map/internal/processor"
	"github.com/ChuLiYu/beaver-map/internal/progress"
	"github.com/ChuLiYu/beaver-map/internal/sink"
	"github.com/ChuLiYu/beaver-map/internal/stats"
	"github.com/ChuLiYu/beaver-map/internal/worker"
)

// shutdownTimeout bounds the metrics server shutdown.
const shutdownTimeout = 2 * time.Second

// ============================================================================
// Data structures
// ============================================================================

// Controller runs one mapping job.
type Controller struct {
	cfg      config.Config
	engine   aligner.Engine // nil until built or injected
	logger   *zap.Logger
	stderr   io.Writer
	registry *prometheus.Registry
	display  progress.Display // nil: chosen from Run.Progress
	start    time.Time
	runID    string
}

// Option configures a Controller.
type Option func(*Controller)

// WithEngine injects an engine; the reference is then not read.
func WithEngine(e aligner.Engine) Option {
	return func(c *Controller) { c.engine = e }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// WithStderr sets the diagnostic stream used by the spinner and by the
// summary when no log path is configured.
func WithStderr(w io.Writer) Option {
	return func(c *Controller) { c.stderr = w }
}

// WithRegistry sets the Prometheus registry the run's metrics live in.
func WithRegistry(r *prometheus.Registry) Option {
	return func(c *Controller) { c.registry = r }
}

// WithDisplay replaces the progress display chosen from the configuration.
func WithDisplay(d progress.Display) Option {
	return func(c *Controller) { c.display = d }
}

// WithStartTime sets the reference time of elapsed_total_sec, usually the
// process start.
func WithStartTime(t time.Time) Option {
	return func(c *Controller) { c.start = t }
}

// New returns a controller for cfg.
func New(cfg config.Config, opts ...Option) *Controller {
	c := &Controller{
		cfg:    cfg,
		logger: zap.NewNop(),
		stderr: os.Stderr,
		start:  time.Now(),
		runID:  uuid.NewString(),
	}
	for _, o := range opts {
		o(c)
	}
	if c.registry == nil {
		c.registry = prometheus.NewRegistry()
	}
	c.logger = logger.WithRunID(c.logger, c.runID)
	return c
}

// RunID returns the id attached to every log line of this run.
func (c *Controller) RunID() string { return c.runID }

// ============================================================================
// Run
// ============================================================================

// Run executes the job and returns its summary.
func (c *Controller) Run(ctx context.Context) (stats.Runtime, error) {
	threads := c.cfg.EffectiveThreads()
	log := c.logger

	out, err := sink.Open(c.cfg.Output.Path, sink.Options{LockFile: c.cfg.Output.LockFile})
	if err != nil {
		return stats.Runtime{}, err
	}
	defer out.Close()

	collector := metrics.NewCollector(c.registry)
	if c.cfg.Metrics.Enabled {
		stop := c.serveMetrics()
		defer stop()
	}

	if c.engine == nil {
		if err := c.buildEngine(ctx, threads); err != nil {
			collector.RecordFailure(metrics.KindOf(err))
			return stats.Runtime{}, err
		}
	}
	ready := time.Now()

	format, err := input.ParseFormat(c.cfg.IO.Format)
	if err != nil {
		return stats.Runtime{}, err
	}
	src, err := input.Open(c.cfg.IO.Query, format)
	if err != nil {
		return stats.Runtime{}, fmt.Errorf("open query: %w", err)
	}
	defer src.Close()

	display := c.display
	switch {
	case display != nil:
	case c.cfg.Run.Progress:
		display = progress.NewSpinner(c.stderr, c.cfg.Run.ProgressRefresh)
	default:
		display = progress.NewSilent()
	}

	counter := &stats.Counter{}
	base := processor.New(&processor.Shared{
		Engine:   c.engine,
		Options:  c.cfg.MapOptions(),
		Sink:     out,
		Counter:  counter,
		Progress: display,
		Metrics:  collector,
		Logger:   log,
		Start:    ready,
	})

	pool, err := worker.NewPool(threads, c.cfg.Run.BatchSize, worker.WithLogger(log))
	if err != nil {
		return stats.Runtime{}, err
	}

	log.Info("mapping started",
		zap.String("query", c.cfg.IO.Query),
		zap.String("output", out.Path()),
		zap.Int("threads", threads),
		zap.Int("batch_size", c.cfg.Run.BatchSize),
		zap.Bool("cigar", c.cfg.Output.Cigar))

	err = pool.Run(ctx, src, func() worker.Processor { return base.Clone() })
	display.Finish(time.Since(ready), counter.Load())
	if err != nil {
		log.Error("mapping failed",
			zap.Error(err),
			zap.String("kind", metrics.KindOf(err)),
			zap.Uint64("records_flushed", counter.Load()))
		return stats.Runtime{}, err
	}

	end := time.Now()
	rt := stats.NewRuntime(c.start, ready, end, counter.Load())
	batches, _ := pool.Dispatched()
	log.Info("mapping finished",
		zap.String("records", humanize.Comma(int64(rt.TotalRecords))),
		zap.String("batches", humanize.Comma(int64(batches))),
		zap.String("output_bytes", humanize.Bytes(out.Written())),
		zap.String("throughput", fmt.Sprintf("%s reads/s", humanize.CommafWithDigits(rt.ThroughputRecordsPerSec, 2))),
		zap.Duration("elapsed", end.Sub(c.start)))

	summary := stats.NewWriter(c.cfg.Output.LogPath, c.stderr)
	if err := summary.Write(rt); err != nil {
		return rt, err
	}
	if summary.Path() != "" {
		log.Info("summary written", zap.String("path", summary.Path()))
	}
	return rt, nil
}

// buildEngine reads the reference and builds the built-in engine.
func (c *Controller) buildEngine(ctx context.Context, threads int) error {
	opts, err := c.cfg.AlignerOptions()
	if err != nil {
		return err
	}

	began := time.Now()
	c.logger.Info("building index",
		zap.String("reference", c.cfg.IO.Reference),
		zap.String("preset", c.cfg.Index.Preset),
		zap.Int("k", opts.Index.K),
		zap.Int("w", opts.Index.W))

	idx, err := aligner.BuildIndex(ctx, c.cfg.IO.Reference, opts.Index, threads)
	if err != nil {
		return fmt.Errorf("build index: %w", err)
	}

	st := idx.Stats()
	c.logger.Info("index ready",
		zap.Int("targets", st.Targets),
		zap.String("bases", humanize.Comma(int64(st.Bases))),
		zap.String("minimizers", humanize.Comma(int64(st.Seeds))),
		zap.Int("max_occ", st.MaxOcc),
		zap.Duration("elapsed", time.Since(began)))

	c.engine = aligner.New(idx, opts.Chain, opts.Score)
	return nil
}

// serveMetrics starts the /metrics endpoint and returns its stop function.
func (c *Controller) serveMetrics() func() {
	srv := metrics.NewServer(c.cfg.Metrics.Addr, c.registry)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			c.logger.Warn("metrics server stopped", zap.Error(err))
		}
	}()
	c.logger.Info("metrics endpoint listening", zap.String("addr", c.cfg.Metrics.Addr))

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
