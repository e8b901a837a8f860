// ============================================================================
// beaver-map CLI - Command Line Interface
// ============================================================================
//
// Package: internal/cli
// File: cli.go
// Purpose: cobra command tree of the beaver-map binary
//
// Command Structure:
//   beaver-map                         # Root command
//   ├── map <index.fa> <query>         # Map reads, PAF to stdout or -o
//   ├── convert <in> <out.bq>          # Re-encode FASTA/FASTQ as bq
//   ├── --config, -c                   # YAML config file
//   ├── --log-level, --log-format      # zap logger settings
//   └── --version
//
// Configuration Management:
//   Every map flag is bound to a viper key. Precedence, lowest first:
//   built-in defaults, the config file, BEAVER_MAP_<SECTION>_<KEY>
//   environment variables, flags given on the command line.
//
//   Examples:
//     beaver-map map ref.fa reads.fq > out.paf
//     beaver-map map -x map-ont -T 8 --cigar -o out.paf ref.fa reads.fq.gz
//     BEAVER_MAP_RUN_BATCH_SIZE=4096 beaver-map map -c run.yaml ref.fa reads.bq
//
// Signal Handling:
//   SIGINT and SIGTERM cancel the run context; the pool stops dispatching
//   and the command returns the cancellation error.
//   SIGPIPE is ignored so that a closed stdout (| head) surfaces as EPIPE,
//   which ends the run quietly.
//
// ============================================================================

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/ChuLiYu/beaver-map/internal/aligner"
	"github.com/ChuLiYu/beaver-map/internal/config"
	"github.com/ChuLiYu/beaver-map/internal/controller"
	"github.com/ChuLiYu/beaver-map/internal/input"
	"github.com/ChuLiYu/beaver-map/internal/logger"
)

// Version is stamped at build time with -ldflags "-X".
var Version = "0.1.0"

// flagKeys binds command-line flags to configuration keys.
var flagKeys = map[string]string{
	"log-level":  "log.level",
	"log-format": "log.format",

	"output":     "output.path",
	"log-path":   "output.log_path",
	"cigar":      "output.cigar",
	"lock-file":  "output.lock_file",
	"format":     "io.format",
	"threads":    "run.threads",
	"batch-size": "run.batch_size",

	"preset":      "index.preset",
	"kmer-size":   "index.kmer_size",
	"window-size": "index.window_size",
	"mask-level":  "index.mask_level",

	"max-gap":         "mapping.max_gap",
	"bandwidth":       "mapping.bandwidth",
	"min-cnt":         "mapping.min_cnt",
	"min-chain-score": "mapping.min_chain_score",
	"pri-ratio":       "mapping.pri_ratio",
	"best-n":          "mapping.best_n",
	"match":           "mapping.match",
	"mismatch":        "mapping.mismatch",
	"gap-open":        "mapping.gap_open",
	"gap-ext":         "mapping.gap_ext",
	"no-secondary":    "mapping.no_secondary",
	"approx":          "mapping.approx",

	"metrics":      "metrics.enabled",
	"metrics-addr": "metrics.addr",
}

// app carries what the commands share.
type app struct {
	configFile string
	stdout     io.Writer
	stderr     io.Writer
	start      time.Time
}

// BuildCLI returns the root command wired to the process streams.
func BuildCLI() *cobra.Command {
	return NewRootCommand(os.Stdout, os.Stderr)
}

// NewRootCommand returns the root command writing to the given streams.
func NewRootCommand(stdout, stderr io.Writer) *cobra.Command {
	a := &app{stdout: stdout, stderr: stderr, start: time.Now()}

	rootCmd := &cobra.Command{
		Use:   "beaver-map",
		Short: "beaver-map: parallel read mapping to PAF",
		Long: `beaver-map maps sequencing reads against a reference with a
minimizer index and writes PAF records:
- FASTA, FASTQ and packed bq input, gzip or zstd compressed
- multi-threaded batches with non-interleaved output
- runtime summary as JSON or YAML`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&a.configFile, "config", "c", "", "config file path (YAML)")
	pf.String("log-level", "info", "log level: debug, info, warn, error")
	pf.String("log-format", "console", "log format: console or json")

	rootCmd.AddCommand(buildMapCommand(a))
	rootCmd.AddCommand(buildConvertCommand(a))
	return rootCmd
}

// ============================================================================
// map
// ============================================================================

func buildMapCommand(a *app) *cobra.Command {
	var showOptions, noProgress bool

	cmd := &cobra.Command{
		Use:   "map <index.fa> <query>",
		Short: "Map query reads against a reference and write PAF",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runMap(cmd, args, showOptions, noProgress)
		},
	}

	d := config.Default()
	f := cmd.Flags()
	f.StringP("output", "o", "", "output path (default stdout)")
	f.IntP("threads", "T", d.Run.Threads, "worker threads, 0 = all CPUs")
	f.StringP("log-path", "L", "", "runtime statistics destination (default stderr)")
	f.Bool("cigar", false, "emit cg:Z: CIGAR column")
	f.Bool("lock-file", false, "take an advisory lock on <output>.lock around every append")
	f.BoolVar(&showOptions, "show-options", false, "print resolved options to stderr")
	f.String("format", d.IO.Format, "query format: auto, fasta, fastq, bq")
	f.Int("batch-size", d.Run.BatchSize, "records per batch")
	f.BoolVar(&noProgress, "no-progress", false, "disable the progress spinner")

	f.StringP("preset", "x", d.Index.Preset, "preset: "+fmt.Sprint(aligner.PresetNames()))
	f.IntP("kmer-size", "k", 0, "k-mer size, 0 = preset value")
	f.IntP("window-size", "w", 0, "minimizer window, 0 = preset value")
	f.Float64P("mask-level", "f", d.Index.MaskLevel, "fraction of most repetitive minimizers to ignore")

	f.IntP("max-gap", "g", 0, "max gap inside a chain, 0 = preset value")
	f.IntP("bandwidth", "r", 0, "chaining bandwidth, 0 = preset value")
	f.IntP("min-cnt", "n", 0, "min minimizers per chain, 0 = preset value")
	f.IntP("min-chain-score", "m", 0, "min chain score, 0 = preset value")
	f.Float64P("pri-ratio", "p", 0, "min secondary to primary score ratio, 0 = preset value")
	f.IntP("best-n", "N", 0, "max secondary alignments, 0 = preset value")
	f.IntP("match", "A", 0, "match score, 0 = preset value")
	f.IntP("mismatch", "B", 0, "mismatch penalty, 0 = preset value")
	f.IntP("gap-open", "O", 0, "gap open penalty, 0 = preset value")
	f.IntP("gap-ext", "E", 0, "gap extension penalty, 0 = preset value")
	f.Bool("no-secondary", false, "drop secondary alignments")
	f.Bool("approx", false, "skip base-level alignment even with --cigar")

	f.Bool("metrics", false, "serve Prometheus metrics while mapping")
	f.String("metrics-addr", d.Metrics.Addr, "metrics listen address")

	return cmd
}

func (a *app) runMap(cmd *cobra.Command, args []string, showOptions, noProgress bool) error {
	v, err := a.viper(cmd.Flags())
	if err != nil {
		return err
	}
	v.Set("io.reference", args[0])
	v.Set("io.query", args[1])
	if noProgress {
		v.Set("run.progress", false)
	}

	cfg, err := config.Load(v)
	if err != nil {
		return err
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck

	if showOptions {
		out, err := cfg.YAML()
		if err != nil {
			return err
		}
		if _, err := a.stderr.Write(out); err != nil {
			return err
		}
	}

	if cfg.Output.Path == "" || cfg.Output.Path == "-" {
		signal.Ignore(syscall.SIGPIPE)
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	ctrl := controller.New(cfg,
		controller.WithLogger(log),
		controller.WithStderr(a.stderr),
		controller.WithRegistry(reg),
		controller.WithStartTime(a.start),
	)
	_, err = ctrl.Run(ctx)
	if isBrokenPipe(err) {
		log.Info("output closed by reader, stopping")
		return nil
	}
	return err
}

// viper layers defaults, the config file, the environment and the
// command-line flags.
func (a *app) viper(fs *pflag.FlagSet) (*viper.Viper, error) {
	v, err := config.NewViper(a.configFile)
	if err != nil {
		return nil, err
	}
	for name, key := range flagKeys {
		fl := fs.Lookup(name)
		if fl == nil {
			continue
		}
		if err := v.BindPFlag(key, fl); err != nil {
			return nil, fmt.Errorf("bind flag %s: %w", name, err)
		}
	}
	return v, nil
}

func isBrokenPipe(err error) bool {
	return err != nil && errors.Is(err, syscall.EPIPE)
}

// ============================================================================
// convert
// ============================================================================

func buildConvertCommand(a *app) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "convert <in> <out.bq>",
		Short: "Convert FASTA/FASTQ to the packed bq format",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runConvert(cmd.Context(), cmd.Flags(), format, args[0], args[1])
		},
	}
	cmd.Flags().StringVar(&format, "format", string(input.FormatAuto), "input format: auto, fasta, fastq")
	return cmd
}

func (a *app) runConvert(ctx context.Context, fs *pflag.FlagSet, format, in, out string) error {
	v, err := a.viper(fs)
	if err != nil {
		return err
	}
	cfg, err := config.Load(v)
	if err != nil {
		return err
	}
	log, err := logger.New(cfg.Log)
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck

	f, err := input.ParseFormat(format)
	if err != nil {
		return err
	}

	began := time.Now()
	n, err := input.Convert(ctx, in, out, f)
	if err != nil {
		return fmt.Errorf("convert %s: %w", in, err)
	}
	log.Info("conversion finished",
		zap.String("input", in),
		zap.String("output", out),
		zap.String("records", humanize.Comma(int64(n))),
		zap.Duration("elapsed", time.Since(began)))
	return nil
}
