// Package config holds the layered run configuration of beaver-map.
//
// Layers, lowest first: built-in defaults, an optional YAML file,
// BEAVER_MAP_<SECTION>_<KEY> environment variables, command-line flags.
package config

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/ChuLiYu/beaver-map/internal/aligner"
	"github.com/ChuLiYu/beaver-map/internal/input"
	"github.com/ChuLiYu/beaver-map/internal/logger"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "BEAVER_MAP"

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Config is the complete run configuration.
type Config struct {
	IO      IOConfig      `mapstructure:"io" yaml:"io"`
	Run     RunConfig     `mapstructure:"run" yaml:"run"`
	Index   IndexConfig   `mapstructure:"index" yaml:"index"`
	Mapping MappingConfig `mapstructure:"mapping" yaml:"mapping"`
	Output  OutputConfig  `mapstructure:"output" yaml:"output"`
	Log     logger.Config `mapstructure:"log" yaml:"log"`
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// IOConfig names the inputs.
type IOConfig struct {
	Reference string `mapstructure:"reference" yaml:"reference"`
	Query     string `mapstructure:"query" yaml:"query"`
	Format    string `mapstructure:"format" yaml:"format"` // auto, fasta, fastq, bq
}

// RunConfig controls scheduling.
type RunConfig struct {
	Threads         int           `mapstructure:"threads" yaml:"threads"` // 0 = all CPUs
	BatchSize       int           `mapstructure:"batch_size" yaml:"batch_size"`
	Progress        bool          `mapstructure:"progress" yaml:"progress"`
	ProgressRefresh time.Duration `mapstructure:"progress_refresh" yaml:"progress_refresh"`
}

// IndexConfig controls index construction. Zero k/w take the preset value.
type IndexConfig struct {
	Preset     string  `mapstructure:"preset" yaml:"preset"`
	KmerSize   int     `mapstructure:"kmer_size" yaml:"kmer_size"`
	WindowSize int     `mapstructure:"window_size" yaml:"window_size"`
	MaskLevel  float64 `mapstructure:"mask_level" yaml:"mask_level"`
}

// MappingConfig controls chaining and alignment. Zero values take the
// preset value.
type MappingConfig struct {
	MaxGap        int     `mapstructure:"max_gap" yaml:"max_gap"`
	Bandwidth     int     `mapstructure:"bandwidth" yaml:"bandwidth"`
	MinCnt        int     `mapstructure:"min_cnt" yaml:"min_cnt"`
	MinChainScore int     `mapstructure:"min_chain_score" yaml:"min_chain_score"`
	PriRatio      float64 `mapstructure:"pri_ratio" yaml:"pri_ratio"`
	BestN         int     `mapstructure:"best_n" yaml:"best_n"`
	Match         int     `mapstructure:"match" yaml:"match"`
	Mismatch      int     `mapstructure:"mismatch" yaml:"mismatch"`
	GapOpen       int     `mapstructure:"gap_open" yaml:"gap_open"`
	GapExt        int     `mapstructure:"gap_ext" yaml:"gap_ext"`
	NoSecondary   bool    `mapstructure:"no_secondary" yaml:"no_secondary"`
	Approx        bool    `mapstructure:"approx" yaml:"approx"`
}

// OutputConfig names the destinations.
type OutputConfig struct {
	Path     string `mapstructure:"path" yaml:"path"` // empty or "-" = stdout
	Cigar    bool   `mapstructure:"cigar" yaml:"cigar"`
	LogPath  string `mapstructure:"log_path" yaml:"log_path"` // empty = stderr
	LockFile bool   `mapstructure:"lock_file" yaml:"lock_file"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Addr    string `mapstructure:"addr" yaml:"addr"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		IO:  IOConfig{Format: string(input.FormatAuto)},
		Run: RunConfig{Threads: 1, BatchSize: 1024, Progress: true, ProgressRefresh: 150 * time.Millisecond},
		Index: IndexConfig{
			Preset:    aligner.DefaultPreset,
			MaskLevel: aligner.DefaultMaskLevel,
		},
		Log:     logger.Config{Level: "info", Format: "console"},
		Metrics: MetricsConfig{Addr: ":9090"},
	}
}

// SetDefaults registers every key of Default on v so that environment
// variables are picked up for all of them.
func SetDefaults(v *viper.Viper) {
	d := Default()
	defaults := map[string]any{
		"io.reference": d.IO.Reference,
		"io.query":     d.IO.Query,
		"io.format":    d.IO.Format,

		"run.threads":          d.Run.Threads,
		"run.batch_size":       d.Run.BatchSize,
		"run.progress":         d.Run.Progress,
		"run.progress_refresh": d.Run.ProgressRefresh,

		"index.preset":      d.Index.Preset,
		"index.kmer_size":   d.Index.KmerSize,
		"index.window_size": d.Index.WindowSize,
		"index.mask_level":  d.Index.MaskLevel,

		"mapping.max_gap":         d.Mapping.MaxGap,
		"mapping.bandwidth":       d.Mapping.Bandwidth,
		"mapping.min_cnt":         d.Mapping.MinCnt,
		"mapping.min_chain_score": d.Mapping.MinChainScore,
		"mapping.pri_ratio":       d.Mapping.PriRatio,
		"mapping.best_n":          d.Mapping.BestN,
		"mapping.match":           d.Mapping.Match,
		"mapping.mismatch":        d.Mapping.Mismatch,
		"mapping.gap_open":        d.Mapping.GapOpen,
		"mapping.gap_ext":         d.Mapping.GapExt,
		"mapping.no_secondary":    d.Mapping.NoSecondary,
		"mapping.approx":          d.Mapping.Approx,

		"output.path":      d.Output.Path,
		"output.cigar":     d.Output.Cigar,
		"output.log_path":  d.Output.LogPath,
		"output.lock_file": d.Output.LockFile,

		"log.level":  d.Log.Level,
		"log.format": d.Log.Format,

		"metrics.enabled": d.Metrics.Enabled,
		"metrics.addr":    d.Metrics.Addr,
	}
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
}

// NewViper returns a viper instance with defaults, the optional config
// file and environment overrides in place. Flags are bound by the caller.
func NewViper(file string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", file, err)
		}
	}
	return v, nil
}

// Load decodes v into a Config and validates it.
func Load(v *viper.Viper) (Config, error) {
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return c, fmt.Errorf("failed to decode config: %w", err)
	}
	return c, c.Validate()
}

// Validate rejects out-of-range values.
func (c Config) Validate() error {
	if _, err := input.ParseFormat(c.IO.Format); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	switch {
	case c.Run.Threads < 0:
		return fmt.Errorf("%w: threads must not be negative", ErrInvalid)
	case c.Run.BatchSize < 1:
		return fmt.Errorf("%w: batch size must be at least 1", ErrInvalid)
	case c.Index.KmerSize != 0 && (c.Index.KmerSize < 2 || c.Index.KmerSize > 28):
		return fmt.Errorf("%w: k-mer size %d outside [2,28]", ErrInvalid, c.Index.KmerSize)
	case c.Index.WindowSize < 0:
		return fmt.Errorf("%w: window size must be positive", ErrInvalid)
	case c.Index.MaskLevel < 0 || c.Index.MaskLevel > 1:
		return fmt.Errorf("%w: mask level %g outside [0,1]", ErrInvalid, c.Index.MaskLevel)
	case c.Mapping.PriRatio < 0 || c.Mapping.PriRatio > 1:
		return fmt.Errorf("%w: pri ratio %g outside [0,1]", ErrInvalid, c.Mapping.PriRatio)
	}
	if _, err := c.AlignerOptions(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

// EffectiveThreads resolves Run.Threads: 0 means every CPU, anything else
// is clamped to the CPU count.
func (c Config) EffectiveThreads() int {
	n := runtime.NumCPU()
	if c.Run.Threads <= 0 || c.Run.Threads > n {
		return n
	}
	return c.Run.Threads
}

// AlignerOptions resolves the preset and applies explicit overrides.
func (c Config) AlignerOptions() (aligner.Options, error) {
	return aligner.Resolve(c.Index.Preset, aligner.Options{
		Index: aligner.IndexOptions{
			K:         c.Index.KmerSize,
			W:         c.Index.WindowSize,
			MaskLevel: c.Index.MaskLevel,
		},
		Chain: aligner.ChainOptions{
			MaxGap:        c.Mapping.MaxGap,
			Bandwidth:     c.Mapping.Bandwidth,
			MinCnt:        c.Mapping.MinCnt,
			MinChainScore: c.Mapping.MinChainScore,
			PriRatio:      c.Mapping.PriRatio,
			BestN:         c.Mapping.BestN,
		},
		Score: aligner.ScoreOptions{
			Match:    c.Mapping.Match,
			Mismatch: c.Mapping.Mismatch,
			GapOpen:  c.Mapping.GapOpen,
			GapExt:   c.Mapping.GapExt,
		},
	})
}

// MapOptions returns the per-call engine switches.
func (c Config) MapOptions() aligner.MapOptions {
	o := aligner.MapOptions{Cigar: c.Output.Cigar, Approx: c.Mapping.Approx}
	if c.Mapping.NoSecondary {
		o.Extra |= aligner.ExtraNoSecondary
	}
	return o
}

// Resolved is the configuration as it will actually run, printed by
// --show-options.
type Resolved struct {
	Config  Config          `yaml:"config"`
	Threads int             `yaml:"effective_threads"`
	Aligner aligner.Options `yaml:"aligner"`
}

// YAML renders the resolved configuration.
func (c Config) YAML() ([]byte, error) {
	opts, err := c.AlignerOptions()
	if err != nil {
		return nil, err
	}
	return yaml.Marshal(Resolved{Config: c, Threads: c.EffectiveThreads(), Aligner: opts})
}
