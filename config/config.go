// Package config loads and validates the runtime configuration. Values
// come from, in increasing precedence: built-in defaults, the JSON config
// file in the data directory, MEVSCOPE_* environment variables, and
// command-line flags applied by the CLI layer.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

const (
	configFileName = "config.json"
	dataDirName    = ".mevscope"

	// DefaultDirectoryURL is the public chain directory snapshot.
	DefaultDirectoryURL = "https://chainlist.org/rpcs.json"

	// DefaultDictionaryURL is the pre-seeded signature dictionary snapshot.
	DefaultDictionaryURL = "https://github.com/mevscope/signatures/releases/latest/download/signatures.db.gz"
)

// TimeoutsConfig holds the per-operation network deadlines in
// milliseconds. Benchmarking and data retrieval are configured separately
// because a probe should give up long before a block fetch would.
type TimeoutsConfig struct {
	BenchmarkMS int `mapstructure:"benchmark_ms" json:"benchmark_ms"`
	FetchMS     int `mapstructure:"fetch_ms" json:"fetch_ms"`
	TraceMS     int `mapstructure:"trace_ms" json:"trace_ms"`
	DirectoryMS int `mapstructure:"directory_ms" json:"directory_ms"`
}

// Benchmark returns the endpoint probe deadline.
func (t TimeoutsConfig) Benchmark() time.Duration { return time.Duration(t.BenchmarkMS) * time.Millisecond }

// Fetch returns the block/receipt/log retrieval deadline.
func (t TimeoutsConfig) Fetch() time.Duration { return time.Duration(t.FetchMS) * time.Millisecond }

// Trace returns the per-transaction trace call deadline.
func (t TimeoutsConfig) Trace() time.Duration { return time.Duration(t.TraceMS) * time.Millisecond }

// Directory returns the chain directory fetch deadline.
func (t TimeoutsConfig) Directory() time.Duration { return time.Duration(t.DirectoryMS) * time.Millisecond }

// Config is the full runtime configuration.
type Config struct {
	// RPCURL is the operator-chosen endpoint; when empty the selector
	// picks the fastest directory endpoint for ChainID.
	RPCURL string `mapstructure:"rpc_url" json:"rpc_url"`

	// FallbackRPCURLs join the endpoint pool behind RPCURL for failover.
	FallbackRPCURLs []string `mapstructure:"fallback_rpc_urls" json:"fallback_rpc_urls,omitempty"`

	ChainID uint64 `mapstructure:"chain_id" json:"chain_id"`

	// DataDir holds the sqlite caches and the config file itself.
	DataDir string `mapstructure:"data_dir" json:"data_dir"`

	LogLevel   int    `mapstructure:"log_level" json:"log_level"`
	LogFormat  string `mapstructure:"log_format" json:"log_format"`
	LogSampler bool   `mapstructure:"log_sampler" json:"log_sampler"`

	// CacheOnly disables all metadata network lookups; misses resolve to
	// not-found.
	CacheOnly bool `mapstructure:"cache_only" json:"cache_only"`

	// TraceMode selects the tracing backend: off, rpc, replay or auto.
	TraceMode string `mapstructure:"trace_mode" json:"trace_mode"`

	// RPCConcurrency bounds concurrent outbound RPC calls per block.
	RPCConcurrency int `mapstructure:"rpc_concurrency" json:"rpc_concurrency"`

	// BenchmarkConcurrency bounds in-flight endpoint probes.
	BenchmarkConcurrency int `mapstructure:"benchmark_concurrency" json:"benchmark_concurrency"`

	// BenchmarkLimit truncates the ranked endpoint list.
	BenchmarkLimit int `mapstructure:"benchmark_limit" json:"benchmark_limit"`

	// PrefetchWindow is how many blocks of raw data may be fetched ahead
	// of the one being evaluated.
	PrefetchWindow int `mapstructure:"prefetch_window" json:"prefetch_window"`

	// TraceBudget caps trace executions per run; zero means unlimited.
	TraceBudget int `mapstructure:"trace_budget" json:"trace_budget"`

	// WatchIntervalMS is the live-tail poll interval.
	WatchIntervalMS int `mapstructure:"watch_interval_ms" json:"watch_interval_ms"`

	// MetricsAddr, when set, serves prometheus metrics in watch mode.
	MetricsAddr string `mapstructure:"metrics_addr" json:"metrics_addr,omitempty"`

	DirectoryURL  string `mapstructure:"directory_url" json:"directory_url"`
	DictionaryURL string `mapstructure:"dictionary_url" json:"dictionary_url"`

	Timeouts TimeoutsConfig `mapstructure:"timeouts" json:"timeouts"`
}

// DefaultDataDir returns ~/.mevscope, falling back to the working
// directory when the home directory cannot be resolved.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return dataDirName
	}
	return filepath.Join(home, dataDirName)
}

// Load reads the config file from dataDir (if present), applies
// MEVSCOPE_* environment variables, validates and fills defaults.
func Load(dataDir string) (*Config, error) {
	if dataDir == "" {
		dataDir = DefaultDataDir()
	}

	v := viper.New()
	v.SetConfigFile(filepath.Join(dataDir, configFileName))
	v.SetConfigType("json")
	v.SetEnvPrefix("MEVSCOPE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// A missing file is fine; a malformed one is not.
		if _, statErr := os.Stat(v.ConfigFileUsed()); statErr == nil {
			return nil, errors.Wrap(err, "failed to read config file")
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}

	cfg.DataDir = dataDir
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func validateConfig(cfg *Config) error {
	if cfg.LogLevel < -1 || cfg.LogLevel > 5 {
		return fmt.Errorf("log level must be between -1 and 5")
	}

	if cfg.LogFormat == "" {
		cfg.LogFormat = "console"
	}
	if cfg.LogFormat != "json" && cfg.LogFormat != "console" {
		return fmt.Errorf("log format must be 'json' or 'console'")
	}

	if cfg.TraceMode == "" {
		cfg.TraceMode = "off"
	}
	switch cfg.TraceMode {
	case "off", "rpc", "replay", "auto":
	default:
		return fmt.Errorf("trace mode must be 'off', 'rpc', 'replay' or 'auto'")
	}

	if cfg.RPCConcurrency == 0 {
		cfg.RPCConcurrency = 15
	}
	if cfg.BenchmarkConcurrency == 0 {
		cfg.BenchmarkConcurrency = 10
	}
	if cfg.BenchmarkLimit == 0 {
		cfg.BenchmarkLimit = 5
	}
	if cfg.PrefetchWindow == 0 {
		cfg.PrefetchWindow = 4
	}
	if cfg.WatchIntervalMS == 0 {
		cfg.WatchIntervalMS = 3000
	}

	if cfg.DirectoryURL == "" {
		cfg.DirectoryURL = DefaultDirectoryURL
	}
	if cfg.DictionaryURL == "" {
		cfg.DictionaryURL = DefaultDictionaryURL
	}

	if cfg.Timeouts.BenchmarkMS == 0 {
		cfg.Timeouts.BenchmarkMS = 1000
	}
	if cfg.Timeouts.FetchMS == 0 {
		cfg.Timeouts.FetchMS = 10000
	}
	if cfg.Timeouts.TraceMS == 0 {
		cfg.Timeouts.TraceMS = 25000
	}
	if cfg.Timeouts.DirectoryMS == 0 {
		cfg.Timeouts.DirectoryMS = 10000
	}

	return nil
}

// Save writes the config to <data-dir>/config.json.
func Save(cfg *Config) error {
	if err := validateConfig(cfg); err != nil {
		return errors.Wrap(err, "invalid config")
	}

	if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
		return errors.Wrapf(err, "failed to create data dir: %s", cfg.DataDir)
	}

	v := viper.New()
	v.SetConfigFile(filepath.Join(cfg.DataDir, configFileName))
	v.SetConfigType("json")

	v.Set("rpc_url", cfg.RPCURL)
	v.Set("fallback_rpc_urls", cfg.FallbackRPCURLs)
	v.Set("chain_id", cfg.ChainID)
	v.Set("log_level", cfg.LogLevel)
	v.Set("log_format", cfg.LogFormat)
	v.Set("log_sampler", cfg.LogSampler)
	v.Set("cache_only", cfg.CacheOnly)
	v.Set("trace_mode", cfg.TraceMode)
	v.Set("rpc_concurrency", cfg.RPCConcurrency)
	v.Set("benchmark_concurrency", cfg.BenchmarkConcurrency)
	v.Set("benchmark_limit", cfg.BenchmarkLimit)
	v.Set("prefetch_window", cfg.PrefetchWindow)
	v.Set("trace_budget", cfg.TraceBudget)
	v.Set("watch_interval_ms", cfg.WatchIntervalMS)
	v.Set("metrics_addr", cfg.MetricsAddr)
	v.Set("directory_url", cfg.DirectoryURL)
	v.Set("dictionary_url", cfg.DictionaryURL)
	v.Set("timeouts.benchmark_ms", cfg.Timeouts.BenchmarkMS)
	v.Set("timeouts.fetch_ms", cfg.Timeouts.FetchMS)
	v.Set("timeouts.trace_ms", cfg.Timeouts.TraceMS)
	v.Set("timeouts.directory_ms", cfg.Timeouts.DirectoryMS)

	return errors.Wrap(v.WriteConfig(), "failed to write config file")
}
