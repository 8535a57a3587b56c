// Package config loads the daemon's startup configuration from an optional
// YAML file, the environment, and command-line flags, in that precedence
// order (flags win).
package config

import (
	"bytes"
	"flag"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const envPrefix = "AIRCHECK_"

// Config holds every startup parameter of the daemon.
type Config struct {
	Listen   string `yaml:"listen"`
	DataRoot string `yaml:"data_root"`

	ReconcileInterval time.Duration `yaml:"reconcile_interval"`
	SeriesCacheTTL    time.Duration `yaml:"series_cache_ttl"`
	LeadIn            time.Duration `yaml:"lead_in"`
	TailOut           time.Duration `yaml:"tail_out"`
	StopGrace         time.Duration `yaml:"stop_grace"`
	EventHorizon      time.Duration `yaml:"event_horizon"`
	ArmHorizon        time.Duration `yaml:"arm_horizon"`

	FFmpegPath      string `yaml:"ffmpeg"`
	SeriesBaseURL   string `yaml:"series_base_url"`
	EventBaseURL    string `yaml:"event_base_url"`
	StreamConfigURL string `yaml:"stream_config_url"`

	Verbose bool `yaml:"verbose"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Listen:            ":8080",
		DataRoot:          "./data",
		ReconcileInterval: 30 * time.Second,
		SeriesCacheTTL:    6 * time.Hour,
		LeadIn:            5 * time.Second,
		TailOut:           30 * time.Second,
		StopGrace:         10 * time.Second,
		EventHorizon:      7 * 24 * time.Hour,
		ArmHorizon:        25 * time.Hour,
		FFmpegPath:        "ffmpeg",
		SeriesBaseURL:     "https://www.nhk.or.jp/radio-api/app/v1/web",
		EventBaseURL:      "https://api.nhk.jp/r7/f/broadcastevent/rs",
		StreamConfigURL:   "https://www.nhk.or.jp/radio/config/config_web.xml",
	}
}

// Load resolves the configuration from args (exclusive of the program name)
// and the process environment.
func Load(args []string) (Config, error) {
	fs := flag.NewFlagSet("aircheckd", flag.ContinueOnError)
	configPath := fs.String("config", "", "optional YAML config file")

	cfg := Default()
	fs.StringVar(&cfg.Listen, "listen", cfg.Listen, "HTTP listen address")
	fs.StringVar(&cfg.DataRoot, "data-root", cfg.DataRoot, "data root directory")
	fs.DurationVar(&cfg.ReconcileInterval, "reconcile-interval", cfg.ReconcileInterval, "reconciliation interval")
	fs.DurationVar(&cfg.SeriesCacheTTL, "series-cache-ttl", cfg.SeriesCacheTTL, "series and stream catalog cache TTL")
	fs.DurationVar(&cfg.LeadIn, "lead-in", cfg.LeadIn, "capture lead-in before broadcast start")
	fs.DurationVar(&cfg.TailOut, "tail-out", cfg.TailOut, "capture tail-out after broadcast end")
	fs.DurationVar(&cfg.StopGrace, "stop-grace", cfg.StopGrace, "grace period before muxer force kill")
	fs.DurationVar(&cfg.EventHorizon, "event-horizon", cfg.EventHorizon, "series watch lookahead horizon")
	fs.DurationVar(&cfg.ArmHorizon, "arm-horizon", cfg.ArmHorizon, "capture arming horizon")
	fs.StringVar(&cfg.FFmpegPath, "ffmpeg", cfg.FFmpegPath, "ffmpeg executable path")
	fs.StringVar(&cfg.SeriesBaseURL, "series-base-url", cfg.SeriesBaseURL, "NHK series API base URL")
	fs.StringVar(&cfg.EventBaseURL, "event-base-url", cfg.EventBaseURL, "NHK broadcast event API base URL")
	fs.StringVar(&cfg.StreamConfigURL, "stream-config-url", cfg.StreamConfigURL, "NHK stream catalog config URL")
	fs.BoolVar(&cfg.Verbose, "verbose", cfg.Verbose, "enable debug logging")

	// First parse discovers -config; file and env values must not clobber
	// flags given on the command line, so layering runs file -> env -> flags.
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	layered := Default()
	if *configPath != "" {
		if err := mergeFile(&layered, *configPath); err != nil {
			return Config{}, err
		}
	}
	mergeEnv(&layered)

	// Re-apply flags on top of the layered base.
	fs2 := flag.NewFlagSet("aircheckd", flag.ContinueOnError)
	fs2.String("config", "", "")
	fs2.StringVar(&layered.Listen, "listen", layered.Listen, "")
	fs2.StringVar(&layered.DataRoot, "data-root", layered.DataRoot, "")
	fs2.DurationVar(&layered.ReconcileInterval, "reconcile-interval", layered.ReconcileInterval, "")
	fs2.DurationVar(&layered.SeriesCacheTTL, "series-cache-ttl", layered.SeriesCacheTTL, "")
	fs2.DurationVar(&layered.LeadIn, "lead-in", layered.LeadIn, "")
	fs2.DurationVar(&layered.TailOut, "tail-out", layered.TailOut, "")
	fs2.DurationVar(&layered.StopGrace, "stop-grace", layered.StopGrace, "")
	fs2.DurationVar(&layered.EventHorizon, "event-horizon", layered.EventHorizon, "")
	fs2.DurationVar(&layered.ArmHorizon, "arm-horizon", layered.ArmHorizon, "")
	fs2.StringVar(&layered.FFmpegPath, "ffmpeg", layered.FFmpegPath, "")
	fs2.StringVar(&layered.SeriesBaseURL, "series-base-url", layered.SeriesBaseURL, "")
	fs2.StringVar(&layered.EventBaseURL, "event-base-url", layered.EventBaseURL, "")
	fs2.StringVar(&layered.StreamConfigURL, "stream-config-url", layered.StreamConfigURL, "")
	fs2.BoolVar(&layered.Verbose, "verbose", layered.Verbose, "")
	if err := fs2.Parse(args); err != nil {
		return Config{}, err
	}

	if err := layered.Validate(); err != nil {
		return Config{}, err
	}
	return layered, nil
}

// Validate rejects configurations the scheduler cannot run with.
func (c Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("config: listen address must not be empty")
	}
	if c.DataRoot == "" {
		return fmt.Errorf("config: data root must not be empty")
	}
	if c.ReconcileInterval < time.Second {
		return fmt.Errorf("config: reconcile interval %s below 1s", c.ReconcileInterval)
	}
	if c.SeriesCacheTTL <= 0 {
		return fmt.Errorf("config: series cache TTL must be positive")
	}
	if c.LeadIn < 0 || c.TailOut < 0 {
		return fmt.Errorf("config: lead-in and tail-out must not be negative")
	}
	if c.StopGrace <= 0 {
		return fmt.Errorf("config: stop grace must be positive")
	}
	if c.ArmHorizon <= 0 || c.EventHorizon <= 0 {
		return fmt.Errorf("config: horizons must be positive")
	}
	if c.FFmpegPath == "" {
		return fmt.Errorf("config: ffmpeg path must not be empty")
	}
	return nil
}

func mergeFile(cfg *Config, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

func mergeEnv(cfg *Config) {
	setString := func(key string, dst *string) {
		if v, ok := os.LookupEnv(envPrefix + key); ok && v != "" {
			*dst = v
		}
	}
	setDuration := func(key string, dst *time.Duration) {
		if v, ok := os.LookupEnv(envPrefix + key); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil {
				*dst = d
			}
		}
	}
	setString("LISTEN", &cfg.Listen)
	setString("DATA_ROOT", &cfg.DataRoot)
	setDuration("RECONCILE_INTERVAL", &cfg.ReconcileInterval)
	setDuration("SERIES_CACHE_TTL", &cfg.SeriesCacheTTL)
	setDuration("LEAD_IN", &cfg.LeadIn)
	setDuration("TAIL_OUT", &cfg.TailOut)
	setDuration("STOP_GRACE", &cfg.StopGrace)
	setDuration("EVENT_HORIZON", &cfg.EventHorizon)
	setDuration("ARM_HORIZON", &cfg.ArmHorizon)
	setString("FFMPEG", &cfg.FFmpegPath)
	setString("SERIES_BASE_URL", &cfg.SeriesBaseURL)
	setString("EVENT_BASE_URL", &cfg.EventBaseURL)
	setString("STREAM_CONFIG_URL", &cfg.StreamConfigURL)
	if v, ok := os.LookupEnv(envPrefix + "VERBOSE"); ok {
		cfg.Verbose = v == "1" || v == "true"
	}
}
