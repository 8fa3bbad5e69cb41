// Package config loads the cardshelf YAML configuration.
//
// Every string scalar is passed through secret.Resolver before decoding, so
// values such as "${CARDS_API_KEY}" or "secretref:file:api_key" resolve to
// the credential itself. Keys left out of a file keep their defaults.
package config

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jonwraymond/cardshelf/cache"
	"github.com/jonwraymond/cardshelf/grid"
	"github.com/jonwraymond/cardshelf/hover"
	"github.com/jonwraymond/cardshelf/observe"
	"github.com/jonwraymond/cardshelf/preload"
	"github.com/jonwraymond/cardshelf/prerender"
	"github.com/jonwraymond/cardshelf/resilience"
	"github.com/jonwraymond/cardshelf/secret"
)

//go:embed default.yaml
var defaultYAML []byte

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("config: invalid")

// Config is the full configuration.
type Config struct {
	API        APIConfig        `yaml:"api"`
	Cache      CacheConfig      `yaml:"cache"`
	Preload    PreloadConfig    `yaml:"preload"`
	Prerender  PrerenderConfig  `yaml:"prerender"`
	Hover      HoverConfig      `yaml:"hover"`
	Grid       GridConfig       `yaml:"grid"`
	Controller ControllerConfig `yaml:"controller"`
	Observe    ObserveConfig    `yaml:"observe"`
}

// APIConfig locates the cards service.
type APIConfig struct {
	BaseURL   string        `yaml:"base_url"`
	APIKey    string        `yaml:"api_key"`
	Timeout   time.Duration `yaml:"timeout"`
	UserAgent string        `yaml:"user_agent"`
}

// CacheConfig tunes the results cache.
type CacheConfig struct {
	Disabled      bool          `yaml:"disabled"`
	TTL           time.Duration `yaml:"ttl"`
	MaxTTL        time.Duration `yaml:"max_ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// PreloadConfig tunes the preload cache.
type PreloadConfig struct {
	CardTTL          time.Duration `yaml:"card_ttl"`
	PageTTL          time.Duration `yaml:"page_ttl"`
	SweepInterval    time.Duration `yaml:"sweep_interval"`
	IframeHold       time.Duration `yaml:"iframe_hold"`
	ImageConcurrency int           `yaml:"image_concurrency"`
}

// PrerenderConfig tunes the embed prerender pool.
type PrerenderConfig struct {
	Capacity      int           `yaml:"capacity"`
	CheckInterval time.Duration `yaml:"check_interval"`
	Width         int           `yaml:"width"`
	Height        int           `yaml:"height"`
}

// HoverConfig tunes hover-intent detection.
type HoverConfig struct {
	Delay       time.Duration `yaml:"delay"`
	Sensitivity float64       `yaml:"sensitivity"`
}

// GridConfig tunes the virtualized grid.
type GridConfig struct {
	RowHeight      float64           `yaml:"row_height"`
	BufferRows     int               `yaml:"buffer_rows"`
	Threshold      int               `yaml:"threshold"`
	Gap            float64           `yaml:"gap"`
	ResizeDebounce time.Duration     `yaml:"resize_debounce"`
	Breakpoints    []grid.Breakpoint `yaml:"breakpoints"`
}

// ControllerConfig tunes the collection controller.
type ControllerConfig struct {
	PageSize        int           `yaml:"page_size"`
	PrefetchTimeout time.Duration `yaml:"prefetch_timeout"`

	// Consecutive prefetch failures that pause prefetching, and for how long.
	PrefetchMaxFailures  int           `yaml:"prefetch_max_failures"`
	PrefetchResetTimeout time.Duration `yaml:"prefetch_reset_timeout"`
}

// ObserveConfig selects logging and telemetry exporters.
type ObserveConfig struct {
	ServiceName string `yaml:"service_name"`
	LogLevel    string `yaml:"log_level"`
	Tracing     struct {
		Exporter  string  `yaml:"exporter"`
		SamplePct float64 `yaml:"sample_pct"`
	} `yaml:"tracing"`
	Metrics struct {
		Exporter string `yaml:"exporter"`
	} `yaml:"metrics"`
}

// Default returns the built-in configuration.
func Default() Config {
	var cfg Config
	if err := yaml.Unmarshal(defaultYAML, &cfg); err != nil {
		panic(fmt.Sprintf("config: embedded defaults are corrupt: %v", err))
	}
	return cfg
}

// Load reads and validates the file at path. Relative secret file
// references resolve against the file's directory.
func Load(ctx context.Context, path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return Parse(ctx, data, secret.DefaultResolver(filepath.Dir(path)))
}

// Parse decodes data over the defaults, resolving secrets with r, and
// validates the result. A nil r only expands environment variables.
func Parse(ctx context.Context, data []byte, r *secret.Resolver) (Config, error) {
	cfg := Default()

	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return Config{}, fmt.Errorf("config: parse YAML: %w", err)
	}
	if root.Kind == 0 {
		return cfg, cfg.Validate()
	}
	if err := resolveScalars(ctx, &root, r); err != nil {
		return Config{}, err
	}
	if err := root.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: decode: %w", err)
	}
	return cfg, cfg.Validate()
}

// resolveScalars resolves every string scalar value in place. Mapping keys
// are left alone.
func resolveScalars(ctx context.Context, n *yaml.Node, r *secret.Resolver) error {
	switch n.Kind {
	case yaml.DocumentNode, yaml.SequenceNode:
		for _, c := range n.Content {
			if err := resolveScalars(ctx, c, r); err != nil {
				return err
			}
		}
	case yaml.MappingNode:
		for i := 1; i < len(n.Content); i += 2 {
			if err := resolveScalars(ctx, n.Content[i], r); err != nil {
				return fmt.Errorf("%s: %w", n.Content[i-1].Value, err)
			}
		}
	case yaml.ScalarNode:
		if n.ShortTag() != "!!str" || !strings.ContainsAny(n.Value, "$:") {
			return nil
		}
		v, err := r.ResolveValue(ctx, n.Value)
		if err != nil {
			return fmt.Errorf("config: %w", err)
		}
		n.Value = v
	}
	return nil
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
		}
	}

	if c.API.BaseURL != "" {
		u, err := url.Parse(c.API.BaseURL)
		check(err == nil && u.Scheme != "" && u.Host != "", "api.base_url %q must be an absolute URL", c.API.BaseURL)
	}
	check(c.API.Timeout >= 0, "api.timeout must not be negative")

	if !c.Cache.Disabled {
		check(c.Cache.TTL > 0, "cache.ttl must be positive")
		check(c.Cache.MaxTTL >= c.Cache.TTL, "cache.max_ttl must be at least cache.ttl")
	}
	check(c.Cache.SweepInterval >= 0, "cache.sweep_interval must not be negative")

	check(c.Preload.CardTTL > 0 && c.Preload.PageTTL > 0, "preload TTLs must be positive")
	check(c.Preload.SweepInterval > 0, "preload.sweep_interval must be positive")
	check(c.Preload.IframeHold > 0, "preload.iframe_hold must be positive")
	check(c.Preload.ImageConcurrency > 0, "preload.image_concurrency must be positive")

	check(c.Prerender.Capacity > 0, "prerender.capacity must be positive")
	check(c.Prerender.CheckInterval > 0, "prerender.check_interval must be positive")
	check(c.Prerender.Width > 0 && c.Prerender.Height > 0, "prerender size must be positive")

	check(c.Hover.Delay > 0, "hover.delay must be positive")
	check(c.Hover.Sensitivity > 0, "hover.sensitivity must be positive")

	check(c.Grid.RowHeight > 0, "grid.row_height must be positive")
	check(c.Grid.ResizeDebounce >= 0, "grid.resize_debounce must not be negative")
	if err := c.GridConfig().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("%w: %w", ErrInvalid, err))
	}

	check(c.Controller.PageSize > 0, "controller.page_size must be positive")
	check(c.Controller.PrefetchTimeout > 0, "controller.prefetch_timeout must be positive")
	check(c.Controller.PrefetchMaxFailures > 0, "controller.prefetch_max_failures must be positive")
	check(c.Controller.PrefetchResetTimeout > 0, "controller.prefetch_reset_timeout must be positive")

	check(c.Observe.ServiceName != "", "observe.service_name is required")
	oc := c.ObserveConfig()
	if err := oc.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("%w: %w", ErrInvalid, err))
	}

	return errors.Join(errs...)
}

// CachePolicy returns the results cache policy. A disabled cache yields
// cache.NoCachePolicy.
func (c Config) CachePolicy() cache.Policy {
	if c.Cache.Disabled {
		return cache.NoCachePolicy()
	}
	return cache.Policy{
		DefaultTTL:    c.Cache.TTL,
		MaxTTL:        c.Cache.MaxTTL,
		SweepInterval: c.Cache.SweepInterval,
	}
}

// GridConfig returns the grid layout constants.
func (c Config) GridConfig() grid.Config {
	return grid.Config{
		RowHeight:   c.Grid.RowHeight,
		BufferRows:  c.Grid.BufferRows,
		Threshold:   c.Grid.Threshold,
		Gap:         c.Grid.Gap,
		Breakpoints: c.Grid.Breakpoints,
	}
}

// PreloadOptions returns the preload cache options. Loaders, clock and
// telemetry are left for the caller.
func (c Config) PreloadOptions() preload.Options {
	return preload.Options{
		CardTTL:          c.Preload.CardTTL,
		PageTTL:          c.Preload.PageTTL,
		SweepInterval:    c.Preload.SweepInterval,
		IframeHold:       c.Preload.IframeHold,
		ImageConcurrency: c.Preload.ImageConcurrency,
	}
}

// PrerenderOptions returns the prerender pool options.
func (c Config) PrerenderOptions() prerender.Options {
	return prerender.Options{
		Capacity:      c.Prerender.Capacity,
		CheckInterval: c.Prerender.CheckInterval,
		Width:         c.Prerender.Width,
		Height:        c.Prerender.Height,
	}
}

// HoverOptions returns the hover detector options without callbacks.
func (c Config) HoverOptions() hover.Options {
	return hover.Options{
		Delay:       c.Hover.Delay,
		Sensitivity: c.Hover.Sensitivity,
	}
}

// PrefetchBreaker returns the circuit breaker settings for next-page
// prefetches.
func (c Config) PrefetchBreaker() resilience.CircuitBreakerConfig {
	return resilience.CircuitBreakerConfig{
		MaxFailures:  c.Controller.PrefetchMaxFailures,
		ResetTimeout: c.Controller.PrefetchResetTimeout,
	}
}

// ObserveConfig returns the telemetry configuration. Tracing and metrics
// are enabled when their exporter is not "none".
func (c Config) ObserveConfig() observe.Config {
	var oc observe.Config
	oc.ServiceName = c.Observe.ServiceName
	oc.Logging.Enabled = true
	oc.Logging.Level = c.Observe.LogLevel
	oc.Tracing.Exporter = c.Observe.Tracing.Exporter
	oc.Tracing.SamplePct = c.Observe.Tracing.SamplePct
	oc.Tracing.Enabled = enabled(c.Observe.Tracing.Exporter)
	oc.Metrics.Exporter = c.Observe.Metrics.Exporter
	oc.Metrics.Enabled = enabled(c.Observe.Metrics.Exporter)
	return oc
}

func enabled(exporter string) bool {
	return exporter != "" && exporter != "none"
}
