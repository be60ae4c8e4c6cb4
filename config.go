package enviz

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config defines session configuration. The zero value is not usable;
// start from DefaultConfig.
type Config struct {
	// Distance configures the pairwise distance engine.
	Distance DistanceConfig `json:"distance" yaml:"distance"`

	// Projection configures the dimensionality-reduction engines.
	Projection ProjectionConfig `json:"projection" yaml:"projection"`

	// Rank configures the distance-to-observed ranking.
	Rank RankConfig `json:"rank" yaml:"rank"`

	// Cache configures retention of derived results.
	Cache CacheConfig `json:"cache" yaml:"cache"`

	// Bridge configures the websocket view bridge. Disabled by default;
	// in-process views attach as plain observers.
	Bridge BridgeConfig `json:"bridge" yaml:"bridge"`

	// BusyThreshold is how long a deferred computation may run before the
	// busy signal fires.
	BusyThreshold time.Duration `json:"busy_threshold" yaml:"busy_threshold"`

	// Debug makes programming errors such as reentrant coordinator calls
	// fatal instead of tolerated.
	Debug bool `json:"debug" yaml:"debug"`
}

// DistanceConfig groups distance-engine settings.
type DistanceConfig struct {
	// Metric is the registered metric name. Empty means "euclidean". The
	// exact metric is a configuration choice; all registered metrics are
	// symmetric and non-negative but need not satisfy the triangle
	// inequality.
	Metric string `json:"metric" yaml:"metric"`
}

// ProjectionConfig groups projection-engine settings.
type ProjectionConfig struct {
	// SampleSize is the LAMP control sample size. 0 picks ceil(sqrt(n)).
	SampleSize int `json:"sample_size" yaml:"sample_size"`

	// ControlIDs optionally fixes the control sample to specific
	// realizations; the automatic choice fills in when fewer than two of
	// them are projectable at a timestep.
	ControlIDs []string `json:"control_ids,omitempty" yaml:"control_ids,omitempty"`

	// MaxIterations caps the SMACOF majorization loop.
	MaxIterations int `json:"max_iterations" yaml:"max_iterations"`

	// Epsilon is the relative stress-improvement convergence tolerance.
	Epsilon float64 `json:"epsilon" yaml:"epsilon"`

	// LampTolerance is the epsilon floor protecting the inverse-distance
	// weights from division by zero.
	LampTolerance float64 `json:"lamp_tolerance" yaml:"lamp_tolerance"`

	// TemporalBlend weighs fresh MDS output against previous-frame
	// positions for TL-LAMP control targets: 1 ignores the past, 0 freezes
	// the first frame.
	TemporalBlend float64 `json:"temporal_blend" yaml:"temporal_blend"`
}

// RankConfig groups rank-engine settings.
type RankConfig struct {
	// TieTolerance is the distance difference under which two realizations
	// share a rank.
	TieTolerance float64 `json:"tie_tolerance" yaml:"tie_tolerance"`
}

// CacheConfig groups derived-result cache settings.
type CacheConfig struct {
	Enabled        bool  `json:"enabled" yaml:"enabled"`
	MaxEntries     int   `json:"max_entries" yaml:"max_entries"`
	MaxMemoryBytes int64 `json:"max_memory_bytes" yaml:"max_memory_bytes"`
	// Compression snappy-compresses cached payloads, trading CPU on reuse
	// for a smaller memory footprint of retained matrices.
	Compression bool `json:"compression" yaml:"compression"`
}

// BridgeConfig groups websocket view-bridge settings.
type BridgeConfig struct {
	Enabled    bool `json:"enabled" yaml:"enabled"`
	MaxClients int  `json:"max_clients" yaml:"max_clients"`
	// SendBuffer is the per-client outbound queue; slow clients are
	// disconnected when it overflows rather than stalling the broadcast.
	SendBuffer   int           `json:"send_buffer" yaml:"send_buffer"`
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout"`
}

// DefaultConfig returns production-ready defaults.
func DefaultConfig() Config {
	return Config{
		Distance: DistanceConfig{
			Metric: "euclidean",
		},
		Projection: DefaultProjectionConfig(),
		Rank: RankConfig{
			TieTolerance: 1e-9,
		},
		Cache: CacheConfig{
			Enabled:        true,
			MaxEntries:     64,
			MaxMemoryBytes: 64 * 1024 * 1024, // 64 MB
			Compression:    true,
		},
		Bridge: BridgeConfig{
			Enabled:      false,
			MaxClients:   16,
			SendBuffer:   32,
			WriteTimeout: 5 * time.Second,
		},
		BusyThreshold: 150 * time.Millisecond,
	}
}

// DefaultProjectionConfig returns projection defaults.
func DefaultProjectionConfig() ProjectionConfig {
	return ProjectionConfig{
		SampleSize:    0, // ceil(sqrt(n))
		MaxIterations: 300,
		Epsilon:       1e-9,
		LampTolerance: 1e-9,
		TemporalBlend: 0.5,
	}
}

// Validate checks the configuration for inconsistent values.
func (c Config) Validate() error {
	if _, err := MetricByName(c.Distance.Metric); err != nil {
		return err
	}
	if c.Projection.MaxIterations <= 0 {
		return fmt.Errorf("projection.max_iterations must be positive, got %d", c.Projection.MaxIterations)
	}
	if c.Projection.Epsilon <= 0 {
		return fmt.Errorf("projection.epsilon must be positive, got %g", c.Projection.Epsilon)
	}
	if c.Projection.LampTolerance <= 0 {
		return fmt.Errorf("projection.lamp_tolerance must be positive, got %g", c.Projection.LampTolerance)
	}
	if b := c.Projection.TemporalBlend; b < 0 || b > 1 {
		return fmt.Errorf("projection.temporal_blend must be in [0, 1], got %g", b)
	}
	if c.Projection.SampleSize < 0 {
		return fmt.Errorf("projection.sample_size must not be negative, got %d", c.Projection.SampleSize)
	}
	if c.Rank.TieTolerance < 0 {
		return fmt.Errorf("rank.tie_tolerance must not be negative, got %g", c.Rank.TieTolerance)
	}
	if c.Cache.Enabled && c.Cache.MaxEntries <= 0 && c.Cache.MaxMemoryBytes <= 0 {
		return fmt.Errorf("cache enabled but both max_entries and max_memory_bytes are unbounded-zero")
	}
	return nil
}

// LoadConfigFile reads a YAML configuration file over DefaultConfig, so
// absent keys keep their defaults.
func LoadConfigFile(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}
