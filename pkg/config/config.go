package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cuemby/teeplane/pkg/placement"
	"github.com/cuemby/teeplane/pkg/reconciler"
	"github.com/cuemby/teeplane/pkg/store"
)

// Duration wraps time.Duration so it can be written in YAML as "5s", "2m",
// etc. rather than as raw nanoseconds.
type Duration time.Duration

func (d Duration) AsDuration() time.Duration { return time.Duration(d) }

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("config: invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// StoreConfig mirrors the store's tunables.
type StoreConfig struct {
	CompressionThresholdBytes int   `yaml:"compression_threshold_bytes"`
	MaxObjectsPerKind         int   `yaml:"max_objects_per_kind"`
	MemoryLimitBytes          int64 `yaml:"memory_limit_bytes"`
	IntegrityCheck            bool  `yaml:"integrity_check"`
	ChangeRingCapacity        int   `yaml:"change_ring_capacity"`
	WatchBufferSize           int   `yaml:"watch_buffer_size"`
}

// PlacementConfig mirrors the placement engine's tunables.
type PlacementConfig struct {
	NodeCacheRefreshInterval Duration `yaml:"node_cache_refresh_interval"`
	DecisionCacheTTL         Duration `yaml:"decision_cache_ttl"`
	DecisionCacheCapacity    int      `yaml:"decision_cache_capacity"`
	MaxQueueSize             int      `yaml:"max_queue_size"`
	WorkerThreads            int      `yaml:"worker_threads"`
	TargetUtilization        float64  `yaml:"target_utilization"`
	IdealScore               float64  `yaml:"ideal_score"`
	FeasibilityFastPath      bool     `yaml:"feasibility_fast_path"`
}

// ReconcilerConfig mirrors the reconciliation fabric's tunables.
type ReconcilerConfig struct {
	WorkerThreads         int      `yaml:"worker_threads"`
	MaxQueueSize          int      `yaml:"max_queue_size"`
	DedupWindow           Duration `yaml:"dedup_window"`
	ReconciliationTimeout Duration `yaml:"reconciliation_timeout"`
	MaxRetries            int      `yaml:"max_retries"`
	BackoffBase           Duration `yaml:"backoff_base"`
	PriorityQuota         int      `yaml:"priority_quota"`
}

// Config is the single nested structure recognized by the daemon
// entrypoint, one sub-struct per core component.
type Config struct {
	Store      StoreConfig      `yaml:"store"`
	Placement  PlacementConfig  `yaml:"placement"`
	Reconciler ReconcilerConfig `yaml:"reconciler"`
}

// Default returns a Config with every default named in the configuration
// reference applied.
func Default() Config {
	return Config{
		Store: StoreConfig{
			CompressionThresholdBytes: 1024,
			ChangeRingCapacity:        4096,
			WatchBufferSize:           256,
		},
		Placement: PlacementConfig{
			NodeCacheRefreshInterval: Duration(10 * time.Second),
			DecisionCacheTTL:         Duration(30 * time.Second),
			DecisionCacheCapacity:    4096,
			TargetUtilization:        0.7,
			IdealScore:               100,
		},
		Reconciler: ReconcilerConfig{
			WorkerThreads:         4,
			DedupWindow:           Duration(500 * time.Millisecond),
			ReconciliationTimeout: Duration(30 * time.Second),
			MaxRetries:            5,
			BackoffBase:           Duration(250 * time.Millisecond),
			PriorityQuota:         64,
		},
	}
}

// Load reads a YAML config file at path, falling back to defaults for any
// field the file omits, then applies environment-variable overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: reading %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parsing %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)
	return cfg, nil
}

// applyEnvOverrides layers TEEPLANE_-prefixed environment variables over a
// config already populated from defaults and/or a file, the way the
// teacher's CLI flags layer over its config defaults.
func applyEnvOverrides(cfg *Config) {
	if v, ok := envInt("TEEPLANE_STORE_COMPRESSION_THRESHOLD_BYTES"); ok {
		cfg.Store.CompressionThresholdBytes = v
	}
	if v, ok := envInt("TEEPLANE_STORE_MAX_OBJECTS_PER_KIND"); ok {
		cfg.Store.MaxObjectsPerKind = v
	}
	if v, ok := envInt64("TEEPLANE_STORE_MEMORY_LIMIT_BYTES"); ok {
		cfg.Store.MemoryLimitBytes = v
	}
	if v, ok := envBool("TEEPLANE_STORE_INTEGRITY_CHECK"); ok {
		cfg.Store.IntegrityCheck = v
	}
	if v, ok := envInt("TEEPLANE_STORE_CHANGE_RING_CAPACITY"); ok {
		cfg.Store.ChangeRingCapacity = v
	}

	if v, ok := envDuration("TEEPLANE_PLACEMENT_NODE_CACHE_REFRESH_INTERVAL"); ok {
		cfg.Placement.NodeCacheRefreshInterval = v
	}
	if v, ok := envDuration("TEEPLANE_PLACEMENT_DECISION_CACHE_TTL"); ok {
		cfg.Placement.DecisionCacheTTL = v
	}
	if v, ok := envFloat("TEEPLANE_PLACEMENT_TARGET_UTILIZATION"); ok {
		cfg.Placement.TargetUtilization = v
	}
	if v, ok := envFloat("TEEPLANE_PLACEMENT_IDEAL_SCORE"); ok {
		cfg.Placement.IdealScore = v
	}
	if v, ok := envBool("TEEPLANE_PLACEMENT_FEASIBILITY_FAST_PATH"); ok {
		cfg.Placement.FeasibilityFastPath = v
	}

	if v, ok := envInt("TEEPLANE_RECONCILER_WORKER_THREADS"); ok {
		cfg.Reconciler.WorkerThreads = v
	}
	if v, ok := envDuration("TEEPLANE_RECONCILER_DEDUP_WINDOW"); ok {
		cfg.Reconciler.DedupWindow = v
	}
	if v, ok := envInt("TEEPLANE_RECONCILER_MAX_RETRIES"); ok {
		cfg.Reconciler.MaxRetries = v
	}
}

func envInt(key string) (int, bool) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return 0, false
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return v, true
}

func envInt64(key string) (int64, bool) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func envFloat(key string) (float64, bool) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func envBool(key string) (bool, bool) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}

func envDuration(key string) (Duration, bool) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return 0, false
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, false
	}
	return Duration(v), true
}

// ToStoreConfig converts the loaded config into store.Config.
func (c Config) ToStoreConfig() store.Config {
	return store.Config{
		CompressionThresholdBytes: c.Store.CompressionThresholdBytes,
		VerifyDigestOnRead:        c.Store.IntegrityCheck,
		ChangeRingCapacity:        c.Store.ChangeRingCapacity,
		WatchBufferSize:           c.Store.WatchBufferSize,
		MaxObjectsPerKind:         c.Store.MaxObjectsPerKind,
		MemoryLimitBytes:          c.Store.MemoryLimitBytes,
	}
}

// ToPlacementConfig converts the loaded config into placement.Config.
func (c Config) ToPlacementConfig() placement.Config {
	return placement.Config{
		NodeCacheRefreshInterval: c.Placement.NodeCacheRefreshInterval.AsDuration(),
		DecisionCacheTTL:         c.Placement.DecisionCacheTTL.AsDuration(),
		DecisionCacheCapacity:    c.Placement.DecisionCacheCapacity,
		MaxQueueSize:             c.Placement.MaxQueueSize,
		WorkerThreads:            c.Placement.WorkerThreads,
		TargetUtilization:        c.Placement.TargetUtilization,
		IdealScore:               c.Placement.IdealScore,
		FeasibilityFastPath:      c.Placement.FeasibilityFastPath,
	}
}

// ToReconcilerConfig converts the loaded config into reconciler.Config.
func (c Config) ToReconcilerConfig() reconciler.Config {
	return reconciler.Config{
		Workers:          c.Reconciler.WorkerThreads,
		MaxQueueSize:     c.Reconciler.MaxQueueSize,
		DedupWindow:      c.Reconciler.DedupWindow.AsDuration(),
		PriorityQuota:    c.Reconciler.PriorityQuota,
		BaseBackoff:      c.Reconciler.BackoffBase.AsDuration(),
		MaxRetries:       c.Reconciler.MaxRetries,
		ReconcileTimeout: c.Reconciler.ReconciliationTimeout.AsDuration(),
	}
}
