// Package config loads the TOML configuration file recognized by
// spec.md §6, using the teacher's own config-file library
// (naoina/toml) and its "unknown field is a hard error" discipline.
package config

import (
	"fmt"
	"os"
	"reflect"
	"time"

	"github.com/naoina/toml"

	"github.com/l2labs/sequencer/internal/breaker"
	"github.com/l2labs/sequencer/internal/cache"
	"github.com/l2labs/sequencer/internal/queue"
	"github.com/l2labs/sequencer/internal/recovery"
	"github.com/l2labs/sequencer/internal/sequencer"
	"github.com/l2labs/sequencer/internal/workerpool"
)

// tomlSettings mirrors the teacher's own cmd/geth config loader: strict
// field matching so a typo'd config key fails fast instead of silently
// being ignored.
var tomlSettings = toml.Config{
	NormFieldName: func(rt reflect.Type, key string) string { return key },
	FieldToKey:    func(rt reflect.Type, field string) string { return field },
	MissingField: func(rt reflect.Type, field string) error {
		return fmt.Errorf("config: field %q is not defined in %s", field, rt.String())
	},
}

// Weights mirrors queue.Weights with TOML-friendly field names.
type Weights struct {
	Fee    float64
	Age    float64
	Size   float64
	Sender float64
}

// CircuitBreakerConfig mirrors the circuit_breaker { threshold,
// reset_timeout } table from spec.md §6.
type CircuitBreakerConfig struct {
	Threshold    int
	ResetTimeout Duration
}

// CacheConfig mirrors the cache { ... } table from spec.md §6.
type CacheConfig struct {
	L1Max                int
	L1TTL                Duration
	L2URL                string
	L2TTL                Duration
	L3Nodes              int
	L3TTL                Duration
	CompressionThreshold int
	CompressionAlgorithm string
}

// PrefetchConfig mirrors the prefetch { ... } table.
type PrefetchConfig struct {
	Strategy      string
	Threshold     float64
	PatternLength int
	MaxItems      int
}

// RecoveryConfig mirrors the recovery { ... } table.
type RecoveryConfig struct {
	CheckInterval Duration
	MaxAttempts   int
}

// Config is the full recognized-options tree from spec.md §6, plus the
// ambient stack options (store path, listen addresses, JWT secrets) this
// expanded implementation needs to actually run.
type Config struct {
	MaxQueueSize          int
	WorkerCount           int
	PriorityLevels        int
	BatchSize             int
	BatchIntervalMs       int
	AdaptiveIntervalMs    int
	AgingIntervalMs       int
	HighWatermark         float64
	LowWatermark          float64
	PriorityWeights       Weights
	MaxConcurrentBatches  int
	MaxRetries            int
	RetryDelayMs          int
	CircuitBreaker        CircuitBreakerConfig
	Cache                 CacheConfig
	Prefetch              PrefetchConfig
	Recovery              RecoveryConfig

	StoreDir     string
	ListenAddr   string
	JWTSecret    string
	LogLevel     string
	LogFormat    string
}

// Default matches the numeric defaults called out across spec.md.
func Default() Config {
	return Config{
		MaxQueueSize:         100_000,
		WorkerCount:          4,
		PriorityLevels:       10,
		BatchSize:            100,
		BatchIntervalMs:      2000,
		AdaptiveIntervalMs:   60_000,
		AgingIntervalMs:      30_000,
		HighWatermark:        0.8,
		LowWatermark:         0.5,
		PriorityWeights:      Weights{Fee: 0.5, Age: 0.3, Size: 0.1, Sender: 0.1},
		MaxConcurrentBatches: 4,
		MaxRetries:           5,
		RetryDelayMs:         500,
		CircuitBreaker:       CircuitBreakerConfig{Threshold: 5, ResetTimeout: Duration(30 * time.Second)},
		Cache: CacheConfig{
			L1Max:                10_000,
			L1TTL:                Duration(30 * time.Second),
			L2TTL:                Duration(5 * time.Minute),
			L3Nodes:              1,
			L3TTL:                Duration(30 * time.Minute),
			CompressionThreshold: 1024,
			CompressionAlgorithm: "deflate",
		},
		Prefetch: PrefetchConfig{
			Strategy:      "hybrid",
			Threshold:     0.3,
			PatternLength: 3,
			MaxItems:      5,
		},
		Recovery: RecoveryConfig{
			CheckInterval: Duration(30 * time.Second),
			MaxAttempts:   3,
		},
		StoreDir:   "./data",
		ListenAddr: ":8080",
		LogLevel:   "info",
		LogFormat:  "terminal",
	}
}

// Load reads and strictly unmarshals a TOML config file over the
// defaults, so an omitted field keeps its default rather than zeroing.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := tomlSettings.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes cfg back out as TOML, used by an operator-facing "dump
// effective config" command.
func Save(path string, cfg Config) error {
	data, err := tomlSettings.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// --- derived component configs ---

func (c Config) QueueConfig() queue.Config {
	return queue.Config{
		MaxSize:          c.MaxQueueSize,
		HighWatermark:    c.HighWatermark,
		LowWatermark:     c.LowWatermark,
		AgingInterval:    time.Duration(c.AgingIntervalMs) * time.Millisecond,
		AgingFactor:      1.1,
		AdaptiveInterval: time.Duration(c.AdaptiveIntervalMs) * time.Millisecond,
		BatchInterval:    time.Duration(c.BatchIntervalMs) * time.Millisecond,
		BatchJitter:      time.Duration(c.BatchIntervalMs/10) * time.Millisecond,
		BatchSize:        c.BatchSize,
		MaxRetries:       c.MaxRetries,
		Weights: queue.Weights{
			Fee:    c.PriorityWeights.Fee,
			Age:    c.PriorityWeights.Age,
			Size:   c.PriorityWeights.Size,
			Sender: c.PriorityWeights.Sender,
		}.Normalize(),
		Caps: queue.DefaultNormCaps(),
	}
}

func (c Config) CacheConfigValue() cache.Config {
	algo := cache.AlgoDeflate
	if c.Cache.CompressionAlgorithm == "zstd" {
		algo = cache.AlgoZstd
	}
	return cache.Config{
		L1Size:                c.Cache.L1Max,
		L1TTL:                 time.Duration(c.Cache.L1TTL),
		L2Addr:                c.Cache.L2URL,
		L2TTL:                 time.Duration(c.Cache.L2TTL),
		L3Bytes:               c.Cache.L3Nodes * 64 * 1024 * 1024,
		L3TTL:                 time.Duration(c.Cache.L3TTL),
		CompressionThreshold:  c.Cache.CompressionThreshold,
		CompressionAlgorithm:  algo,
		PrefetchPatternLength: c.Prefetch.PatternLength,
		PrefetchThreshold:     c.Prefetch.Threshold,
		PrefetchMaxItems:      c.Prefetch.MaxItems,
		MaxTransitiveDepth:    8,
		PersistInterval:       time.Minute,
	}
}

func (c Config) WorkerPoolConfig() workerpool.Config {
	return workerpool.Config{
		MinWorkers:        c.WorkerCount,
		MaxWorkers:        c.WorkerCount * 4,
		IdleTimeout:       30 * time.Second,
		DefaultTimeout:    10 * time.Second,
		MaxConsecutiveErr: 3,
	}
}

func (c Config) BreakerConfig() breaker.Config {
	return breaker.Config{
		FailureThreshold: c.CircuitBreaker.Threshold,
		Window:           time.Minute,
		ResetTimeout:     time.Duration(c.CircuitBreaker.ResetTimeout),
		MaxRetries:       uint64(c.MaxRetries),
	}
}

func (c Config) SequencerConfig() sequencer.Config {
	return sequencer.Config{
		BatchSize:            c.BatchSize,
		BatchInterval:        time.Duration(c.BatchIntervalMs) * time.Millisecond,
		MaxConcurrentBatches: c.MaxConcurrentBatches,
		DedupCacheSize:       100_000,
		BatchSubmitDeadline:  time.Duration(c.RetryDelayMs) * time.Millisecond * time.Duration(c.MaxRetries+1),
	}
}

func (c Config) RecoveryConfigValue() recovery.Config {
	return recovery.Config{
		CheckInterval: time.Duration(c.Recovery.CheckInterval),
		MaxAttempts:   c.Recovery.MaxAttempts,
	}
}
