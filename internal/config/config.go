// Package config holds the core's configuration surface: one Config struct
// loaded from YAML, with environment overrides and hot reload.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"siteguard/internal/logging"
)

// Config holds all monitoring-core configuration (spec §6).
type Config struct {
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	Browser    BrowserConfig    `yaml:"browser"`
	Detector   DetectorConfig   `yaml:"detector"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Vectorizer VectorizerConfig `yaml:"vectorizer"`
	Retry      RetryConfig      `yaml:"retry"`
	Breaker    BreakerConfig    `yaml:"breaker"`
	StorePath  string           `yaml:"store_path"`
}

// SchedulerConfig is the `scheduler.*` key group.
type SchedulerConfig struct {
	MaxConcurrentJobs   int `yaml:"max_concurrent_jobs"`
	MisfireGraceSeconds int `yaml:"misfire_grace_seconds"`
}

// BrowserConfig is the `browser.*` key group.
type BrowserConfig struct {
	PoolSize            int  `yaml:"pool_size"`
	NavigationTimeoutMs int  `yaml:"navigation_timeout_ms"`
	BlockImages         bool `yaml:"block_images"`
	BlockMedia          bool `yaml:"block_media"`
}

// DetectorConfig is the `detector.*` key group.
type DetectorConfig struct {
	SimilarityThreshold      float64 `yaml:"similarity_threshold"`
	StructuralThreshold      float64 `yaml:"structural_threshold"`
	CriticalChangeThreshold  float64 `yaml:"critical_change_threshold"`
}

// ClassifierConfig is the `classifier.*` key group.
type ClassifierConfig struct {
	BaseWeights          map[string]float64 `yaml:"base_weights"`
	ConfidenceThresholds map[string]float64 `yaml:"confidence_thresholds"`
	LLMTimeoutSeconds    int                `yaml:"llm_timeout_seconds"`
	LLMMaxTokens         int                `yaml:"llm_max_tokens"`
	LLMAPIKey            string             `yaml:"-"`
	LLMModel             string             `yaml:"llm_model"`
}

// VectorizerConfig is the `vectorizer.*` key group.
type VectorizerConfig struct {
	MaxContentLength int `yaml:"max_content_length"`
	ChunkThreshold   int `yaml:"chunk_threshold"`
	// Dimension is the embedding vector width requested from the
	// configured provider (spec §6's Vector.dimension).
	Dimension int `yaml:"dimension"`
}

// RetryConfig is the `retry.*` key group.
type RetryConfig struct {
	MaxAttempts     int     `yaml:"max_attempts"`
	InitialDelay    string  `yaml:"initial_delay"`
	MaxDelay        string  `yaml:"max_delay"`
	ExponentialBase float64 `yaml:"exponential_base"`
	Jitter          bool    `yaml:"jitter"`
}

// BreakerConfig is the `breaker.*` key group.
type BreakerConfig struct {
	FailureThreshold       int `yaml:"failure_threshold"`
	RecoveryTimeoutSeconds int `yaml:"recovery_timeout_seconds"`
}

// DefaultConfig returns every default named in spec §6.
func DefaultConfig() *Config {
	return &Config{
		StorePath: "data/siteguard.db",
		Scheduler: SchedulerConfig{
			MaxConcurrentJobs:   10,
			MisfireGraceSeconds: 30,
		},
		Browser: BrowserConfig{
			PoolSize:            3,
			NavigationTimeoutMs: 30000,
			BlockImages:         true,
			BlockMedia:          true,
		},
		Detector: DetectorConfig{
			SimilarityThreshold:     0.85,
			StructuralThreshold:     0.90,
			CriticalChangeThreshold: 0.50,
		},
		Classifier: ClassifierConfig{
			BaseWeights: map[string]float64{
				"llm": 0.5, "semantic": 0.3, "rules": 0.2,
			},
			ConfidenceThresholds: map[string]float64{
				"very_high": 0.8, "high": 0.6, "medium": 0.4, "low": 0.2,
			},
			LLMTimeoutSeconds: 20,
			LLMMaxTokens:      512,
			LLMModel:          "gemini-2.0-flash",
		},
		Vectorizer: VectorizerConfig{
			MaxContentLength: 20000,
			ChunkThreshold:   4000,
			Dimension:        3072,
		},
		Retry: RetryConfig{
			MaxAttempts:     5,
			InitialDelay:    "1s",
			MaxDelay:        "5m",
			ExponentialBase: 2.0,
			Jitter:          true,
		},
		Breaker: BreakerConfig{
			FailureThreshold:       5,
			RecoveryTimeoutSeconds: 60,
		},
	}
}

// Load reads a YAML config file, falling back to defaults if it does not
// exist, then applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	logging.BootDebug("loading config from %s", path)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			logging.Boot("config file not found, using defaults: %s", path)
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.applyEnvOverrides()
	logging.Boot("config loaded from %s", path)
	return cfg, nil
}

// Save writes the config back out as YAML.
func (c *Config) Save(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return nil
}

// applyEnvOverrides lets deployment-time secrets and tuning override the
// file without editing it (mirrors the teacher's env override pattern).
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("SITEGUARD_LLM_API_KEY"); key != "" {
		c.Classifier.LLMAPIKey = key
	}
	if model := os.Getenv("SITEGUARD_LLM_MODEL"); model != "" {
		c.Classifier.LLMModel = model
	}
	if path := os.Getenv("SITEGUARD_STORE_PATH"); path != "" {
		c.StorePath = path
	}
	if v := os.Getenv("SITEGUARD_MAX_CONCURRENT_JOBS"); v != "" {
		if n, err := parsePositiveInt(v); err == nil {
			c.Scheduler.MaxConcurrentJobs = n
		}
	}
}

func parsePositiveInt(s string) (int, error) {
	var n int
	if _, err := fmt.Sscanf(s, "%d", &n); err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, fmt.Errorf("value must be positive: %q", s)
	}
	return n, nil
}
