// Package config holds process-wide settings for the retrieval fusion engine.
// Settings load from a YAML file with environment overrides for secrets.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration document.
type Config struct {
	Server   ServerConfig             `yaml:"server"`
	Backends BackendsConfig           `yaml:"backends"`
	LM       LMConfig                 `yaml:"lm"`
	Embedder EmbedderConfig           `yaml:"embedder"`
	Cache    CacheConfig              `yaml:"cache"`
	Router   RouterConfig             `yaml:"router"`
	Breakers map[string]BreakerConfig `yaml:"breaker"`
	Retry    map[string]RetryConfig   `yaml:"retry"`
	Context  ContextConfig            `yaml:"context"`
	Tracing  TracingConfig            `yaml:"tracing"`
}

type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

type BackendsConfig struct {
	Graph  GraphBackendConfig  `yaml:"graph"`
	Search SearchBackendConfig `yaml:"search"`
	Market MarketBackendConfig `yaml:"market"`
}

type GraphBackendConfig struct {
	URL       string `yaml:"url"`
	User      string `yaml:"user"`
	Password  string `yaml:"password"`
	Database  string `yaml:"database"`
	TimeoutMS int    `yaml:"timeout_ms"`
}

type SearchBackendConfig struct {
	URL          string  `yaml:"url"`
	User         string  `yaml:"user"`
	Password     string  `yaml:"password"`
	Index        string  `yaml:"index"`
	VectorField  string  `yaml:"vector_field"`
	LexicalBoost float64 `yaml:"lexical_boost"`
	VectorBoost  float64 `yaml:"vector_boost"`
	TimeoutMS    int     `yaml:"timeout_ms"`
}

type MarketBackendConfig struct {
	URL       string `yaml:"url"`
	APIKey    string `yaml:"api_key"`
	TimeoutMS int    `yaml:"timeout_ms"`
}

// LMConfig carries the two-model strategy: a small fast model for the fast
// path and a larger one for the deep workflow.
type LMConfig struct {
	BaseURL     string `yaml:"base_url"`
	APIKey      string `yaml:"api_key"`
	ChatModel   string `yaml:"chat_model"`
	ReportModel string `yaml:"report_model"`
	TimeoutMS   int    `yaml:"timeout_ms"`
}

type EmbedderConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	Dim     int    `yaml:"dim"`
}

type CacheConfig struct {
	L1 L1Config `yaml:"l1"`
	L2 L2Config `yaml:"l2"`
	L3 L3Config `yaml:"l3"`
}

type L1Config struct {
	MaxItems    int `yaml:"max_items"`
	MaxMB       int `yaml:"max_mb"`
	DefaultTTLS int `yaml:"default_ttl_s"`
}

type L2Config struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Prefix  string `yaml:"prefix"`
	TTLS    int    `yaml:"ttl_s"`
}

type L3Config struct {
	Enabled bool    `yaml:"enabled"`
	Dir     string  `yaml:"dir"`
	MaxGB   float64 `yaml:"max_gb"`
	TTLS    int     `yaml:"ttl_s"`
}

type RouterConfig struct {
	DeepThreshold     float64       `yaml:"deep_threshold"`
	ForceDeepOverride bool          `yaml:"force_deep_override"`
	DepthTimeoutsS    DepthTimeouts `yaml:"depth_timeouts_s"`
	MaxDeepInFlight   int           `yaml:"max_deep_in_flight"`
	BackendSlots      int           `yaml:"backend_slots"`
}

type DepthTimeouts struct {
	Shallow       int `yaml:"shallow"`
	Standard      int `yaml:"standard"`
	Deep          int `yaml:"deep"`
	Comprehensive int `yaml:"comprehensive"`
}

type BreakerConfig struct {
	FailureThreshold int `yaml:"failure_threshold"`
	RecoveryS        int `yaml:"recovery_s"`
	CallTimeoutS     int `yaml:"call_timeout_s"`
	HalfOpenProbes   int `yaml:"half_open_probes"`
}

type RetryConfig struct {
	MaxAttempts   int     `yaml:"max_attempts"`
	InitialDelayS float64 `yaml:"initial_delay_s"`
	MaxDelayS     float64 `yaml:"max_delay_s"`
	Strategy      string  `yaml:"strategy"` // fixed | linear | exponential | exponential_jitter
	Jitter        float64 `yaml:"jitter"`
}

type ContextConfig struct {
	// GraphSearchKeys maps a node label to the attributes searched for it.
	GraphSearchKeys map[string][]string `yaml:"graph_search_keys"`
	LookbackDays    int                 `yaml:"lookback_days"`
}

type TracingConfig struct {
	Enabled bool   `yaml:"enabled"`
	Secret  string `yaml:"secret"`
	Public  string `yaml:"public"`
	Host    string `yaml:"host"`
}

// Default returns the configuration used when no file is supplied. Values
// mirror the production deployment defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8000,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 210 * time.Second, // must outlast the comprehensive deep deadline
			IdleTimeout:  60 * time.Second,
		},
		Backends: BackendsConfig{
			Graph: GraphBackendConfig{
				URL: "bolt://localhost:7687", User: "neo4j", Database: "neo4j", TimeoutMS: 5000,
			},
			Search: SearchBackendConfig{
				URL: "http://localhost:9200", Index: "news_article_bulk",
				VectorField: "vector_field", LexicalBoost: 1.0, VectorBoost: 0.8, TimeoutMS: 5000,
			},
			Market: MarketBackendConfig{URL: "http://localhost:8400", TimeoutMS: 3000},
		},
		LM: LMConfig{
			BaseURL:     "http://localhost:11434/v1",
			ChatModel:   "llama3.1:8b",
			ReportModel: "gemma3:27b",
			TimeoutMS:   45000,
		},
		Embedder: EmbedderConfig{BaseURL: "http://localhost:11434/v1", Model: "bge-m3", Dim: 1024},
		Cache: CacheConfig{
			L1: L1Config{MaxItems: 2000, MaxMB: 100, DefaultTTLS: 600},
			L2: L2Config{Enabled: false, Prefix: "ontochat", TTLS: 3600},
			L3: L3Config{Enabled: false, Dir: "data/cache", MaxGB: 2, TTLS: 86400},
		},
		Router: RouterConfig{
			DeepThreshold:   0.85,
			DepthTimeoutsS:  DepthTimeouts{Shallow: 60, Standard: 90, Deep: 120, Comprehensive: 180},
			MaxDeepInFlight: 4,
			BackendSlots:    16,
		},
		Breakers: map[string]BreakerConfig{
			"graph":  {FailureThreshold: 5, RecoveryS: 60, CallTimeoutS: 15, HalfOpenProbes: 3},
			"search": {FailureThreshold: 5, RecoveryS: 30, CallTimeoutS: 10, HalfOpenProbes: 2},
			"market": {FailureThreshold: 4, RecoveryS: 30, CallTimeoutS: 5, HalfOpenProbes: 2},
			"lm":     {FailureThreshold: 3, RecoveryS: 60, CallTimeoutS: 45, HalfOpenProbes: 2},
			"embed":  {FailureThreshold: 4, RecoveryS: 30, CallTimeoutS: 10, HalfOpenProbes: 2},
		},
		Retry: map[string]RetryConfig{
			"default": {MaxAttempts: 3, InitialDelayS: 0.2, MaxDelayS: 2, Strategy: "exponential_jitter", Jitter: 0.1},
			"market":  {MaxAttempts: 2, InitialDelayS: 0.1, MaxDelayS: 1, Strategy: "fixed"},
		},
		Context: ContextConfig{
			GraphSearchKeys: map[string][]string{
				"Company":    {"name"},
				"News":       {"title", "content"},
				"Event":      {"title", "summary"},
				"Technology": {"name"},
				"Theme":      {"name"},
				"Program":    {"name"},
				"Agency":     {"name"},
			},
			LookbackDays: 180,
		},
	}
}

// Load reads a YAML file over the defaults and applies environment overrides
// for credentials.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("NEO4J_PASSWORD"); v != "" {
		c.Backends.Graph.Password = v
	}
	if v := os.Getenv("OPENSEARCH_PASSWORD"); v != "" {
		c.Backends.Search.Password = v
	}
	if v := os.Getenv("STOCK_API_KEY"); v != "" {
		c.Backends.Market.APIKey = v
	}
	if v := os.Getenv("LM_API_KEY"); v != "" {
		c.LM.APIKey = v
	}
	if v := os.Getenv("LANGFUSE_SECRET_KEY"); v != "" {
		c.Tracing.Secret = v
	}
	if v := os.Getenv("LANGFUSE_PUBLIC_KEY"); v != "" {
		c.Tracing.Public = v
	}
}

func (c *Config) validate() error {
	if c.Router.DeepThreshold <= 0 || c.Router.DeepThreshold > 1 {
		return fmt.Errorf("router.deep_threshold must be in (0,1], got %v", c.Router.DeepThreshold)
	}
	if c.Cache.L1.MaxItems <= 0 {
		return fmt.Errorf("cache.l1.max_items must be positive")
	}
	for name, b := range c.Breakers {
		if b.FailureThreshold <= 0 {
			return fmt.Errorf("breaker.%s.failure_threshold must be positive", name)
		}
	}
	return nil
}

// Breaker returns the breaker settings for a named backend, falling back to a
// conservative default for unknown names.
func (c *Config) Breaker(name string) BreakerConfig {
	if b, ok := c.Breakers[name]; ok {
		return b
	}
	return BreakerConfig{FailureThreshold: 5, RecoveryS: 60, CallTimeoutS: 10, HalfOpenProbes: 2}
}

// RetryPolicy returns the retry settings for a named policy.
func (c *Config) RetryPolicy(name string) RetryConfig {
	if r, ok := c.Retry[name]; ok {
		return r
	}
	return c.Retry["default"]
}

// DepthTimeout resolves the overall deep-path deadline for an analysis depth.
func (c *Config) DepthTimeout(depth string) time.Duration {
	t := c.Router.DepthTimeoutsS
	switch depth {
	case "shallow":
		return time.Duration(t.Shallow) * time.Second
	case "deep":
		return time.Duration(t.Deep) * time.Second
	case "comprehensive":
		return time.Duration(t.Comprehensive) * time.Second
	default:
		return time.Duration(t.Standard) * time.Second
	}
}
