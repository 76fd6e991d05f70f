package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config captures the settings required to boot the decision engine.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Engine    EngineConfig    `yaml:"engine"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Weaviate  WeaviateConfig  `yaml:"weaviate"`
	Playbooks PlaybooksConfig `yaml:"playbooks"`
	Inference InferenceConfig `yaml:"inference"`
	Audit     AuditConfig     `yaml:"audit"`
	Redis     RedisConfig     `yaml:"redis"`
	Publisher PublisherConfig `yaml:"publisher"`
	Trigger   TriggerConfig   `yaml:"trigger"`
	State     StateConfig     `yaml:"state"`
	Logging   LoggingConfig   `yaml:"logging"`
	Cache     CacheConfig     `yaml:"cache"`
}

// ServerConfig controls gRPC and HTTP listener behaviour.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// EngineConfig holds the decision guardrails. ConfidenceFloor, Window and TopK
// have no built-in default and must be configured explicitly.
type EngineConfig struct {
	ConfidenceFloor *float64      `yaml:"confidenceFloor"`
	Window          time.Duration `yaml:"window"`
	TopK            int           `yaml:"topK"`
	EmbeddingDims   int           `yaml:"embeddingDims"`
	MaxPromptBytes  int           `yaml:"maxPromptBytes"`
	Regions         []string      `yaml:"regions"`
	Thresholds      *Thresholds   `yaml:"thresholds"`
}

// Thresholds are the numeric cutoffs spelled out to the inference backend.
type Thresholds struct {
	DegradedErrorRate   float64            `yaml:"degradedErrorRate"`
	CriticalErrorRate   float64            `yaml:"criticalErrorRate"`
	CriticalRegionCount int                `yaml:"criticalRegionCount"`
	TimeoutStreak       int                `yaml:"timeoutStreak"`
	LatencyBudgetMS     map[string]float64 `yaml:"latencyBudgetMs"`
	CriticalLatencyMS   float64            `yaml:"criticalLatencyMs"`
}

// TelemetryConfig selects the analytical store.
type TelemetryConfig struct {
	Driver  string        `yaml:"driver"`
	DSN     string        `yaml:"dsn"`
	Timeout time.Duration `yaml:"timeout"`
}

// WeaviateConfig configures the playbook similarity index.
type WeaviateConfig struct {
	Endpoint string        `yaml:"endpoint"`
	APIKey   string        `yaml:"apiKey"`
	Class    string        `yaml:"class"`
	Timeout  time.Duration `yaml:"timeout"`
}

// PlaybooksConfig points at a local playbook file used when Weaviate is not configured.
type PlaybooksConfig struct {
	Path string `yaml:"path"`
}

// InferenceConfig controls the generative backend.
type InferenceConfig struct {
	Provider    string        `yaml:"provider"`
	Endpoint    string        `yaml:"endpoint"`
	Model       string        `yaml:"model"`
	APIKey      string        `yaml:"apiKey"`
	Temperature float64       `yaml:"temperature"`
	MaxTokens   int           `yaml:"maxTokens"`
	Timeout     time.Duration `yaml:"timeout"`
	RulesPath   string        `yaml:"rulesPath"`
}

// AuditConfig selects the audit trail backend.
type AuditConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// RedisConfig configures the shared Redis/Valkey connection.
type RedisConfig struct {
	Addr         string        `yaml:"addr"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	MaxRetries   int           `yaml:"maxRetries"`
	TLS          bool          `yaml:"tls"`
}

// PublisherConfig controls the execution-layer intake.
type PublisherConfig struct {
	IntakeStream     string        `yaml:"intakeStream"`
	EscalationStream string        `yaml:"escalationStream"`
	DedupTTL         time.Duration `yaml:"dedupTTL"`
}

// TriggerConfig controls the telemetry-batch event consumer.
type TriggerConfig struct {
	Enabled          bool          `yaml:"enabled"`
	Stream           string        `yaml:"stream"`
	Group            string        `yaml:"group"`
	Consumer         string        `yaml:"consumer"`
	Block            time.Duration `yaml:"block"`
	MaxCycleAttempts int           `yaml:"maxCycleAttempts"`
	RatePerTarget    float64       `yaml:"ratePerTarget"`
	Burst            int           `yaml:"burst"`
	CycleTimeout     time.Duration `yaml:"cycleTimeout"`
}

// StateConfig controls persistence of the last accepted decision per target.
type StateConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// CacheConfig controls Redis-backed caching of expensive lookups.
type CacheConfig struct {
	Enabled      bool          `yaml:"enabled"`
	PlaybooksTTL time.Duration `yaml:"playbooksTTL"`
}

// Load initialises Config from a YAML file and optional environment overrides.
// A .env file in the working directory is loaded first when present.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	if path == "" {
		path = os.Getenv("SENTINEL_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the settings the engine refuses to guess.
func (c *Config) Validate() error {
	var errs []error
	if c.Engine.ConfidenceFloor == nil {
		errs = append(errs, errors.New("engine.confidenceFloor is required"))
	} else if f := *c.Engine.ConfidenceFloor; f < 0 || f > 1 {
		errs = append(errs, fmt.Errorf("engine.confidenceFloor must be within [0,1], got %v", f))
	}
	if c.Engine.Window <= 0 {
		errs = append(errs, errors.New("engine.window is required"))
	}
	if c.Engine.TopK <= 0 {
		errs = append(errs, errors.New("engine.topK is required"))
	}
	if c.Engine.Thresholds == nil {
		errs = append(errs, errors.New("engine.thresholds is required"))
	} else {
		t := c.Engine.Thresholds
		if t.DegradedErrorRate <= 0 || t.CriticalErrorRate <= 0 {
			errs = append(errs, errors.New("engine.thresholds error rates must be positive"))
		}
		if t.CriticalErrorRate < t.DegradedErrorRate {
			errs = append(errs, errors.New("engine.thresholds.criticalErrorRate must not be below degradedErrorRate"))
		}
		if t.CriticalRegionCount <= 0 {
			errs = append(errs, errors.New("engine.thresholds.criticalRegionCount is required"))
		}
	}
	switch c.Telemetry.Driver {
	case "postgres", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("telemetry.driver %q is not supported", c.Telemetry.Driver))
	}
	switch c.Audit.Driver {
	case "postgres", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("audit.driver %q is not supported", c.Audit.Driver))
	}
	switch c.Inference.Provider {
	case "gemini", "rules":
	default:
		errs = append(errs, fmt.Errorf("inference.provider %q is not supported", c.Inference.Provider))
	}
	if c.Trigger.Enabled && c.Redis.Addr == "" {
		errs = append(errs, errors.New("trigger.enabled requires redis.addr"))
	}
	return errors.Join(errs...)
}

// ConfidenceFloor returns the configured floor; Validate guarantees it is set.
func (c *Config) ConfidenceFloor() float64 {
	if c.Engine.ConfidenceFloor == nil {
		return 1
	}
	return *c.Engine.ConfidenceFloor
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":50051",
			MetricsAddress:  ":2112",
			GracefulTimeout: 10 * time.Second,
		},
		Engine: EngineConfig{
			EmbeddingDims:  256,
			MaxPromptBytes: 24 << 10,
		},
		Telemetry: TelemetryConfig{Driver: "postgres", Timeout: 5 * time.Second},
		Weaviate:  WeaviateConfig{Class: "Playbook", Timeout: 5 * time.Second},
		Inference: InferenceConfig{
			Provider:    "gemini",
			Endpoint:    "https://generativelanguage.googleapis.com/v1beta",
			Model:       "gemini-2.5-flash",
			Temperature: 0.1,
			MaxTokens:   2048,
			Timeout:     20 * time.Second,
		},
		Audit: AuditConfig{Driver: "postgres"},
		Redis: RedisConfig{
			DialTimeout:  2 * time.Second,
			ReadTimeout:  500 * time.Millisecond,
			WriteTimeout: 500 * time.Millisecond,
			MaxRetries:   2,
		},
		Publisher: PublisherConfig{
			IntakeStream:     "sentinel:decisions",
			EscalationStream: "sentinel:escalations",
			DedupTTL:         24 * time.Hour,
		},
		Trigger: TriggerConfig{
			Stream:           "sentinel:telemetry-batches",
			Group:            "sentinel-brain",
			Consumer:         hostnameOr("sentinel-brain"),
			Block:            5 * time.Second,
			MaxCycleAttempts: 2,
			RatePerTarget:    1,
			Burst:            2,
			CycleTimeout:     45 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
		Cache:   CacheConfig{Enabled: false, PlaybooksTTL: 2 * time.Minute},
	}
}

func hostnameOr(fallback string) string {
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	return fallback
}

func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("SENTINEL_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("SENTINEL_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("SENTINEL_CONFIDENCE_FLOOR"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("SENTINEL_CONFIDENCE_FLOOR: %w", err)
		}
		cfg.Engine.ConfidenceFloor = &f
	}
	if v := os.Getenv("SENTINEL_WINDOW"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("SENTINEL_WINDOW: %w", err)
		}
		cfg.Engine.Window = d
	}
	if v := os.Getenv("SENTINEL_TOP_K"); v != "" {
		k, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("SENTINEL_TOP_K: %w", err)
		}
		cfg.Engine.TopK = k
	}
	if v := os.Getenv("SENTINEL_REGIONS"); v != "" {
		cfg.Engine.Regions = splitList(v)
	}
	if v := os.Getenv("SENTINEL_TELEMETRY_DRIVER"); v != "" {
		cfg.Telemetry.Driver = v
	}
	if v := os.Getenv("SENTINEL_TELEMETRY_DSN"); v != "" {
		cfg.Telemetry.DSN = v
	}
	if v := os.Getenv("SENTINEL_WEAVIATE_URL"); v != "" {
		cfg.Weaviate.Endpoint = v
	}
	if v := os.Getenv("SENTINEL_WEAVIATE_API_KEY"); v != "" {
		cfg.Weaviate.APIKey = v
	}
	if v := os.Getenv("SENTINEL_PLAYBOOKS_PATH"); v != "" {
		cfg.Playbooks.Path = v
	}
	if v := os.Getenv("SENTINEL_INFERENCE_PROVIDER"); v != "" {
		cfg.Inference.Provider = v
	}
	if v := os.Getenv("SENTINEL_INFERENCE_ENDPOINT"); v != "" {
		cfg.Inference.Endpoint = v
	}
	if v := os.Getenv("SENTINEL_INFERENCE_MODEL"); v != "" {
		cfg.Inference.Model = v
	}
	if v := os.Getenv("SENTINEL_INFERENCE_API_KEY"); v != "" {
		cfg.Inference.APIKey = v
	}
	if v := os.Getenv("SENTINEL_INFERENCE_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("SENTINEL_INFERENCE_TIMEOUT: %w", err)
		}
		cfg.Inference.Timeout = d
	}
	if v := os.Getenv("SENTINEL_RULES_PATH"); v != "" {
		cfg.Inference.RulesPath = v
	}
	if v := os.Getenv("SENTINEL_AUDIT_DRIVER"); v != "" {
		cfg.Audit.Driver = v
	}
	if v := os.Getenv("SENTINEL_AUDIT_DSN"); v != "" {
		cfg.Audit.DSN = v
	}
	if v := os.Getenv("SENTINEL_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("SENTINEL_REDIS_USERNAME"); v != "" {
		cfg.Redis.Username = v
	}
	if v := os.Getenv("SENTINEL_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("SENTINEL_REDIS_DB"); v != "" {
		db, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("SENTINEL_REDIS_DB: %w", err)
		}
		cfg.Redis.DB = db
	}
	if v := os.Getenv("SENTINEL_REDIS_TLS"); strings.EqualFold(v, "true") || v == "1" {
		cfg.Redis.TLS = true
	}
	if v := os.Getenv("SENTINEL_CACHE_ENABLED"); v != "" {
		cfg.Cache.Enabled = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("SENTINEL_TRIGGER_ENABLED"); v != "" {
		cfg.Trigger.Enabled = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("SENTINEL_STATE_PATH"); v != "" {
		cfg.State.Path = v
	}
	if v := os.Getenv("SENTINEL_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("SENTINEL_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	return nil
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
