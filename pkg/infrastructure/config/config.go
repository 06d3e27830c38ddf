package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the runtime configuration of the BOM engine
type Config struct {
	Store   StoreConfig   `yaml:"store"`
	Engine  EngineConfig  `yaml:"engine"`
	HTTP    HTTPConfig    `yaml:"http"`
	Log     LogConfig     `yaml:"log"`
	Costs   CostsConfig   `yaml:"costs"`
	Tracing TracingConfig `yaml:"tracing"`
}

// StoreConfig selects the composition store backend
type StoreConfig struct {
	Driver string `yaml:"driver"` // memory, sqlite or postgres
	DSN    string `yaml:"dsn"`
}

// EngineConfig tunes explosion and versioning
type EngineConfig struct {
	MaxDepth       int `yaml:"max_depth"`
	VersionRetries int `yaml:"version_retries"`
}

type HTTPConfig struct {
	Addr           string   `yaml:"addr"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type LogConfig struct {
	Mode string `yaml:"mode"`
}

// CostsConfig selects where unit costs come from
type CostsConfig struct {
	Source    string `yaml:"source"` // table or redis
	File      string `yaml:"file"`   // CSV for the table source
	RedisAddr string `yaml:"redis_addr"`
	RedisKey  string `yaml:"redis_key"`
}

// TracingConfig controls the OpenTelemetry tracer provider. Disabled by default.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	ServiceName string  `yaml:"service_name"`
	Exporter    string  `yaml:"exporter"` // stdout or otlp
	Endpoint    string  `yaml:"endpoint"` // host:port of an OTLP/HTTP collector
	Insecure    bool    `yaml:"insecure"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

// DefaultConfig returns a configuration that runs fully in memory
func DefaultConfig() Config {
	return Config{
		Store: StoreConfig{
			Driver: "memory",
		},
		Engine: EngineConfig{
			MaxDepth:       50,
			VersionRetries: 3,
		},
		HTTP: HTTPConfig{
			Addr: ":8080",
		},
		Log: LogConfig{
			Mode: "dev",
		},
		Costs: CostsConfig{
			Source:   "table",
			RedisKey: "bom:unit_costs",
		},
		Tracing: TracingConfig{
			ServiceName: "bomengine",
			Exporter:    "stdout",
			SampleRatio: 0.1,
		},
	}
}

// Load reads the YAML file at path over the defaults, then applies BOM_*
// environment overrides. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		file, err := os.Open(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to open config: %w", err)
		}
		defer file.Close()

		decoder := yaml.NewDecoder(file)
		decoder.KnownFields(true)
		if err := decoder.Decode(&cfg); err != nil {
			return cfg, fmt.Errorf("YAML syntax error in config: %w", err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects settings the engine cannot run with
func (c Config) Validate() error {
	switch c.Store.Driver {
	case "memory":
	case "sqlite", "postgres":
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required for driver %s", c.Store.Driver)
		}
	default:
		return fmt.Errorf("unsupported store driver: %s", c.Store.Driver)
	}
	if c.Engine.MaxDepth < 1 {
		return fmt.Errorf("engine.max_depth must be positive, got %d", c.Engine.MaxDepth)
	}
	if c.Engine.VersionRetries < 0 {
		return fmt.Errorf("engine.version_retries cannot be negative, got %d", c.Engine.VersionRetries)
	}
	switch c.Costs.Source {
	case "table":
	case "redis":
		if c.Costs.RedisAddr == "" {
			return fmt.Errorf("costs.redis_addr is required for the redis cost source")
		}
	default:
		return fmt.Errorf("unsupported cost source: %s", c.Costs.Source)
	}
	if c.Tracing.Enabled {
		switch c.Tracing.Exporter {
		case "stdout":
		case "otlp":
			if c.Tracing.Endpoint == "" {
				return fmt.Errorf("tracing.endpoint is required for the otlp exporter")
			}
		default:
			return fmt.Errorf("unsupported trace exporter: %s", c.Tracing.Exporter)
		}
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.Store.Driver = envString("BOM_STORE_DRIVER", cfg.Store.Driver)
	cfg.Store.DSN = envString("BOM_STORE_DSN", cfg.Store.DSN)
	cfg.Engine.MaxDepth = envInt("BOM_MAX_DEPTH", cfg.Engine.MaxDepth)
	cfg.Engine.VersionRetries = envInt("BOM_VERSION_RETRIES", cfg.Engine.VersionRetries)
	cfg.HTTP.Addr = envString("BOM_HTTP_ADDR", cfg.HTTP.Addr)
	if origins := envString("BOM_HTTP_ALLOWED_ORIGINS", ""); origins != "" {
		cfg.HTTP.AllowedOrigins = nil
		for _, origin := range strings.Split(origins, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				cfg.HTTP.AllowedOrigins = append(cfg.HTTP.AllowedOrigins, origin)
			}
		}
	}
	cfg.Log.Mode = envString("BOM_LOG_MODE", cfg.Log.Mode)
	cfg.Costs.Source = envString("BOM_COSTS_SOURCE", cfg.Costs.Source)
	cfg.Costs.File = envString("BOM_COSTS_FILE", cfg.Costs.File)
	cfg.Costs.RedisAddr = envString("BOM_REDIS_ADDR", cfg.Costs.RedisAddr)
	cfg.Costs.RedisKey = envString("BOM_REDIS_KEY", cfg.Costs.RedisKey)
	cfg.Tracing.Enabled = envBool("BOM_TRACING_ENABLED", cfg.Tracing.Enabled)
	cfg.Tracing.Exporter = envString("BOM_TRACING_EXPORTER", cfg.Tracing.Exporter)
	cfg.Tracing.Endpoint = envString("BOM_TRACING_ENDPOINT", cfg.Tracing.Endpoint)
}

func envString(name, def string) string {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	return v
}

func envBool(name string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(name))) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}

func envInt(name string, def int) int {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}
