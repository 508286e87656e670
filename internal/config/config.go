package config

import (
	"fmt"
	"os"
	"time"

	"github.com/titanous/json5"
)

// Config is the root configuration for the evogate gateway.
type Config struct {
	Evolution EvolutionConfig `json:"evolution"`
	Provider  ProviderConfig  `json:"provider"`
	Pool      PoolConfig      `json:"pool"`
	Cache     CacheConfig     `json:"cache"`
	Gateway   GatewayConfig   `json:"gateway"`
	Database  DatabaseConfig  `json:"database,omitempty"`
}

// EvolutionConfig configures the Evolution API connection.
// APIKey is NEVER read from config.json (secret) — only from env EVOGATE_EVOLUTION_API_KEY.
type EvolutionConfig struct {
	APIURL   string `json:"api_url"`
	Instance string `json:"instance"`
	APIKey   string `json:"-"` // from env EVOGATE_EVOLUTION_API_KEY only
	// SendRatePerSec bounds outbound message sends (WhatsApp anti-ban).
	SendRatePerSec float64 `json:"send_rate_per_sec,omitempty"`
	SendBurst      int     `json:"send_burst,omitempty"`
}

// ProviderConfig configures the LLM provider used for bot sessions.
type ProviderConfig struct {
	APIBase    string `json:"api_base,omitempty"`
	APIKey     string `json:"-"` // from env EVOGATE_PROVIDER_API_KEY only
	Model      string `json:"model"`
	MaxTokens  int    `json:"max_tokens,omitempty"`
	PromptFile string `json:"prompt_file"`
}

// PoolConfig controls the bot pool and its inactivity monitor.
type PoolConfig struct {
	MinIdle           int      `json:"min_idle"`
	MaxTotal          int      `json:"max_total,omitempty"` // 0 = unbounded
	InactivityTimeout Duration `json:"inactivity_timeout"`
	SweepInterval     Duration `json:"sweep_interval"`
}

// CacheConfig controls the customer lookup cache.
type CacheConfig struct {
	TTL Duration `json:"ttl"`
}

// GatewayConfig holds gateway-level timing knobs.
type GatewayConfig struct {
	// ResponseWait bounds how long the websocket callback blocks for a reply
	// before sending the fallback message.
	ResponseWait  Duration `json:"response_wait"`
	ShutdownGrace Duration `json:"shutdown_grace"`
}

// DatabaseConfig configures Postgres persistence.
// PostgresDSN is env-only (EVOGATE_POSTGRES_DSN); persistence is disabled when unset.
type DatabaseConfig struct {
	PostgresDSN string `json:"-"`
}

// Duration is a time.Duration that unmarshals from JSON strings like "30s" or "20m".
type Duration time.Duration

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json5.Unmarshal(data, &s); err == nil {
		parsed, perr := time.ParseDuration(s)
		if perr != nil {
			return fmt.Errorf("parse duration %q: %w", s, perr)
		}
		*d = Duration(parsed)
		return nil
	}
	var n float64
	if err := json5.Unmarshal(data, &n); err != nil {
		return err
	}
	*d = Duration(time.Duration(n) * time.Second)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Evolution: EvolutionConfig{
			APIURL:         "http://localhost:8080",
			SendRatePerSec: 1,
			SendBurst:      3,
		},
		Provider: ProviderConfig{
			Model:      "gpt-4o-mini",
			MaxTokens:  1024,
			PromptFile: "prompts/initial_prompt.txt",
		},
		Pool: PoolConfig{
			MinIdle:           3,
			MaxTotal:          0,
			InactivityTimeout: Duration(20 * time.Minute),
			SweepInterval:     Duration(30 * time.Second),
		},
		Cache: CacheConfig{
			TTL: Duration(10 * time.Minute),
		},
		Gateway: GatewayConfig{
			ResponseWait:  Duration(30 * time.Second),
			ShutdownGrace: Duration(10 * time.Second),
		},
	}
}

// Load reads config from a JSON file, then overlays env vars.
// A missing file is not an error — defaults plus env apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envStr("EVOGATE_EVOLUTION_API_URL", &c.Evolution.APIURL)
	envStr("EVOGATE_EVOLUTION_INSTANCE", &c.Evolution.Instance)
	envStr("EVOGATE_EVOLUTION_API_KEY", &c.Evolution.APIKey)
	envStr("EVOGATE_PROVIDER_API_KEY", &c.Provider.APIKey)
	envStr("EVOGATE_PROVIDER_API_BASE", &c.Provider.APIBase)
	envStr("EVOGATE_PROVIDER_MODEL", &c.Provider.Model)
	envStr("EVOGATE_PROMPT_FILE", &c.Provider.PromptFile)
	envStr("EVOGATE_POSTGRES_DSN", &c.Database.PostgresDSN)
}

// Validate checks the fields without which the gateway cannot start.
func (c *Config) Validate() error {
	if c.Evolution.APIURL == "" {
		return fmt.Errorf("evolution.api_url is required")
	}
	if c.Evolution.Instance == "" {
		return fmt.Errorf("evolution.instance is required (or EVOGATE_EVOLUTION_INSTANCE)")
	}
	if c.Evolution.APIKey == "" {
		return fmt.Errorf("EVOGATE_EVOLUTION_API_KEY environment variable is not set")
	}
	if c.Pool.MinIdle < 0 {
		return fmt.Errorf("pool.min_idle must be >= 0")
	}
	if c.Pool.MaxTotal > 0 && c.Pool.MaxTotal < c.Pool.MinIdle {
		return fmt.Errorf("pool.max_total (%d) must be >= pool.min_idle (%d)", c.Pool.MaxTotal, c.Pool.MinIdle)
	}
	return nil
}
