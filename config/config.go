package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

const (
	OracleModeManual    = "manual"
	OracleModeChainlink = "chainlink"
)

// Config is the marketd configuration file.
type Config struct {
	ListenAddress    string          `toml:"ListenAddress"`
	DataDir          string          `toml:"DataDir"`
	Owner            string          `toml:"Owner"`
	Treasury         string          `toml:"Treasury"`
	FeeBps           uint64          `toml:"FeeBps"`
	HeartbeatSeconds uint64          `toml:"HeartbeatSeconds"`
	Oracle           OracleConfig    `toml:"Oracle"`
	Chain            ChainConfig     `toml:"Chain"`
	Auth             AuthConfig      `toml:"Auth"`
	RateLimit        RateLimitConfig `toml:"RateLimit"`
	Telemetry        TelemetryConfig `toml:"Telemetry"`
	Log              LogConfig       `toml:"Log"`
}

// Default returns the configuration written when no file exists.
func Default() *Config {
	return &Config{
		ListenAddress:    ":8080",
		DataDir:          "./market-data",
		FeeBps:           100,
		HeartbeatSeconds: 3600,
		Oracle: OracleConfig{
			Mode:           OracleModeManual,
			ManualDecimals: 8,
		},
		Auth: AuthConfig{
			HMACSecretEnv: "DROPMARKET_JWT_SECRET",
			Issuer:        "dropmarket",
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: 600,
			Burst:             60,
			MutationTokens:    5,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load loads the configuration from the given path, creating a default file
// when none exists.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	cfg.normalize()
	return cfg, nil
}

func (c *Config) normalize() {
	c.Oracle.Mode = strings.ToLower(strings.TrimSpace(c.Oracle.Mode))
	if c.Oracle.Mode == "" {
		c.Oracle.Mode = OracleModeManual
	}
	if c.Oracle.ManualDecimals == 0 {
		c.Oracle.ManualDecimals = 8
	}
	c.Owner = strings.TrimSpace(c.Owner)
	c.Treasury = strings.TrimSpace(c.Treasury)
}

// JWTSecret resolves the HMAC secret, preferring the configured environment
// variable over the inline value.
func (c *Config) JWTSecret() string {
	if name := strings.TrimSpace(c.Auth.HMACSecretEnv); name != "" {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			return v
		}
	}
	return strings.TrimSpace(c.Auth.HMACSecret)
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := Default()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
