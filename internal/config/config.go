// Package config loads the control plane's runtime configuration from
// environment variables (optionally via a .env file), per §4.9's
// ambient-env-vars contract. Unlike the teacher's settings-database
// override layer, broker credentials here are never mutable at runtime
// through an HTTP settings endpoint — a live trading control plane's
// credentials are fixed for the life of the process, changed only by a
// restart, so there is no UpdateFromSettings equivalent.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds everything internal/di.Wire needs to construct the
// process's dependency graph.
type Config struct {
	DataDir string // base directory for the embedded sqlite store
	Port    int    // HTTP control-plane port
	LogLevel string
	DevMode  bool

	PaperTrading bool // first-class paper mode — never an auth-failure fallback

	ZerodhaAPIKey      string
	ZerodhaAPISecret   string
	ZerodhaUserID      string
	ZerodhaAccessToken string // obtained by the daily login flow (out of scope, spec §1) and injected here
	ZerodhaSandboxMode bool

	RedisURL    string // reserved for a future networked Store; unused by the embedded sqlite Store
	DatabaseURL string

	MasterUserID    string
	StartingCapital float64
}

// Load reads configuration from the environment (and .env, if present).
// PaperTrading=true is a legitimate, complete configuration with no
// Zerodha credentials at all; with PaperTrading=false, Load fails through
// Validate when the Zerodha credentials are missing.
func Load() (*Config, error) {
	_ = godotenv.Load()

	dataDir := getEnv("TRADER_DATA_DIR", "./data")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("config: create data dir: %w", err)
	}

	cfg := &Config{
		DataDir:  dataDir,
		Port:     getEnvAsInt("GO_PORT", 8001),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		DevMode:  getEnvAsBool("DEV_MODE", false),

		PaperTrading: getEnvAsBool("PAPER_TRADING", false),

		ZerodhaAPIKey:      getEnv("ZERODHA_API_KEY", ""),
		ZerodhaAPISecret:   getEnv("ZERODHA_API_SECRET", ""),
		ZerodhaUserID:      getEnv("ZERODHA_USER_ID", ""),
		ZerodhaAccessToken: getEnv("ZERODHA_ACCESS_TOKEN", ""),
		ZerodhaSandboxMode: getEnvAsBool("ZERODHA_SANDBOX_MODE", false),

		RedisURL:    getEnv("REDIS_URL", ""),
		DatabaseURL: getEnv("DATABASE_URL", ""),

		MasterUserID:    getEnv("MASTER_USER_ID", "master"),
		StartingCapital: getEnvAsFloat("STARTING_CAPITAL", 1_000_000),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate enforces Design Note §9's "no silent mock fallback": live mode
// (PaperTrading=false) must have real Zerodha credentials, or Load fails
// fast at startup rather than limping along with an adapter that can
// never authenticate.
func (c *Config) Validate() error {
	if c.PaperTrading {
		return nil
	}
	if c.ZerodhaAPIKey == "" || c.ZerodhaAPISecret == "" || c.ZerodhaUserID == "" || c.ZerodhaAccessToken == "" {
		return fmt.Errorf("config: live trading requires ZERODHA_API_KEY, ZERODHA_API_SECRET, ZERODHA_USER_ID and ZERODHA_ACCESS_TOKEN (or set PAPER_TRADING=true)")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultValue
}
