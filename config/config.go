package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config keeps all settings of the service.
type Config struct {
	DatabaseURL    string
	SteamAPIKey    string
	ServiceToken   string
	ListenAddr     string
	AllowedOrigins []string

	CoordinatorURL string
	CSGOAPIEnabled bool
	DemoParserBin  string

	R2AccountID       string
	R2AccessKeyID     string
	R2AccessKeySecret string
	R2BucketName      string
	CDNBaseURL        string

	UpdateCoalesceDelay  time.Duration
	StatsRefreshInterval time.Duration
}

// ArchiveEnabled reports whether demo/attachment uploads are configured.
func (c *Config) ArchiveEnabled() bool {
	return c.R2AccountID != "" && c.R2BucketName != ""
}

// Load reads the configuration from the environment, loading a .env file first when present.
func Load() (*Config, error) {
	cfg := LoadChild()
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.SteamAPIKey = os.Getenv("STEAM_API_KEY")
	cfg.ServiceToken = os.Getenv("SERVICE_TOKEN")
	cfg.ListenAddr = getenv("LISTEN_ADDR", ":5200")
	cfg.CoordinatorURL = os.Getenv("COORDINATOR_URL")

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable is not set")
	}
	if cfg.SteamAPIKey == "" {
		return nil, fmt.Errorf("STEAM_API_KEY environment variable is not set")
	}
	if cfg.ServiceToken == "" {
		return nil, fmt.Errorf("SERVICE_TOKEN environment variable is not set")
	}

	for _, origin := range strings.Split(getenv("ALLOWED_ORIGINS", "http://localhost:3000"), ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			cfg.AllowedOrigins = append(cfg.AllowedOrigins, origin)
		}
	}

	enabled, err := strconv.ParseBool(getenv("CSGO_API_ENABLED", "true"))
	if err != nil {
		return nil, fmt.Errorf("invalid CSGO_API_ENABLED: %w", err)
	}
	cfg.CSGOAPIEnabled = enabled

	if cfg.UpdateCoalesceDelay, err = time.ParseDuration(getenv("UPDATE_COALESCE_DELAY", "5s")); err != nil {
		return nil, fmt.Errorf("invalid UPDATE_COALESCE_DELAY: %w", err)
	}
	if cfg.StatsRefreshInterval, err = time.ParseDuration(getenv("STATS_REFRESH_INTERVAL", "1h")); err != nil {
		return nil, fmt.Errorf("invalid STATS_REFRESH_INTERVAL: %w", err)
	}
	if cfg.StatsRefreshInterval <= 0 {
		return nil, fmt.Errorf("STATS_REFRESH_INTERVAL must be positive, got %s", cfg.StatsRefreshInterval)
	}

	return cfg, nil
}

// LoadChild reads the settings used by the demo enrichment child. None are required.
func LoadChild() *Config {
	_ = godotenv.Load()
	return &Config{
		DemoParserBin:     getenv("DEMO_PARSER_BIN", "demoparser"),
		R2AccountID:       os.Getenv("CLOUDFLARE_ACCOUNT_ID"),
		R2AccessKeyID:     os.Getenv("R2_ACCESS_KEY_ID"),
		R2AccessKeySecret: os.Getenv("R2_ACCESS_KEY_SECRET"),
		R2BucketName:      os.Getenv("R2_BUCKET_NAME"),
		CDNBaseURL:        os.Getenv("CDN_BASE_URL"),
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
