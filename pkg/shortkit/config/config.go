package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds the server configuration, loaded once at startup
type Config struct {
	ServerAddress      string
	BaseURL            string
	DatabaseDSN        string
	RedisURL           string
	ShortCodeLength    int
	CleanupUnusedDays  int
	CleanupInterval    time.Duration
	RateLimitPerMinute int
}

// Load reads configuration from environment variables, with an
// optional .env file and sane defaults. Environment always wins
// over the .env file.
func Load() *Config {
	viper.SetDefault("SERVER_ADDRESS", ":8080")
	viper.SetDefault("BASE_URL", "http://localhost:8080")
	viper.SetDefault("DATABASE_DSN", "shortkit.db")
	viper.SetDefault("REDIS_URL", "")
	viper.SetDefault("SHORTCODE_LENGTH", 6)
	viper.SetDefault("CLEANUP_UNUSED_LINKS_DAYS", 90)
	viper.SetDefault("CLEANUP_JOB_INTERVAL_HOURS", 24)
	viper.SetDefault("RATE_LIMIT_PER_MINUTE", 60)

	viper.AutomaticEnv()

	// Read .env if present; a missing file is not an error
	viper.SetConfigFile(".env")
	_ = viper.ReadInConfig()

	return &Config{
		ServerAddress:      viper.GetString("SERVER_ADDRESS"),
		BaseURL:            viper.GetString("BASE_URL"),
		DatabaseDSN:        viper.GetString("DATABASE_DSN"),
		RedisURL:           viper.GetString("REDIS_URL"),
		ShortCodeLength:    viper.GetInt("SHORTCODE_LENGTH"),
		CleanupUnusedDays:  viper.GetInt("CLEANUP_UNUSED_LINKS_DAYS"),
		CleanupInterval:    time.Duration(viper.GetInt("CLEANUP_JOB_INTERVAL_HOURS")) * time.Hour,
		RateLimitPerMinute: viper.GetInt("RATE_LIMIT_PER_MINUTE"),
	}
}

// ShortURL composes the public short URL for a code
func (c *Config) ShortURL(code string) string {
	return fmt.Sprintf("%s/%s", c.BaseURL, code)
}
