package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config struct for environment variables.
type Config struct {
	Deluge struct {
		URL       string `required:"true"`
		Password  string `required:"true"`
		DataDir   string `split_words:"true" required:"true"`
		ConfigDir string `split_words:"true" required:"true"`
	}

	Transmission struct {
		URL       string `required:"true"`
		Username  string
		Password  string
		DataDir   string `split_words:"true" required:"true"`
		ConfigDir string `split_words:"true"`
	}

	InsecureSkipVerify bool          `envconfig:"INSECURE_SKIP_VERIFY" default:"true"`
	RequestTimeout     time.Duration `envconfig:"REQUEST_TIMEOUT" default:"30s"`
	AllowEmpty         bool          `envconfig:"ALLOW_EMPTY" default:"false"`
	LogLevel           string        `envconfig:"LOG_LEVEL" default:"INFO"`
	DiscordWebhookURL  string        `envconfig:"DISCORD_WEBHOOK_URL"`

	Telemetry struct {
		Enabled      bool          `default:"false"`
		BindAddress  string        `split_words:"true" default:"0.0.0.0:9090"`
		OTLPEndpoint string        `split_words:"true"`
		OTLPInsecure bool          `split_words:"true" default:"true"`
		Linger       time.Duration `default:"0s"`
	}
}

// LoadConfig reads environment variables and populates the Config struct.
// Variables from envFiles are loaded first without overriding the environment.
func LoadConfig(envFiles ...string) (*Config, error) {
	if len(envFiles) > 0 {
		if err := godotenv.Load(envFiles...); err != nil {
			return nil, fmt.Errorf("error loading env file: %w", err)
		}
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("error processing env: %w", err)
	}

	return &cfg, nil
}

func (c *Config) SlogLevel() slog.Level {
	return ParseLevel(c.LogLevel)
}

// ParseLevel maps DEBUG/INFO/WARN/ERROR to a slog level, defaulting to INFO.
func ParseLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
