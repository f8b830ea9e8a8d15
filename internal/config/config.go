package config

import (
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config struct for environment variables.
type Config struct {
	BaseURL   string `envconfig:"BASE_URL" required:"true"`
	RemoteDir string `envconfig:"REMOTE_DIR" default:"/"`
	TargetDir string `envconfig:"TARGET_DIR" required:"true"`

	FTPAddr     string        `envconfig:"FTP_ADDR"`
	FTPUsername string        `envconfig:"FTP_USERNAME" default:"anonymous"`
	FTPPassword string        `envconfig:"FTP_PASSWORD"`
	FTPTimeout  time.Duration `envconfig:"FTP_TIMEOUT" default:"30s"`

	MaxParallel     int           `envconfig:"MAX_PARALLEL" default:"3"`
	MaxRetries      int           `envconfig:"MAX_RETRIES" default:"3"`
	DownloadTimeout time.Duration `envconfig:"DOWNLOAD_TIMEOUT" default:"30s"`

	Prefix string `envconfig:"PREFIX"`
	Suffix string `envconfig:"SUFFIX"`

	VerifyChecksums bool   `envconfig:"VERIFY_CHECKSUMS" default:"false"`
	ChecksumExt     string `envconfig:"CHECKSUM_EXT" default:"md5"`
	ChecksumField   int    `envconfig:"CHECKSUM_FIELD" default:"0"`

	RunOnce        bool          `envconfig:"RUN_ONCE" default:"false"`
	UpdateInterval time.Duration `envconfig:"UPDATE_INTERVAL" default:"10m"`

	LogLevel          string `envconfig:"LOG_LEVEL" default:"INFO"`
	DBPath            string `envconfig:"DB_PATH" default:"mirror.db"`
	JournalEnabled    bool   `envconfig:"JOURNAL_ENABLED" default:"true"`
	DiscordWebhookURL string `envconfig:"DISCORD_WEBHOOK_URL"`

	Telemetry struct {
		Enabled        bool   `split_words:"true" default:"true"`
		Exporter       string `split_words:"true" default:"prometheus"`
		OTLPEndpoint   string `envconfig:"TELEMETRY_OTLP_ENDPOINT"`
		ServiceName    string `split_words:"true" default:"mirror_downloader"`
		ServiceVersion string `split_words:"true" default:"dev"`
	}

	Web struct {
		BindAddress     string        `split_words:"true" default:"0.0.0.0:9092"`
		ReadTimeout     time.Duration `split_words:"true" default:"30s"`
		WriteTimeout    time.Duration `split_words:"true" default:"30s"`
		IdleTimeout     time.Duration `split_words:"true" default:"5s"`
		ShutdownTimeout time.Duration `split_words:"true" default:"30s"`
	}
}

// LoadConfig reads environment variables and populates the Config struct.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("error processing env: %w", err)
	}

	return &cfg, nil
}

func (c *Config) SlogLevel() slog.Level {
	switch strings.ToUpper(c.LogLevel) {
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

// FTPAddress returns the listing server address. When FTP_ADDR is unset it is
// derived from BASE_URL's host on the standard FTP port.
func (c *Config) FTPAddress() (string, error) {
	if c.FTPAddr != "" {
		return c.FTPAddr, nil
	}

	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return "", fmt.Errorf("failed to parse base URL: %w", err)
	}

	if u.Hostname() == "" {
		return "", fmt.Errorf("base URL %q has no host", c.BaseURL)
	}

	return net.JoinHostPort(u.Hostname(), "21"), nil
}
