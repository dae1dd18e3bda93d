// Package config loads the docfeed process configuration from a YAML file
// and the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the top-level docfeed configuration.
type Config struct {
	Listen         string   `yaml:"listen"`
	DBPath         string   `yaml:"db_path"`
	AllowedOrigins []string `yaml:"allowed_origins"`

	Browser  BrowserConfig  `yaml:"browser"`
	Delivery DeliveryConfig `yaml:"delivery"`
	Extract  ExtractConfig  `yaml:"extract"`
	S3       S3Config       `yaml:"s3"`

	// SettingsPoll is how often stored settings are checked for changes.
	SettingsPoll time.Duration `yaml:"settings_poll"`
	// JournalRetention bounds the age of delivery events kept.
	JournalRetention time.Duration `yaml:"journal_retention"`
}

// BrowserConfig selects the chat page and how to reach Chrome.
type BrowserConfig struct {
	ChatURL        string        `yaml:"chat_url"`
	Remote         string        `yaml:"remote"`
	Headless       bool          `yaml:"headless"`
	PromptSelector string        `yaml:"prompt_selector"`
	BusySelector   string        `yaml:"busy_selector"`
	Signatures     []string      `yaml:"signatures"`
	InjectDelay    time.Duration `yaml:"inject_delay"`
}

// DeliveryConfig controls pacing.
type DeliveryConfig struct {
	PollInterval     time.Duration `yaml:"poll_interval"`
	SubmitDelay      time.Duration `yaml:"submit_delay"`
	RecoveryCooldown time.Duration `yaml:"recovery_cooldown"`
}

// ExtractConfig controls text extraction.
type ExtractConfig struct {
	MaxFileSize    int64  `yaml:"max_file_size"`
	PDFEngine      string `yaml:"pdf_engine"` // ledongthuc | pdfcpu
	ArchiveWorkers int    `yaml:"archive_workers"`
}

// S3Config holds credentials for s3:// sources. Empty keys use the AWS
// default credential chain.
type S3Config struct {
	Region    string `yaml:"region"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Endpoint  string `yaml:"endpoint"`
}

// Load reads the YAML file at path (optional), loads .env files into the
// environment, applies DOCFEED_* overrides and fills in defaults.
func Load(path string, logger *slog.Logger, envFiles ...string) (*Config, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	if err := loadEnvFiles(envFiles...); err != nil {
		return nil, err
	}
	cfg.applyEnv(os.LookupEnv, logger)
	cfg.applyDefaults()
	return &cfg, nil
}

// loadEnvFiles loads the given files, or ".env", skipping missing ones.
// Variables already set in the environment win.
func loadEnvFiles(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("config: load %s: %w", f, err)
		}
	}
	return nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool), logger *slog.Logger) {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("DOCFEED_LISTEN", &c.Listen)
	str("DOCFEED_DB", &c.DBPath)
	str("DOCFEED_CHAT_URL", &c.Browser.ChatURL)
	str("DOCFEED_BROWSER_REMOTE", &c.Browser.Remote)
	str("DOCFEED_PDF_ENGINE", &c.Extract.PDFEngine)
	str("DOCFEED_S3_REGION", &c.S3.Region)
	str("DOCFEED_S3_ACCESS_KEY", &c.S3.AccessKey)
	str("DOCFEED_S3_SECRET_KEY", &c.S3.SecretKey)
	str("DOCFEED_S3_ENDPOINT", &c.S3.Endpoint)

	if v, ok := lookup("DOCFEED_MAX_FILE_SIZE"); ok && v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n <= 0 {
			logger.Warn("config: invalid DOCFEED_MAX_FILE_SIZE, using default", "value", v)
		} else {
			c.Extract.MaxFileSize = n
		}
	}
	if v, ok := lookup("DOCFEED_ARCHIVE_WORKERS"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			logger.Warn("config: invalid DOCFEED_ARCHIVE_WORKERS, using default", "value", v)
		} else {
			c.Extract.ArchiveWorkers = n
		}
	}
	if v, ok := lookup("DOCFEED_RECOVERY_COOLDOWN"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			logger.Warn("config: invalid DOCFEED_RECOVERY_COOLDOWN, using default", "value", v)
		} else {
			c.Delivery.RecoveryCooldown = d
		}
	}
}

func (c *Config) applyDefaults() {
	if c.Listen == "" {
		c.Listen = "127.0.0.1:8420"
	}
	if c.DBPath == "" {
		c.DBPath = "docfeed.db"
	}
	if c.Browser.ChatURL == "" {
		c.Browser.ChatURL = "https://chatgpt.com/"
	}
	if c.Delivery.PollInterval <= 0 {
		c.Delivery.PollInterval = time.Second
	}
	if c.Delivery.SubmitDelay <= 0 {
		c.Delivery.SubmitDelay = time.Second
	}
	if c.Delivery.RecoveryCooldown <= 0 {
		c.Delivery.RecoveryCooldown = 90 * time.Second
	}
	if c.Extract.MaxFileSize <= 0 {
		c.Extract.MaxFileSize = 100 << 20
	}
	if c.Extract.PDFEngine == "" {
		c.Extract.PDFEngine = "ledongthuc"
	}
	if c.Extract.ArchiveWorkers <= 0 {
		c.Extract.ArchiveWorkers = 4
	}
	if c.SettingsPoll <= 0 {
		c.SettingsPoll = 2 * time.Second
	}
	if c.JournalRetention <= 0 {
		c.JournalRetention = 30 * 24 * time.Hour
	}
}
