package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// S3Config holds S3-compatible storage settings for backups.
type S3Config struct {
	Endpoint  string `yaml:"endpoint"`
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
}

// BackupConfig controls scheduled encrypted backups.
type BackupConfig struct {
	S3 S3Config `yaml:"s3"`
	// Passphrase derives the encryption key. Backups are skipped without one.
	Passphrase string `yaml:"passphrase"`
	// Schedule is a five-field cron expression.
	Schedule      string `yaml:"schedule"`
	RetentionDays int    `yaml:"retention_days"`
}

// Config is the top-level application configuration.
type Config struct {
	Port      string `yaml:"port"`
	DBPath    string `yaml:"db_path"`
	BaseURL   string `yaml:"base_url"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// DigestSchedule is the cron expression for the daily agenda push.
	// Empty disables the digest.
	DigestSchedule string `yaml:"digest_schedule"`

	// ChatRateLimit is the number of chat messages one owner may send per minute.
	ChatRateLimit int `yaml:"chat_rate_limit"`

	Backup BackupConfig `yaml:"backup"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Port:           "8080",
		DBPath:         "eventecho.db",
		LogLevel:       "info",
		LogFormat:      "text",
		DigestSchedule: "0 8 * * *",
		ChatRateLimit:  30,
		Backup: BackupConfig{
			Schedule:      "0 3 * * *",
			RetentionDays: 30,
		},
	}
}

// Load builds the configuration from defaults, then the YAML file at path
// (skipped when path is empty or the file does not exist), then EVENTECHO_*
// environment variables.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	if err := cfg.applyEnv(os.Getenv); err != nil {
		return nil, err
	}
	cfg.normalize()
	return cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	setString := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) error {
		v := getenv(key)
		if v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = n
		return nil
	}

	setString("EVENTECHO_PORT", &c.Port)
	setString("EVENTECHO_DB_PATH", &c.DBPath)
	setString("EVENTECHO_BASE_URL", &c.BaseURL)
	setString("EVENTECHO_LOG_LEVEL", &c.LogLevel)
	setString("EVENTECHO_LOG_FORMAT", &c.LogFormat)
	setString("EVENTECHO_DIGEST_SCHEDULE", &c.DigestSchedule)
	if err := setInt("EVENTECHO_CHAT_RATE_LIMIT", &c.ChatRateLimit); err != nil {
		return err
	}

	setString("EVENTECHO_S3_ENDPOINT", &c.Backup.S3.Endpoint)
	setString("EVENTECHO_S3_BUCKET", &c.Backup.S3.Bucket)
	setString("EVENTECHO_S3_REGION", &c.Backup.S3.Region)
	setString("EVENTECHO_S3_ACCESS_KEY", &c.Backup.S3.AccessKey)
	setString("EVENTECHO_S3_SECRET_KEY", &c.Backup.S3.SecretKey)
	setString("EVENTECHO_BACKUP_PASSPHRASE", &c.Backup.Passphrase)
	setString("EVENTECHO_BACKUP_SCHEDULE", &c.Backup.Schedule)
	return setInt("EVENTECHO_BACKUP_RETENTION_DAYS", &c.Backup.RetentionDays)
}

func (c *Config) normalize() {
	if c.Port == "" {
		c.Port = "8080"
	}
	if c.DBPath == "" {
		c.DBPath = "eventecho.db"
	}
	if c.BaseURL == "" {
		c.BaseURL = "http://localhost:" + c.Port
	}
	if c.ChatRateLimit <= 0 {
		c.ChatRateLimit = 30
	}
	if c.Backup.S3.Region == "" {
		c.Backup.S3.Region = "us-east-1"
	}
	if c.Backup.RetentionDays <= 0 {
		c.Backup.RetentionDays = 30
	}
}
