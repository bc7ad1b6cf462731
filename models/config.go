// Package models defines data structures for configuration, content records
// and per-record outcomes.
package models

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/joho/godotenv"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/spf13/viper"
)

// DefaultConfigName is looked up as fdtdb.yaml in the search paths.
const DefaultConfigName = "fdtdb"

// Config holds runtime configuration. Values come from fdtdb.yaml, FDTDB_*
// environment variables (a .env file is loaded first) and CLI flags, in
// increasing precedence.
type Config struct {
	DBDir     string            `mapstructure:"db_dir"`
	DataDir   string            `mapstructure:"data_dir"`
	ReportDir string            `mapstructure:"report_dir"`
	Sources   map[string]string `mapstructure:"sources"`

	// Exclude holds gitignore-style patterns skipped by every source walk.
	Exclude     []string `mapstructure:"exclude"`
	Workers     int      `mapstructure:"workers"`
	EnglishOnly bool     `mapstructure:"english_only"`

	Upload UploadConfig `mapstructure:"upload"`
}

// UploadConfig points at the S3-compatible bucket published generations are
// copied to.
type UploadConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	Bucket    string `mapstructure:"bucket"`
	Prefix    string `mapstructure:"prefix"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

// Enabled reports whether enough is configured to attempt an upload.
func (u UploadConfig) Enabled() bool {
	return u.Endpoint != "" && u.Bucket != ""
}

// SourceDir returns the source directory for a domain: an explicit
// sources.<domain> entry, else <data_dir>/<domain>.
func (c *Config) SourceDir(domain string) string {
	if dir, ok := c.Sources[domain]; ok && dir != "" {
		return dir
	}
	return filepath.Join(c.DataDir, domain)
}

// DefaultWorkers is one worker per physical core, capped at 8.
func DefaultWorkers() int {
	n, err := cpu.Counts(false)
	if err != nil || n < 1 {
		n = runtime.NumCPU()
	}
	if n > 8 {
		n = 8
	}
	return n
}

// LoadConfig reads configuration from file, .env and environment.
// An empty configPath searches "." and $HOME/.config/fdtdb.
func LoadConfig(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName(DefaultConfigName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", DefaultConfigName))
		}
	}

	v.SetDefault("db_dir", filepath.Join("db", "all_dbs"))
	v.SetDefault("data_dir", "data")
	v.SetDefault("report_dir", "reports")
	v.SetDefault("sources", map[string]string{})
	v.SetDefault("exclude", []string{".git/", "*.tmp", ".DS_Store"})
	v.SetDefault("workers", DefaultWorkers())
	v.SetDefault("english_only", false)
	v.SetDefault("upload.endpoint", "")
	v.SetDefault("upload.bucket", "")
	v.SetDefault("upload.prefix", "")
	v.SetDefault("upload.access_key", "")
	v.SetDefault("upload.secret_key", "")
	v.SetDefault("upload.use_ssl", true)

	v.SetEnvPrefix("FDTDB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv() // FDTDB_DB_DIR, FDTDB_UPLOAD_BUCKET, ...

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	return &cfg, nil
}
