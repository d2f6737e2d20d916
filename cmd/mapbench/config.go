package main

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/tinytelemetry/mapbench/internal/ingest"
	"github.com/tinytelemetry/mapbench/internal/model"
	"github.com/tinytelemetry/mapbench/internal/tracesource"
)

const (
	defaultBindHost          = "127.0.0.1"
	defaultAPIPort           = 3000
	defaultQueryTimeout      = 30 * time.Second
	defaultMaxConcurrentRuns = ingest.DefaultMaxConcurrentRuns
	defaultQueueSize         = ingest.DefaultQueueSize
	defaultMuxBufferSize     = DefaultMuxBuffer
	defaultRunRetention      = 0 // days, 0 = keep forever
	defaultBackupInterval    = 6 * time.Hour
	defaultBackupKeepLast    = 24
)

// appConfig is internal runtime configuration.
// It is package-private to keep defaults and shape local to the CLI entrypoint.
type appConfig struct {
	DBPath            string        `mapstructure:"db-path"`
	Host              string        `mapstructure:"host"`
	APIEnabled        bool          `mapstructure:"api-enabled"`
	APIPort           int           `mapstructure:"api-port"`
	APIAddr           string        `mapstructure:"api-addr"`
	QueryTimeout      time.Duration `mapstructure:"query-timeout"`
	MaxConcurrentRuns int           `mapstructure:"max-concurrent-runs"`
	QueueSize         int           `mapstructure:"queue-size"`
	MuxBufferSize     int           `mapstructure:"mux-buffer-size"`

	URLFilter            string `mapstructure:"url-filter"`
	TimeoutMs            int    `mapstructure:"timeout-ms"`
	XStart               int    `mapstructure:"x-start"`
	Action               string `mapstructure:"action"`
	CollapseStartupFrame bool   `mapstructure:"collapse-startup-frame"`
	SnapshotPath         string `mapstructure:"snapshot-path"`

	WatchEnabled bool   `mapstructure:"watch-enabled"`
	WatchDir     string `mapstructure:"watch-dir"`
	WatchPattern string `mapstructure:"watch-pattern"`

	RunRetention int `mapstructure:"run-retention"`

	OTLPEndpoint string `mapstructure:"otlp-endpoint"`
	OTLPInsecure bool   `mapstructure:"otlp-insecure"`

	BackupEnabled        bool          `mapstructure:"backup-enabled"`
	BackupInterval       time.Duration `mapstructure:"backup-interval"`
	BackupLocalDir       string        `mapstructure:"backup-local-dir"`
	BackupKeepLast       int           `mapstructure:"backup-keep-last"`
	BackupBucketURL      string        `mapstructure:"backup-bucket-url"`
	BackupS3Endpoint     string        `mapstructure:"backup-s3-endpoint"`
	BackupS3Region       string        `mapstructure:"backup-s3-region"`
	BackupS3AccessKey    string        `mapstructure:"backup-s3-access-key"`
	BackupS3SecretKey    string        `mapstructure:"backup-s3-secret-key"`
	BackupS3SessionToken string        `mapstructure:"backup-s3-session-token"`
	BackupS3UseSSL       bool          `mapstructure:"backup-s3-use-ssl"`

	ConfigPath string `mapstructure:"-"` // not from config file
}

func loadConfig(configPath string) (appConfig, error) {
	var cfg appConfig

	home, err := os.UserHomeDir()
	if err != nil {
		return cfg, fmt.Errorf("finding home directory: %w", err)
	}

	dataDir := filepath.Join(home, ".local", "share", "mapbench")

	v := viper.New()
	v.SetEnvPrefix("MAPBENCH")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	v.SetDefault("db-path", filepath.Join(dataDir, "mapbench.duckdb"))
	v.SetDefault("host", defaultBindHost)
	v.SetDefault("api-enabled", true)
	v.SetDefault("api-port", defaultAPIPort)
	v.SetDefault("query-timeout", defaultQueryTimeout)
	v.SetDefault("max-concurrent-runs", defaultMaxConcurrentRuns)
	v.SetDefault("queue-size", defaultQueueSize)
	v.SetDefault("mux-buffer-size", defaultMuxBufferSize)
	v.SetDefault("url-filter", model.DefaultURLFilter)
	v.SetDefault("timeout-ms", model.DefaultTimeoutMs)
	v.SetDefault("x-start", 0)
	v.SetDefault("action", model.DefaultAction)
	v.SetDefault("collapse-startup-frame", false)
	v.SetDefault("snapshot-path", "")
	v.SetDefault("watch-enabled", false)
	v.SetDefault("watch-dir", "")
	v.SetDefault("watch-pattern", tracesource.DefaultPattern)
	v.SetDefault("run-retention", defaultRunRetention)
	v.SetDefault("otlp-endpoint", "")
	v.SetDefault("otlp-insecure", false)
	v.SetDefault("backup-enabled", false)
	v.SetDefault("backup-interval", defaultBackupInterval)
	v.SetDefault("backup-local-dir", filepath.Join(dataDir, "backups"))
	v.SetDefault("backup-keep-last", defaultBackupKeepLast)
	v.SetDefault("backup-bucket-url", "")
	v.SetDefault("backup-s3-endpoint", "")
	v.SetDefault("backup-s3-region", "")
	v.SetDefault("backup-s3-access-key", "")
	v.SetDefault("backup-s3-secret-key", "")
	v.SetDefault("backup-s3-session-token", "")
	v.SetDefault("backup-s3-use-ssl", true)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigFile(filepath.Join(home, ".config", "mapbench", "config.yml"))
	}

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFound) && !os.IsNotExist(err) {
			return cfg, err
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, err
	}
	cfg.ConfigPath = v.ConfigFileUsed()
	if _, err := os.Stat(cfg.ConfigPath); err != nil {
		cfg.ConfigPath = ""
	}

	cfg.DBPath = expandHome(home, cfg.DBPath)
	cfg.SnapshotPath = expandHome(home, cfg.SnapshotPath)
	cfg.WatchDir = expandHome(home, cfg.WatchDir)
	cfg.BackupLocalDir = expandHome(home, cfg.BackupLocalDir)

	if err := cfg.validate(); err != nil {
		return cfg, err
	}

	if cfg.Host == "" {
		cfg.Host = defaultBindHost
	}
	if cfg.APIAddr == "" {
		cfg.APIAddr = net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.APIPort))
	}
	return cfg, nil
}

func (c appConfig) validate() error {
	if c.APIPort <= 0 || c.APIPort > 65535 {
		return fmt.Errorf("invalid api-port: %d", c.APIPort)
	}
	if c.MaxConcurrentRuns <= 0 {
		return fmt.Errorf("invalid max-concurrent-runs: %d", c.MaxConcurrentRuns)
	}
	if c.TimeoutMs <= 0 {
		return fmt.Errorf("invalid timeout-ms: %d", c.TimeoutMs)
	}
	if c.XStart < 0 {
		return fmt.Errorf("invalid x-start: %d", c.XStart)
	}
	if c.RunRetention < 0 {
		return fmt.Errorf("invalid run-retention: %d", c.RunRetention)
	}
	if c.WatchEnabled && c.WatchDir == "" {
		return errors.New("watch-dir is required when watch-enabled is set")
	}
	if c.BackupEnabled {
		if c.BackupInterval <= 0 {
			return fmt.Errorf("invalid backup-interval: %s", c.BackupInterval)
		}
		if c.BackupKeepLast <= 0 {
			return fmt.Errorf("invalid backup-keep-last: %d", c.BackupKeepLast)
		}
		if (c.BackupS3AccessKey == "") != (c.BackupS3SecretKey == "") {
			return errors.New("backup-s3-access-key and backup-s3-secret-key must be set together")
		}
	}
	return nil
}

func expandHome(home, path string) string {
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(home, path[2:])
	}
	return path
}
