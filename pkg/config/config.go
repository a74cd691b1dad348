package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Key binds one API key to the principal whose task list it opens. Keys are
// a list rather than a map because viper lowercases map keys.
type Key struct {
	Key       string `mapstructure:"key"`
	Principal string `mapstructure:"principal"`
}

type Log struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type Config struct {
	ListenAddr         string        `mapstructure:"listen_addr"`
	LivenessWindow     time.Duration `mapstructure:"liveness_window"`
	PingInterval       time.Duration `mapstructure:"ping_interval"`
	SweepInterval      time.Duration `mapstructure:"sweep_interval"`
	WriteTimeout       time.Duration `mapstructure:"write_timeout"`
	OutboundQueue      int           `mapstructure:"outbound_queue"`
	DBPath             string        `mapstructure:"db_path"`
	CheckpointInterval time.Duration `mapstructure:"checkpoint_interval"`
	Keys               []Key         `mapstructure:"keys"`
	Log                Log           `mapstructure:"log"`
}

func DefaultConfig() Config {
	return Config{
		ListenAddr:         "localhost:8080",
		LivenessWindow:     30 * time.Second,
		PingInterval:       10 * time.Second,
		SweepInterval:      5 * time.Second,
		WriteTimeout:       10 * time.Second,
		OutboundQueue:      256,
		CheckpointInterval: 5 * time.Second,
		Log:                Log{Level: "info", Format: "text"},
	}
}

// Load reads the optional YAML file at path and applies TODOSYNC_* environment
// overrides (TODOSYNC_LISTEN_ADDR, TODOSYNC_LOG_LEVEL, ...) on top of the
// defaults.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	v := viper.New()
	v.SetEnvPrefix("TODOSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, cfg)

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return cfg, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// AutomaticEnv only applies to keys viper already knows about.
func setDefaults(v *viper.Viper, cfg Config) {
	v.SetDefault("listen_addr", cfg.ListenAddr)
	v.SetDefault("liveness_window", cfg.LivenessWindow)
	v.SetDefault("ping_interval", cfg.PingInterval)
	v.SetDefault("sweep_interval", cfg.SweepInterval)
	v.SetDefault("write_timeout", cfg.WriteTimeout)
	v.SetDefault("outbound_queue", cfg.OutboundQueue)
	v.SetDefault("db_path", cfg.DBPath)
	v.SetDefault("checkpoint_interval", cfg.CheckpointInterval)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
}

func (c Config) Validate() error {
	var errs []error
	if c.ListenAddr == "" {
		errs = append(errs, errors.New("listen_addr must be set"))
	}
	if c.LivenessWindow <= 0 {
		errs = append(errs, errors.New("liveness_window must be positive"))
	}
	if c.PingInterval <= 0 || c.PingInterval >= c.LivenessWindow {
		errs = append(errs, errors.New("ping_interval must be positive and shorter than liveness_window"))
	}
	if c.SweepInterval <= 0 {
		errs = append(errs, errors.New("sweep_interval must be positive"))
	}
	if c.WriteTimeout <= 0 {
		errs = append(errs, errors.New("write_timeout must be positive"))
	}
	if c.OutboundQueue <= 0 {
		errs = append(errs, errors.New("outbound_queue must be positive"))
	}
	if c.DBPath != "" && c.CheckpointInterval <= 0 {
		errs = append(errs, errors.New("checkpoint_interval must be positive when db_path is set"))
	}
	seen := make(map[string]struct{}, len(c.Keys))
	for i, k := range c.Keys {
		if k.Key == "" || k.Principal == "" {
			errs = append(errs, fmt.Errorf("keys[%d] needs both key and principal", i))
			continue
		}
		if _, ok := seen[k.Key]; ok {
			errs = append(errs, fmt.Errorf("keys[%d] is a duplicate", i))
		}
		seen[k.Key] = struct{}{}
	}
	return errors.Join(errs...)
}

// KeyTable returns the configured keys as key → principal.
func (c Config) KeyTable() map[string]string {
	out := make(map[string]string, len(c.Keys))
	for _, k := range c.Keys {
		out[k.Key] = k.Principal
	}
	return out
}

// Handler builds the slog handler described by the log section.
func (l Log) Handler(w io.Writer) slog.Handler {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(l.Format, "json") {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// DefaultCachePath is where the client keeps its connection cache.
func DefaultCachePath() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "todosync", "cache.yaml")
	}
	return ".todosync-cache.yaml"
}
