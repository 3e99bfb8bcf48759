// Package config loads the server/client process configuration via Viper,
// binding environment variables and an optional config file, and watches
// the file for live-reloadable fields (rate limits, sync limits).
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the fully-resolved process configuration.
type Config struct {
	ListenAddr string `mapstructure:"listen_addr"`
	AdminAddr  string `mapstructure:"admin_addr"`
	NodeID     string `mapstructure:"node_id"`

	AmqpURI string `mapstructure:"amqp_uri"`

	RateLimits struct {
		MaxInboundMessagesPerWindow int           `mapstructure:"max_inbound_messages_per_window"`
		RateWindow                  time.Duration `mapstructure:"rate_window"`
		MaxEnvelopeBytes            int           `mapstructure:"max_envelope_bytes"`
		CloseOnRateLimit            bool          `mapstructure:"close_on_rate_limit"`
		CloseOnOversize             bool          `mapstructure:"close_on_oversize"`
	} `mapstructure:"rate_limits"`

	SyncLimits struct {
		DefaultLimit int `mapstructure:"default_limit"`
		MinLimit     int `mapstructure:"min_limit"`
		MaxLimit     int `mapstructure:"max_limit"`
	} `mapstructure:"sync_limits"`

	Reconnect struct {
		Enabled          bool          `mapstructure:"enabled"`
		InitialDelay     time.Duration `mapstructure:"initial_delay"`
		MaxDelay         time.Duration `mapstructure:"max_delay"`
		Factor           float64       `mapstructure:"factor"`
		Jitter           float64       `mapstructure:"jitter"`
		MaxAttempts      int           `mapstructure:"max_attempts"`
		HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	} `mapstructure:"reconnect"`

	AuthzCacheSize int `mapstructure:"authz_cache_size"`

	SQLiteClientStorePath string `mapstructure:"sqlite_client_store_path"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen_addr", ":8443")
	v.SetDefault("admin_addr", ":8080")
	v.SetDefault("node_id", "node-1")

	v.SetDefault("rate_limits.max_inbound_messages_per_window", 100)
	v.SetDefault("rate_limits.rate_window", time.Second)
	v.SetDefault("rate_limits.max_envelope_bytes", 1<<20)
	v.SetDefault("rate_limits.close_on_rate_limit", false)
	v.SetDefault("rate_limits.close_on_oversize", true)

	v.SetDefault("sync_limits.default_limit", 500)
	v.SetDefault("sync_limits.min_limit", 1)
	v.SetDefault("sync_limits.max_limit", 1000)

	v.SetDefault("reconnect.enabled", true)
	v.SetDefault("reconnect.initial_delay", 500*time.Millisecond)
	v.SetDefault("reconnect.max_delay", 30*time.Second)
	v.SetDefault("reconnect.factor", 2.0)
	v.SetDefault("reconnect.jitter", 0.2)
	v.SetDefault("reconnect.max_attempts", 0)
	v.SetDefault("reconnect.handshake_timeout", 10*time.Second)

	v.SetDefault("authz_cache_size", 4096)
	v.SetDefault("sqlite_client_store_path", "./client-store.db")
}

// Load builds a Config from (in ascending precedence) defaults, an
// optional config file, SYNC_ENGINE_* environment variables, and CLI
// flags already parsed into flags.
func Load(configFile string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("sync_engine")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("config: bind flags: %w", err)
		}
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return &cfg, nil
}

// WatchReload re-unmarshals the config on every file change and invokes
// onChange with the updated value. Only rate/sync limits are expected to
// be meaningfully live-reloadable; transport addresses take effect on
// restart only.
func WatchReload(v *viper.Viper, logger *slog.Logger, onChange func(*Config)) {
	v.OnConfigChange(func(e fsnotify.Event) {
		var cfg Config
		if err := v.Unmarshal(&cfg); err != nil {
			logger.Error("CONFIG_RELOAD_FAILED", "err", err)
			return
		}
		logger.Info("CONFIG_RELOADED", "file", e.Name)
		onChange(&cfg)
	})
	v.WatchConfig()
}
