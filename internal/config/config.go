package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full application configuration, loaded from
// configs/config.yml with PULSEBOARD_* environment overrides.
type Config struct {
	Port string `mapstructure:"port"`

	DB     DBConfig     `mapstructure:"db"`
	Log    LogConfig    `mapstructure:"log"`
	Auth   AuthConfig   `mapstructure:"auth"`
	Engine EngineConfig `mapstructure:"engine"`
	Guard  GuardConfig  `mapstructure:"guard"`
}

type DBConfig struct {
	Path string `mapstructure:"path"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type AuthConfig struct {
	SigningKey string `mapstructure:"signing_key"`
	TokenTTLh  int    `mapstructure:"token_ttl_h"`
}

// EngineConfig tunes the scheduler and executor.
type EngineConfig struct {
	TickIntervalMs int `mapstructure:"tick_interval_ms"`
	MaxPerTick     int `mapstructure:"max_per_tick"`
	CacheTTLMs     int `mapstructure:"cache_ttl_ms"` // 0 disables the freshness cache
}

// GuardConfig tunes the execution guard.
type GuardConfig struct {
	MaxDepth   int `mapstructure:"max_depth"`
	WindowMs   int `mapstructure:"window_ms"`
	MaxCalls   int `mapstructure:"max_calls"`
	CooldownMs int `mapstructure:"cooldown_ms"`
}

// Load reads configuration from dir (expects config.yml) and the
// environment. A missing file is fine; defaults and PULSEBOARD_* variables
// still apply.
func Load(dir string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yml")
	v.AddConfigPath(dir)

	v.SetEnvPrefix("PULSEBOARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", "8080")
	v.SetDefault("db.path", "pulseboard.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("auth.signing_key", "")
	v.SetDefault("auth.token_ttl_h", 12)
	v.SetDefault("engine.tick_interval_ms", 5000)
	v.SetDefault("engine.max_per_tick", 5)
	v.SetDefault("engine.cache_ttl_ms", 0)
	v.SetDefault("guard.max_depth", 10)
	v.SetDefault("guard.window_ms", 5000)
	v.SetDefault("guard.max_calls", 50)
	v.SetDefault("guard.cooldown_ms", 10000)
}

func (c *Config) validate() error {
	if c.Engine.TickIntervalMs <= 0 {
		return fmt.Errorf("engine.tick_interval_ms must be positive, got %d", c.Engine.TickIntervalMs)
	}
	if c.Engine.MaxPerTick <= 0 {
		return fmt.Errorf("engine.max_per_tick must be positive, got %d", c.Engine.MaxPerTick)
	}
	if c.Guard.MaxDepth <= 0 || c.Guard.MaxCalls <= 0 {
		return fmt.Errorf("guard limits must be positive, got max_depth=%d max_calls=%d",
			c.Guard.MaxDepth, c.Guard.MaxCalls)
	}
	if c.Guard.WindowMs <= 0 || c.Guard.CooldownMs <= 0 {
		return fmt.Errorf("guard durations must be positive, got window_ms=%d cooldown_ms=%d",
			c.Guard.WindowMs, c.Guard.CooldownMs)
	}
	return nil
}

// Duration accessors keep millisecond knobs out of the rest of the code.

func (c EngineConfig) TickInterval() time.Duration {
	return time.Duration(c.TickIntervalMs) * time.Millisecond
}

func (c EngineConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLMs) * time.Millisecond
}

func (c GuardConfig) Window() time.Duration {
	return time.Duration(c.WindowMs) * time.Millisecond
}

func (c GuardConfig) Cooldown() time.Duration {
	return time.Duration(c.CooldownMs) * time.Millisecond
}

func (c AuthConfig) TokenTTL() time.Duration {
	return time.Duration(c.TokenTTLh) * time.Hour
}
