package config

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	BindAddress string `mapstructure:"bind_address"`
	ControlPort int    `mapstructure:"control_port"`
	MediaPort   int    `mapstructure:"media_port"`

	HTTPEnabled bool `mapstructure:"http_enabled"`
	HTTPPort    int  `mapstructure:"http_port"`

	// Control plane.
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`
	SendQueue   int           `mapstructure:"send_queue"`

	// Media plane.
	ReadBuffer  int           `mapstructure:"read_buffer"`
	StaleWindow uint32        `mapstructure:"stale_window"`
	SenderTTL   time.Duration `mapstructure:"sender_ttl"`

	// Capacity. Zero means unlimited.
	MaxSessions int `mapstructure:"max_sessions"`
	MaxRooms    int `mapstructure:"max_rooms"`

	Mode     string `mapstructure:"mode"`
	LogLevel string `mapstructure:"log_level"`
}

// Load reads configuration from an optional yaml file, with WESFU_* env
// variables overriding and built-in defaults below both.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	v.SetDefault("bind_address", "0.0.0.0")
	v.SetDefault("control_port", 8040)
	v.SetDefault("media_port", 8039)
	v.SetDefault("http_enabled", true)
	v.SetDefault("http_port", 8041)
	v.SetDefault("idle_timeout", "5m")
	v.SetDefault("send_queue", 32)
	v.SetDefault("read_buffer", 1<<20)
	v.SetDefault("stale_window", 1)
	v.SetDefault("sender_ttl", "30s")
	v.SetDefault("max_sessions", 0)
	v.SetDefault("max_rooms", 0)
	v.SetDefault("mode", "release")
	v.SetDefault("log_level", "info")

	v.SetEnvPrefix("WESFU")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if err := validPort("control_port", c.ControlPort); err != nil {
		return err
	}
	if err := validPort("media_port", c.MediaPort); err != nil {
		return err
	}
	if c.ControlPort == c.MediaPort {
		return fmt.Errorf("control_port and media_port must differ, both are %d", c.ControlPort)
	}
	if c.HTTPEnabled {
		if err := validPort("http_port", c.HTTPPort); err != nil {
			return err
		}
	}
	if c.BindAddress == "" {
		return fmt.Errorf("bind_address cannot be empty")
	}
	if c.IdleTimeout < time.Second {
		return fmt.Errorf("idle_timeout must be at least 1s, got %s", c.IdleTimeout)
	}
	if c.SendQueue < 1 {
		return fmt.Errorf("send_queue must be at least 1, got %d", c.SendQueue)
	}
	if c.ReadBuffer < 2048 {
		return fmt.Errorf("read_buffer must be at least 2048 bytes, got %d", c.ReadBuffer)
	}
	if c.SenderTTL < time.Second {
		return fmt.Errorf("sender_ttl must be at least 1s, got %s", c.SenderTTL)
	}
	if c.MaxSessions < 0 || c.MaxRooms < 0 {
		return fmt.Errorf("max_sessions and max_rooms cannot be negative")
	}
	return nil
}

func validPort(field string, port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("%s must be between 1 and 65535, got %d", field, port)
	}
	return nil
}

func (c *Config) ControlAddr() string {
	return net.JoinHostPort(c.BindAddress, strconv.Itoa(c.ControlPort))
}

func (c *Config) MediaAddr() string {
	return net.JoinHostPort(c.BindAddress, strconv.Itoa(c.MediaPort))
}

func (c *Config) HTTPAddr() string {
	return net.JoinHostPort(c.BindAddress, strconv.Itoa(c.HTTPPort))
}
