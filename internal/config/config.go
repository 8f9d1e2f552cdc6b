package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Mode       string `mapstructure:"mode"`
	Port       int    `mapstructure:"port"`
	StaticPath string `mapstructure:"static_path"`
	DBPath     string `mapstructure:"db_path"`
	ReadLimit  int64  `mapstructure:"read_limit"`
	Secret     string `mapstructure:"secret"`

	// GracePeriod is how long a dropped connection may silently reconnect
	// before the user is announced as having left.
	GracePeriod time.Duration `mapstructure:"grace_period"`

	MaxUsernameLen int `mapstructure:"max_username_len"`
	MaxRoomLen     int `mapstructure:"max_room_len"`
	MaxMessageLen  int `mapstructure:"max_message_len"`

	MessageRateLimit    int           `mapstructure:"message_rate_limit"`
	MessageRateInterval time.Duration `mapstructure:"message_rate_interval"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("db_path", "chatroom.db")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("grace_period", "5s")
	v.SetDefault("max_username_len", 50)
	v.SetDefault("max_room_len", 100)
	v.SetDefault("max_message_len", 4096)
	v.SetDefault("message_rate_limit", 20)
	v.SetDefault("message_rate_interval", "10s")

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("⚠️ Config file not found (%s), using defaults\n", fileName)
	} else {
		fmt.Printf("✅ Loaded config: %s\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	fmt.Printf("🧩 Mode: %s | Port: %d | Grace: %s\n", cfg.Mode, cfg.Port, cfg.GracePeriod)
	return &cfg, nil
}
