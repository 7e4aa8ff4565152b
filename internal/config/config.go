package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Mode          string        `mapstructure:"mode"`
	Port          int           `mapstructure:"port"`
	Secret        string        `mapstructure:"secret"`
	DBPath        string        `mapstructure:"db_path"`
	ReadLimit     int64         `mapstructure:"read_limit"`
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	FanoutWorkers int           `mapstructure:"fanout_workers"`
	SendRate      int           `mapstructure:"send_rate_per_sec"`
	TokenTTL      time.Duration `mapstructure:"token_ttl"`
	BusyTimeout   time.Duration `mapstructure:"busy_timeout"`
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
	v.SetDefault("secret", "SeCretKey_CHaNgeMe")
	v.SetDefault("db_path", "data/courier.db")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("poll_interval", "700ms")
	v.SetDefault("fanout_workers", 8)
	v.SetDefault("send_rate_per_sec", 10)
	v.SetDefault("token_ttl", "730h")
	v.SetDefault("busy_timeout", "5s")

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("⚠️ Config file not found (%s), using defaults\n", fileName)
	} else {
		fmt.Printf("✅ Loaded config: %s\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	fmt.Printf("🧩 Mode: %s | Port: %d | DB: %s\n", cfg.Mode, cfg.Port, cfg.DBPath)
	return &cfg, nil
}
