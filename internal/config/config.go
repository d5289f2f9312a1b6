package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Port                   string
	AllowedOrigin          string
	DatabaseURL            string
	SQLitePath             string
	BadgerDir              string
	RedisAddr              string
	RedisPassword          string
	RedisDB                int
	QueryCacheTTLSeconds   int
	LowStockThreshold      int
	AuthSecret             string
	AccessTokenTTLMinutes  int
	LogLevel               string
	BootstrapAdminPassword string
	TxMaxRetries           int
}

// Load reads defaults, then the optional file named by CONFIG_FILE, then
// environment variables. Keys in the file use the lowercase env names.
func Load() (Config, error) {
	v := viper.New()
	v.SetDefault("port", "8080")
	v.SetDefault("allowed_origin", "http://127.0.0.1:3000")
	v.SetDefault("database_url", "")
	v.SetDefault("sqlite_path", "")
	v.SetDefault("badger_dir", "")
	v.SetDefault("redis_addr", "")
	v.SetDefault("redis_password", "")
	v.SetDefault("redis_db", 0)
	v.SetDefault("query_cache_ttl_seconds", 20)
	v.SetDefault("low_stock_threshold", 20)
	v.SetDefault("auth_secret", "")
	v.SetDefault("access_token_ttl_minutes", 480)
	v.SetDefault("log_level", "info")
	v.SetDefault("bootstrap_admin_password", "")
	v.SetDefault("tx_max_retries", 5)
	v.AutomaticEnv()

	if file := strings.TrimSpace(v.GetString("config_file")); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", file, err)
		}
	}

	cfg := Config{
		Port:                   v.GetString("port"),
		AllowedOrigin:          v.GetString("allowed_origin"),
		DatabaseURL:            strings.TrimSpace(v.GetString("database_url")),
		SQLitePath:             strings.TrimSpace(v.GetString("sqlite_path")),
		BadgerDir:              strings.TrimSpace(v.GetString("badger_dir")),
		RedisAddr:              strings.TrimSpace(v.GetString("redis_addr")),
		RedisPassword:          v.GetString("redis_password"),
		RedisDB:                v.GetInt("redis_db"),
		QueryCacheTTLSeconds:   positive(v.GetInt("query_cache_ttl_seconds"), 20),
		LowStockThreshold:      positive(v.GetInt("low_stock_threshold"), 20),
		AuthSecret:             strings.TrimSpace(v.GetString("auth_secret")),
		AccessTokenTTLMinutes:  positive(v.GetInt("access_token_ttl_minutes"), 480),
		LogLevel:               v.GetString("log_level"),
		BootstrapAdminPassword: v.GetString("bootstrap_admin_password"),
		TxMaxRetries:           positive(v.GetInt("tx_max_retries"), 5),
	}
	return cfg, nil
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func positive(value int, fallback int) int {
	if value < 1 {
		return fallback
	}
	return value
}
