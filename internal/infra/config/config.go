package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	DatabaseURL   string
	RedisAddress  string
	RedisPassword string
	RedisDB       int

	AccessTokenSecret  string
	RefreshTokenSecret string
	AccessTokenTTL     time.Duration
	RefreshTokenTTL    time.Duration
	Issuer             string
	Audience           string
	PasswordPepper     string

	HTTPAddress      string
	AllowedOrigins   []string
	AllowCredentials bool

	UserCacheTTL    time.Duration
	JobPollInterval time.Duration
}

var requiredKeys = []string{
	"DATABASE_URL",
	"REDIS_ADDRESS",
	"ACCESS_TOKEN_SECRET",
	"REFRESH_TOKEN_SECRET",
	"JWT_ISSUER",
	"JWT_AUDIENCE",
	"PASSWORD_PEPPER",
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("json")
	viper.AddConfigPath(".")

	viper.AutomaticEnv()
	keys := []string{
		"DATABASE_URL", "REDIS_ADDRESS", "REDIS_PASSWORD", "REDIS_DB",
		"ACCESS_TOKEN_SECRET", "REFRESH_TOKEN_SECRET",
		"ACCESS_TOKEN_TTL", "REFRESH_TOKEN_TTL",
		"JWT_ISSUER", "JWT_AUDIENCE", "PASSWORD_PEPPER",
		"HTTP_ADDRESS", "ALLOWED_ORIGINS", "ALLOW_CREDENTIALS",
		"USER_CACHE_TTL", "JOB_POLL_INTERVAL",
	}
	for _, k := range keys {
		if err := viper.BindEnv(k); err != nil {
			return nil, err
		}
	}

	viper.SetDefault("ACCESS_TOKEN_TTL", "15m")
	viper.SetDefault("REFRESH_TOKEN_TTL", "168h")
	viper.SetDefault("HTTP_ADDRESS", ":8080")
	viper.SetDefault("USER_CACHE_TTL", "120s")
	viper.SetDefault("JOB_POLL_INTERVAL", "1s")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	for _, key := range requiredKeys {
		if viper.GetString(key) == "" {
			return nil, fmt.Errorf("required config key %s is not set", key)
		}
	}

	cfg := &Config{
		DatabaseURL:        viper.GetString("DATABASE_URL"),
		RedisAddress:       viper.GetString("REDIS_ADDRESS"),
		RedisPassword:      viper.GetString("REDIS_PASSWORD"),
		RedisDB:            viper.GetInt("REDIS_DB"),
		AccessTokenSecret:  viper.GetString("ACCESS_TOKEN_SECRET"),
		RefreshTokenSecret: viper.GetString("REFRESH_TOKEN_SECRET"),
		AccessTokenTTL:     viper.GetDuration("ACCESS_TOKEN_TTL"),
		RefreshTokenTTL:    viper.GetDuration("REFRESH_TOKEN_TTL"),
		Issuer:             viper.GetString("JWT_ISSUER"),
		Audience:           viper.GetString("JWT_AUDIENCE"),
		PasswordPepper:     viper.GetString("PASSWORD_PEPPER"),
		HTTPAddress:        viper.GetString("HTTP_ADDRESS"),
		AllowedOrigins:     viper.GetStringSlice("ALLOWED_ORIGINS"),
		AllowCredentials:   viper.GetBool("ALLOW_CREDENTIALS"),
		UserCacheTTL:       viper.GetDuration("USER_CACHE_TTL"),
		JobPollInterval:    viper.GetDuration("JOB_POLL_INTERVAL"),
	}

	if cfg.AccessTokenTTL <= 0 || cfg.RefreshTokenTTL <= 0 {
		return nil, fmt.Errorf("token TTLs must be positive")
	}

	return cfg, nil
}
