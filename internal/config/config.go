/**
 * @description
 * This package handles the configuration management for the settlement-service. It
 * uses the Viper library to read configuration from environment variables, providing
 * a centralized and straightforward way to manage application settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the settlement-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort                string  `mapstructure:"SERVER_PORT"`
	DatabaseURL               string  `mapstructure:"DATABASE_URL"`
	RedisURL                  string  `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix      string  `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	RabbitMQURL               string  `mapstructure:"RABBITMQ_URL"`
	SettlementEventExchange   string  `mapstructure:"SETTLEMENT_EVENT_EXCHANGE"`
	JWKSURL                   string  `mapstructure:"JWKS_URL"`
	PayOSBaseURL              string  `mapstructure:"PAYOS_BASE_URL"`
	PayOSClientID             string  `mapstructure:"PAYOS_CLIENT_ID"`
	PayOSAPIKey               string  `mapstructure:"PAYOS_API_KEY"`
	PayOSReturnURL            string  `mapstructure:"PAYOS_RETURN_URL"`
	CommissionRate            float64 `mapstructure:"COMMISSION_RATE"`
	CommissionHoldHours       int     `mapstructure:"COMMISSION_HOLD_HOURS"`
	RefundWindowHours         int     `mapstructure:"REFUND_WINDOW_HOURS"`
	ReleaseSweepSchedule      string  `mapstructure:"RELEASE_SWEEP_SCHEDULE"`
	RefundRequestLimitPerHour int     `mapstructure:"REFUND_REQUEST_LIMIT_PER_HOUR"`
}

// LoadConfig reads configuration from environment variables from the given path.
// It uses Viper to automatically bind environment variables to the Config struct.
func LoadConfig(path string) (config Config, err error) {
	// Tell viper the path to look for the optional .env file.
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	// Enable automatic binding of environment variables.
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values. The commission hold is deliberately a configuration value,
	// not a literal: it is the escrow window that must outlast the refund window.
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("SETTLEMENT_EVENT_EXCHANGE", "docmarket.events")
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "docmarket:rate_limit")
	viper.SetDefault("COMMISSION_RATE", 0.15)
	viper.SetDefault("COMMISSION_HOLD_HOURS", 24)
	viper.SetDefault("REFUND_WINDOW_HOURS", 24)
	viper.SetDefault("RELEASE_SWEEP_SCHEDULE", "@every 45s")
	viper.SetDefault("REFUND_REQUEST_LIMIT_PER_HOUR", 5)

	// Bind environment variables explicitly to ensure they appear in Unmarshal.
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("SETTLEMENT_EVENT_EXCHANGE")
	_ = viper.BindEnv("JWKS_URL")
	_ = viper.BindEnv("PAYOS_BASE_URL")
	_ = viper.BindEnv("PAYOS_CLIENT_ID")
	_ = viper.BindEnv("PAYOS_API_KEY")
	_ = viper.BindEnv("PAYOS_RETURN_URL")
	_ = viper.BindEnv("COMMISSION_RATE")
	_ = viper.BindEnv("COMMISSION_HOLD_HOURS")
	_ = viper.BindEnv("REFUND_WINDOW_HOURS")
	_ = viper.BindEnv("RELEASE_SWEEP_SCHEDULE")
	_ = viper.BindEnv("REFUND_REQUEST_LIMIT_PER_HOUR")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	// Unmarshal the configuration into the Config struct.
	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = "docmarket:rate_limit"
	}

	if config.CommissionRate < 0 || config.CommissionRate >= 1 {
		log.Printf("level=warn component=config msg=\"commission rate out of range; falling back to default\" rate=%f", config.CommissionRate)
		config.CommissionRate = 0.15
	}
	if config.CommissionHoldHours <= 0 {
		log.Printf("level=warn component=config msg=\"non-positive commission hold; falling back to default\" hours=%d", config.CommissionHoldHours)
		config.CommissionHoldHours = 24
	}
	if config.RefundWindowHours <= 0 {
		config.RefundWindowHours = 24
	}
	if strings.TrimSpace(config.ReleaseSweepSchedule) == "" {
		config.ReleaseSweepSchedule = "@every 45s"
	}
	if config.RefundRequestLimitPerHour <= 0 {
		config.RefundRequestLimitPerHour = 5
	}

	return
}
