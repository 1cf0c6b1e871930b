/**
 * @description
 * This package handles the configuration management for the ledger service. It uses the
 * Viper library to read configuration from an optional .env file and the environment,
 * applying defaults and coercing invalid values.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"

	defaultMinWithdrawal   = 20000
	defaultReferralPercent = 10.0
	defaultLeaseTTL        = 15 * time.Minute
	defaultSweepSchedule   = "@every 1m"
	defaultSweepBatchSize  = 100
	defaultTimezone        = "Europe/Moscow"
	defaultStartHour       = 7
	defaultEndHour         = 20
)

// Config holds all the configuration variables for the ledger service.
type Config struct {
	ServerPort             string        `mapstructure:"SERVER_PORT"`
	DatabaseURL            string        `mapstructure:"DATABASE_URL"`
	StoreDriver            string        `mapstructure:"LEDGER_STORE"`
	RedisURL               string        `mapstructure:"REDIS_URL"`
	RedisKeyPrefix         string        `mapstructure:"REDIS_KEY_PREFIX"`
	RabbitMQURL            string        `mapstructure:"RABBITMQ_URL"`
	UserEventQueue         string        `mapstructure:"USER_EVENT_QUEUE"`
	InternalAPIKey         string        `mapstructure:"INTERNAL_API_KEY"`
	CORSAllowedOrigins     []string      `mapstructure:"CORS_ALLOWED_ORIGINS"`
	MinWithdrawal          int64         `mapstructure:"MIN_WITHDRAWAL"`
	ReferralPercent        float64       `mapstructure:"REFERRAL_PERCENT"`
	LeaseTTL               time.Duration `mapstructure:"LEASE_TTL"`
	SweepSchedule          string        `mapstructure:"SWEEP_SCHEDULE"`
	SweepBatchSize         int           `mapstructure:"SWEEP_BATCH_SIZE"`
	ClaimRateLimitMax      int           `mapstructure:"CLAIM_RATE_LIMIT_MAX"`
	ClaimRateLimitWindow   time.Duration `mapstructure:"CLAIM_RATE_LIMIT_WINDOW"`
	OperationTimezone      string        `mapstructure:"OPERATION_TIMEZONE"`
	OperationStartHour     int           `mapstructure:"OPERATION_START_HOUR"`
	OperationEndHour       int           `mapstructure:"OPERATION_END_HOUR"`
	OperationWindowEnabled bool          `mapstructure:"OPERATION_WINDOW_ENABLED"`
}

// LoadConfig reads configuration from environment variables and an optional .env file in path.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("LEDGER_STORE", StoreDriverPostgres)
	viper.SetDefault("REDIS_KEY_PREFIX", "ledger")
	viper.SetDefault("USER_EVENT_QUEUE", "ledger_service.user_events")
	viper.SetDefault("CORS_ALLOWED_ORIGINS", "https://*,http://*")
	viper.SetDefault("MIN_WITHDRAWAL", defaultMinWithdrawal)
	viper.SetDefault("REFERRAL_PERCENT", defaultReferralPercent)
	viper.SetDefault("LEASE_TTL", defaultLeaseTTL.String())
	viper.SetDefault("SWEEP_SCHEDULE", defaultSweepSchedule)
	viper.SetDefault("SWEEP_BATCH_SIZE", defaultSweepBatchSize)
	viper.SetDefault("CLAIM_RATE_LIMIT_MAX", 20)
	viper.SetDefault("CLAIM_RATE_LIMIT_WINDOW", "1m")
	viper.SetDefault("OPERATION_TIMEZONE", defaultTimezone)
	viper.SetDefault("OPERATION_START_HOUR", defaultStartHour)
	viper.SetDefault("OPERATION_END_HOUR", defaultEndHour)
	viper.SetDefault("OPERATION_WINDOW_ENABLED", true)

	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("LEDGER_STORE")
	_ = viper.BindEnv("REDIS_URL", "REDIS_URL", "LEDGER_REDIS_URL")
	_ = viper.BindEnv("REDIS_KEY_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("USER_EVENT_QUEUE")
	_ = viper.BindEnv("INTERNAL_API_KEY", "INTERNAL_API_KEY", "LEDGER_SERVICE_INTERNAL_API_KEY")
	_ = viper.BindEnv("CORS_ALLOWED_ORIGINS")
	_ = viper.BindEnv("MIN_WITHDRAWAL")
	_ = viper.BindEnv("REFERRAL_PERCENT")
	_ = viper.BindEnv("LEASE_TTL")
	_ = viper.BindEnv("SWEEP_SCHEDULE")
	_ = viper.BindEnv("SWEEP_BATCH_SIZE")
	_ = viper.BindEnv("CLAIM_RATE_LIMIT_MAX")
	_ = viper.BindEnv("CLAIM_RATE_LIMIT_WINDOW")
	_ = viper.BindEnv("OPERATION_TIMEZONE")
	_ = viper.BindEnv("OPERATION_START_HOUR")
	_ = viper.BindEnv("OPERATION_END_HOUR")
	_ = viper.BindEnv("OPERATION_WINDOW_ENABLED")

	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	config.DatabaseURL = strings.TrimSpace(config.DatabaseURL)
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RabbitMQURL = strings.TrimSpace(config.RabbitMQURL)
	config.InternalAPIKey = strings.TrimSpace(config.InternalAPIKey)
	config.CORSAllowedOrigins = splitList(config.CORSAllowedOrigins)

	config.RedisKeyPrefix = strings.TrimSuffix(strings.TrimSpace(config.RedisKeyPrefix), ":")
	if config.RedisKeyPrefix == "" {
		config.RedisKeyPrefix = "ledger"
	}

	config.StoreDriver = strings.ToLower(strings.TrimSpace(config.StoreDriver))
	if config.StoreDriver != StoreDriverPostgres && config.StoreDriver != StoreDriverMemory {
		log.Printf("level=warn component=config msg=\"unknown ledger store; using postgres\" value=%q", config.StoreDriver)
		config.StoreDriver = StoreDriverPostgres
	}

	if config.MinWithdrawal <= 0 {
		log.Printf("level=warn component=config msg=\"non-positive minimum withdrawal; using default\" value=%d", config.MinWithdrawal)
		config.MinWithdrawal = defaultMinWithdrawal
	}
	if config.ReferralPercent < 0 {
		log.Printf("level=warn component=config msg=\"negative referral percent configured; coercing to zero\" value=%f", config.ReferralPercent)
		config.ReferralPercent = 0
	}
	if config.ReferralPercent > 100 {
		log.Printf("level=warn component=config msg=\"referral percent too high; capping at 100\" value=%f", config.ReferralPercent)
		config.ReferralPercent = 100
	}
	if config.LeaseTTL <= 0 {
		config.LeaseTTL = defaultLeaseTTL
	}
	if strings.TrimSpace(config.SweepSchedule) == "" {
		config.SweepSchedule = defaultSweepSchedule
	}
	if config.SweepBatchSize <= 0 {
		config.SweepBatchSize = defaultSweepBatchSize
	}
	if config.ClaimRateLimitMax < 0 {
		config.ClaimRateLimitMax = 0
	}
	if config.ClaimRateLimitWindow <= 0 {
		config.ClaimRateLimitWindow = time.Minute
	}

	if _, locErr := time.LoadLocation(config.OperationTimezone); locErr != nil || strings.TrimSpace(config.OperationTimezone) == "" {
		log.Printf("level=warn component=config msg=\"invalid operation timezone; using default\" value=%q", config.OperationTimezone)
		config.OperationTimezone = defaultTimezone
	}
	if !validHour(config.OperationStartHour) || !validHour(config.OperationEndHour) || config.OperationStartHour >= config.OperationEndHour {
		log.Printf("level=warn component=config msg=\"invalid operation window; using default\" start=%d end=%d", config.OperationStartHour, config.OperationEndHour)
		config.OperationStartHour = defaultStartHour
		config.OperationEndHour = defaultEndHour
	}

	return
}

func validHour(h int) bool {
	return h >= 0 && h <= 24
}

// splitList accepts both repeated values and a single comma separated value.
func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				out = append(out, trimmed)
			}
		}
	}
	return out
}
