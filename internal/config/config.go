package config

import (
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig
	Logger   LoggerConfig
	Postgres PostgresConfig
	JWT      JWTConfig
	Redis    RedisConfig
	POS      POSConfig
}

type ServerConfig struct {
	AppEnv         string
	Port           string
	AllowedOrigins string
}

type LoggerConfig struct {
	Level             string
	Encoding          string
	DisableCaller     bool
	DisableStacktrace bool
}

type PostgresConfig struct {
	URL              string
	MaxConns         int32
	LockTimeout      time.Duration
	StatementTimeout time.Duration
}

type JWTConfig struct {
	Secret string
}

// RedisConfig configures alert fan-out. An empty Addr disables Redis and
// alerts are only written to the log.
type RedisConfig struct {
	Addr         string
	Password     string
	DB           int
	AlertChannel string
}

// POSConfig holds restaurant policy that is passed explicitly into the engines.
type POSConfig struct {
	RequireOpenRegister bool
	DefaultRegisterID   int
	ExpiryWarningDays   int
}

// IsDevelopment reports whether the process runs with development defaults.
func (c *Config) IsDevelopment() bool {
	return c.Server.AppEnv == "development" || c.Server.AppEnv == "dev"
}

// LoadEnv reads the process environment, after godotenv has loaded any .env
// file, on top of the defaults below. Empty variables count as unset.
func LoadEnv() *Config {
	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	return &Config{
		Server: ServerConfig{
			AppEnv:         v.GetString("APP_ENV"),
			Port:           v.GetString("SERVER_PORT"),
			AllowedOrigins: v.GetString("ALLOWED_ORIGINS"),
		},
		Logger: LoggerConfig{
			Level:             v.GetString("LOGGER_LEVEL"),
			Encoding:          v.GetString("LOGGER_ENCODING"),
			DisableCaller:     v.GetBool("LOGGER_DISABLE_CALLER"),
			DisableStacktrace: v.GetBool("LOGGER_DISABLE_STACKTRACE"),
		},
		Postgres: PostgresConfig{
			URL:              v.GetString("DATABASE_URL"),
			MaxConns:         v.GetInt32("POSTGRES_MAX_CONNS"),
			LockTimeout:      v.GetDuration("POSTGRES_LOCK_TIMEOUT"),
			StatementTimeout: v.GetDuration("POSTGRES_STATEMENT_TIMEOUT"),
		},
		JWT: JWTConfig{
			Secret: v.GetString("JWT_SECRET"),
		},
		Redis: RedisConfig{
			Addr:         v.GetString("REDIS_ADDR"),
			Password:     v.GetString("REDIS_PASSWORD"),
			DB:           v.GetInt("REDIS_DB"),
			AlertChannel: v.GetString("REDIS_ALERT_CHANNEL"),
		},
		POS: POSConfig{
			RequireOpenRegister: v.GetBool("POS_REQUIRE_OPEN_REGISTER"),
			DefaultRegisterID:   v.GetInt("POS_DEFAULT_REGISTER_ID"),
			ExpiryWarningDays:   v.GetInt("POS_EXPIRY_WARNING_DAYS"),
		},
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_ENV", "dev")
	v.SetDefault("SERVER_PORT", "8080")
	v.SetDefault("ALLOWED_ORIGINS", "")

	v.SetDefault("LOGGER_LEVEL", "info")
	v.SetDefault("LOGGER_ENCODING", "json")
	v.SetDefault("LOGGER_DISABLE_CALLER", false)
	v.SetDefault("LOGGER_DISABLE_STACKTRACE", true)

	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("POSTGRES_MAX_CONNS", 10)
	v.SetDefault("POSTGRES_LOCK_TIMEOUT", 3*time.Second)
	v.SetDefault("POSTGRES_STATEMENT_TIMEOUT", 10*time.Second)

	v.SetDefault("JWT_SECRET", "")

	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_ALERT_CHANNEL", "pos:inventory:alerts")

	v.SetDefault("POS_REQUIRE_OPEN_REGISTER", true)
	v.SetDefault("POS_DEFAULT_REGISTER_ID", 0)
	v.SetDefault("POS_EXPIRY_WARNING_DAYS", 30)
}
