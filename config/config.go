package config

import (
	"exchangesync/internal/logger"
	"exchangesync/internal/tracing"
)

type Config struct {
	AppConfig      *AppConfig
	Logger         *logger.Config
	Tracing        *tracing.JaegerConfig
	DatabaseConfig *DatabaseConfig
}

type AppConfig struct {
	APIPort     string `env:"PORT" envDefault:"12320"`
	APIKey      string `env:"API_KEY,required"`
	RabbitMQURL string `env:"RABBITMQ_URL"`
}

type DatabaseConfig struct {
	Host            string `env:"EXCHANGESYNC_POSTGRES_HOST,required"`
	Port            string `env:"EXCHANGESYNC_POSTGRES_PORT,required"`
	User            string `env:"EXCHANGESYNC_POSTGRES_USER,required"`
	DBName          string `env:"EXCHANGESYNC_POSTGRES_DB_NAME,required"`
	Password        string `env:"EXCHANGESYNC_POSTGRES_PASSWORD,required"`
	MaxConn         int    `env:"EXCHANGESYNC_POSTGRES_DB_MAX_CONN"`
	MaxIdleConn     int    `env:"EXCHANGESYNC_POSTGRES_DB_MAX_IDLE_CONN"`
	ConnMaxLifetime int    `env:"EXCHANGESYNC_POSTGRES_DB_CONN_MAX_LIFETIME"`
	LogLevel        string `env:"EXCHANGESYNC_POSTGRES_LOG_LEVEL" envDefault:"WARN"`
	SSLMode         string `env:"EXCHANGESYNC_POSTGRES_SSL_MODE" envDefault:"require"`
}
