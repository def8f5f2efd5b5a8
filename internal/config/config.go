// Package config provides application configuration loading and management.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"quizthread/internal/observability"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Transport backends.
const (
	TransportMemory = "memory"
	TransportSQL    = "sql"
	TransportMongo  = "mongo"
)

const defaultJWTSecret = "your-secret-key-change-in-production"

// Config holds application configuration values loaded from file or environment variables.
type Config struct {
	Env                string        `mapstructure:"APP_ENV"`
	ServiceName        string        `mapstructure:"SERVICE_NAME"`
	LogLevel           string        `mapstructure:"LOG_LEVEL"`
	Port               string        `mapstructure:"PORT"`
	Transport          string        `mapstructure:"TRANSPORT"`
	DBDriver           string        `mapstructure:"DB_DRIVER"`
	DBDSN              string        `mapstructure:"DB_DSN"`
	DBHost             string        `mapstructure:"DB_HOST"`
	DBPort             string        `mapstructure:"DB_PORT"`
	DBUser             string        `mapstructure:"DB_USER"`
	DBPassword         string        `mapstructure:"DB_PASSWORD"`
	DBName             string        `mapstructure:"DB_NAME"`
	DBSSLMode          string        `mapstructure:"DB_SSLMODE"`
	RedisURL           string        `mapstructure:"REDIS_URL"`
	MongoURI           string        `mapstructure:"MONGO_URI"`
	MongoDatabase      string        `mapstructure:"MONGO_DATABASE"`
	JWTSecret          string        `mapstructure:"JWT_SECRET"`
	FallbackTimeout    time.Duration `mapstructure:"FALLBACK_TIMEOUT"`
	FetchTimeout       time.Duration `mapstructure:"FETCH_TIMEOUT"`
	SanitizeHTML       bool          `mapstructure:"SANITIZE_HTML"`
	TracingEnabled     bool          `mapstructure:"TRACING_ENABLED"`
	TracingExporter    string        `mapstructure:"TRACING_EXPORTER"`
	OTLPEndpoint       string        `mapstructure:"OTLP_ENDPOINT"`
	OTLPInsecure       bool          `mapstructure:"OTLP_INSECURE"`
	TracingSampleRatio float64       `mapstructure:"TRACING_SAMPLE_RATIO"`
	AllowedOrigins     string        `mapstructure:"ALLOWED_ORIGINS"`
}

// LoadConfig loads application configuration from .env, config files and environment variables.
func LoadConfig() (*Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	viper.AddConfigPath(".")
	viper.AddConfigPath("..")
	viper.AddConfigPath("../..")
	viper.SetConfigName("config")
	viper.SetConfigType("yml")
	viper.AutomaticEnv()

	// The base config file is optional.
	_ = viper.ReadInConfig()

	env := viper.GetString("APP_ENV")
	if env == "" {
		env = "development"
	}

	if env != "development" && env != "test" {
		viper.SetConfigName("config." + env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("required profile-specific config 'config.%s.yml' not found: %w", env, err)
		}
		observability.GlobalLogger.Info("loaded profile-specific configuration", "file", "config."+env+".yml")
	}

	viper.SetDefault("APP_ENV", "development")
	viper.SetDefault("SERVICE_NAME", "quizthread")
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("PORT", "8380")
	viper.SetDefault("TRANSPORT", TransportMemory)
	viper.SetDefault("DB_DRIVER", "sqlite")
	viper.SetDefault("DB_DSN", "")
	viper.SetDefault("DB_HOST", "localhost")
	viper.SetDefault("DB_PORT", "5432")
	viper.SetDefault("DB_USER", "user")
	viper.SetDefault("DB_PASSWORD", "password")
	viper.SetDefault("DB_NAME", "quizthread")
	viper.SetDefault("DB_SSLMODE", "disable")
	viper.SetDefault("REDIS_URL", "")
	viper.SetDefault("MONGO_URI", "")
	viper.SetDefault("MONGO_DATABASE", "quizthread")
	viper.SetDefault("JWT_SECRET", defaultJWTSecret)
	viper.SetDefault("FALLBACK_TIMEOUT", "5s")
	viper.SetDefault("FETCH_TIMEOUT", "10s")
	viper.SetDefault("SANITIZE_HTML", false)
	viper.SetDefault("TRACING_ENABLED", false)
	viper.SetDefault("TRACING_EXPORTER", "stdout")
	viper.SetDefault("OTLP_ENDPOINT", "localhost:4318")
	viper.SetDefault("OTLP_INSECURE", true)
	viper.SetDefault("TRACING_SAMPLE_RATIO", 1.0)
	viper.SetDefault("ALLOWED_ORIGINS", "http://localhost:5173,http://localhost:3000")

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}
	config.normalize()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

func (c *Config) normalize() {
	c.Transport = strings.ToLower(strings.TrimSpace(c.Transport))
	c.DBDriver = strings.ToLower(strings.TrimSpace(c.DBDriver))
	c.DBSSLMode = strings.ToLower(strings.TrimSpace(c.DBSSLMode))
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	c.TracingExporter = strings.ToLower(strings.TrimSpace(c.TracingExporter))
	c.ServiceName = strings.TrimSpace(c.ServiceName)
}

// SlogLevel returns LOG_LEVEL as a slog level; Validate rejects bad values.
func (c *Config) SlogLevel() slog.Level {
	l, _ := observability.ParseLevel(c.LogLevel)
	return l
}

// Tracing returns the tracer setup for this deployment.
func (c *Config) Tracing(version string) observability.TracingConfig {
	return observability.TracingConfig{
		ServiceName:    c.ServiceName,
		ServiceVersion: version,
		Environment:    c.Env,
		Transport:      c.Transport,
		Enabled:        c.TracingEnabled,
		Exporter:       c.TracingExporter,
		OTLPEndpoint:   c.OTLPEndpoint,
		OTLPInsecure:   c.OTLPInsecure,
		SampleRatio:    c.TracingSampleRatio,
	}
}

// IsProduction reports whether the production profile is active.
func (c *Config) IsProduction() bool {
	return c.Env == "production" || c.Env == "prod"
}

// Validate ensures that required configuration values are present and meet security standards.
func (c *Config) Validate() error {
	if c.Port == "" {
		return errors.New("PORT is required")
	}
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	if c.FallbackTimeout <= 0 {
		return errors.New("FALLBACK_TIMEOUT must be positive")
	}
	if c.FetchTimeout <= 0 {
		return errors.New("FETCH_TIMEOUT must be positive")
	}
	if c.ServiceName == "" {
		return errors.New("SERVICE_NAME is required")
	}
	if _, err := observability.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("LOG_LEVEL: %w", err)
	}
	if c.TracingSampleRatio < 0 || c.TracingSampleRatio > 1 {
		return errors.New("TRACING_SAMPLE_RATIO must be between 0 and 1")
	}
	if c.TracingEnabled {
		switch c.TracingExporter {
		case observability.ExporterStdout, observability.ExporterOTLP:
		default:
			return fmt.Errorf("TRACING_EXPORTER %q is not supported (stdout|otlp)", c.TracingExporter)
		}
		if c.TracingExporter == observability.ExporterOTLP && c.OTLPEndpoint == "" {
			return errors.New("OTLP_ENDPOINT is required for the otlp exporter")
		}
	}

	switch c.Transport {
	case TransportMemory:
	case TransportSQL:
		if c.DBDriver != "sqlite" && c.DBDriver != "postgres" {
			return fmt.Errorf("DB_DRIVER %q is not supported (sqlite|postgres)", c.DBDriver)
		}
	case TransportMongo:
		if c.MongoURI == "" {
			return errors.New("MONGO_URI is required for the mongo transport")
		}
	default:
		return fmt.Errorf("TRANSPORT %q is not supported (memory|sql|mongo)", c.Transport)
	}

	if c.IsProduction() {
		if c.JWTSecret == defaultJWTSecret {
			return errors.New("JWT_SECRET must be changed from the default value in production")
		}
		if len(c.JWTSecret) < 32 {
			return errors.New("JWT_SECRET must be at least 32 characters in production")
		}
		if c.Transport == TransportSQL && c.DBDriver == "postgres" && (c.DBSSLMode == "disable" || c.DBSSLMode == "") {
			return errors.New("DB_SSLMODE must not be 'disable' in production")
		}
		if c.AllowedOrigins == "*" {
			observability.GlobalLogger.Warn("ALLOWED_ORIGINS is set to '*' in production")
		}
	} else if len(c.JWTSecret) < 32 {
		observability.GlobalLogger.Warn("JWT_SECRET is shorter than 32 characters")
	}

	return nil
}

// PostgresDSN builds the postgres connection string when DB_DSN is not set.
func (c *Config) PostgresDSN() string {
	if c.DBDSN != "" {
		return c.DBDSN
	}
	sslMode := c.DBSSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName, sslMode,
	)
}

// SQLiteDSN returns DB_DSN, or a shared in-memory database.
func (c *Config) SQLiteDSN() string {
	if c.DBDSN != "" {
		return c.DBDSN
	}
	return "file:quizthread?mode=memory&cache=shared"
}

// Origins splits ALLOWED_ORIGINS.
func (c *Config) Origins() []string {
	var out []string
	for _, o := range strings.Split(c.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}
