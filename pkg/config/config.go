package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	// Server configuration
	Server ServerConfig `mapstructure:"server"`

	// Ledger configuration
	Ledger LedgerConfig `mapstructure:"ledger"`

	// Postgres world state configuration
	Database DatabaseConfig `mapstructure:"database"`

	// LevelDB world state configuration
	LevelDB LevelDBConfig `mapstructure:"leveldb"`

	// Redis world state configuration
	Redis RedisConfig `mapstructure:"redis"`

	// Content-addressed file store configuration
	IPFS IPFSConfig `mapstructure:"ipfs"`

	// Signer configuration
	Auth AuthConfig `mapstructure:"auth"`

	// Logging configuration
	LogLevel string `mapstructure:"log_level"`

	// Monitoring configuration
	Monitoring MonitoringConfig `mapstructure:"monitoring"`

	// Tracing configuration
	Tracing TracingConfig `mapstructure:"tracing"`
}

// ServerConfig holds server-specific configuration
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"read_timeout"`
	WriteTimeout int    `mapstructure:"write_timeout"`
	IdleTimeout  int    `mapstructure:"idle_timeout"`
	MaxUploadMB  int    `mapstructure:"max_upload_mb"`
	// RateLimit is requests per minute per account; 0 disables limiting
	RateLimit int `mapstructure:"rate_limit"`
}

// LedgerConfig holds ledger behaviour and backend selection
type LedgerConfig struct {
	// Backend is one of memory, leveldb, postgres, redis
	Backend            string   `mapstructure:"backend"`
	Admins             []string `mapstructure:"admins"`
	RequireDoctorGrant bool     `mapstructure:"require_doctor_grant"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	Name            string `mapstructure:"name"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	SSLMode         string `mapstructure:"ssl_mode"`
	Table           string `mapstructure:"table"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"`
}

// LevelDBConfig holds the embedded store location
type LevelDBConfig struct {
	Path string `mapstructure:"path"`
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	PoolSize  int    `mapstructure:"pool_size"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// IPFSConfig holds file store configuration
type IPFSConfig struct {
	// Mode is ipfs (HTTP API) or local (LevelDB blob store)
	Mode          string `mapstructure:"mode"`
	APIURL        string `mapstructure:"api_url"`
	GatewayURL    string `mapstructure:"gateway_url"`
	Pin           bool   `mapstructure:"pin"`
	Timeout       int    `mapstructure:"timeout"`
	LocalPath     string `mapstructure:"local_path"`
	EncryptionKey string `mapstructure:"encryption_key"`
}

// AuthConfig holds signer configuration
type AuthConfig struct {
	// Mode is jwt or header
	Mode      string `mapstructure:"mode"`
	JWTSecret string `mapstructure:"jwt_secret"`
	Issuer    string `mapstructure:"issuer"`
	TokenTTL  int    `mapstructure:"token_ttl"`
}

// MonitoringConfig holds monitoring configuration
type MonitoringConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	MetricsPath string `mapstructure:"metrics_path"`
	HealthPath  string `mapstructure:"health_path"`
}

// TracingConfig holds tracing configuration
type TracingConfig struct {
	Enabled        bool    `mapstructure:"enabled"`
	JaegerEndpoint string  `mapstructure:"jaeger_endpoint"`
	Environment    string  `mapstructure:"environment"`
	SamplingRate   float64 `mapstructure:"sampling_rate"`
}

// Addr returns the host:port the server listens on
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Addr returns the redis host:port
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// Load loads configuration from environment variables and config files
func Load() (*Config, error) {
	return LoadFrom("")
}

// LoadFrom loads configuration from an explicit file, or searches the default paths when path is empty
func LoadFrom(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/caseledger")
	}

	setDefaults(v)

	v.SetEnvPrefix("CASELEDGER")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	overrideWithEnv(&config)

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30)
	v.SetDefault("server.write_timeout", 30)
	v.SetDefault("server.idle_timeout", 120)
	v.SetDefault("server.max_upload_mb", 32)
	v.SetDefault("server.rate_limit", 600)

	// Ledger defaults
	v.SetDefault("ledger.backend", "memory")
	v.SetDefault("ledger.admins", []string{})
	v.SetDefault("ledger.require_doctor_grant", false)

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "caseledger")
	v.SetDefault("database.user", "caseledger")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.table", "ledger_state")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 300)

	v.SetDefault("leveldb.path", "./data/ledger")

	// Redis defaults
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.key_prefix", "caseledger:")

	// File store defaults mirror a local IPFS Desktop node
	v.SetDefault("ipfs.mode", "ipfs")
	v.SetDefault("ipfs.api_url", "http://127.0.0.1:5001")
	v.SetDefault("ipfs.gateway_url", "http://127.0.0.1:8080/ipfs")
	v.SetDefault("ipfs.pin", true)
	v.SetDefault("ipfs.timeout", 30)
	v.SetDefault("ipfs.local_path", "./data/files")

	// Auth defaults
	v.SetDefault("auth.mode", "jwt")
	v.SetDefault("auth.issuer", "caseledger")
	v.SetDefault("auth.token_ttl", 3600)

	// Monitoring defaults
	v.SetDefault("monitoring.enabled", true)
	v.SetDefault("monitoring.metrics_path", "/metrics")
	v.SetDefault("monitoring.health_path", "/health")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.jaeger_endpoint", "http://localhost:14268/api/traces")
	v.SetDefault("tracing.environment", "development")
	v.SetDefault("tracing.sampling_rate", 1.0)

	// Logging defaults
	v.SetDefault("log_level", "info")
}

// overrideWithEnv overrides configuration with environment variables
func overrideWithEnv(config *Config) {
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}

	if secret := os.Getenv("JWT_SECRET_KEY"); secret != "" {
		config.Auth.JWTSecret = secret
	}

	if dbPassword := os.Getenv("DATABASE_PASSWORD"); dbPassword != "" {
		config.Database.Password = dbPassword
	}

	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		config.LogLevel = logLevel
	}
}

// validate validates the configuration
func validate(config *Config) error {
	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}
	if config.Server.RateLimit < 0 {
		return fmt.Errorf("rate limit cannot be negative: %d", config.Server.RateLimit)
	}

	switch config.Ledger.Backend {
	case "memory", "leveldb", "redis":
	case "postgres":
		if config.Database.Password == "" {
			return fmt.Errorf("database password is required for the postgres backend")
		}
	default:
		return fmt.Errorf("unknown ledger backend: %q", config.Ledger.Backend)
	}

	switch config.Auth.Mode {
	case "jwt":
		if config.Auth.JWTSecret == "" {
			return fmt.Errorf("JWT secret is required in jwt auth mode")
		}
	case "header":
	default:
		return fmt.Errorf("unknown auth mode: %q", config.Auth.Mode)
	}

	switch config.IPFS.Mode {
	case "ipfs":
		if config.IPFS.APIURL == "" {
			return fmt.Errorf("ipfs api url is required in ipfs mode")
		}
	case "local":
		if config.IPFS.LocalPath == "" {
			return fmt.Errorf("local path is required in local file store mode")
		}
	default:
		return fmt.Errorf("unknown file store mode: %q", config.IPFS.Mode)
	}

	return nil
}
