package domain

import (
	"time"
)

// Config represents the main application configuration
type Config struct {
	Environment string           `mapstructure:"environment"`
	Server      ServerConfig     `mapstructure:"server"`
	Database    DatabaseConfig   `mapstructure:"database"`
	Cache       CacheConfig      `mapstructure:"cache"`
	Archive     ArchiveConfig    `mapstructure:"archive"`
	Logging     LoggingConfig    `mapstructure:"logging"`
	RateLimit   RateLimitConfig  `mapstructure:"rate_limit"`
	Classifier  ClassifierConfig `mapstructure:"classifier"`
	MCP         MCPConfig        `mapstructure:"mcp"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	MaxUploadBytes int64         `mapstructure:"max_upload_bytes"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
}

// DatabaseConfig represents database connection configuration. An empty
// host disables the patient repository.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Database        string        `mapstructure:"database"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// CacheConfig represents result cache configuration. An empty RedisURL keeps
// the cache in memory only.
type CacheConfig struct {
	RedisURL    string        `mapstructure:"redis_url"`
	DefaultTTL  time.Duration `mapstructure:"default_ttl"`
	MaxItems    int           `mapstructure:"max_items"`
	MaxRetries  int           `mapstructure:"max_retries"`
	PoolSize    int           `mapstructure:"pool_size"`
	PoolTimeout time.Duration `mapstructure:"pool_timeout"`
}

// ArchiveConfig selects the analysis archive backend.
type ArchiveConfig struct {
	Driver      string `mapstructure:"driver"` // "sqlite", "postgres"
	SQLitePath  string `mapstructure:"sqlite_path"`
	PostgresDSN string `mapstructure:"postgres_dsn"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// RateLimitConfig bounds per-client request rates.
type RateLimitConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
	MaxClients        int     `mapstructure:"max_clients"`
}

// ClassifierConfig holds the rule and threshold tables of the weighted rule
// classifier. Thresholds are evaluated highest minimum first.
type ClassifierConfig struct {
	GeneticRules      []RuleWeight `mapstructure:"genetic_rules" json:"genetic_rules"`
	GeneticThresholds []Threshold  `mapstructure:"genetic_thresholds" json:"genetic_thresholds"`
	LesionThresholds  []Threshold  `mapstructure:"lesion_thresholds" json:"lesion_thresholds"`
}

// RuleWeight maps a case-sensitive substring pattern to the weight each
// matching marker contributes.
type RuleWeight struct {
	Pattern string  `mapstructure:"pattern" json:"pattern"`
	Weight  float64 `mapstructure:"weight" json:"weight"`
}

// Threshold assigns Level to any score at or above Min.
type Threshold struct {
	Min   float64   `mapstructure:"min" json:"min"`
	Level RiskLevel `mapstructure:"level" json:"level"`
}

// DefaultClassifierConfig returns the reference rule and threshold tables.
func DefaultClassifierConfig() ClassifierConfig {
	return ClassifierConfig{
		GeneticRules: []RuleWeight{
			{Pattern: "BRCA", Weight: 0.30},
			{Pattern: "TP53", Weight: 0.20},
			{Pattern: "EGFR", Weight: 0.15},
			{Pattern: "KRAS", Weight: 0.15},
			{Pattern: "PTEN", Weight: 0.20},
		},
		GeneticThresholds: []Threshold{
			{Min: 0.70, Level: HIGH},
			{Min: 0.40, Level: MEDIUM},
			{Min: 0, Level: LOW},
		},
		LesionThresholds: []Threshold{
			{Min: 0.85, Level: HIGH},
			{Min: 0.70, Level: MEDIUM},
			{Min: 0.50, Level: LOW},
			{Min: 0, Level: LOW},
		},
	}
}

// MCPConfig represents MCP server configuration
type MCPConfig struct {
	ServerName     string        `mapstructure:"server_name"`
	ServerVersion  string        `mapstructure:"server_version"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}
