package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/badal-health/risk-server/internal/domain"
	"github.com/badal-health/risk-server/internal/service"
)

// Transports accepted by the MCP server.
const (
	TransportStdio = "stdio"
	TransportHTTP  = "http"
)

// LiteConfig configures the MCP server and riskctl from BADAL_* environment
// variables. It needs no database: results are archived in SQLite under
// DataDir and cached in memory.
type LiteConfig struct {
	DataDir string

	CacheMaxItems int
	CacheTTL      time.Duration

	Transport         string
	HTTPPort          int
	MCPRequestTimeout time.Duration

	// ClassifierFile optionally points at a YAML or JSON document with a
	// top-level "classifier" section overriding the rule and threshold tables.
	ClassifierFile string

	LogLevel  string
	LogFormat string
}

// DefaultLiteConfig returns the configuration used when no variables are set.
func DefaultLiteConfig() *LiteConfig {
	homeDir, _ := os.UserHomeDir()

	return &LiteConfig{
		DataDir:           filepath.Join(homeDir, ".badal"),
		CacheMaxItems:     1000,
		CacheTTL:          24 * time.Hour,
		Transport:         TransportStdio,
		HTTPPort:          8081,
		MCPRequestTimeout: 30 * time.Second,
		LogLevel:          "info",
		LogFormat:         "json",
	}
}

// LoadLiteConfig overlays the environment on the defaults. Unparseable
// numbers and durations keep their default; call Validate for the rest.
func LoadLiteConfig() *LiteConfig {
	cfg := DefaultLiteConfig()

	envString("BADAL_DATA_DIR", &cfg.DataDir)
	envPositiveInt("BADAL_CACHE_MAX_ITEMS", &cfg.CacheMaxItems)
	envDuration("BADAL_CACHE_TTL", &cfg.CacheTTL)
	envString("BADAL_TRANSPORT", &cfg.Transport)
	envPositiveInt("BADAL_HTTP_PORT", &cfg.HTTPPort)
	envDuration("BADAL_MCP_REQUEST_TIMEOUT", &cfg.MCPRequestTimeout)
	envString("BADAL_CLASSIFIER_FILE", &cfg.ClassifierFile)
	envString("BADAL_LOG_LEVEL", &cfg.LogLevel)
	envString("BADAL_LOG_FORMAT", &cfg.LogFormat)

	return cfg
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envPositiveInt(key string, dst *int) {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil && n > 0 {
		*dst = n
	}
}

func envDuration(key string, dst *time.Duration) {
	if d, err := time.ParseDuration(os.Getenv(key)); err == nil && d > 0 {
		*dst = d
	}
}

// Validate checks the values the environment may have set.
func (c *LiteConfig) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data directory is required")
	}
	switch c.Transport {
	case TransportStdio, TransportHTTP:
	default:
		return fmt.Errorf("invalid transport %q, expected %s or %s", c.Transport, TransportStdio, TransportHTTP)
	}
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log level: %s", c.LogLevel)
	}
	if c.ClassifierFile != "" {
		if _, err := c.ClassifierConfig(); err != nil {
			return err
		}
	}
	return nil
}

// ClassifierConfig returns the classifier tables, read from ClassifierFile
// when set. Sections missing from the file keep their defaults.
func (c *LiteConfig) ClassifierConfig() (domain.ClassifierConfig, error) {
	if c.ClassifierFile == "" {
		return domain.DefaultClassifierConfig(), nil
	}

	v := viper.New()
	v.SetConfigFile(c.ClassifierFile)
	if err := v.ReadInConfig(); err != nil {
		return domain.ClassifierConfig{}, fmt.Errorf("reading classifier file: %w", err)
	}

	var cfg domain.ClassifierConfig
	if err := v.UnmarshalKey("classifier", &cfg); err != nil {
		return domain.ClassifierConfig{}, fmt.Errorf("parsing classifier file: %w", err)
	}
	applyClassifierDefaults(&cfg)
	return cfg, nil
}

// NewRuleEngine builds the rule classifier from ClassifierConfig.
func (c *LiteConfig) NewRuleEngine() (*service.RuleEngine, error) {
	cfg, err := c.ClassifierConfig()
	if err != nil {
		return nil, err
	}
	return service.NewRuleEngine(cfg)
}

// CacheConfig returns the memory-only cache settings.
func (c *LiteConfig) CacheConfig() domain.CacheConfig {
	return domain.CacheConfig{MaxItems: c.CacheMaxItems, DefaultTTL: c.CacheTTL}
}

// MCPConfig returns the MCP server settings.
func (c *LiteConfig) MCPConfig() domain.MCPConfig {
	return domain.MCPConfig{RequestTimeout: c.MCPRequestTimeout}
}

// HTTPAddr returns the listen address for the HTTP transport.
func (c *LiteConfig) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

// ArchiveDBPath returns the path to the analysis archive SQLite database.
func (c *LiteConfig) ArchiveDBPath() string {
	return filepath.Join(c.DataDir, "archive.db")
}

// ExportDir returns the directory for JSON exports.
func (c *LiteConfig) ExportDir() string {
	return filepath.Join(c.DataDir, "exports")
}

// EnsureDataDir creates the data and export directories.
func (c *LiteConfig) EnsureDataDir() error {
	if err := os.MkdirAll(c.DataDir, 0o755); err != nil {
		return err
	}
	return os.MkdirAll(c.ExportDir(), 0o755)
}
