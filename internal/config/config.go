package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Resolver ResolverConfig
	Pipeline PipelineConfig
	CORS     CORSConfig
}

// ServerConfig holds HTTP server configuration for the reporting API.
type ServerConfig struct {
	Port string
	Env  string
}

// DatabaseConfig holds PostgreSQL connection configuration.
type DatabaseConfig struct {
	Host     string
	Port     string
	Name     string
	User     string
	Password string
	PoolMin  int
	PoolMax  int
}

// ResolverConfig holds configuration for the external IP-location service
// client: endpoint, timeout, client-side rate limit, retry policy knobs,
// and the size of the worker pool dispatching per-IP lookups.
type ResolverConfig struct {
	BaseURL       string
	Timeout       time.Duration
	RatePerSecond float64
	Burst         int
	MaxAttempts   int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	Workers       int
}

// PipelineConfig holds batch run configuration: input files, batch size,
// and report parameters.
type PipelineConfig struct {
	OrdersFile  string
	IPFile      string
	BatchSize   int
	ExportFile  string
	ReportDir   string
	ReportState string
	ReportYear  int
}

// CORSConfig holds CORS configuration for the reporting API.
type CORSConfig struct {
	Origins []string
}

// Load reads configuration from environment variables.
// It uses viper to read values and provides sensible defaults for development.
func Load() (*Config, error) {
	v := viper.New()

	// Set defaults for development
	v.SetDefault("PORT", "8080")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("DB_NAME", "flowdata_salesreport")
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_POOL_MIN", 2)
	v.SetDefault("DB_POOL_MAX", 10)
	v.SetDefault("RESOLVER_BASE_URL", "https://api.iplocation.net")
	v.SetDefault("RESOLVER_TIMEOUT_SECONDS", 10)
	v.SetDefault("RESOLVER_RATE_PER_SECOND", 10.0)
	v.SetDefault("RESOLVER_BURST", 1)
	v.SetDefault("RESOLVER_MAX_ATTEMPTS", 5)
	v.SetDefault("RESOLVER_BASE_DELAY_MS", 500)
	v.SetDefault("RESOLVER_MAX_DELAY_MS", 30000)
	v.SetDefault("RESOLVER_WORKERS", 8)
	v.SetDefault("ORDERS_FILE", "orders_file.csv")
	v.SetDefault("IP_FILE", "ip_addresses.csv")
	v.SetDefault("BATCH_SIZE", 10000)
	v.SetDefault("EXPORT_FILE", "orders_export.csv")
	v.SetDefault("REPORT_DIR", ".")
	v.SetDefault("REPORT_STATE", "IL")
	v.SetDefault("REPORT_YEAR", 2021)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")

	// Bind environment variables
	v.AutomaticEnv()

	// Build configuration
	cfg := &Config{
		Server: ServerConfig{
			Port: v.GetString("PORT"),
			Env:  v.GetString("ENV"),
		},
		Database: DatabaseConfig{
			Host:     v.GetString("DB_HOST"),
			Port:     v.GetString("DB_PORT"),
			Name:     v.GetString("DB_NAME"),
			User:     v.GetString("DB_USER"),
			Password: v.GetString("DB_PASSWORD"),
			PoolMin:  v.GetInt("DB_POOL_MIN"),
			PoolMax:  v.GetInt("DB_POOL_MAX"),
		},
		Resolver: ResolverConfig{
			BaseURL:       v.GetString("RESOLVER_BASE_URL"),
			Timeout:       time.Duration(v.GetInt("RESOLVER_TIMEOUT_SECONDS")) * time.Second,
			RatePerSecond: v.GetFloat64("RESOLVER_RATE_PER_SECOND"),
			Burst:         v.GetInt("RESOLVER_BURST"),
			MaxAttempts:   v.GetInt("RESOLVER_MAX_ATTEMPTS"),
			BaseDelay:     time.Duration(v.GetInt("RESOLVER_BASE_DELAY_MS")) * time.Millisecond,
			MaxDelay:      time.Duration(v.GetInt("RESOLVER_MAX_DELAY_MS")) * time.Millisecond,
			Workers:       v.GetInt("RESOLVER_WORKERS"),
		},
		Pipeline: PipelineConfig{
			OrdersFile:  v.GetString("ORDERS_FILE"),
			IPFile:      v.GetString("IP_FILE"),
			BatchSize:   v.GetInt("BATCH_SIZE"),
			ExportFile:  v.GetString("EXPORT_FILE"),
			ReportDir:   v.GetString("REPORT_DIR"),
			ReportState: v.GetString("REPORT_STATE"),
			ReportYear:  v.GetInt("REPORT_YEAR"),
		},
		CORS: CORSConfig{
			Origins: parseOrigins(v.GetString("CORS_ORIGINS")),
		},
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that required configuration is present and valid.
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.Port == "" {
		return fmt.Errorf("PORT is required")
	}

	// Validate database config
	if c.Database.Host == "" {
		return fmt.Errorf("DB_HOST is required")
	}
	if c.Database.Port == "" {
		return fmt.Errorf("DB_PORT is required")
	}
	if c.Database.Name == "" {
		return fmt.Errorf("DB_NAME is required")
	}
	if c.Database.User == "" {
		return fmt.Errorf("DB_USER is required")
	}
	if c.Database.Password == "" {
		return fmt.Errorf("DB_PASSWORD is required")
	}
	if c.Database.PoolMin < 0 {
		return fmt.Errorf("DB_POOL_MIN must be non-negative")
	}
	if c.Database.PoolMax < 1 {
		return fmt.Errorf("DB_POOL_MAX must be at least 1")
	}
	if c.Database.PoolMin > c.Database.PoolMax {
		return fmt.Errorf("DB_POOL_MIN must be less than or equal to DB_POOL_MAX")
	}

	// Validate resolver config
	if c.Resolver.BaseURL == "" {
		return fmt.Errorf("RESOLVER_BASE_URL is required")
	}
	if c.Resolver.Timeout <= 0 {
		return fmt.Errorf("RESOLVER_TIMEOUT_SECONDS must be positive")
	}
	if c.Resolver.RatePerSecond <= 0 {
		return fmt.Errorf("RESOLVER_RATE_PER_SECOND must be positive")
	}
	if c.Resolver.Burst < 1 {
		return fmt.Errorf("RESOLVER_BURST must be at least 1")
	}
	if c.Resolver.MaxAttempts < 1 {
		return fmt.Errorf("RESOLVER_MAX_ATTEMPTS must be at least 1")
	}
	if c.Resolver.BaseDelay <= 0 {
		return fmt.Errorf("RESOLVER_BASE_DELAY_MS must be positive")
	}
	if c.Resolver.MaxDelay < c.Resolver.BaseDelay {
		return fmt.Errorf("RESOLVER_MAX_DELAY_MS must be at least RESOLVER_BASE_DELAY_MS")
	}
	if c.Resolver.Workers < 1 {
		return fmt.Errorf("RESOLVER_WORKERS must be at least 1")
	}

	// Validate pipeline config
	if c.Pipeline.OrdersFile == "" {
		return fmt.Errorf("ORDERS_FILE is required")
	}
	if c.Pipeline.IPFile == "" {
		return fmt.Errorf("IP_FILE is required")
	}
	if c.Pipeline.BatchSize < 1 {
		return fmt.Errorf("BATCH_SIZE must be at least 1")
	}
	if c.Pipeline.ReportState != "" && len(c.Pipeline.ReportState) != 2 {
		return fmt.Errorf("REPORT_STATE must be a two-letter state code")
	}

	return nil
}

// parseOrigins splits a comma-separated string of origins into a slice.
func parseOrigins(origins string) []string {
	if origins == "" {
		return []string{}
	}

	parts := strings.Split(origins, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
