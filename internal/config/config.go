package config

import (
	"os"
	"strconv"
	"strings"

	"highlight-store/internal/domain"
)

// AppConfig implements the domain.Config interface
type AppConfig struct {
	ServerPort       string
	LogLevel         string
	LogFormat        string
	LogFile          string
	StoreBackend     string
	StoreName        string
	DataDir          string
	SupabaseURL      string
	SupabaseKey      string
	APIToken         string
	AllowedOrigins   []string
	ProducerVersion  int
	SweepConcurrency int
	StrictInvariants bool
}

// NewConfig creates a new configuration instance with default values
func NewConfig() domain.Config {
	return &AppConfig{
		// Cloud Run (and many PaaS) provide the listening port via PORT.
		// Keep SERVER_PORT for local/dev compatibility.
		ServerPort:       getEnvOrDefault("PORT", getEnvOrDefault("SERVER_PORT", "8080")),
		LogLevel:         getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:        getEnvOrDefault("LOG_FORMAT", "text"),
		LogFile:          getEnvOrDefault("LOG_FILE", ""),
		StoreBackend:     strings.ToLower(getEnvOrDefault("STORE_BACKEND", "memory")),
		StoreName:        getEnvOrDefault("STORE_NAME", "highlights"),
		DataDir:          getEnvOrDefault("DATA_DIR", "./data"),
		SupabaseURL:      getEnvOrDefault("SUPABASE_URL", ""),
		SupabaseKey:      getEnvOrDefault("SUPABASE_ANON_KEY", ""),
		APIToken:         getEnvOrDefault("API_TOKEN", ""),
		AllowedOrigins:   getEnvListOrDefault("CORS_ALLOWED_ORIGINS", []string{"*"}),
		ProducerVersion:  getEnvIntOrDefault("PRODUCER_VERSION", 1),
		SweepConcurrency: getEnvIntOrDefault("SWEEP_CONCURRENCY", 4),
		StrictInvariants: getEnvBoolOrDefault("STRICT_INVARIANTS", false),
	}
}

// GetServerPort returns the server port
func (c *AppConfig) GetServerPort() string {
	return c.ServerPort
}

// GetLogLevel returns the logging level
func (c *AppConfig) GetLogLevel() string {
	return c.LogLevel
}

// GetLogFormat returns text or json
func (c *AppConfig) GetLogFormat() string {
	return c.LogFormat
}

// GetLogFile returns the rotated log file path, empty for stdout only
func (c *AppConfig) GetLogFile() string {
	return c.LogFile
}

// GetStoreBackend returns the storage engine name
func (c *AppConfig) GetStoreBackend() string {
	return c.StoreBackend
}

// GetStoreName returns the logical store name
func (c *AppConfig) GetStoreName() string {
	return c.StoreName
}

// GetDataDir returns the directory for SQLite files
func (c *AppConfig) GetDataDir() string {
	return c.DataDir
}

// GetSupabaseURL returns the Supabase URL
func (c *AppConfig) GetSupabaseURL() string {
	return c.SupabaseURL
}

// GetSupabaseKey returns the Supabase anon key
func (c *AppConfig) GetSupabaseKey() string {
	return c.SupabaseKey
}

// GetAPIToken returns the bearer token guarding the API, empty when open
func (c *AppConfig) GetAPIToken() string {
	return c.APIToken
}

// GetAllowedOrigins returns the CORS origins
func (c *AppConfig) GetAllowedOrigins() []string {
	return c.AllowedOrigins
}

// GetProducerVersion returns the version stamped on new highlights
func (c *AppConfig) GetProducerVersion() int {
	return c.ProducerVersion
}

// GetSweepConcurrency returns how many matches the GC cleans in parallel
func (c *AppConfig) GetSweepConcurrency() int {
	return c.SweepConcurrency
}

// GetStrictInvariants reports whether invariant violations panic
func (c *AppConfig) GetStrictInvariants() bool {
	return c.StrictInvariants
}

// Helper functions for environment variable handling
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvListOrDefault(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
