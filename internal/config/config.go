package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

const (
	StoreNone     = "none"
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
)

type Config struct {
	Port              string `mapstructure:"PORT"`
	Env               string `mapstructure:"ENV"`
	LogLevel          string `mapstructure:"LOG_LEVEL"`
	DatabaseURL       string `mapstructure:"DATABASE_URL"`
	DBMaxConns        int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns        int32  `mapstructure:"DB_MIN_CONNS"`
	StoreDriver       string `mapstructure:"STORE_DRIVER"`
	SQLitePath        string `mapstructure:"SQLITE_PATH"`
	CatalogFile       string `mapstructure:"CATALOG_FILE"`
	FHIRPathCacheSize int    `mapstructure:"FHIRPATH_CACHE_SIZE"`
	UnitCacheSize     int    `mapstructure:"UNIT_CACHE_SIZE"`
	IndexWorkers      int    `mapstructure:"INDEX_WORKERS"`
	AuthSigningKey    string `mapstructure:"AUTH_SIGNING_KEY"`
	AuthIssuer        string `mapstructure:"AUTH_ISSUER"`
	AuthAudience      string `mapstructure:"AUTH_AUDIENCE"`
}

var keys = []string{
	"PORT",
	"ENV",
	"LOG_LEVEL",
	"DATABASE_URL",
	"DB_MAX_CONNS",
	"DB_MIN_CONNS",
	"STORE_DRIVER",
	"SQLITE_PATH",
	"CATALOG_FILE",
	"FHIRPATH_CACHE_SIZE",
	"UNIT_CACHE_SIZE",
	"INDEX_WORKERS",
	"AUTH_SIGNING_KEY",
	"AUTH_ISSUER",
	"AUTH_AUDIENCE",
}

// Load reads the configuration from the environment, falling back to a .env
// file in the working directory when one exists.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("STORE_DRIVER", StoreNone)
	v.SetDefault("SQLITE_PATH", "fhirindex.db")
	v.SetDefault("FHIRPATH_CACHE_SIZE", 512)
	v.SetDefault("UNIT_CACHE_SIZE", 256)
	v.SetDefault("INDEX_WORKERS", 4)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.StoreDriver = strings.ToLower(strings.TrimSpace(cfg.StoreDriver))
	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// AuthEnabled reports whether bearer tokens are required on the API.
func (c *Config) AuthEnabled() bool {
	return c.AuthSigningKey != ""
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case StoreNone, "":
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE_DRIVER is %q", StorePostgres)
		}
	case StoreSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH is required when STORE_DRIVER is %q", StoreSQLite)
		}
	default:
		return fmt.Errorf("STORE_DRIVER must be \"none\", \"postgres\", or \"sqlite\", got %q", c.StoreDriver)
	}

	if c.IndexWorkers <= 0 {
		return fmt.Errorf("INDEX_WORKERS must be positive, got %d", c.IndexWorkers)
	}
	if c.FHIRPathCacheSize <= 0 {
		return fmt.Errorf("FHIRPATH_CACHE_SIZE must be positive, got %d", c.FHIRPathCacheSize)
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) must not exceed DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}

	// HS256 keys shorter than 256 bits are rejected.
	if c.AuthSigningKey != "" && len(c.AuthSigningKey) < 32 {
		return fmt.Errorf("AUTH_SIGNING_KEY must be at least 32 bytes, got %d", len(c.AuthSigningKey))
	}
	if c.IsProduction() && !c.AuthEnabled() {
		return fmt.Errorf("AUTH_SIGNING_KEY is required in production")
	}
	return nil
}
