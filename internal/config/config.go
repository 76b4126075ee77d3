package config

import (
	"fmt"
	"log"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Port           string   `mapstructure:"PORT"`
	Env            string   `mapstructure:"ENV"`
	DatabaseURL    string   `mapstructure:"DATABASE_URL"`
	DBMaxConns     int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns     int32    `mapstructure:"DB_MIN_CONNS"`
	CORSOrigins    []string `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS   float64  `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int      `mapstructure:"RATE_LIMIT_BURST"`

	// OMOP warehouse layout
	OMOPCatalog string `mapstructure:"OMOP_CATALOG"`
	OMOPSchema  string `mapstructure:"OMOP_SCHEMA"`

	// AI query service (Databricks Genie)
	DatabricksHost  string `mapstructure:"DATABRICKS_HOST"`
	DatabricksToken string `mapstructure:"DATABRICKS_TOKEN"`
	GenieSpaceID    string `mapstructure:"GENIE_SPACE_ID"`

	// API auth
	AuthMode      string `mapstructure:"AUTH_MODE"`
	JWTSigningKey string `mapstructure:"JWT_SIGNING_KEY"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)
	v.SetDefault("OMOP_CATALOG", "hive_metastore")
	v.SetDefault("OMOP_SCHEMA", "omop_cdm")
	v.SetDefault("AUTH_MODE", "")

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("CORS_ORIGINS")
	v.BindEnv("RATE_LIMIT_RPS")
	v.BindEnv("RATE_LIMIT_BURST")
	v.BindEnv("OMOP_CATALOG")
	v.BindEnv("OMOP_SCHEMA")
	v.BindEnv("DATABRICKS_HOST")
	v.BindEnv("DATABRICKS_TOKEN")
	v.BindEnv("GENIE_SPACE_ID")
	v.BindEnv("AUTH_MODE")
	v.BindEnv("JWT_SIGNING_KEY")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if !cfg.GenieConfigured() {
		log.Println("WARNING: DATABRICKS_HOST / DATABRICKS_TOKEN / GENIE_SPACE_ID not fully set.")
		log.Println("WARNING: Natural-language queries will use the keyword fallback matcher only.")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// OMOPFullSchema returns the fully qualified OMOP schema name used to prefix
// warehouse table references.
func (c *Config) OMOPFullSchema() string {
	return c.OMOPCatalog + "." + c.OMOPSchema
}

// GenieConfigured reports whether the AI query service can be reached at all.
func (c *Config) GenieConfigured() bool {
	return c.DatabricksHost != "" && c.DatabricksToken != "" && c.GenieSpaceID != ""
}

// ResolvedAuthMode returns the effective auth mode. If AUTH_MODE is explicitly
// set, it is returned. Otherwise development implies no auth and anything else
// requires a signing key.
func (c *Config) ResolvedAuthMode() string {
	if c.AuthMode != "" {
		return c.AuthMode
	}
	if c.IsDev() {
		return "development"
	}
	return "jwt"
}

// Validate checks that the configuration is safe to run. Outside development a
// JWT signing key must be present so the analyst API is not left open.
func (c *Config) Validate() error {
	mode := c.ResolvedAuthMode()
	if mode != "development" && mode != "jwt" {
		return fmt.Errorf("AUTH_MODE must be \"development\" or \"jwt\", got %q", mode)
	}
	if mode == "jwt" && c.JWTSigningKey == "" {
		return fmt.Errorf("JWT_SIGNING_KEY is required when AUTH_MODE is \"jwt\" (current ENV=%q)", c.Env)
	}
	if c.OMOPCatalog == "" || c.OMOPSchema == "" {
		return fmt.Errorf("OMOP_CATALOG and OMOP_SCHEMA must both be set")
	}
	return nil
}
