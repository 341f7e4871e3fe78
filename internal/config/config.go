package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"gocomp/domain/fit"
	"gocomp/internal/errors"
)

// Config represents the complete engine configuration
type Config struct {
	Sampler  SamplerConfig
	Outlier  OutlierConfig
	Test     TestConfig
	Database DatabaseConfig
}

// SamplerConfig holds posterior sampling settings
type SamplerConfig struct {
	Chains  int
	Warmup  int
	Samples int
	Thin    int
	Seed    int64
	Cores   int
	Bimodal bool
	LOO     bool
}

// OutlierConfig holds posterior predictive outlier detection settings
type OutlierConfig struct {
	TailThreshold float64
	MaxPasses     int
}

// TestConfig holds hypothesis testing defaults
type TestConfig struct {
	CredibleLevel      float64
	EffectThreshold    float64
	SignificanceCutoff float64
}

// DatabaseConfig holds database connection settings. An empty URL means no
// persistence backend is configured; the in-memory store applies.
type DatabaseConfig struct {
	URL      string
	User     string
	Password string
	Name     string
	Host     string
	Port     int
	SSLMode  string
}

// Load reads configuration from environment variables and validates it
func Load() (*Config, error) {
	// Best-effort .env autoload; absence is fine.
	_ = godotenv.Load()

	config := &Config{
		Sampler:  loadSamplerConfig(),
		Outlier:  loadOutlierConfig(),
		Test:     loadTestConfig(),
		Database: loadDatabaseConfig(),
	}

	if err := validateConfig(config); err != nil {
		return nil, errors.Wrap(err, "configuration validation failed")
	}

	return config, nil
}

func loadSamplerConfig() SamplerConfig {
	return SamplerConfig{
		Chains:  getEnvIntOrDefault("SAMPLER_CHAINS", fit.DefaultChains),
		Warmup:  getEnvIntOrDefault("SAMPLER_WARMUP", fit.DefaultWarmup),
		Samples: getEnvIntOrDefault("SAMPLER_SAMPLES", fit.DefaultSamples),
		Thin:    getEnvIntOrDefault("SAMPLER_THIN", fit.DefaultThin),
		Seed:    getEnvInt64OrDefault("SAMPLER_SEED", 0),
		Cores:   getEnvIntOrDefault("SAMPLER_CORES", 0),
		Bimodal: getEnvBoolOrDefault("BIMODAL_ASSOCIATION", false),
		LOO:     getEnvBoolOrDefault("ENABLE_LOO", false),
	}
}

func loadOutlierConfig() OutlierConfig {
	return OutlierConfig{
		TailThreshold: getEnvFloatOrDefault("OUTLIER_TAIL", fit.DefaultOutlierTail),
		MaxPasses:     getEnvIntOrDefault("OUTLIER_MAX_PASSES", fit.DefaultMaxPasses),
	}
}

func loadTestConfig() TestConfig {
	return TestConfig{
		CredibleLevel:      getEnvFloatOrDefault("CREDIBLE_LEVEL", fit.DefaultCredibleLevel),
		EffectThreshold:    getEnvFloatOrDefault("EFFECT_THRESHOLD", fit.DefaultEffectThreshold),
		SignificanceCutoff: getEnvFloatOrDefault("SIGNIFICANCE_CUTOFF", fit.DefaultSignificanceCutoff),
	}
}

func loadDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		URL:      getEnvOrDefault("DATABASE_URL", ""),
		User:     getEnvOrDefault("DB_USER", ""),
		Password: getEnvOrDefault("DB_PASS", ""),
		Name:     getEnvOrDefault("DB_NAME", ""),
		Host:     getEnvOrDefault("DB_HOST", ""),
		Port:     getEnvIntOrDefault("DB_PORT", 5432),
		SSLMode:  getEnvOrDefault("SSL_MODE", "disable"),
	}
}

// Enabled reports whether a persistence backend is configured.
func (d DatabaseConfig) Enabled() bool {
	return d.URL != "" || d.Host != ""
}

// DSN assembles a lib/pq connection string. An explicit URL wins over the
// discrete fields.
func (d DatabaseConfig) DSN() string {
	if d.URL != "" {
		return d.URL
	}
	var parts []string
	add := func(key, value string) {
		if value != "" {
			parts = append(parts, fmt.Sprintf("%s=%s", key, value))
		}
	}
	add("host", d.Host)
	if d.Port != 0 {
		add("port", strconv.Itoa(d.Port))
	}
	add("user", d.User)
	add("password", d.Password)
	add("dbname", d.Name)
	add("sslmode", d.SSLMode)
	return strings.Join(parts, " ")
}

// FitConfig converts sampler settings into a fit configuration
func (s SamplerConfig) FitConfig() fit.Config {
	return fit.Config{
		Chains:                 s.Chains,
		Warmup:                 s.Warmup,
		Samples:                s.Samples,
		Thin:                   s.Thin,
		Seed:                   s.Seed,
		Cores:                  s.Cores,
		BimodalMeanVariability: s.Bimodal,
		EnableLOO:              s.LOO,
	}.WithDefaults()
}

func validateConfig(config *Config) error {
	if config.Sampler.Chains < 1 {
		return errors.ConfigInvalid("SAMPLER_CHAINS must be at least 1")
	}
	if config.Sampler.Samples < 10 {
		return errors.ConfigInvalid("SAMPLER_SAMPLES must be at least 10")
	}
	if config.Outlier.TailThreshold <= 0 || config.Outlier.TailThreshold >= 0.5 {
		return errors.ConfigInvalid("OUTLIER_TAIL must be in (0, 0.5)")
	}
	if config.Outlier.MaxPasses < 1 {
		return errors.ConfigInvalid("OUTLIER_MAX_PASSES must be at least 1")
	}
	if config.Test.CredibleLevel <= 0 || config.Test.CredibleLevel >= 1 {
		return errors.ConfigInvalid("CREDIBLE_LEVEL must be in (0, 1)")
	}
	if config.Test.SignificanceCutoff <= 0 || config.Test.SignificanceCutoff >= 1 {
		return errors.ConfigInvalid("SIGNIFICANCE_CUTOFF must be in (0, 1)")
	}
	if config.Test.EffectThreshold < 0 {
		return errors.ConfigInvalid("EFFECT_THRESHOLD must be non-negative")
	}
	return nil
}

// Helper functions for environment variable parsing
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

func getEnvInt64OrDefault(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
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
