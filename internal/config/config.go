package config

import (
	"os"
	"strconv"

	"gocdr/internal/errors"
)

// Config represents the complete application configuration
type Config struct {
	Database  DatabaseConfig
	Server    ServerConfig
	Paths     PathConfig
	Training  TrainingConfig
	Profiling ProfilingConfig
}

// DatabaseConfig holds run-registry connection settings. An empty URL
// disables the registry.
type DatabaseConfig struct {
	URL          string
	MaxOpenConns int
}

// ServerConfig holds web server settings
type ServerConfig struct {
	Port string
}

// PathConfig holds file system paths
type PathConfig struct {
	ModelDir        string
	HyperparamsFile string
	ExportXLSX      string
}

// TrainingConfig holds fit-loop settings that are not model hyperparameters
type TrainingConfig struct {
	Seed       uint64
	Iterations int
	LogEvery   int
}

// ProfilingConfig holds performance profiling settings
type ProfilingConfig struct {
	Port    string
	Enabled bool
}

// Load reads configuration from environment variables and validates it
func Load() (*Config, error) {
	config := &Config{
		Database:  *loadDatabaseConfig(),
		Server:    *loadServerConfig(),
		Paths:     *loadPathConfig(),
		Profiling: *loadProfilingConfig(),
	}

	trainingConfig, err := loadTrainingConfig()
	if err != nil {
		return nil, errors.Wrap(err, "failed to load training configuration")
	}
	config.Training = *trainingConfig

	if err := validateConfig(config); err != nil {
		return nil, errors.Wrap(err, "configuration validation failed")
	}
	return config, nil
}

func loadDatabaseConfig() *DatabaseConfig {
	return &DatabaseConfig{
		URL:          getEnvOrDefault("DATABASE_URL", ""),
		MaxOpenConns: getEnvIntOrDefault("DB_MAX_OPEN_CONNS", 4),
	}
}

func loadServerConfig() *ServerConfig {
	return &ServerConfig{
		Port: getEnvOrDefault("PORT", "8080"),
	}
}

func loadPathConfig() *PathConfig {
	return &PathConfig{
		ModelDir:        getEnvOrDefault("MODEL_DIR", "./model"),
		HyperparamsFile: getEnvOrDefault("HYPERPARAMS_FILE", ""),
		ExportXLSX:      getEnvOrDefault("EXPORT_XLSX", ""),
	}
}

func loadTrainingConfig() (*TrainingConfig, error) {
	seed := uint64(0)
	if value := os.Getenv("CDR_SEED"); value != "" {
		parsed, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return nil, errors.ConfigInvalid("CDR_SEED must be a non-negative integer")
		}
		seed = parsed
	}
	return &TrainingConfig{
		Seed:       seed,
		Iterations: getEnvIntOrDefault("TRAIN_ITERATIONS", 100),
		LogEvery:   getEnvIntOrDefault("TRAIN_LOG_EVERY", 10),
	}, nil
}

func loadProfilingConfig() *ProfilingConfig {
	return &ProfilingConfig{
		Port:    getEnvOrDefault("PPROF_PORT", "6060"),
		Enabled: getEnvBoolOrDefault("PPROF_ENABLED", false),
	}
}

func validateConfig(config *Config) error {
	if config.Paths.ModelDir == "" {
		return errors.ConfigInvalid("model directory is required")
	}
	if config.Training.Iterations < 1 {
		return errors.ConfigInvalid("TRAIN_ITERATIONS must be positive")
	}
	if config.Training.LogEvery < 1 {
		return errors.ConfigInvalid("TRAIN_LOG_EVERY must be positive")
	}
	if config.Database.MaxOpenConns < 1 {
		return errors.ConfigInvalid("DB_MAX_OPEN_CONNS must be positive")
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

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
