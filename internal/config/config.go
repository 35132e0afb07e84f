package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the application
type Config struct {
	Storage  StorageConfig
	Transfer TransferConfig
	Server   ServerConfig
}

// StorageConfig holds storage-related configuration
type StorageConfig struct {
	Type        string // "postgresql", "mongodb", "dynamodb"
	PostgresURI string
	MongoDBURI  string
	MongoDBName string
	Region      string // For AWS DynamoDB
	TablePrefix string
	Endpoint    string // Custom endpoint for local testing
}

// TransferConfig holds transfer-pipeline configuration
type TransferConfig struct {
	BatchLimit   int           // max staging rows per transfer invocation
	AutoTransfer bool          // periodically transfer queued batches
	AutoInterval time.Duration // scheduler interval when AutoTransfer is on
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port int
}

// Load loads configuration from environment variables with defaults
func Load() (*Config, error) {
	cfg := &Config{
		Storage: StorageConfig{
			Type:        getEnv("STORAGE_TYPE", "postgresql"),
			PostgresURI: getEnv("POSTGRES_URI", ""),
			MongoDBURI:  getEnv("MONGODB_URI", ""),
			MongoDBName: getEnv("MONGODB_DATABASE", "kolcenter"),
			Region:      getEnv("AWS_REGION", "us-west-2"),
			TablePrefix: getEnv("TABLE_PREFIX", "kolcenter"),
			Endpoint:    getEnv("DYNAMODB_ENDPOINT", ""), // For local DynamoDB
		},
		Transfer: TransferConfig{
			BatchLimit:   getEnvInt("TRANSFER_BATCH_LIMIT", 1000),
			AutoTransfer: getEnvBool("TRANSFER_AUTO", false),
			AutoInterval: getEnvDuration("TRANSFER_AUTO_INTERVAL", 10*time.Minute),
		},
		Server: ServerConfig{
			Port: getEnvInt("SERVER_PORT", 8080),
		},
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
