package config

import (
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Config holds all configuration for the application
type Config struct {
	Port                string
	DatabaseURL         string // Email index (postgres:// or mysql://)
	Version             string
	LogLevel            string
	WaitForTunnel       bool     // Whether to wait for the database to accept connections
	ModelPath           string   // Trained classifier artifact; absent means rules-only
	RankingConfigPath   string   // Optional YAML with weights, decay and rules
	AcceptanceThreshold float64  // Minimum model probability for a label
	DefaultScale        string   // Recency scale used when a query does not set one
	DecayAtScale        float64  // Recency multiplier reached at age == scale
	UserAddresses       []string // Mailbox owner addresses, used to detect user-authored replies
	BackfillWorkers     int      // Number of backfill shards
	BackfillBatchSize   int      // Documents read per backfill page
	BackfillSchedule    string   // Cron expression for periodic backfill
	BackfillWindowDays  int      // Window re-processed by each scheduled backfill
	SearchCandidatePool int      // Rows fetched from the text index before reranking
	RedisURL            string   // Optional; in-memory cache when empty
	LabelCacheTTL       int      // Label facet cache TTL in seconds
	K8sNamespace        string   // Namespace for backfill jobs
	BackfillImage       string   // Image used by backfill jobs
}

// Load initializes and returns application configuration
func Load() *Config {
	// Load environment variables from .env file
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	config := &Config{
		Port:                getEnv("PORT", "8080"),
		DatabaseURL:         os.Getenv("DATABASE_URL"),
		Version:             getEnv("VERSION", "1.0.0"),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		WaitForTunnel:       getEnvBool("WAIT_FOR_TUNNEL", false),
		ModelPath:           getEnv("MODEL_PATH", "data/model.json"),
		RankingConfigPath:   os.Getenv("RANKING_CONFIG_PATH"),
		AcceptanceThreshold: getEnvFloat("ACCEPTANCE_THRESHOLD", 0.5),
		DefaultScale:        getEnv("DEFAULT_SCALE", "7d"),
		DecayAtScale:        getEnvFloat("DECAY_AT_SCALE", 0.5),
		UserAddresses:       getEnvList("USER_ADDRESSES"),
		BackfillWorkers:     getEnvInt("BACKFILL_WORKERS", 4),
		BackfillBatchSize:   getEnvInt("BACKFILL_BATCH_SIZE", 500),
		BackfillSchedule:    getEnv("BACKFILL_SCHEDULE", "0 3 * * *"), // Default daily at 03:00
		BackfillWindowDays:  getEnvInt("BACKFILL_WINDOW_DAYS", 30),
		SearchCandidatePool: getEnvInt("SEARCH_CANDIDATE_POOL", 200),
		RedisURL:            os.Getenv("REDIS_URL"),
		LabelCacheTTL:       getEnvInt("LABEL_CACHE_TTL_SECONDS", 300),
		K8sNamespace:        getEnv("K8S_NAMESPACE", "mailrank"),
		BackfillImage:       getEnv("BACKFILL_IMAGE", "mailrank:latest"),
	}

	return config
}

// getEnv gets an environment variable with a default fallback
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an environment variable as integer with a default fallback
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvBool gets an environment variable as boolean with a default fallback
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvFloat gets an environment variable as float with a default fallback
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// getEnvList splits a comma separated environment variable, dropping blanks
func getEnvList(key string) []string {
	var result []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			result = append(result, strings.ToLower(part))
		}
	}
	return result
}

// SetupLogger configures zerolog with JSON output and single-line format
func (c *Config) SetupLogger() zerolog.Logger {
	// Configure zerolog to output JSON without newlines
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	// Create logger with JSON output to stdout
	logger := zerolog.New(os.Stdout).With().
		Timestamp().
		Str("service", "mailrank").
		Str("version", c.Version).
		Logger()

	// Set log level based on configuration
	level, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel))
	if err != nil {
		level = zerolog.InfoLevel
	}
	logger = logger.Level(level)

	return logger
}
