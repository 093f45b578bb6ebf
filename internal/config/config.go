// Package config provides environment-based configuration management
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// RedisConfig holds Redis connection parameters.
// An empty Addr selects the in-memory dedup store and fetch lock.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// AppConfig holds application-level configuration
type AppConfig struct {
	Port           int
	LogLevel       string
	LogFormat      string
	AllowedOrigins string
	MeshSecret     string // websocket subscriber key, optional
}

// ConnectConfig holds the participant service endpoints
type ConnectConfig struct {
	ParticipantURL string
	StartChatURL   string
	InstanceID     string
	ContactFlowID  string
}

// TranscriptConfig holds session and reconciliation tunables
type TranscriptConfig struct {
	PendingMatchWindow time.Duration
	DedupTTL           time.Duration
	FetchLockTTL       time.Duration
	PageSize           int
	SessionIdle        time.Duration
	WatchdogInterval   time.Duration
	WatchdogMemPercent float64
}

// Config aggregates all configuration sections
type Config struct {
	App        AppConfig
	Redis      RedisConfig
	Connect    ConnectConfig
	Transcript TranscriptConfig
}

// LoadConfig reads an optional .env file, then the environment.
// Returns error if critical variables are missing.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()
	return fromEnv()
}

func fromEnv() (*Config, error) {
	cfg := &Config{}

	cfg.App.Port = getEnvAsInt("APP_PORT", 8080)
	cfg.App.LogLevel = getEnv("LOG_LEVEL", "info")
	cfg.App.LogFormat = getEnv("LOG_FORMAT", "json")
	cfg.App.AllowedOrigins = getEnv("ALLOWED_ORIGINS", "*")
	cfg.App.MeshSecret = os.Getenv("MESH_SECRET")

	// REDIS_ADDR set to an empty string disables Redis
	cfg.Redis.Addr = "localhost:6379"
	if v, ok := os.LookupEnv("REDIS_ADDR"); ok {
		cfg.Redis.Addr = v
	}
	cfg.Redis.Password = os.Getenv("REDIS_PASSWORD")
	cfg.Redis.DB = getEnvAsInt("REDIS_DB", 0)

	cfg.Connect.ParticipantURL = os.Getenv("CONNECT_PARTICIPANT_URL")
	cfg.Connect.StartChatURL = os.Getenv("CONNECT_START_CHAT_URL")
	cfg.Connect.InstanceID = os.Getenv("CONNECT_INSTANCE_ID")
	cfg.Connect.ContactFlowID = os.Getenv("CONNECT_CONTACT_FLOW_ID")

	if cfg.Connect.ParticipantURL == "" {
		return nil, fmt.Errorf("CONNECT_PARTICIPANT_URL environment variable is required")
	}
	if cfg.Connect.StartChatURL == "" {
		return nil, fmt.Errorf("CONNECT_START_CHAT_URL environment variable is required")
	}

	cfg.Transcript.PendingMatchWindow = time.Duration(getEnvAsInt("PENDING_MATCH_WINDOW_SEC", 30)) * time.Second
	cfg.Transcript.DedupTTL = time.Duration(getEnvAsInt("DEDUP_TTL_MIN", 1440)) * time.Minute
	cfg.Transcript.FetchLockTTL = time.Duration(getEnvAsInt("FETCH_LOCK_TTL_SEC", 30)) * time.Second
	cfg.Transcript.PageSize = getEnvAsInt("TRANSCRIPT_PAGE_SIZE", 15)
	cfg.Transcript.SessionIdle = time.Duration(getEnvAsInt("SESSION_IDLE_MIN", 60)) * time.Minute
	cfg.Transcript.WatchdogInterval = time.Duration(getEnvAsInt("WATCHDOG_INTERVAL_SEC", 60)) * time.Second
	cfg.Transcript.WatchdogMemPercent = float64(getEnvAsInt("WATCHDOG_MEM_PCT", 80))

	if cfg.Transcript.PendingMatchWindow <= 0 {
		return nil, fmt.Errorf("PENDING_MATCH_WINDOW_SEC must be positive")
	}
	if cfg.Transcript.WatchdogInterval <= 0 {
		return nil, fmt.Errorf("WATCHDOG_INTERVAL_SEC must be positive")
	}

	return cfg, nil
}

// getEnv reads environment variable with fallback default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt reads environment variable as integer with fallback default
func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}
