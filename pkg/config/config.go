package config

import (
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"

	"voice-call-orchestrator/pkg/constants"
)

type Config struct {
	Port        string
	MetricsPort string
	LogLevel    string
	PodID       string

	RedisURL                       string
	RegistryEnabled                bool
	RegistryCleanupIntervalSeconds int
	RegistryMaxAgeSeconds          int
	LeaderElectionTTL              int

	WorkflowConfigPath string
	WebhookURL         string

	LiveKitURL         string
	LiveKitAPIKey      string
	LiveKitAPISecret   string
	SIPOutboundTrunkID string

	RealtimeURL    string
	RealtimeAPIKey string
	RealtimeModel  string
}

func Load() *Config {
	config := &Config{
		Port:        getEnv("PORT", "8080"),
		MetricsPort: getEnv("METRICS_PORT", "9090"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		PodID:       getEnv("POD_ID", generatePodID()),

		RedisURL:                       getEnv("REDIS_URL", "redis://localhost:6379"),
		RegistryEnabled:                getEnvBool("REGISTRY_ENABLED", true),
		RegistryCleanupIntervalSeconds: getEnvInt("REGISTRY_CLEANUP_INTERVAL", constants.DefaultRegistryCleanupIntervalSeconds),
		RegistryMaxAgeSeconds:          getEnvInt("REGISTRY_MAX_AGE", constants.DefaultRegistryMaxAgeSeconds),
		LeaderElectionTTL:              getEnvInt("LEADER_ELECTION_TTL", constants.DefaultLeaderElectionTTLSeconds),

		WorkflowConfigPath: getEnv(constants.EnvWorkflowConfig, "workflow.yaml"),
		WebhookURL:         getEnv(constants.EnvWebhookURL, ""),

		LiveKitURL:         getEnv(constants.EnvLiveKitURL, "ws://localhost:7880"),
		LiveKitAPIKey:      getEnv(constants.EnvLiveKitAPIKey, ""),
		LiveKitAPISecret:   getEnv(constants.EnvLiveKitAPISecret, ""),
		SIPOutboundTrunkID: getEnv(constants.EnvSIPOutboundTrunkID, ""),

		RealtimeURL:    getEnv(constants.EnvRealtimeURL, "wss://api.openai.com/v1/realtime"),
		RealtimeAPIKey: getEnv(constants.EnvRealtimeAPIKey, ""),
		RealtimeModel:  getEnv("REALTIME_MODEL", "gpt-4o-realtime-preview"),
	}

	return config
}

func (c *Config) RegistryCleanupInterval() time.Duration {
	return constants.DurationOrDefault(c.RegistryCleanupIntervalSeconds, constants.DefaultRegistryCleanupIntervalSeconds)
}

func (c *Config) RegistryMaxAge() time.Duration {
	return constants.DurationOrDefault(c.RegistryMaxAgeSeconds, constants.DefaultRegistryMaxAgeSeconds)
}

func (c *Config) LeaderElectionTTLDuration() time.Duration {
	return constants.DurationOrDefault(c.LeaderElectionTTL, constants.DefaultLeaderElectionTTLSeconds)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func generatePodID() string {
	hostname, err := os.Hostname()
	if err != nil {
		return uuid.New().String()
	}
	return hostname + "-" + uuid.New().String()[:8]
}
