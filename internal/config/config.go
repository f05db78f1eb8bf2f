package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port              int
	NatsURL           string
	DatabaseURL       string
	GenAIBaseURL      string
	GenAIAPIKey       string
	Model             string
	OutlineModel      string
	GenAITimeout      time.Duration
	GenAIMaxRetries   int
	BatchSize         int
	ImageEndpoint     string
	ImageKey          string
	PhotosAPIKey      string
	LogLevel          string
	SlackBotToken     string
	SlackAlertChannel string
}

func Load() Config {
	return Config{
		Port:              envInt("ORATOR_PORT", 8600),
		NatsURL:           envStr("NATS_URL", "nats://hermes:4222"),
		DatabaseURL:       envStr("DATABASE_URL", ""),
		GenAIBaseURL:      envStr("ORATOR_GENAI_BASE_URL", ""),
		GenAIAPIKey:       envStr("ORATOR_GENAI_API_KEY", ""),
		Model:             envStr("ORATOR_MODEL", ""),
		OutlineModel:      envStr("ORATOR_OUTLINE_MODEL", ""),
		GenAITimeout:      time.Duration(envInt("ORATOR_GENAI_TIMEOUT_MS", 300000)) * time.Millisecond,
		GenAIMaxRetries:   envInt("ORATOR_GENAI_MAX_RETRIES", 3),
		BatchSize:         envInt("ORATOR_BATCH_SIZE", 4),
		ImageEndpoint:     envStr("ORATOR_IMAGE_ENDPOINT", ""),
		ImageKey:          envStr("ORATOR_IMAGE_KEY", ""),
		PhotosAPIKey:      envStr("PEXELS_API_KEY", ""),
		LogLevel:          envStr("LOG_LEVEL", "info"),
		SlackBotToken:     envStr("SLACK_BOT_TOKEN", ""),
		SlackAlertChannel: envStr("SLACK_ALERT_CHANNEL", ""),
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
