package config

import (
	"errors"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Environment variables that override secrets from the config file.
const (
	EnvTelegramToken = "REMINDBOT_TELEGRAM_TOKEN"
	EnvOpenAIKey     = "OPENAI_API_KEY"
	EnvTwilioSID     = "TWILIO_ACCOUNT_SID"
	EnvTwilioToken   = "TWILIO_AUTH_TOKEN"
	EnvDatabaseURL   = "REMINDBOT_DATABASE_URL"
)

// LoadDotEnv loads KEY=value pairs from path into the process environment.
// Variables already set win. A missing file is not an error.
func LoadDotEnv(path string) error {
	if strings.TrimSpace(path) == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// ApplyEnv copies non-empty secret variables into cfg.
func ApplyEnv(cfg *Config) {
	applyEnv(cfg, os.Getenv)
}

func applyEnv(cfg *Config, getenv func(string) string) {
	if cfg == nil {
		return
	}
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	set(&cfg.Telegram.Token, EnvTelegramToken)
	set(&cfg.Transcriber.APIKey, EnvOpenAIKey)
	set(&cfg.Notifier.WhatsApp.AccountSID, EnvTwilioSID)
	set(&cfg.Notifier.WhatsApp.AuthToken, EnvTwilioToken)
	if v := strings.TrimSpace(getenv(EnvDatabaseURL)); v != "" {
		cfg.Storage.DSN = v
		if strings.TrimSpace(cfg.Storage.Driver) == "" {
			cfg.Storage.Driver = "postgres"
		}
	}
}
