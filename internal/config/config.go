// Package config loads process configuration from the environment, with
// .env support for local development.
package config

import (
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

type Config struct {
	StateDir string
	Google   GoogleConfig
	CalDAV   CalDAVConfig
	Logging  LoggingConfig

	// Timezone seeds the preference on first run; afterwards the value
	// stored in state wins.
	Timezone string

	// CalendarName is the dedicated calendar the gateway targets.
	CalendarName string
}

type GoogleConfig struct {
	ClientID     string
	ClientSecret string
}

type CalDAVConfig struct {
	Endpoint     string
	Username     string
	Password     string
	CalendarName string
}

type LoggingConfig struct {
	Level string
}

// Load reads the environment. It never fails: every key has a default
// and credential checks happen where the credentials are used.
func Load() *Config {
	godotenv.Load()

	return &Config{
		StateDir:     getEnv("QUESO_STATE_DIR", defaultStateDir()),
		Timezone:     getEnv("QUESO_TIMEZONE", ""),
		CalendarName: getEnv("QUESO_CALENDAR_NAME", "Queso Assistant"),
		Google: GoogleConfig{
			ClientID:     getEnv("GOOGLE_CLIENT_ID", ""),
			ClientSecret: getEnv("GOOGLE_CLIENT_SECRET", ""),
		},
		CalDAV: CalDAVConfig{
			Endpoint:     getEnv("CALDAV_ENDPOINT", "https://caldav.icloud.com/"),
			Username:     getEnv("CALDAV_USERNAME", ""),
			Password:     getEnv("CALDAV_PASSWORD", ""),
			CalendarName: getEnv("CALDAV_CALENDAR_NAME", "Queso"),
		},
		Logging: LoggingConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
	}
}

func defaultStateDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".queso"
	}
	return filepath.Join(home, ".queso")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
