package config

import (
	"log/slog"

	"github.com/joho/godotenv"
)

// LoadEnvFiles loads environment variables from .env files if present.
// Variables already set in the environment are never overwritten.
func LoadEnvFiles() {
	for _, path := range []string{".env", ".env.local"} {
		if err := godotenv.Load(path); err == nil {
			slog.Debug("Loaded environment variables", "file", path)
		}
	}
}
