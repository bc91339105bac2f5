package config

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

// LoadDotEnv loads environment variables from .env files, first an explicit
// path if given, then ".env" in the current directory, then "~/.env".
// Existing environment variables are never overwritten. A missing file at
// any step is not an error.
func LoadDotEnv(explicitPath string) error {
	if explicitPath != "" {
		if err := loadIfExists(explicitPath); err != nil {
			return err
		}
	}
	if err := loadIfExists(".env"); err != nil {
		return err
	}
	if home, err := os.UserHomeDir(); err == nil {
		if err := loadIfExists(filepath.Join(home, ".env")); err != nil {
			return err
		}
	}
	return nil
}

func loadIfExists(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		slog.Debug("config: failed to load .env file", "path", path, "error", err)
		return nil
	}
	return nil
}
