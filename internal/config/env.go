package config

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"lipsync-studio/internal/domain"
)

// EnvPrefix namespaces every environment override.
const EnvPrefix = "LIPSYNC_"

// LoadDotEnv loads variables from the given .env files into the process
// environment. Missing files are ignored; variables already set win.
func LoadDotEnv(paths ...string) error {
	for _, path := range paths {
		if err := godotenv.Load(path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", path, err)
		}
	}
	return nil
}

// ApplyEnv overlays LIPSYNC_* variables from environ onto settings.
// Fields without a matching variable keep their current value.
func ApplyEnv(settings domain.Settings, environ []string) (domain.Settings, error) {
	err := env.ParseWithOptions(&settings, env.Options{
		Environment: env.ToMap(environ),
		Prefix:      EnvPrefix,
	})
	if err != nil {
		return domain.Settings{}, fmt.Errorf("parse environment: %w", err)
	}
	return settings, nil
}

// Load resolves settings from the store, then applies environment overrides
// and normalizes the result.
func Load(store Store, environ []string) (domain.Settings, error) {
	settings, err := store.Load()
	if err != nil {
		return domain.Settings{}, fmt.Errorf("load settings: %w", err)
	}

	settings, err = ApplyEnv(settings, environ)
	if err != nil {
		return domain.Settings{}, err
	}
	return Normalize(settings), nil
}
