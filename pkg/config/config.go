// Package config loads env-tagged configuration structs from the process
// environment (or a local .env file) and validates them before use.
package config

import (
	"github.com/coreflux/busline/pkg/errors"
	"github.com/go-playground/validator/v10"
	"github.com/ilyakaznacheev/cleanenv"
)

// Load populates cfg from a .env file when one exists, otherwise from the
// process environment, then runs struct-tag validation. cfg must point to a
// struct carrying cleanenv `env` tags and, optionally, `validate` tags.
func Load[T any](cfg *T) error {
	if err := cleanenv.ReadConfig(".env", cfg); err != nil {
		// No .env file; environment variables alone are fine.
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return errors.Wrap(err, "failed to load configuration from environment")
		}
	}
	if err := validator.New().Struct(cfg); err != nil {
		return errors.Wrap(err, "configuration failed validation")
	}
	return nil
}
