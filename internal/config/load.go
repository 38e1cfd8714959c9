package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

var ErrInvalidConfig = errors.New("invalid configuration")

const EnvPrefix = "ILLUSTRATE"

var defaults = map[string]any{
	"backend":    BackendPollinations,
	"log_level":  "info",
	"log_format": "json",

	"retry.max_attempts": 3,
	"retry.delays":       []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second},
	"retry.timeout":      60 * time.Second,

	"gemini.key":       "",
	"gemini.key_param": "",
	"gemini.model":     "",
	"gemini.base_url":  "",

	"pollinations.base_url": "",
	"pollinations.model":    "",
	"pollinations.width":    1024,
	"pollinations.height":   1024,

	"space.name":            "",
	"space.token":           "",
	"space.token_param":     "",
	"space.hub_url":         "",
	"space.negative_prompt": "",
	"space.width":           1024,
	"space.height":          1024,
	"space.guidance":        7.5,

	"imagen.key":       "",
	"imagen.key_param": "",
	"imagen.model":     "",
	"imagen.base_url":  "",

	"mock.failure_mode":                "none",
	"mock.failure_rate":                0.3,
	"mock.max_attempts_before_success": 3,
	"mock.seed":                        0,

	"prompt.template":   "",
	"prompt.max_length": 0,

	"batch.output_dir":  "illustrated",
	"batch.concurrency": 1,
	"batch.delay":       time.Duration(0),

	"publish.bucket":       "",
	"publish.prefix":       "",
	"publish.distribution": "",

	"metrics.textfile": "",
}

// New returns a viper instance with defaults and environment binding applied.
// Every key has a default so AutomaticEnv can override it during Unmarshal.
func New() *viper.Viper {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the optional config file into v, then unmarshals and validates.
// Precedence is flags bound to v, then environment, then file, then defaults.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	switch c.Backend {
	case BackendGemini:
		if c.Gemini.Key == "" && c.Gemini.KeyParam == "" {
			return fmt.Errorf("%w: gemini backend needs gemini.key or gemini.key_param", ErrInvalidConfig)
		}
	case BackendImagen:
		if c.Imagen.Key == "" && c.Imagen.KeyParam == "" {
			return fmt.Errorf("%w: imagen backend needs imagen.key or imagen.key_param", ErrInvalidConfig)
		}
	case BackendSpace:
		if c.Space.Name == "" {
			return fmt.Errorf("%w: space backend needs space.name", ErrInvalidConfig)
		}
	}
	return nil
}

// RetryDelays returns the configured delays, falling back to the defaults
// when the list was emptied.
func (c *Config) RetryDelays() []time.Duration {
	if len(c.Retry.Delays) == 0 {
		return defaults["retry.delays"].([]time.Duration)
	}
	return c.Retry.Delays
}
