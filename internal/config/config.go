package config

import "time"

// Backend names accepted by the backend setting.
const (
	BackendGemini       = "gemini"
	BackendPollinations = "pollinations"
	BackendSpace        = "space"
	BackendImagen       = "imagen"
	BackendMock         = "mock"
)

// Config holds everything a run needs; it is loaded once and never mutated.
type Config struct {
	Backend   string `mapstructure:"backend" validate:"required,oneof=gemini pollinations space imagen mock"`
	LogLevel  string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
	LogFormat string `mapstructure:"log_format" validate:"required,oneof=json text"`

	Retry        RetryConfig        `mapstructure:"retry"`
	Gemini       GeminiConfig       `mapstructure:"gemini"`
	Pollinations PollinationsConfig `mapstructure:"pollinations"`
	Space        SpaceConfig        `mapstructure:"space"`
	Imagen       ImagenConfig       `mapstructure:"imagen"`
	Mock         MockConfig         `mapstructure:"mock"`
	Prompt       PromptConfig       `mapstructure:"prompt"`
	Batch        BatchConfig        `mapstructure:"batch"`
	Publish      PublishConfig      `mapstructure:"publish"`
	Metrics      MetricsConfig      `mapstructure:"metrics"`
}

type RetryConfig struct {
	MaxAttempts int             `mapstructure:"max_attempts" validate:"gte=1,lte=10"`
	Delays      []time.Duration `mapstructure:"delays" validate:"dive,gte=0"`
	Timeout     time.Duration   `mapstructure:"timeout" validate:"gt=0"`
}

// GeminiConfig configures the authenticated backend. KeyParam names an SSM
// parameter holding the key and is used only when Key is empty.
type GeminiConfig struct {
	Key      string `mapstructure:"key"`
	KeyParam string `mapstructure:"key_param"`
	Model    string `mapstructure:"model"`
	BaseURL  string `mapstructure:"base_url" validate:"omitempty,url"`
}

type PollinationsConfig struct {
	BaseURL string `mapstructure:"base_url" validate:"omitempty,url"`
	Model   string `mapstructure:"model"`
	Width   int    `mapstructure:"width" validate:"gte=0,lte=4096"`
	Height  int    `mapstructure:"height" validate:"gte=0,lte=4096"`
}

type SpaceConfig struct {
	Name           string  `mapstructure:"name"`
	Token          string  `mapstructure:"token"`
	TokenParam     string  `mapstructure:"token_param"`
	HubURL         string  `mapstructure:"hub_url" validate:"omitempty,url"`
	NegativePrompt string  `mapstructure:"negative_prompt"`
	Width          int     `mapstructure:"width" validate:"gte=0,lte=4096"`
	Height         int     `mapstructure:"height" validate:"gte=0,lte=4096"`
	Guidance       float64 `mapstructure:"guidance" validate:"gte=0"`
}

type ImagenConfig struct {
	Key      string `mapstructure:"key"`
	KeyParam string `mapstructure:"key_param"`
	Model    string `mapstructure:"model"`
	BaseURL  string `mapstructure:"base_url" validate:"omitempty,url"`
}

type MockConfig struct {
	FailureMode              string  `mapstructure:"failure_mode" validate:"omitempty,oneof=none connection timeout ratelimit server random"`
	FailureRate              float64 `mapstructure:"failure_rate" validate:"gte=0,lte=1"`
	MaxAttemptsBeforeSuccess int     `mapstructure:"max_attempts_before_success"`
	Seed                     int64   `mapstructure:"seed"`
}

type PromptConfig struct {
	Template  string `mapstructure:"template"`
	MaxLength int    `mapstructure:"max_length" validate:"gte=0"`
}

type BatchConfig struct {
	OutputDir   string        `mapstructure:"output_dir" validate:"required"`
	Concurrency int           `mapstructure:"concurrency" validate:"gte=1,lte=32"`
	Delay       time.Duration `mapstructure:"delay" validate:"gte=0"`
}

// PublishConfig enables mirroring the output directory to S3 when Bucket is
// set; Distribution additionally invalidates the uploaded paths.
type PublishConfig struct {
	Bucket       string `mapstructure:"bucket"`
	Prefix       string `mapstructure:"prefix"`
	Distribution string `mapstructure:"distribution"`
}

type MetricsConfig struct {
	Textfile string `mapstructure:"textfile"`
}
