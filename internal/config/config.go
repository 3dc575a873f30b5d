// Package config provides the configuration structure for the voice-service.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
)

// Defaults applied when the corresponding setting is absent.
const (
	DefaultBaseURL            = "https://dashscope.aliyuncs.com/api/v1"
	DefaultSynthesisModel     = "qwen3-tts-flash"
	DefaultTargetModel        = "cosyvoice-v3-plus"
	DefaultLanguage           = "zh"
	DefaultKeyPrefix          = "voice-enrollment"
	DefaultTranscoderCommand  = "ffmpeg -hide_banner -loglevel error"
	defaultCustomVoiceDelay   = time.Second
	defaultPropagationDelay   = 10 * time.Second
	defaultRetryBackoff       = 5 * time.Second
	defaultMaxAttempts        = 2
	defaultRequestTimeout     = 60 * time.Second
	defaultSignedURLTTL       = time.Hour
	defaultSynthesisTimeout   = 2 * time.Minute
	defaultEnrollmentDeadline = 5 * time.Minute
	defaultSynthesisWorkers   = 4
	defaultConnectTimeout     = 10 * time.Second
)

// Environment variables that may carry secrets instead of the TOML file.
const (
	envAPIKey          = "DASHSCOPE_API_KEY"
	envStorageRegion   = "OSS_REGION"
	envStorageKeyID    = "OSS_ACCESS_KEY_ID"
	envStorageSecret   = "OSS_ACCESS_KEY_SECRET"
	envStorageBucket   = "OSS_BUCKET"
	envStorageEndpoint = "OSS_ENDPOINT"
)

var (
	// ErrStorageNotConfigured indicates that object storage credentials are incomplete.
	ErrStorageNotConfigured = errors.New("object storage is not configured")
	// ErrAPIKeyMissing indicates that no speech service API key was provided.
	ErrAPIKeyMissing = errors.New("speech service api key is missing")
)

// NATSConfig holds the configuration for NATS.
type NATSConfig struct {
	URL                    string `toml:"url"`
	SynthesisSubject       string `toml:"synthesis_subject"`
	EnrollmentSubject      string `toml:"enrollment_subject"`
	AudioObjectStoreBucket string `toml:"audio_object_store_bucket"`
}

// DashScopeConfig holds the connection settings for the speech service.
type DashScopeConfig struct {
	BaseURL string `toml:"base_url"`
	APIKey  string `toml:"api_key"`
}

// SynthesisConfig tunes the streaming synthesis client.
type SynthesisConfig struct {
	DefaultModel       string  `toml:"default_model"`
	DefaultFormat      string  `toml:"default_format"`
	CustomVoiceDelayMS int     `toml:"custom_voice_delay_ms"`
	RequestsPerSecond  float64 `toml:"requests_per_second"`
	TimeoutSeconds     int     `toml:"timeout_seconds"`
	Workers            int     `toml:"workers"`
	// ConnectTimeoutSeconds bounds dialing the speech service. The event
	// stream itself is only bounded by the job context.
	ConnectTimeoutSeconds int `toml:"connect_timeout_seconds"`
}

// EnrollmentConfig tunes the voice enrollment pipeline.
type EnrollmentConfig struct {
	TargetModel             string `toml:"target_model"`
	DefaultLanguage         string `toml:"default_language"`
	KeyPrefix               string `toml:"key_prefix"`
	MaxAttempts             int    `toml:"max_attempts"`
	RetryBackoffSeconds     int    `toml:"retry_backoff_seconds"`
	RequestTimeoutSeconds   int    `toml:"request_timeout_seconds"`
	PropagationDelaySeconds int    `toml:"propagation_delay_seconds"`
	JobTimeoutSeconds       int    `toml:"job_timeout_seconds"`
}

// StorageConfig holds the S3-compatible object storage credentials.
type StorageConfig struct {
	Region              string `toml:"region"`
	AccessKeyID         string `toml:"access_key_id"`
	AccessKeySecret     string `toml:"access_key_secret"`
	Bucket              string `toml:"bucket"`
	Endpoint            string `toml:"endpoint"`
	UsePathStyle        bool   `toml:"use_path_style"`
	SignedURLTTLSeconds int    `toml:"signed_url_ttl_seconds"`
}

// TranscoderConfig holds the ffmpeg invocation.
type TranscoderConfig struct {
	Command string `toml:"command"`
}

// PathsConfig holds the configuration for file paths.
type PathsConfig struct {
	BaseLogsDir string `toml:"base_logs_dir"`
	WorkDir     string `toml:"work_dir"`
}

// Config is the root configuration structure.
type Config struct {
	NATS       NATSConfig       `toml:"nats"`
	DashScope  DashScopeConfig  `toml:"dashscope"`
	Synthesis  SynthesisConfig  `toml:"synthesis"`
	Enrollment EnrollmentConfig `toml:"enrollment"`
	Storage    StorageConfig    `toml:"storage"`
	Transcoder TranscoderConfig `toml:"transcoder"`
	Paths      PathsConfig      `toml:"paths"`
}

// Load loads the configuration for the voice-service.
func Load(log *logger.Logger) (*Config, error) {
	var cfg Config

	err := configurator.Load(&cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
	}

	ApplyEnvOverrides(&cfg)

	return &cfg, nil
}

// ApplyEnvOverrides replaces secrets with values from the environment when set.
func ApplyEnvOverrides(cfg *Config) {
	overrideString(&cfg.DashScope.APIKey, envAPIKey)
	overrideString(&cfg.Storage.Region, envStorageRegion)
	overrideString(&cfg.Storage.AccessKeyID, envStorageKeyID)
	overrideString(&cfg.Storage.AccessKeySecret, envStorageSecret)
	overrideString(&cfg.Storage.Bucket, envStorageBucket)
	overrideString(&cfg.Storage.Endpoint, envStorageEndpoint)
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = strings.TrimSpace(value)
	}
}

// ValidateAPIKey reports ErrAPIKeyMissing when no key is configured.
func (c DashScopeConfig) ValidateAPIKey() error {
	if strings.TrimSpace(c.APIKey) == "" {
		return ErrAPIKeyMissing
	}

	return nil
}

// URL returns the configured base URL without a trailing slash.
func (c DashScopeConfig) URL() string {
	if c.BaseURL == "" {
		return DefaultBaseURL
	}

	return strings.TrimRight(c.BaseURL, "/")
}

// Validate reports which of the four required storage settings are missing.
func (c StorageConfig) Validate() error {
	var missing []string

	if strings.TrimSpace(c.Region) == "" {
		missing = append(missing, "region")
	}

	if strings.TrimSpace(c.AccessKeyID) == "" {
		missing = append(missing, "access_key_id")
	}

	if strings.TrimSpace(c.AccessKeySecret) == "" {
		missing = append(missing, "access_key_secret")
	}

	if strings.TrimSpace(c.Bucket) == "" {
		missing = append(missing, "bucket")
	}

	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrStorageNotConfigured, strings.Join(missing, ", "))
	}

	return nil
}

// EndpointURL returns the configured endpoint or the regional default.
func (c StorageConfig) EndpointURL() string {
	if c.Endpoint != "" {
		return strings.TrimRight(c.Endpoint, "/")
	}

	return fmt.Sprintf("https://oss-%s.aliyuncs.com", strings.TrimPrefix(c.Region, "oss-"))
}

// SignedURLTTL returns how long signed URLs stay valid.
func (c StorageConfig) SignedURLTTL() time.Duration {
	return secondsOr(c.SignedURLTTLSeconds, defaultSignedURLTTL)
}

// Model returns the default synthesis model.
func (c SynthesisConfig) Model() string {
	if c.DefaultModel == "" {
		return DefaultSynthesisModel
	}

	return c.DefaultModel
}

// CustomVoiceDelay returns the pause inserted before synthesizing with an enrolled voice.
func (c SynthesisConfig) CustomVoiceDelay() time.Duration {
	if c.CustomVoiceDelayMS <= 0 {
		return defaultCustomVoiceDelay
	}

	return time.Duration(c.CustomVoiceDelayMS) * time.Millisecond
}

// ConnectTimeout bounds connection setup to the speech service.
func (c SynthesisConfig) ConnectTimeout() time.Duration {
	return secondsOr(c.ConnectTimeoutSeconds, defaultConnectTimeout)
}

// Timeout bounds one synthesis job handled by the worker, and the wait for
// the first response headers from the speech service.
func (c SynthesisConfig) Timeout() time.Duration {
	return secondsOr(c.TimeoutSeconds, defaultSynthesisTimeout)
}

// Concurrency returns how many chunks a batch synthesizes at once.
func (c SynthesisConfig) Concurrency() int {
	if c.Workers <= 0 {
		return defaultSynthesisWorkers
	}

	return c.Workers
}

// Target returns the model the enrolled voice is created for.
func (c EnrollmentConfig) Target() string {
	if c.TargetModel == "" {
		return DefaultTargetModel
	}

	return c.TargetModel
}

// Language returns the language hint used when nothing else applies.
func (c EnrollmentConfig) Language() string {
	if c.DefaultLanguage == "" {
		return DefaultLanguage
	}

	return c.DefaultLanguage
}

// Prefix returns the storage key prefix for uploaded recordings.
func (c EnrollmentConfig) Prefix() string {
	if c.KeyPrefix == "" {
		return DefaultKeyPrefix
	}

	return strings.Trim(c.KeyPrefix, "/")
}

// Attempts returns the total number of registration attempts.
func (c EnrollmentConfig) Attempts() int {
	if c.MaxAttempts <= 0 {
		return defaultMaxAttempts
	}

	return c.MaxAttempts
}

// RetryBackoff returns the linear backoff step between registration attempts.
func (c EnrollmentConfig) RetryBackoff() time.Duration {
	return secondsOr(c.RetryBackoffSeconds, defaultRetryBackoff)
}

// RequestTimeout bounds a single registration request.
func (c EnrollmentConfig) RequestTimeout() time.Duration {
	return secondsOr(c.RequestTimeoutSeconds, defaultRequestTimeout)
}

// PropagationDelay returns the wait after registration before the voice is usable.
func (c EnrollmentConfig) PropagationDelay() time.Duration {
	return secondsOr(c.PropagationDelaySeconds, defaultPropagationDelay)
}

// JobTimeout bounds a whole enrollment job handled by the worker.
func (c EnrollmentConfig) JobTimeout() time.Duration {
	return secondsOr(c.JobTimeoutSeconds, defaultEnrollmentDeadline)
}

// CommandLine returns the ffmpeg command prefix.
func (c TranscoderConfig) CommandLine() string {
	if strings.TrimSpace(c.Command) == "" {
		return DefaultTranscoderCommand
	}

	return c.Command
}

func secondsOr(seconds int, fallback time.Duration) time.Duration {
	if seconds <= 0 {
		return fallback
	}

	return time.Duration(seconds) * time.Second
}
