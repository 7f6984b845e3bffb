// Package config loads the settings of an upload run from an optional config file and
// from S3MU_* environment variables, which take precedence over the file.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bitrise-io/go-s3-multipart/multipart/failure"
	"github.com/bitrise-io/go-s3-multipart/multipart/segment"
	"github.com/bitrise-io/go-s3-multipart/multipart/transfer"
	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/docker/go-units"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of every environment variable read by Load.
const EnvPrefix = "S3MU_"

// ConfigFileEnvKey names the environment variable holding the config file path.
const ConfigFileEnvKey = EnvPrefix + "CONFIG"

// Config holds the settings of one upload run.
type Config struct {
	SourcePath  string            `yaml:"source_path" mapstructure:"source_path" validate:"required"`
	Key         string            `yaml:"key" mapstructure:"key"`
	ContentType string            `yaml:"content_type" mapstructure:"content_type"`
	Metadata    map[string]string `yaml:"metadata" mapstructure:"metadata"`

	Bucket          string `yaml:"bucket" mapstructure:"bucket" validate:"required"`
	Endpoint        string `yaml:"endpoint" mapstructure:"endpoint" validate:"omitempty,url"`
	Region          string `yaml:"region" mapstructure:"region"`
	UsePathStyle    bool   `yaml:"use_path_style" mapstructure:"use_path_style"`
	AccessKeyID     Secret `yaml:"access_key_id" mapstructure:"access_key_id" validate:"required_with=SecretAccessKey"`
	SecretAccessKey Secret `yaml:"secret_access_key" mapstructure:"secret_access_key" validate:"required_with=AccessKeyID"`

	// ChunkSize is a human readable size, like 8MB or 16MiB. Units are binary.
	ChunkSize        string        `yaml:"chunk_size" mapstructure:"chunk_size" validate:"required"`
	Concurrency      int           `yaml:"concurrency" mapstructure:"concurrency" validate:"gte=1,lte=100"`
	Retry            Retry         `yaml:"retry" mapstructure:"retry"`
	HungThreshold    time.Duration `yaml:"hung_threshold" mapstructure:"hung_threshold" validate:"gte=0"`
	StageParts       bool          `yaml:"stage_parts" mapstructure:"stage_parts"`
	TransportRetries int           `yaml:"transport_retries" mapstructure:"transport_retries" validate:"gte=0,lte=10"`
	CompressionLevel int           `yaml:"compression_level" mapstructure:"compression_level" validate:"gte=0,lte=19"`
	AbortTimeout     time.Duration `yaml:"abort_timeout" mapstructure:"abort_timeout" validate:"gt=0"`

	Verbose bool `yaml:"verbose" mapstructure:"verbose"`
}

// Retry configures part retries.
type Retry struct {
	MaxAttempts int           `yaml:"max_attempts" mapstructure:"max_attempts" validate:"gte=1,lte=20"`
	Backoff     time.Duration `yaml:"backoff" mapstructure:"backoff" validate:"gte=0"`
}

// keys lists every setting that can come from the environment.
var keys = []string{
	"source_path",
	"key",
	"content_type",
	"bucket",
	"endpoint",
	"region",
	"use_path_style",
	"access_key_id",
	"secret_access_key",
	"chunk_size",
	"concurrency",
	"retry.max_attempts",
	"retry.backoff",
	"hung_threshold",
	"stage_parts",
	"transport_retries",
	"compression_level",
	"abort_timeout",
	"verbose",
}

// EnvKey returns the environment variable name of a setting, e.g. retry.max_attempts -> S3MU_RETRY_MAX_ATTEMPTS.
func EnvKey(key string) string {
	return EnvPrefix + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("chunk_size", "8MB")
	v.SetDefault("concurrency", transfer.DefaultConcurrency())
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.backoff", "5s")
	v.SetDefault("hung_threshold", "30s")
	v.SetDefault("stage_parts", true)
	v.SetDefault("transport_retries", 0)
	v.SetDefault("compression_level", 0)
	v.SetDefault("abort_timeout", "30s")
}

// Load reads configFile (if not empty), applies the environment on top of it and validates
// the result, including the chunk size limits of S3 and the presence of the source file, so a
// bad setting never reaches the network. Every error is a configuration error.
func Load(envRepo env.Repository, configFile string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, failure.New(failure.KindConfiguration, "read config file", err)
		}
	}

	for _, key := range keys {
		if value := envRepo.Get(EnvKey(key)); value != "" {
			v.Set(key, value)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, failure.New(failure.KindConfiguration, "decode config", err)
	}

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	chunkSize, err := cfg.ChunkSizeBytes()
	if err != nil {
		return Config{}, failure.New(failure.KindConfiguration, "parse chunk_size", err)
	}
	if err := segment.DefaultLimits().ValidateChunkSize(chunkSize); err != nil {
		return Config{}, failure.New(failure.KindConfiguration, "validate chunk_size", err)
	}
	if err := checkSource(cfg.SourcePath); err != nil {
		return Config{}, failure.New(failure.KindConfiguration, "check source_path", err)
	}

	return cfg, nil
}

// ChunkSizeBytes parses ChunkSize.
func (c Config) ChunkSizeBytes() (int64, error) {
	size, err := units.RAMInBytes(c.ChunkSize)
	if err != nil {
		return 0, err
	}
	if size <= 0 {
		return 0, fmt.Errorf("chunk size must be positive: %s", c.ChunkSize)
	}
	return size, nil
}

// Print logs the configuration with secrets redacted.
func (c Config) Print(logger log.Logger) {
	logger.Infof("Configuration:")
	for _, field := range [][2]string{
		{"source_path", c.SourcePath},
		{"key", c.Key},
		{"content_type", c.ContentType},
		{"bucket", c.Bucket},
		{"endpoint", c.Endpoint},
		{"region", c.Region},
		{"use_path_style", strconv.FormatBool(c.UsePathStyle)},
		{"access_key_id", c.AccessKeyID.String()},
		{"secret_access_key", c.SecretAccessKey.String()},
		{"chunk_size", c.ChunkSize},
		{"concurrency", strconv.Itoa(c.Concurrency)},
		{"retry.max_attempts", strconv.Itoa(c.Retry.MaxAttempts)},
		{"retry.backoff", c.Retry.Backoff.String()},
		{"hung_threshold", c.HungThreshold.String()},
		{"stage_parts", strconv.FormatBool(c.StageParts)},
		{"transport_retries", strconv.Itoa(c.TransportRetries)},
		{"compression_level", strconv.Itoa(c.CompressionLevel)},
		{"abort_timeout", c.AbortTimeout.String()},
		{"verbose", strconv.FormatBool(c.Verbose)},
	} {
		value := field[1]
		if value == "" {
			value = "<unset>"
		}
		logger.Printf("- %s: %s", field[0], value)
	}
}
