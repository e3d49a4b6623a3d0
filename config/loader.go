package config

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/viper"
)

// Config is the runtime configuration shared by every pipeline: HTTP retry
// budget, warehouse connection and storage bucket. Per-pipeline behaviour
// lives in the Settings document instead.
type Config struct {
	Extract ExtractConfig
	DuckDB  DuckDBConfig
	Storage StorageConfig
	Env     string
}

type ExtractConfig struct {
	Backoff BackoffConfig
	Timeout time.Duration `mapstructure:"timeout"`
}

type BackoffConfig struct {
	RetryWaitMin time.Duration `mapstructure:"retry_wait_min"`
	RetryWaitMax time.Duration `mapstructure:"retry_wait_max"`
	RetryMax     int           `mapstructure:"retry_max"`
}

type DuckDBConfig struct {
	Path              string   `mapstructure:"path"`
	ConnInitFnQueries []string `mapstructure:"conn_init_fn_queries"`
}

type StorageConfig struct {
	// BucketURL is a gocloud.dev bucket URL, e.g. gs://my-bucket,
	// s3://my-bucket or file:///var/data/snapshots.
	BucketURL string `mapstructure:"bucket_url"`
}

// NewConfig loads the configuration from the provided base config reader
// and merges it with the environment-specific configuration.
func NewConfig(baseConfigReader io.Reader, envConfigReader io.Reader, env string) (*Config, error) {
	if env == "" {
		env = "dev"
	}

	v := viper.New()
	v.SetConfigType("yaml")

	if err := v.ReadConfig(baseConfigReader); err != nil {
		return nil, fmt.Errorf("error reading base config: %w", err)
	}

	// Merge with environment-specific configuration (only if provided)
	if envConfigReader != nil {
		if err := v.MergeConfig(envConfigReader); err != nil {
			return nil, fmt.Errorf("error merging environment-specific config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	config.Env = env

	return &config, nil
}
