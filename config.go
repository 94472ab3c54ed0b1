package botbridge

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config carries the bridge settings shared by both processes. Values come
// from defaults, an optional config file, and BOTBRIDGE_* environment
// variables, in increasing priority.
type Config struct {
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`

	// StreamPrefix namespaces the four streams so deployments can share one
	// broker.
	StreamPrefix string `mapstructure:"stream_prefix"`

	MaxRetries               int `mapstructure:"max_retries"`
	RetryBackoffMS           int `mapstructure:"retry_backoff_ms"`
	CommandAckTimeoutSeconds int `mapstructure:"command_ack_timeout_seconds"`

	CommandsMaxLength  int64 `mapstructure:"commands_max_length"`
	ResponsesMaxLength int64 `mapstructure:"responses_max_length"`
	DeadLetterMaxLen   int64 `mapstructure:"dead_letter_max_length"`
	ReplayLogMaxLen    int64 `mapstructure:"replay_log_max_length"`

	ReclaimMinIdleSeconds int `mapstructure:"reclaim_min_idle_seconds"`

	OpsListenAddr string `mapstructure:"ops_listen_addr"`
}

// LoadConfig reads configuration from the given file path (optional; pass ""
// to use defaults and environment only).
func LoadConfig(path string) (Config, error) {
	v := viper.New()

	v.SetDefault("redis_addr", "localhost:6379")
	v.SetDefault("redis_password", "")
	v.SetDefault("redis_db", 0)
	v.SetDefault("stream_prefix", defaultStreamPrefix)
	v.SetDefault("max_retries", defaultMaxRetries)
	v.SetDefault("retry_backoff_ms", int(defaultRetryBackoff/time.Millisecond))
	v.SetDefault("command_ack_timeout_seconds", int(defaultAckTimeout/time.Second))
	v.SetDefault("commands_max_length", int64(defaultCommandsMaxLen))
	v.SetDefault("responses_max_length", int64(defaultResponsesMaxLen))
	v.SetDefault("dead_letter_max_length", int64(defaultDeadLetterMaxLen))
	v.SetDefault("replay_log_max_length", int64(defaultReplayLogMaxLen))
	v.SetDefault("reclaim_min_idle_seconds", int(defaultReclaimMinIdle/time.Second))
	v.SetDefault("ops_listen_addr", ":9097")

	v.SetEnvPrefix("BOTBRIDGE")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("failed to read config file %s: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if cfg.RetryBackoffMS < int(minRetryBackoff/time.Millisecond) {
		cfg.RetryBackoffMS = int(minRetryBackoff / time.Millisecond)
	}
	return cfg, nil
}

// RetryBackoff returns the linear backoff unit as a duration.
func (c Config) RetryBackoff() time.Duration {
	return time.Duration(c.RetryBackoffMS) * time.Millisecond
}

// AckTimeout returns the per-attempt wait budget as a duration.
func (c Config) AckTimeout() time.Duration {
	return time.Duration(c.CommandAckTimeoutSeconds) * time.Second
}

// ReclaimMinIdle returns the pending takeover threshold as a duration.
func (c Config) ReclaimMinIdle() time.Duration {
	return time.Duration(c.ReclaimMinIdleSeconds) * time.Second
}
