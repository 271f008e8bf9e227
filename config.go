package paddock

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

var loadConfigOnce sync.Once

func loadConfig() {
	viper.SetConfigName("paddockrc")
	viper.AddConfigPath(".")
	viper.AddConfigPath("$HOME/.paddock")

	setupDefaults()

	if err := viper.ReadInConfig(); err == nil {
		log.Debugf("Using config file %s", viper.ConfigFileUsed())
	}

	viper.SetEnvPrefix("paddock")
	viper.AutomaticEnv()
}

func setupDefaults() {
	defaultSettings := map[string]interface{}{
		"shard_count":        36,
		"reduce_shard_count": 0,    // 0 reuses shard_count for the Reduce phase
		"max_entries":        1000, // Records (Map) or keys (Reduce) per invocation
		"task_timeout":       10 * time.Second,
		"shuffle_page_size":  100,
		"max_in_flight":      0, // 0 means unlimited
		"max_attempts":       0, // 0 means unlimited
		"retry_backoff":      2 * time.Second,
		"max_retry_backoff":  60 * time.Second,
		"endpoint":           "",
		"function_name":      "paddock_function",
		"lambda_memory":      1500,
		"lambda_timeout":     180,
		"lambda_manage_role": true,
		"lambda_role_arn":    "",
		"verbose":            false,
	}
	for key, value := range defaultSettings {
		viper.SetDefault(key, value)
	}

	aliases := map[string]string{
		"verbose":       "v",
		"max_in_flight": "i",
		"max_attempts":  "f",
		"endpoint":      "b",
	}
	for key, alias := range aliases {
		viper.RegisterAlias(alias, key)
	}
}

// config configures shard planning, task execution and dispatch.
type config struct {
	ShardCount       int
	ReduceShardCount int
	MaxEntries       int
	TaskTimeout      time.Duration
	ShufflePageSize  int
	MaxInFlight      int
	MaxAttempts      int
	RetryBackoff     time.Duration
	MaxRetryBackoff  time.Duration
	Endpoint         string
	FunctionName     string
	LambdaMemory     int64
	LambdaTimeout    int64
	LambdaManageRole bool
	LambdaRoleARN    string
	Verbose          bool
}

func newConfig() *config {
	loadConfigOnce.Do(loadConfig) // Load viper config from settings file(s) and environment
	return &config{
		ShardCount:       viper.GetInt("shard_count"),
		ReduceShardCount: viper.GetInt("reduce_shard_count"),
		MaxEntries:       viper.GetInt("max_entries"),
		TaskTimeout:      viper.GetDuration("task_timeout"),
		ShufflePageSize:  viper.GetInt("shuffle_page_size"),
		MaxInFlight:      viper.GetInt("max_in_flight"),
		MaxAttempts:      viper.GetInt("max_attempts"),
		RetryBackoff:     viper.GetDuration("retry_backoff"),
		MaxRetryBackoff:  viper.GetDuration("max_retry_backoff"),
		Endpoint:         viper.GetString("endpoint"),
		FunctionName:     viper.GetString("function_name"),
		LambdaMemory:     viper.GetInt64("lambda_memory"),
		LambdaTimeout:    viper.GetInt64("lambda_timeout"),
		LambdaManageRole: viper.GetBool("lambda_manage_role"),
		LambdaRoleARN:    viper.GetString("lambda_role_arn"),
		Verbose:          viper.GetBool("verbose"),
	}
}

func (c *config) reduceShards() int {
	if c.ReduceShardCount > 0 {
		return c.ReduceShardCount
	}
	return c.ShardCount
}

// Option allows configuration of a Coordinator or Driver
type Option func(*config)

// WithShardCount sets the number of shards each phase is split into
func WithShardCount(n int) Option {
	return func(c *config) {
		c.ShardCount = n
	}
}

// WithReduceShardCount sets a separate shard count for the Reduce phase
func WithReduceShardCount(n int) Option {
	return func(c *config) {
		c.ReduceShardCount = n
	}
}

// WithMaxEntries sets the batch size of every shard invocation
func WithMaxEntries(n int) Option {
	return func(c *config) {
		c.MaxEntries = n
	}
}

// WithTaskTimeout sets the wall-clock budget of one shard invocation
func WithTaskTimeout(d time.Duration) Option {
	return func(c *config) {
		c.TaskTimeout = d
	}
}

// WithShufflePageSize sets the page size used to drain intermediate bags
func WithShufflePageSize(n int) Option {
	return func(c *config) {
		c.ShufflePageSize = n
	}
}

// WithMaxInFlight bounds the number of simultaneous invocations. 0 means unlimited.
func WithMaxInFlight(n int) Option {
	return func(c *config) {
		c.MaxInFlight = n
	}
}

// WithMaxAttempts bounds the attempts per invocation. 0 means unlimited.
func WithMaxAttempts(n int) Option {
	return func(c *config) {
		c.MaxAttempts = n
	}
}

// WithRetryBackoff sets the linear backoff step and its cap
func WithRetryBackoff(step, max time.Duration) Option {
	return func(c *config) {
		c.RetryBackoff = step
		c.MaxRetryBackoff = max
	}
}

// WithEndpoint drives a remote coordinator at the given base URL
func WithEndpoint(endpoint string) Option {
	return func(c *config) {
		c.Endpoint = endpoint
	}
}

// WithFunctionName sets the Lambda function that serves shard tasks
func WithFunctionName(name string) Option {
	return func(c *config) {
		c.FunctionName = name
	}
}
