package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// LoggingConfig holds logging-related configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Pretty     bool   `mapstructure:"pretty"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// AxiomConfig holds Axiom logging configuration.
type AxiomConfig struct {
	Send          bool          `mapstructure:"send"`
	APIKey        string        `mapstructure:"api_key"`
	OrgID         string        `mapstructure:"org_id"`
	Dataset       string        `mapstructure:"dataset"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
}

// MergeConfig controls the merge engine.
type MergeConfig struct {
	PageSize       string  `mapstructure:"page_size"`
	ImageMargin    float64 `mapstructure:"image_margin"`
	Output         string  `mapstructure:"output"`
	Verify         bool    `mapstructure:"verify"`
	SkipUnreadable bool    `mapstructure:"skip_unreadable"`
}

// WorkerConfig defines worker behavior and limits.
type WorkerConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Concurrency    int           `mapstructure:"concurrency"`
	JobTimeout     time.Duration `mapstructure:"job_timeout"`
	JobMaxAttempts int           `mapstructure:"job_max_attempts"`
	RetryBaseDelay time.Duration `mapstructure:"retry_base_delay"`
	WorkDir        string        `mapstructure:"work_dir"`
	ResultTTL      time.Duration `mapstructure:"result_ttl"`
	// FetchPerHost caps concurrent downloads from one remote host.
	FetchPerHost int `mapstructure:"fetch_per_host"`
}

// QueueConfig defines queue connectivity and names.
type QueueConfig struct {
	RedisURL     string        `mapstructure:"redis_url"`
	Stream       string        `mapstructure:"stream"`
	Group        string        `mapstructure:"group"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// StorageConfig configures S3 access for remote inputs and result upload.
type StorageConfig struct {
	Bucket          string `mapstructure:"bucket"`
	Region          string `mapstructure:"region"`
	Prefix          string `mapstructure:"prefix"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	Upload          bool   `mapstructure:"upload"`
}

// HTTPConfig configures the merge service listener.
type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	UploadDir       string        `mapstructure:"upload_dir"`
	MaxUploadMB     int64         `mapstructure:"max_upload_mb"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Config is the top-level configuration.
type Config struct {
	Logging LoggingConfig `mapstructure:"log"`
	Axiom   AxiomConfig   `mapstructure:"axiom"`
	Merge   MergeConfig   `mapstructure:"merge"`
	Worker  WorkerConfig  `mapstructure:"worker"`
	Queue   QueueConfig   `mapstructure:"queue"`
	Storage StorageConfig `mapstructure:"storage"`
	HTTP    HTTPConfig    `mapstructure:"http"`
}

// Env vars kept from the deployment environment that don't follow the
// section_key naming.
var envAliases = map[string][]string{
	"axiom.send":                {"SEND_LOGS_TO_AXIOM"},
	"worker.job_max_attempts":   {"JOB_MAX_ATTEMPTS"},
	"worker.enabled":            {"RUN_DISPATCHER"},
	"queue.redis_url":           {"REDIS_URL"},
	"storage.bucket":            {"S3_BUCKET"},
	"storage.region":            {"AWS_REGION"},
	"storage.access_key_id":     {"AWS_ACCESS_KEY_ID"},
	"storage.secret_access_key": {"AWS_SECRET_ACCESS_KEY"},
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", devDefaultPretty())
	v.SetDefault("log.file", "logs/pdfweaver.log")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 10)
	v.SetDefault("log.max_age_days", 30)
	v.SetDefault("log.compress", true)

	v.SetDefault("axiom.send", false)
	v.SetDefault("axiom.api_key", "")
	v.SetDefault("axiom.org_id", "")
	v.SetDefault("axiom.dataset", "dev")
	v.SetDefault("axiom.flush_interval", "10s")

	v.SetDefault("merge.page_size", "Letter")
	v.SetDefault("merge.image_margin", 80.0)
	v.SetDefault("merge.output", "output.pdf")
	v.SetDefault("merge.verify", false)
	v.SetDefault("merge.skip_unreadable", false)

	v.SetDefault("worker.enabled", true)
	v.SetDefault("worker.concurrency", 4)
	v.SetDefault("worker.job_timeout", "5m")
	v.SetDefault("worker.job_max_attempts", 3)
	v.SetDefault("worker.retry_base_delay", "2s")
	v.SetDefault("worker.work_dir", "data/jobs")
	v.SetDefault("worker.result_ttl", "24h")
	v.SetDefault("worker.fetch_per_host", 4)

	v.SetDefault("queue.redis_url", "redis://localhost:6379")
	v.SetDefault("queue.stream", "jobs:merge")
	v.SetDefault("queue.group", "workers:merge")
	v.SetDefault("queue.poll_interval", "100ms")

	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.prefix", "merged/")
	v.SetDefault("storage.endpoint", "")
	v.SetDefault("storage.access_key_id", "")
	v.SetDefault("storage.secret_access_key", "")
	v.SetDefault("storage.upload", false)

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.upload_dir", "data/uploads")
	v.SetDefault("http.max_upload_mb", 200)
	v.SetDefault("http.shutdown_timeout", "10s")
}

// Load layers defaults, an optional YAML file, .env and the environment.
// An empty file looks for ./pdfweaver.yaml and carries on without one.
func Load(file string) (Config, error) {
	// .env never overrides variables already set.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("pdfweaver")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, names := range envAliases {
		if err := v.BindEnv(append([]string{key, strings.ToUpper(strings.ReplaceAll(key, ".", "_"))}, names...)...); err != nil {
			return Config{}, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.Axiom.Dataset = cfg.Axiom.Dataset + "_pdfweaver"
	if cfg.Worker.Concurrency < 1 {
		cfg.Worker.Concurrency = 1
	}
	if cfg.Worker.JobMaxAttempts < 1 {
		cfg.Worker.JobMaxAttempts = 1
	}
	return cfg, nil
}

// ConfigFileUsed reports which file Load would read for file, or "" when none exists.
func ConfigFileUsed(file string) string {
	if file != "" {
		return file
	}
	if _, err := os.Stat("pdfweaver.yaml"); err == nil {
		return "pdfweaver.yaml"
	}
	return ""
}

func devDefaultPretty() bool {
	env := strings.ToLower(os.Getenv("ENVIRONMENT"))
	return env == "dev" || env == "development" || env == "local"
}
