// Package config loads csvload settings from an optional YAML file,
// CSVLOAD_* environment variables and built-in defaults, in that order of
// precedence (env wins).
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/spf13/viper"

	"csvload/internal/inbox"
	"csvload/internal/parser"
	"csvload/internal/storage"
)

const (
	configName      = "csvload"
	configType      = "yaml"
	envPrefix       = "CSVLOAD"
	envKeySeparator = "_"
)

// Defaults.
const (
	DefaultStorageKind    = "sqlite"
	DefaultStorageDSN     = "csvload.db"
	DefaultHTTPAddr       = ":8080"
	DefaultStagingDir     = "staging"
	DefaultMaxUploadBytes = 64 << 20
	DefaultWorkers        = 4
	DefaultMetricsBackend = "none"
	DefaultMetricsJob     = "csvload"
	DefaultFlushEvery     = 60 * time.Second
	DefaultInboxDir       = "inbox"
	DefaultKafkaTopic     = "csvload.reports"
)

// Metrics backends.
const (
	MetricsNone        = "none"
	MetricsDatadog     = "datadog"
	MetricsPrometheus  = "prometheus"
	MetricsPushgateway = "pushgateway"
)

type Config struct {
	Storage storage.Config `mapstructure:"storage"`
	HTTP    HTTP           `mapstructure:"http"`
	Ingest  Ingest         `mapstructure:"ingest"`
	Metrics Metrics        `mapstructure:"metrics"`
	Inbox   inbox.Options  `mapstructure:"inbox"`
	Kafka   Kafka          `mapstructure:"kafka"`
}

type HTTP struct {
	Addr           string `mapstructure:"addr"`
	StagingDir     string `mapstructure:"staging_dir"`
	MaxUploadBytes int64  `mapstructure:"max_upload_bytes"`
}

type Ingest struct {
	Workers    int    `mapstructure:"workers"`
	Comma      string `mapstructure:"comma"`
	TrimSpace  bool   `mapstructure:"trim_space"`
	LazyQuotes bool   `mapstructure:"lazy_quotes"`
}

// ParserOptions converts the ingest section to parser.Options.
func (i Ingest) ParserOptions() parser.Options {
	comma := ','
	if r, _ := utf8.DecodeRuneInString(i.Comma); r != utf8.RuneError {
		comma = r
	}
	return parser.Options{Comma: comma, TrimSpace: i.TrimSpace, LazyQuotes: i.LazyQuotes}
}

type Metrics struct {
	Backend        string        `mapstructure:"backend"`
	Job            string        `mapstructure:"job"`
	Tags           string        `mapstructure:"tags"`
	PushgatewayURL string        `mapstructure:"pushgateway_url"`
	FlushEvery     time.Duration `mapstructure:"flush_every"`
}

// Kafka publishing is enabled when Brokers is non-empty.
type Kafka struct {
	Brokers string `mapstructure:"brokers"`
	Topic   string `mapstructure:"topic"`
}

// Load reads configuration. If path is non-empty it names the config file;
// otherwise csvload.yaml is searched in the working directory and $HOME.
// A missing config file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	applyDefaults(v)

	v.SetConfigType(configType)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", envKeySeparator))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(configName)
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	// DSNs commonly carry secrets from the environment, e.g.
	// postgres://app:${PGPASSWORD}@db/shop.
	cfg.Storage.DSN = os.ExpandEnv(cfg.Storage.DSN)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

func applyDefaults(v *viper.Viper) {
	v.SetDefault("storage.kind", DefaultStorageKind)
	v.SetDefault("storage.dsn", DefaultStorageDSN)

	v.SetDefault("http.addr", DefaultHTTPAddr)
	v.SetDefault("http.staging_dir", DefaultStagingDir)
	v.SetDefault("http.max_upload_bytes", DefaultMaxUploadBytes)

	v.SetDefault("ingest.workers", DefaultWorkers)
	v.SetDefault("ingest.comma", ",")
	v.SetDefault("ingest.trim_space", true)
	v.SetDefault("ingest.lazy_quotes", false)

	v.SetDefault("metrics.backend", DefaultMetricsBackend)
	v.SetDefault("metrics.job", DefaultMetricsJob)
	v.SetDefault("metrics.tags", "")
	v.SetDefault("metrics.pushgateway_url", "")
	v.SetDefault("metrics.flush_every", DefaultFlushEvery)

	v.SetDefault("inbox.dir", DefaultInboxDir)
	v.SetDefault("inbox.processed_dir", "")
	v.SetDefault("inbox.failed_dir", "")
	v.SetDefault("inbox.schedule", "")
	v.SetDefault("inbox.debounce", inbox.DefaultDebounce)

	v.SetDefault("kafka.brokers", "")
	v.SetDefault("kafka.topic", DefaultKafkaTopic)
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.Storage.Kind == "" {
		return errors.New("storage.kind is required")
	}
	if c.Ingest.Workers <= 0 {
		return fmt.Errorf("ingest.workers must be positive, got %d", c.Ingest.Workers)
	}
	if utf8.RuneCountInString(c.Ingest.Comma) != 1 {
		return fmt.Errorf("ingest.comma must be a single character, got %q", c.Ingest.Comma)
	}
	if c.HTTP.MaxUploadBytes <= 0 {
		return fmt.Errorf("http.max_upload_bytes must be positive, got %d", c.HTTP.MaxUploadBytes)
	}
	switch c.Metrics.Backend {
	case MetricsNone, MetricsDatadog, MetricsPrometheus:
	case MetricsPushgateway:
		if c.Metrics.PushgatewayURL == "" {
			return errors.New("metrics.pushgateway_url is required for the pushgateway backend")
		}
	default:
		return fmt.Errorf("metrics.backend %q: want none, datadog, prometheus or pushgateway", c.Metrics.Backend)
	}
	if c.Kafka.Brokers != "" && c.Kafka.Topic == "" {
		return errors.New("kafka.topic is required when kafka.brokers is set")
	}
	return nil
}
