// Package config loads service configuration from an optional file and
// DICOMSTORE_* environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full service configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Blob     BlobConfig     `mapstructure:"blob"`
	Query    QueryConfig    `mapstructure:"query"`
	Cleanup  CleanupConfig  `mapstructure:"cleanup"`
	Cast     CastConfig     `mapstructure:"cast"`
}

type ServerConfig struct {
	HTTPPort        int           `mapstructure:"http_port"`
	GrpcPort        int           `mapstructure:"grpc_port"`
	MetricsPort     int           `mapstructure:"metrics_port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

type PostgresConfig struct {
	URL string `mapstructure:"url"`
}

// BlobConfig selects MinIO/S3 when Endpoint is set and local disk under LocalRoot otherwise
type BlobConfig struct {
	Endpoint       string `mapstructure:"endpoint"`
	AccessKey      string `mapstructure:"access_key"`
	SecretKey      string `mapstructure:"secret_key"`
	UseSSL         bool   `mapstructure:"use_ssl"`
	Region         string `mapstructure:"region"`
	LocalRoot      string `mapstructure:"local_root"`
	FileBucket     string `mapstructure:"file_bucket"`
	MetadataBucket string `mapstructure:"metadata_bucket"`
}

type QueryConfig struct {
	DefaultLimit int `mapstructure:"default_limit"`
	MaxLimit     int `mapstructure:"max_limit"`
}

type CleanupConfig struct {
	Delay     time.Duration `mapstructure:"delay"`
	Interval  time.Duration `mapstructure:"interval"`
	BatchSize int           `mapstructure:"batch_size"`
}

type CastConfig struct {
	DicomWebURL     string         `mapstructure:"dicom_web_url"`
	BatchSize       int            `mapstructure:"batch_size"`
	PollInterval    time.Duration  `mapstructure:"poll_interval"`
	CatchupInterval time.Duration  `mapstructure:"catchup_interval"`
	FloorSequence   int64          `mapstructure:"floor_sequence"`
	Sink            string         `mapstructure:"sink"`
	FHIR            FHIRConfig     `mapstructure:"fhir"`
	Kafka           KafkaConfig    `mapstructure:"kafka"`
	RabbitMQ        RabbitMQConfig `mapstructure:"rabbitmq"`
	State           StateConfig    `mapstructure:"state"`
}

type FHIRConfig struct {
	URL               string  `mapstructure:"url"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
}

type KafkaConfig struct {
	Brokers  []string `mapstructure:"brokers"`
	Topic    string   `mapstructure:"topic"`
	ClientID string   `mapstructure:"client_id"`
}

type RabbitMQConfig struct {
	URL        string `mapstructure:"url"`
	Exchange   string `mapstructure:"exchange"`
	RoutingKey string `mapstructure:"routing_key"`
}

type StateConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

// Sink names
const (
	SinkFHIR     = "fhir"
	SinkKafka    = "kafka"
	SinkRabbitMQ = "rabbitmq"
)

// Load reads path when it is non-empty, applies environment overrides and validates.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("dicomstore")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// setDefaults registers every key so AutomaticEnv can override keys absent from the file
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.grpc_port", 50051)
	v.SetDefault("server.metrics_port", 9090)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	v.SetDefault("postgres.url", "")

	v.SetDefault("blob.endpoint", "")
	v.SetDefault("blob.access_key", "")
	v.SetDefault("blob.secret_key", "")
	v.SetDefault("blob.use_ssl", false)
	v.SetDefault("blob.region", "")
	v.SetDefault("blob.local_root", "data/blobs")
	v.SetDefault("blob.file_bucket", "dicomweb")
	v.SetDefault("blob.metadata_bucket", "metadata")

	v.SetDefault("query.default_limit", 100)
	v.SetDefault("query.max_limit", 200)

	v.SetDefault("cleanup.delay", 10*time.Minute)
	v.SetDefault("cleanup.interval", time.Minute)
	v.SetDefault("cleanup.batch_size", 10)

	v.SetDefault("cast.dicom_web_url", "http://localhost:8080")
	v.SetDefault("cast.batch_size", 10)
	v.SetDefault("cast.poll_interval", time.Minute)
	v.SetDefault("cast.catchup_interval", 5*time.Second)
	v.SetDefault("cast.floor_sequence", 0)
	v.SetDefault("cast.sink", SinkFHIR)
	v.SetDefault("cast.fhir.url", "")
	v.SetDefault("cast.fhir.requests_per_second", 10.0)
	v.SetDefault("cast.kafka.brokers", []string{})
	v.SetDefault("cast.kafka.topic", "dicom-changefeed")
	v.SetDefault("cast.kafka.client_id", "dicomcast")
	v.SetDefault("cast.rabbitmq.url", "")
	v.SetDefault("cast.rabbitmq.exchange", "dicom")
	v.SetDefault("cast.rabbitmq.routing_key", "")
	v.SetDefault("cast.state.driver", "sqlite")
	v.SetDefault("cast.state.dsn", "data/cast.db")
}

// Validate checks values that do not depend on which command runs
func (c Config) Validate() error {
	for name, port := range map[string]int{
		"server.http_port":    c.Server.HTTPPort,
		"server.grpc_port":    c.Server.GrpcPort,
		"server.metrics_port": c.Server.MetricsPort,
	} {
		if port < 1 || port > 65535 {
			return fmt.Errorf("%s must be within [1, 65535], got %d", name, port)
		}
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error, got %q", c.Log.Level)
	}

	if c.Query.MaxLimit < 1 {
		return fmt.Errorf("query.max_limit must be positive")
	}
	if c.Query.DefaultLimit < 1 || c.Query.DefaultLimit > c.Query.MaxLimit {
		return fmt.Errorf("query.default_limit must be within [1, query.max_limit]")
	}

	if c.Blob.Endpoint == "" && c.Blob.LocalRoot == "" {
		return fmt.Errorf("one of blob.endpoint or blob.local_root is required")
	}
	if c.Blob.FileBucket == "" || c.Blob.MetadataBucket == "" {
		return fmt.Errorf("blob.file_bucket and blob.metadata_bucket are required")
	}
	if c.Blob.FileBucket == c.Blob.MetadataBucket {
		return fmt.Errorf("blob.file_bucket and blob.metadata_bucket must differ")
	}

	if c.Cleanup.Interval <= 0 || c.Cleanup.BatchSize < 1 {
		return fmt.Errorf("cleanup.interval and cleanup.batch_size must be positive")
	}
	return nil
}

// ValidateServe checks the settings the serve command needs
func (c Config) ValidateServe() error {
	if c.Postgres.URL == "" {
		return fmt.Errorf("postgres.url is required")
	}
	return nil
}

// ValidateCast checks the settings the cast command needs
func (c Config) ValidateCast() error {
	if c.Cast.DicomWebURL == "" {
		return fmt.Errorf("cast.dicom_web_url is required")
	}
	if c.Cast.BatchSize < 1 {
		return fmt.Errorf("cast.batch_size must be positive")
	}
	if c.Cast.PollInterval <= 0 || c.Cast.CatchupInterval < 0 {
		return fmt.Errorf("cast.poll_interval must be positive and cast.catchup_interval non-negative")
	}
	if c.Cast.FloorSequence < 0 {
		return fmt.Errorf("cast.floor_sequence must not be negative")
	}

	switch c.Cast.Sink {
	case SinkFHIR:
		if c.Cast.FHIR.URL == "" {
			return fmt.Errorf("cast.fhir.url is required for the fhir sink")
		}
	case SinkKafka:
		if len(c.Cast.Kafka.Brokers) == 0 || c.Cast.Kafka.Topic == "" {
			return fmt.Errorf("cast.kafka.brokers and cast.kafka.topic are required for the kafka sink")
		}
	case SinkRabbitMQ:
		if c.Cast.RabbitMQ.URL == "" {
			return fmt.Errorf("cast.rabbitmq.url is required for the rabbitmq sink")
		}
	default:
		return fmt.Errorf("cast.sink must be one of fhir, kafka, rabbitmq, got %q", c.Cast.Sink)
	}

	switch c.Cast.State.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("cast.state.driver must be sqlite or postgres, got %q", c.Cast.State.Driver)
	}
	if c.Cast.State.DSN == "" {
		return fmt.Errorf("cast.state.dsn is required")
	}
	return nil
}
