// Package config loads the txgen YAML configuration, applies environment overrides and
// watches the file for live changes.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/lsm/txgen/internal/kafka"
	"github.com/lsm/txgen/internal/tracing"
	"github.com/lsm/txgen/internal/transaction"
)

// Provisioning failure policies.
const (
	FailurePolicyContinue = "continue"
	FailurePolicyAbort    = "abort"
)

// Config is the complete txgen configuration.
type Config struct {
	Cluster       kafka.ClusterConfig `yaml:"cluster"`
	Topic         TopicConfig         `yaml:"topic"`
	Provision     ProvisionConfig     `yaml:"provision"`
	Producer      ProducerConfig      `yaml:"producer"`
	Rate          RateConfig          `yaml:"rate"`
	DeadLetter    DeadLetterConfig    `yaml:"deadLetter"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// TopicConfig describes the topic the producers write to.
type TopicConfig struct {
	Name              string             `yaml:"name"`
	Partitions        int32              `yaml:"partitions"`
	ReplicationFactor int16              `yaml:"replicationFactor"`
	Configs           map[string]*string `yaml:"configs,omitempty"`
}

// ProvisionConfig controls topic creation at startup.
type ProvisionConfig struct {
	Enabled       bool          `yaml:"enabled"`
	FailurePolicy string        `yaml:"failurePolicy"`
	Timeout       time.Duration `yaml:"timeout"`
}

// ProducerConfig sizes the worker pool and tunes each worker's client.
type ProducerConfig struct {
	Workers                int           `yaml:"workers"`
	BatchBytes             int32         `yaml:"batchBytes"`
	Linger                 time.Duration `yaml:"linger"`
	Compression            string        `yaml:"compression"`
	Acks                   string        `yaml:"acks"`
	MaxConsecutiveFailures int           `yaml:"maxConsecutiveFailures"`
	ShutdownGrace          time.Duration `yaml:"shutdownGrace"`
	DeliveryTimeout        time.Duration `yaml:"deliveryTimeout"`
	Encoding               string        `yaml:"encoding"`
	EventSource            string        `yaml:"eventSource"`
}

// RateConfig caps the aggregate publish rate across all workers. Zero means unlimited.
type RateConfig struct {
	RecordsPerSecond float64 `yaml:"recordsPerSecond"`
	Burst            int     `yaml:"burst"`
}

// DeadLetterConfig enables forwarding of failed records. An empty topic disables it.
type DeadLetterConfig struct {
	Topic string `yaml:"topic"`
}

// ObservabilityConfig holds logging, metrics and tracing settings.
type ObservabilityConfig struct {
	LogLevel    string         `yaml:"logLevel"`
	MetricsAddr string         `yaml:"metricsAddr"`
	Tracing     tracing.Config `yaml:"tracing"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Cluster: kafka.ClusterConfig{
			Brokers: []string{"localhost:29092", "localhost:39092", "localhost:49092"},
		},
		Topic: TopicConfig{
			Name:              "financial_transactions",
			Partitions:        5,
			ReplicationFactor: 3,
		},
		Provision: ProvisionConfig{
			Enabled:       true,
			FailurePolicy: FailurePolicyContinue,
			Timeout:       30 * time.Second,
		},
		Producer: ProducerConfig{
			Workers:                3,
			BatchBytes:             64 * 1024,
			Linger:                 3 * time.Millisecond,
			Compression:            "snappy",
			Acks:                   kafka.AcksLeader,
			MaxConsecutiveFailures: 1000,
			ShutdownGrace:          5 * time.Second,
			DeliveryTimeout:        30 * time.Second,
			Encoding:               transaction.EncodingJSON,
			EventSource:            "txgen",
		},
		Observability: ObservabilityConfig{
			LogLevel:    "info",
			MetricsAddr: ":9090",
			Tracing: tracing.Config{
				Endpoint:    "localhost:4317",
				ServiceName: "txgen",
				SampleRatio: 1,
			},
		},
	}
}

// envOverrides lists the settings that may be overridden from the environment. It is seeded
// from the loaded config so unset variables keep the file values.
type envOverrides struct {
	Brokers           []string `env:"TXGEN_BROKERS" envSeparator:","`
	Topic             string   `env:"TXGEN_TOPIC"`
	Partitions        int32    `env:"TXGEN_PARTITIONS"`
	ReplicationFactor int16    `env:"TXGEN_REPLICATION_FACTOR"`
	Workers           int      `env:"TXGEN_WORKERS"`
	Rate              float64  `env:"TXGEN_RATE"`
	MetricsAddr       string   `env:"TXGEN_METRICS_ADDR"`
	TracingEnabled    bool     `env:"TXGEN_OTEL_ENABLED"`
	TracingEndpoint   string   `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
}

// Load reads the YAML file at path on top of the defaults and applies environment overrides.
// The result is validated.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return parse(data, nil)
}

// LoadOrDefault is Load, except that a missing file yields the defaults.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return parse(nil, nil)
	}
	return cfg, err
}

// parse decodes data over the defaults. environ replaces the process environment when non-nil.
func parse(data []byte, environ map[string]string) (*Config, error) {
	cfg := Default()

	if len(bytes.TrimSpace(data)) > 0 {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("parse yaml: %w", err)
		}
	}

	if err := applyEnv(cfg, environ); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func applyEnv(cfg *Config, environ map[string]string) error {
	o := envOverrides{
		Brokers:           cfg.Cluster.Brokers,
		Topic:             cfg.Topic.Name,
		Partitions:        cfg.Topic.Partitions,
		ReplicationFactor: cfg.Topic.ReplicationFactor,
		Workers:           cfg.Producer.Workers,
		Rate:              cfg.Rate.RecordsPerSecond,
		MetricsAddr:       cfg.Observability.MetricsAddr,
		TracingEnabled:    cfg.Observability.Tracing.Enabled,
		TracingEndpoint:   cfg.Observability.Tracing.Endpoint,
	}
	if err := env.ParseWithOptions(&o, env.Options{Environment: environ}); err != nil {
		return fmt.Errorf("parse environment: %w", err)
	}

	brokers := make([]string, 0, len(o.Brokers))
	for _, b := range o.Brokers {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	cfg.Cluster.Brokers = brokers
	cfg.Topic.Name = o.Topic
	cfg.Topic.Partitions = o.Partitions
	cfg.Topic.ReplicationFactor = o.ReplicationFactor
	cfg.Producer.Workers = o.Workers
	cfg.Rate.RecordsPerSecond = o.Rate
	cfg.Observability.MetricsAddr = o.MetricsAddr
	cfg.Observability.Tracing.Enabled = o.TracingEnabled
	cfg.Observability.Tracing.Endpoint = o.TracingEndpoint
	return nil
}

// Validate checks the configuration and reports every problem found.
func (c *Config) Validate() error {
	var errs []error

	if err := c.Cluster.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("cluster: %w", err))
	}

	if c.Topic.Name == "" {
		errs = append(errs, errors.New("topic.name is required"))
	}
	if c.Topic.Partitions < 1 {
		errs = append(errs, errors.New("topic.partitions must be >= 1"))
	}
	if c.Topic.ReplicationFactor < 1 {
		errs = append(errs, errors.New("topic.replicationFactor must be >= 1"))
	}

	switch c.Provision.FailurePolicy {
	case FailurePolicyContinue, FailurePolicyAbort:
	default:
		errs = append(errs, fmt.Errorf("provision.failurePolicy %q is not valid (must be continue or abort)", c.Provision.FailurePolicy))
	}
	if c.Provision.Timeout <= 0 {
		errs = append(errs, errors.New("provision.timeout must be positive"))
	}

	if c.Producer.Workers < 1 {
		errs = append(errs, errors.New("producer.workers must be >= 1"))
	}
	if c.Producer.BatchBytes < 0 {
		errs = append(errs, errors.New("producer.batchBytes must not be negative"))
	}
	if c.Producer.Linger < 0 {
		errs = append(errs, errors.New("producer.linger must not be negative"))
	}
	if c.Producer.MaxConsecutiveFailures < 0 {
		errs = append(errs, errors.New("producer.maxConsecutiveFailures must not be negative"))
	}
	if c.Producer.ShutdownGrace < 0 {
		errs = append(errs, errors.New("producer.shutdownGrace must not be negative"))
	}
	if c.Producer.DeliveryTimeout < 0 {
		errs = append(errs, errors.New("producer.deliveryTimeout must not be negative"))
	}
	if _, err := kafka.ProducerOptions(&kafka.ClusterConfig{}, c.ProducerTuning()); err != nil {
		errs = append(errs, fmt.Errorf("producer: %w", err))
	}
	if _, err := transaction.NewEncoder(c.Producer.Encoding, c.Producer.EventSource); err != nil {
		errs = append(errs, fmt.Errorf("producer: %w", err))
	}

	if c.Rate.RecordsPerSecond < 0 {
		errs = append(errs, errors.New("rate.recordsPerSecond must not be negative"))
	}
	if c.Rate.Burst < 0 {
		errs = append(errs, errors.New("rate.burst must not be negative"))
	}

	if c.DeadLetter.Topic != "" && c.DeadLetter.Topic == c.Topic.Name {
		errs = append(errs, errors.New("deadLetter.topic must differ from topic.name"))
	}

	if r := c.Observability.Tracing.SampleRatio; r < 0 || r > 1 {
		errs = append(errs, errors.New("observability.tracing.sampleRatio must be within [0, 1]"))
	}

	return errors.Join(errs...)
}

// ProducerTuning returns the client tuning shared by every worker.
func (c *Config) ProducerTuning() kafka.ProducerTuning {
	return kafka.ProducerTuning{
		Topic:       c.Topic.Name,
		BatchBytes:  c.Producer.BatchBytes,
		Linger:      c.Producer.Linger,
		Compression: c.Producer.Compression,
		Acks:        c.Producer.Acks,

		DeliveryTimeout: c.Producer.DeliveryTimeout,
	}
}
