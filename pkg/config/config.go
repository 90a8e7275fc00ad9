// Package config loads the ingestion fleet from a YAML file: one entry per
// source plus manager-level tuning. The host can equally construct adapter
// configs in code; this package exists for config-file driven deployments.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/abhishekvarshney/goingest/pkg/adapter"
	"github.com/abhishekvarshney/goingest/pkg/adapter/apipoll"
	"github.com/abhishekvarshney/goingest/pkg/adapter/database"
	"github.com/abhishekvarshney/goingest/pkg/adapter/file"
	"github.com/abhishekvarshney/goingest/pkg/adapter/logtail"
	"github.com/abhishekvarshney/goingest/pkg/adapter/metricspoll"
	"github.com/abhishekvarshney/goingest/pkg/adapter/stream"
	"github.com/abhishekvarshney/goingest/pkg/adapter/webhook"
	"github.com/abhishekvarshney/goingest/pkg/backoff"
	"github.com/abhishekvarshney/goingest/pkg/manager"
)

// Config is the root of the ingestion config file.
type Config struct {
	// Log configures the process logger
	Log LogConfig `json:"log" yaml:"log"`

	// QueueSize overrides the per-source delivery queue capacity
	QueueSize int `json:"queue_size,omitempty" yaml:"queue_size,omitempty"`

	// HandlerTimeout overrides the dispatcher's per-handler timeout
	HandlerTimeout Duration `json:"handler_timeout,omitempty" yaml:"handler_timeout,omitempty"`

	// Restart overrides the supervision backoff policy
	Restart *RestartConfig `json:"restart,omitempty" yaml:"restart,omitempty"`

	// Sources lists the adapters to run
	Sources []SourceConfig `json:"sources" yaml:"sources"`
}

// LogConfig selects the logger level and encoding.
type LogConfig struct {
	Level  string `json:"level,omitempty" yaml:"level,omitempty"`
	Format string `json:"format,omitempty" yaml:"format,omitempty"`
}

// RestartConfig mirrors backoff.Policy with file-friendly durations.
type RestartConfig struct {
	Mode       string   `json:"mode,omitempty" yaml:"mode,omitempty"`
	Initial    Duration `json:"initial,omitempty" yaml:"initial,omitempty"`
	Max        Duration `json:"max,omitempty" yaml:"max,omitempty"`
	MaxRetries int      `json:"max_retries,omitempty" yaml:"max_retries,omitempty"`
}

func (r *RestartConfig) policy() backoff.Policy {
	return backoff.NewPolicy(backoff.Mode(r.Mode), r.Initial.Std(), r.Max.Std(), r.MaxRetries)
}

// SourceConfig declares one adapter. Kind selects which of the per-kind
// sections applies.
type SourceConfig struct {
	Name string `json:"name" yaml:"name"`
	Kind string `json:"kind" yaml:"kind"`

	Webhook  *webhook.Config `json:"webhook,omitempty" yaml:"webhook,omitempty"`
	API      *APIConfig      `json:"api,omitempty" yaml:"api,omitempty"`
	File     *file.Config    `json:"file,omitempty" yaml:"file,omitempty"`
	Database *DatabaseConfig `json:"database,omitempty" yaml:"database,omitempty"`
	Stream   *StreamConfig   `json:"stream,omitempty" yaml:"stream,omitempty"`
	Log      *LogTailConfig  `json:"log,omitempty" yaml:"log,omitempty"`
	Metrics  *MetricsConfig  `json:"metrics,omitempty" yaml:"metrics,omitempty"`
}

// APIConfig mirrors apipoll.Config with file-friendly durations.
type APIConfig struct {
	URL      string             `json:"url" yaml:"url"`
	Method   string             `json:"method,omitempty" yaml:"method,omitempty"`
	Interval Duration           `json:"interval" yaml:"interval"`
	KeyField string             `json:"key_field,omitempty" yaml:"key_field,omitempty"`
	Subject  string             `json:"subject,omitempty" yaml:"subject,omitempty"`
	Auth     apipoll.AuthConfig `json:"auth,omitempty" yaml:"auth,omitempty"`
	Timeout  Duration           `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// DatabaseConfig declares a database poller with exactly one backend.
type DatabaseConfig struct {
	Interval Duration `json:"interval" yaml:"interval"`
	KeyField string   `json:"key_field" yaml:"key_field"`
	Subject  string   `json:"subject,omitempty" yaml:"subject,omitempty"`

	SQL   *database.SQLConfig   `json:"sql,omitempty" yaml:"sql,omitempty"`
	Mongo *database.MongoConfig `json:"mongo,omitempty" yaml:"mongo,omitempty"`
}

// StreamConfig declares a stream consumer with exactly one broker.
type StreamConfig struct {
	AckMode string         `json:"ack_mode,omitempty" yaml:"ack_mode,omitempty"`
	Retry   *RestartConfig `json:"retry,omitempty" yaml:"retry,omitempty"`

	Kafka *stream.KafkaConfig `json:"kafka,omitempty" yaml:"kafka,omitempty"`
	NATS  *stream.NATSConfig  `json:"nats,omitempty" yaml:"nats,omitempty"`
	Redis *stream.RedisConfig `json:"redis,omitempty" yaml:"redis,omitempty"`
	Etcd  *EtcdStreamConfig   `json:"etcd,omitempty" yaml:"etcd,omitempty"`
}

// EtcdStreamConfig mirrors stream.EtcdConfig with a file-friendly duration.
type EtcdStreamConfig struct {
	Endpoints   []string `json:"endpoints" yaml:"endpoints"`
	Prefix      string   `json:"prefix" yaml:"prefix"`
	DialTimeout Duration `json:"dial_timeout,omitempty" yaml:"dial_timeout,omitempty"`
}

// LogTailConfig mirrors logtail.Config with a file-friendly duration.
type LogTailConfig struct {
	Path        string   `json:"path" yaml:"path"`
	Interval    Duration `json:"interval,omitempty" yaml:"interval,omitempty"`
	Format      string   `json:"format,omitempty" yaml:"format,omitempty"`
	LinePattern string   `json:"line_pattern,omitempty" yaml:"line_pattern,omitempty"`
	FromStart   bool     `json:"from_start,omitempty" yaml:"from_start,omitempty"`
}

// MetricsConfig declares a metrics poller with exactly one backend.
type MetricsConfig struct {
	Interval  Duration `json:"interval" yaml:"interval"`
	Threshold float64  `json:"threshold" yaml:"threshold"`
	Operator  string   `json:"operator,omitempty" yaml:"operator,omitempty"`
	Subject   string   `json:"subject" yaml:"subject"`

	Prometheus *PrometheusMetricsConfig `json:"prometheus,omitempty" yaml:"prometheus,omitempty"`
	SQL        *metricspoll.SQLConfig   `json:"sql,omitempty" yaml:"sql,omitempty"`
}

// PrometheusMetricsConfig mirrors metricspoll.PrometheusConfig with a
// file-friendly duration.
type PrometheusMetricsConfig struct {
	URL     string   `json:"url" yaml:"url"`
	Query   string   `json:"query" yaml:"query"`
	Timeout Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// Load reads and parses the config file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse parses YAML (or JSON, which YAML subsumes) config bytes.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks structural invariants: unique names, known kinds, and a
// matching per-kind section for every source.
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.Sources))
	for i := range c.Sources {
		s := &c.Sources[i]
		if s.Name == "" {
			return adapter.ErrInvalidConfig{Field: fmt.Sprintf("sources[%d].name", i), Reason: "name required"}
		}
		if seen[s.Name] {
			return adapter.ErrInvalidConfig{Field: "sources", Reason: fmt.Sprintf("duplicate source name %q", s.Name)}
		}
		seen[s.Name] = true
		if err := s.validateKind(); err != nil {
			return err
		}
	}
	return nil
}

func (s *SourceConfig) validateKind() error {
	var ok bool
	switch s.Kind {
	case "webhook":
		ok = s.Webhook != nil
	case "api":
		ok = s.API != nil
	case "file":
		ok = s.File != nil
	case "database":
		ok = s.Database != nil
	case "stream":
		ok = s.Stream != nil
	case "log":
		ok = s.Log != nil
	case "metrics":
		ok = s.Metrics != nil
	default:
		return adapter.ErrInvalidConfig{Field: "kind", Reason: fmt.Sprintf("source %q: unknown kind %q", s.Name, s.Kind)}
	}
	if !ok {
		return adapter.ErrInvalidConfig{Field: s.Kind, Reason: fmt.Sprintf("source %q: missing %s section", s.Name, s.Kind)}
	}
	return nil
}

// ManagerOptions converts the manager-level settings.
func (c *Config) ManagerOptions() []manager.Option {
	var opts []manager.Option
	if c.QueueSize > 0 {
		opts = append(opts, manager.WithQueueSize(c.QueueSize))
	}
	if c.HandlerTimeout > 0 {
		opts = append(opts, manager.WithHandlerTimeout(c.HandlerTimeout.Std()))
	}
	if c.Restart != nil {
		opts = append(opts, manager.WithRestartPolicy(c.Restart.policy()))
	}
	return opts
}

// BuildAdapters constructs one adapter per source entry.
func (c *Config) BuildAdapters() ([]adapter.Adapter, error) {
	adapters := make([]adapter.Adapter, 0, len(c.Sources))
	for i := range c.Sources {
		a, err := c.Sources[i].Build()
		if err != nil {
			return nil, fmt.Errorf("source %q: %w", c.Sources[i].Name, err)
		}
		adapters = append(adapters, a)
	}
	return adapters, nil
}

// Build constructs the adapter this entry declares.
func (s *SourceConfig) Build() (adapter.Adapter, error) {
	switch s.Kind {
	case "webhook":
		return webhook.New(s.Name, *s.Webhook)

	case "api":
		return apipoll.New(s.Name, apipoll.Config{
			URL:      s.API.URL,
			Method:   s.API.Method,
			Interval: s.API.Interval.Std(),
			KeyField: s.API.KeyField,
			Subject:  s.API.Subject,
			Auth:     s.API.Auth,
			Timeout:  s.API.Timeout.Std(),
		})

	case "file":
		return file.New(s.Name, *s.File)

	case "database":
		backend, err := s.Database.backend()
		if err != nil {
			return nil, err
		}
		return database.New(s.Name, database.Config{
			Interval: s.Database.Interval.Std(),
			KeyField: s.Database.KeyField,
			Subject:  s.Database.Subject,
		}, backend)

	case "stream":
		broker, err := s.Stream.broker()
		if err != nil {
			return nil, err
		}
		cfg := stream.Config{AckMode: stream.AckMode(s.Stream.AckMode)}
		if s.Stream.Retry != nil {
			cfg.Retry = s.Stream.Retry.policy()
		}
		return stream.New(s.Name, cfg, broker)

	case "log":
		return logtail.New(s.Name, logtail.Config{
			Path:        s.Log.Path,
			Interval:    s.Log.Interval.Std(),
			Format:      logtail.LineFormat(s.Log.Format),
			LinePattern: s.Log.LinePattern,
			FromStart:   s.Log.FromStart,
		})

	case "metrics":
		backend, err := s.Metrics.backend()
		if err != nil {
			return nil, err
		}
		return metricspoll.New(s.Name, metricspoll.Config{
			Interval:  s.Metrics.Interval.Std(),
			Threshold: s.Metrics.Threshold,
			Operator:  metricspoll.Operator(s.Metrics.Operator),
			Subject:   s.Metrics.Subject,
		}, backend)
	}
	return nil, adapter.ErrInvalidConfig{Field: "kind", Reason: fmt.Sprintf("unknown kind %q", s.Kind)}
}

func (d *DatabaseConfig) backend() (database.Backend, error) {
	switch {
	case d.SQL != nil && d.Mongo != nil:
		return nil, adapter.ErrInvalidConfig{Field: "database", Reason: "sql and mongo are mutually exclusive"}
	case d.SQL != nil:
		return database.NewSQLBackend(*d.SQL)
	case d.Mongo != nil:
		return database.NewMongoBackend(*d.Mongo)
	}
	return nil, adapter.ErrInvalidConfig{Field: "database", Reason: "one of sql or mongo required"}
}

func (s *StreamConfig) broker() (stream.Broker, error) {
	declared := 0
	for _, set := range []bool{s.Kafka != nil, s.NATS != nil, s.Redis != nil, s.Etcd != nil} {
		if set {
			declared++
		}
	}
	if declared != 1 {
		return nil, adapter.ErrInvalidConfig{Field: "stream", Reason: "exactly one of kafka, nats, redis or etcd required"}
	}
	switch {
	case s.Kafka != nil:
		return stream.NewKafkaBroker(*s.Kafka)
	case s.NATS != nil:
		return stream.NewNATSBroker(*s.NATS)
	case s.Redis != nil:
		return stream.NewRedisBroker(*s.Redis)
	default:
		return stream.NewEtcdBroker(stream.EtcdConfig{
			Endpoints:   s.Etcd.Endpoints,
			Prefix:      s.Etcd.Prefix,
			DialTimeout: s.Etcd.DialTimeout.Std(),
		})
	}
}

func (m *MetricsConfig) backend() (metricspoll.Backend, error) {
	switch {
	case m.Prometheus != nil && m.SQL != nil:
		return nil, adapter.ErrInvalidConfig{Field: "metrics", Reason: "prometheus and sql are mutually exclusive"}
	case m.Prometheus != nil:
		return metricspoll.NewPrometheusBackend(metricspoll.PrometheusConfig{
			URL:     m.Prometheus.URL,
			Query:   m.Prometheus.Query,
			Timeout: m.Prometheus.Timeout.Std(),
		})
	case m.SQL != nil:
		return metricspoll.NewSQLBackend(*m.SQL)
	}
	return nil, adapter.ErrInvalidConfig{Field: "metrics", Reason: "one of prometheus or sql required"}
}
