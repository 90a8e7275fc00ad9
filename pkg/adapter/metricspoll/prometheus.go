package metricspoll

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/api"
	promv1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"

	"github.com/abhishekvarshney/goingest/pkg/adapter"
)

// PrometheusConfig configures a Prometheus query backend.
type PrometheusConfig struct {
	// URL of the Prometheus server, e.g. http://localhost:9090
	URL string `json:"url" yaml:"url"`

	// Query is the PromQL expression; it must evaluate to a scalar or a
	// single-sample vector
	Query string `json:"query" yaml:"query"`

	// Timeout bounds one query; defaults to 10s
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// PrometheusBackend evaluates a PromQL expression.
type PrometheusBackend struct {
	config PrometheusConfig
	api    promv1.API
}

// NewPrometheusBackend creates a Prometheus backend. The client is built
// on Connect.
func NewPrometheusBackend(config PrometheusConfig) (*PrometheusBackend, error) {
	if config.URL == "" {
		return nil, adapter.ErrInvalidConfig{Field: "url", Reason: "server URL required"}
	}
	if config.Query == "" {
		return nil, adapter.ErrInvalidConfig{Field: "query", Reason: "PromQL expression required"}
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	return &PrometheusBackend{config: config}, nil
}

// Connect builds the API client.
func (b *PrometheusBackend) Connect(ctx context.Context) error {
	client, err := api.NewClient(api.Config{Address: b.config.URL})
	if err != nil {
		return fmt.Errorf("prometheus client: %w", err)
	}
	b.api = promv1.NewAPI(client)
	return nil
}

// Query evaluates the expression and reduces the result to one scalar.
func (b *PrometheusBackend) Query(ctx context.Context) (float64, error) {
	queryCtx, cancel := context.WithTimeout(ctx, b.config.Timeout)
	defer cancel()

	result, _, err := b.api.Query(queryCtx, b.config.Query, time.Now())
	if err != nil {
		return 0, fmt.Errorf("promql query: %w", err)
	}

	switch v := result.(type) {
	case *model.Scalar:
		return float64(v.Value), nil
	case model.Vector:
		if len(v) == 0 {
			return 0, fmt.Errorf("promql query returned no samples")
		}
		return float64(v[0].Value), nil
	default:
		return 0, fmt.Errorf("promql query returned %s, want scalar or vector", result.Type())
	}
}

// Close is a no-op; the HTTP client holds no connection state worth tearing
// down.
func (b *PrometheusBackend) Close() error { return nil }
