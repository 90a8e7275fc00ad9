package metricspoll

import (
	"context"
	"fmt"
	"strconv"

	"xorm.io/xorm"

	"github.com/abhishekvarshney/goingest/pkg/adapter"
)

// SQLConfig configures a relational metrics backend.
type SQLConfig struct {
	// Driver is the database/sql driver name, e.g. "postgres" or "sqlite"
	Driver string `json:"driver" yaml:"driver"`

	// DSN is the driver-specific connection string
	DSN string `json:"dsn" yaml:"dsn"`

	// Query must return a single row with a single numeric column,
	// e.g. SELECT count(*) FROM jobs WHERE state = 'stuck'
	Query string `json:"query" yaml:"query"`
}

// SQLBackend samples a scalar from a relational database via xorm.
type SQLBackend struct {
	config SQLConfig
	engine *xorm.Engine
}

// NewSQLBackend creates a relational metrics backend. The connection is
// deferred until Connect.
func NewSQLBackend(config SQLConfig) (*SQLBackend, error) {
	if config.Driver == "" {
		return nil, adapter.ErrInvalidConfig{Field: "driver", Reason: "driver required"}
	}
	if config.DSN == "" {
		return nil, adapter.ErrInvalidConfig{Field: "dsn", Reason: "connection string required"}
	}
	if config.Query == "" {
		return nil, adapter.ErrInvalidConfig{Field: "query", Reason: "query required"}
	}
	return &SQLBackend{config: config}, nil
}

// Connect opens the engine and verifies the connection.
func (b *SQLBackend) Connect(ctx context.Context) error {
	engine, err := xorm.NewEngine(b.config.Driver, b.config.DSN)
	if err != nil {
		return fmt.Errorf("open %s: %w", b.config.Driver, err)
	}
	if err := engine.PingContext(ctx); err != nil {
		_ = engine.Close()
		return fmt.Errorf("ping %s: %w", b.config.Driver, err)
	}
	b.engine = engine
	return nil
}

// Query runs the statement and converts its first column to a float.
func (b *SQLBackend) Query(ctx context.Context) (float64, error) {
	session := b.engine.Context(ctx)
	defer session.Close()

	rows, err := session.QueryString(b.config.Query)
	if err != nil {
		return 0, fmt.Errorf("query: %w", err)
	}
	if len(rows) == 0 {
		return 0, fmt.Errorf("query returned no rows")
	}
	for _, raw := range rows[0] {
		value, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return 0, fmt.Errorf("non-numeric result %q: %w", raw, err)
		}
		return value, nil
	}
	return 0, fmt.Errorf("query returned no columns")
}

// Close shuts down the engine.
func (b *SQLBackend) Close() error {
	if b.engine == nil {
		return nil
	}
	return b.engine.Close()
}
