package database

import (
	"context"
	"fmt"

	"github.com/abhishekvarshney/goingest/pkg/adapter"

	"xorm.io/xorm"

	// Supported relational drivers.
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// SQLConfig configures a relational backend.
type SQLConfig struct {
	// Driver is the database/sql driver name, e.g. "postgres" or "sqlite"
	Driver string `json:"driver" yaml:"driver"`

	// DSN is the driver-specific connection string
	DSN string `json:"dsn" yaml:"dsn"`

	// Query is executed on every poll and must return the key field
	Query string `json:"query" yaml:"query"`
}

// SQLBackend runs the poll query against a relational database via xorm.
type SQLBackend struct {
	config SQLConfig
	engine *xorm.Engine
}

// NewSQLBackend creates a relational backend. The connection is deferred
// until Connect.
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

// Query executes the configured statement and returns the rows as maps.
func (b *SQLBackend) Query(ctx context.Context) ([]map[string]interface{}, error) {
	session := b.engine.Context(ctx)
	defer session.Close()

	rows, err := session.QueryInterface(b.config.Query)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	return rows, nil
}

// Close shuts down the engine.
func (b *SQLBackend) Close() error {
	if b.engine == nil {
		return nil
	}
	return b.engine.Close()
}
