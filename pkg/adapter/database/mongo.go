package database

import (
	"context"
	"fmt"

	"github.com/abhishekvarshney/goingest/pkg/adapter"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// MongoConfig configures a document backend.
type MongoConfig struct {
	// URI is the mongodb:// connection string
	URI string `json:"uri" yaml:"uri"`

	// Database and Collection to poll
	Database   string `json:"database" yaml:"database"`
	Collection string `json:"collection" yaml:"collection"`

	// Filter narrows the polled documents; empty polls everything
	Filter map[string]interface{} `json:"filter,omitempty" yaml:"filter,omitempty"`
}

// MongoBackend polls a MongoDB collection.
type MongoBackend struct {
	config     MongoConfig
	client     *mongo.Client
	collection *mongo.Collection
}

// NewMongoBackend creates a document backend. The connection is deferred
// until Connect.
func NewMongoBackend(config MongoConfig) (*MongoBackend, error) {
	if config.URI == "" {
		return nil, adapter.ErrInvalidConfig{Field: "uri", Reason: "connection URI required"}
	}
	if config.Database == "" {
		return nil, adapter.ErrInvalidConfig{Field: "database", Reason: "database name required"}
	}
	if config.Collection == "" {
		return nil, adapter.ErrInvalidConfig{Field: "collection", Reason: "collection name required"}
	}
	return &MongoBackend{config: config}, nil
}

// Connect dials the server and verifies it with a ping.
func (b *MongoBackend) Connect(ctx context.Context) error {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(b.config.URI))
	if err != nil {
		return fmt.Errorf("connect mongodb: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return fmt.Errorf("ping mongodb: %w", err)
	}
	b.client = client
	b.collection = client.Database(b.config.Database).Collection(b.config.Collection)
	return nil
}

// Query runs the configured filter and returns matching documents.
func (b *MongoBackend) Query(ctx context.Context) ([]map[string]interface{}, error) {
	filter := bson.M{}
	for k, v := range b.config.Filter {
		filter[k] = v
	}

	cursor, err := b.collection.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("find: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []bson.M
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}

	rows := make([]map[string]interface{}, len(docs))
	for i, doc := range docs {
		rows[i] = map[string]interface{}(doc)
	}
	return rows, nil
}

// Close disconnects the client.
func (b *MongoBackend) Close() error {
	if b.client == nil {
		return nil
	}
	return b.client.Disconnect(context.Background())
}
