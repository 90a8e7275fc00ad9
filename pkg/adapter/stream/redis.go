package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/abhishekvarshney/goingest/pkg/adapter"
)

// RedisConfig configures a Redis streams consumer group broker.
type RedisConfig struct {
	// Addr is the host:port of the Redis server
	Addr string `json:"addr" yaml:"addr"`

	// Stream is the stream key to read
	Stream string `json:"stream" yaml:"stream"`

	// Group is the consumer group; created at the stream tail if missing
	Group string `json:"group" yaml:"group"`

	// Consumer names this group member; defaults to "goingest"
	Consumer string `json:"consumer,omitempty" yaml:"consumer,omitempty"`

	// Password for AUTH, if required
	Password string `json:"password,omitempty" yaml:"password,omitempty"`
}

// RedisBroker reads a Redis stream through a consumer group with XREADGROUP.
type RedisBroker struct {
	config RedisConfig

	mu     sync.Mutex
	client *redis.Client
	msgs   chan Message
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRedisBroker creates a Redis streams broker. The connection is deferred
// until Connect.
func NewRedisBroker(config RedisConfig) (*RedisBroker, error) {
	if config.Addr == "" {
		return nil, adapter.ErrInvalidConfig{Field: "addr", Reason: "server address required"}
	}
	if config.Stream == "" {
		return nil, adapter.ErrInvalidConfig{Field: "stream", Reason: "stream key required"}
	}
	if config.Group == "" {
		return nil, adapter.ErrInvalidConfig{Field: "group", Reason: "consumer group required"}
	}
	if config.Consumer == "" {
		config.Consumer = "goingest"
	}
	return &RedisBroker{config: config}, nil
}

// Connect dials the server, ensures the consumer group exists and starts
// the read loop.
func (b *RedisBroker) Connect(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	client := redis.NewClient(&redis.Options{
		Addr:     b.config.Addr,
		Password: b.config.Password,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return fmt.Errorf("ping redis: %w", err)
	}

	err := client.XGroupCreateMkStream(ctx, b.config.Stream, b.config.Group, "$").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		_ = client.Close()
		return fmt.Errorf("create consumer group: %w", err)
	}

	readCtx, cancel := context.WithCancel(ctx)
	b.client = client
	b.cancel = cancel
	b.msgs = make(chan Message)

	b.wg.Add(1)
	go b.readLoop(readCtx, client, b.msgs)
	return nil
}

func (b *RedisBroker) readLoop(ctx context.Context, client *redis.Client, msgs chan Message) {
	defer b.wg.Done()
	defer close(msgs)

	for {
		if ctx.Err() != nil {
			return
		}
		res, err := client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    b.config.Group,
			Consumer: b.config.Consumer,
			Streams:  []string{b.config.Stream, ">"},
			Count:    32,
			Block:    5 * time.Second,
		}).Result()
		if err != nil {
			if err == redis.Nil {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			// Connection trouble; close the channel so the adapter
			// runs its reconnect policy.
			return
		}
		for _, entries := range res {
			for _, entry := range entries.Messages {
				body, _ := json.Marshal(entry.Values)
				out := Message{
					Topic: b.config.Stream,
					Key:   entry.ID,
					Value: body,
				}
				select {
				case <-ctx.Done():
					return
				case msgs <- out:
				}
			}
		}
	}
}

// Messages returns the receive channel for the current connection.
func (b *RedisBroker) Messages() <-chan Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.msgs
}

// Ack removes the entry from the group's pending list.
func (b *RedisBroker) Ack(msg Message) error {
	b.mu.Lock()
	client := b.client
	b.mu.Unlock()
	if client == nil || msg.Key == "" {
		return nil
	}
	return client.XAck(context.Background(), b.config.Stream, b.config.Group, msg.Key).Err()
}

// Close stops the read loop and closes the connection.
func (b *RedisBroker) Close() error {
	b.mu.Lock()
	client := b.client
	cancel := b.cancel
	b.client = nil
	b.mu.Unlock()

	if client == nil {
		return nil
	}
	cancel()
	b.wg.Wait()
	return client.Close()
}
