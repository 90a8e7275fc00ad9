package stream

import (
	"context"
	"fmt"
	"sync"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/abhishekvarshney/goingest/pkg/adapter"
)

// EtcdConfig configures an etcd key-prefix watch broker.
type EtcdConfig struct {
	// Endpoints lists the etcd cluster addresses
	Endpoints []string `json:"endpoints" yaml:"endpoints"`

	// Prefix is the key prefix to watch
	Prefix string `json:"prefix" yaml:"prefix"`

	// DialTimeout bounds the initial connection; defaults to 5s
	DialTimeout time.Duration `json:"dial_timeout,omitempty" yaml:"dial_timeout,omitempty"`
}

// EtcdBroker watches an etcd key prefix and surfaces every PUT and DELETE
// as a message. Watches have no acknowledgement, so Ack is a no-op.
type EtcdBroker struct {
	config EtcdConfig

	mu     sync.Mutex
	client *clientv3.Client
	msgs   chan Message
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewEtcdBroker creates an etcd broker. The connection is deferred until
// Connect.
func NewEtcdBroker(config EtcdConfig) (*EtcdBroker, error) {
	if len(config.Endpoints) == 0 {
		return nil, adapter.ErrInvalidConfig{Field: "endpoints", Reason: "at least one endpoint required"}
	}
	if config.Prefix == "" {
		return nil, adapter.ErrInvalidConfig{Field: "prefix", Reason: "key prefix required"}
	}
	if config.DialTimeout <= 0 {
		config.DialTimeout = 5 * time.Second
	}
	return &EtcdBroker{config: config}, nil
}

// Connect dials the cluster and starts the watch.
func (b *EtcdBroker) Connect(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	client, err := clientv3.New(clientv3.Config{
		Endpoints:   b.config.Endpoints,
		DialTimeout: b.config.DialTimeout,
	})
	if err != nil {
		return fmt.Errorf("connect etcd: %w", err)
	}

	watchCtx, cancel := context.WithCancel(ctx)
	b.client = client
	b.cancel = cancel
	b.msgs = make(chan Message)

	watch := client.Watch(watchCtx, b.config.Prefix, clientv3.WithPrefix())
	b.wg.Add(1)
	go b.watchLoop(watchCtx, watch, b.msgs)
	return nil
}

func (b *EtcdBroker) watchLoop(ctx context.Context, watch clientv3.WatchChan, msgs chan Message) {
	defer b.wg.Done()
	defer close(msgs)

	for resp := range watch {
		if resp.Err() != nil {
			return
		}
		for _, ev := range resp.Events {
			out := Message{
				Topic: string(ev.Kv.Key),
				Value: ev.Kv.Value,
				Meta: map[string]interface{}{
					"etcd_event": ev.Type.String(),
					"revision":   ev.Kv.ModRevision,
				},
			}
			select {
			case <-ctx.Done():
				return
			case msgs <- out:
			}
		}
	}
}

// Messages returns the receive channel for the current watch.
func (b *EtcdBroker) Messages() <-chan Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.msgs
}

// Ack is a no-op for etcd watches.
func (b *EtcdBroker) Ack(Message) error { return nil }

// Close stops the watch and closes the client.
func (b *EtcdBroker) Close() error {
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
