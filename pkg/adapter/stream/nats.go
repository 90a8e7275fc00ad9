package stream

import (
	"context"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/abhishekvarshney/goingest/pkg/adapter"
)

// NATSConfig configures a NATS subscription broker.
type NATSConfig struct {
	// URL of the NATS server, e.g. nats://localhost:4222
	URL string `json:"url" yaml:"url"`

	// Subject to subscribe; wildcards are allowed
	Subject string `json:"subject" yaml:"subject"`

	// QueueGroup distributes messages across consumers when set
	QueueGroup string `json:"queue_group,omitempty" yaml:"queue_group,omitempty"`
}

// NATSBroker subscribes to a NATS subject. Core NATS has no consumer
// acknowledgement, so Ack is a no-op.
type NATSBroker struct {
	config NATSConfig

	mu     sync.Mutex
	conn   *nats.Conn
	sub    *nats.Subscription
	quit   chan struct{}
	msgs   chan Message
	bridge sync.WaitGroup
}

// NewNATSBroker creates a NATS broker. The connection is deferred until
// Connect.
func NewNATSBroker(config NATSConfig) (*NATSBroker, error) {
	if config.URL == "" {
		return nil, adapter.ErrInvalidConfig{Field: "url", Reason: "server URL required"}
	}
	if config.Subject == "" {
		return nil, adapter.ErrInvalidConfig{Field: "subject", Reason: "subject required"}
	}
	return &NATSBroker{config: config}, nil
}

// Connect dials the server and subscribes.
func (b *NATSBroker) Connect(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	conn, err := nats.Connect(b.config.URL)
	if err != nil {
		return fmt.Errorf("connect nats: %w", err)
	}

	inbox := make(chan *nats.Msg, 64)
	var sub *nats.Subscription
	if b.config.QueueGroup != "" {
		sub, err = conn.ChanQueueSubscribe(b.config.Subject, b.config.QueueGroup, inbox)
	} else {
		sub, err = conn.ChanSubscribe(b.config.Subject, inbox)
	}
	if err != nil {
		conn.Close()
		return fmt.Errorf("subscribe %s: %w", b.config.Subject, err)
	}

	msgs := make(chan Message)
	quit := make(chan struct{})
	b.bridge.Add(1)
	go func() {
		defer b.bridge.Done()
		defer close(msgs)
		for {
			select {
			case <-quit:
				return
			case m, ok := <-inbox:
				if !ok {
					return
				}
				out := Message{Topic: m.Subject, Value: m.Data}
				if m.Reply != "" {
					out.Meta = map[string]interface{}{"reply": m.Reply}
				}
				select {
				case <-quit:
					return
				case msgs <- out:
				}
			}
		}
	}()

	b.conn = conn
	b.sub = sub
	b.quit = quit
	b.msgs = msgs
	return nil
}

// Messages returns the receive channel for the current subscription.
func (b *NATSBroker) Messages() <-chan Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.msgs
}

// Ack is a no-op for core NATS.
func (b *NATSBroker) Ack(Message) error { return nil }

// Close unsubscribes and closes the connection.
func (b *NATSBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.conn == nil {
		return nil
	}
	err := b.sub.Unsubscribe()
	b.conn.Close()
	close(b.quit)
	b.bridge.Wait()
	b.conn = nil
	b.sub = nil
	return err
}
