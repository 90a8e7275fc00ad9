// Package stream implements the stream consumer adapter. It attaches to a
// message broker, turns every received message into an event, and keeps the
// subscription alive across broker outages with backoff-spaced reconnects.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/abhishekvarshney/goingest/pkg/adapter"
	"github.com/abhishekvarshney/goingest/pkg/backoff"
	"github.com/abhishekvarshney/goingest/pkg/event"
)

// AckMode controls when a message is acknowledged to the broker.
type AckMode string

const (
	// AckAuto acknowledges on receipt, before the event is emitted.
	AckAuto AckMode = "auto"

	// AckManual acknowledges only after the event has been handed to the
	// sink, giving at-least-once delivery.
	AckManual AckMode = "manual"
)

// Message is one record received from a broker.
type Message struct {
	// Topic is the stream, subject or key prefix the message arrived on
	Topic string

	// Key is the broker-assigned message identity, if any
	Key string

	// Value is the raw message body
	Value []byte

	// Meta carries broker-specific details, e.g. partition and offset
	Meta map[string]interface{}

	ack func() error
}

// Broker abstracts the messaging system behind one subscription surface.
// Connect must be safe to call again after Close so the adapter can
// reconnect.
type Broker interface {
	// Connect establishes the subscription
	Connect(ctx context.Context) error

	// Messages returns the receive channel for the current connection.
	// The channel closes when the connection is lost or Close is called.
	Messages() <-chan Message

	// Ack confirms a message; a no-op for brokers without consumer state
	Ack(msg Message) error

	// Close tears down the current connection
	Close() error
}

// Config holds the stream consumer configuration.
type Config struct {
	// AckMode defaults to AckAuto
	AckMode AckMode `json:"ack_mode,omitempty" yaml:"ack_mode,omitempty"`

	// Retry spaces reconnection attempts; zero value uses the default
	// exponential policy
	Retry backoff.Policy `json:"retry,omitempty" yaml:"retry,omitempty"`
}

// Validate checks the configuration and fills defaults.
func (c *Config) Validate() error {
	if c.AckMode == "" {
		c.AckMode = AckAuto
	}
	if c.AckMode != AckAuto && c.AckMode != AckManual {
		return adapter.ErrInvalidConfig{Field: "ack_mode", Reason: fmt.Sprintf("unknown ack mode %q", c.AckMode)}
	}
	if c.Retry.Mode == "" {
		c.Retry = backoff.DefaultPolicy()
	}
	return c.Retry.Validate()
}

// Adapter is the stream consumer.
type Adapter struct {
	*adapter.Base
	config Config
	broker Broker
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a stream adapter consuming from the given broker.
func New(name string, config Config, broker Broker) (*Adapter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if broker == nil {
		return nil, adapter.ErrInvalidConfig{Field: "broker", Reason: "broker required"}
	}
	return &Adapter{
		Base:   adapter.NewBase(name, event.KindStream),
		config: config,
		broker: broker,
	}, nil
}

// Start connects the broker and begins consuming.
func (a *Adapter) Start(ctx context.Context, sink adapter.Sink) error {
	if err := a.SetRunning(true); err != nil {
		return err
	}

	if err := a.broker.Connect(ctx); err != nil {
		_ = a.SetRunning(false)
		return fmt.Errorf("stream %s: connect: %w", a.Name(), err)
	}
	a.Observed()

	loopCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.done = make(chan struct{})

	a.Go(sink, func() {
		defer close(a.done)
		a.run(loopCtx, sink)
	})

	a.Logger().Info("stream consumer started", "ack_mode", a.config.AckMode)
	return nil
}

// Stop cancels the consume loop and closes the broker connection.
func (a *Adapter) Stop(ctx context.Context) error {
	if err := a.SetRunning(false); err != nil {
		return err
	}
	a.cancel()
	_ = a.broker.Close()

	select {
	case <-a.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// run consumes until the context is cancelled. A lost connection triggers
// reconnects spaced by the retry policy; exhausting the policy raises a
// fault so supervision can take over.
func (a *Adapter) run(ctx context.Context, sink adapter.Sink) {
	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}
		if attempt > 0 {
			if a.config.Retry.Exhausted(attempt) {
				sink.Fault(fmt.Errorf("stream %s: broker unreachable after %d reconnect attempts", a.Name(), attempt))
				return
			}
			delay := a.config.Retry.Delay(attempt)
			a.Logger().Warn("reconnecting to broker", "attempt", attempt, "delay", delay)
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			if err := a.broker.Connect(ctx); err != nil {
				a.Failed()
				attempt++
				continue
			}
			a.Observed()
			attempt = 0
		}

		a.consume(ctx, sink)
		if ctx.Err() != nil {
			return
		}
		_ = a.broker.Close()
		a.Failed()
		attempt++
	}
}

// consume drains the current connection's message channel.
func (a *Adapter) consume(ctx context.Context, sink adapter.Sink) {
	msgs := a.broker.Messages()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			a.deliver(msg, sink)
		}
	}
}

func (a *Adapter) deliver(msg Message, sink adapter.Sink) {
	a.Observed()

	if a.config.AckMode == AckAuto {
		if err := a.broker.Ack(msg); err != nil {
			a.Logger().Warn("ack failed", "topic", msg.Topic, "error", err)
		}
	}

	ev := event.New(event.KindStream, a.Name(), msg.Topic)
	ev.Payload = decodeBody(msg.Value)
	ev.Metadata = map[string]interface{}{"topic": msg.Topic}
	if msg.Key != "" {
		ev.Metadata["key"] = msg.Key
	}
	for k, v := range msg.Meta {
		ev.Metadata[k] = v
	}
	sink.Emit(ev)

	if a.config.AckMode == AckManual {
		if err := a.broker.Ack(msg); err != nil {
			a.Logger().Warn("ack failed", "topic", msg.Topic, "error", err)
		}
	}
}

// decodeBody decodes a JSON object body; anything else is wrapped raw so
// the handler still sees the bytes.
func decodeBody(value []byte) map[string]interface{} {
	var doc map[string]interface{}
	if err := json.Unmarshal(value, &doc); err == nil {
		return doc
	}
	return map[string]interface{}{"raw": string(value)}
}
