package stream

import (
	"context"
	"fmt"
	"sync"

	"github.com/IBM/sarama"

	"github.com/abhishekvarshney/goingest/pkg/adapter"
)

// KafkaConfig configures a Kafka consumer group broker.
type KafkaConfig struct {
	// Brokers lists the bootstrap addresses
	Brokers []string `json:"brokers" yaml:"brokers"`

	// Topics to subscribe
	Topics []string `json:"topics" yaml:"topics"`

	// GroupID is the consumer group name
	GroupID string `json:"group_id" yaml:"group_id"`

	// Version pins the protocol version; defaults to 2.8.0
	Version string `json:"version,omitempty" yaml:"version,omitempty"`

	// Oldest starts from the earliest offset for a new group
	Oldest bool `json:"oldest,omitempty" yaml:"oldest,omitempty"`
}

// KafkaBroker consumes topics through a sarama consumer group.
type KafkaBroker struct {
	config KafkaConfig

	mu     sync.Mutex
	group  sarama.ConsumerGroup
	msgs   chan Message
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewKafkaBroker creates a Kafka broker. The connection is deferred until
// Connect.
func NewKafkaBroker(config KafkaConfig) (*KafkaBroker, error) {
	if len(config.Brokers) == 0 {
		return nil, adapter.ErrInvalidConfig{Field: "brokers", Reason: "at least one broker address required"}
	}
	if len(config.Topics) == 0 {
		return nil, adapter.ErrInvalidConfig{Field: "topics", Reason: "at least one topic required"}
	}
	if config.GroupID == "" {
		return nil, adapter.ErrInvalidConfig{Field: "group_id", Reason: "consumer group required"}
	}
	return &KafkaBroker{config: config}, nil
}

// Connect joins the consumer group and starts the claim loop.
func (b *KafkaBroker) Connect(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_8_0_0
	if b.config.Version != "" {
		version, err := sarama.ParseKafkaVersion(b.config.Version)
		if err != nil {
			return fmt.Errorf("parse kafka version: %w", err)
		}
		cfg.Version = version
	}
	cfg.Consumer.Return.Errors = true
	if b.config.Oldest {
		cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	}

	group, err := sarama.NewConsumerGroup(b.config.Brokers, b.config.GroupID, cfg)
	if err != nil {
		return fmt.Errorf("join consumer group: %w", err)
	}

	consumeCtx, cancel := context.WithCancel(ctx)
	b.group = group
	b.cancel = cancel
	b.msgs = make(chan Message)

	handler := &groupHandler{msgs: b.msgs, done: consumeCtx.Done()}
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer close(handler.msgs)
		for {
			// Consume returns on every rebalance; loop until cancelled.
			if err := group.Consume(consumeCtx, b.config.Topics, handler); err != nil {
				return
			}
			if consumeCtx.Err() != nil {
				return
			}
		}
	}()
	return nil
}

// Messages returns the receive channel for the current group session.
func (b *KafkaBroker) Messages() <-chan Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.msgs
}

// Ack marks the message's offset as consumed.
func (b *KafkaBroker) Ack(msg Message) error {
	if msg.ack == nil {
		return nil
	}
	return msg.ack()
}

// Close leaves the consumer group.
func (b *KafkaBroker) Close() error {
	b.mu.Lock()
	group := b.group
	cancel := b.cancel
	b.group = nil
	b.mu.Unlock()

	if group == nil {
		return nil
	}
	cancel()
	b.wg.Wait()
	return group.Close()
}

// groupHandler bridges sarama's claim callbacks onto the message channel.
type groupHandler struct {
	msgs chan Message
	done <-chan struct{}
}

func (h *groupHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *groupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case <-h.done:
			return nil
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			out := Message{
				Topic: msg.Topic,
				Key:   string(msg.Key),
				Value: msg.Value,
				Meta: map[string]interface{}{
					"partition": msg.Partition,
					"offset":    msg.Offset,
				},
				ack: func() error {
					session.MarkMessage(msg, "")
					return nil
				},
			}
			select {
			case <-h.done:
				return nil
			case h.msgs <- out:
			}
		}
	}
}
