package stream

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/abhishekvarshney/goingest/pkg/backoff"
	"github.com/abhishekvarshney/goingest/pkg/event"
)

type captureSink struct {
	mu     sync.Mutex
	events []event.Event
	faults []error
}

func (s *captureSink) Emit(ev event.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *captureSink) Fault(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults = append(s.faults, err)
}

func (s *captureSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func (s *captureSink) faultCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.faults)
}

func (s *captureSink) first() event.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events[0]
}

// fakeBroker hands out scripted messages and records ack/connect calls.
type fakeBroker struct {
	mu       sync.Mutex
	msgs     chan Message
	connects int
	connErr  error
	acked    []string
	ackOrder []string
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{}
}

func (b *fakeBroker) Connect(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connects++
	if b.connErr != nil {
		return b.connErr
	}
	b.msgs = make(chan Message, 16)
	return nil
}

func (b *fakeBroker) Messages() <-chan Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.msgs
}

func (b *fakeBroker) Ack(msg Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.acked = append(b.acked, msg.Key)
	b.ackOrder = append(b.ackOrder, "ack:"+msg.Key)
	return nil
}

func (b *fakeBroker) Close() error { return nil }

func (b *fakeBroker) push(msg Message) {
	b.mu.Lock()
	ch := b.msgs
	b.mu.Unlock()
	ch <- msg
}

func (b *fakeBroker) dropConnection() {
	b.mu.Lock()
	ch := b.msgs
	b.mu.Unlock()
	close(ch)
}

func (b *fakeBroker) connectCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connects
}

func (b *fakeBroker) ackedKeys() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.acked))
	copy(out, b.acked)
	return out
}

func runConsumer(t *testing.T, broker Broker, config Config) (*Adapter, *captureSink) {
	t.Helper()
	a, err := New("orders-stream", config, broker)
	if err != nil {
		t.Fatal(err)
	}
	sink := &captureSink{}
	if err := a.Start(context.Background(), sink); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = a.Stop(ctx)
	})
	return a, sink
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %s", what)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestConfigValidation(t *testing.T) {
	if _, err := New("s", Config{AckMode: "sometimes"}, newFakeBroker()); err == nil {
		t.Error("unknown ack mode should fail validation")
	}
	if _, err := New("s", Config{}, nil); err == nil {
		t.Error("nil broker should fail validation")
	}
}

func TestMessageBecomesEvent(t *testing.T) {
	broker := newFakeBroker()
	_, sink := runConsumer(t, broker, Config{})

	broker.push(Message{
		Topic: "orders.created",
		Key:   "42",
		Value: []byte(`{"order":"o-1","total":12.5}`),
		Meta:  map[string]interface{}{"partition": int32(3)},
	})

	waitFor(t, "event", func() bool { return sink.count() == 1 })

	ev := sink.first()
	if ev.Kind != event.KindStream {
		t.Errorf("expected kind stream, got %s", ev.Kind)
	}
	if ev.Subject != "orders.created" {
		t.Errorf("subject should be the topic, got %q", ev.Subject)
	}
	if ev.Payload["order"] != "o-1" {
		t.Errorf("JSON body not decoded: %v", ev.Payload)
	}
	if ev.Metadata["key"] != "42" || ev.Metadata["partition"] != int32(3) {
		t.Errorf("broker metadata not carried: %v", ev.Metadata)
	}
}

func TestNonJSONBodyWrappedRaw(t *testing.T) {
	broker := newFakeBroker()
	_, sink := runConsumer(t, broker, Config{})

	broker.push(Message{Topic: "logs", Value: []byte("plain line")})

	waitFor(t, "event", func() bool { return sink.count() == 1 })
	if sink.first().Payload["raw"] != "plain line" {
		t.Errorf("non-JSON body should be wrapped raw, got %v", sink.first().Payload)
	}
}

func TestManualAckFollowsEmit(t *testing.T) {
	broker := newFakeBroker()
	_, sink := runConsumer(t, broker, Config{AckMode: AckManual})

	broker.push(Message{Topic: "t", Key: "m-1", Value: []byte(`{}`)})

	waitFor(t, "ack", func() bool { return len(broker.ackedKeys()) == 1 })
	if sink.count() != 1 {
		t.Fatalf("expected 1 event, got %d", sink.count())
	}
	if broker.ackedKeys()[0] != "m-1" {
		t.Errorf("wrong message acked: %v", broker.ackedKeys())
	}
}

func TestReconnectAfterConnectionLoss(t *testing.T) {
	broker := newFakeBroker()
	_, sink := runConsumer(t, broker, Config{
		Retry: backoff.Policy{Mode: backoff.ModeFixed, Initial: 10 * time.Millisecond, Max: 10 * time.Millisecond, MaxRetries: 10},
	})

	broker.push(Message{Topic: "t", Value: []byte(`{"n":1}`)})
	waitFor(t, "first event", func() bool { return sink.count() == 1 })

	broker.dropConnection()
	waitFor(t, "reconnect", func() bool { return broker.connectCount() >= 2 })

	broker.push(Message{Topic: "t", Value: []byte(`{"n":2}`)})
	waitFor(t, "event after reconnect", func() bool { return sink.count() == 2 })
}

func TestExhaustedReconnectsRaiseFault(t *testing.T) {
	broker := newFakeBroker()
	_, sink := runConsumer(t, broker, Config{
		Retry: backoff.Policy{Mode: backoff.ModeFixed, Initial: 5 * time.Millisecond, Max: 5 * time.Millisecond, MaxRetries: 2},
	})

	broker.mu.Lock()
	broker.connErr = errors.New("broker down")
	broker.mu.Unlock()
	broker.dropConnection()

	waitFor(t, "fault", func() bool { return sink.faultCount() == 1 })
}

func TestStartTwiceFails(t *testing.T) {
	broker := newFakeBroker()
	a, _ := runConsumer(t, broker, Config{})
	if err := a.Start(context.Background(), &captureSink{}); err == nil {
		t.Error("second Start should fail")
	}
}
