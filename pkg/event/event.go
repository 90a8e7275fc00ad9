// Package event defines the normalized unit of data flowing through the
// ingestion engine. Every source adapter, whatever protocol it speaks,
// converts its observations into Events of this one shape.
package event

import (
	"time"

	"github.com/google/uuid"
)

// Kind is the enumerated category of an Event. It identifies which family
// of source adapter produced the Event and selects the pattern grammar used
// when matching bindings against it.
type Kind string

const (
	// KindWebhook is emitted by the inbound HTTP webhook adapter
	KindWebhook Kind = "webhook"
	// KindAPI is emitted by the interval API poller
	KindAPI Kind = "api"
	// KindFile is emitted by the filesystem watcher
	KindFile Kind = "file"
	// KindDatabase is emitted by the database poller
	KindDatabase Kind = "database"
	// KindStream is emitted by the message-stream consumer
	KindStream Kind = "stream"
	// KindLog is emitted by the log follower
	KindLog Kind = "log"
	// KindMetric is emitted by the metrics poller on threshold transitions
	KindMetric Kind = "metric"
)

// Kinds lists every valid event kind.
var Kinds = []Kind{KindWebhook, KindAPI, KindFile, KindDatabase, KindStream, KindLog, KindMetric}

// Valid reports whether k is one of the defined kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindWebhook, KindAPI, KindFile, KindDatabase, KindStream, KindLog, KindMetric:
		return true
	default:
		return false
	}
}

func (k Kind) String() string {
	return string(k)
}

// Event represents one logical observation from a source adapter.
//
// Kind and Source are immutable once the Event is created. Payload and
// Metadata must not be mutated after emission; handlers receive them as a
// read-only view and must copy before modifying.
type Event struct {
	// ID uniquely identifies this event instance
	ID string `json:"id"`

	// Kind is the event category (webhook, api, file, ...)
	Kind Kind `json:"kind"`

	// Source is the name of the adapter instance that produced the event,
	// stable across adapter restarts
	Source string `json:"source"`

	// Subject is the pattern-matchable sub-topic of the event, e.g.
	// "github/push" for webhooks or "config.yaml" for file changes.
	// Binding patterns are evaluated against this field.
	Subject string `json:"subject"`

	// Timestamp is when the adapter observed the underlying change,
	// not when the event was dispatched
	Timestamp time.Time `json:"timestamp"`

	// Payload is the decoded, source-specific data
	Payload map[string]interface{} `json:"payload,omitempty"`

	// Metadata carries transport details (file path and change type,
	// partition/offset, alert condition). Never used for matching.
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// New creates an Event with a fresh ID and the observation time set to now.
func New(kind Kind, source, subject string) Event {
	return Event{
		ID:        uuid.New().String(),
		Kind:      kind,
		Source:    source,
		Subject:   subject,
		Timestamp: time.Now(),
	}
}
