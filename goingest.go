// Package goingest provides an event ingestion library for Go services:
// source adapters watch external systems, and bound handlers receive the
// resulting events.
package goingest

import (
	"context"

	"github.com/abhishekvarshney/goingest/pkg/adapter"
	"github.com/abhishekvarshney/goingest/pkg/binding"
	"github.com/abhishekvarshney/goingest/pkg/event"
	"github.com/abhishekvarshney/goingest/pkg/manager"
)

// Manager is the ingestion manager
type Manager = manager.Manager

// Adapter is the source adapter contract
type Adapter = adapter.Adapter

// Event is the normalized event delivered to handlers
type Event = event.Event

// Handler receives matched events
type Handler = binding.Handler

// Option configures the ingestion manager
type Option = manager.Option

// Event kinds
const (
	KindWebhook  = event.KindWebhook
	KindAPI      = event.KindAPI
	KindFile     = event.KindFile
	KindDatabase = event.KindDatabase
	KindStream   = event.KindStream
	KindLog      = event.KindLog
	KindMetric   = event.KindMetric
)

// Start creates an ingestion manager, registers the given adapters and
// starts them. This is the recommended way to stand up ingestion; bind
// handlers on the returned manager.
func Start(ctx context.Context, adapters []Adapter, opts ...Option) (*Manager, error) {
	mgr := manager.NewManager(opts...)

	for _, a := range adapters {
		if err := mgr.RegisterSource(a); err != nil {
			return nil, err
		}
	}

	if err := mgr.StartAll(ctx); err != nil {
		return nil, err
	}

	return mgr, nil
}
