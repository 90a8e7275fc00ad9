// Package apipoll implements the interval API poller adapter. On every
// tick it issues one authenticated HTTP request, decodes the JSON response
// and emits an event only when the extracted key or the response digest
// differs from the previous poll.
package apipoll

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/abhishekvarshney/goingest/pkg/adapter"
	"github.com/abhishekvarshney/goingest/pkg/changedetect"
	"github.com/abhishekvarshney/goingest/pkg/event"
)

// Config holds the API poller configuration.
type Config struct {
	// URL is the endpoint to poll
	URL string `json:"url" yaml:"url"`

	// Method defaults to GET
	Method string `json:"method,omitempty" yaml:"method,omitempty"`

	// Interval between polls
	Interval time.Duration `json:"interval" yaml:"interval"`

	// KeyField is a dotted path into the decoded response identifying the
	// record, e.g. "data.deployment.id". Empty digests the whole body.
	KeyField string `json:"key_field,omitempty" yaml:"key_field,omitempty"`

	// Subject overrides the event subject; defaults to the URL path
	Subject string `json:"subject,omitempty" yaml:"subject,omitempty"`

	// Auth configures request authentication
	Auth AuthConfig `json:"auth,omitempty" yaml:"auth,omitempty"`

	// Timeout bounds one poll request; defaults to 10s
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.URL == "" {
		return adapter.ErrInvalidConfig{Field: "url", Reason: "url required"}
	}
	if _, err := url.Parse(c.URL); err != nil {
		return adapter.ErrInvalidConfig{Field: "url", Reason: err.Error()}
	}
	if c.Interval <= 0 {
		return adapter.ErrInvalidConfig{Field: "interval", Reason: "interval must be positive"}
	}
	return c.Auth.Validate()
}

// Adapter is the API poller.
type Adapter struct {
	*adapter.Base
	config   Config
	subject  string
	detector *changedetect.Detector
	client   *http.Client
	cancel   context.CancelFunc
	done     chan struct{}
}

// New creates an API poller. The configuration is validated here.
func New(name string, config Config) (*Adapter, error) {
	if config.Method == "" {
		config.Method = http.MethodGet
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	subject := config.Subject
	if subject == "" {
		u, _ := url.Parse(config.URL)
		subject = strings.TrimPrefix(u.Path, "/")
		if subject == "" {
			subject = u.Host
		}
	}

	return &Adapter{
		Base:     adapter.NewBase(name, event.KindAPI),
		config:   config,
		subject:  subject,
		detector: changedetect.NewDetector(),
	}, nil
}

// Start schedules the poll loop.
func (a *Adapter) Start(ctx context.Context, sink adapter.Sink) error {
	if err := a.SetRunning(true); err != nil {
		return err
	}

	loopCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.done = make(chan struct{})
	a.client = a.config.Auth.client(loopCtx, &http.Client{Timeout: a.config.Timeout})

	a.Go(sink, func() {
		defer close(a.done)
		a.loop(loopCtx, sink)
	})

	a.Logger().Info("api poller started", "url", a.config.URL, "interval", a.config.Interval)
	return nil
}

// Stop cancels the poll loop and waits for it to exit.
func (a *Adapter) Stop(ctx context.Context) error {
	if err := a.SetRunning(false); err != nil {
		return err
	}
	a.cancel()

	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// loop issues one poll per tick. A failed poll waits for the next tick; it
// never shortens the interval or retries immediately.
func (a *Adapter) loop(ctx context.Context, sink adapter.Sink) {
	ticker := time.NewTicker(a.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.poll(ctx, sink)
		}
	}
}

// poll performs one request/decode/compare cycle.
func (a *Adapter) poll(ctx context.Context, sink adapter.Sink) {
	req, err := http.NewRequestWithContext(ctx, a.config.Method, a.config.URL, nil)
	if err != nil {
		a.Failed()
		a.Logger().Error("building poll request failed", "error", err)
		return
	}
	a.config.Auth.apply(req)
	req.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		count := a.Failed()
		a.Logger().Warn("poll failed", "error", err, "consecutive", count)
		return
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		count := a.AuthFailed()
		a.Logger().Warn("poll rejected by endpoint", "status", resp.StatusCode, "consecutive", count)
		return
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		count := a.Failed()
		a.Logger().Warn("poll returned non-2xx", "status", resp.StatusCode, "consecutive", count)
		return
	}
	a.AuthOK()

	var doc interface{}
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		a.Failed()
		a.Logger().Warn("decoding poll response failed", "error", err)
		return
	}
	a.Observed()

	key, digest := a.identify(doc)
	if !a.detector.Observe(key, digest) {
		return
	}

	ev := event.New(event.KindAPI, a.Name(), a.subject)
	ev.Payload = asPayload(doc)
	ev.Metadata = map[string]interface{}{
		"url":    a.config.URL,
		"status": resp.StatusCode,
		"key":    key,
	}
	sink.Emit(ev)
}

// identify extracts the change-detection key and digest for a response.
func (a *Adapter) identify(doc interface{}) (key, digest string) {
	digest = changedetect.Digest(doc)
	if a.config.KeyField == "" {
		return a.subject, digest
	}
	if v, ok := lookupPath(doc, a.config.KeyField); ok {
		return fmt.Sprintf("%v", v), digest
	}
	return a.subject, digest
}

// lookupPath walks a dotted path through nested JSON objects.
func lookupPath(doc interface{}, path string) (interface{}, bool) {
	current := doc
	for _, part := range strings.Split(path, ".") {
		obj, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current, ok = obj[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// asPayload normalizes a decoded JSON document into the event payload map.
func asPayload(doc interface{}) map[string]interface{} {
	if obj, ok := doc.(map[string]interface{}); ok {
		return obj
	}
	return map[string]interface{}{"body": doc}
}
