// Package webhook implements the inbound HTTP source adapter. It runs a
// listener on a configured port and path, verifies an HMAC signature on
// every request, classifies the payload by provider and emits one event per
// verified request with subject "<provider>/<action>".
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/abhishekvarshney/goingest/pkg/adapter"
	"github.com/abhishekvarshney/goingest/pkg/event"
)

// Provider identifies the webhook sender family, which determines how the
// action is extracted from a request.
type Provider string

const (
	ProviderGitHub    Provider = "github"
	ProviderGitLab    Provider = "gitlab"
	ProviderPagerDuty Provider = "pagerduty"
	ProviderGeneric   Provider = "generic"
)

// actionHeaders maps each provider to the request header carrying the
// action name.
var actionHeaders = map[Provider]string{
	ProviderGitHub:    "X-GitHub-Event",
	ProviderGitLab:    "X-Gitlab-Event",
	ProviderPagerDuty: "X-PagerDuty-Event",
	ProviderGeneric:   "X-Event-Type",
}

// Config holds the webhook adapter configuration.
type Config struct {
	// Addr is the listen address, e.g. ":8090". Port 0 picks a free port.
	Addr string `json:"addr" yaml:"addr"`

	// Path is the URL path accepting POSTs
	Path string `json:"path" yaml:"path"`

	// Provider selects action extraction (github, gitlab, pagerduty, generic)
	Provider Provider `json:"provider" yaml:"provider"`

	// Secret is the shared HMAC secret. Empty disables verification.
	Secret string `json:"secret" yaml:"secret"`

	// SignatureHeader carries the HMAC signature; defaults to
	// X-Hub-Signature-256 for github and X-Signature-256 otherwise
	SignatureHeader string `json:"signature_header" yaml:"signature_header"`
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return adapter.ErrInvalidConfig{Field: "addr", Reason: "listen address required"}
	}
	if c.Path == "" {
		return adapter.ErrInvalidConfig{Field: "path", Reason: "path required"}
	}
	if !strings.HasPrefix(c.Path, "/") {
		return adapter.ErrInvalidConfig{Field: "path", Reason: "path must start with /"}
	}
	switch c.Provider {
	case ProviderGitHub, ProviderGitLab, ProviderPagerDuty, ProviderGeneric:
	default:
		return adapter.ErrInvalidConfig{Field: "provider", Reason: fmt.Sprintf("unknown provider %q", c.Provider)}
	}
	return nil
}

// Adapter is the webhook source adapter.
type Adapter struct {
	*adapter.Base
	config Config

	mu     sync.RWMutex
	server *http.Server
	addr   string
	sink   adapter.Sink
}

// New creates a webhook adapter. The configuration is validated here.
func New(name string, config Config) (*Adapter, error) {
	if config.Provider == "" {
		config.Provider = ProviderGeneric
	}
	if config.SignatureHeader == "" {
		if config.Provider == ProviderGitHub {
			config.SignatureHeader = "X-Hub-Signature-256"
		} else {
			config.SignatureHeader = "X-Signature-256"
		}
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &Adapter{
		Base:   adapter.NewBase(name, event.KindWebhook),
		config: config,
	}, nil
}

// Start binds the listener and begins serving. It returns once the server
// is accepting connections.
func (a *Adapter) Start(ctx context.Context, sink adapter.Sink) error {
	if err := a.SetRunning(true); err != nil {
		return err
	}

	ln, err := net.Listen("tcp", a.config.Addr)
	if err != nil {
		_ = a.SetRunning(false)
		return fmt.Errorf("webhook %s: listen on %s: %w", a.Name(), a.config.Addr, err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc(a.config.Path, a.handle)

	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	a.mu.Lock()
	a.server = server
	a.addr = ln.Addr().String()
	a.sink = sink
	a.mu.Unlock()

	a.Go(sink, func() {
		if serveErr := server.Serve(ln); serveErr != nil && serveErr != http.ErrServerClosed {
			sink.Fault(fmt.Errorf("webhook %s: serve: %w", a.Name(), serveErr))
		}
	})

	a.Logger().Info("webhook listener started", "addr", a.addr, "path", a.config.Path)
	return nil
}

// Stop shuts the listener down gracefully, honoring the context deadline.
func (a *Adapter) Stop(ctx context.Context) error {
	if err := a.SetRunning(false); err != nil {
		return err
	}

	a.mu.Lock()
	server := a.server
	a.server = nil
	a.mu.Unlock()

	if server == nil {
		return nil
	}
	return server.Shutdown(ctx)
}

// Addr returns the resolved listen address, useful when port 0 was
// configured.
func (a *Adapter) Addr() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.addr
}

// handle processes one inbound webhook request. The HTTP caller always gets
// a clean response: 202 once the payload is verified, regardless of what
// downstream handlers later do with the event.
func (a *Adapter) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	defer func() { _ = r.Body.Close() }()

	if a.config.Secret != "" {
		sig := r.Header.Get(a.config.SignatureHeader)
		if !a.verifySignature(body, sig) {
			count := a.AuthFailed()
			a.Logger().Warn("webhook signature rejected",
				"remote", r.RemoteAddr, "consecutive", count)
			http.Error(w, "invalid signature", http.StatusUnauthorized)
			return
		}
		a.AuthOK()
	}

	ev := a.buildEvent(r, body)
	a.Observed()

	// Respond before delivery so the sender's connection is never held
	// open waiting on handlers.
	w.WriteHeader(http.StatusAccepted)

	a.mu.RLock()
	sink := a.sink
	a.mu.RUnlock()
	if sink != nil {
		sink.Emit(ev)
	}
}

// verifySignature checks an HMAC signature with a constant-time compare.
// Both "sha256=<hex>" and "sha1=<hex>" formats are accepted.
func (a *Adapter) verifySignature(body []byte, signature string) bool {
	if signature == "" {
		return false
	}

	var newHash func() hash.Hash
	switch {
	case strings.HasPrefix(signature, "sha256="):
		signature = strings.TrimPrefix(signature, "sha256=")
		newHash = sha256.New
	case strings.HasPrefix(signature, "sha1="):
		signature = strings.TrimPrefix(signature, "sha1=")
		newHash = sha1.New
	default:
		newHash = sha256.New
	}

	expected, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}

	mac := hmac.New(newHash, []byte(a.config.Secret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), expected)
}

// buildEvent classifies the request into an event with subject
// "<provider>/<action>".
func (a *Adapter) buildEvent(r *http.Request, body []byte) event.Event {
	action := r.Header.Get(actionHeaders[a.config.Provider])

	var payload map[string]interface{}
	if err := json.Unmarshal(body, &payload); err != nil {
		// Non-JSON payloads are carried raw.
		payload = map[string]interface{}{"raw": string(body)}
	}

	if action == "" {
		if v, ok := payload["action"].(string); ok {
			action = v
		} else if v, ok := payload["event"].(string); ok {
			action = v
		} else {
			action = "received"
		}
	}

	ev := event.New(event.KindWebhook, a.Name(), string(a.config.Provider)+"/"+action)
	ev.Payload = payload
	ev.Metadata = map[string]interface{}{
		"provider":     string(a.config.Provider),
		"remote_addr":  r.RemoteAddr,
		"content_type": r.Header.Get("Content-Type"),
		"path":         r.URL.Path,
	}
	return ev
}
