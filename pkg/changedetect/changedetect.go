// Package changedetect decides whether a newly observed record, row, file
// or response is new or unchanged, so that polling adapters do not re-emit
// stale data. Each adapter owns at most one Detector; state lives in memory
// for the lifetime of the adapter instance.
package changedetect

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/abhishekvarshney/goingest/pkg/set"
)

// Detector records the last-seen digest for every tracked key.
type Detector struct {
	mu   sync.Mutex
	seen map[string]string
}

// NewDetector creates an empty detector.
func NewDetector() *Detector {
	return &Detector{
		seen: make(map[string]string),
	}
}

// Observe records the digest for key and reports whether the observation is
// new or changed relative to the previous one. The first observation of a
// key always reports true.
func (d *Detector) Observe(key, digest string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	prev, ok := d.seen[key]
	d.seen[key] = digest
	return !ok || prev != digest
}

// Forget removes a key from the tracked state.
func (d *Detector) Forget(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, key)
}

// Keys returns the set of currently tracked keys.
func (d *Detector) Keys() *set.Set {
	d.mu.Lock()
	defer d.mu.Unlock()

	keys := set.New()
	for k := range d.seen {
		keys.Add(k)
	}
	return keys
}

// Size returns the number of tracked keys.
func (d *Detector) Size() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}

// Snapshot returns a copy of the tracked state, for adapters that want to
// carry change state across a restart.
func (d *Detector) Snapshot() map[string]string {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make(map[string]string, len(d.seen))
	for k, v := range d.seen {
		out[k] = v
	}
	return out
}

// Restore replaces the tracked state with a previously taken snapshot.
func (d *Detector) Restore(state map[string]string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.seen = make(map[string]string, len(state))
	for k, v := range state {
		d.seen[k] = v
	}
}

// Digest computes a stable hex digest of an arbitrary decoded value.
// Map keys are sorted by the JSON encoder, so semantically equal documents
// produce equal digests.
func Digest(v interface{}) string {
	data, err := json.Marshal(v)
	if err != nil {
		// Fall back to the fmt representation for unmarshalable values.
		data = []byte(fmt.Sprintf("%#v", v))
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// DigestBytes computes the hex digest of a raw byte payload.
func DigestBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// FileIdentity returns a digest describing a file's current identity
// (size and modification time), used to detect file changes without
// reading content.
func FileIdentity(info os.FileInfo) string {
	return fmt.Sprintf("%d:%d", info.Size(), info.ModTime().UnixNano())
}
