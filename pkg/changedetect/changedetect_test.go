package changedetect

import (
	"testing"
)

func TestObserve(t *testing.T) {
	t.Run("first observation is a change", func(t *testing.T) {
		d := NewDetector()
		if !d.Observe("row-1", "abc") {
			t.Error("first observation of a key should report changed")
		}
	})

	t.Run("unchanged digest is suppressed", func(t *testing.T) {
		d := NewDetector()
		d.Observe("row-1", "abc")
		if d.Observe("row-1", "abc") {
			t.Error("second identical observation should not report changed")
		}
	})

	t.Run("changed digest reports change", func(t *testing.T) {
		d := NewDetector()
		d.Observe("row-1", "abc")
		if !d.Observe("row-1", "def") {
			t.Error("new digest for known key should report changed")
		}
	})

	t.Run("keys are independent", func(t *testing.T) {
		d := NewDetector()
		d.Observe("row-1", "abc")
		if !d.Observe("row-2", "abc") {
			t.Error("unseen key should report changed regardless of digest")
		}
	})
}

func TestForget(t *testing.T) {
	d := NewDetector()
	d.Observe("row-1", "abc")
	d.Forget("row-1")
	if !d.Observe("row-1", "abc") {
		t.Error("forgotten key should report changed on next observation")
	}
}

func TestKeys(t *testing.T) {
	d := NewDetector()
	d.Observe("a", "1")
	d.Observe("b", "2")
	keys := d.Keys()
	if keys.Size() != 2 || !keys.Contains("a") || !keys.Contains("b") {
		t.Errorf("unexpected key set: %v", keys.Items())
	}
}

func TestSnapshotRestore(t *testing.T) {
	d := NewDetector()
	d.Observe("row-1", "abc")
	snap := d.Snapshot()

	restored := NewDetector()
	restored.Restore(snap)
	if restored.Observe("row-1", "abc") {
		t.Error("restored state should suppress a previously seen observation")
	}
	if !restored.Observe("row-1", "def") {
		t.Error("restored state should still detect changes")
	}

	// Snapshot is a copy, not a live view.
	snap["row-2"] = "zzz"
	if d.Size() != 1 {
		t.Error("mutating a snapshot must not affect the detector")
	}
}

func TestDigestStable(t *testing.T) {
	a := map[string]interface{}{"id": 1, "name": "web-1", "status": "up"}
	b := map[string]interface{}{"status": "up", "name": "web-1", "id": 1}
	if Digest(a) != Digest(b) {
		t.Error("digest should not depend on map key order")
	}

	c := map[string]interface{}{"id": 1, "name": "web-1", "status": "down"}
	if Digest(a) == Digest(c) {
		t.Error("different values should produce different digests")
	}
}

func TestDigestBytes(t *testing.T) {
	if DigestBytes([]byte("x")) == DigestBytes([]byte("y")) {
		t.Error("different payloads should produce different digests")
	}
	if DigestBytes([]byte("x")) != DigestBytes([]byte("x")) {
		t.Error("equal payloads should produce equal digests")
	}
}
