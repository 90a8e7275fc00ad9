package binding

import (
	"path"
	"strings"

	"github.com/abhishekvarshney/goingest/pkg/event"
)

// Each event kind uses a kind-appropriate pattern grammar:
//
//   - file and log events match their subject (a filename-like field) with
//     glob patterns such as "*.yaml";
//   - every other kind matches hierarchical "/"-separated topics, where a
//     "*" segment matches exactly one segment and a trailing "*" matches
//     the remainder ("github/*" matches "github/push" but not
//     "gitlab/push");
//   - a bare "*" matches every subject of the kind;
//   - a pattern without wildcards is an exact string comparison.

type matchFunc func(pattern, subject string) bool

func matcherFor(kind event.Kind) matchFunc {
	switch kind {
	case event.KindFile, event.KindLog:
		return matchGlob
	default:
		return matchTopic
	}
}

// validatePattern rejects patterns that cannot parse under the grammar of
// the given kind. Called at registration time so dispatch never sees a bad
// pattern.
func validatePattern(kind event.Kind, pattern string) error {
	if pattern == "" {
		return ErrInvalidPattern
	}
	switch kind {
	case event.KindFile, event.KindLog:
		if _, err := path.Match(pattern, "probe"); err != nil {
			return ErrInvalidPattern
		}
	default:
		for _, seg := range strings.Split(pattern, "/") {
			if seg == "" {
				return ErrInvalidPattern
			}
		}
	}
	return nil
}

func matchGlob(pattern, subject string) bool {
	ok, err := path.Match(pattern, subject)
	return err == nil && ok
}

func matchTopic(pattern, subject string) bool {
	if pattern == "*" {
		return true
	}
	if !strings.ContainsRune(pattern, '*') {
		return pattern == subject
	}

	pSegs := strings.Split(pattern, "/")
	sSegs := strings.Split(subject, "/")

	for i, seg := range pSegs {
		// A trailing "*" consumes the rest of the subject.
		if seg == "*" && i == len(pSegs)-1 {
			return len(sSegs) >= i+1
		}
		if i >= len(sSegs) {
			return false
		}
		if seg != "*" && seg != sSegs[i] {
			return false
		}
	}
	return len(pSegs) == len(sSegs)
}
