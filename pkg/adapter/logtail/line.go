package logtail

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"

	"github.com/abhishekvarshney/goingest/pkg/adapter"
)

// LineFormat selects how appended lines are parsed.
type LineFormat string

const (
	// FormatNone passes lines through as {"message": line}.
	FormatNone LineFormat = ""

	// FormatJSON parses each line as a JSON object.
	FormatJSON LineFormat = "json"

	// FormatSyslog parses classic BSD syslog lines.
	FormatSyslog LineFormat = "syslog"

	// FormatRegex parses lines with a custom pattern; named capture
	// groups become payload fields.
	FormatRegex LineFormat = "regex"
)

// syslogLine matches the RFC 3164 format:
// <PRI>MMM dd HH:MM:SS host program[pid]: message
var syslogLine = regexp.MustCompile(
	`^(?:<(\d+)>)?([A-Z][a-z]{2}\s+\d{1,2}\s+\d{2}:\d{2}:\d{2})\s+(\S+)\s+([^:\[\s]+)(?:\[(\d+)\])?:\s*(.*)$`)

// lineParser turns one raw line into a payload document. A nil document
// with nil error means the line did not match and should be skipped.
type lineParser func(line string) (map[string]interface{}, error)

func newLineParser(format LineFormat, pattern string) (lineParser, error) {
	switch format {
	case FormatNone:
		return func(line string) (map[string]interface{}, error) {
			return map[string]interface{}{"message": line}, nil
		}, nil

	case FormatJSON:
		return func(line string) (map[string]interface{}, error) {
			var doc map[string]interface{}
			if err := json.Unmarshal([]byte(line), &doc); err != nil {
				return nil, fmt.Errorf("parse json line: %w", err)
			}
			return doc, nil
		}, nil

	case FormatSyslog:
		return parseSyslog, nil

	case FormatRegex:
		if pattern == "" {
			return nil, adapter.ErrInvalidConfig{Field: "line_pattern", Reason: "regex format requires a pattern"}
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, adapter.ErrInvalidConfig{Field: "line_pattern", Reason: err.Error()}
		}
		names := re.SubexpNames()
		return func(line string) (map[string]interface{}, error) {
			m := re.FindStringSubmatch(line)
			if m == nil {
				return nil, nil
			}
			doc := map[string]interface{}{"message": line}
			for i, name := range names {
				if i == 0 || name == "" {
					continue
				}
				doc[name] = m[i]
			}
			return doc, nil
		}, nil

	default:
		return nil, adapter.ErrInvalidConfig{Field: "format", Reason: fmt.Sprintf("unknown line format %q", format)}
	}
}

func parseSyslog(line string) (map[string]interface{}, error) {
	m := syslogLine.FindStringSubmatch(line)
	if m == nil {
		return nil, fmt.Errorf("line does not match syslog format")
	}
	doc := map[string]interface{}{
		"timestamp": m[2],
		"host":      m[3],
		"program":   m[4],
		"message":   m[6],
	}
	if m[1] != "" {
		pri, _ := strconv.Atoi(m[1])
		doc["facility"] = pri / 8
		doc["severity"] = pri % 8
	}
	if m[5] != "" {
		pid, _ := strconv.Atoi(m[5])
		doc["pid"] = pid
	}
	return doc, nil
}
