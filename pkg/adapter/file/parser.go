package file

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"encoding/xml"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/abhishekvarshney/goingest/pkg/adapter"
)

// Format selects how watched file content is decoded into event payloads.
type Format string

const (
	// FormatNone emits events without decoding content
	FormatNone Format = ""
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatCSV  Format = "csv"
	FormatXML  Format = "xml"
)

func (f Format) validate() error {
	switch f {
	case FormatNone, FormatJSON, FormatYAML, FormatCSV, FormatXML:
		return nil
	default:
		return adapter.ErrInvalidConfig{Field: "format", Reason: fmt.Sprintf("unknown format %q", f)}
	}
}

// parse decodes file content according to the configured format. The
// returned map becomes the event payload.
func parse(format Format, data []byte) (map[string]interface{}, error) {
	switch format {
	case FormatJSON:
		var doc interface{}
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parse json: %w", err)
		}
		return wrapDoc(doc), nil
	case FormatYAML:
		var doc interface{}
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parse yaml: %w", err)
		}
		return wrapDoc(normalizeYAML(doc)), nil
	case FormatCSV:
		return parseCSV(data)
	case FormatXML:
		return parseXML(data)
	default:
		return nil, nil
	}
}

func wrapDoc(doc interface{}) map[string]interface{} {
	if obj, ok := doc.(map[string]interface{}); ok {
		return obj
	}
	return map[string]interface{}{"content": doc}
}

// normalizeYAML converts map[interface{}]interface{} trees, which yaml.v3
// can still produce for non-string keys, into string-keyed maps.
func normalizeYAML(v interface{}) interface{} {
	switch typed := v.(type) {
	case map[string]interface{}:
		for k, val := range typed {
			typed[k] = normalizeYAML(val)
		}
		return typed
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(typed))
		for k, val := range typed {
			out[fmt.Sprintf("%v", k)] = normalizeYAML(val)
		}
		return out
	case []interface{}:
		for i, item := range typed {
			typed[i] = normalizeYAML(item)
		}
		return typed
	default:
		return v
	}
}

// parseCSV decodes a CSV document with a header row into a list of
// column-keyed records.
func parseCSV(data []byte) (map[string]interface{}, error) {
	reader := csv.NewReader(bytes.NewReader(data))
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}
	if len(rows) == 0 {
		return map[string]interface{}{"records": []interface{}{}}, nil
	}

	header := rows[0]
	records := make([]interface{}, 0, len(rows)-1)
	for _, row := range rows[1:] {
		record := make(map[string]interface{}, len(header))
		for i, col := range header {
			if i < len(row) {
				record[col] = row[i]
			}
		}
		records = append(records, record)
	}
	return map[string]interface{}{"records": records}, nil
}

// xmlNode is a generic XML element used for schema-free decoding.
type xmlNode struct {
	XMLName  xml.Name
	Attrs    []xml.Attr `xml:",any,attr"`
	Content  string     `xml:",chardata"`
	Children []xmlNode  `xml:",any"`
}

func (n xmlNode) toMap() map[string]interface{} {
	out := make(map[string]interface{})
	for _, attr := range n.Attrs {
		out["@"+attr.Name.Local] = attr.Value
	}
	if len(n.Children) == 0 {
		out["#text"] = n.Content
		return out
	}
	for _, child := range n.Children {
		key := child.XMLName.Local
		value := interface{}(child.toMap())
		if existing, ok := out[key]; ok {
			if list, isList := existing.([]interface{}); isList {
				out[key] = append(list, value)
			} else {
				out[key] = []interface{}{existing, value}
			}
		} else {
			out[key] = value
		}
	}
	return out
}

func parseXML(data []byte) (map[string]interface{}, error) {
	var root xmlNode
	if err := xml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("parse xml: %w", err)
	}
	return map[string]interface{}{root.XMLName.Local: root.toMap()}, nil
}
