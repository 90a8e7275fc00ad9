package file

import (
	"testing"
)

func TestParseJSON(t *testing.T) {
	payload, err := parse(FormatJSON, []byte(`{"name":"web","port":8080}`))
	if err != nil {
		t.Fatal(err)
	}
	if payload["name"] != "web" {
		t.Errorf("unexpected payload: %v", payload)
	}

	// Non-object documents are wrapped.
	payload, err = parse(FormatJSON, []byte(`[1,2,3]`))
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := payload["content"]; !ok {
		t.Errorf("array document should be wrapped under content, got %v", payload)
	}

	if _, err := parse(FormatJSON, []byte("{broken")); err == nil {
		t.Error("malformed json should fail")
	}
}

func TestParseYAML(t *testing.T) {
	payload, err := parse(FormatYAML, []byte("service:\n  name: web\n  port: 8080\n"))
	if err != nil {
		t.Fatal(err)
	}
	service, ok := payload["service"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected nested map, got %T", payload["service"])
	}
	if service["name"] != "web" {
		t.Errorf("unexpected service: %v", service)
	}

	if _, err := parse(FormatYAML, []byte(":\tbroken\n :")); err == nil {
		t.Error("malformed yaml should fail")
	}
}

func TestParseCSV(t *testing.T) {
	payload, err := parse(FormatCSV, []byte("host,status\nweb-1,up\nweb-2,down\n"))
	if err != nil {
		t.Fatal(err)
	}
	records, ok := payload["records"].([]interface{})
	if !ok || len(records) != 2 {
		t.Fatalf("expected 2 records, got %v", payload["records"])
	}
	first := records[0].(map[string]interface{})
	if first["host"] != "web-1" || first["status"] != "up" {
		t.Errorf("unexpected first record: %v", first)
	}
}

func TestParseXML(t *testing.T) {
	payload, err := parse(FormatXML, []byte(`<deploy env="prod"><service>web</service><service>api</service></deploy>`))
	if err != nil {
		t.Fatal(err)
	}
	deploy, ok := payload["deploy"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected deploy element, got %v", payload)
	}
	if deploy["@env"] != "prod" {
		t.Errorf("attribute not decoded: %v", deploy)
	}
	services, ok := deploy["service"].([]interface{})
	if !ok || len(services) != 2 {
		t.Errorf("repeated elements should collect into a list, got %v", deploy["service"])
	}

	if _, err := parse(FormatXML, []byte("<broken")); err == nil {
		t.Error("malformed xml should fail")
	}
}

func TestParseNone(t *testing.T) {
	payload, err := parse(FormatNone, []byte("anything"))
	if err != nil || payload != nil {
		t.Errorf("no-format parse should be a no-op, got %v/%v", payload, err)
	}
}
