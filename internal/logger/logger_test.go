package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestConfigureJSONFieldNames(t *testing.T) {
	l := New()
	if err := l.Configure("debug", "json", "stdout", 0); err != nil {
		t.Fatalf("Configure() error = %v", err)
	}
	var buf bytes.Buffer
	l.SetOutput(&buf)

	l.WithComponent("rest").WithEvent("rest_call").WithField("path", "/api/v1/time").Debug("ok")

	var line map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("log line is not json: %v (%q)", err, buf.String())
	}
	for _, key := range []string{"timestamp", "level", "message", "component", "event", "path"} {
		if _, ok := line[key]; !ok {
			t.Fatalf("log line missing %q: %v", key, line)
		}
	}
	if line["event"] != "rest_call" {
		t.Fatalf("event = %v, want rest_call", line["event"])
	}
}

func TestConfigureRejectsUnknownLevelAndFormat(t *testing.T) {
	l := New()
	if err := l.Configure("loud", "json", "stdout", 0); err == nil {
		t.Fatalf("Configure(loud) error = nil, want error")
	}
	if err := l.Configure("info", "xml", "stdout", 0); err == nil {
		t.Fatalf("Configure(xml) error = nil, want error")
	}
}

func TestConfigureFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "core.log")
	l := New()
	if err := l.Configure("info", "text", path, 0); err != nil {
		t.Fatalf("Configure() error = %v", err)
	}
	l.WithComponent("test").Info("written")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "written") {
		t.Fatalf("log file = %q, want message", string(data))
	}
}

func TestNopDiscards(t *testing.T) {
	l := OrNop(nil)
	l.WithComponent("test").Error("dropped")
}
