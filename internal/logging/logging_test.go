package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestNewAppliesLevelAndComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := Component(New(Config{Level: "warn"}, &buf), "sampler")

	logger.Info().Msg("dropped")
	logger.Warn().Msg("kept")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("want 1 line, got %q", buf.String())
	}
	var entry map[string]interface{}
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if entry["component"] != "sampler" || entry["message"] != "kept" {
		t.Fatalf("entry = %v", entry)
	}
}

func TestNewDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: "bogus"}, &buf)
	logger.Debug().Msg("hidden")
	logger.Info().Msg("shown")
	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), "shown") {
		t.Fatalf("output = %q", buf.String())
	}
}
