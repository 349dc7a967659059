package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestNew_JSONFormatAndLevel(t *testing.T) {
	t.Parallel()

	var buffer bytes.Buffer
	logger, err := New(Options{App: "kindopsd", Level: "warn", Format: "json", Out: &buffer})
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	logger.Info().Msg("hidden")
	logger.Warn().Str("cluster", "demo").Msg("visible")

	lines := strings.Split(strings.TrimSpace(buffer.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected one line above warn level, got %q", buffer.String())
	}
	record := map[string]any{}
	if decodeError := json.Unmarshal([]byte(lines[0]), &record); decodeError != nil {
		t.Fatalf("expected JSON output, got %q", lines[0])
	}
	if record["app"] != "kindopsd" || record["cluster"] != "demo" || record["message"] != "visible" {
		t.Fatalf("unexpected record %v", record)
	}
}

func TestNew_ConsoleIsDefault(t *testing.T) {
	t.Parallel()

	var buffer bytes.Buffer
	logger, err := New(Options{Out: &buffer})
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	logger.Info().Msg("hello")
	if strings.HasPrefix(strings.TrimSpace(buffer.String()), "{") {
		t.Fatalf("expected console output, got %q", buffer.String())
	}
	if !strings.Contains(buffer.String(), "hello") {
		t.Fatalf("missing message in %q", buffer.String())
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	if level, err := ParseLevel(""); err != nil || level != zerolog.InfoLevel {
		t.Fatalf("expected info default, got %v %v", level, err)
	}
	if level, err := ParseLevel("DEBUG"); err != nil || level != zerolog.DebugLevel {
		t.Fatalf("expected debug, got %v %v", level, err)
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Fatalf("expected unknown level to fail")
	}
	if _, err := New(Options{Format: "xml"}); err == nil {
		t.Fatalf("expected unknown format to fail")
	}
}
