package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestConfigureJSONWithSubsystem(t *testing.T) {
	var buf bytes.Buffer

	logger := Configure(Options{
		Subsystem: "orchestration",
		JSON:      true,
		Output:    &buf,
	})

	logger.Info("hello", "key", "value")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}

	if record["subsystem"] != "orchestration" {
		t.Errorf("expected subsystem attribute, got %v", record["subsystem"])
	}

	if record["key"] != "value" {
		t.Errorf("expected key attribute, got %v", record["key"])
	}
}

func TestConfigureMinLevelFilters(t *testing.T) {
	var buf bytes.Buffer

	logger := Configure(Options{
		MinLevel: slog.LevelWarn,
		Output:   &buf,
	})

	logger.Info("suppressed")
	logger.Warn("visible")

	out := buf.String()

	if strings.Contains(out, "suppressed") {
		t.Error("info record should have been filtered")
	}

	if !strings.Contains(out, "visible") {
		t.Error("warn record should have been logged")
	}
}
