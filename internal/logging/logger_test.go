package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"debug", LevelDebug},
		{"DEBUG", LevelDebug},
		{"warn", LevelWarn},
		{"warning", LevelWarn},
		{"error", LevelError},
		{"info", LevelInfo},
		{"", LevelInfo},
		{"verbose", LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := ParseLevel(tt.in); got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestLogger_WritesJSONWithFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(LevelInfo, &buf)

	logger.Info("fetched channel", WithField("platform", "youtube"), WithFields(map[string]interface{}{
		"count": 3,
	}))

	var line map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("output is not JSON: %v (%q)", err, buf.String())
	}
	if line["msg"] != "fetched channel" {
		t.Errorf("msg = %v, want %q", line["msg"], "fetched channel")
	}
	if line["platform"] != "youtube" {
		t.Errorf("platform = %v, want youtube", line["platform"])
	}
	if line["count"] != float64(3) {
		t.Errorf("count = %v, want 3", line["count"])
	}
}

func TestLogger_RespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(LevelWarn, &buf)

	logger.Debug("hidden")
	logger.Info("hidden")
	if buf.Len() != 0 {
		t.Fatalf("expected no output below warn, got %q", buf.String())
	}

	logger.Warn("shown")
	if !strings.Contains(buf.String(), "shown") {
		t.Errorf("expected warn line, got %q", buf.String())
	}
}

func TestLogger_ErrorValuesAreStringified(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(LevelInfo, &buf)

	logger.Error("upstream failed", WithField("error", errors.New("boom")))

	if !strings.Contains(buf.String(), `"error":"boom"`) {
		t.Errorf("expected stringified error, got %q", buf.String())
	}
}

func TestLogger_With(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(LevelInfo, &buf).With(WithField("component", "aggregator"))

	logger.Info("done")

	if !strings.Contains(buf.String(), `"component":"aggregator"`) {
		t.Errorf("expected inherited field, got %q", buf.String())
	}
}
