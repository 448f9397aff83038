package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSetupRenamesFields(t *testing.T) {
	var buf bytes.Buffer
	logger, closer := Setup("poold", "test", WithWriter(&buf))
	defer closer.Close()

	logger.Info("pool operation", "op", "deposit")
	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line: %v (%s)", err, buf.String())
	}
	for _, key := range []string{"timestamp", "severity", "message", "service", "env", "op"} {
		if _, ok := line[key]; !ok {
			t.Fatalf("missing %q in %v", key, line)
		}
	}
	if line["severity"] != "INFO" || line["service"] != "poold" {
		t.Fatalf("unexpected line %v", line)
	}
}

func TestSetupWritesRotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "poold.log")
	var buf bytes.Buffer
	logger, closer := Setup("poold", "", WithWriter(&buf), WithLevel("debug"), WithFile(FileConfig{Path: path, MaxSizeMB: 1}))
	logger.Debug("debug line")
	if err := closer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "debug line") {
		t.Fatalf("expected file sink to receive the line, got %q", data)
	}
}

func TestMaskField(t *testing.T) {
	if got := MaskField("authorization", "Bearer abc"); got.Value.String() != RedactedValue {
		t.Fatalf("expected redaction, got %s", got.Value)
	}
	if got := MaskField("caller", "0xabc"); got.Value.String() != "0xabc" {
		t.Fatalf("expected ordinary key to pass, got %s", got.Value)
	}
	if got := MaskField("token", ""); got.Value.String() != "" {
		t.Fatalf("expected empty value to pass through")
	}
}

func TestSetupMasksSensitiveKeys(t *testing.T) {
	var buf bytes.Buffer
	logger, closer := Setup("poold", "test", WithWriter(&buf))
	defer closer.Close()

	logger.Warn("rejected order", "signatures", []string{"0xdead", "0xbeef"}, "Token", "abc", "order_id", "7")
	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line: %v (%s)", err, buf.String())
	}
	if line["signatures"] != RedactedValue || line["Token"] != RedactedValue {
		t.Fatalf("expected sensitive values masked, got %v", line)
	}
	if line["order_id"] != "7" {
		t.Fatalf("expected order id verbatim, got %v", line["order_id"])
	}
}
