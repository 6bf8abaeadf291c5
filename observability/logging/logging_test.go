package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestSetupEmitsRenamedKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := setup(&buf, "escrowd", "test", slog.LevelInfo)
	logger.Info("instruction committed", "type", "deposit")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	for key, want := range map[string]string{"message": "instruction committed", "severity": "INFO", "service": "escrowd", "env": "test", "type": "deposit"} {
		if line[key] != want {
			t.Fatalf("%s = %v, want %s", key, line[key], want)
		}
	}
	if _, ok := line["timestamp"]; !ok {
		t.Fatalf("missing timestamp")
	}
}

func TestSetupHonoursLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := setup(&buf, "escrowd", "", ParseLevel("warn"))
	logger.Info("dropped")
	if buf.Len() != 0 {
		t.Fatalf("info line should be filtered at warn level: %s", buf.String())
	}
	logger.Warn("kept")
	if buf.Len() == 0 {
		t.Fatalf("warn line missing")
	}
}

func TestMaskField(t *testing.T) {
	if got := MaskField("passphrase", "hunter2"); got.Value.String() != RedactedValue {
		t.Fatalf("passphrase not masked: %v", got)
	}
	if got := MaskField("contract", "tseec1abc"); got.Value.String() != "tseec1abc" {
		t.Fatalf("allowlisted key masked: %v", got)
	}
	if got := MaskField("passphrase", "  "); got.Value.String() != "  " {
		t.Fatalf("blank value should pass through")
	}
}
