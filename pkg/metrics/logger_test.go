package metrics

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestLoggerLevels(t *testing.T) {
	tests := []struct {
		level    Level
		expected string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{LevelSilent, "SILENT"},
		{Level(42), "UNKNOWN"},
	}

	for _, tt := range tests {
		if tt.level.String() != tt.expected {
			t.Errorf("expected %q, got %q", tt.expected, tt.level.String())
		}
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected Level
	}{
		{"DEBUG", LevelDebug},
		{"debug", LevelDebug},
		{"INFO", LevelInfo},
		{"WARN", LevelWarn},
		{"WARNING", LevelWarn},
		{"ERROR", LevelError},
		{"SILENT", LevelSilent},
		{"OFF", LevelSilent},
		{"invalid", LevelInfo},
	}

	for _, tt := range tests {
		if result := ParseLevel(tt.input); result != tt.expected {
			t.Errorf("ParseLevel(%q) = %v, expected %v", tt.input, result, tt.expected)
		}
	}
}

func TestLoggerTextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := TestLogger(&buf).Named("handshake").Named("client")

	logger.Info("handshake completed", Fields{"cipher_suite": "TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256"})

	output := buf.String()
	for _, want := range []string{"INFO", "[handshake.client]", "handshake completed", "cipher_suite=TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256"} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in %q", want, output)
		}
	}
}

func TestLoggerJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(
		WithOutput(&buf),
		WithLevel(LevelDebug),
		WithFormat(FormatJSON),
		WithName("handshake.server"),
	)

	logger.Warn("alert sent", Fields{
		"alert":    "handshake_failure",
		"dtls":     true,
		"version":  uint16(0x0303),
		"duration": 1500 * time.Millisecond,
		"error":    errors.New("no shared cipher suite"),
	})

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse JSON %q: %v", buf.String(), err)
	}

	checks := map[string]interface{}{
		"level":    "WARN",
		"msg":      "alert sent",
		"logger":   "handshake.server",
		"alert":    "handshake_failure",
		"dtls":     true,
		"version":  float64(0x0303),
		"duration": "1.5s",
		"error":    "no shared cipher suite",
	}
	for k, want := range checks {
		if entry[k] != want {
			t.Errorf("%s = %v, want %v", k, entry[k], want)
		}
	}
	if _, ok := entry["time"]; !ok {
		t.Error("expected time field")
	}
}

func TestLoggerRedactsSecrets(t *testing.T) {
	for _, format := range []Format{FormatText, FormatJSON} {
		var buf bytes.Buffer
		logger := NewLogger(WithOutput(&buf), WithFormat(format)).With(Fields{"master_secret": "00112233"})

		logger.Info("keys derived", Fields{"PSK": "hunter2", "premaster": []byte{1, 2, 3}, "cipher_suite": "x"})

		out := buf.String()
		if strings.Contains(out, "00112233") || strings.Contains(out, "hunter2") || strings.Contains(out, "[1 2 3]") {
			t.Errorf("secret written: %s", out)
		}
		if strings.Count(out, Redacted) != 3 {
			t.Errorf("expected three redacted fields: %s", out)
		}
	}
}

func TestLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(WithOutput(&buf), WithLevel(LevelWarn))

	logger.Debug("debug message")
	logger.Info("info message")
	logger.Warn("warn message")
	logger.Error("error message")

	output := buf.String()
	if strings.Contains(output, "debug message") || strings.Contains(output, "info message") {
		t.Error("messages below the level should be filtered")
	}
	if !strings.Contains(output, "warn message") || !strings.Contains(output, "error message") {
		t.Error("messages at or above the level should be present")
	}
	if logger.Enabled(LevelInfo) || !logger.Enabled(LevelError) {
		t.Error("Enabled disagrees with the level")
	}
}

func TestNullLogger(t *testing.T) {
	logger := NullLogger()
	if logger.Enabled(LevelError) {
		t.Error("null logger should not be enabled")
	}
	logger.Error("discarded")
}

func TestLoggerWith(t *testing.T) {
	var buf bytes.Buffer
	base := TestLogger(&buf).With(Fields{"role": "server"})
	child := base.With(Fields{"dtls": true})

	base.Info("base")
	if strings.Contains(buf.String(), "dtls") {
		t.Error("With modified the parent logger")
	}
	buf.Reset()

	child.Info("child", Fields{"role": "client"})
	output := buf.String()
	if !strings.Contains(output, "dtls=true") || !strings.Contains(output, "role=client") {
		t.Errorf("expected merged fields with call fields winning: %s", output)
	}
}

func TestLoggerTextFieldOrder(t *testing.T) {
	var buf bytes.Buffer
	logger := TestLogger(&buf)

	logger.Info("msg", Fields{"z": 1, "a": 2, "m": 3})

	output := buf.String()
	if !(strings.Index(output, "a=2") < strings.Index(output, "m=3") && strings.Index(output, "m=3") < strings.Index(output, "z=1")) {
		t.Errorf("fields not sorted: %s", output)
	}
}

func TestLoggerConcurrentWrites(t *testing.T) {
	var buf bytes.Buffer
	logger := ProductionLogger(&buf)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			named := logger.Named("worker")
			for j := 0; j < 50; j++ {
				named.Info("tick", Fields{"j": j})
			}
		}()
	}
	wg.Wait()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 400 {
		t.Fatalf("expected 400 lines, got %d", len(lines))
	}
	for _, line := range lines {
		if !json.Valid([]byte(line)) {
			t.Fatalf("interleaved output: %q", line)
		}
	}
}

func TestGlobalLogger(t *testing.T) {
	orig := GetLogger()
	defer SetLogger(orig)

	var buf bytes.Buffer
	SetLogger(TestLogger(&buf))
	GetLogger().Info("global")
	if !strings.Contains(buf.String(), "global") {
		t.Error("global logger not replaced")
	}
}
