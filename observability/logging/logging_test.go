package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSetupEmitsStructuredJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := SetupWithOptions("vaultd", "test", Options{Writer: &buf, Level: "debug"})
	logger.Debug("hello", "op", "deposit", MaskField("jwtSecret", "s3cret"))

	var line map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	if line["message"] != "hello" || line["severity"] != "DEBUG" || line["service"] != "vaultd" || line["env"] != "test" {
		t.Fatalf("unexpected log line %v", line)
	}
	if line["jwtSecret"] != RedactedValue {
		t.Fatalf("secret not masked: %v", line["jwtSecret"])
	}
	if _, ok := line["timestamp"]; !ok {
		t.Fatalf("timestamp key missing")
	}
}

func TestLevelFiltersDebug(t *testing.T) {
	var buf bytes.Buffer
	logger := SetupWithOptions("vaultd", "", Options{Writer: &buf})
	logger.Debug("hidden")
	if buf.Len() != 0 {
		t.Fatalf("debug line written at info level: %s", buf.String())
	}
}

func TestRotatingFileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vaultd.log")
	logger := SetupWithOptions("vaultd", "", Options{File: path, MaxSizeMB: 1})
	logger.Info("to file")
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(raw), "to file") {
		t.Fatalf("log file missing line: %s", raw)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))
}

func TestMaskValue(t *testing.T) {
	if MaskValue("") != "" || MaskValue("x") != RedactedValue {
		t.Fatalf("unexpected masking")
	}
	if MaskField("error", "boom").Value.String() != "boom" {
		t.Fatalf("allowlisted key must not be masked")
	}
	for _, key := range []string{"jwt_secret", "rpc.jwt_secret", "webhook_secret", "headers"} {
		if got := MaskField(key, "s3cret").Value.String(); got != RedactedValue {
			t.Fatalf("%s not masked: %q", key, got)
		}
	}
	if got := MaskField("jwt_secret", "").Value.String(); got != "" {
		t.Fatalf("unset secret must stay empty, got %q", got)
	}
	if !IsAllowlisted("RPC.Listen") {
		t.Fatalf("section prefix and case must not matter")
	}
}

func TestMaskURL(t *testing.T) {
	cases := map[string]string{
		"":                                      "",
		"https://hooks.example.com/vault":       "https://hooks.example.com/vault",
		"https://gas.example.com/v1?apikey=abc": "https://gas.example.com/v1?redacted",
		"https://user:pw@node.example.com:8545": "https://redacted@node.example.com:8545",
		"not a url":                             RedactedValue,
	}
	for raw, want := range cases {
		if got := MaskURL("url", raw).Value.String(); got != want {
			t.Fatalf("MaskURL(%q) = %q, want %q", raw, got, want)
		}
	}
}
