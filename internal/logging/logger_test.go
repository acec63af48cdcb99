/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"strings"
	"testing"
)

func TestLevelString(t *testing.T) {
	tests := []struct {
		level    Level
		expected string
	}{
		{DEBUG, "DEBUG"},
		{INFO, "INFO"},
		{WARN, "WARN"},
		{ERROR, "ERROR"},
		{Level(99), "UNKNOWN"},
	}

	for _, tt := range tests {
		if got := tt.level.String(); got != tt.expected {
			t.Errorf("Level(%d).String() = %s, want %s", tt.level, got, tt.expected)
		}
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected Level
	}{
		{"DEBUG", DEBUG},
		{"debug", DEBUG},
		{"INFO", INFO},
		{"Warn", WARN},
		{"WARNING", WARN},
		{"error", ERROR},
		{"unknown", INFO},
	}

	for _, tt := range tests {
		if got := ParseLevel(tt.input); got != tt.expected {
			t.Errorf("ParseLevel(%s) = %d, want %d", tt.input, got, tt.expected)
		}
	}
}

func captureOutput(t *testing.T, level Level, jsonMode bool) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	Configure(Config{Level: level, Output: &buf, JSONMode: jsonMode})
	t.Cleanup(func() { Configure(Config{Level: INFO}) })
	return &buf
}

func TestLoggerOutput(t *testing.T) {
	buf := captureOutput(t, DEBUG, false)

	logger := NewLogger("storage")
	logger.Info("test message", "key", "value")

	output := buf.String()
	for _, want := range []string{"test message", "storage", "INFO", `"key"`, `"value"`} {
		if !strings.Contains(output, want) {
			t.Errorf("Expected output to contain %s, got: %s", want, output)
		}
	}
}

func TestLoggerJSONMode(t *testing.T) {
	buf := captureOutput(t, INFO, true)

	NewLogger("system").With("stream", 1).Warn("slow flush", "ms", 120)

	var entry map[string]interface{}
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("Output is not JSON: %v (%s)", err, buf.String())
	}
	if entry["component"] != "system" || entry["msg"] != "slow flush" {
		t.Errorf("Unexpected entry: %v", entry)
	}
	if entry["stream"] != float64(1) || entry["ms"] != float64(120) {
		t.Errorf("Expected stream and ms fields, got %v", entry)
	}
}

func TestLoggerLevelFiltering(t *testing.T) {
	buf := captureOutput(t, WARN, false)

	logger := NewLogger("test")
	logger.Debug("debug message")
	logger.Info("info message")
	logger.Warn("warn message")
	logger.Error("error message")

	output := buf.String()
	if strings.Contains(output, "debug message") {
		t.Error("Debug message should be filtered")
	}
	if strings.Contains(output, "info message") {
		t.Error("Info message should be filtered")
	}
	if !strings.Contains(output, "warn message") {
		t.Error("Warn message should be present")
	}
	if !strings.Contains(output, "error message") {
		t.Error("Error message should be present")
	}
}

func TestExistingLoggerFollowsGlobalChanges(t *testing.T) {
	logger := NewLogger("early")

	buf := captureOutput(t, INFO, false)
	logger.Info("after reconfigure")
	if !strings.Contains(buf.String(), "after reconfigure") {
		t.Errorf("Expected logger created before Configure to use the new output, got: %s", buf.String())
	}

	SetGlobalLevel(ERROR)
	logger.Info("filtered")
	if strings.Contains(buf.String(), "filtered") {
		t.Error("Expected level change to apply to existing logger")
	}
	SetGlobalOutput(os.Stdout)
}
