// Copyright (C) 2026 Engram Labs (dev@engramlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := []struct {
		in   string
		want Level
	}{
		{"debug", LevelDebug},
		{"DEBUG", LevelDebug},
		{"info", LevelInfo},
		{"warn", LevelWarn},
		{"warning", LevelWarn},
		{"error", LevelError},
		{"", LevelInfo},
		{"bogus", LevelInfo},
		{"  debug  ", LevelDebug},
	}
	for _, tc := range cases {
		if got := ParseLevel(tc.in); got != tc.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestLevelString(t *testing.T) {
	if LevelDebug.String() != "debug" || LevelError.String() != "error" {
		t.Errorf("unexpected level names: %s %s", LevelDebug, LevelError)
	}
}

func TestNewQuietNeverNil(t *testing.T) {
	lg, err := New(Config{Quiet: true})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	// Must not panic even though no visible handler is installed.
	lg.Debug("a")
	lg.Info("b", "key", "value")
	lg.Warn("c")
	lg.Error("d")
	if err := lg.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestFileLoggingWritesJSON(t *testing.T) {
	dir := t.TempDir()
	lg, err := New(Config{Service: "engram-test", LogDir: dir, Quiet: true})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	lg.Info("hello", "session", "abc123")
	if err := lg.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "engram-test.log"))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	line := strings.TrimSpace(string(data))
	var record map[string]any
	if err := json.Unmarshal([]byte(line), &record); err != nil {
		t.Fatalf("log line is not JSON: %v\n%s", err, line)
	}
	if record["msg"] != "hello" {
		t.Errorf("msg = %v, want hello", record["msg"])
	}
	if record["session"] != "abc123" {
		t.Errorf("session = %v, want abc123", record["session"])
	}
	if record["service"] != "engram-test" {
		t.Errorf("service = %v, want engram-test", record["service"])
	}
}

func TestFileLoggingRespectsLevel(t *testing.T) {
	dir := t.TempDir()
	lg, err := New(Config{Service: "lvl", LogDir: dir, Quiet: true, Level: LevelWarn})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	lg.Info("dropped")
	lg.Warn("kept")
	_ = lg.Close()

	data, err := os.ReadFile(filepath.Join(dir, "lvl.log"))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	out := string(data)
	if strings.Contains(out, "dropped") {
		t.Error("info record emitted at warn level")
	}
	if !strings.Contains(out, "kept") {
		t.Error("warn record missing")
	}
}

func TestWithAddsAttrs(t *testing.T) {
	dir := t.TempDir()
	lg, err := New(Config{Service: "attrs", LogDir: dir, Quiet: true})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	lg.With("project", "engram").Info("tagged")
	_ = lg.Close()

	data, err := os.ReadFile(filepath.Join(dir, "attrs.log"))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), `"project":"engram"`) {
		t.Errorf("With attribute missing from record: %s", data)
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	if got := expandPath("~/logs"); got != filepath.Join(home, "logs") {
		t.Errorf("expandPath(~/logs) = %s", got)
	}
	if got := expandPath("/var/log"); got != "/var/log" {
		t.Errorf("expandPath(/var/log) = %s", got)
	}
}
