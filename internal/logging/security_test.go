// Danmuhive - Danmaku Aggregation and Playback Compatibility Server
// Copyright 2026 Kotodama Lab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kotodama-lab/danmuhive

package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestSanitizeToken(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"", "***"},
		{"ab", "***"},
		{"abcd", "***"},
		{"abcdef123456", "abcd***"},
	}
	for _, tt := range tests {
		if got := SanitizeToken(tt.input); got != tt.want {
			t.Errorf("SanitizeToken(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestSanitizeUsername(t *testing.T) {
	if got := SanitizeUsername("admin"); got != "a****" {
		t.Errorf("SanitizeUsername(admin) = %q, want a****", got)
	}
	if got := SanitizeUsername(""); got != "" {
		t.Errorf("SanitizeUsername(empty) = %q, want empty", got)
	}
	if got := SanitizeUsername("x"); got != "*" {
		t.Errorf("SanitizeUsername(x) = %q, want *", got)
	}
}

func TestTruncateString(t *testing.T) {
	long := strings.Repeat("a", 150)
	got := truncateString(long, 100)
	if len(got) != 100 || !strings.HasSuffix(got, "...") {
		t.Errorf("truncateString length = %d, suffix ok = %v", len(got), strings.HasSuffix(got, "..."))
	}
	if got := truncateString("short", 100); got != "short" {
		t.Errorf("short string should pass through, got %q", got)
	}
}

func TestSecurityLoggerLoginEvents(t *testing.T) {
	var buf bytes.Buffer
	sl := NewSecurityLoggerWithLogger(NewTestLogger(&buf))

	sl.LogLoginSuccess("admin", "203.0.113.5", "curl/8.0")
	sl.LogLoginFailure("admin", "203.0.113.5", "curl/8.0", "bad password")

	out := buf.String()
	if !strings.Contains(out, `"event":"login_success"`) {
		t.Errorf("login_success event missing: %q", out)
	}
	if !strings.Contains(out, `"event":"login_failure"`) {
		t.Errorf("login_failure event missing: %q", out)
	}
	if strings.Contains(out, `"username":"admin"`) {
		t.Error("raw username must not appear in security log")
	}
	if !strings.Contains(out, `"error":"bad password"`) {
		t.Errorf("failure reason missing: %q", out)
	}
}

func TestSecurityLoggerTokenRejected(t *testing.T) {
	var buf bytes.Buffer
	sl := NewSecurityLoggerWithLogger(NewTestLogger(&buf))

	sl.LogTokenRejected("secrettoken123", "198.51.100.7", "player/1.0", "expired")

	out := buf.String()
	if !strings.Contains(out, `"event":"token_rejected"`) {
		t.Errorf("token_rejected event missing: %q", out)
	}
	if strings.Contains(out, "secrettoken123") {
		t.Error("raw token must not appear in security log")
	}
	if !strings.Contains(out, `"token":"secr***"`) {
		t.Errorf("sanitized token missing: %q", out)
	}
}
