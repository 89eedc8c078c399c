package core

import (
	"testing"
	"time"
)

func TestParseIntEnv(t *testing.T) {
	const key = "BGSTUDIO_TEST_INT"
	tests := map[string]int{"": 7, "12": 12, " 4 ": 4, "x": 7, "-3": -3}
	for value, want := range tests {
		t.Setenv(key, value)
		if got := ParseIntEnv(key, 7); got != want {
			t.Errorf("ParseIntEnv(%q) = %d, want %d", value, got, want)
		}
	}
}

func TestParseBoolEnv(t *testing.T) {
	const key = "BGSTUDIO_TEST_BOOL"
	tests := map[string]bool{"": true, "false": false, "OFF": false, "yes": true, "0": false, "maybe": true}
	for value, want := range tests {
		t.Setenv(key, value)
		if got := ParseBoolEnv(key, true); got != want {
			t.Errorf("ParseBoolEnv(%q) = %v, want %v", value, got, want)
		}
	}
}

func TestParseDurationEnv(t *testing.T) {
	const key = "BGSTUDIO_TEST_DURATION"
	tests := map[string]time.Duration{
		"":    60 * time.Second,
		"30":  30 * time.Second,
		"2m":  2 * time.Minute,
		"bad": 60 * time.Second,
	}
	for value, want := range tests {
		t.Setenv(key, value)
		if got := ParseDurationEnv(key, 60); got != want {
			t.Errorf("ParseDurationEnv(%q) = %v, want %v", value, got, want)
		}
	}
}

func TestParseMillisEnv(t *testing.T) {
	t.Setenv("BGSTUDIO_TEST_MS", "1500")
	if got := ParseMillisEnv("BGSTUDIO_TEST_MS", 2000); got != 1500*time.Millisecond {
		t.Errorf("ParseMillisEnv() = %v", got)
	}
}

func TestGetEnvOrDefault(t *testing.T) {
	t.Setenv("BGSTUDIO_TEST_STR", "")
	if got := GetEnvOrDefault("BGSTUDIO_TEST_STR", "d"); got != "d" {
		t.Errorf("GetEnvOrDefault() = %q, want d", got)
	}
	t.Setenv("BGSTUDIO_TEST_STR", "v")
	if got := GetEnvOrDefault("BGSTUDIO_TEST_STR", "d"); got != "v" {
		t.Errorf("GetEnvOrDefault() = %q, want v", got)
	}
}
