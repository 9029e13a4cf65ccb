package core

import (
	"testing"
	"time"
)

func TestParseBoolEnv(t *testing.T) {
	const testKey = "TEST_PARSE_BOOL_ENV"

	tests := []struct {
		name         string
		envValue     string
		defaultValue bool
		want         bool
	}{
		{"true", "true", false, true},
		{"uppercase yes", "YES", false, true},
		{"one", "1", false, true},
		{"off", "off", true, false},
		{"zero", "0", true, false},
		{"garbage keeps default", "maybe", true, true},
		{"empty keeps default", "", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(testKey, tt.envValue)
			if got := ParseBoolEnv(testKey, tt.defaultValue); got != tt.want {
				t.Errorf("ParseBoolEnv(%q) = %v, want %v", tt.envValue, got, tt.want)
			}
		})
	}
}

func TestParseIntEnv(t *testing.T) {
	const testKey = "TEST_PARSE_INT_ENV"

	tests := []struct {
		name     string
		envValue string
		want     int
	}{
		{"valid", "42", 42},
		{"negative", "-10", -10},
		{"whitespace", " 7 ", 7},
		{"invalid", "abc", 5},
		{"float", "3.5", 5},
		{"empty", "", 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(testKey, tt.envValue)
			if got := ParseIntEnv(testKey, 5); got != tt.want {
				t.Errorf("ParseIntEnv(%q) = %d, want %d", tt.envValue, got, tt.want)
			}
		})
	}
}

func TestParseFloatEnv(t *testing.T) {
	const testKey = "TEST_PARSE_FLOAT_ENV"

	tests := []struct {
		name     string
		envValue string
		want     float64
	}{
		{"integer", "2", 2},
		{"fraction", "0.5", 0.5},
		{"whitespace", " 1.25 ", 1.25},
		{"invalid", "fast", 3},
		{"empty", "", 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(testKey, tt.envValue)
			if got := ParseFloatEnv(testKey, 3); got != tt.want {
				t.Errorf("ParseFloatEnv(%q) = %v, want %v", tt.envValue, got, tt.want)
			}
		})
	}
}

func TestParseDurationMSEnv(t *testing.T) {
	const testKey = "TEST_PARSE_DURATION_MS_ENV"

	tests := []struct {
		name     string
		envValue string
		want     time.Duration
	}{
		{"milliseconds", "1500", 1500 * time.Millisecond},
		{"unit suffix", "30s", 30 * time.Second},
		{"invalid uses default", "soon", 300 * time.Second},
		{"empty uses default", "", 300 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(testKey, tt.envValue)
			if got := ParseDurationMSEnv(testKey, 300000); got != tt.want {
				t.Errorf("ParseDurationMSEnv(%q) = %v, want %v", tt.envValue, got, tt.want)
			}
		})
	}
}

func TestParseDurationEnv(t *testing.T) {
	t.Setenv("TEST_PARSE_DURATION_ENV", "90")
	if got := ParseDurationEnv("TEST_PARSE_DURATION_ENV", 1); got != 90*time.Second {
		t.Errorf("ParseDurationEnv() = %v, want 90s", got)
	}
	if got := GetEnvOrDefault("TEST_UNSET_KEY_FOR_DEFAULT", "fallback"); got != "fallback" {
		t.Errorf("GetEnvOrDefault() = %q, want fallback", got)
	}
}
