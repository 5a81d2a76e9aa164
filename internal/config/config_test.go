package config

import (
	"os"
	"testing"
	"time"
)

func TestGetEnvOrDefault(t *testing.T) {
	tests := []struct {
		name       string
		key        string
		envValue   string
		defaultVal string
		expected   string
	}{
		{"uses env value", "TEST_VAR_1", "hello", "default", "hello"},
		{"uses default when empty", "TEST_VAR_2", "", "default", "default"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if tc.envValue != "" {
				os.Setenv(tc.key, tc.envValue)
				defer os.Unsetenv(tc.key)
			}

			result := getEnvOrDefault(tc.key, tc.defaultVal)
			if result != tc.expected {
				t.Errorf("Expected %q, got %q", tc.expected, result)
			}
		})
	}
}

func TestGetEnvAsIntOrDefault(t *testing.T) {
	tests := []struct {
		name       string
		key        string
		envValue   string
		defaultVal int
		expected   int
	}{
		{"parses integer", "TEST_INT_1", "42", 10, 42},
		{"uses default for empty", "TEST_INT_2", "", 10, 10},
		{"uses default for non-numeric", "TEST_INT_3", "abc", 10, 10},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if tc.envValue != "" {
				os.Setenv(tc.key, tc.envValue)
				defer os.Unsetenv(tc.key)
			}

			result := getEnvAsIntOrDefault(tc.key, tc.defaultVal)
			if result != tc.expected {
				t.Errorf("Expected %d, got %d", tc.expected, result)
			}
		})
	}
}

func TestMustGetEnv_Panics(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("Expected panic for missing required env var")
		}
	}()

	os.Unsetenv("NONEXISTENT_REQUIRED_VAR")
	mustGetEnv("NONEXISTENT_REQUIRED_VAR")
}

func TestMustGetEnv_ReturnsValue(t *testing.T) {
	os.Setenv("TEST_REQUIRED", "value123")
	defer os.Unsetenv("TEST_REQUIRED")

	result := mustGetEnv("TEST_REQUIRED")
	if result != "value123" {
		t.Errorf("Expected 'value123', got %q", result)
	}
}

func TestGetEnvAsFloatOrDefault(t *testing.T) {
	tests := []struct {
		name       string
		key        string
		envValue   string
		defaultVal float64
		expected   float64
	}{
		{"parses float", "TEST_FLOAT_1", "2.5", 1, 2.5},
		{"uses default for empty", "TEST_FLOAT_2", "", 1, 1},
		{"uses default for garbage", "TEST_FLOAT_3", "fast", 1, 1},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if tc.envValue != "" {
				os.Setenv(tc.key, tc.envValue)
				defer os.Unsetenv(tc.key)
			}

			result := getEnvAsFloatOrDefault(tc.key, tc.defaultVal)
			if result != tc.expected {
				t.Errorf("Expected %v, got %v", tc.expected, result)
			}
		})
	}
}

func TestGetEnvAsDurationOrDefault(t *testing.T) {
	tests := []struct {
		name       string
		key        string
		envValue   string
		defaultVal time.Duration
		expected   time.Duration
	}{
		{"parses duration", "TEST_DUR_1", "90s", time.Minute, 90 * time.Second},
		{"uses default for empty", "TEST_DUR_2", "", time.Minute, time.Minute},
		{"uses default for bare number", "TEST_DUR_3", "30", time.Minute, time.Minute},
		{"uses default for negative", "TEST_DUR_4", "-5m", time.Minute, time.Minute},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if tc.envValue != "" {
				os.Setenv(tc.key, tc.envValue)
				defer os.Unsetenv(tc.key)
			}

			result := getEnvAsDurationOrDefault(tc.key, tc.defaultVal)
			if result != tc.expected {
				t.Errorf("Expected %v, got %v", tc.expected, result)
			}
		})
	}
}

func TestGetEnvAsListOrDefault(t *testing.T) {
	os.Setenv("TEST_LIST", " a@example.com, ,b@example.com ")
	defer os.Unsetenv("TEST_LIST")

	result := getEnvAsListOrDefault("TEST_LIST", nil)
	if len(result) != 2 || result[0] != "a@example.com" || result[1] != "b@example.com" {
		t.Errorf("Expected two trimmed addresses, got %v", result)
	}

	if got := getEnvAsListOrDefault("TEST_LIST_MISSING", []string{"x"}); len(got) != 1 || got[0] != "x" {
		t.Errorf("Expected default list, got %v", got)
	}
}

func TestIntegrityOverrides(t *testing.T) {
	cfg := &Config{FraudAlertThreshold: 60, MergeGapSeconds: 3}
	ic := cfg.Integrity()
	if ic.Fraud.AlertThreshold != 60 {
		t.Errorf("Expected alert threshold 60, got %v", ic.Fraud.AlertThreshold)
	}
	if ic.Progress.MergeGapSeconds != 3 {
		t.Errorf("Expected merge gap 3, got %v", ic.Progress.MergeGapSeconds)
	}

	defaults := (&Config{}).Integrity()
	if defaults.Fraud.AlertThreshold != 70 || defaults.Progress.MergeGapSeconds != 2 {
		t.Errorf("Expected defaults 70/2, got %v/%v", defaults.Fraud.AlertThreshold, defaults.Progress.MergeGapSeconds)
	}
}
