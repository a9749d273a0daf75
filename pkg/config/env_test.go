package config

import (
	"testing"
)

func TestExpandEnvVars_Braced(t *testing.T) {
	t.Setenv("QUARRY_TEST_KEY", "secret")

	got := expandEnvVars("key=${QUARRY_TEST_KEY}")
	if got != "key=secret" {
		t.Errorf("expandEnvVars = %q, want %q", got, "key=secret")
	}
}

func TestExpandEnvVars_WithDefault(t *testing.T) {
	t.Setenv("QUARRY_TEST_SET", "from-env")

	got := expandEnvVars("${QUARRY_TEST_SET:-fallback}")
	if got != "from-env" {
		t.Errorf("set variable should win over default, got %q", got)
	}

	got = expandEnvVars("${QUARRY_TEST_UNSET_VAR:-fallback}")
	if got != "fallback" {
		t.Errorf("default should apply for unset variable, got %q", got)
	}
}

func TestExpandEnvVars_Simple(t *testing.T) {
	t.Setenv("QUARRY_TEST_SIMPLE", "value")

	got := expandEnvVars("$QUARRY_TEST_SIMPLE")
	if got != "value" {
		t.Errorf("expandEnvVars = %q, want %q", got, "value")
	}
}

func TestExpandEnvVars_NoDollar(t *testing.T) {
	in := "plain string with no variables"
	if got := expandEnvVars(in); got != in {
		t.Errorf("string without $ should pass through, got %q", got)
	}
}

func TestParseValue(t *testing.T) {
	tests := []struct {
		input string
		want  interface{}
	}{
		{"true", true},
		{"False", false},
		{"42", 42},
		{"3.14", 3.14},
		{"hello", "hello"},
	}

	for _, tt := range tests {
		if got := parseValue(tt.input); got != tt.want {
			t.Errorf("parseValue(%q) = %v (%T), want %v (%T)", tt.input, got, got, tt.want, tt.want)
		}
	}
}

func TestExpandEnvVarsInData_Nested(t *testing.T) {
	t.Setenv("QUARRY_TEST_PORT", "9090")
	t.Setenv("QUARRY_TEST_HOST", "example.com")

	data := map[string]interface{}{
		"server": map[string]interface{}{
			"host": "${QUARRY_TEST_HOST}",
			"port": "${QUARRY_TEST_PORT}",
		},
		"origins": []interface{}{"$QUARRY_TEST_HOST", "static.example.com"},
		"count":   3,
	}

	result := ExpandEnvVarsInData(data).(map[string]interface{})

	server := result["server"].(map[string]interface{})
	if server["host"] != "example.com" {
		t.Errorf("host = %v", server["host"])
	}
	if server["port"] != 9090 {
		t.Errorf("expanded port should be retyped to int, got %v (%T)", server["port"], server["port"])
	}

	origins := result["origins"].([]interface{})
	if origins[0] != "example.com" || origins[1] != "static.example.com" {
		t.Errorf("origins = %v", origins)
	}

	if result["count"] != 3 {
		t.Errorf("non-string values should pass through, got %v", result["count"])
	}
}

func TestGetProviderAPIKey(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "g-key")
	t.Setenv("COHERE_API_KEY", "c-key")

	if got := GetProviderAPIKey("gemini"); got != "g-key" {
		t.Errorf("gemini key = %q", got)
	}
	if got := GetProviderAPIKey("cohere"); got != "c-key" {
		t.Errorf("cohere key = %q", got)
	}
	if got := GetProviderAPIKey("ollama"); got != "" {
		t.Errorf("ollama should have no key, got %q", got)
	}
}
