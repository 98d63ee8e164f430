package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

var envVars = []string{
	"HTTP_ADDR", "LOG_LEVEL", "DETECTION_TRANSPORT", "DETECTION_URL", "DETECTION_GRPC_ADDR",
	"CAMERA_STREAM_URL", "DETECTION_TIMEOUT", "POLL_FAST_INTERVAL", "POLL_SLOW_INTERVAL",
	"VENUE_NAME", "SIGHTING_RETENTION", "SIGHTING_PROXIMITY", "SPEECH_ENGINE", "ESPEAK_PATH",
	"VOICE_LOCALE", "VOICE_PROVIDERS", "DATA_DIR", "VISIT_LOGGING", "GREETER_CONFIG",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, v := range envVars {
		t.Setenv(v, "")
		os.Unsetenv(v)
	}
}

func TestLoad(t *testing.T) {
	clearEnv(t)
	t.Chdir(t.TempDir()) // no stray .env

	cfg := Load()

	if cfg.HTTPAddr != ":8000" {
		t.Errorf("HTTPAddr = %q, want %q", cfg.HTTPAddr, ":8000")
	}
	if cfg.Detection.Transport != "http" {
		t.Errorf("Transport = %q, want http", cfg.Detection.Transport)
	}
	if cfg.Detection.FastInterval != 500*time.Millisecond {
		t.Errorf("FastInterval = %v, want 500ms", cfg.Detection.FastInterval)
	}
	if cfg.Detection.SlowInterval != time.Second {
		t.Errorf("SlowInterval = %v, want 1s", cfg.Detection.SlowInterval)
	}
	if cfg.Greeting.Venue != "AstroNova" {
		t.Errorf("Venue = %q, want AstroNova", cfg.Greeting.Venue)
	}
	if cfg.Greeting.SightingRetention != 10*time.Minute {
		t.Errorf("SightingRetention = %v, want 10m", cfg.Greeting.SightingRetention)
	}
	if cfg.Greeting.SightingProximity != 2.0 {
		t.Errorf("SightingProximity = %f, want 2.0", cfg.Greeting.SightingProximity)
	}
	if diff := cmp.Diff([]string{"google", "microsoft", "samantha"}, cfg.Speech.Providers); diff != "" {
		t.Errorf("Providers mismatch (-want +got):\n%s", diff)
	}
	if !cfg.Store.VisitLogging {
		t.Error("VisitLogging should default to true")
	}
}

func TestLoadWithEnv(t *testing.T) {
	clearEnv(t)
	t.Chdir(t.TempDir())
	t.Setenv("DETECTION_TRANSPORT", "grpc")
	t.Setenv("POLL_FAST_INTERVAL", "250ms")
	t.Setenv("VENUE_NAME", "Orbit Cafe")
	t.Setenv("VOICE_PROVIDERS", "espeak, mbrola")
	t.Setenv("VISIT_LOGGING", "false")
	t.Setenv("SIGHTING_PROXIMITY", "3.5")

	cfg := Load()

	if cfg.Detection.Transport != "grpc" {
		t.Errorf("Transport = %q, want grpc", cfg.Detection.Transport)
	}
	if cfg.Detection.FastInterval != 250*time.Millisecond {
		t.Errorf("FastInterval = %v, want 250ms", cfg.Detection.FastInterval)
	}
	if cfg.Greeting.Venue != "Orbit Cafe" {
		t.Errorf("Venue = %q", cfg.Greeting.Venue)
	}
	if diff := cmp.Diff([]string{"espeak", "mbrola"}, cfg.Speech.Providers); diff != "" {
		t.Errorf("Providers mismatch (-want +got):\n%s", diff)
	}
	if cfg.Store.VisitLogging {
		t.Error("VisitLogging should be false")
	}
	if cfg.Greeting.SightingProximity != 3.5 {
		t.Errorf("SightingProximity = %f, want 3.5", cfg.Greeting.SightingProximity)
	}
}

func TestLoadDotEnv(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	t.Chdir(dir)
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("HTTP_ADDR=:9100\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Unsetenv("HTTP_ADDR") })

	cfg := Load()
	if cfg.HTTPAddr != ":9100" {
		t.Errorf("HTTPAddr = %q, want :9100 from .env", cfg.HTTPAddr)
	}
}

func TestLoadYAMLOverlay(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	t.Chdir(dir)
	path := filepath.Join(dir, "greeter.yaml")
	overlay := "venue: Nova Lounge\nphrases:\n  - Glad you came!\n  - Enjoy!\nvoiceProviders: [acme]\n"
	if err := os.WriteFile(path, []byte(overlay), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("GREETER_CONFIG", path)

	cfg := Load()

	if cfg.Greeting.Venue != "Nova Lounge" {
		t.Errorf("Venue = %q, want Nova Lounge", cfg.Greeting.Venue)
	}
	if diff := cmp.Diff([]string{"Glad you came!", "Enjoy!"}, cfg.Greeting.Phrases); diff != "" {
		t.Errorf("Phrases mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"acme"}, cfg.Speech.Providers); diff != "" {
		t.Errorf("Providers mismatch (-want +got):\n%s", diff)
	}
}

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("TEST_DURATION", "2s")
	if v := getEnvDuration("TEST_DURATION", 0); v != 2*time.Second {
		t.Errorf("getEnvDuration = %v, want 2s", v)
	}
	t.Setenv("TEST_DURATION_BAD", "soon")
	if v := getEnvDuration("TEST_DURATION_BAD", time.Minute); v != time.Minute {
		t.Errorf("getEnvDuration with invalid = %v, want 1m", v)
	}

	t.Setenv("TEST_FLOAT", "3.14")
	if v := getEnvFloat("TEST_FLOAT", 0.0); v != 3.14 {
		t.Errorf("getEnvFloat = %f, want 3.14", v)
	}
	if v := getEnvFloat("NONEXISTENT_FLOAT", 2.71); v != 2.71 {
		t.Errorf("getEnvFloat = %f, want 2.71", v)
	}

	t.Setenv("TEST_BOOL_ONE", "1")
	if !getEnvBool("TEST_BOOL_ONE", false) {
		t.Error("getEnvBool should return true for '1'")
	}
	if !getEnvBool("NONEXISTENT_BOOL", true) {
		t.Error("getEnvBool should return default true")
	}

	t.Setenv("TEST_LIST", " a, ,b ")
	if diff := cmp.Diff([]string{"a", "b"}, getEnvList("TEST_LIST", nil)); diff != "" {
		t.Errorf("getEnvList mismatch (-want +got):\n%s", diff)
	}
}
