package internal

import (
	"strings"
	"testing"
	"time"
)

func TestAuthConfig_DisabledMode(t *testing.T) {
	cfg := AuthConfig{Mode: "disabled", Password: "pw"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("disabled mode should pass: %v", err)
	}
	if cfg.SessionsEnabled() {
		t.Error("disabled mode should not enable sessions")
	}
}

func TestAuthConfig_EmptyModeDefaultsDisabled(t *testing.T) {
	cfg := AuthConfig{Password: "pw"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("empty mode should default to disabled: %v", err)
	}
	if cfg.Mode != AuthModeDisabled {
		t.Errorf("mode = %q, want %q", cfg.Mode, AuthModeDisabled)
	}
}

func TestAuthConfig_PasswordRequired(t *testing.T) {
	cfg := AuthConfig{Mode: "disabled"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("missing password should fail validation")
	}
}

func TestAuthConfig_SessionModeNeedsRedis(t *testing.T) {
	cfg := AuthConfig{Mode: "session", Password: "pw"}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("session mode without redis_url should fail")
	}
	if !strings.Contains(err.Error(), "redis_url is empty") {
		t.Errorf("unexpected error: %v", err)
	}

	cfg.RedisURL = "redis://localhost:6379"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("session mode with redis should pass: %v", err)
	}
	if !cfg.SessionsEnabled() {
		t.Error("session mode should enable sessions")
	}
}

func TestDataConfig_DefaultsToFS(t *testing.T) {
	cfg := DataConfig{Path: "./data"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("fs default should pass: %v", err)
	}
	if cfg.Backend != BackendFS {
		t.Errorf("backend = %q, want %q", cfg.Backend, BackendFS)
	}
}

func TestDataConfig_PathRequired(t *testing.T) {
	cfg := DataConfig{Backend: "sqlite"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("sqlite without path should fail")
	}
}

func TestDataConfig_MinioNeedsCredentials(t *testing.T) {
	cfg := DataConfig{Backend: "minio"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("minio without connection settings should fail")
	}

	cfg.Minio = MinioConfig{
		Endpoint:  "localhost:9000",
		AccessKey: "key",
		SecretKey: "secret",
		Bucket:    "laguz",
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("complete minio config should pass: %v", err)
	}
}

func TestRemoteConfig_HTTPNeedsURL(t *testing.T) {
	cfg := RemoteConfig{Mode: "http"}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("http remote without url should fail")
	}
	if !strings.Contains(err.Error(), "url is empty") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestSyncConfig_CapBelowBase(t *testing.T) {
	cfg := SyncConfig{BackoffBase: 10 * time.Second, BackoffCap: time.Second}
	if err := cfg.Validate(); err == nil {
		t.Fatal("cap below base should fail")
	}
}

func TestFullConfig_NestedValidationCalled(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Auth.Password = "pw"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config with password should pass: %v", err)
	}

	cfg.Remote.Mode = "http"
	cfg.Remote.URL = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("full config validate should catch remote error")
	}
}
