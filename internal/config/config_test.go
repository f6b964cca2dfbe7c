package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("MONGODB_DATABASE", "")
	t.Setenv("PORT", "")
	t.Setenv("HTTP_ADDR", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != ":3001" {
		t.Errorf("HTTPAddr = %q", cfg.HTTPAddr)
	}
	if cfg.MongoDatabase != "wachat" {
		t.Errorf("MongoDatabase = %q", cfg.MongoDatabase)
	}
	if cfg.OTPTTL != 5*time.Minute || cfg.OTPMaxAttempts != 5 {
		t.Errorf("otp settings %v %d", cfg.OTPTTL, cfg.OTPMaxAttempts)
	}
	if !cfg.Features.Authentication || cfg.Features.FileUpload {
		t.Errorf("features %+v", cfg.Features)
	}
	if cfg.S3PublicURL != cfg.S3Endpoint {
		t.Errorf("S3PublicURL = %q", cfg.S3PublicURL)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("OTP_TTL", "five minutes")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for invalid OTP_TTL")
	}
}

func TestLoadClient(t *testing.T) {
	t.Setenv("API_BASE_URL", "https://chat.example.com/")
	t.Setenv("FEATURE_REALTIME_MESSAGING", "true")
	t.Setenv("WS_URL", "")
	t.Setenv("POLL_INTERVAL", "")

	cfg, err := LoadClient()
	if err != nil {
		t.Fatalf("LoadClient: %v", err)
	}
	if cfg.APIBaseURL != "https://chat.example.com" {
		t.Errorf("APIBaseURL = %q", cfg.APIBaseURL)
	}
	if cfg.WebsocketURL != "wss://chat.example.com/ws" {
		t.Errorf("WebsocketURL = %q", cfg.WebsocketURL)
	}
	if cfg.PollInterval != 3*time.Second || cfg.CallTimeout != 10*time.Second || cfg.MessageLimit != 50 {
		t.Errorf("timings %v %v %d", cfg.PollInterval, cfg.CallTimeout, cfg.MessageLimit)
	}
}

func TestLoadClientRejectsNonPositiveInterval(t *testing.T) {
	t.Setenv("POLL_INTERVAL", "0s")
	if _, err := LoadClient(); err == nil {
		t.Fatal("expected error")
	}
}
