package config

import (
	"os"
	"testing"
	"time"
)

func TestDefaultThenEnvOverride(t *testing.T) {
	os.Setenv("LOCK_DURATION_MS", "60000")
	os.Setenv("ENABLE_MULTI_TENANCY", "true")
	defer os.Unsetenv("LOCK_DURATION_MS")
	defer os.Unsetenv("ENABLE_MULTI_TENANCY")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LockDurationMS != 60000 {
		t.Errorf("LockDurationMS = %d, want 60000", cfg.LockDurationMS)
	}
	if !cfg.EnableMultiTenancy {
		t.Errorf("EnableMultiTenancy = false, want true")
	}
	if cfg.ExportURLTTL.Duration != 24*time.Hour {
		t.Errorf("ExportURLTTL = %v, want 24h default", cfg.ExportURLTTL.Duration)
	}
}

func TestInvalidBlobKeySeparator(t *testing.T) {
	os.Setenv("BLOB_KEY_SEPARATOR", "__")
	defer os.Unsetenv("BLOB_KEY_SEPARATOR")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for multi-character separator")
	}
}

func TestBadIntEnvIsReported(t *testing.T) {
	os.Setenv("LOCK_DURATION_MS", "not-a-number")
	defer os.Unsetenv("LOCK_DURATION_MS")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for malformed LOCK_DURATION_MS")
	}
}
