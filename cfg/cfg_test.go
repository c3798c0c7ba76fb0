package cfg

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	c, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.MaxPasteSize != 256*1024 {
		t.Errorf("MaxPasteSize = %d", c.MaxPasteSize)
	}
	if c.IDLength != 9 {
		t.Errorf("IDLength = %d", c.IDLength)
	}
	if c.StorageBackend != BackendSQLite {
		t.Errorf("StorageBackend = %q", c.StorageBackend)
	}
	if c.StorageRetries != 3 || c.StorageRetryBase != 50*time.Millisecond {
		t.Errorf("retry policy = %d/%v", c.StorageRetries, c.StorageRetryBase)
	}
	if err := Validate(c); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("STORAGE_BACKEND", "S3")
	t.Setenv("S3_BUCKET", "pastes")
	t.Setenv("EDGE_CACHE_TTL", "10m")
	t.Setenv("SENTRY_SAMPLE_RATE", "0.25")
	t.Setenv("TRUSTED_PROXIES", "10.0.0.0/8, 127.0.0.1")
	c, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.StorageBackend != BackendS3 || c.S3.Bucket != "pastes" {
		t.Errorf("s3 settings not loaded: %+v", c.S3)
	}
	if c.EdgeCacheTTL != 10*time.Minute {
		t.Errorf("EdgeCacheTTL = %v", c.EdgeCacheTTL)
	}
	if c.SentrySampleRate != 0.25 {
		t.Errorf("SentrySampleRate = %v", c.SentrySampleRate)
	}
	if len(c.TrustedProxies) != 2 {
		t.Errorf("TrustedProxies = %v", c.TrustedProxies)
	}
	if err := Validate(c); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoadRejectsMalformed(t *testing.T) {
	t.Setenv("STORAGE_RETRY_BASE", "soon")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for malformed duration")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Cfg)
		want   string
	}{
		{"unknown backend", func(c *Cfg) { c.StorageBackend = "ftp" }, "STORAGE_BACKEND"},
		{"postgres without url", func(c *Cfg) { c.StorageBackend = BackendPostgres }, "POSTGRES_URL"},
		{"s3 without bucket", func(c *Cfg) { c.StorageBackend = BackendS3 }, "S3_BUCKET"},
		{"memory in production", func(c *Cfg) {
			c.StorageBackend = BackendMemory
			c.Environment = "production"
		}, "memory"},
		{"short id", func(c *Cfg) { c.IDLength = 4 }, "ID_LENGTH"},
		{"decoded below raw", func(c *Cfg) { c.MaxDecodedSize = c.MaxPasteSize - 1 }, "MAX_DECODED_SIZE"},
		{"max ttl below ttl", func(c *Cfg) { c.EdgeCacheMaxTTL = time.Second }, "EDGE_CACHE_MAX_TTL"},
		{"rediss without tls", func(c *Cfg) { c.RedisURL = "rediss://cache:6379" }, "REDIS_TLS"},
		{"bad proxy", func(c *Cfg) { c.TrustedProxies = []string{"not-an-ip"} }, "TRUSTED_PROXIES"},
		{"production metrics", func(c *Cfg) { c.Environment = "production" }, "METRICS_USER"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := Load()
			if err != nil {
				t.Fatal(err)
			}
			tt.mutate(c)
			err = Validate(c)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() = %v, want error mentioning %s", err, tt.want)
			}
		})
	}
}

func TestLoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("POBBIN_TEST_KEY=from-file\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("POBBIN_TEST_KEY", "")
	os.Unsetenv("POBBIN_TEST_KEY")
	if err := LoadEnvFile(path); err != nil {
		t.Fatalf("LoadEnvFile: %v", err)
	}
	if got := os.Getenv("POBBIN_TEST_KEY"); got != "from-file" {
		t.Errorf("POBBIN_TEST_KEY = %q", got)
	}
	if err := LoadEnvFile(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("missing env file should fail")
	}
}

func TestSecretRedacted(t *testing.T) {
	s := NewSecret("hunter2")
	if s.String() == "hunter2" {
		t.Fatal("secret leaked through String")
	}
	s.Wipe()
	if s.Value() == "hunter2" {
		t.Error("Wipe did not clear the value")
	}
}
