package config

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tonero-cloud/safeguard/internal/media"
	"github.com/tonero-cloud/safeguard/internal/transport"
)

func TestConfig(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "nested", "config.json")

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.ServerURL != transport.DefaultServerURL {
		t.Errorf("Expected default server URL, got %s", cfg.ServerURL)
	}
	if cfg.Debounce.Duration != 2*time.Second || cfg.Gap.Duration != 500*time.Millisecond || cfg.MaxRetries != 3 {
		t.Errorf("Unexpected drain defaults %+v", cfg)
	}

	cfg.ServerURL = "https://api.example.org"
	cfg.KVBackend = KVFile
	cfg.Media = media.Config{Backend: media.BackendMinio, Bucket: "captures", Endpoint: "localhost:9000"}
	cfg.Gap = Duration{250 * time.Millisecond}
	if err := Save(configPath, cfg); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	info, err := os.Stat(configPath)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("Expected mode 0600, got %v", info.Mode().Perm())
	}

	loaded, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load existing failed: %v", err)
	}
	if loaded.ServerURL != cfg.ServerURL || loaded.KVBackend != KVFile || loaded.Media.Bucket != "captures" {
		t.Errorf("Round trip lost fields: %+v", loaded)
	}
	if loaded.Gap.Duration != 250*time.Millisecond {
		t.Errorf("Expected gap 250ms, got %v", loaded.Gap)
	}
	if err := loaded.Validate(); err != nil {
		t.Errorf("Validate failed: %v", err)
	}
}

func TestPartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"server_url":"https://x.test","debounce":1500}`), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Debounce.Duration != 1500*time.Millisecond {
		t.Errorf("Expected numeric debounce in ms, got %v", cfg.Debounce)
	}
	if cfg.MaxRetries != 3 || cfg.SecureBackend != SecureKeyring {
		t.Errorf("Missing fields should keep defaults, got %+v", cfg)
	}
}

func TestLoadInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	os.WriteFile(path, []byte(`{"gap":"soon"}`), 0600)
	if _, err := Load(path); err == nil {
		t.Error("Expected error for bad duration")
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("SAFEGUARD_SERVER_URL", "https://env.example.org")
	t.Setenv("SAFEGUARD_DEBOUNCE", "3s")
	t.Setenv("SAFEGUARD_MAX_RETRIES", "5")
	t.Setenv("SAFEGUARD_MEDIA_BACKEND", "s3")
	t.Setenv("SAFEGUARD_MEDIA_BUCKET", "evidence")

	cfg := Default()
	if err := cfg.ApplyEnv(); err != nil {
		t.Fatalf("ApplyEnv failed: %v", err)
	}
	if cfg.ServerURL != "https://env.example.org" || cfg.Debounce.Duration != 3*time.Second || cfg.MaxRetries != 5 {
		t.Errorf("Env not applied: %+v", cfg)
	}
	if cfg.Media.Backend != media.BackendS3 || cfg.Media.Bucket != "evidence" {
		t.Errorf("Media env not applied: %+v", cfg.Media)
	}

	t.Setenv("SAFEGUARD_MAX_RETRIES", "many")
	if err := cfg.ApplyEnv(); err == nil {
		t.Error("Expected error for non-numeric retries")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad url", func(c *Config) { c.ServerURL = "localhost:8001" }},
		{"bad kv", func(c *Config) { c.KVBackend = "redis" }},
		{"bad secure", func(c *Config) { c.SecureBackend = "tpm" }},
		{"s3 without bucket", func(c *Config) { c.Media.Backend = media.BackendS3 }},
		{"zero retries", func(c *Config) { c.MaxRetries = 0 }},
		{"negative gap", func(c *Config) { c.Gap = Duration{-time.Second} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Expected validation error")
			}
		})
	}
}

func TestLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{"debug": slog.LevelDebug, "WARN": slog.LevelWarn, "": slog.LevelInfo, "loud": slog.LevelInfo} {
		cfg := &Config{LogLevel: in}
		if got := cfg.Level(); got != want {
			t.Errorf("Level(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestDurationJSON(t *testing.T) {
	b, err := json.Marshal(Duration{90 * time.Second})
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != `"1m30s"` {
		t.Errorf("Got %s", b)
	}
}

func TestWatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	cfg := Default()
	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan *Config, 4)
	if err := Watch(ctx, path, func(c *Config) { got <- c }); err != nil {
		t.Fatalf("Watch failed: %v", err)
	}

	cfg.ServerURL = "https://reloaded.example.org"
	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}

	select {
	case c := <-got:
		if c.ServerURL != "https://reloaded.example.org" {
			t.Errorf("Reloaded config has %s", c.ServerURL)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("No reload after the file changed")
	}
}
