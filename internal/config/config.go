// Package config loads the JSON settings file shared by the CLI and the
// daemon, applies environment overrides and watches the file for edits.
package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/tonero-cloud/safeguard/internal/media"
	"github.com/tonero-cloud/safeguard/internal/transport"
)

// Store backends.
const (
	KVSQLite = "sqlite"
	KVFile   = "file"

	SecureKeyring = "keyring"
	SecureVault   = "vault"
	SecureNone    = "none"
)

// DefaultVaultPassphraseEnv names the variable holding the vault passphrase.
const DefaultVaultPassphraseEnv = "SAFEGUARD_VAULT_PASSPHRASE"

// Duration is a time.Duration written as "2s" in the config file.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON accepts "500ms"-style strings or a plain number of
// milliseconds.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		v, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		d.Duration = v
		return nil
	}
	var ms int64
	if err := json.Unmarshal(b, &ms); err != nil {
		return fmt.Errorf("invalid duration %s", b)
	}
	d.Duration = time.Duration(ms) * time.Millisecond
	return nil
}

type Config struct {
	ServerURL    string `json:"server_url"`
	ControlAddr  string `json:"control_addr"`
	ControlToken string `json:"control_token,omitempty"`
	LogLevel     string `json:"log_level"`

	DataDir            string `json:"data_dir"`
	KVBackend          string `json:"kv_backend"`
	SecureBackend      string `json:"secure_backend"`
	KeyringService     string `json:"keyring_service"`
	VaultPassphraseEnv string `json:"vault_passphrase_env,omitempty"`

	Media media.Config `json:"media"`

	Debounce       Duration `json:"debounce"`
	Gap            Duration `json:"gap"`
	MaxRetries     int      `json:"max_retries"`
	RequestTimeout Duration `json:"request_timeout"`
	UploadTimeout  Duration `json:"upload_timeout"`
	PingInterval   Duration `json:"ping_interval"`
	ProbeInterval  Duration `json:"probe_interval"`
}

// Default returns the settings used when no file exists.
func Default() *Config {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return &Config{
		ServerURL:      transport.DefaultServerURL,
		ControlAddr:    transport.DefaultControlAddr,
		LogLevel:       "info",
		DataDir:        filepath.Join(dir, "safeguard"),
		KVBackend:      KVSQLite,
		SecureBackend:  SecureKeyring,
		KeyringService: "safeguard",
		Media:          media.Config{Backend: media.BackendReference},
		Debounce:       Duration{2 * time.Second},
		Gap:            Duration{500 * time.Millisecond},
		MaxRetries:     3,
		RequestTimeout: Duration{transport.DefaultRequestTimeout},
		UploadTimeout:  Duration{transport.DefaultUploadTimeout},
		PingInterval:   Duration{30 * time.Second},
		ProbeInterval:  Duration{10 * time.Second},
	}
}

// Load reads path on top of the defaults. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes cfg to path, creating the directory.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// DefaultPath is $XDG_CONFIG_HOME/safeguard/config.json or the platform
// equivalent.
func DefaultPath() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "safeguard", "config.json"), nil
}

// ApplyEnv loads an optional .env file from the working directory, then
// overrides fields from SAFEGUARD_* variables.
func (c *Config) ApplyEnv() error {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Debug("ignoring .env file", "error", err)
	}

	str := map[string]*string{
		"SAFEGUARD_SERVER_URL":       &c.ServerURL,
		"SAFEGUARD_CONTROL_ADDR":     &c.ControlAddr,
		"SAFEGUARD_CONTROL_TOKEN":    &c.ControlToken,
		"SAFEGUARD_LOG_LEVEL":        &c.LogLevel,
		"SAFEGUARD_DATA_DIR":         &c.DataDir,
		"SAFEGUARD_KV_BACKEND":       &c.KVBackend,
		"SAFEGUARD_SECURE_BACKEND":   &c.SecureBackend,
		"SAFEGUARD_MEDIA_BACKEND":    &c.Media.Backend,
		"SAFEGUARD_MEDIA_BUCKET":     &c.Media.Bucket,
		"SAFEGUARD_MEDIA_PREFIX":     &c.Media.Prefix,
		"SAFEGUARD_MEDIA_PUBLIC_URL": &c.Media.PublicURL,
		"SAFEGUARD_MEDIA_ENDPOINT":   &c.Media.Endpoint,
		"SAFEGUARD_MEDIA_ACCESS_KEY": &c.Media.AccessKey,
		"SAFEGUARD_MEDIA_SECRET_KEY": &c.Media.SecretKey,
	}
	for env, dst := range str {
		if v, ok := os.LookupEnv(env); ok {
			*dst = v
		}
	}

	durations := map[string]*Duration{
		"SAFEGUARD_DEBOUNCE":      &c.Debounce,
		"SAFEGUARD_GAP":           &c.Gap,
		"SAFEGUARD_PING_INTERVAL": &c.PingInterval,
	}
	for env, dst := range durations {
		if v, ok := os.LookupEnv(env); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("%s: %w", env, err)
			}
			dst.Duration = d
		}
	}

	if v, ok := os.LookupEnv("SAFEGUARD_MAX_RETRIES"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("SAFEGUARD_MAX_RETRIES: %w", err)
		}
		c.MaxRetries = n
	}
	if v, ok := os.LookupEnv("SAFEGUARD_MEDIA_USE_SSL"); ok {
		c.Media.UseSSL, _ = strconv.ParseBool(v)
	}
	return nil
}

// Validate rejects settings the app cannot start with.
func (c *Config) Validate() error {
	if !strings.HasPrefix(c.ServerURL, "http://") && !strings.HasPrefix(c.ServerURL, "https://") {
		return fmt.Errorf("server_url must be an http(s) URL, got %q", c.ServerURL)
	}
	switch c.KVBackend {
	case KVSQLite, KVFile:
	default:
		return fmt.Errorf("unknown kv_backend %q", c.KVBackend)
	}
	switch c.SecureBackend {
	case SecureKeyring, SecureVault, SecureNone:
	default:
		return fmt.Errorf("unknown secure_backend %q", c.SecureBackend)
	}
	switch c.Media.Backend {
	case "", media.BackendReference:
	case media.BackendS3, media.BackendMinio:
		if c.Media.Bucket == "" {
			return fmt.Errorf("media backend %s requires a bucket", c.Media.Backend)
		}
	default:
		return fmt.Errorf("unknown media backend %q", c.Media.Backend)
	}
	if c.MaxRetries < 1 {
		return fmt.Errorf("max_retries must be at least 1, got %d", c.MaxRetries)
	}
	if c.Debounce.Duration < 0 || c.Gap.Duration < 0 {
		return fmt.Errorf("debounce and gap must not be negative")
	}
	return nil
}

// VaultPassphrase returns the vault passphrase from the configured variable.
func (c *Config) VaultPassphrase() string {
	env := c.VaultPassphraseEnv
	if env == "" {
		env = DefaultVaultPassphraseEnv
	}
	return os.Getenv(env)
}

// Level maps log_level onto a slog level. Unknown names mean info.
func (c *Config) Level() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return l
}
