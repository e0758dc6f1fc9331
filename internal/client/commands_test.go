package client

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/tonero-cloud/safeguard/internal/config"
	"github.com/tonero-cloud/safeguard/internal/models"
	"github.com/tonero-cloud/safeguard/internal/netstate"
)

func TestConfigCommands(t *testing.T) {
	tmpDir, b := setupTestConfig(t, netstate.NewManual(netstate.Online))
	configPath := filepath.Join(tmpDir, "config.json")

	out, _ := runCmd(t, tmpDir, "config", "path")
	if strings.TrimSpace(out) != configPath {
		t.Errorf("config path = %q, want %q", out, configPath)
	}

	out, _ = runCmd(t, tmpDir, "set-server", "ftp://nope")
	if !strings.Contains(out, "Invalid server URL") {
		t.Errorf("Expected invalid URL to be refused, got: %s", out)
	}
	loaded, err := config.Load(configPath)
	if err != nil || loaded.ServerURL != b.URL {
		t.Fatalf("Refused URL must not be saved: %+v %v", loaded, err)
	}

	out, _ = runCmd(t, tmpDir, "set-server", "https://api.example.org")
	if !strings.Contains(out, "Server URL set") {
		t.Errorf("Unexpected output: %s", out)
	}
	loaded, _ = config.Load(configPath)
	if loaded.ServerURL != "https://api.example.org" {
		t.Errorf("ServerURL not saved, got %s", loaded.ServerURL)
	}

	out, _ = runCmd(t, tmpDir, "config", "show")
	if !strings.Contains(out, `"https://api.example.org"`) || !strings.Contains(out, `"file"`) {
		t.Errorf("config show missing values: %s", out)
	}

	out, _ = runCmd(t, tmpDir, "config", "init", "--kv", "bogus")
	if !strings.Contains(out, "Invalid configuration") {
		t.Errorf("Expected bad backend to be refused, got: %s", out)
	}
}

func TestRegisterCmd(t *testing.T) {
	tmpDir, _ := setupTestConfig(t, netstate.NewManual(netstate.Online))

	out, _ := runCmd(t, tmpDir, "register", "--email", "new@example.org", "--password", "pw", "--full-name", "New User", "--role", "pilot")
	if !strings.Contains(out, "Unknown role") {
		t.Errorf("Expected role error, got: %s", out)
	}

	out, _ = runCmd(t, tmpDir, "register", "--email", "new@example.org", "--password", "pw", "--full-name", "New User", "--role", "civil")
	if !strings.Contains(out, "Registered new@example.org as civil") {
		t.Fatalf("Expected registration, got: %s", out)
	}
	out, _ = runCmd(t, tmpDir, "whoami")
	if !strings.Contains(out, "New User <new@example.org>") {
		t.Errorf("Expected profile, got: %s", out)
	}
}

func TestPanicCommands(t *testing.T) {
	tmpDir, b := setupTestConfig(t, netstate.NewManual(netstate.Online))
	u := b.AddUser("pat@example.org", "pw", models.RoleCivil, false)

	out, _ := runCmd(t, tmpDir, "panic", "start", "--category", "fire", "--lat", "6.5", "--lng", "3.4")
	if !strings.Contains(out, "no session token") {
		t.Errorf("Expected an auth error before login, got: %s", out)
	}

	runCmd(t, tmpDir, "login", "--email", "pat@example.org", "--password", "pw")

	out, _ = runCmd(t, tmpDir, "panic", "start", "--category", "meteor", "--lat", "6.5", "--lng", "3.4")
	if !strings.Contains(out, "Panic failed") {
		t.Errorf("Expected bad category to fail, got: %s", out)
	}

	out, _ = runCmd(t, tmpDir, "panic", "start", "--category", "fire", "--lat", "6.5", "--lng", "3.4")
	if !strings.Contains(out, "raised (fire)") {
		t.Fatalf("Expected panic raised, got: %s", out)
	}
	ev, ok := b.Panic(u.ID)
	if !ok || !ev.Active || ev.Category != "fire" || ev.Pings[0].Latitude != 6.5 {
		t.Errorf("Unexpected panic on the backend %+v", ev)
	}

	out, _ = runCmd(t, tmpDir, "panic", "stop")
	if !strings.Contains(out, "Panic cleared") {
		t.Errorf("Expected panic cleared, got: %s", out)
	}
	if ev, _ := b.Panic(u.ID); ev.Active {
		t.Error("Panic still active on the backend")
	}
}

func TestEscortCommands(t *testing.T) {
	tmpDir, b := setupTestConfig(t, netstate.NewManual(netstate.Online))
	b.AddUser("free@example.org", "pw", models.RoleCivil, false)
	paid := b.AddUser("paid@example.org", "pw", models.RoleCivil, true)

	runCmd(t, tmpDir, "login", "--email", "free@example.org", "--password", "pw")
	out, _ := runCmd(t, tmpDir, "escort", "start", "--lat", "1", "--lng", "2")
	if !strings.Contains(out, "Escort failed") {
		t.Errorf("Escort should need premium, got: %s", out)
	}

	runCmd(t, tmpDir, "login", "--email", "paid@example.org", "--password", "pw")
	out, _ = runCmd(t, tmpDir, "escort", "start", "--lat", "1", "--lng", "2")
	if !strings.Contains(out, "started") {
		t.Fatalf("Expected escort start, got: %s", out)
	}
	out, _ = runCmd(t, tmpDir, "escort", "stop", "--lat", "1.1", "--lng", "2.1")
	if !strings.Contains(out, "Escort ended") {
		t.Errorf("Expected escort stop, got: %s", out)
	}
	if e, ok := b.Escort(paid.ID); !ok || e.Active || len(e.Pings) != 2 {
		t.Errorf("Unexpected escort record %+v", e)
	}
}
