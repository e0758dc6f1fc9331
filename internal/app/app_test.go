package app

import (
	"context"
	"testing"
	"time"

	"github.com/tonero-cloud/safeguard/internal/backendtest"
	"github.com/tonero-cloud/safeguard/internal/config"
	"github.com/tonero-cloud/safeguard/internal/models"
	"github.com/tonero-cloud/safeguard/internal/netstate"
	"github.com/tonero-cloud/safeguard/internal/secure"
)

func testConfig(t *testing.T, serverURL string) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.ServerURL = serverURL
	cfg.DataDir = t.TempDir()
	cfg.KVBackend = config.KVFile
	cfg.Debounce = config.Duration{Duration: 20 * time.Millisecond}
	cfg.Gap = config.Duration{}
	cfg.PingInterval = config.Duration{Duration: time.Hour}
	return cfg
}

func newApp(t *testing.T, cfg *config.Config, net netstate.Source) *App {
	t.Helper()
	a, err := New(context.Background(), cfg, WithNetSource(net), WithSecureStore(secure.Unavailable{}))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func TestLoginAndSubmit(t *testing.T) {
	b := backendtest.New()
	defer b.Close()
	b.AddUser("ada@example.org", "pw", models.RoleCivil, false)

	net := netstate.NewManual(netstate.Online)
	a := newApp(t, testConfig(t, b.URL), net)
	ctx := context.Background()

	if _, err := a.Login(ctx, "ada@example.org", "wrong"); err == nil {
		t.Fatal("Expected login with a wrong password to fail")
	}
	resp, err := a.Login(ctx, "ada@example.org", "pw")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if meta := a.Credentials.Metadata(ctx); meta.UserID != resp.UserID {
		t.Errorf("Metadata not stored: %+v", meta)
	}

	sub, err := a.SubmitReport(ctx, models.NewReport{Type: models.ReportVideo, LocalURI: "file:///v.mp4", Latitude: 1, Longitude: 2})
	if err != nil {
		t.Fatalf("SubmitReport failed: %v", err)
	}
	if !sub.Uploaded || len(b.Reports()) != 1 {
		t.Errorf("Expected immediate upload, got %+v with %d reports", sub, len(b.Reports()))
	}
	if a.Queue.PendingCount(ctx) != 0 {
		t.Error("Uploaded report left in the queue")
	}

	net.Set(netstate.Offline)
	sub, err = a.SubmitReport(ctx, models.NewReport{Type: models.ReportAudio})
	if err != nil {
		t.Fatalf("SubmitReport offline failed: %v", err)
	}
	if sub.Uploaded || a.Queue.PendingCount(ctx) != 1 {
		t.Errorf("Expected the offline report to be queued, got %+v", sub)
	}
}

func TestUnauthorizedClearsSession(t *testing.T) {
	b := backendtest.New()
	defer b.Close()
	b.AddUser("bo@example.org", "pw", models.RoleCivil, false)

	a := newApp(t, testConfig(t, b.URL), netstate.NewManual(netstate.Online))
	ctx := context.Background()
	if _, err := a.Login(ctx, "bo@example.org", "pw"); err != nil {
		t.Fatal(err)
	}

	b.RevokeTokens()
	sub, err := a.SubmitReport(ctx, models.NewReport{Type: models.ReportAudio})
	if err != nil {
		t.Fatal(err)
	}
	if sub.Uploaded {
		t.Error("Upload with a revoked token should fail")
	}
	if a.Credentials.LoggedIn(ctx) {
		t.Error("A 401 must clear the stored session")
	}
	if meta := a.Credentials.Metadata(ctx); meta.UserID != "" {
		t.Errorf("Metadata survived the 401: %+v", meta)
	}
	if a.Queue.PendingCount(ctx) != 1 {
		t.Error("The report should stay queued for the next session")
	}
}

func TestProcessorDrainsWhenOnline(t *testing.T) {
	b := backendtest.New()
	defer b.Close()
	b.AddUser("cy@example.org", "pw", models.RoleCivil, false)

	net := netstate.NewManual(netstate.Offline)
	a := newApp(t, testConfig(t, b.URL), net)
	ctx := context.Background()
	if _, err := a.Login(ctx, "cy@example.org", "pw"); err != nil {
		t.Fatal(err)
	}
	if _, err := a.SubmitReport(ctx, models.NewReport{Type: models.ReportVideo}); err != nil {
		t.Fatal(err)
	}

	a.Start(ctx)
	net.Set(netstate.Online)

	deadline := time.Now().Add(3 * time.Second)
	for len(b.Reports()) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if len(b.Reports()) != 1 {
		t.Fatalf("Expected one report after reconnecting, got %d", len(b.Reports()))
	}
	if a.Queue.PendingCount(ctx) != 0 {
		t.Error("Queue should be empty after the drain")
	}
}

func TestReconfigureAndLogout(t *testing.T) {
	b := backendtest.New()
	defer b.Close()
	b.AddUser("di@example.org", "pw", models.RoleCivil, false)

	cfg := testConfig(t, "http://127.0.0.1:1")
	a := newApp(t, cfg, netstate.NewManual(netstate.Online))
	ctx := context.Background()

	if _, err := a.Login(ctx, "di@example.org", "pw"); err == nil {
		t.Fatal("Expected login against a dead address to fail")
	}

	next := *cfg
	next.ServerURL = b.URL + "/"
	a.Reconfigure(&next)
	if a.API.BaseURL() != b.URL {
		t.Errorf("BaseURL = %s, want %s", a.API.BaseURL(), b.URL)
	}
	if _, err := a.Login(ctx, "di@example.org", "pw"); err != nil {
		t.Fatalf("Login after reconfigure failed: %v", err)
	}
	if !a.Logout(ctx) || a.Credentials.LoggedIn(ctx) {
		t.Error("Logout should clear the session")
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t, "ftp://nowhere")
	if _, err := New(context.Background(), cfg); err == nil {
		t.Error("Expected invalid config error")
	}
}

func TestSQLiteBackend(t *testing.T) {
	b := backendtest.New()
	defer b.Close()

	cfg := testConfig(t, b.URL)
	cfg.KVBackend = config.KVSQLite
	a := newApp(t, cfg, netstate.NewManual(netstate.Offline))
	ctx := context.Background()

	if _, err := a.SubmitReport(ctx, models.NewReport{Type: models.ReportAudio}); err != nil {
		t.Fatal(err)
	}
	if a.Queue.PendingCount(ctx) != 1 {
		t.Error("Expected the report in the sqlite-backed queue")
	}
}
