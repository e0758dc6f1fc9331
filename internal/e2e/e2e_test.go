package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/tonero-cloud/safeguard/internal/app"
	"github.com/tonero-cloud/safeguard/internal/backendtest"
	"github.com/tonero-cloud/safeguard/internal/config"
	"github.com/tonero-cloud/safeguard/internal/control"
	"github.com/tonero-cloud/safeguard/internal/models"
	"github.com/tonero-cloud/safeguard/internal/netstate"
	"github.com/tonero-cloud/safeguard/internal/secure"
)

func newConfig(t *testing.T, serverURL, dataDir string) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.ServerURL = serverURL
	cfg.DataDir = dataDir
	cfg.KVBackend = config.KVSQLite
	cfg.Debounce = config.Duration{Duration: 20 * time.Millisecond}
	cfg.Gap = config.Duration{}
	cfg.PingInterval = config.Duration{Duration: time.Hour}
	return cfg
}

func open(t *testing.T, cfg *config.Config, net netstate.Source) *app.App {
	t.Helper()
	a, err := app.New(context.Background(), cfg, app.WithNetSource(net), app.WithSecureStore(secure.Unavailable{}))
	if err != nil {
		t.Fatalf("app.New failed: %v", err)
	}
	return a
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("Timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// Reports and pings captured offline survive a restart and are delivered
// exactly once when the device comes back online.
func TestOfflineRoundTrip(t *testing.T) {
	b := backendtest.New()
	defer b.Close()
	u := b.AddUser("ada@example.org", "pw", models.RoleCivil, false)

	dataDir := t.TempDir()
	ctx := context.Background()

	first := open(t, newConfig(t, b.URL, dataDir), netstate.NewManual(netstate.Online))
	if _, err := first.Login(ctx, "ada@example.org", "pw"); err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	first.Location.Set(models.LocationPoint{Latitude: 6.45, Longitude: 3.39})
	if _, err := first.Tracker.StartPanic(ctx, "robbery"); err != nil {
		t.Fatalf("StartPanic failed: %v", err)
	}

	// The backend drops out: the next ping and both captures stay local.
	b.SetDown(true)
	first.Net.(*netstate.Manual).Set(netstate.Offline)

	queued, err := first.Tracker.Ping(ctx, models.PingPanic)
	if err != nil || !queued {
		t.Fatalf("Expected the ping to be queued, got %v %v", queued, err)
	}
	for _, kind := range []models.ReportType{models.ReportVideo, models.ReportAudio} {
		sub, err := first.SubmitReport(ctx, models.NewReport{Type: kind, LocalURI: "file:///tmp/capture", Caption: string(kind)})
		if err != nil || sub.Uploaded {
			t.Fatalf("Expected %s to be queued, got %+v %v", kind, sub, err)
		}
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if len(b.Reports()) != 0 {
		t.Fatal("Nothing should have reached the backend while it was down")
	}

	b.SetDown(false)
	second := open(t, newConfig(t, b.URL, dataDir), netstate.NewManual(netstate.Online))
	defer second.Close()

	if second.Queue.PendingCount(ctx) != 2 || second.Pings.PendingCount(ctx) != 1 {
		t.Fatalf("Queue did not survive the restart: %d reports, %d pings",
			second.Queue.PendingCount(ctx), second.Pings.PendingCount(ctx))
	}
	if !second.Credentials.LoggedIn(ctx) {
		t.Fatal("Session did not survive the restart")
	}

	second.Start(ctx)
	waitFor(t, "the queue to drain", func() bool {
		return second.Queue.PendingCount(ctx) == 0 && second.Pings.PendingCount(ctx) == 0
	})

	if res := second.Processor.Drain(ctx); res.Success != 0 || res.PingSuccess != 0 {
		t.Errorf("A second drain should find nothing, got %+v", res)
	}
	reports := b.Reports()
	if len(reports) != 2 {
		t.Fatalf("Expected exactly 2 reports on the backend, got %d", len(reports))
	}
	seen := map[string]bool{}
	for _, r := range reports {
		if r.UserID != u.ID || seen[r.Caption] {
			t.Errorf("Unexpected or duplicate report %+v", r)
		}
		seen[r.Caption] = true
	}
	if ev, _ := b.Panic(u.ID); len(ev.Pings) != 2 || ev.Category != "robbery" {
		t.Errorf("Expected the activation and the buffered ping, got %+v", ev)
	}
}

// The control API drives the same core the daemon wires up.
func TestControlAPI(t *testing.T) {
	b := backendtest.New()
	defer b.Close()
	b.AddUser("bo@example.org", "pw", models.RoleCivil, false)

	net := netstate.NewManual(netstate.Offline)
	a := open(t, newConfig(t, b.URL, t.TempDir()), net)
	defer a.Close()
	ctx := context.Background()
	if _, err := a.Login(ctx, "bo@example.org", "pw"); err != nil {
		t.Fatal(err)
	}

	ts := httptest.NewServer((&control.Handler{
		Reports:  a.Queue,
		Pings:    a.Pings,
		Drainer:  a.Processor,
		Session:  a.Credentials,
		Tracker:  a.Tracker,
		Location: a.Location,
		Token:    "secret",
	}).Router())
	defer ts.Close()

	call := func(method, path string, body any) *http.Response {
		t.Helper()
		var buf bytes.Buffer
		if body != nil {
			_ = json.NewEncoder(&buf).Encode(body)
		}
		req, _ := http.NewRequest(method, ts.URL+path, &buf)
		req.Header.Set("Authorization", "Bearer secret")
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { resp.Body.Close() })
		return resp
	}

	if resp := call(http.MethodPost, "/queue", models.NewReport{Type: models.ReportVideo, Caption: "via control"}); resp.StatusCode != http.StatusCreated {
		t.Fatalf("Enqueue status %d", resp.StatusCode)
	}

	var res struct {
		Success int    `json:"success"`
		Aborted string `json:"aborted"`
	}
	resp := call(http.MethodPost, "/queue/flush", nil)
	_ = json.NewDecoder(resp.Body).Decode(&res)
	if res.Aborted != "offline" {
		t.Errorf("Expected an offline flush to abort, got %+v", res)
	}

	net.Set(netstate.Online)
	resp = call(http.MethodPost, "/queue/flush", nil)
	res.Aborted = ""
	_ = json.NewDecoder(resp.Body).Decode(&res)
	if res.Success != 1 {
		t.Errorf("Expected the flush to upload, got %+v", res)
	}

	var pending map[string]int
	resp = call(http.MethodGet, "/queue/pending", nil)
	_ = json.NewDecoder(resp.Body).Decode(&pending)
	if pending["count"] != 0 {
		t.Errorf("Expected an empty queue, got %v", pending)
	}
	if got := b.Reports(); len(got) != 1 || got[0].Caption != "via control" {
		t.Errorf("Unexpected backend reports %+v", got)
	}
}
