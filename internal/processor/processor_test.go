package processor

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tonero-cloud/safeguard/internal/apperr"
	"github.com/tonero-cloud/safeguard/internal/kv"
	"github.com/tonero-cloud/safeguard/internal/models"
	"github.com/tonero-cloud/safeguard/internal/netstate"
	"github.com/tonero-cloud/safeguard/internal/queue"
)

type staticToken struct {
	mu  sync.Mutex
	tok string
}

func (s *staticToken) ValidToken(context.Context) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tok, s.tok != ""
}

func (s *staticToken) clear() {
	s.mu.Lock()
	s.tok = ""
	s.mu.Unlock()
}

// backend answers report uploads. block, when set, holds each upload until
// released; unauthorized makes every upload a 401.
type backend struct {
	mu           sync.Mutex
	calls        int
	block        chan struct{}
	started      chan struct{}
	unauthorized bool
	onUnauth     func()
}

func (b *backend) CreateReport(ctx context.Context, token string, req models.CreateReportRequest) (*models.CreateReportResponse, error) {
	b.mu.Lock()
	b.calls++
	block, started, unauth := b.block, b.started, b.unauthorized
	b.mu.Unlock()

	if started != nil {
		select {
		case started <- struct{}{}:
		default:
		}
	}
	if block != nil {
		<-block
	}
	if unauth {
		if b.onUnauth != nil {
			b.onUnauth()
		}
		return nil, apperr.New(apperr.KindAuth, "UNAUTHORIZED", "Token expired").WithStatus(401)
	}
	return &models.CreateReportResponse{ReportID: "r"}, nil
}

func (b *backend) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

func newQueue(t *testing.T, b *backend) *queue.Queue {
	t.Helper()
	store, err := kv.OpenFile(filepath.Join(t.TempDir(), "store.json"))
	if err != nil {
		t.Fatal(err)
	}
	return queue.New(store, b)
}

func enqueue(t *testing.T, q *queue.Queue, caption string) string {
	t.Helper()
	id, err := q.Enqueue(context.Background(), models.NewReport{Type: models.ReportAudio, Caption: caption, Latitude: 9.08, Longitude: 8.67})
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	return id
}

func TestDrainEmptyQueue(t *testing.T) {
	b := &backend{}
	q := newQueue(t, b)
	p := New(q, &staticToken{tok: "tok"}, netstate.NewManual(netstate.Online), WithGap(0))

	res := p.Drain(context.Background())
	if res.Success != 0 || res.Failed != 0 || res.Aborted != "" {
		t.Errorf("Expected empty tally, got %+v", res)
	}
	if len(q.List(context.Background())) != 0 || b.count() != 0 {
		t.Error("Empty drain must not touch the queue or the backend")
	}
}

func TestDrainUploadsPending(t *testing.T) {
	b := &backend{}
	q := newQueue(t, b)
	enqueue(t, q, "one")
	enqueue(t, q, "two")

	p := New(q, &staticToken{tok: "tok"}, netstate.NewManual(netstate.Online), WithGap(10*time.Millisecond))
	res := p.Drain(context.Background())
	if res.Success != 2 || res.Failed != 0 {
		t.Errorf("Expected 2 uploads, got %+v", res)
	}
	if n := q.PendingCount(context.Background()); n != 0 {
		t.Errorf("Expected empty queue, %d left", n)
	}
}

func TestDrainAbortsWithoutConnectivityOrSession(t *testing.T) {
	b := &backend{}
	q := newQueue(t, b)
	enqueue(t, q, "one")
	ctx := context.Background()

	offline := New(q, &staticToken{tok: "tok"}, netstate.NewManual(netstate.Offline), WithGap(0))
	if res := offline.Drain(ctx); res.Aborted != AbortOffline || res.Success+res.Failed != 0 {
		t.Errorf("Expected offline abort, got %+v", res)
	}

	// Link up but reachability unknown still counts as offline.
	unknown := New(q, &staticToken{tok: "tok"}, netstate.NewManual(netstate.State{IsConnected: true}), WithGap(0))
	if res := unknown.Drain(ctx); res.Aborted != AbortOffline {
		t.Errorf("Expected offline abort, got %+v", res)
	}

	loggedOut := New(q, &staticToken{}, netstate.NewManual(netstate.Online), WithGap(0))
	if res := loggedOut.Drain(ctx); res.Aborted != AbortNoSession {
		t.Errorf("Expected no-session abort, got %+v", res)
	}
	if b.count() != 0 {
		t.Error("Aborted passes must not call the backend")
	}
	if r := q.List(ctx)[0]; r.RetryCount != 0 {
		t.Errorf("Aborted passes must not spend retries, got %d", r.RetryCount)
	}
}

func TestDrainStopsOnUnauthorized(t *testing.T) {
	tokens := &staticToken{tok: "tok"}
	b := &backend{unauthorized: true}
	b.onUnauth = tokens.clear
	q := newQueue(t, b)
	first := enqueue(t, q, "one")
	second := enqueue(t, q, "two")
	ctx := context.Background()

	p := New(q, tokens, netstate.NewManual(netstate.Online), WithGap(0))
	res := p.Drain(ctx)
	if res.Aborted != AbortUnauthorized || res.Failed != 1 {
		t.Errorf("Expected abort after one 401, got %+v", res)
	}
	if b.count() != 1 {
		t.Errorf("Expected one backend call, got %d", b.count())
	}
	if r, _ := q.Get(ctx, first); r.RetryCount != 1 {
		t.Errorf("First report retry count %d, want 1", r.RetryCount)
	}
	if r, _ := q.Get(ctx, second); r.RetryCount != 0 {
		t.Errorf("Second report should be untouched, retry count %d", r.RetryCount)
	}
	if res := p.Drain(ctx); res.Aborted != AbortNoSession {
		t.Errorf("Expected the next pass to see no session, got %+v", res)
	}
}

func TestDebounceCollapsesEvents(t *testing.T) {
	b := &backend{}
	q := newQueue(t, b)
	net := netstate.NewManual(netstate.Offline)

	var passes atomic.Int32
	p := New(q, &staticToken{tok: "tok"}, net,
		WithDebounce(300*time.Millisecond),
		WithGap(0),
		WithPassHook(func(r Result) {
			if r.Aborted == "" {
				passes.Add(1)
			}
		}),
	)
	p.Start(context.Background())
	defer p.Stop()

	// Let the initial offline drain finish.
	time.Sleep(50 * time.Millisecond)
	enqueue(t, q, "queued while offline")

	net.Set(netstate.Online)
	time.Sleep(150 * time.Millisecond)
	net.Set(netstate.Online)

	// The first event's timer would have fired by now.
	time.Sleep(200 * time.Millisecond)
	if n := passes.Load(); n != 0 {
		t.Fatalf("Drain ran %d times before the debounce from the second event elapsed", n)
	}
	if !p.Scheduled() {
		t.Error("Expected a drain to be scheduled")
	}

	time.Sleep(400 * time.Millisecond)
	if n := passes.Load(); n != 1 {
		t.Errorf("Expected exactly one drain pass, got %d", n)
	}
	if b.count() != 1 {
		t.Errorf("Expected one upload, got %d", b.count())
	}
}

func TestOfflineEventDoesNotSchedule(t *testing.T) {
	q := newQueue(t, &backend{})
	net := netstate.NewManual(netstate.Offline)
	p := New(q, &staticToken{tok: "tok"}, net, WithDebounce(50*time.Millisecond))
	p.Start(context.Background())
	defer p.Stop()

	net.Set(netstate.State{IsConnected: true, IsInternetReachable: netstate.Reachable(false)})
	if p.Scheduled() {
		t.Error("A connected but unreachable event must not schedule a drain")
	}
}

func TestInitialDrainOnStart(t *testing.T) {
	b := &backend{}
	q := newQueue(t, b)
	enqueue(t, q, "left over from last run")

	done := make(chan Result, 1)
	p := New(q, &staticToken{tok: "tok"}, netstate.NewManual(netstate.Online),
		WithGap(0),
		WithPassHook(func(r Result) { done <- r }),
	)
	p.Start(context.Background())
	defer p.Stop()

	select {
	case r := <-done:
		if r.Success != 1 {
			t.Errorf("Initial drain result %+v", r)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Initial drain did not run")
	}
}

func TestConcurrentDrainsCoalesce(t *testing.T) {
	b := &backend{block: make(chan struct{}), started: make(chan struct{}, 1)}
	q := newQueue(t, b)
	enqueue(t, q, "first")
	ctx := context.Background()

	p := New(q, &staticToken{tok: "tok"}, netstate.NewManual(netstate.Online), WithGap(0))

	results := make(chan Result, 1)
	go func() { results <- p.Drain(ctx) }()
	<-b.started

	enqueue(t, q, "second")
	if res := p.Drain(ctx); !res.Coalesced {
		t.Fatalf("Expected second drain to coalesce, got %+v", res)
	}
	if res := p.Drain(ctx); !res.Coalesced {
		t.Fatalf("Expected third drain to coalesce, got %+v", res)
	}
	close(b.block)

	res := <-results
	if res.Passes != 2 {
		t.Errorf("Expected one follow-up pass, got %d passes", res.Passes)
	}
	if res.Success != 2 || b.count() != 2 {
		t.Errorf("Expected each report uploaded once, got %+v with %d calls", res, b.count())
	}
}

func TestStopCancelsScheduledDrain(t *testing.T) {
	b := &backend{}
	q := newQueue(t, b)
	net := netstate.NewManual(netstate.Offline)
	p := New(q, &staticToken{tok: "tok"}, net, WithDebounce(50*time.Millisecond), WithGap(0))
	p.Start(context.Background())

	enqueue(t, q, "never sent")
	net.Set(netstate.Online)
	p.Stop()

	time.Sleep(150 * time.Millisecond)
	if b.count() != 0 {
		t.Error("A stopped processor must not drain")
	}
}
