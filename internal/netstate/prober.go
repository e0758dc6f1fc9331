package netstate

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"
)

// Prober derives connectivity from the host: the link is up when a
// non-loopback interface is up with an address, and the internet is reachable
// when the probe URL answers at all. It emits only on change.
type Prober struct {
	mu       sync.Mutex
	url      string
	state    State
	known    bool
	interval time.Duration
	client   *http.Client
	linkUp   func() bool
	logger   *slog.Logger
	subs     listeners
}

// ProberOption configures a Prober.
type ProberOption func(*Prober)

// WithInterval sets how often Run probes.
func WithInterval(d time.Duration) ProberOption {
	return func(p *Prober) { p.interval = d }
}

// WithHTTPClient sets the client used for the reachability probe.
func WithHTTPClient(c *http.Client) ProberOption {
	return func(p *Prober) { p.client = c }
}

// WithLinkCheck overrides the interface scan.
func WithLinkCheck(fn func() bool) ProberOption {
	return func(p *Prober) { p.linkUp = fn }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ProberOption {
	return func(p *Prober) { p.logger = l }
}

// NewProber returns a prober that checks reachability against url.
func NewProber(url string, opts ...ProberOption) *Prober {
	p := &Prober{
		url:      url,
		interval: 10 * time.Second,
		client:   &http.Client{Timeout: 5 * time.Second},
		linkUp:   hasActiveInterface,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// SetURL changes the probe target, e.g. after the backend URL is reconfigured.
func (p *Prober) SetURL(url string) {
	p.mu.Lock()
	p.url = url
	p.mu.Unlock()
}

func (p *Prober) Subscribe(fn func(State)) func() {
	return p.subs.add(fn)
}

// Current probes now and returns the fresh state.
func (p *Prober) Current(ctx context.Context) State {
	return p.Check(ctx)
}

// Check probes once, records the result and notifies subscribers if it
// differs from the previous observation.
func (p *Prober) Check(ctx context.Context) State {
	s := State{IsConnected: p.linkUp()}
	if s.IsConnected {
		s.IsInternetReachable = Reachable(p.reach(ctx))
	} else {
		s.IsInternetReachable = Reachable(false)
	}

	p.mu.Lock()
	changed := !p.known || !p.state.Equal(s)
	p.state = s
	p.known = true
	p.mu.Unlock()

	if changed {
		p.logger.Info("connectivity changed", "connected", s.IsConnected, "online", s.Online())
		p.subs.emit(s)
	}
	return s
}

func (p *Prober) reach(ctx context.Context) bool {
	p.mu.Lock()
	url := p.url
	p.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		p.logger.Warn("bad probe url", "url", url, "error", err)
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		p.logger.Debug("probe failed", "url", url, "error", err)
		return false
	}
	_ = resp.Body.Close()
	return true
}

// Run probes every interval until ctx is done.
func (p *Prober) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Check(ctx)
		}
	}
}

func hasActiveInterface() bool {
	ifaces, err := net.Interfaces()
	if err != nil {
		return false
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err == nil && len(addrs) > 0 {
			return true
		}
	}
	return false
}
