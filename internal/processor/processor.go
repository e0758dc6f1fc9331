// Package processor drains the offline queues whenever the device comes back
// online.
//
// Connectivity events are debounced: a burst of events during a flaky
// transition schedules one drain, timed from the last event. Drain passes
// never overlap. A drain requested while one is running is folded into a
// single follow-up pass run by the caller that owns the running pass.
package processor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/tonero-cloud/safeguard/internal/apperr"
	"github.com/tonero-cloud/safeguard/internal/debounce"
	"github.com/tonero-cloud/safeguard/internal/models"
	"github.com/tonero-cloud/safeguard/internal/netstate"
	"github.com/tonero-cloud/safeguard/internal/queue"
)

// Defaults for the drain loop.
const (
	DefaultDebounce = 2 * time.Second
	DefaultGap      = 500 * time.Millisecond
)

const drainKey = "drain"

// Reasons a pass stops before touching any item, or stops early.
const (
	AbortOffline      = "offline"
	AbortNoSession    = "no session"
	AbortUnauthorized = "unauthorized"
	AbortCancelled    = "cancelled"
)

// TokenSource returns the bearer token to use, read fresh for every pass.
type TokenSource interface {
	ValidToken(ctx context.Context) (string, bool)
}

// Reports is the report queue as seen by the processor.
type Reports interface {
	Pending(ctx context.Context) []models.QueuedReport
	AttemptUpload(ctx context.Context, r models.QueuedReport, token string) queue.Attempt
	RecoverInterrupted(ctx context.Context) int
}

// Pings is the location ping queue as seen by the processor.
type Pings interface {
	Pending(ctx context.Context) []models.QueuedPing
	AttemptSend(ctx context.Context, p models.QueuedPing, token string) queue.Attempt
	RecoverInterrupted(ctx context.Context) int
}

// Result tallies one drain call.
type Result struct {
	Success     int    `json:"success"`
	Failed      int    `json:"failed"`
	PingSuccess int    `json:"pingSuccess"`
	PingFailed  int    `json:"pingFailed"`
	Passes      int    `json:"passes"`
	Aborted     string `json:"aborted,omitempty"`
	// Coalesced is set when the request was folded into a running drain.
	Coalesced bool `json:"coalesced,omitempty"`
}

func (r *Result) add(o Result) {
	r.Success += o.Success
	r.Failed += o.Failed
	r.PingSuccess += o.PingSuccess
	r.PingFailed += o.PingFailed
	r.Passes += o.Passes
	r.Aborted = o.Aborted
}

// Processor is the network-triggered drain loop.
type Processor struct {
	reports Reports
	pings   Pings
	tokens  TokenSource
	net     netstate.Source

	debouncer *debounce.Debouncer
	gap       time.Duration
	onPass    func(Result)
	logger    *slog.Logger

	mu       sync.Mutex
	running  bool
	rerun    bool
	started  bool
	stopped  bool
	baseCtx  context.Context
	cancel   context.CancelFunc
	unsub    func()
	inflight sync.WaitGroup
}

// Option configures a Processor.
type Option func(*Processor)

// WithDebounce sets the quiet period after a connectivity event.
func WithDebounce(d time.Duration) Option {
	return func(p *Processor) { p.debouncer = debounce.New(d) }
}

// WithGap sets the pause between two uploads in a pass.
func WithGap(d time.Duration) Option {
	return func(p *Processor) { p.gap = d }
}

// WithPings also drains the location ping queue in every pass.
func WithPings(q Pings) Option {
	return func(p *Processor) { p.pings = q }
}

// WithPassHook calls fn after every completed pass.
func WithPassHook(fn func(Result)) Option {
	return func(p *Processor) { p.onPass = fn }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Processor) { p.logger = l }
}

// New returns a processor. It does nothing until Start.
func New(reports Reports, tokens TokenSource, net netstate.Source, opts ...Option) *Processor {
	p := &Processor{
		reports:   reports,
		tokens:    tokens,
		net:       net,
		debouncer: debounce.New(DefaultDebounce),
		gap:       DefaultGap,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start subscribes to connectivity changes and runs one drain right away, in
// case the device was online before the subscription existed.
func (p *Processor) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.baseCtx, p.cancel = context.WithCancel(ctx)
	p.mu.Unlock()

	p.reports.RecoverInterrupted(ctx)
	if p.pings != nil {
		p.pings.RecoverInterrupted(ctx)
	}

	unsub := p.net.Subscribe(p.onNetworkChange)
	p.mu.Lock()
	p.unsub = unsub
	p.mu.Unlock()

	p.logger.Info("queue processor started", "debounce", p.debouncer.Duration(), "gap", p.gap)
	p.spawn(func(ctx context.Context) {
		res := p.Drain(ctx)
		p.logger.Info("initial drain finished", "success", res.Success, "failed", res.Failed, "aborted", res.Aborted)
	})
}

// Stop unsubscribes, drops any scheduled drain and waits for a running one.
// A running pass is cancelled between items.
func (p *Processor) Stop() {
	p.mu.Lock()
	if !p.started || p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	unsub := p.unsub
	p.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	p.debouncer.Clear()
	p.cancel()
	p.inflight.Wait()
	p.logger.Info("queue processor stopped")
}

// Scheduled reports whether a debounced drain is waiting to fire.
func (p *Processor) Scheduled() bool {
	return p.debouncer.Pending(drainKey)
}

func (p *Processor) onNetworkChange(s netstate.State) {
	if !s.Online() {
		p.logger.Debug("connectivity lost", "connected", s.IsConnected)
		return
	}
	p.logger.Debug("connectivity regained, scheduling drain")
	p.debouncer.Debounce(drainKey, func() {
		p.spawn(func(ctx context.Context) { p.Drain(ctx) })
	})
}

// spawn runs fn in the processor's lifetime unless it has been stopped.
func (p *Processor) spawn(fn func(ctx context.Context)) {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	ctx := p.baseCtx
	p.inflight.Add(1)
	p.mu.Unlock()

	go func() {
		defer p.inflight.Done()
		fn(ctx)
	}()
}

// Drain runs a full pass now. If a pass is already running, the request is
// folded into one follow-up pass and Drain returns a coalesced Result.
func (p *Processor) Drain(ctx context.Context) Result {
	p.mu.Lock()
	if p.running {
		p.rerun = true
		p.mu.Unlock()
		p.logger.Debug("drain already running, coalescing")
		return Result{Coalesced: true}
	}
	p.running = true
	p.mu.Unlock()

	var total Result
	for {
		total.add(p.pass(ctx))

		p.mu.Lock()
		if p.rerun && ctx.Err() == nil {
			p.rerun = false
			p.mu.Unlock()
			continue
		}
		p.rerun = false
		p.running = false
		p.mu.Unlock()
		return total
	}
}

func (p *Processor) pass(ctx context.Context) Result {
	res := Result{Passes: 1}
	defer func() {
		if p.onPass != nil {
			p.onPass(res)
		}
	}()

	if !p.net.Current(ctx).Online() {
		res.Aborted = AbortOffline
		p.logger.Debug("skipping drain, offline")
		return res
	}
	token, ok := p.tokens.ValidToken(ctx)
	if !ok {
		res.Aborted = AbortNoSession
		p.logger.Debug("skipping drain, no session")
		return res
	}

	first := true
	wait := func() bool {
		if first {
			first = false
			return true
		}
		return sleep(ctx, p.gap)
	}

	for _, r := range p.reports.Pending(ctx) {
		if !wait() {
			res.Aborted = AbortCancelled
			return res
		}
		a := p.reports.AttemptUpload(ctx, r, token)
		switch {
		case a.OK():
			res.Success++
		case a.Outcome != queue.Skipped:
			res.Failed++
		}
		if apperr.IsUnauthorized(a.Err) {
			// The session is gone; the rest would only burn retries.
			res.Aborted = AbortUnauthorized
			p.logger.Warn("drain stopped, session rejected", "success", res.Success, "failed", res.Failed)
			return res
		}
	}

	if p.pings != nil {
		for _, pg := range p.pings.Pending(ctx) {
			if !wait() {
				res.Aborted = AbortCancelled
				return res
			}
			a := p.pings.AttemptSend(ctx, pg, token)
			switch {
			case a.OK():
				res.PingSuccess++
			case a.Outcome != queue.Skipped:
				res.PingFailed++
			}
			if apperr.IsUnauthorized(a.Err) {
				res.Aborted = AbortUnauthorized
				return res
			}
		}
	}

	if res.Success+res.Failed+res.PingSuccess+res.PingFailed > 0 {
		p.logger.Info("drain finished",
			"success", res.Success, "failed", res.Failed,
			"ping_success", res.PingSuccess, "ping_failed", res.PingFailed)
	}
	return res
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
