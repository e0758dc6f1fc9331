// Package tracking runs the periodic location reporting behind a panic event
// or an escort session. A ping that cannot be delivered is handed to the
// ping queue so it is retried when the device is back online.
package tracking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/tonero-cloud/safeguard/internal/apperr"
	"github.com/tonero-cloud/safeguard/internal/models"
)

// DefaultInterval is how often a location is reported while tracking.
const DefaultInterval = 30 * time.Second

// Categories accepted for a panic event.
var Categories = []string{"violence", "robbery", "kidnapping", "burglary", "medical", "fire", "harassment", "other"}

// ValidCategory reports whether c is a known panic category.
func ValidCategory(c string) bool {
	return slices.Contains(Categories, c)
}

var (
	// ErrAlreadyActive is returned when a session of either kind is running.
	ErrAlreadyActive = apperr.New(apperr.KindValidation, "TRACKING_ACTIVE", "a tracking session is already active")
	// ErrNotActive is returned when stopping a session that is not running.
	ErrNotActive = apperr.New(apperr.KindValidation, "TRACKING_INACTIVE", "no tracking session of that kind is active")
	// ErrNotPremium is returned when a non-premium user starts an escort.
	ErrNotPremium = apperr.New(apperr.KindValidation, "PREMIUM_REQUIRED", "escort is a premium feature")
	// ErrStartAborted is returned when the tracker is closed while a start is
	// waiting on the backend.
	ErrStartAborted = apperr.New(apperr.KindValidation, "TRACKING_ABORTED", "tracking was stopped while starting")
)

// Backend is the part of the API client tracking needs.
type Backend interface {
	ActivatePanic(ctx context.Context, token string, p models.LocationPoint) (*models.PanicResponse, error)
	LogPanicLocation(ctx context.Context, token string, p models.LocationPoint) error
	DeactivatePanic(ctx context.Context, token string) error
	EscortAction(ctx context.Context, token string, req models.EscortRequest) (*models.EscortResponse, error)
	LogEscortLocation(ctx context.Context, token string, p models.LocationPoint) error
}

// Session is the part of the credential store tracking needs.
type Session interface {
	ValidToken(ctx context.Context) (string, bool)
	Metadata(ctx context.Context) models.Metadata
}

// PingBuffer stores pings that could not be delivered.
type PingBuffer interface {
	Enqueue(ctx context.Context, kind models.PingKind, p models.LocationPoint) (string, error)
}

// LocationProvider returns the device's current position.
type LocationProvider interface {
	Location(ctx context.Context) (models.LocationPoint, error)
}

// Status describes the active session.
type Status struct {
	Active    bool            `json:"active"`
	Kind      models.PingKind `json:"kind,omitempty"`
	ID        string          `json:"id,omitempty"`
	Category  string          `json:"category,omitempty"`
	StartedAt time.Time       `json:"startedAt,omitempty"`
	Sent      int             `json:"sent"`
	Queued    int             `json:"queued"`
}

// Tracker owns at most one running session.
type Tracker struct {
	backend  Backend
	session  Session
	buffer   PingBuffer
	location LocationProvider
	interval time.Duration
	logger   *slog.Logger

	mu     sync.Mutex
	status Status
	cancel context.CancelFunc
	done   chan struct{}
	// starting is set while a start waits on the backend; gen is bumped by
	// Close so a start that loses the race does not launch a loop.
	starting bool
	gen      uint64
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithInterval sets the reporting interval.
func WithInterval(d time.Duration) Option {
	return func(t *Tracker) { t.interval = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Tracker) { t.logger = l }
}

// New returns an idle tracker.
func New(backend Backend, session Session, buffer PingBuffer, location LocationProvider, opts ...Option) *Tracker {
	t := &Tracker{
		backend:  backend,
		session:  session,
		buffer:   buffer,
		location: location,
		interval: DefaultInterval,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Status returns a copy of the current session state.
func (t *Tracker) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

func (t *Tracker) token(ctx context.Context) (string, error) {
	tok, ok := t.session.ValidToken(ctx)
	if !ok {
		return "", apperr.ErrNotAuthenticated
	}
	return tok, nil
}

// StartPanic activates a panic event and starts reporting locations.
func (t *Tracker) StartPanic(ctx context.Context, category string) (string, error) {
	if category == "" {
		category = "other"
	}
	if !ValidCategory(category) {
		return "", apperr.New(apperr.KindValidation, "INVALID_CATEGORY", fmt.Sprintf("unknown emergency category %q", category))
	}
	gen, err := t.reserve()
	if err != nil {
		return "", err
	}
	tok, err := t.token(ctx)
	if err != nil {
		t.release(gen)
		return "", err
	}
	loc, err := t.location.Location(ctx)
	if err != nil {
		t.release(gen)
		return "", fmt.Errorf("get location: %w", err)
	}
	loc.EmergencyCategory = category

	resp, err := t.backend.ActivatePanic(ctx, tok, loc)
	if err != nil {
		t.release(gen)
		return "", err
	}

	if !t.begin(gen, Status{Active: true, Kind: models.PingPanic, ID: resp.PanicID, Category: category, StartedAt: time.Now()}) {
		t.logger.Warn("panic activated after tracker closed", "panic_id", resp.PanicID)
		return "", ErrStartAborted
	}
	t.logger.Warn("panic activated", "panic_id", resp.PanicID, "category", category)
	return resp.PanicID, nil
}

// StopPanic stops reporting and deactivates the panic event.
func (t *Tracker) StopPanic(ctx context.Context) error {
	if err := t.end(models.PingPanic); err != nil {
		return err
	}
	tok, err := t.token(ctx)
	if err != nil {
		return err
	}
	if err := t.backend.DeactivatePanic(ctx, tok); err != nil {
		return err
	}
	t.logger.Info("panic deactivated")
	return nil
}

// StartEscort starts a premium escort session.
func (t *Tracker) StartEscort(ctx context.Context) (string, error) {
	if !t.session.Metadata(ctx).IsPremium {
		return "", ErrNotPremium
	}
	gen, err := t.reserve()
	if err != nil {
		return "", err
	}
	tok, err := t.token(ctx)
	if err != nil {
		t.release(gen)
		return "", err
	}
	loc, err := t.location.Location(ctx)
	if err != nil {
		t.release(gen)
		return "", fmt.Errorf("get location: %w", err)
	}

	resp, err := t.backend.EscortAction(ctx, tok, models.EscortRequest{Action: "start", Location: loc})
	if err != nil {
		t.release(gen)
		return "", err
	}

	if !t.begin(gen, Status{Active: true, Kind: models.PingEscort, ID: resp.SessionID, StartedAt: time.Now()}) {
		t.logger.Warn("escort started after tracker closed", "session_id", resp.SessionID)
		return "", ErrStartAborted
	}
	t.logger.Info("escort started", "session_id", resp.SessionID)
	return resp.SessionID, nil
}

// StopEscort ends the escort session at the current location.
func (t *Tracker) StopEscort(ctx context.Context) (string, error) {
	if err := t.end(models.PingEscort); err != nil {
		return "", err
	}
	tok, err := t.token(ctx)
	if err != nil {
		return "", err
	}
	loc, err := t.location.Location(ctx)
	if err != nil {
		return "", fmt.Errorf("get location: %w", err)
	}
	resp, err := t.backend.EscortAction(ctx, tok, models.EscortRequest{Action: "stop", Location: loc})
	if err != nil {
		return "", err
	}
	t.logger.Info("escort stopped")
	return resp.Message, nil
}

// Ping sends one location for kind right away. When delivery fails for any
// reason but a rejected session, the ping is queued and queued is true.
func (t *Tracker) Ping(ctx context.Context, kind models.PingKind) (queued bool, err error) {
	loc, err := t.location.Location(ctx)
	if err != nil {
		return false, fmt.Errorf("get location: %w", err)
	}
	return t.deliver(ctx, kind, loc)
}

func (t *Tracker) deliver(ctx context.Context, kind models.PingKind, loc models.LocationPoint) (bool, error) {
	tok, err := t.token(ctx)
	if err == nil {
		if kind == models.PingEscort {
			err = t.backend.LogEscortLocation(ctx, tok, loc)
		} else {
			err = t.backend.LogPanicLocation(ctx, tok, loc)
		}
		if err == nil {
			return false, nil
		}
		if apperr.IsUnauthorized(err) {
			return false, err
		}
	}

	t.logger.Warn("location ping not delivered, queueing", "kind", kind, "error", err)
	if _, qerr := t.buffer.Enqueue(ctx, kind, loc); qerr != nil {
		return false, errors.Join(err, qerr)
	}
	return true, nil
}

// reserve claims the single session slot before any backend call, so two
// concurrent starts cannot both activate.
func (t *Tracker) reserve() (uint64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status.Active || t.starting {
		return 0, ErrAlreadyActive
	}
	t.starting = true
	return t.gen, nil
}

func (t *Tracker) release(gen uint64) {
	t.mu.Lock()
	if t.gen == gen {
		t.starting = false
	}
	t.mu.Unlock()
}

// begin turns a reservation into a running loop. It reports false when Close
// ran since the reservation was taken.
func (t *Tracker) begin(gen uint64, s Status) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.gen != gen || !t.starting {
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	t.starting = false
	t.status = s
	t.cancel = cancel
	t.done = done

	go t.loop(ctx, s.Kind, done)
	return true
}

func (t *Tracker) end(kind models.PingKind) error {
	t.mu.Lock()
	if !t.status.Active || t.status.Kind != kind {
		t.mu.Unlock()
		return ErrNotActive
	}
	cancel, done := t.cancel, t.done
	t.status = Status{}
	t.cancel, t.done = nil, nil
	t.mu.Unlock()

	cancel()
	<-done
	return nil
}

// Close stops any running loop without notifying the backend.
func (t *Tracker) Close() {
	t.mu.Lock()
	cancel, done := t.cancel, t.done
	t.status = Status{}
	t.cancel, t.done = nil, nil
	t.starting = false
	t.gen++
	t.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

func (t *Tracker) loop(ctx context.Context, kind models.PingKind, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		loc, err := t.location.Location(ctx)
		if err != nil {
			t.logger.Warn("location unavailable", "kind", kind, "error", err)
			continue
		}
		queued, err := t.deliver(ctx, kind, loc)
		if apperr.IsUnauthorized(err) {
			t.logger.Warn("session rejected, stopping location reporting", "kind", kind)
			t.mu.Lock()
			if t.done == done {
				t.status = Status{}
				t.cancel, t.done = nil, nil
			}
			t.mu.Unlock()
			return
		}

		t.mu.Lock()
		if t.done == done {
			if queued {
				t.status.Queued++
			} else if err == nil {
				t.status.Sent++
			}
		}
		t.mu.Unlock()
	}
}
