// Package backendtest runs an in-memory stand-in for the safeguard backend
// for tests. It speaks the same /api contract as the real service, issues
// signed JWTs, and can be switched down or made to revoke every token so
// offline and expired-session paths can be exercised end to end.
package backendtest

import (
	"crypto/rand"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tonero-cloud/safeguard/internal/models"
	"github.com/tonero-cloud/safeguard/internal/transport"
)

// Backend is a fake backend. Call Close when done.
type Backend struct {
	*httptest.Server

	storage    *Storage
	secret     []byte
	tokenTTL   time.Duration
	inviteCode string

	down       atomic.Bool
	generation atomic.Int64
	requests   atomic.Int64
}

// Option configures a Backend.
type Option func(*Backend)

// WithTokenTTL sets the lifetime of issued tokens. The default is one hour.
func WithTokenTTL(d time.Duration) Option {
	return func(b *Backend) { b.tokenTTL = d }
}

// WithInviteCode sets the code required to register security or admin users.
func WithInviteCode(code string) Option {
	return func(b *Backend) { b.inviteCode = code }
}

// New starts a backend on a loopback port.
func New(opts ...Option) *Backend {
	secret := make([]byte, 32)
	_, _ = rand.Read(secret)

	b := &Backend{
		storage:  newStorage(),
		secret:   secret,
		tokenTTL: time.Hour,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.Server = httptest.NewServer(b.Router())
	return b
}

// Router returns the /api route table.
func (b *Backend) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(b.faults)

	r.Route(transport.APIPrefix, func(r chi.Router) {
		r.Post(transport.PathLogin, b.handleLogin)
		r.Post(transport.PathRegister, b.handleRegister)

		r.Group(func(r chi.Router) {
			r.Use(b.AuthMiddleware)
			r.Get(transport.PathProfile, b.handleProfile)
			r.Post(transport.PathCreateReport, b.handleCreateReport)
			r.Post(transport.PathPanicActivate, b.handlePanicActivate)
			r.Post(transport.PathPanicLocation, b.handlePanicLocation)
			r.Post(transport.PathPanicDeactivate, b.handlePanicDeactivate)
			r.Post(transport.PathEscortAction, b.handleEscortAction)
			r.Post(transport.PathEscortLocation, b.handleEscortLocation)
		})
	})
	return r
}

// AddUser creates an account directly.
func (b *Backend) AddUser(email, password string, role models.Role, premium bool) User {
	u, err := b.storage.addUser(models.Profile{Email: email, Role: role, IsPremium: premium}, password)
	if err != nil {
		panic(err)
	}
	return u
}

// Token issues a valid token for u without a login round trip.
func (b *Backend) Token(u User) string {
	tok, err := b.issueToken(u)
	if err != nil {
		panic(err)
	}
	return tok
}

// SetDown makes every request fail with 503 until called with false.
func (b *Backend) SetDown(down bool) { b.down.Store(down) }

// RevokeTokens invalidates every token issued so far.
func (b *Backend) RevokeTokens() { b.generation.Add(1) }

// Requests returns how many requests reached the backend, including the
// ones refused while down.
func (b *Backend) Requests() int64 { return b.requests.Load() }

// Reports returns a copy of the accepted reports in arrival order.
func (b *Backend) Reports() []Report {
	b.storage.mu.RLock()
	defer b.storage.mu.RUnlock()
	out := make([]Report, len(b.storage.reports))
	copy(out, b.storage.reports)
	return out
}

// Panic returns a copy of the user's latest panic event.
func (b *Backend) Panic(userID string) (Panic, bool) {
	b.storage.mu.RLock()
	defer b.storage.mu.RUnlock()
	ev, ok := b.storage.panics[userID]
	if !ok {
		return Panic{}, false
	}
	cp := *ev
	cp.Pings = append([]models.LocationPoint(nil), ev.Pings...)
	return cp, true
}

// Escort returns a copy of the user's latest escort session.
func (b *Backend) Escort(userID string) (Escort, bool) {
	b.storage.mu.RLock()
	defer b.storage.mu.RUnlock()
	e, ok := b.storage.escorts[userID]
	if !ok {
		return Escort{}, false
	}
	cp := *e
	cp.Pings = append([]models.LocationPoint(nil), e.Pings...)
	return cp, true
}
