// Package credentials owns the session token and the user metadata that go
// with it. It is the single answer to "is someone logged in".
//
// The token lives in the secure store when the platform has one and in the
// fallback key-value store otherwise. A marker in the fallback store records
// which backend holds it so a later read never looks in the wrong place.
// Nothing here returns an error: storage failures degrade to "logged out".
package credentials

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tonero-cloud/safeguard/internal/kv"
	"github.com/tonero-cloud/safeguard/internal/models"
	"github.com/tonero-cloud/safeguard/internal/secure"
	"github.com/tonero-cloud/safeguard/internal/transport"
)

// Backend names stored under transport.TokenBackendKey.
const (
	BackendSecure   = "secure"
	BackendFallback = "fallback"
	// BackendNone marks a cleared session. It hides any secure token a failed
	// delete left behind.
	BackendNone = "none"
)

// Store is the credential store.
type Store struct {
	secure   secure.Store
	fallback kv.Store
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for storage diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithClock overrides the clock used for token expiry checks.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New returns a store writing tokens to sec and metadata to fallback.
// A nil sec behaves like a platform without a secure store.
func New(sec secure.Store, fallback kv.Store, opts ...Option) *Store {
	if sec == nil {
		sec = secure.Unavailable{}
	}
	s := &Store{
		secure:   sec,
		fallback: fallback,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Token returns the current bearer token and whether one exists.
func (s *Store) Token(ctx context.Context) (string, bool) {
	backend, _ := s.fallback.Get(ctx, transport.TokenBackendKey)
	if backend == BackendNone {
		return "", false
	}

	if backend != BackendFallback {
		tok, err := s.secure.Get(transport.SecureTokenKey)
		switch {
		case err == nil && tok != "":
			return tok, true
		case err == nil, errors.Is(err, secure.ErrNotFound):
			if backend == BackendSecure {
				return "", false
			}
		default:
			s.logger.Debug("secure store read failed, trying fallback", "error", err)
		}
	}

	tok, err := s.fallback.Get(ctx, transport.FallbackTokenKey)
	if err != nil {
		if !errors.Is(err, kv.ErrNotFound) {
			s.logger.Error("fallback token read failed", "error", err)
		}
		return "", false
	}
	return tok, tok != ""
}

// SaveSession persists a freshly issued session. The token goes to exactly one
// backend; the metadata and backend marker go to the fallback store in one
// atomic write. It reports false if any write failed.
func (s *Store) SaveSession(ctx context.Context, sess models.Session) bool {
	if sess.Token == "" {
		s.logger.Warn("refusing to save session without a token")
		return false
	}

	pairs := map[string]string{
		transport.UserIDKey:    sess.UserID,
		transport.UserRoleKey:  string(sess.Role),
		transport.IsPremiumKey: strconv.FormatBool(sess.IsPremium),
	}

	err := s.secure.Set(transport.SecureTokenKey, sess.Token)
	switch {
	case err == nil:
		pairs[transport.TokenBackendKey] = BackendSecure
	case errors.Is(err, secure.ErrUnavailable):
		s.logger.Warn("secure store unavailable, storing token in fallback store", "error", err)
		pairs[transport.TokenBackendKey] = BackendFallback
		pairs[transport.FallbackTokenKey] = sess.Token
	default:
		s.logger.Error("secure token write failed", "error", err)
		return false
	}

	if err := s.fallback.MultiSet(ctx, pairs); err != nil {
		s.logger.Error("session metadata write failed", "error", err)
		if pairs[transport.TokenBackendKey] == BackendSecure {
			// Without a marker the orphaned token would still be readable.
			if err := s.secure.Delete(transport.SecureTokenKey); err != nil && !errors.Is(err, secure.ErrNotFound) {
				s.logger.Error("orphaned secure token delete failed", "error", err)
			}
		}
		return false
	}

	if pairs[transport.TokenBackendKey] == BackendSecure {
		// Drop a mirror left behind by an earlier fallback login. The marker
		// routes reads to the secure store either way.
		if err := s.fallback.MultiRemove(ctx, transport.FallbackTokenKey); err != nil {
			s.logger.Warn("stale fallback token removal failed", "error", err)
		}
	}

	s.logger.Info("session saved", "user_id", sess.UserID, "role", sess.Role, "backend", pairs[transport.TokenBackendKey])
	return true
}

// ClearSession removes the token from both backends and every metadata key,
// leaving a BackendNone marker so a token the secure store failed to delete
// stays unreadable.
func (s *Store) ClearSession(ctx context.Context) bool {
	ok := true
	if err := s.fallback.MultiSet(ctx, map[string]string{transport.TokenBackendKey: BackendNone}); err != nil {
		s.logger.Error("session marker write failed", "error", err)
		ok = false
	}

	if err := s.secure.Delete(transport.SecureTokenKey); err != nil && !errors.Is(err, secure.ErrNotFound) {
		if ok && errors.Is(err, secure.ErrUnavailable) {
			s.logger.Warn("secure store unavailable, token hidden by marker", "error", err)
		} else {
			s.logger.Error("secure token delete failed", "error", err)
			ok = false
		}
	}

	if err := s.fallback.MultiRemove(ctx,
		transport.FallbackTokenKey,
		transport.UserIDKey,
		transport.UserRoleKey,
		transport.IsPremiumKey,
	); err != nil {
		s.logger.Error("session metadata removal failed", "error", err)
		ok = false
	}

	s.logger.Info("session cleared", "ok", ok)
	return ok
}

// Metadata returns the stored user metadata, or the zero value when absent.
func (s *Store) Metadata(ctx context.Context) models.Metadata {
	var md models.Metadata
	md.UserID = s.get(ctx, transport.UserIDKey)
	md.Role = models.Role(s.get(ctx, transport.UserRoleKey))
	md.IsPremium = s.get(ctx, transport.IsPremiumKey) == "true"
	return md
}

func (s *Store) get(ctx context.Context, key string) string {
	v, err := s.fallback.Get(ctx, key)
	if err != nil && !errors.Is(err, kv.ErrNotFound) {
		s.logger.Warn("metadata read failed", "key", key, "error", err)
	}
	return v
}

// Claims is what the backend encodes in its JWT bearer tokens.
type Claims struct {
	UserID    string
	Role      models.Role
	ExpiresAt time.Time
}

// Claims decodes the current token without verifying its signature; the
// backend is the only party that can verify it. ok is false when there is no
// token or it is not a JWT.
func (s *Store) Claims(ctx context.Context) (Claims, bool) {
	tok, ok := s.Token(ctx)
	if !ok {
		return Claims{}, false
	}
	return parseClaims(tok)
}

func parseClaims(tok string) (Claims, bool) {
	mc := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tok, mc); err != nil {
		return Claims{}, false
	}

	var c Claims
	if v, ok := mc["user_id"].(string); ok {
		c.UserID = v
	} else if sub, err := mc.GetSubject(); err == nil {
		c.UserID = sub
	}
	if v, ok := mc["role"].(string); ok {
		c.Role = models.Role(v)
	}
	if exp, err := mc.GetExpirationTime(); err == nil && exp != nil {
		c.ExpiresAt = exp.Time
	}
	return c, true
}

// ValidToken returns the token unless it is a JWT whose expiry has passed.
// Opaque tokens are passed through; only the backend can judge them.
func (s *Store) ValidToken(ctx context.Context) (string, bool) {
	tok, ok := s.Token(ctx)
	if !ok {
		return "", false
	}
	if c, isJWT := parseClaims(tok); isJWT && !c.ExpiresAt.IsZero() && !s.now().Before(c.ExpiresAt) {
		s.logger.Info("stored token has expired", "user_id", c.UserID, "expired_at", c.ExpiresAt)
		return "", false
	}
	return tok, true
}

// LoggedIn reports whether a usable token is stored.
func (s *Store) LoggedIn(ctx context.Context) bool {
	_, ok := s.ValidToken(ctx)
	return ok
}

// HandleUnauthorized is called whenever the backend answers 401.
func (s *Store) HandleUnauthorized(ctx context.Context) {
	s.logger.Warn("backend rejected session, logging out")
	s.ClearSession(ctx)
}
