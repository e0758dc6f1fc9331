package backendtest

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tonero-cloud/safeguard/internal/models"
	"github.com/tonero-cloud/safeguard/internal/tracking"
)

type contextKey string

const userContextKey contextKey = "user"

type claims struct {
	UserID     string      `json:"user_id"`
	Role       models.Role `json:"role"`
	Generation int64       `json:"gen"`
	jwt.RegisteredClaims
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeDetail answers with the {"detail": ...} body the real backend uses.
func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func (b *Backend) issueToken(u User) (string, error) {
	now := time.Now()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		UserID:     u.ID,
		Role:       u.Role,
		Generation: b.generation.Load(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(b.tokenTTL)),
		},
	})
	return tok.SignedString(b.secret)
}

func authResponse(u User, token string) models.AuthResponse {
	return models.AuthResponse{Token: token, UserID: u.ID, Email: u.Email, Role: u.Role, IsPremium: u.IsPremium}
}

func (b *Backend) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req models.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid request")
		return
	}
	if req.Email == "" || req.Password == "" {
		writeDetail(w, http.StatusBadRequest, "email and password required")
		return
	}
	if req.Password != req.ConfirmPassword {
		writeDetail(w, http.StatusBadRequest, "Passwords do not match")
		return
	}
	if req.Role == "" {
		req.Role = models.RoleCivil
	}
	if !req.Role.Valid() {
		writeDetail(w, http.StatusBadRequest, "invalid role")
		return
	}
	if req.Role != models.RoleCivil && (b.inviteCode == "" || req.InviteCode != b.inviteCode) {
		writeDetail(w, http.StatusForbidden, "Invalid invite code")
		return
	}

	u, err := b.storage.addUser(models.Profile{Email: req.Email, FullName: req.FullName, Phone: req.Phone, Role: req.Role}, req.Password)
	if errors.Is(err, errUserExists) {
		writeDetail(w, http.StatusBadRequest, "Email already registered")
		return
	}
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	token, err := b.issueToken(u)
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	slog.Debug("user registered", "user_id", u.ID, "role", u.Role)
	writeJSON(w, http.StatusOK, authResponse(u, token))
}

func (b *Backend) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req models.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid request")
		return
	}
	u, ok := b.storage.authenticate(req.Email, req.Password)
	if !ok {
		writeDetail(w, http.StatusUnauthorized, "Invalid email or password")
		return
	}
	token, err := b.issueToken(u)
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, authResponse(u, token))
}

func (b *Backend) handleProfile(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, userFrom(r).Profile)
}

func (b *Backend) handleCreateReport(w http.ResponseWriter, r *http.Request) {
	var req models.CreateReportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid request")
		return
	}
	if !req.Type.Valid() {
		writeDetail(w, http.StatusBadRequest, "invalid report type")
		return
	}
	rep := b.storage.addReport(userFrom(r).ID, req)
	writeJSON(w, http.StatusOK, models.CreateReportResponse{ReportID: rep.ID, Message: "Report submitted"})
}

func (b *Backend) handlePanicActivate(w http.ResponseWriter, r *http.Request) {
	var p models.LocationPoint
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid request")
		return
	}
	category := p.EmergencyCategory
	if category == "" {
		category = "other"
	}
	if !tracking.ValidCategory(category) {
		writeDetail(w, http.StatusBadRequest, "invalid emergency category")
		return
	}
	ev := b.storage.activatePanic(userFrom(r).ID, category, p)
	writeJSON(w, http.StatusOK, models.PanicResponse{PanicID: ev.ID, Message: "Panic activated"})
}

func (b *Backend) handlePanicLocation(w http.ResponseWriter, r *http.Request) {
	var p models.LocationPoint
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid request")
		return
	}
	if !b.storage.logPanic(userFrom(r).ID, p) {
		writeDetail(w, http.StatusNotFound, "No active panic")
		return
	}
	writeJSON(w, http.StatusOK, models.MessageResponse{Message: "Location logged"})
}

func (b *Backend) handlePanicDeactivate(w http.ResponseWriter, r *http.Request) {
	if !b.storage.deactivatePanic(userFrom(r).ID) {
		writeDetail(w, http.StatusNotFound, "No active panic")
		return
	}
	writeJSON(w, http.StatusOK, models.MessageResponse{Message: "Panic deactivated"})
}

func (b *Backend) handleEscortAction(w http.ResponseWriter, r *http.Request) {
	u := userFrom(r)
	if !u.IsPremium {
		writeDetail(w, http.StatusForbidden, "Premium subscription required")
		return
	}
	var req models.EscortRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid request")
		return
	}
	switch req.Action {
	case "start":
		e := b.storage.startEscort(u.ID, req.Location)
		writeJSON(w, http.StatusOK, models.EscortResponse{SessionID: e.ID, Message: "Escort started"})
	case "stop":
		if !b.storage.stopEscort(u.ID, req.Location) {
			writeDetail(w, http.StatusNotFound, "No active escort")
			return
		}
		writeJSON(w, http.StatusOK, models.EscortResponse{Message: "Escort ended"})
	default:
		writeDetail(w, http.StatusBadRequest, "action must be start or stop")
	}
}

func (b *Backend) handleEscortLocation(w http.ResponseWriter, r *http.Request) {
	var p models.LocationPoint
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid request")
		return
	}
	if !b.storage.logEscort(userFrom(r).ID, p) {
		writeDetail(w, http.StatusNotFound, "No active escort")
		return
	}
	writeJSON(w, http.StatusOK, models.MessageResponse{Message: "Location logged"})
}

func userFrom(r *http.Request) User {
	u, _ := r.Context().Value(userContextKey).(User)
	return u
}

// AuthMiddleware requires a bearer JWT signed by this backend and issued
// after the last RevokeTokens call.
func (b *Backend) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || raw == "" {
			writeDetail(w, http.StatusUnauthorized, "Not authenticated")
			return
		}

		var c claims
		_, err := jwt.ParseWithClaims(raw, &c, func(*jwt.Token) (any, error) { return b.secret, nil },
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil {
			writeDetail(w, http.StatusUnauthorized, "Token expired or invalid")
			return
		}
		if c.Generation != b.generation.Load() {
			writeDetail(w, http.StatusUnauthorized, "Token revoked")
			return
		}

		u, ok := b.storage.userByID(c.UserID)
		if !ok {
			writeDetail(w, http.StatusUnauthorized, "User not found")
			return
		}
		ctx := context.WithValue(r.Context(), userContextKey, u)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// faults answers 503 while the backend is marked down.
func (b *Backend) faults(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.requests.Add(1)
		if b.down.Load() {
			writeDetail(w, http.StatusServiceUnavailable, "Service unavailable")
			return
		}
		next.ServeHTTP(w, r)
	})
}
