package control

import (
	"encoding/json"
	"net/http"

	"github.com/tonero-cloud/safeguard/internal/models"
)

type sessionResponse struct {
	LoggedIn  bool        `json:"loggedIn"`
	UserID    string      `json:"userId,omitempty"`
	Role      models.Role `json:"role,omitempty"`
	IsPremium bool        `json:"isPremium"`
}

// GetSession reports whether a user is logged in, without exposing the token.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	meta := h.Session.Metadata(r.Context())
	writeJSON(w, http.StatusOK, sessionResponse{
		LoggedIn:  h.Session.LoggedIn(r.Context()),
		UserID:    meta.UserID,
		Role:      meta.Role,
		IsPremium: meta.IsPremium,
	})
}

// Logout clears the stored session.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if !h.Session.ClearSession(r.Context()) {
		http.Error(w, "failed to clear session", http.StatusInternalServerError)
		return
	}
	h.logger().Info("session cleared by host")
	w.WriteHeader(http.StatusNoContent)
}

// SetLocation records the latest GPS fix.
func (h *Handler) SetLocation(w http.ResponseWriter, r *http.Request) {
	if h.Location == nil {
		http.NotFound(w, r)
		return
	}
	var p models.LocationPoint
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	if p.Latitude < -90 || p.Latitude > 90 || p.Longitude < -180 || p.Longitude > 180 {
		http.Error(w, "coordinates out of range", http.StatusBadRequest)
		return
	}
	h.Location.Set(p)
	w.WriteHeader(http.StatusNoContent)
}

// TrackingStatus returns the active panic or escort session, if any.
func (h *Handler) TrackingStatus(w http.ResponseWriter, r *http.Request) {
	if h.Tracker == nil {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, h.Tracker.Status())
}

// StartPanic activates a panic event.
func (h *Handler) StartPanic(w http.ResponseWriter, r *http.Request) {
	if h.Tracker == nil {
		http.NotFound(w, r)
		return
	}
	var req struct {
		Category string `json:"category"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid JSON", http.StatusBadRequest)
			return
		}
	}
	id, err := h.Tracker.StartPanic(r.Context(), req.Category)
	if err != nil {
		h.logger().Error("failed to activate panic", "error", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"panicId": id})
}

// StopPanic deactivates the panic event.
func (h *Handler) StopPanic(w http.ResponseWriter, r *http.Request) {
	if h.Tracker == nil {
		http.NotFound(w, r)
		return
	}
	if err := h.Tracker.StopPanic(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// StartEscort starts an escort session.
func (h *Handler) StartEscort(w http.ResponseWriter, r *http.Request) {
	if h.Tracker == nil {
		http.NotFound(w, r)
		return
	}
	id, err := h.Tracker.StartEscort(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"sessionId": id})
}

// StopEscort ends the escort session.
func (h *Handler) StopEscort(w http.ResponseWriter, r *http.Request) {
	if h.Tracker == nil {
		http.NotFound(w, r)
		return
	}
	msg, err := h.Tracker.StopEscort(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, models.MessageResponse{Message: msg})
}
