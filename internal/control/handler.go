package control

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/tonero-cloud/safeguard/internal/apperr"
	"github.com/tonero-cloud/safeguard/internal/models"
	"github.com/tonero-cloud/safeguard/internal/processor"
	"github.com/tonero-cloud/safeguard/internal/tracking"
)

// Reports is the report queue as exposed to the host app.
type Reports interface {
	Enqueue(ctx context.Context, r models.NewReport) (string, error)
	List(ctx context.Context) []models.QueuedReport
	Get(ctx context.Context, id string) (models.QueuedReport, bool)
	PendingCount(ctx context.Context) int
	Remove(ctx context.Context, id string) error
	Retry(ctx context.Context, id string) bool
}

// Pings is the location ping queue as exposed to the host app.
type Pings interface {
	List(ctx context.Context) []models.QueuedPing
	Get(ctx context.Context, id string) (models.QueuedPing, bool)
	PendingCount(ctx context.Context) int
	Remove(ctx context.Context, id string) error
	Retry(ctx context.Context, id string) bool
}

// Drainer runs a drain pass on demand.
type Drainer interface {
	Drain(ctx context.Context) processor.Result
}

// Session is the credential store as exposed to the host app.
type Session interface {
	Metadata(ctx context.Context) models.Metadata
	LoggedIn(ctx context.Context) bool
	ClearSession(ctx context.Context) bool
}

// Tracker controls panic and escort sessions.
type Tracker interface {
	Status() tracking.Status
	StartPanic(ctx context.Context, category string) (string, error)
	StopPanic(ctx context.Context) error
	StartEscort(ctx context.Context) (string, error)
	StopEscort(ctx context.Context) (string, error)
}

// LocationSink receives GPS fixes pushed by the host app.
type LocationSink interface {
	Set(p models.LocationPoint)
}

// Handler serves the control API. Pings, Tracker and Location are optional;
// their routes answer 404 when unset.
type Handler struct {
	Reports  Reports
	Pings    Pings
	Drainer  Drainer
	Session  Session
	Tracker  Tracker
	Location LocationSink
	// Token, when set, must be presented as a bearer token on every request
	// except the health check.
	Token  string
	Logger *slog.Logger
}

func (h *Handler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps a classified error onto an HTTP status.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, tracking.ErrNoFix):
		status = http.StatusConflict
	case apperr.IsUnauthorized(err):
		status = http.StatusUnauthorized
	case apperr.IsKind(err, apperr.KindValidation):
		status = http.StatusBadRequest
	case apperr.IsKind(err, apperr.KindNetwork), apperr.IsKind(err, apperr.KindServer):
		status = http.StatusBadGateway
	}
	http.Error(w, err.Error(), status)
}

// Health answers liveness probes.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ListQueue returns every queued report.
func (h *Handler) ListQueue(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Reports.List(r.Context()))
}

// PendingCount returns the counters the host shows as a badge.
func (h *Handler) PendingCount(w http.ResponseWriter, r *http.Request) {
	resp := map[string]int{"count": h.Reports.PendingCount(r.Context())}
	if h.Pings != nil {
		resp["pings"] = h.Pings.PendingCount(r.Context())
	}
	writeJSON(w, http.StatusOK, resp)
}

// Enqueue buffers a report for later upload.
func (h *Handler) Enqueue(w http.ResponseWriter, r *http.Request) {
	var req models.NewReport
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	id, err := h.Reports.Enqueue(r.Context(), req)
	if err != nil {
		h.logger().Error("failed to enqueue report", "error", err)
		writeError(w, err)
		return
	}
	h.logger().Info("report queued", "id", id, "type", req.Type)
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

// Flush drains the queues now and returns the tally.
func (h *Handler) Flush(w http.ResponseWriter, r *http.Request) {
	res := h.Drainer.Drain(r.Context())
	writeJSON(w, http.StatusOK, res)
}

// DeleteReport drops a queued report.
func (h *Handler) DeleteReport(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, ok := h.Reports.Get(r.Context(), id); !ok {
		http.Error(w, "report not found", http.StatusNotFound)
		return
	}
	if err := h.Reports.Remove(r.Context(), id); err != nil {
		h.logger().Error("failed to delete report", "id", id, "error", err)
		writeError(w, err)
		return
	}
	h.logger().Info("report deleted", "id", id)
	w.WriteHeader(http.StatusNoContent)
}

// RetryReport moves a failed report back to pending.
func (h *Handler) RetryReport(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, ok := h.Reports.Get(r.Context(), id); !ok {
		http.Error(w, "report not found", http.StatusNotFound)
		return
	}
	if !h.Reports.Retry(r.Context(), id) {
		http.Error(w, "report is not in failed state", http.StatusConflict)
		return
	}
	report, _ := h.Reports.Get(r.Context(), id)
	writeJSON(w, http.StatusOK, report)
}

// ListPings returns every buffered location ping.
func (h *Handler) ListPings(w http.ResponseWriter, r *http.Request) {
	if h.Pings == nil {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, h.Pings.List(r.Context()))
}

// DeletePing drops a buffered location ping.
func (h *Handler) DeletePing(w http.ResponseWriter, r *http.Request) {
	if h.Pings == nil {
		http.NotFound(w, r)
		return
	}
	id := chi.URLParam(r, "id")
	if _, ok := h.Pings.Get(r.Context(), id); !ok {
		http.Error(w, "ping not found", http.StatusNotFound)
		return
	}
	if err := h.Pings.Remove(r.Context(), id); err != nil {
		h.logger().Error("failed to delete ping", "id", id, "error", err)
		writeError(w, err)
		return
	}
	h.logger().Info("ping deleted", "id", id)
	w.WriteHeader(http.StatusNoContent)
}

// RetryPing moves a failed ping back to pending.
func (h *Handler) RetryPing(w http.ResponseWriter, r *http.Request) {
	if h.Pings == nil {
		http.NotFound(w, r)
		return
	}
	id := chi.URLParam(r, "id")
	if _, ok := h.Pings.Get(r.Context(), id); !ok {
		http.Error(w, "ping not found", http.StatusNotFound)
		return
	}
	if !h.Pings.Retry(r.Context(), id) {
		http.Error(w, "ping is not in failed state", http.StatusConflict)
		return
	}
	ping, _ := h.Pings.Get(r.Context(), id)
	writeJSON(w, http.StatusOK, ping)
}

// AuthMiddleware requires the control token when one is configured.
func (h *Handler) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.Token == "" {
			next.ServeHTTP(w, r)
			return
		}
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(h.Token)) != 1 {
			http.Error(w, "invalid or missing control token", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
