// Package control exposes the sync core to the host app over a loopback
// HTTP API: queue inspection, manual flush and delete, session state and
// panic/escort tracking.
package control

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/tonero-cloud/safeguard/internal/transport"
)

// Server is the control HTTP server.
type Server struct {
	Addr    string
	Handler *Handler
	Server  *http.Server
}

// NewServer builds the router for h. A bare port such as "9000" or ":9000"
// is bound to the loopback interface.
func NewServer(addr string, h *Handler) *Server {
	if addr == "" {
		addr = transport.DefaultControlAddr
	}
	if !strings.Contains(addr, ":") {
		addr = ":" + addr
	}
	if addr[0] == ':' {
		addr = "127.0.0.1" + addr
	}

	return &Server{
		Addr:    addr,
		Handler: h,
		Server: &http.Server{
			Addr:              addr,
			Handler:           h.Router(),
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Router returns the route table.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(h.requestLogger)

	r.Get("/healthz", h.Health)

	r.Group(func(r chi.Router) {
		r.Use(h.AuthMiddleware)

		r.Route("/queue", func(r chi.Router) {
			r.Get("/", h.ListQueue)
			r.Post("/", h.Enqueue)
			r.Get("/pending", h.PendingCount)
			r.Post("/flush", h.Flush)
			r.Delete("/{id}", h.DeleteReport)
			r.Post("/{id}/retry", h.RetryReport)
		})
		r.Route("/pings", func(r chi.Router) {
			r.Get("/", h.ListPings)
			r.Delete("/{id}", h.DeletePing)
			r.Post("/{id}/retry", h.RetryPing)
		})

		r.Get("/session", h.GetSession)
		r.Delete("/session", h.Logout)

		r.Post("/location", h.SetLocation)
		r.Get("/tracking", h.TrackingStatus)
		r.Post("/panic", h.StartPanic)
		r.Delete("/panic", h.StopPanic)
		r.Post("/escort", h.StartEscort)
		r.Delete("/escort", h.StopEscort)
	})
	return r
}

func (h *Handler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		h.logger().Debug("control request",
			"method", r.Method, "path", r.URL.Path,
			"status", ww.Status(), "duration", time.Since(start))
	})
}

// Start serves until Shutdown. It returns nil after a clean shutdown.
func (s *Server) Start() error {
	s.Handler.logger().Info("control server starting", "addr", s.Addr)
	if err := s.Server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.Server.Shutdown(ctx)
}
