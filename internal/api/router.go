package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-cloudlink/internal/cloudlink"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeNotFound(w, "no such endpoint")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, ErrCodeMethodNotAllow, "method not allowed")
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/status", s.handleStatus)
		r.Get("/metrics", s.handleMetrics)
	})

	return r
}

// healthResponse is the body of GET /api/v1/health.
type healthResponse struct {
	Status     string `json:"status"`
	Version    string `json:"version"`
	Local      string `json:"local"`
	Cloud      string `json:"cloud"`
	Registered bool   `json:"registered"`
}

// handleHealth always answers 200 while the process serves requests.
// Status is "ok" once both links are subscribed, "degraded" otherwise.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	st := s.status.Status()

	resp := healthResponse{
		Status:     "ok",
		Version:    s.version,
		Local:      st.Local.State,
		Cloud:      st.Cloud.State,
		Registered: st.Registered,
	}
	if st.Local.State != cloudlink.LinkSubscribed.String() || !st.Registered {
		resp.Status = "degraded"
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleStatus returns the full bridge snapshot.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.status.Status())
}
