package adapthttp

import (
	"context"
	"net/http"
	"time"
)

type dashboardData struct {
	CurrentTime time.Time
	LastLogin   *time.Time
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if _, ok := IdentityFrom(r.Context()); ok {
		http.Redirect(w, r, "/dashboard", http.StatusFound)
		return
	}
	http.Redirect(w, r, "/auth/login", http.StatusFound)
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFrom(r.Context())
	w.Header().Set("Cache-Control", "no-store")
	s.render(w, r, http.StatusOK, "dashboard", pageData{
		Title: "Dashboard",
		User:  id.User,
		Data:  dashboardData{CurrentTime: s.now(), LastLogin: id.User.LastLogin},
	})
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	if isAPI(r) {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "not found"})
		return
	}
	s.render(w, r, http.StatusNotFound, "404", pageData{Title: "Page not found"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.cfg.Health(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ok": false, "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}
