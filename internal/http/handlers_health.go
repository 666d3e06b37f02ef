package http

import (
	"context"
	"net/http"
	"sort"
	"time"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	NewResponse().Data(map[string]any{
		"status": "ok",
		"uptime": time.Since(s.started).Round(time.Second).String(),
	}).Write(w)
}

// handleReady runs every dependency check under one deadline.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	names := make([]string, 0, len(s.deps.Checks))
	for name := range s.deps.Checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status, code := "ready", http.StatusOK
	checks := make(map[string]string, len(names))
	for _, name := range names {
		if err := s.deps.Checks[name](ctx); err != nil {
			checks[name] = "failed: " + err.Error()
			status, code = "not_ready", http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	NewResponse().Status(code).Data(map[string]any{
		"status":         status,
		"checks":         checks,
		"cached_reports": s.reports.Size(),
		"rate_limited":   s.limiter.Rejected(),
		"active_clients": s.limiter.ActiveClients(),
	}).Write(w)
}
