package api

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kylemclaren/reviewd/internal/security"
	"github.com/kylemclaren/reviewd/internal/shell"
)

// clientIP derives the rate-limit identity from the request. RemoteAddr
// carries an ephemeral source port that changes per connection, so the port
// is stripped; middleware.RealIP may have already replaced the value with a
// bare IP, in which case it is used as-is.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// IssueCsrf handles GET /api/v1/csrf: it sets the token cookie and returns
// the same token for the client to echo in the request header.
func (s *Server) IssueCsrf(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     security.CookieName,
		Value:    s.csrf.Token(),
		Path:     "/",
		HttpOnly: false, // the web client reads it back into the header
		SameSite: http.SameSiteStrictMode,
	})
	jsonResponse(w, http.StatusOK, CsrfResponse{Token: s.csrf.Token()})
}

// ListShellCommands handles GET /api/v1/shell/commands
func (s *Server) ListShellCommands(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.ShellEnabled {
		errorResponse(w, http.StatusForbidden, "Shell API is disabled", "SHELL_DISABLED")
		return
	}
	jsonResponse(w, http.StatusOK, s.shell.ListCommands())
}

// shellGate applies the three gates every mutating shell request passes
// through: the enable flag, the CSRF double check, and the per-client rate
// limit. It reports whether the request may proceed; on refusal the
// response has already been written.
func (s *Server) shellGate(w http.ResponseWriter, r *http.Request) bool {
	if !s.cfg.ShellEnabled {
		errorResponse(w, http.StatusForbidden, "Shell API is disabled", "SHELL_DISABLED")
		return false
	}

	var cookieToken string
	if c, err := r.Cookie(security.CookieName); err == nil {
		cookieToken = c.Value
	}
	if !s.csrf.Verify(r.Header.Get(security.HeaderName), cookieToken) {
		errorResponse(w, http.StatusForbidden, "csrf check failed", "CSRF_FAILED")
		return false
	}

	key := clientIP(r) + "|" + r.Header.Get("Origin")
	allowed, resetAt := s.limiter.Allow(key)
	if !allowed {
		jsonResponse(w, http.StatusTooManyRequests, RateLimitedResponse{
			Error:   "rate limit exceeded",
			ResetAt: resetAt.UnixMilli(),
		})
		return false
	}
	return true
}

// RunShellCommand handles POST /api/v1/shell/run
func (s *Server) RunShellCommand(w http.ResponseWriter, r *http.Request) {
	if !s.shellGate(w, r) {
		return
	}

	var req ShellRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorResponse(w, http.StatusBadRequest, "Invalid request body", "INVALID_REQUEST")
		return
	}

	runID, display, err := s.shell.Start(req.CommandID)
	if errors.Is(err, shell.ErrCommandNotAllowed) {
		errorResponse(w, http.StatusBadRequest, "Unknown command id", "COMMAND_NOT_ALLOWED")
		return
	}
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, err.Error(), "SPAWN_ERROR")
		return
	}
	jsonResponse(w, http.StatusAccepted, ShellRunResponse{RunID: runID, Command: display})
}

// RunCustomShellCommand handles POST /api/v1/shell/run-custom
func (s *Server) RunCustomShellCommand(w http.ResponseWriter, r *http.Request) {
	if !s.shellGate(w, r) {
		return
	}

	var req ShellRunCustomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorResponse(w, http.StatusBadRequest, "Invalid request body", "INVALID_REQUEST")
		return
	}

	runID, display, err := s.shell.StartCustom(req.Command, req.Cwd)
	if errors.Is(err, shell.ErrEmptyCommand) {
		errorResponse(w, http.StatusBadRequest, "command is required", "INVALID_REQUEST")
		return
	}
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, err.Error(), "SPAWN_ERROR")
		return
	}
	jsonResponse(w, http.StatusAccepted, ShellRunResponse{RunID: runID, Command: display})
}

// GetShellRunState handles GET /api/v1/shell/runs/{id}
func (s *Server) GetShellRunState(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.ShellEnabled {
		errorResponse(w, http.StatusForbidden, "Shell API is disabled", "SHELL_DISABLED")
		return
	}
	st, ok := s.shell.State(chi.URLParam(r, "id"))
	if !ok {
		errorResponse(w, http.StatusNotFound, "Run not found", "NOT_FOUND")
		return
	}
	jsonResponse(w, http.StatusOK, st)
}

// StreamShellRun handles GET /api/v1/shell/runs/{id}/stream: an SSE relay
// of one command run's output and lifecycle events.
func (s *Server) StreamShellRun(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.ShellEnabled {
		errorResponse(w, http.StatusForbidden, "Shell API is disabled", "SHELL_DISABLED")
		return
	}
	id := chi.URLParam(r, "id")
	if _, ok := s.shell.State(id); !ok {
		errorResponse(w, http.StatusNotFound, "Run not found", "NOT_FOUND")
		return
	}

	flusher, ok := sseSetup(w)
	if !ok {
		return
	}

	events := make(chan shell.Event, 64)
	unsubscribe := s.shell.Subscribe(id, func(ev shell.Event) {
		select {
		case events <- ev:
		default:
		}
	})
	defer unsubscribe()

	// A run that reached a terminal state before this subscription (a spawn
	// failure, or a client reconnecting after exit) publishes nothing
	// further, so replay its outcome as a frame instead of blocking.
	if st, ok := s.shell.State(id); ok && st.Status != "running" {
		ev := shell.Event{RunID: id, Type: shell.EventError}
		if st.ExitCode != nil {
			ev = shell.Event{RunID: id, Type: shell.EventExit, ExitCode: st.ExitCode}
		}
		writeSSE(w, ev.Type, ev)
		flusher.Flush()
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case ev := <-events:
			writeSSE(w, ev.Type, ev)
			flusher.Flush()
			if ev.Type == shell.EventExit || ev.Type == shell.EventError {
				return
			}
		}
	}
}
