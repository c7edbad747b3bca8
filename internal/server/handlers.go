package server

import (
	"html/template"
	"net/http"
	"runtime"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"golang.org/x/crypto/bcrypt"

	"github.com/microshell/shell_host/internal/errors"
	"github.com/microshell/shell_host/internal/httputil"
	"github.com/microshell/shell_host/internal/identity"
	"github.com/microshell/shell_host/internal/logging"
	"github.com/microshell/shell_host/internal/metrics"
	"github.com/microshell/shell_host/internal/registry"
)

// handleEventStream validates the session token before the websocket
// upgrade. Event frames carry session tokens and inbound frames mutate
// authentication state, so anonymous clients never join the hub.
// Browsers cannot set headers on websocket requests, so the token is
// also accepted in the "token" query parameter.
func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		if header := r.Header.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
			token = strings.TrimPrefix(header, "Bearer ")
		}
	}

	claims, err := s.issuer.Validate(token)
	if err != nil {
		s.log.WithContext(r.Context()).WithError(err).Warn("event stream rejected")
		httputil.WriteError(w, errors.Unauthorized("event stream requires a valid session token"))
		return
	}

	ctx := logging.WithUserID(r.Context(), claims.UserID)
	s.hub.HandleWS(w, r.WithContext(ctx))
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"status":         "ok",
		"uptime_seconds": int64(time.Since(s.startedAt).Seconds()),
		"go_version":     runtime.Version(),
		"goroutines":     runtime.NumGoroutine(),
		"modules_known":  len(s.registry.Names()),
		"modules_loaded": len(s.loader.LoadedModules()),
		"routes":         s.aggregator.Len(),
		"event_clients":  s.hub.ClientCount(),
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		status["memory_used_percent"] = vm.UsedPercent
	}
	if cores, err := cpu.Counts(true); err == nil {
		status["cpu_cores"] = cores
	}
	httputil.WriteJSON(w, http.StatusOK, status)
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string             `json:"token"`
	User  *identity.UserInfo `json:"user"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	if req.Username == "" || req.Password == "" {
		httputil.WriteError(w, errors.InvalidInput("username and password are required"))
		return
	}

	user := s.verifyCredentials(req.Username, req.Password)
	if user == nil {
		s.log.LogSecurityEvent(r.Context(), "login_failed", map[string]interface{}{
			"username": req.Username,
		})
		httputil.WriteError(w, errors.Unauthorized("invalid credentials"))
		return
	}

	token, err := s.issuer.Issue(user)
	if err != nil {
		httputil.WriteError(w, errors.Internal("token issuance failed", err))
		return
	}

	s.auth.MarkAuthenticated(r.Context(), token, user)
	httputil.WriteJSON(w, http.StatusOK, loginResponse{Token: token, User: user})
}

// verifyCredentials checks the configured user set. It returns nil when
// the username is unknown or the password does not match its hash.
func (s *Server) verifyCredentials(username, password string) *identity.UserInfo {
	for _, u := range s.cfg.Auth.Users {
		if u.Username != username {
			continue
		}
		if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
			return nil
		}
		return &identity.UserInfo{
			UserID:   u.Username,
			Username: u.Username,
			Email:    u.Email,
			Roles:    append([]string(nil), u.Roles...),
		}
	}
	return nil
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.auth.MarkLoggedOut(r.Context())
	httputil.WriteJSON(w, http.StatusOK, map[string]bool{"loggedOut": true})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	st := s.auth.State(r.Context())
	if !st.IsAuthenticated {
		httputil.WriteError(w, errors.Unauthorized(""))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"authenticated": true,
		"user":          st.UserInfo,
	})
}

func (s *Server) handleListModules(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, s.registry.All())
}

func (s *Server) handlePreload(w http.ResponseWriter, r *http.Request) {
	summary := s.loader.PreloadAll(r.Context())
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"succeeded": summary.Succeeded,
		"failed":    summary.Failed,
		"failures":  summary.Failures,
	})
}

func (s *Server) handleLoadModule(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if _, ok := s.registry.Lookup(name); !ok {
		httputil.WriteError(w, errors.NotFound("module", name))
		return
	}

	res := s.loader.Load(r.Context(), name)
	if !res.OK {
		httputil.WriteError(w, errors.Internal(res.Err, nil))
		return
	}
	meta, _ := s.registry.Lookup(name)
	httputil.WriteJSON(w, http.StatusOK, meta)
}

func (s *Server) handleUnloadModule(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if !s.loader.Unload(name) {
		httputil.WriteError(w, errors.NotFound("loaded module", name))
		return
	}
	s.aggregator.Remove(name)
	httputil.WriteJSON(w, http.StatusOK, map[string]bool{"unloaded": true})
}

func (s *Server) handleListRoutes(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, s.aggregator.Routes())
}

func (s *Server) handleMenuRoutes(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, s.aggregator.MenuRoutes())
}

func (s *Server) handleResolveRoute(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		httputil.WriteError(w, errors.InvalidInput("path query parameter is required"))
		return
	}

	match, ok := s.aggregator.FindRoute(path)
	metrics.RecordRouteLookup(ok)
	if !ok {
		httputil.WriteError(w, errors.NotFound("route", path))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, match)
}

var frameTemplate = template.Must(template.New("frame").Parse(`<!DOCTYPE html>
<html>
<head>
  <title>{{.Module}}</title>
  <style>html, body, iframe { margin: 0; height: 100%; width: 100%; border: 0; }</style>
</head>
<body>
  <iframe src="{{.Target}}" title="{{.Module}}"></iframe>
</body>
</html>
`))

// handleFrame serves the embedding page for a remote module path. The
// path after /frame/ is "module/rest...", resolved against the loaded
// remote proxy.
func (s *Server) handleFrame(w http.ResponseWriter, r *http.Request) {
	raw := strings.Trim(strings.TrimPrefix(r.URL.Path, "/frame/"), "/")
	if raw == "" {
		http.NotFound(w, r)
		return
	}
	parts := strings.SplitN(raw, "/", 2)
	name := parts[0]
	rest := ""
	if len(parts) == 2 {
		rest = parts[1]
	}

	mod, ok := s.loader.Get(name)
	if !ok {
		if res := s.loader.Load(r.Context(), name); res.OK {
			mod = res.Module
		} else {
			http.NotFound(w, r)
			return
		}
	}
	remote, ok := mod.(*registry.RemoteModule)
	if !ok {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	err := frameTemplate.Execute(w, map[string]string{
		"Module": name,
		"Target": remote.FrameURL(rest),
	})
	if err != nil {
		s.log.WithError(err).Error("frame render failed")
	}
}
