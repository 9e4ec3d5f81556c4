// Package httpapi serves the operator API and the client relay API over
// HTTP, with server-sent events for live record and command streams.
package httpapi

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"pkt.systems/pslog"

	"pkt.systems/syncrelay/core"
	"pkt.systems/syncrelay/internal/logx"
	"pkt.systems/syncrelay/schema"
)

// Authenticator verifies username, password, and totp.
type Authenticator interface {
	Authenticate(username, password, totp string) error
	ChangePassword(username, currentPassword, totp, newPassword string) error
}

// Server serves the HTTP API.
type Server struct {
	cfg       Config
	service   core.Service
	authStore Authenticator
	sessions  *loginStore
	hub       *Hub
	basePath  string
}

// NewServer constructs an HTTP server.
func NewServer(cfg Config, service core.Service, authStore Authenticator, hub *Hub) *Server {
	ttl := time.Duration(cfg.SessionTTLHours) * time.Hour
	if ttl <= 0 {
		ttl = 720 * time.Hour
	}
	return &Server{
		cfg:       cfg,
		service:   service,
		authStore: authStore,
		sessions:  newLoginStore(ttl, cfg.SessionFile),
		hub:       hub,
		basePath:  normalizeBasePath(cfg.BasePath),
	}
}

// Handler returns an http.Handler for the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/login", s.handleLogin)
	mux.HandleFunc("/api/logout", s.handleLogout)
	mux.HandleFunc("/api/chpasswd", s.requireSession(s.handleChangePassword))
	mux.HandleFunc("/api/me", s.requireSession(s.handleMe))
	mux.HandleFunc("/api/sessions", s.requireSession(s.handleSessions))
	mux.HandleFunc("/api/record", s.requireSession(s.handleOperatorRecord))
	mux.HandleFunc("/api/command", s.requireSession(s.handleOperatorCommand))
	mux.HandleFunc("/api/stream", s.requireSession(s.handleOperatorStream))

	mux.HandleFunc("/v1/record", s.requireRelayKey(s.handleClientRecord))
	mux.HandleFunc("/v1/commands", s.requireRelayKey(s.handleClientCommands))
	mux.HandleFunc("/v1/commands/latest", s.requireRelayKey(s.handleClientLatestCommand))
	mux.HandleFunc("/v1/stream", s.requireRelayKey(s.handleClientStream))

	handler := withRequestLogging(mux, s.lookupSession)
	if s.basePath == "" {
		return handler
	}
	prefix := s.basePath
	root := http.NewServeMux()
	root.Handle(prefix+"/", http.StripPrefix(prefix, handler))
	root.HandleFunc(prefix, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != prefix {
			http.NotFound(w, r)
			return
		}
		http.Redirect(w, r, prefix+"/", http.StatusTemporaryRedirect)
	})
	return root
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	log := logx.Ctx(r.Context()).With("remote", clientIP(r))
	var payload struct {
		Username string `json:"username"`
		Password string `json:"password"`
		TOTP     string `json:"totp"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		log.Warn("http login decode failed", "err", err)
		writeError(w, http.StatusBadRequest, err)
		return
	}
	log = log.With("user", payload.Username)
	if err := s.authStore.Authenticate(payload.Username, payload.Password, payload.TOTP); err != nil {
		log.Warn("http login failed", "err", err)
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	token, sess := s.sessions.create(payload.Username)
	http.SetCookie(w, &http.Cookie{
		Name:     s.cfg.SessionCookie,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Expires:  sess.expiresAt,
	})
	writeJSON(w, http.StatusOK, map[string]any{"username": payload.Username})
	log.Info("http login ok")
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	token := s.sessionToken(r)
	log := logx.Ctx(r.Context()).With("remote", clientIP(r))
	if token != "" {
		if entry, ok := s.sessions.get(token); ok {
			log = log.With("user", entry.username, "http_session", entry.id)
		}
		s.sessions.delete(token)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     s.cfg.SessionCookie,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		MaxAge:   -1,
	})
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	log.Info("http logout")
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request, username string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	log := logx.Ctx(r.Context()).With("user", username, "remote", clientIP(r))
	var payload struct {
		CurrentPassword string `json:"current_password"`
		TOTP            string `json:"totp"`
		NewPassword     string `json:"new_password"`
		ConfirmPassword string `json:"confirm_password"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		log.Warn("http chpasswd decode failed", "err", err)
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if strings.TrimSpace(payload.NewPassword) == "" {
		writeError(w, http.StatusBadRequest, errors.New("new password is required"))
		return
	}
	if payload.NewPassword != payload.ConfirmPassword {
		writeError(w, http.StatusBadRequest, errors.New("passwords do not match"))
		return
	}
	if err := s.authStore.ChangePassword(username, payload.CurrentPassword, payload.TOTP, payload.NewPassword); err != nil {
		log.Warn("http chpasswd failed", "err", err)
		status := http.StatusInternalServerError
		switch strings.TrimSpace(err.Error()) {
		case "invalid credentials", "invalid totp", "user not found":
			status = http.StatusUnauthorized
		case "new password is required":
			status = http.StatusBadRequest
		}
		writeError(w, status, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	log.Info("http chpasswd ok")
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request, username string) {
	writeJSON(w, http.StatusOK, map[string]any{"username": username})
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request, username string) {
	log := logx.Ctx(r.Context()).With("user", username)
	switch r.Method {
	case http.MethodGet:
		resp, err := s.service.ListSessions(r.Context(), schema.ListSessionsRequest{})
		if err != nil {
			log.Warn("http sessions list failed", "err", err)
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
		log.Info("http sessions list ok", "count", len(resp.Records))
	case http.MethodPost:
		var payload struct {
			Session string `json:"session"`
		}
		if err := decodeJSON(r.Body, &payload); err != nil {
			log.Warn("http sessions decode failed", "err", err)
			writeError(w, http.StatusBadRequest, err)
			return
		}
		resp, err := s.service.CreateSession(r.Context(), schema.CreateSessionRequest{
			Session: schema.SessionID(payload.Session),
		})
		if err != nil {
			log.Warn("http sessions create failed", "err", err)
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
		log.Info("http sessions create ok", "session", resp.Record.Session)
	case http.MethodDelete:
		session := schema.SessionID(r.URL.Query().Get("session"))
		if _, err := s.service.DeleteSession(r.Context(), schema.DeleteSessionRequest{Session: session}); err != nil {
			log.Warn("http sessions delete failed", "session", session, "err", err)
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		log.Info("http sessions delete ok", "session", session)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleOperatorRecord(w http.ResponseWriter, r *http.Request, username string) {
	log := logx.Ctx(r.Context()).With("user", username)
	switch r.Method {
	case http.MethodGet:
		session := schema.SessionID(r.URL.Query().Get("session"))
		resp, err := s.service.GetRecord(r.Context(), schema.GetRecordRequest{Session: session})
		if err != nil {
			log.Warn("http record get failed", "session", session, "err", err)
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
		log.Debug("http record get ok", "session", session)
	case http.MethodPost:
		var payload struct {
			Session string            `json:"session"`
			Fields  map[string]string `json:"fields"`
		}
		if err := decodeJSON(r.Body, &payload); err != nil {
			log.Warn("http record decode failed", "err", err)
			writeError(w, http.StatusBadRequest, err)
			return
		}
		resp, err := s.service.MergeRecord(r.Context(), schema.MergeRecordRequest{
			Session: schema.SessionID(payload.Session),
			Fields:  toFieldMap(payload.Fields),
			Source:  schema.SourceOperator,
		})
		if err != nil {
			log.Warn("http record merge failed", "session", payload.Session, "err", err)
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
		log.Info("http record merge ok", "session", payload.Session, "revision", resp.Record.Revision)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleOperatorCommand(w http.ResponseWriter, r *http.Request, username string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	log := logx.Ctx(r.Context()).With("user", username)
	var payload struct {
		Session string `json:"session"`
		Token   string `json:"token"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		log.Warn("http command decode failed", "err", err)
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := s.service.PushCommand(r.Context(), schema.PushCommandRequest{
		Session: schema.SessionID(payload.Session),
		Token:   schema.CommandToken(payload.Token),
	})
	if err != nil {
		log.Warn("http command push failed", "session", payload.Session, "err", err)
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
	log.Info("http command push ok", "session", payload.Session, "token", payload.Token)
}

func (s *Server) handleOperatorStream(w http.ResponseWriter, r *http.Request, username string) {
	log := logx.Ctx(r.Context()).With("user", username)
	s.serveStream(w, r, log, feedAll, nil)
}

func (s *Server) handleClientRecord(w http.ResponseWriter, r *http.Request) {
	log := logx.Ctx(r.Context())
	switch r.Method {
	case http.MethodGet:
		session := schema.SessionID(r.URL.Query().Get("session"))
		resp, err := s.service.GetRecord(r.Context(), schema.GetRecordRequest{Session: session})
		if err != nil {
			log.Warn("http client record get failed", "session", session, "err", err)
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
		log.Debug("http client record get ok", "session", session)
	case http.MethodPatch:
		var payload struct {
			Session string            `json:"session"`
			Fields  map[string]string `json:"fields"`
		}
		if err := decodeJSON(r.Body, &payload); err != nil {
			log.Warn("http client record decode failed", "err", err)
			writeError(w, http.StatusBadRequest, err)
			return
		}
		resp, err := s.service.MergeRecord(r.Context(), schema.MergeRecordRequest{
			Session: schema.SessionID(payload.Session),
			Fields:  toFieldMap(payload.Fields),
			Source:  schema.SourceRemote,
		})
		if err != nil {
			log.Warn("http client record merge failed", "session", payload.Session, "err", err)
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
		log.Info("http client record merge ok", "session", payload.Session, "revision", resp.Record.Revision)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleClientCommands(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	log := logx.Ctx(r.Context())
	session := schema.SessionID(r.URL.Query().Get("session"))
	resp, err := s.service.ClearCommands(r.Context(), schema.ClearCommandsRequest{Session: session})
	if err != nil {
		log.Warn("http client commands clear failed", "session", session, "err", err)
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
	log.Info("http client commands clear ok", "session", session)
}

func (s *Server) handleClientLatestCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	log := logx.Ctx(r.Context())
	session := schema.SessionID(r.URL.Query().Get("session"))
	resp, err := s.service.LatestCommand(r.Context(), schema.LatestCommandRequest{Session: session})
	if err != nil {
		log.Warn("http client latest command failed", "session", session, "err", err)
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
	log.Debug("http client latest command ok", "session", session, "ok", resp.Ok)
}

func (s *Server) handleClientStream(w http.ResponseWriter, r *http.Request) {
	log := logx.Ctx(r.Context())
	session := schema.SessionID(r.URL.Query().Get("session"))
	if err := schema.ValidateSessionID(session); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	log = log.With("session", session)
	snapshot := func(w http.ResponseWriter) {
		resp, err := s.service.GetRecord(r.Context(), schema.GetRecordRequest{Session: session})
		if err != nil {
			return
		}
		record := resp.Record
		_ = writeSSEvent(w, StreamEvent{
			Type:      "snapshot",
			Session:   session,
			Record:    &record,
			Timestamp: time.Now(),
		})
	}
	s.serveStream(w, r, log, session, snapshot)
}

func (s *Server) serveStream(w http.ResponseWriter, r *http.Request, log pslog.Logger, key schema.SessionID, snapshot func(http.ResponseWriter)) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, errors.New("stream unsupported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	lastID := parseUint(r.Header.Get("Last-Event-ID"))

	if snapshot != nil {
		snapshot(w)
		flusher.Flush()
	}

	replayCount := 0
	if lastID > 0 {
		replay := s.hub.Replay(key, lastID)
		replayCount = len(replay)
		for _, event := range replay {
			_ = writeSSEvent(w, event)
		}
		flusher.Flush()
	}

	ch, unsubscribe, _, _ := s.hub.Subscribe(key)
	defer unsubscribe()

	notify := r.Context().Done()
	log.Info("http stream opened", "last_id", lastID, "replay", replayCount)
	for {
		select {
		case <-notify:
			log.Info("http stream closed")
			return
		case event := <-ch:
			_ = writeSSEvent(w, event)
			flusher.Flush()
		}
	}
}

func (s *Server) requireSession(next func(http.ResponseWriter, *http.Request, string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := logx.Ctx(r.Context()).With("remote", clientIP(r))
		token := s.sessionToken(r)
		if token == "" {
			log.Warn("http session missing")
			writeError(w, http.StatusUnauthorized, errors.New("missing session"))
			return
		}
		entry, ok := s.sessions.get(token)
		if !ok {
			log.Warn("http session invalid")
			writeError(w, http.StatusUnauthorized, errors.New("invalid session"))
			return
		}
		next(w, r, entry.username)
	}
}

func (s *Server) requireRelayKey(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := logx.Ctx(r.Context()).With("remote", clientIP(r))
		key := strings.TrimSpace(s.cfg.RelayKey)
		if key == "" {
			log.Warn("http relay key unset")
			writeError(w, http.StatusServiceUnavailable, errors.New("relay key not configured"))
			return
		}
		header := r.Header.Get("Authorization")
		presented, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(strings.TrimSpace(presented)), []byte(key)) != 1 {
			log.Warn("http relay key rejected")
			writeError(w, http.StatusUnauthorized, errors.New("invalid relay key"))
			return
		}
		next(w, r)
	}
}

func (s *Server) sessionToken(r *http.Request) string {
	cookie, err := r.Cookie(s.cfg.SessionCookie)
	if err != nil {
		return ""
	}
	return cookie.Value
}

func (s *Server) lookupSession(r *http.Request) (string, string) {
	if s == nil || r == nil {
		return "", ""
	}
	token := s.sessionToken(r)
	if token == "" {
		return "", ""
	}
	entry, ok := s.sessions.get(token)
	if !ok {
		return "", ""
	}
	return entry.username, entry.id
}

func toFieldMap(fields map[string]string) map[schema.FieldKey]string {
	if fields == nil {
		return nil
	}
	out := make(map[schema.FieldKey]string, len(fields))
	for key, value := range fields {
		out[schema.FieldKey(key)] = value
	}
	return out
}

func decodeJSON(body io.Reader, target any) error {
	decoder := json.NewDecoder(body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(target)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	data, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{"error": err.Error()})
}

func writeServiceError(w http.ResponseWriter, err error) {
	status := http.StatusBadRequest
	switch {
	case errors.Is(err, schema.ErrSessionNotFound):
		status = http.StatusNotFound
	case errors.Is(err, schema.ErrSessionExists):
		status = http.StatusConflict
	}
	writeError(w, status, err)
}

func writeSSEvent(w http.ResponseWriter, event StreamEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if event.Seq > 0 {
		_, _ = fmt.Fprintf(w, "id: %d\n", event.Seq)
	}
	_, _ = fmt.Fprintf(w, "data: %s\n\n", strings.TrimSpace(string(data)))
	return nil
}

func parseUint(value string) uint64 {
	if value == "" {
		return 0
	}
	parsed, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return 0
	}
	return parsed
}
