package httpapi

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"pkt.systems/syncrelay/internal/logx"
)

type loginSession struct {
	id        string
	username  string
	expiresAt time.Time
}

type loginStore struct {
	mu    sync.Mutex
	ttl   time.Duration
	items map[string]loginSession
	path  string
}

func newLoginStore(ttl time.Duration, path string) *loginStore {
	store := &loginStore{
		ttl:   ttl,
		items: make(map[string]loginSession),
		path:  strings.TrimSpace(path),
	}
	if store.path != "" {
		if err := store.load(); err != nil {
			logx.Ctx(context.Background()).Warn("login store load failed", "err", err)
		}
	}
	return store
}

func (s *loginStore) create(username string) (string, loginSession) {
	token := randomToken(32)
	entry := loginSession{
		id:        randomToken(12),
		username:  username,
		expiresAt: time.Now().Add(s.ttl),
	}
	log := logx.Ctx(context.Background()).With("user", username, "http_session", entry.id)
	s.mu.Lock()
	s.items[token] = entry
	s.mu.Unlock()
	s.persist()
	log.Info("login session created", "expires", entry.expiresAt.Format(time.RFC3339))
	return token, entry
}

func (s *loginStore) get(token string) (loginSession, bool) {
	s.mu.Lock()
	entry, ok := s.items[token]
	if !ok {
		s.mu.Unlock()
		return loginSession{}, false
	}
	if time.Now().After(entry.expiresAt) {
		delete(s.items, token)
		s.mu.Unlock()
		logx.Ctx(context.Background()).With("user", entry.username, "http_session", entry.id).Info("login session expired")
		s.persist()
		return loginSession{}, false
	}
	s.mu.Unlock()
	return entry, true
}

func (s *loginStore) delete(token string) {
	s.mu.Lock()
	entry, ok := s.items[token]
	if ok {
		delete(s.items, token)
	}
	s.mu.Unlock()
	if ok {
		logx.Ctx(context.Background()).With("user", entry.username, "http_session", entry.id).Info("login session deleted")
		s.persist()
	}
}

func randomToken(size int) string {
	buf := make([]byte, size)
	if _, err := rand.Read(buf); err != nil {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString(buf)
}

type loginRecord struct {
	Token     string    `json:"token"`
	SessionID string    `json:"session_id"`
	Username  string    `json:"username"`
	ExpiresAt time.Time `json:"expires_at"`
}

type loginFile struct {
	Version  int           `json:"version"`
	Sessions []loginRecord `json:"sessions"`
}

func (s *loginStore) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var file loginFile
	if err := json.Unmarshal(data, &file); err != nil {
		return err
	}
	now := time.Now()
	entries := make(map[string]loginSession)
	for _, record := range file.Sessions {
		if strings.TrimSpace(record.Token) == "" || strings.TrimSpace(record.Username) == "" {
			continue
		}
		if now.After(record.ExpiresAt) {
			continue
		}
		entries[record.Token] = loginSession{
			id:        record.SessionID,
			username:  record.Username,
			expiresAt: record.ExpiresAt,
		}
	}
	s.mu.Lock()
	s.items = entries
	s.mu.Unlock()
	if len(file.Sessions) != len(entries) {
		s.persist()
	}
	logx.Ctx(context.Background()).Info("login store loaded", "sessions", len(entries))
	return nil
}

func (s *loginStore) persist() {
	if s.path == "" {
		return
	}
	records := s.snapshot()
	if err := writeLoginFile(s.path, records); err != nil {
		logx.Ctx(context.Background()).Warn("login store save failed", "err", err)
	}
}

func (s *loginStore) snapshot() []loginRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	records := make([]loginRecord, 0, len(s.items))
	for token, entry := range s.items {
		records = append(records, loginRecord{
			Token:     token,
			SessionID: entry.id,
			Username:  entry.username,
			ExpiresAt: entry.expiresAt,
		})
	}
	return records
}

func writeLoginFile(path string, records []loginRecord) error {
	payload := loginFile{Version: 1, Sessions: records}
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "sessions-*.json")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
