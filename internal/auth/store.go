package auth

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"
	"unicode"

	"github.com/pquerna/otp/totp"
	"golang.org/x/crypto/bcrypt"

	"pkt.systems/pslog"
)

// User represents a stored operator account.
type User struct {
	Username     string `json:"username"`
	PasswordHash string `json:"password_hash"`
	TOTPSecret   string `json:"totp_secret"`
}

// SeedUser seeds an initial operator record.
type SeedUser struct {
	Username     string `mapstructure:"username" yaml:"username"`
	PasswordHash string `mapstructure:"password_hash" yaml:"password_hash"`
	TOTPSecret   string `mapstructure:"totp_secret" yaml:"totp_secret"`
}

// Store manages operator accounts stored on disk.
type Store struct {
	path      string
	mu        sync.RWMutex
	users     map[string]User
	fileState fileState
	log       pslog.Logger
}

// NewStore loads or seeds the user store.
func NewStore(path string, seeds []SeedUser) (*Store, error) {
	return NewStoreWithLogger(path, seeds, nil)
}

// NewStoreWithLogger loads or seeds the user store with logging.
func NewStoreWithLogger(path string, seeds []SeedUser, logger pslog.Logger) (*Store, error) {
	if path == "" {
		return nil, errors.New("user file path is required")
	}
	if logger != nil {
		logger = logger.With("user_file", path)
	}
	store := &Store{
		path:  path,
		users: make(map[string]User),
		log:   logger,
	}
	if err := store.ensureFile(seeds); err != nil {
		return nil, err
	}
	if err := store.loadFromDisk(); err != nil {
		return nil, err
	}
	return store, nil
}

// Authenticate verifies username, password, and totp.
func (s *Store) Authenticate(username, password, totpCode string) error {
	if err := s.refreshIfNeeded(); err != nil {
		return err
	}
	s.mu.RLock()
	user, ok := s.users[username]
	s.mu.RUnlock()
	if !ok {
		return errors.New("invalid credentials")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return errors.New("invalid credentials")
	}
	if !totp.Validate(totpCode, user.TOTPSecret) {
		return errors.New("invalid totp")
	}
	return nil
}

// ChangePassword verifies credentials and replaces the stored password hash.
func (s *Store) ChangePassword(username, currentPassword, totpCode, newPassword string) error {
	if strings.TrimSpace(newPassword) == "" {
		return errors.New("new password is required")
	}
	if err := s.Authenticate(username, currentPassword, totpCode); err != nil {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	return s.UpdatePassword(username, string(hash))
}

// LoadUsers returns a snapshot of users.
func (s *Store) LoadUsers() []User {
	if err := s.refreshIfNeeded(); err != nil {
		if s.log != nil {
			s.log.Warn("auth store refresh failed", "err", err)
		}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	users := make([]User, 0, len(s.users))
	for _, user := range s.users {
		users = append(users, user)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	return users
}

// AddUser inserts a new user and persists the store.
func (s *Store) AddUser(user User) error {
	if err := s.refreshIfNeeded(); err != nil {
		return err
	}
	username, err := validateUsername(user.Username)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[username]; ok {
		return errors.New("user already exists")
	}
	user.Username = username
	s.users[username] = user
	if err := s.saveLocked(); err != nil {
		if s.log != nil {
			s.log.Warn("auth user add failed", "user", username, "err", err)
		}
		return err
	}
	if s.log != nil {
		s.log.Info("auth user added", "user", username)
	}
	return nil
}

// UpdatePassword replaces the stored password hash.
func (s *Store) UpdatePassword(username, passwordHash string) error {
	if err := s.refreshIfNeeded(); err != nil {
		return err
	}
	normalized, err := validateUsername(username)
	if err != nil {
		return err
	}
	username = normalized
	if strings.TrimSpace(passwordHash) == "" {
		return errors.New("password hash is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[username]
	if !ok {
		return errors.New("user not found")
	}
	user.PasswordHash = passwordHash
	s.users[username] = user
	if err := s.saveLocked(); err != nil {
		if s.log != nil {
			s.log.Warn("auth password update failed", "user", username, "err", err)
		}
		return err
	}
	if s.log != nil {
		s.log.Info("auth password updated", "user", username)
	}
	return nil
}

// UpdateTOTP replaces the stored TOTP secret.
func (s *Store) UpdateTOTP(username, secret string) error {
	if err := s.refreshIfNeeded(); err != nil {
		return err
	}
	normalized, err := validateUsername(username)
	if err != nil {
		return err
	}
	username = normalized
	if strings.TrimSpace(secret) == "" {
		return errors.New("totp secret is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[username]
	if !ok {
		return errors.New("user not found")
	}
	user.TOTPSecret = secret
	s.users[username] = user
	if err := s.saveLocked(); err != nil {
		if s.log != nil {
			s.log.Warn("auth totp update failed", "user", username, "err", err)
		}
		return err
	}
	if s.log != nil {
		s.log.Info("auth totp updated", "user", username)
	}
	return nil
}

// DeleteUser removes a user.
func (s *Store) DeleteUser(username string) error {
	if err := s.refreshIfNeeded(); err != nil {
		return err
	}
	normalized, err := validateUsername(username)
	if err != nil {
		return err
	}
	username = normalized
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[username]; !ok {
		return errors.New("user not found")
	}
	delete(s.users, username)
	if err := s.saveLocked(); err != nil {
		if s.log != nil {
			s.log.Warn("auth user delete failed", "user", username, "err", err)
		}
		return err
	}
	if s.log != nil {
		s.log.Info("auth user deleted", "user", username)
	}
	return nil
}

func (s *Store) ensureFile(seeds []SeedUser) error {
	if _, statErr := os.Stat(s.path); statErr == nil {
		return nil
	} else if !os.IsNotExist(statErr) {
		if s.log != nil {
			s.log.Warn("auth store init failed", "err", statErr)
		}
		return statErr
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		if s.log != nil {
			s.log.Warn("auth store init failed", "err", err)
		}
		return err
	}
	users := make([]User, 0, len(seeds))
	for _, seed := range seeds {
		if _, err := validateUsername(seed.Username); err != nil {
			return err
		}
		users = append(users, User{
			Username:     seed.Username,
			PasswordHash: seed.PasswordHash,
			TOTPSecret:   seed.TOTPSecret,
		})
	}
	data, err := json.MarshalIndent(users, "", "  ")
	if err != nil {
		if s.log != nil {
			s.log.Warn("auth store init failed", "err", err)
		}
		return err
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		if s.log != nil {
			s.log.Warn("auth store init failed", "err", err)
		}
		return err
	}
	if s.log != nil {
		s.log.Info("auth store initialized", "users", len(users))
	}
	return nil
}

func validateUsername(username string) (string, error) {
	if username == "" || len(username) > 32 {
		return "", errors.New("invalid username")
	}
	for _, r := range username {
		switch {
		case unicode.IsLower(r), unicode.IsDigit(r):
		case r == '-', r == '_', r == '.':
		default:
			return "", errors.New("invalid username")
		}
	}
	return username, nil
}

func (s *Store) saveLocked() error {
	users := make([]User, 0, len(s.users))
	keys := make([]string, 0, len(s.users))
	for key := range s.users {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		users = append(users, s.users[key])
	}
	data, err := json.MarshalIndent(users, "", "  ")
	if err != nil {
		if s.log != nil {
			s.log.Warn("auth store save failed", "err", err)
		}
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		if s.log != nil {
			s.log.Warn("auth store save failed", "err", err)
		}
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), "users-*.json")
	if err != nil {
		if s.log != nil {
			s.log.Warn("auth store save failed", "err", err)
		}
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		if s.log != nil {
			s.log.Warn("auth store save failed", "err", err)
		}
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		if s.log != nil {
			s.log.Warn("auth store save failed", "err", err)
		}
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		if s.log != nil {
			s.log.Warn("auth store save failed", "err", err)
		}
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		_ = os.Remove(tmp.Name())
		if s.log != nil {
			s.log.Warn("auth store save failed", "err", err)
		}
		return err
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		if s.log != nil {
			s.log.Warn("auth store save failed", "err", err)
		}
		return err
	}
	if info, err := os.Stat(s.path); err == nil {
		s.fileState = fileStateFromInfo(info)
	} else if s.log != nil {
		s.log.Warn("auth store save failed to stat", "err", err)
	}
	if s.log != nil {
		s.log.Debug("auth store save ok", "users", len(users))
	}
	return nil
}

type fileState struct {
	modTime time.Time
	size    int64
	inode   uint64
	dev     uint64
}

func fileStateFromInfo(info os.FileInfo) fileState {
	state := fileState{
		modTime: info.ModTime(),
		size:    info.Size(),
	}
	if stat, ok := info.Sys().(*syscall.Stat_t); ok {
		state.inode = stat.Ino
		state.dev = stat.Dev
	}
	return state
}

func (s fileState) equal(other fileState) bool {
	return s.size == other.size &&
		s.modTime.Equal(other.modTime) &&
		s.inode == other.inode &&
		s.dev == other.dev
}

func (s *Store) refreshIfNeeded() error {
	info, err := os.Stat(s.path)
	if err != nil {
		if s.log != nil {
			s.log.Warn("auth store stat failed", "err", err)
		}
		return err
	}
	latest := fileStateFromInfo(info)
	s.mu.RLock()
	current := s.fileState
	s.mu.RUnlock()
	if current.equal(latest) {
		return nil
	}
	return s.loadFromDisk()
}

func (s *Store) loadFromDisk() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if s.log != nil {
			s.log.Warn("auth store load failed", "err", err)
		}
		return err
	}
	var users []User
	if err := json.Unmarshal(data, &users); err != nil {
		if s.log != nil {
			s.log.Warn("auth store load failed", "err", err)
		}
		return err
	}
	info, err := os.Stat(s.path)
	if err != nil {
		if s.log != nil {
			s.log.Warn("auth store load failed", "err", err)
		}
		return err
	}
	next := make(map[string]User, len(users))
	for _, user := range users {
		if _, err := validateUsername(user.Username); err != nil {
			if s.log != nil {
				s.log.Warn("auth store load failed", "err", err)
			}
			return err
		}
		next[user.Username] = user
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users = next
	s.fileState = fileStateFromInfo(info)
	if s.log != nil {
		s.log.Debug("auth store load ok", "users", len(users))
	}
	return nil
}
