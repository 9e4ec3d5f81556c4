package persist

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode"

	"pkt.systems/syncrelay/schema"
	"pkt.systems/pslog"
)

// Store persists session records to disk, one JSON file per session.
type Store struct {
	dir string
	log pslog.Logger
}

// NewStore constructs a persistent store at the given directory.
func NewStore(dir string) (*Store, error) {
	return NewStoreWithLogger(dir, nil)
}

// NewStoreWithLogger constructs a persistent store with logging.
func NewStoreWithLogger(dir string, logger pslog.Logger) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("state directory is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	if logger != nil {
		logger = logger.With("state_dir", dir)
	}
	return &Store{dir: dir, log: logger}, nil
}

// Load reads a session record from disk.
func (s *Store) Load(session schema.SessionID) (schema.Record, bool, error) {
	path := s.pathForSession(session)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			if s.log != nil {
				s.log.Debug("state load miss", "session", session)
			}
			return schema.Record{}, false, nil
		}
		if s.log != nil {
			s.log.Warn("state load failed", "session", session, "err", err)
		}
		return schema.Record{}, false, err
	}
	var record schema.Record
	if err := json.Unmarshal(data, &record); err != nil {
		if s.log != nil {
			s.log.Warn("state load failed", "session", session, "err", err)
		}
		return schema.Record{}, false, err
	}
	if s.log != nil {
		s.log.Debug("state load ok", "session", session, "revision", record.Revision)
	}
	return record, true, nil
}

// LoadAll reads every persisted session record, ordered by session id.
func (s *Store) LoadAll() ([]schema.Record, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if s.log != nil {
			s.log.Warn("state scan failed", "err", err)
		}
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	records := make([]schema.Record, 0, len(names))
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(s.dir, name))
		if err != nil {
			if s.log != nil {
				s.log.Warn("state scan read failed", "file", name, "err", err)
			}
			continue
		}
		var record schema.Record
		if err := json.Unmarshal(data, &record); err != nil {
			if s.log != nil {
				s.log.Warn("state scan decode failed", "file", name, "err", err)
			}
			continue
		}
		records = append(records, record)
	}
	if s.log != nil {
		s.log.Debug("state scan ok", "records", len(records))
	}
	return records, nil
}

// Save writes a session record to disk.
func (s *Store) Save(session schema.SessionID, record schema.Record) error {
	path := s.pathForSession(session)
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		if s.log != nil {
			s.log.Warn("state save failed", "session", session, "err", err)
		}
		return err
	}
	tmp, err := os.CreateTemp(s.dir, "record-*.json")
	if err != nil {
		if s.log != nil {
			s.log.Warn("state save failed", "session", session, "err", err)
		}
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		if s.log != nil {
			s.log.Warn("state save failed", "session", session, "err", err)
		}
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		if s.log != nil {
			s.log.Warn("state save failed", "session", session, "err", err)
		}
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		if s.log != nil {
			s.log.Warn("state save failed", "session", session, "err", err)
		}
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		_ = os.Remove(tmp.Name())
		if s.log != nil {
			s.log.Warn("state save failed", "session", session, "err", err)
		}
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		if s.log != nil {
			s.log.Warn("state save failed", "session", session, "err", err)
		}
		return err
	}
	if s.log != nil {
		s.log.Trace("state save ok", "session", session, "revision", record.Revision)
	}
	return nil
}

// Delete removes a persisted session record; missing files are not an error.
func (s *Store) Delete(session schema.SessionID) error {
	path := s.pathForSession(session)
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		if s.log != nil {
			s.log.Warn("state delete failed", "session", session, "err", err)
		}
		return err
	}
	if s.log != nil {
		s.log.Debug("state delete ok", "session", session)
	}
	return nil
}

func (s *Store) pathForSession(session schema.SessionID) string {
	name := sanitize(string(session))
	if name == "" {
		name = "unknown"
	}
	return filepath.Join(s.dir, name+".json")
}

func sanitize(value string) string {
	var b strings.Builder
	for _, r := range value {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			continue
		}
		if r == '-' || r == '_' || r == '.' {
			b.WriteRune(r)
			continue
		}
		b.WriteRune('_')
	}
	return b.String()
}
