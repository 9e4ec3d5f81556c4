// Package archive stores final session records encrypted at rest.
package archive

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"pkt.systems/kryptograf"
	"pkt.systems/kryptograf/keymgmt"
	"pkt.systems/pslog"

	"pkt.systems/syncrelay/schema"
)

const descriptorPrefix = "archive/"

// Vault writes encrypted record snapshots to a directory, one file per
// archived session, with per-session data keys wrapped by a root key.
type Vault struct {
	keyStorePath string
	dir          string
	log          pslog.Logger
}

// NewVault creates or loads the key store at keyStorePath and prepares dir.
func NewVault(keyStorePath, dir string) (*Vault, error) {
	return NewVaultWithLogger(keyStorePath, dir, nil)
}

// NewVaultWithLogger creates or loads the key store with logging.
func NewVaultWithLogger(keyStorePath, dir string, logger pslog.Logger) (*Vault, error) {
	if err := os.MkdirAll(filepath.Dir(keyStorePath), 0o700); err != nil {
		if logger != nil {
			logger.Warn("archive key store ensure failed", "err", err)
		}
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		if logger != nil {
			logger.Warn("archive dir ensure failed", "err", err)
		}
		return nil, err
	}
	store, err := keymgmt.LoadProto(keyStorePath)
	if err != nil {
		if logger != nil {
			logger.Warn("archive key store ensure failed", "err", err)
		}
		return nil, err
	}
	if _, err := store.EnsureRootKey(); err != nil {
		if logger != nil {
			logger.Warn("archive key store ensure failed", "err", err)
		}
		return nil, err
	}
	if err := store.Commit(); err != nil {
		if logger != nil {
			logger.Warn("archive key store ensure failed", "err", err)
		}
		return nil, err
	}
	return &Vault{keyStorePath: keyStorePath, dir: dir, log: logger}, nil
}

// Archive encrypts and writes the final record for a session.
func (v *Vault) Archive(session schema.SessionID, record schema.Record) error {
	plain, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		if v.log != nil {
			v.log.Warn("archive write failed", "session", session, "err", err)
		}
		return err
	}
	material, root, err := v.materialForSession(session)
	if err != nil {
		return err
	}
	kg := kryptograf.New(root)

	name := fmt.Sprintf("%s-%d.rec", session, time.Now().UnixNano())
	tmp, err := os.CreateTemp(v.dir, "archive-*.rec")
	if err != nil {
		if v.log != nil {
			v.log.Warn("archive write failed", "session", session, "err", err)
		}
		return err
	}
	tmpPath := tmp.Name()
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		if v.log != nil {
			v.log.Warn("archive write failed", "session", session, "err", err)
		}
		return err
	}
	writer, err := kg.EncryptWriter(tmp, material)
	if err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		if v.log != nil {
			v.log.Warn("archive write failed", "session", session, "err", err)
		}
		return err
	}
	if _, err := io.Copy(writer, bytes.NewReader(plain)); err != nil {
		_ = writer.Close()
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		if v.log != nil {
			v.log.Warn("archive write failed", "session", session, "err", err)
		}
		return err
	}
	// Closing the encrypt writer flushes the trailer and closes tmp.
	if err := writer.Close(); err != nil {
		_ = os.Remove(tmpPath)
		if v.log != nil {
			v.log.Warn("archive write failed", "session", session, "err", err)
		}
		return err
	}
	if err := os.Rename(tmpPath, filepath.Join(v.dir, name)); err != nil {
		_ = os.Remove(tmpPath)
		if v.log != nil {
			v.log.Warn("archive write failed", "session", session, "err", err)
		}
		return err
	}
	if v.log != nil {
		v.log.Info("archive write ok", "session", session, "file", name)
	}
	return nil
}

// List returns the archived file names for a session, oldest first.
func (v *Vault) List(session schema.SessionID) ([]string, error) {
	entries, err := os.ReadDir(v.dir)
	if err != nil {
		if v.log != nil {
			v.log.Warn("archive list failed", "session", session, "err", err)
		}
		return nil, err
	}
	prefix := string(session) + "-"
	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasPrefix(name, prefix) && strings.HasSuffix(name, ".rec") {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// Read decrypts an archived file previously written for session.
func (v *Vault) Read(session schema.SessionID, name string) (*schema.Record, error) {
	material, root, err := v.materialForSession(session)
	if err != nil {
		return nil, err
	}
	kg := kryptograf.New(root)
	file, err := os.Open(filepath.Join(v.dir, filepath.Base(name)))
	if err != nil {
		if v.log != nil {
			v.log.Warn("archive read failed", "session", session, "err", err)
		}
		return nil, err
	}
	defer func() { _ = file.Close() }()
	reader, err := kg.DecryptReader(file, material)
	if err != nil {
		if v.log != nil {
			v.log.Warn("archive read failed", "session", session, "err", err)
		}
		return nil, err
	}
	defer func() { _ = reader.Close() }()
	plain, err := io.ReadAll(reader)
	if err != nil {
		if v.log != nil {
			v.log.Warn("archive read failed", "session", session, "err", err)
		}
		return nil, err
	}
	var record schema.Record
	if err := json.Unmarshal(plain, &record); err != nil {
		if v.log != nil {
			v.log.Warn("archive read failed", "session", session, "err", err)
		}
		return nil, err
	}
	return &record, nil
}

func (v *Vault) materialForSession(session schema.SessionID) (keymgmt.Material, keymgmt.RootKey, error) {
	store, err := keymgmt.LoadProto(v.keyStorePath)
	if err != nil {
		if v.log != nil {
			v.log.Warn("archive material load failed", "session", session, "err", err)
		}
		return keymgmt.Material{}, keymgmt.RootKey{}, err
	}
	root, err := store.EnsureRootKey()
	if err != nil {
		if v.log != nil {
			v.log.Warn("archive material load failed", "session", session, "err", err)
		}
		return keymgmt.Material{}, keymgmt.RootKey{}, err
	}
	descName := descriptorPrefix + string(session)
	material, err := store.EnsureDescriptor(descName, root, []byte(descName))
	if err != nil {
		if v.log != nil {
			v.log.Warn("archive material ensure failed", "session", session, "err", err)
		}
		return keymgmt.Material{}, keymgmt.RootKey{}, err
	}
	if err := store.Commit(); err != nil {
		if v.log != nil {
			v.log.Warn("archive material commit failed", "session", session, "err", err)
		}
		return keymgmt.Material{}, keymgmt.RootKey{}, err
	}
	return material, root, nil
}
