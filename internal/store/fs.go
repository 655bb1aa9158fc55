package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	apperrors "github.com/openclaw/wa-orchestrator-go/internal/errors"
	"github.com/openclaw/wa-orchestrator-go/internal/model"
	"github.com/openclaw/wa-orchestrator-go/internal/util"
)

const (
	metaFile       = ".meta.json"
	credsFile      = "creds.json"
	appStatePrefix = "app-state"
)

type fsStore struct {
	root string
}

// NewFS returns a Store rooted at dir, creating it if necessary.
func NewFS(dir string) (Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, apperrors.FileSystem("failed to create sessions directory", err)
	}
	return &fsStore{root: dir}, nil
}

func (s *fsStore) Root() string {
	return s.root
}

func (s *fsStore) dir(id string) string {
	return filepath.Join(s.root, id)
}

func (s *fsStore) metaPath(id string) string {
	return filepath.Join(s.root, id, metaFile)
}

func (s *fsStore) EnsureDir(id string) error {
	if err := os.MkdirAll(s.dir(id), 0o700); err != nil {
		return apperrors.FileSystem("failed to create session directory", err)
	}
	return nil
}

func (s *fsStore) HasDir(id string) bool {
	info, err := os.Stat(s.dir(id))
	return err == nil && info.IsDir()
}

func (s *fsStore) ListIDs() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, apperrors.FileSystem("failed to read sessions directory", err)
	}
	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() && util.SessionDirPattern.MatchString(entry.Name()) {
			ids = append(ids, entry.Name())
		}
	}
	return ids, nil
}

func (s *fsStore) ReadMeta(id string) model.PersistedMeta {
	var meta model.PersistedMeta
	data, err := os.ReadFile(s.metaPath(id))
	if err != nil {
		return meta
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return model.PersistedMeta{}
	}
	return meta
}

func (s *fsStore) MergeMeta(id string, patch model.MetaPatch) error {
	if err := s.EnsureDir(id); err != nil {
		return err
	}
	meta := s.ReadMeta(id)
	if patch.LastCodeAt != nil {
		meta.LastCodeAt = *patch.LastCodeAt
	}
	if patch.RegisteredAt != nil {
		meta.RegisteredAt = *patch.RegisteredAt
	}
	if patch.UnusedCodes != nil {
		meta.UnusedCodes = *patch.UnusedCodes
	}
	if patch.LastCodeExpiredAt != nil {
		meta.LastCodeExpiredAt = *patch.LastCodeExpiredAt
	}
	if patch.NotifiedOnline != nil {
		meta.NotifiedOnline = *patch.NotifiedOnline
	}

	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return apperrors.Internal("failed to encode session metadata").WithCause(err)
	}
	if err := os.WriteFile(s.metaPath(id), data, 0o600); err != nil {
		return apperrors.FileSystem("failed to write session metadata", err)
	}
	return nil
}

func (s *fsStore) IsRegistered(id string) bool {
	data, err := os.ReadFile(filepath.Join(s.dir(id), credsFile))
	if err != nil {
		return false
	}
	var creds struct {
		Registered bool `json:"registered"`
	}
	if err := json.Unmarshal(data, &creds); err != nil {
		return false
	}
	return creds.Registered
}

// Sanitize removes subdirectories and any file that is not the credential
// blob, an app-state blob or the metadata sidecar. Failures on individual
// entries are skipped so a partially locked directory still gets cleaned.
func (s *fsStore) Sanitize(id string) error {
	dir := s.dir(id)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return apperrors.FileSystem("failed to read session directory", err)
	}
	for _, entry := range entries {
		name := entry.Name()
		full := filepath.Join(dir, name)
		if entry.IsDir() {
			_ = os.RemoveAll(full)
			continue
		}
		if name == credsFile || name == metaFile || strings.HasPrefix(name, appStatePrefix) {
			continue
		}
		_ = os.Remove(full)
	}
	return nil
}

func (s *fsStore) Wipe(id string) error {
	if err := os.RemoveAll(s.dir(id)); err != nil {
		return apperrors.FileSystem("failed to remove session directory", err)
	}
	return nil
}
