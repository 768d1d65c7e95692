package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.abhg.dev/teapot/internal/osutil"
)

// FileBackend is a [Backend] that stores one JSON file per key under
// a directory on disk.
type FileBackend struct {
	dir string
}

// NewFileBackend returns a FileBackend rooted at dir. dir is created
// on first write if it does not exist.
func NewFileBackend(dir string) *FileBackend {
	return &FileBackend{dir: dir}
}

// keyFile maps a repoPath key to a filename. Keys are hashed rather
// than used verbatim since a repoPath is an arbitrary filesystem path
// that may contain characters unsafe for a single path segment.
func (b *FileBackend) keyFile(key string) string {
	sum := sha256.Sum256([]byte(key))
	return filepath.Join(b.dir, hex.EncodeToString(sum[:])+".json")
}

type fileRecord struct {
	Key     string              `json:"key"`
	Session StoredRebaseSession `json:"session"`
}

func (b *FileBackend) Get(_ context.Context, key string, dst *StoredRebaseSession) error {
	data, err := os.ReadFile(b.keyFile(key))
	if errors.Is(err, os.ErrNotExist) {
		return ErrNotExist
	}
	if err != nil {
		return err
	}

	var rec fileRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return fmt.Errorf("corrupt session record for %q: %w", key, err)
	}
	*dst = rec.Session
	return nil
}

func (b *FileBackend) Put(_ context.Context, key string, value StoredRebaseSession) error {
	if err := os.MkdirAll(b.dir, 0o755); err != nil {
		return err
	}

	data, err := json.Marshal(fileRecord{Key: key, Session: value})
	if err != nil {
		return err
	}

	tmp, err := osutil.TempFilePath(b.dir, "session-*.tmp")
	if err != nil {
		return err
	}
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, b.keyFile(key))
}

func (b *FileBackend) Delete(_ context.Context, key string) error {
	err := os.Remove(b.keyFile(key))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (b *FileBackend) Keys(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(b.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var keys []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(b.dir, e.Name()))
		if err != nil {
			continue
		}
		var rec fileRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			continue
		}
		keys = append(keys, rec.Key)
	}
	return keys, nil
}
