package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// Entry is the persisted form of one pair's object reference.
type Entry struct {
	ObjectID  string    `json:"object_id"`
	Version   uint64    `json:"version,omitempty"`
	Digest    string    `json:"digest,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store loads and saves the whole registry.
//
// Load returns ErrStoreMissing when nothing was persisted yet, ErrUnreadable when
// the backing storage cannot be read and ErrCorrupt when it was read but cannot be parsed.
// Preserve moves the current contents aside and returns where they went, or ""
// when there was nothing to move.
type Store interface {
	Load(ctx context.Context) (map[string]Entry, error)
	Save(ctx context.Context, entries map[string]Entry) error
	Preserve(ctx context.Context) (string, error)
	Describe() string
}

func preservedName(base string, now time.Time) string {
	return fmt.Sprintf("%s.unreadable-%s", base, now.UTC().Format("20060102T150405Z"))
}

// parseEntry decodes a stored value. A bare JSON string is the legacy
// format and holds only the object id.
func parseEntry(raw []byte) (Entry, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '"' {
		var id string
		if err := json.Unmarshal(raw, &id); err != nil {
			return Entry{}, err
		}
		return Entry{ObjectID: id}, nil
	}
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return Entry{}, err
	}
	return e, nil
}

// FileStore keeps the registry in a pretty-printed JSON file.
type FileStore struct {
	path string
}

var _ Store = (*FileStore)(nil)

// NewFileStore creates a file-backed store.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: filepath.Clean(path)}
}

// Describe returns the file path.
func (s *FileStore) Describe() string {
	return "file:" + s.path
}

// Load reads the registry file.
func (s *FileStore) Load(_ context.Context) (map[string]Entry, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrStoreMissing
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("%w: %s is empty", ErrUnreadable, s.path)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, s.path, err)
	}

	entries := make(map[string]Entry, len(raw))
	for pair, v := range raw {
		e, err := parseEntry(v)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: entry %q: %v", ErrCorrupt, s.path, pair, err)
		}
		entries[pair] = e
	}
	return entries, nil
}

// Preserve renames the registry file next to itself.
func (s *FileStore) Preserve(_ context.Context) (string, error) {
	dest := preservedName(s.path, time.Now())
	err := os.Rename(s.path, dest)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return dest, nil
}

// Save rewrites the file through a synced temp file and rename.
func (s *FileStore) Save(_ context.Context, entries map[string]Entry) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) //nolint:errcheck // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return err
	}

	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		d.Close()
	}
	return nil
}
