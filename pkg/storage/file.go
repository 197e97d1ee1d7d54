package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/levenlabs/go-lflag"
	"github.com/natefinch/atomic"
	"github.com/raterudder/powerwatch/pkg/types"
)

const snapshotExt = ".json"

// FileProvider implements the Persister interface with one JSON file per
// snapshot in a directory.
type FileProvider struct {
	dir string
}

// NewFileProvider returns a provider rooted at dir. Call Init before use.
func NewFileProvider(dir string) *FileProvider {
	return &FileProvider{dir: dir}
}

func defaultStorageDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join("Sync", "misc", "powerwall_data")
	}
	return filepath.Join(home, "Sync", "misc", "powerwall_data")
}

// configuredFile sets up the file provider.
func configuredFile() *FileProvider {
	dir := lflag.String("storage-dir", defaultStorageDir(), "Directory the snapshot files are written to")

	f := &FileProvider{}

	lflag.Do(func() {
		f.dir = *dir
	})

	return f
}

// Validate checks if the provider is properly configured.
func (f *FileProvider) Validate() error {
	if f.dir == "" {
		return errors.New("storage-dir is required")
	}
	return nil
}

// Init creates the snapshot directory if it doesn't exist.
func (f *FileProvider) Init() error {
	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create storage dir %s: %w", f.dir, err)
	}
	return nil
}

// Dir returns the directory snapshots are written to.
func (f *FileProvider) Dir() string {
	return f.dir
}

// Close is a no-op.
func (f *FileProvider) Close() error {
	return nil
}

func (f *FileProvider) path(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("invalid snapshot name %q", name)
	}
	return filepath.Join(f.dir, name), nil
}

// Load reads and decodes the snapshot file with the given name.
func (f *FileProvider) Load(ctx context.Context, name string) (types.Snapshot, error) {
	p, err := f.path(name)
	if err != nil {
		return types.Snapshot{}, err
	}
	b, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return types.Snapshot{}, fmt.Errorf("%w: %s", ErrNotFound, p)
		}
		return types.Snapshot{}, fmt.Errorf("failed to read snapshot %s: %w", p, err)
	}
	var snap types.Snapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return types.Snapshot{}, fmt.Errorf("%w: %s: %w", ErrCorrupt, p, err)
	}
	return snap, nil
}

// Save atomically replaces the snapshot file with the given name. Readers
// either see the previous file or the new one, never a partial write.
func (f *FileProvider) Save(ctx context.Context, name string, snap types.Snapshot) error {
	p, err := f.path(name)
	if err != nil {
		return err
	}
	b, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	if err := atomic.WriteFile(p, bytes.NewReader(b)); err != nil {
		return fmt.Errorf("failed to write snapshot %s: %w", p, err)
	}
	return nil
}

// List returns the names of the snapshot files in the directory, sorted.
func (f *FileProvider) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", f.dir, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") || filepath.Ext(e.Name()) != snapshotExt {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}
