package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/levenlabs/go-lflag"
	"github.com/raterudder/powerwatch/pkg/types"
)

var (
	// ErrNotFound is returned by Load when no snapshot with that name exists.
	ErrNotFound = errors.New("snapshot not found")
	// ErrCorrupt is returned by Load when the stored document can't be decoded.
	ErrCorrupt = errors.New("snapshot is not valid json")
)

// Persister defines the interface for persisting rolling window snapshots.
type Persister interface {
	// Load returns the snapshot stored under name.
	Load(ctx context.Context, name string) (types.Snapshot, error)
	// Save replaces the snapshot stored under name.
	Save(ctx context.Context, name string, snap types.Snapshot) error
	// List returns the names of all stored snapshots, sorted.
	List(ctx context.Context) ([]string, error)

	// Lifecycle
	Close() error
}

// Configured sets up the storage provider based on flags.
func Configured() Persister {
	provider := lflag.String("storage-provider", "file", "Storage provider to use (available: file, firestore)")

	var p struct{ Persister }

	file := configuredFile()
	fs := configuredFirestore()

	lflag.Do(func() {
		switch *provider {
		case "file":
			if err := file.Validate(); err != nil {
				panic(fmt.Sprintf("file storage validation failed: %v", err))
			}
			if err := file.Init(); err != nil {
				panic(fmt.Sprintf("file storage init failed: %v", err))
			}
			p.Persister = file
		case "firestore":
			if err := fs.Validate(); err != nil {
				panic(fmt.Sprintf("firestore validation failed: %v", err))
			}
			p.Persister = fs
			if err := fs.Init(context.Background()); err != nil {
				panic(fmt.Sprintf("firestore init failed: %v", err))
			}
		default:
			panic(fmt.Sprintf("unknown storage provider: %s", *provider))
		}
	})

	return &p
}
