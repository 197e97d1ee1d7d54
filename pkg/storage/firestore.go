package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/levenlabs/go-lflag"
	"github.com/raterudder/powerwatch/pkg/log"
	"github.com/raterudder/powerwatch/pkg/types"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const snapshotsCollection = "snapshots"

// FirestoreProvider implements the Persister interface using Google Cloud
// Firestore. Each snapshot is a document whose ID is the snapshot name.
type FirestoreProvider struct {
	client    *firestore.Client
	projectID string
	database  string
	prefix    string
}

// configuredFirestore sets up the Firestore provider.
// It registers flags for configuration.
func configuredFirestore() *FirestoreProvider {
	projectID := lflag.String("firestore-project-id", "", "Google Cloud Project ID for Firestore")
	database := lflag.String("firestore-database", "", "Google Cloud Firestore Database")
	emulator := lflag.String("firestore-emulator", "", "Use Firestore emulator")
	prefix := lflag.String("firestore-prefix", "", "Namespace snapshots under sites/<prefix> (useful when several recorders share a database)")

	f := &FirestoreProvider{}

	lflag.Do(func() {
		f.projectID = *projectID
		f.database = *database
		f.prefix = *prefix

		// set this because that's how firestore client expects it
		if *emulator != "" {
			os.Setenv("FIRESTORE_EMULATOR_HOST", *emulator)
		}
	})

	return f
}

// Validate checks if the provider is properly configured.
func (f *FirestoreProvider) Validate() error {
	// Project ID can be empty since it's detected from the environment.
	return nil
}

// Init initializes the Firestore client.
// This must be called before using the provider methods.
func (f *FirestoreProvider) Init(ctx context.Context) error {
	projectID := f.projectID
	if projectID == "" {
		projectID = firestore.DetectProjectID
	}
	database := f.database
	if database == "" {
		database = firestore.DefaultDatabaseID
	}
	client, err := firestore.NewClientWithDatabase(ctx, projectID, database)
	if err != nil {
		return fmt.Errorf("failed to create firestore client (project=%s, database=%s): %w", projectID, database, err)
	}
	f.client = client
	return nil
}

// Close closes the Firestore client connection.
func (f *FirestoreProvider) Close() error {
	if f.client != nil {
		return f.client.Close()
	}
	return nil
}

func (f *FirestoreProvider) collection() *firestore.CollectionRef {
	if f.prefix == "" {
		return f.client.Collection(snapshotsCollection)
	}
	return f.client.Collection("sites").Doc(f.prefix).Collection(snapshotsCollection)
}

// Load retrieves the snapshot document with the given name.
func (f *FirestoreProvider) Load(ctx context.Context, name string) (types.Snapshot, error) {
	if name == "" {
		return types.Snapshot{}, fmt.Errorf("snapshot name cannot be empty")
	}
	doc, err := f.collection().Doc(name).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return types.Snapshot{}, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return types.Snapshot{}, fmt.Errorf("failed to fetch snapshot doc %s: %w", name, err)
	}

	val, err := doc.DataAt("json")
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "snapshot doc missing json", slog.String("name", name))
		return types.Snapshot{}, fmt.Errorf("%w: %s missing 'json' field", ErrCorrupt, name)
	}
	jsonStr, ok := val.(string)
	if !ok {
		log.Ctx(ctx).WarnContext(ctx, "snapshot doc json not string", slog.String("name", name))
		return types.Snapshot{}, fmt.Errorf("%w: %s 'json' field is not a string", ErrCorrupt, name)
	}

	var snap types.Snapshot
	if err := json.Unmarshal([]byte(jsonStr), &snap); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to unmarshal snapshot json", slog.String("name", name), slog.Any("error", err))
		return types.Snapshot{}, fmt.Errorf("%w: %s: %w", ErrCorrupt, name, err)
	}
	return snap, nil
}

// Save replaces the snapshot document with the given name. The snapshot is
// stored as a JSON string so it matches the file format byte for byte.
func (f *FirestoreProvider) Save(ctx context.Context, name string, snap types.Snapshot) error {
	if name == "" {
		return fmt.Errorf("snapshot name cannot be empty")
	}
	jsonBytes, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	_, err = f.collection().Doc(name).Set(ctx, map[string]interface{}{
		"json":    string(jsonBytes),
		"updated": time.Now(),
	})
	if err != nil {
		return fmt.Errorf("failed to save snapshot %s: %w", name, err)
	}
	return nil
}

// List returns the names of every stored snapshot document, sorted.
func (f *FirestoreProvider) List(ctx context.Context) ([]string, error) {
	iter := f.collection().Documents(ctx)
	defer iter.Stop()

	var names []string
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error iterating snapshots: %w", err)
		}
		names = append(names, doc.Ref.ID)
	}
	sort.Strings(names)
	return names, nil
}
