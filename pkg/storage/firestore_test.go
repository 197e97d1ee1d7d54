package storage

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFirestoreProvider(t *testing.T) {
	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}

	// Use a random database for isolation
	randDB := fmt.Sprintf("test-db-%d", time.Now().UnixNano())
	f := &FirestoreProvider{
		projectID: "test-project-id",
		database:  randDB,
		prefix:    "test-site",
	}

	ctx := context.Background()
	require.NoError(t, f.Init(ctx))
	defer f.Close()

	t.Run("Validate", func(t *testing.T) {
		require.NoError(t, f.Validate())
	})

	t.Run("LoadMissing", func(t *testing.T) {
		_, err := f.Load(ctx, "last_24h.json")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("EmptyName", func(t *testing.T) {
		_, err := f.Load(ctx, "")
		assert.ErrorContains(t, err, "snapshot name cannot be empty")
	})

	t.Run("SaveLoad", func(t *testing.T) {
		snap := testSnapshot()
		require.NoError(t, f.Save(ctx, "last_24h.json", snap))
		require.NoError(t, f.Save(ctx, "2024-03-10_data.json", snap))

		got, err := f.Load(ctx, "last_24h.json")
		require.NoError(t, err)
		assert.Equal(t, snap, got)
	})

	t.Run("NotJSON", func(t *testing.T) {
		_, err := f.collection().Doc("bad.json").Set(ctx, map[string]interface{}{"json": "{nope"})
		require.NoError(t, err)
		_, err = f.Load(ctx, "bad.json")
		assert.ErrorIs(t, err, ErrCorrupt)
	})

	t.Run("List", func(t *testing.T) {
		names, err := f.List(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"2024-03-10_data.json", "bad.json", "last_24h.json"}, names)
	})
}
