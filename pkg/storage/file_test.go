package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/raterudder/powerwatch/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSnapshot() types.Snapshot {
	return types.Snapshot{
		MeterValues: map[string][]float64{
			"site":  {100, 200},
			"solar": {0, 1500.5},
		},
		XAxis:      []string{"2024-03-10_00:59:00-0800", "2024-03-10_01:00:00-0800"},
		BatteryPct: []float64{55, 56.5},
	}
}

func TestFileProvider(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "nested", "data")
	f := NewFileProvider(dir)
	require.NoError(t, f.Validate())
	require.NoError(t, f.Init())
	defer f.Close()

	t.Run("LoadMissing", func(t *testing.T) {
		_, err := f.Load(ctx, "last_24h.json")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("SaveLoad", func(t *testing.T) {
		snap := testSnapshot()
		require.NoError(t, f.Save(ctx, "last_24h.json", snap))

		got, err := f.Load(ctx, "last_24h.json")
		require.NoError(t, err)
		assert.Equal(t, snap, got)
	})

	t.Run("Overwrite", func(t *testing.T) {
		snap := testSnapshot()
		snap.BatteryPct = []float64{1, 2}
		require.NoError(t, f.Save(ctx, "last_24h.json", snap))

		got, err := f.Load(ctx, "last_24h.json")
		require.NoError(t, err)
		assert.Equal(t, []float64{1, 2}, got.BatteryPct)
	})

	t.Run("OnDiskKeys", func(t *testing.T) {
		b, err := os.ReadFile(filepath.Join(dir, "last_24h.json"))
		require.NoError(t, err)
		assert.Contains(t, string(b), `"meter_values"`)
		assert.Contains(t, string(b), `"x_axis"`)
		assert.Contains(t, string(b), `"battery_pct"`)
	})

	t.Run("Corrupt", func(t *testing.T) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.json"), []byte("{not json"), 0o644))
		_, err := f.Load(ctx, "bad.json")
		assert.ErrorIs(t, err, ErrCorrupt)
	})

	t.Run("InvalidName", func(t *testing.T) {
		for _, name := range []string{"", "../escape.json", "a/b.json", ".hidden.json"} {
			assert.Error(t, f.Save(ctx, name, testSnapshot()), name)
			_, err := f.Load(ctx, name)
			assert.Error(t, err, name)
		}
	})

	t.Run("List", func(t *testing.T) {
		require.NoError(t, f.Save(ctx, "2024-03-10_data.json", testSnapshot()))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))
		require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.json"), 0o755))

		names, err := f.List(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"2024-03-10_data.json", "bad.json", "last_24h.json"}, names)
	})
}

func TestFileProviderValidate(t *testing.T) {
	assert.Error(t, NewFileProvider("").Validate())
}
