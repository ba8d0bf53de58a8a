package slots

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alphawatch/internal/application/port"
	"alphawatch/internal/domain/model"
)

func testSnapshot(at time.Time, qty string) *model.Snapshot {
	return model.NewSnapshot(at, model.ModelPosition{
		ID:          "qwen3-max",
		RealizedPnL: 12.5,
		Positions: map[string]model.Position{
			"BTC": {Quantity: decimal.RequireFromString(qty), Leverage: 20, EntryPrice: 107343},
		},
	})
}

func stores(t *testing.T) map[string]port.SnapshotStore {
	t.Helper()
	fs, err := NewFileStore(filepath.Join(t.TempDir(), "data"))
	require.NoError(t, err)

	ps, err := OpenPebble(filepath.Join(t.TempDir(), "pebble"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = ps.Close() })

	return map[string]port.SnapshotStore{"file": fs, "pebble": ps}
}

func TestStoreLifecycle(t *testing.T) {
	t0 := time.Date(2025, 10, 20, 8, 0, 0, 0, time.UTC)

	for name, st := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			prev, err := st.ReadPrevious(ctx)
			require.NoError(t, err)
			assert.Nil(t, prev, "first run has no previous slot")

			assert.ErrorIs(t, st.Promote(ctx), port.ErrNothingStaged)

			require.NoError(t, st.Stage(ctx, testSnapshot(t0, "1")))
			prev, err = st.ReadPrevious(ctx)
			require.NoError(t, err)
			assert.Nil(t, prev, "staging alone does not touch previous")

			require.NoError(t, st.Promote(ctx))
			prev, err = st.ReadPrevious(ctx)
			require.NoError(t, err)
			require.NotNil(t, prev)
			assert.True(t, prev.FetchedAt.Equal(t0))
			m, ok := prev.Model("qwen3-max")
			require.True(t, ok)
			assert.Equal(t, "1", m.Positions["BTC"].Quantity.String())

			// promote consumed current
			assert.ErrorIs(t, st.Promote(ctx), port.ErrNothingStaged)

			// a staged-but-unpromoted snapshot leaves previous as it was
			require.NoError(t, st.Stage(ctx, testSnapshot(t0.Add(time.Minute), "2")))
			prev, err = st.ReadPrevious(ctx)
			require.NoError(t, err)
			assert.True(t, prev.FetchedAt.Equal(t0))

			// restaging replaces current
			require.NoError(t, st.Stage(ctx, testSnapshot(t0.Add(2*time.Minute), "3")))
			require.NoError(t, st.Promote(ctx))
			prev, err = st.ReadPrevious(ctx)
			require.NoError(t, err)
			assert.True(t, prev.FetchedAt.Equal(t0.Add(2*time.Minute)))
			m, _ = prev.Model("qwen3-max")
			assert.Equal(t, "3", m.Positions["BTC"].Quantity.String())
		})
	}
}

func TestFileStoreLayout(t *testing.T) {
	dir := t.TempDir()
	st, err := NewFileStore(dir)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, st.Stage(ctx, testSnapshot(time.Now(), "1")))
	assert.FileExists(t, filepath.Join(dir, CurrentFile))
	assert.NoFileExists(t, filepath.Join(dir, PreviousFile))

	require.NoError(t, st.Promote(ctx))
	assert.NoFileExists(t, filepath.Join(dir, CurrentFile))
	assert.FileExists(t, filepath.Join(dir, PreviousFile))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")

	data, err := os.ReadFile(filepath.Join(dir, PreviousFile))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"fetch_time"`)
	assert.Contains(t, string(data), `"timestamp"`)
	assert.Contains(t, string(data), `"positions"`)
}

func TestFileStoreCorruptPrevious(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, PreviousFile), []byte(`{"positions": "oops"`), 0o644))

	st, err := NewFileStore(dir)
	require.NoError(t, err)
	_, err = st.ReadPrevious(context.Background())
	assert.ErrorIs(t, err, port.ErrCorruptSlot)

	// a good stage + promote heals it
	require.NoError(t, st.Stage(context.Background(), testSnapshot(time.Now(), "1")))
	require.NoError(t, st.Promote(context.Background()))
	prev, err := st.ReadPrevious(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, prev)
}

func TestFileReaderSeesPromotedSnapshot(t *testing.T) {
	dir := t.TempDir()
	st, err := NewFileStore(dir)
	require.NoError(t, err)
	r := NewFileReader(dir)

	prev, err := r.ReadPrevious(context.Background())
	require.NoError(t, err)
	assert.Nil(t, prev)

	require.NoError(t, st.Stage(context.Background(), testSnapshot(time.Now(), "0.5")))
	require.NoError(t, st.Promote(context.Background()))

	prev, err = r.ReadPrevious(context.Background())
	require.NoError(t, err)
	require.NotNil(t, prev)
	assert.Len(t, prev.Models, 1)
}

func TestFileStorePreservesUnknownFields(t *testing.T) {
	dir := t.TempDir()
	st, err := NewFileStore(dir)
	require.NoError(t, err)

	snap, err := model.DecodeSnapshot([]byte(`{"positions":[],"serverTime":1760946123,"source":"nof1"}`))
	require.NoError(t, err)
	require.NoError(t, st.Stage(context.Background(), snap.Stamped(time.Now())))
	require.NoError(t, st.Promote(context.Background()))

	data, err := os.ReadFile(filepath.Join(dir, PreviousFile))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"serverTime": 1760946123`)
	assert.Contains(t, string(data), `"source": "nof1"`)
}
