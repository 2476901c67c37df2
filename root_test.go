package main

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/podsync-dev/podsync/internal/state"
)

func testStore(t *testing.T) *state.Store {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	store, err := state.NewStore(filepath.Join(t.TempDir(), "state.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return store
}

func TestFindProfile(t *testing.T) {
	t.Parallel()

	store := testStore(t)
	ctx := context.Background()

	nano := &state.DeviceProfile{Label: "nano", Root: "/mnt/nano", PathStrategy: "hashed", PlaylistFormat: "native"}
	classic := &state.DeviceProfile{Label: "classic", Root: "/mnt/classic", PathStrategy: "hashed", PlaylistFormat: "native"}
	require.NoError(t, store.CreateProfile(ctx, nano))
	require.NoError(t, store.CreateProfile(ctx, classic))

	byID, err := findProfile(ctx, store, nano.ID)
	require.NoError(t, err)
	assert.Equal(t, "nano", byID.Label)

	byLabel, err := findProfile(ctx, store, "classic")
	require.NoError(t, err)
	assert.Equal(t, classic.ID, byLabel.ID)

	byPrefix, err := findProfile(ctx, store, "cla")
	require.NoError(t, err)
	assert.Equal(t, classic.ID, byPrefix.ID)

	byRoot, err := findProfile(ctx, store, "/mnt/nano")
	require.NoError(t, err)
	assert.Equal(t, nano.ID, byRoot.ID)

	_, err = findProfile(ctx, store, "touch")
	assert.Error(t, err)
}

func TestFindProfile_AmbiguousPrefix(t *testing.T) {
	t.Parallel()

	store := testStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateProfile(ctx, &state.DeviceProfile{Label: "nano-blue", Root: "/a", PathStrategy: "hashed", PlaylistFormat: "native"}))
	require.NoError(t, store.CreateProfile(ctx, &state.DeviceProfile{Label: "nano-red", Root: "/b", PathStrategy: "hashed", PlaylistFormat: "native"}))

	_, err := findProfile(ctx, store, "nano")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ambiguous")
}

func TestBuildLogger_LevelFlags(t *testing.T) {
	// Mutates package globals; not parallel.
	origVerbose, origQuiet, origCfg := flagVerbose, flagQuiet, resolvedCfg

	t.Cleanup(func() {
		flagVerbose, flagQuiet, resolvedCfg = origVerbose, origQuiet, origCfg
	})

	resolvedCfg = nil
	flagVerbose, flagQuiet = false, false
	logger := buildLogger()
	assert.False(t, logger.Enabled(context.Background(), slog.LevelDebug))
	assert.True(t, logger.Enabled(context.Background(), slog.LevelInfo))

	flagVerbose = true
	logger = buildLogger()
	assert.True(t, logger.Enabled(context.Background(), slog.LevelDebug))

	flagVerbose, flagQuiet = false, true
	logger = buildLogger()
	assert.False(t, logger.Enabled(context.Background(), slog.LevelInfo))
	assert.True(t, logger.Enabled(context.Background(), slog.LevelError))
}
