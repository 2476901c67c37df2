package catalog

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestEngine(t *testing.T) *SQLiteEngine {
	t.Helper()

	e, err := Open(context.Background(), filepath.Join(t.TempDir(), "iTunesDB"), testLogger())
	require.NoError(t, err)

	t.Cleanup(func() { e.Close() })

	return e
}

func sampleTrack() *Track {
	return &Track{
		Title:       "Knights of Cydonia",
		Artist:      "Muse",
		Album:       "Black Holes and Revelations",
		Genre:       "Rock",
		TrackNumber: 11,
		Year:        2006,
		Size:        8_000_000,
		DurationMS:  366_000,
		Path:        "iPod_Control/Music/F03/PS000001.mp3",
	}
}

func TestEngine_TrackRoundTrip(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	ctx := context.Background()

	id, err := e.AddTrack(ctx, sampleTrack())
	require.NoError(t, err)
	require.Positive(t, id)

	tracks, err := e.Tracks(ctx)
	require.NoError(t, err)
	require.Len(t, tracks, 1)

	got := tracks[0]
	assert.Equal(t, id, got.ID)
	assert.Equal(t, "Knights of Cydonia", got.Title)
	assert.Equal(t, "Muse", got.Artist)
	assert.Equal(t, 11, got.TrackNumber)
	assert.Equal(t, int64(8_000_000), got.Size)
	assert.Equal(t, int64(366_000), got.DurationMS)
}

func TestEngine_EmptySnapshots(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	ctx := context.Background()

	tracks, err := e.Tracks(ctx)
	require.NoError(t, err)
	assert.Empty(t, tracks)

	playlists, err := e.Playlists(ctx)
	require.NoError(t, err)
	assert.Empty(t, playlists)
}

func TestEngine_UpdateTrackTags(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	ctx := context.Background()

	id, err := e.AddTrack(ctx, sampleTrack())
	require.NoError(t, err)

	require.NoError(t, e.UpdateTrackTags(ctx, id, Tags{
		Title:       "Knights of Cydonia (Live)",
		Artist:      "Muse",
		Album:       "HAARP",
		Genre:       "Rock",
		TrackNumber: 13,
		Year:        2008,
	}))

	tracks, err := e.Tracks(ctx)
	require.NoError(t, err)
	require.Len(t, tracks, 1)
	assert.Equal(t, "HAARP", tracks[0].Album)
	assert.Equal(t, 13, tracks[0].TrackNumber)

	// Unknown id is an error, not a silent no-op.
	err = e.UpdateTrackTags(ctx, 9999, Tags{Title: "x"})
	assert.Error(t, err)
}

func TestEngine_PlaylistMembership(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	ctx := context.Background()

	t1, err := e.AddTrack(ctx, sampleTrack())
	require.NoError(t, err)

	tr2 := sampleTrack()
	tr2.Title = "Starlight"
	t2, err := e.AddTrack(ctx, tr2)
	require.NoError(t, err)

	pl, err := e.EnsurePlaylist(ctx, "Road Trip")
	require.NoError(t, err)

	// EnsurePlaylist is idempotent.
	again, err := e.EnsurePlaylist(ctx, "Road Trip")
	require.NoError(t, err)
	assert.Equal(t, pl, again)

	require.NoError(t, e.AddPlaylistMember(ctx, pl, t1))
	require.NoError(t, e.AddPlaylistMember(ctx, pl, t2))
	// Double-add is a no-op.
	require.NoError(t, e.AddPlaylistMember(ctx, pl, t1))

	members, err := e.PlaylistMembers(ctx, pl)
	require.NoError(t, err)
	assert.Equal(t, []int64{t1, t2}, members)

	require.NoError(t, e.RemovePlaylistMember(ctx, pl, t1))

	members, err = e.PlaylistMembers(ctx, pl)
	require.NoError(t, err)
	assert.Equal(t, []int64{t2}, members)
}

func TestEngine_RemoveTrackCascadesMembership(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	ctx := context.Background()

	id, err := e.AddTrack(ctx, sampleTrack())
	require.NoError(t, err)

	pl, err := e.EnsurePlaylist(ctx, "Everything")
	require.NoError(t, err)
	require.NoError(t, e.AddPlaylistMember(ctx, pl, id))

	require.NoError(t, e.RemoveTrack(ctx, id))

	members, err := e.PlaylistMembers(ctx, pl)
	require.NoError(t, err)
	assert.Empty(t, members)
}

func TestEngine_CommitAndReopen(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "iTunesDB")
	ctx := context.Background()

	e, err := Open(ctx, path, testLogger())
	require.NoError(t, err)

	_, err = e.AddTrack(ctx, sampleTrack())
	require.NoError(t, err)
	require.NoError(t, e.Commit(ctx))
	require.NoError(t, e.Close())

	// No WAL sidecar should remain after commit + close.
	_, err = os.Stat(path + "-wal")
	assert.True(t, os.IsNotExist(err))

	// Reopening the committed file sees the data.
	e2, err := Open(ctx, path, testLogger())
	require.NoError(t, err)
	defer e2.Close()

	tracks, err := e2.Tracks(ctx)
	require.NoError(t, err)
	assert.Len(t, tracks, 1)
}

func TestEngine_CorruptCatalog(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "iTunesDB")
	require.NoError(t, os.WriteFile(path, []byte("definitely not a catalog"), 0o644))

	_, err := Open(context.Background(), path, testLogger())
	assert.ErrorIs(t, err, ErrCatalogCorrupt)
}
