package sync

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/podsync-dev/podsync/internal/catalog"
	"github.com/podsync-dev/podsync/internal/library"
	"github.com/podsync-dev/podsync/internal/state"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeEngine is an in-memory catalog.Engine. It survives across runs in a
// test, standing in for the catalog file persisting on the device.
type fakeEngine struct {
	nextTrackID    int64
	nextPlaylistID int64
	tracks         map[int64]catalog.Track
	playlists      map[int64]string
	members        map[int64][]int64

	committed int
	closed    int

	addTrackErr error
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		tracks:    make(map[int64]catalog.Track),
		playlists: make(map[int64]string),
		members:   make(map[int64][]int64),
	}
}

func (e *fakeEngine) Tracks(context.Context) ([]catalog.Track, error) {
	ids := make([]int64, 0, len(e.tracks))
	for id := range e.tracks {
		ids = append(ids, id)
	}

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]catalog.Track, 0, len(ids))
	for _, id := range ids {
		out = append(out, e.tracks[id])
	}

	return out, nil
}

func (e *fakeEngine) Playlists(context.Context) ([]catalog.Playlist, error) {
	out := make([]catalog.Playlist, 0, len(e.playlists))
	for id, title := range e.playlists {
		out = append(out, catalog.Playlist{ID: id, Title: title})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	return out, nil
}

func (e *fakeEngine) AddTrack(_ context.Context, t *catalog.Track) (int64, error) {
	if e.addTrackErr != nil {
		return 0, e.addTrackErr
	}

	e.nextTrackID++
	rec := *t
	rec.ID = e.nextTrackID
	e.tracks[rec.ID] = rec

	return rec.ID, nil
}

func (e *fakeEngine) UpdateTrackTags(_ context.Context, id int64, tags catalog.Tags) error {
	t, ok := e.tracks[id]
	if !ok {
		return fmt.Errorf("no track %d", id)
	}

	t.Title = tags.Title
	t.Artist = tags.Artist
	t.Album = tags.Album
	t.Genre = tags.Genre
	t.TrackNumber = tags.TrackNumber
	t.Year = tags.Year
	e.tracks[id] = t

	return nil
}

func (e *fakeEngine) RemoveTrack(_ context.Context, id int64) error {
	delete(e.tracks, id)

	for pl, ids := range e.members {
		e.members[pl] = removeID(ids, id)
	}

	return nil
}

func (e *fakeEngine) EnsurePlaylist(_ context.Context, title string) (int64, error) {
	for id, t := range e.playlists {
		if t == title {
			return id, nil
		}
	}

	e.nextPlaylistID++
	e.playlists[e.nextPlaylistID] = title

	return e.nextPlaylistID, nil
}

func (e *fakeEngine) PlaylistMembers(_ context.Context, playlistID int64) ([]int64, error) {
	return append([]int64(nil), e.members[playlistID]...), nil
}

func (e *fakeEngine) AddPlaylistMember(_ context.Context, playlistID, trackID int64) error {
	for _, id := range e.members[playlistID] {
		if id == trackID {
			return nil
		}
	}

	e.members[playlistID] = append(e.members[playlistID], trackID)

	return nil
}

func (e *fakeEngine) RemovePlaylistMember(_ context.Context, playlistID, trackID int64) error {
	e.members[playlistID] = removeID(e.members[playlistID], trackID)
	return nil
}

func (e *fakeEngine) Commit(context.Context) error {
	e.committed++
	return nil
}

func (e *fakeEngine) Close() error {
	e.closed++
	return nil
}

// seedTrack preloads a catalog track, as if a previous sync wrote it.
func (e *fakeEngine) seedTrack(tr catalog.Track) int64 {
	e.nextTrackID++
	tr.ID = e.nextTrackID
	e.tracks[tr.ID] = tr

	return tr.ID
}

// seedPlaylist preloads a playlist with members.
func (e *fakeEngine) seedPlaylist(title string, members ...int64) int64 {
	e.nextPlaylistID++
	e.playlists[e.nextPlaylistID] = title
	e.members[e.nextPlaylistID] = members

	return e.nextPlaylistID
}

// fakeStore is an in-memory MappingStore.
type fakeStore struct {
	mappings map[string]*state.TrackMapping // profileID + "\x00" + libraryKey
	byFp     map[string]*state.TrackMapping // profileID + "\x00" + fingerprintID
	touched  int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		mappings: make(map[string]*state.TrackMapping),
		byFp:     make(map[string]*state.TrackMapping),
	}
}

func (s *fakeStore) GetMapping(_ context.Context, profileID, libraryKey string) (*state.TrackMapping, error) {
	if m, ok := s.mappings[profileID+"\x00"+libraryKey]; ok {
		return m, nil
	}

	return nil, state.ErrNotFound
}

func (s *fakeStore) GetMappingByFingerprint(_ context.Context, profileID, fingerprintID string) (*state.TrackMapping, error) {
	if fingerprintID == "" {
		return nil, state.ErrNotFound
	}

	if m, ok := s.byFp[profileID+"\x00"+fingerprintID]; ok {
		return m, nil
	}

	return nil, state.ErrNotFound
}

func (s *fakeStore) SaveMapping(_ context.Context, m *state.TrackMapping) error {
	cp := *m
	s.mappings[m.ProfileID+"\x00"+m.LibraryKey] = &cp

	if m.FingerprintID != "" {
		s.byFp[m.ProfileID+"\x00"+m.FingerprintID] = &cp
	}

	return nil
}

func (s *fakeStore) TouchProfile(context.Context, string, int64) error {
	s.touched++
	return nil
}

// fakeTranscoder converts by prefixing the source bytes, or fails with err.
type fakeTranscoder struct {
	dir string
	err error

	calls   int
	cleaned int
}

func (f *fakeTranscoder) Transcode(_ context.Context, srcPath string) (string, func(), error) {
	f.calls++

	if f.err != nil {
		return "", nil, f.err
	}

	data, err := os.ReadFile(srcPath)
	if err != nil {
		return "", nil, err
	}

	out := filepath.Join(f.dir, fmt.Sprintf("out-%d.m4a", f.calls))
	if err := os.WriteFile(out, append([]byte("alac:"), data...), 0o644); err != nil {
		return "", nil, err
	}

	return out, func() {
		f.cleaned++
		os.Remove(out)
	}, nil
}

// newDeviceRoot creates the control-folder hierarchy of an empty device.
func newDeviceRoot(t *testing.T) string {
	t.Helper()

	root := t.TempDir()
	for _, d := range []string{"iPod_Control/iTunes", "iPod_Control/Music", "iPod_Control/Device"} {
		require.NoError(t, os.MkdirAll(filepath.Join(root, d), 0o755))
	}

	return root
}

// writeSourceFile writes a library file and returns its index entry.
func writeSourceFile(t *testing.T, libRoot, rel, content string) library.FileIndexEntry {
	t.Helper()

	p := filepath.Join(libRoot, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))

	return library.FileIndexEntry{RelPath: rel, Size: int64(len(content))}
}

func trackRef(id, artist, title, album string, trackNumber int, codec string, file library.FileIndexEntry) library.TrackRef {
	return library.TrackRef{
		Track: library.TrackRecord{
			ID:          id,
			LibraryID:   "lib1",
			Title:       title,
			Artist:      artist,
			Album:       album,
			TrackNumber: trackNumber,
			Codec:       codec,
		},
		File: file,
	}
}
