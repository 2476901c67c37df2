package sync

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/podsync-dev/podsync/internal/catalog"
)

func TestContentHashFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	a := filepath.Join(dir, "a.mp3")
	b := filepath.Join(dir, "b.mp3")
	c := filepath.Join(dir, "c.mp3")

	require.NoError(t, os.WriteFile(a, []byte("same bytes"), 0o644))
	require.NoError(t, os.WriteFile(b, []byte("same bytes"), 0o644))
	require.NoError(t, os.WriteFile(c, []byte("other bytes"), 0o644))

	ha, err := ContentHashFile(a)
	require.NoError(t, err)

	hb, err := ContentHashFile(b)
	require.NoError(t, err)

	hc, err := ContentHashFile(c)
	require.NoError(t, err)

	assert.Equal(t, ha, hb, "identical content must hash identically regardless of filename")
	assert.NotEqual(t, ha, hc)

	_, err = ContentHashFile(filepath.Join(dir, "missing.mp3"))
	assert.Error(t, err)
}

func sessionFixture(hashFn trackHashFunc) *Session {
	return NewSession([]catalog.Track{
		{ID: 1, Artist: "Muse", Title: "Knights of Cydonia", Album: "Black Holes", TrackNumber: 6, Size: 8_000_000, DurationMS: 366_000, Path: "iPod_Control/Music/F01/PS000000000001.mp3"},
		{ID: 2, Artist: "Muse", Title: "Starlight", Album: "Black Holes", TrackNumber: 2, Size: 6_000_000, DurationMS: 240_000, Path: "iPod_Control/Music/F02/PS000000000002.mp3"},
	}, hashFn)
}

func TestSession_Indexes(t *testing.T) {
	t.Parallel()

	s := sessionFixture(nil)

	key := trackKey(s.Track(1))
	require.Len(t, s.ByTag(key.String()), 1)
	require.Len(t, s.ByTagSize(key.WithSize(8_000_000)), 1)
	assert.Empty(t, s.ByTagSize(key.WithSize(1)))
	require.Len(t, s.BySize(6_000_000), 1)
	assert.Equal(t, int64(2), s.BySize(6_000_000)[0].ID)
	assert.Equal(t, 2, s.Len())
}

func TestSession_UpdateTagsReindexes(t *testing.T) {
	t.Parallel()

	s := sessionFixture(nil)
	old := trackKey(s.Track(1))

	s.UpdateTags(1, catalog.Tags{Artist: "Muse", Title: "Knights of Cydonia", Album: "Black Holes and Revelations", TrackNumber: 6})

	assert.Empty(t, s.ByTag(old.String()))

	updated := trackKey(s.Track(1))
	require.Len(t, s.ByTag(updated.String()), 1)
	assert.Equal(t, "Black Holes and Revelations", s.Track(1).Album)
	require.Len(t, s.ByTagSize(updated.WithSize(8_000_000)), 1)
}

func TestSession_Remove(t *testing.T) {
	t.Parallel()

	s := sessionFixture(nil)
	key := trackKey(s.Track(2))

	s.Remove(2)

	assert.Nil(t, s.Track(2))
	assert.Empty(t, s.ByTag(key.String()))
	assert.Empty(t, s.BySize(6_000_000))
	assert.Equal(t, 1, s.Len())
}

func TestSession_HashOfCaches(t *testing.T) {
	t.Parallel()

	calls := 0
	s := sessionFixture(func(tr *catalog.Track) (string, error) {
		calls++
		return "hash-" + tr.Path, nil
	})

	tr := s.Track(1)

	h1, err := s.HashOf(tr)
	require.NoError(t, err)

	h2, err := s.HashOf(tr)
	require.NoError(t, err)

	assert.Equal(t, h1, h2)
	assert.Equal(t, 1, calls, "hash computed at most once per track per run")
}
