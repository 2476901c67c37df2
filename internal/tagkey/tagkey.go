// Package tagkey builds normalized identity keys from track tag metadata.
// Keys are the coarse identity used to match a source library track against
// tracks already present in a device catalog: Unicode-normalized, case-folded
// (artist, title, album, track number), optionally extended with file size.
package tagkey

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// folder performs full Unicode case folding, which handles cases plain
// ToLower gets wrong (e.g. İ, ß, ligatures).
var folder = cases.Fold()

// Normalize canonicalizes a single tag value: trim, collapse internal
// whitespace runs, NFC-normalize, case-fold. Empty and whitespace-only
// values normalize to "".
func Normalize(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if s == "" {
		return ""
	}

	return folder.String(norm.NFC.String(s))
}

// Key is a normalized (artist, title, album, track number) tuple.
type Key struct {
	Artist      string
	Title       string
	Album       string
	TrackNumber int
}

// New builds a Key from raw tag values.
func New(artist, title, album string, trackNumber int) Key {
	return Key{
		Artist:      Normalize(artist),
		Title:       Normalize(title),
		Album:       Normalize(album),
		TrackNumber: trackNumber,
	}
}

// String renders the key as a stable map key. The unit separator keeps
// fields unambiguous even when tag values contain delimiters.
func (k Key) String() string {
	return fmt.Sprintf("%s\x1f%s\x1f%s\x1f%d", k.Artist, k.Title, k.Album, k.TrackNumber)
}

// WithSize extends the key with an exact byte size, forming the tier-4
// (tag + size) identity key.
func (k Key) WithSize(size int64) string {
	return fmt.Sprintf("%s\x1f%d", k.String(), size)
}
