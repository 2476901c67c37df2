package staging

import (
	"fmt"
	"hash/fnv"
	"path"
	"path/filepath"
)

// DevicePath is a path relative to the device root, always forward-slashed.
// It is the only path form that crosses package boundaries; translation to
// real or staged locations happens through Area methods, never by string
// prefixing at call sites.
type DevicePath string

// StagedPath is an absolute path inside the staging scratch directory.
type StagedPath string

// Well-known control-folder locations on the device.
const (
	ControlDir           = "iPod_Control"
	CatalogPath          = DevicePath("iPod_Control/iTunes/iTunesDB")
	SecondaryCatalogPath = DevicePath("iPod_Control/iTunes/iTunesSD")
	SysInfoPath          = DevicePath("iPod_Control/Device/SysInfo")
	ExtendedSysInfoPath  = DevicePath("iPod_Control/Device/ExtendedSysInfoXml")
	ArtworkDBPath        = DevicePath("iPod_Control/Artwork/ArtworkDB")
	artworkDir           = "iPod_Control/Artwork"
	musicDir             = "iPod_Control/Music"
	iTunesDir            = "iPod_Control/iTunes"
)

// musicFanOut is the number of music subdirectories (F00..F49) audio files
// are spread across.
const musicFanOut = 50

// Dir returns the device-relative parent directory.
func (p DevicePath) Dir() DevicePath {
	return DevicePath(path.Dir(string(p)))
}

// Base returns the final path element.
func (p DevicePath) Base() string {
	return path.Base(string(p))
}

// toNative converts the forward-slashed device path to the host separator.
func (p DevicePath) toNative() string {
	return filepath.FromSlash(string(p))
}

// TrackDest computes the device destination for a new audio file: a hashed
// fan-out directory plus a name derived from the library track key, so the
// same source track always lands at the same device path.
func TrackDest(libraryKey, ext string) DevicePath {
	h := fnv.New64a()
	h.Write([]byte(libraryKey))
	sum := h.Sum64()

	dir := sum % musicFanOut
	name := fmt.Sprintf("PS%012X", sum>>12&0xFFFFFFFFFFFF)

	return DevicePath(fmt.Sprintf("%s/F%02d/%s%s", musicDir, dir, name, ext))
}
