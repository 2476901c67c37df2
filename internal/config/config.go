// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for podsync. Settings resolve through a
// three-layer override chain (defaults -> config file -> CLI flags).
package config

// Config is the top-level configuration structure parsed from a TOML file.
type Config struct {
	Library   LibraryConfig   `toml:"library"`
	Storage   StorageConfig   `toml:"storage"`
	Transcode TranscodeConfig `toml:"transcode"`
	Sync      SyncConfig      `toml:"sync"`
	Logging   LoggingConfig   `toml:"logging"`
}

// LibraryConfig locates the source music library.
type LibraryConfig struct {
	Root string `toml:"root"`
}

// StorageConfig locates the durable state database holding device profiles
// and track mappings.
type StorageConfig struct {
	StateDB string `toml:"state_db"`
}

// TranscodeConfig controls the transcode pool: concurrency, per-job timeout,
// and the codec binary. timeout accepts Go duration syntax ("120s", "2m").
type TranscodeConfig struct {
	Workers    int    `toml:"workers"`
	Timeout    string `toml:"timeout"`
	FFmpegPath string `toml:"ffmpeg_path"`
	ScratchDir string `toml:"scratch_dir"`
}

// SyncConfig holds the default sync policy, overridable per run from the CLI.
type SyncConfig struct {
	Mirror        bool   `toml:"mirror"`
	DeleteRemoved bool   `toml:"delete_removed"`
	ReferenceOnly bool   `toml:"reference_only"`
	ProbeInterval string `toml:"probe_interval"`
}

// LoggingConfig controls log output behavior: level, format, and rotation.
type LoggingConfig struct {
	LogLevel         string `toml:"log_level"`
	LogFile          string `toml:"log_file"`
	LogFormat        string `toml:"log_format"`
	LogRetentionDays int    `toml:"log_retention_days"`
}

// CLIOverrides holds values from CLI flags that override config file
// settings. Pointer fields distinguish "not specified" (nil) from
// "explicitly set to zero value": --mirror=false is different from not
// passing --mirror at all.
type CLIOverrides struct {
	ConfigPath    string // --config flag (empty = use default)
	LibraryRoot   *string
	Mirror        *bool
	DeleteRemoved *bool
	ReferenceOnly *bool
}
