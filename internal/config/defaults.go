package config

// Default values applied before the config file is read.
const (
	defaultTranscodeWorkers = 2
	defaultTranscodeTimeout = "120s"
	defaultProbeInterval    = "5s"
	defaultLogLevel         = "info"
	defaultLogFormat        = "text"
	defaultLogRetention     = 7
)

// DefaultConfig returns a Config populated with all default values. The
// zero-config first run works with just a library root flag.
func DefaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			StateDB: DefaultStateDBPath(),
		},
		Transcode: TranscodeConfig{
			Workers:    defaultTranscodeWorkers,
			Timeout:    defaultTranscodeTimeout,
			FFmpegPath: "ffmpeg",
		},
		Sync: SyncConfig{
			ProbeInterval: defaultProbeInterval,
		},
		Logging: LoggingConfig{
			LogLevel:         defaultLogLevel,
			LogFormat:        defaultLogFormat,
			LogRetentionDays: defaultLogRetention,
		},
	}
}
