package config

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
)

// Config holds configuration variables
type Config struct {
	// File is the path of a file from which configuration is read.
	File string `json:"config-file" mapstructure:"config-file"`

	// Verbose prints debugging information to the bootstrap log.
	Verbose bool `json:"verbose" mapstructure:"verbose"`

	// WorkDir is the root directory channel folders are resolved against.
	WorkDir string `json:"work-dir" mapstructure:"work-dir"`

	// LogFileMode defines the file permissions for log files.
	LogFileMode int `json:"log-file-mode" mapstructure:"log-file-mode"`

	// FlushInterval defines how often queued writers are flushed to disk. A
	// value <= 0 disables the background flush loop; the host must call
	// Flush itself.
	FlushInterval time.Duration `json:"flush-interval" mapstructure:"flush-interval"`

	// DumpFile is the fallback file unresolved requests are written to when
	// the process is going down.
	DumpFile string `json:"dump-file" mapstructure:"dump-file"`

	// BootstrapLogFile receives the engine's own diagnostics. Empty means
	// standard output.
	BootstrapLogFile string `json:"bootstrap-log-file" mapstructure:"bootstrap-log-file"`

	// ShowLogs is the process-wide gate consulted by show-logs-aware
	// channels.
	ShowLogs bool `json:"show-logs" mapstructure:"show-logs"`

	// Channels declares the log channels known to the process.
	Channels []ChannelConfig `json:"channels" mapstructure:"channels"`

	// Dispatchers declares the dispatchers built at startup.
	Dispatchers []DispatcherConfig `json:"dispatchers" mapstructure:"dispatchers"`
}

// ChannelConfig describes one log channel.
type ChannelConfig struct {
	Name           string `json:"name" mapstructure:"name"`
	Access         string `json:"access" mapstructure:"access"`
	GameControlled bool   `json:"game-controlled" mapstructure:"game-controlled"`
	Disabled       bool   `json:"disabled" mapstructure:"disabled"`

	// Folder is resolved relative to WorkDir unless absolute.
	Folder string `json:"folder" mapstructure:"folder"`

	// Filename defaults to Name with a .log extension.
	Filename string `json:"filename" mapstructure:"filename"`

	ShowLogsAware bool `json:"show-logs-aware" mapstructure:"show-logs-aware"`
	ShowCategory  bool `json:"show-category" mapstructure:"show-category"`
	ShowLineCount bool `json:"show-line-count" mapstructure:"show-line-count"`
}

// DispatcherConfig describes one dispatcher and the channels bound to it.
type DispatcherConfig struct {
	Name        string   `json:"name" mapstructure:"name"`
	Mode        string   `json:"mode" mapstructure:"mode"`
	Channels    []string `json:"channels" mapstructure:"channels"`
	Disabled    bool     `json:"disabled" mapstructure:"disabled"`
	AllowRemote bool     `json:"allow-remote" mapstructure:"allow-remote"`
}

// Writer modes accepted in DispatcherConfig.Mode.
const (
	ModeImmediate = "immediate"
	ModeQueued    = "queued"
)

// Access values accepted in ChannelConfig.Access.
const (
	AccessFull       = "full"
	AccessPrivate    = "private"
	AccessRemoteOnly = "remote"
)

// New returns a new configuration object
func New() *Config {
	conf := &Config{}
	*conf = *Default
	return conf
}

func (c *Config) String() string {
	return fmt.Sprintf("%+v", *c)
}

// Default is the default application config
var Default = &Config{
	WorkDir:       "logs/",
	LogFileMode:   0644,
	FlushInterval: 50 * time.Millisecond,
	DumpFile:      "logs/unhandled-requests.log",
}

// Validate returns an error pointing to incorrect values for the
// configuration.
func (c *Config) Validate() error {
	if c.LogFileMode <= 0 {
		return errors.Errorf("invalid log-file-mode: %o", c.LogFileMode)
	}

	seen := make(map[string]bool, len(c.Channels))
	for i, ch := range c.Channels {
		if ch.Name == "" {
			return errors.Errorf("channel #%d has no name", i)
		}
		if seen[ch.Name] {
			return errors.Errorf("duplicate channel: %s", ch.Name)
		}
		seen[ch.Name] = true

		switch ch.Access {
		case "", AccessFull, AccessPrivate, AccessRemoteOnly:
		default:
			return errors.Errorf("channel %s: invalid access %q", ch.Name, ch.Access)
		}
	}

	for i, d := range c.Dispatchers {
		if d.Name == "" {
			return errors.Errorf("dispatcher #%d has no name", i)
		}
		switch d.Mode {
		case "", ModeImmediate, ModeQueued:
		default:
			return errors.Errorf("dispatcher %s: invalid mode %q", d.Name, d.Mode)
		}
		for _, name := range d.Channels {
			if !seen[name] {
				return errors.Errorf("dispatcher %s: unknown channel %s", d.Name, name)
			}
		}
	}
	return nil
}

// Channel returns the configuration for the named channel.
func (c *Config) Channel(name string) (ChannelConfig, bool) {
	for _, ch := range c.Channels {
		if ch.Name == name {
			return ch, true
		}
	}
	return ChannelConfig{}, false
}
