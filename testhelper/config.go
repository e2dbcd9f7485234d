package testhelper

import (
	"time"

	"github.com/jeffrom/logroute/config"
)

// DefaultTestConfig returns a config with a single full-access channel bound
// to one immediate dispatcher.
func DefaultTestConfig(verbose bool) *config.Config {
	conf := TestConfig(verbose)
	conf.Channels = []config.ChannelConfig{
		{Name: "main", Access: config.AccessFull, Filename: "main.log"},
	}
	conf.Dispatchers = []config.DispatcherConfig{
		{Name: "default", Mode: config.ModeImmediate, Channels: []string{"main"}},
	}
	return conf
}

// TestConfig returns an empty config suitable for an in-memory filesystem.
// The background flush loop is disabled so tests flush explicitly.
func TestConfig(verbose bool) *config.Config {
	conf := config.New()
	conf.Verbose = verbose
	conf.WorkDir = "/logs"
	conf.DumpFile = "/logs/unhandled-requests.log"
	conf.LogFileMode = 0644
	conf.FlushInterval = 0 * time.Millisecond
	return conf
}
