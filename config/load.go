package config

import (
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to environment variable overrides, e.g.
// LOGROUTE_SHOW_LOGS=true.
const EnvPrefix = "LOGROUTE"

func newViper(fs afero.Fs) *viper.Viper {
	v := viper.New()
	if fs != nil {
		v.SetFs(fs)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("verbose", Default.Verbose)
	v.SetDefault("work-dir", Default.WorkDir)
	v.SetDefault("log-file-mode", Default.LogFileMode)
	v.SetDefault("flush-interval", Default.FlushInterval)
	v.SetDefault("dump-file", Default.DumpFile)
	v.SetDefault("bootstrap-log-file", Default.BootstrapLogFile)
	v.SetDefault("show-logs", Default.ShowLogs)
	return v
}

// Load reads configuration from path using fs. An empty path yields the
// defaults with environment overrides applied.
func Load(path string, fs afero.Fs) (*Config, error) {
	v := newViper(fs)
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "failed to read config %s", path)
		}
	}
	return decode(v, path)
}

func decode(v *viper.Viper, path string) (*Config, error) {
	conf := New()
	if err := v.Unmarshal(conf); err != nil {
		return nil, errors.Wrap(err, "failed to decode config")
	}
	conf.File = path
	conf.normalize()

	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

func (c *Config) normalize() {
	for i := range c.Channels {
		ch := &c.Channels[i]
		ch.Access = strings.ToLower(strings.TrimSpace(ch.Access))
		if ch.Access == "" {
			ch.Access = AccessFull
		}
		if ch.Filename == "" {
			ch.Filename = ch.Name + ".log"
		}
	}
	for i := range c.Dispatchers {
		d := &c.Dispatchers[i]
		d.Mode = strings.ToLower(strings.TrimSpace(d.Mode))
		if d.Mode == "" {
			d.Mode = ModeImmediate
		}
	}
}

// Reloadable holds the settings that may change while the process runs.
type Reloadable struct {
	ShowLogs bool
	Verbose  bool
}

// Watch re-reads the config file whenever it changes on disk and passes the
// reloadable settings to fn. Channel and dispatcher layout is fixed at
// startup and is not re-applied.
func Watch(path string, fn func(Reloadable)) error {
	if path == "" {
		return errors.New("no config file to watch")
	}
	v := newViper(nil)
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return errors.Wrapf(err, "failed to read config %s", path)
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if e.Op&(fsnotify.Write|fsnotify.Create) == 0 {
			return
		}
		fn(reloadable(v))
	})
	v.WatchConfig()
	return nil
}

func reloadable(v *viper.Viper) Reloadable {
	return Reloadable{
		ShowLogs: cast.ToBool(v.Get("show-logs")),
		Verbose:  cast.ToBool(v.Get("verbose")),
	}
}
