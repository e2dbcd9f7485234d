package main

import (
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/jeffrom/logroute/config"
	"github.com/jeffrom/logroute/engine"
)

// Release information, set at build time with -ldflags.
var (
	ReleaseVersion = "none"
	ReleaseDate    = "unknown"
	ReleaseCommit  = "unknown"
)

// appFs is the filesystem config and channel files are read from and
// written to.
var appFs afero.Fs = afero.NewOsFs()

type rootFlags struct {
	configPath string
	verbose    bool
	workDir    string
	showLogs   bool
}

func newRootCmd(out io.Writer) *cobra.Command {
	flags := &rootFlags{}
	cmd := &cobra.Command{
		Use:           "logroute",
		Short:         "Route log messages to channel files",
		Long:          ``,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetOutput(out)

	pflags := cmd.PersistentFlags()
	pflags.StringVarP(&flags.configPath, "config", "c", os.Getenv(config.EnvPrefix+"_CONFIG"),
		"Load configuration from `FILE`")
	pflags.BoolVarP(&flags.verbose, "verbose", "v", config.Default.Verbose,
		"print debug output")
	pflags.StringVar(&flags.workDir, "work-dir", config.Default.WorkDir,
		"`DIR` channel folders are resolved against")
	pflags.BoolVar(&flags.showLogs, "show-logs", config.Default.ShowLogs,
		"enable channels that only log when show-logs is on")

	cmd.AddCommand(
		newWriteCmd(flags),
		newChannelsCmd(flags),
		newVersionCmd(),
	)
	return cmd
}

// loadConfig reads the config file and applies the flags the user set.
func (f *rootFlags) loadConfig(pflags *pflag.FlagSet) (*config.Config, error) {
	conf, err := config.Load(f.configPath, appFs)
	if err != nil {
		return nil, err
	}

	if pflags.Changed("verbose") {
		conf.Verbose = f.verbose
	}
	if pflags.Changed("work-dir") {
		conf.WorkDir = f.workDir
	}
	if pflags.Changed("show-logs") {
		conf.ShowLogs = f.showLogs
	}
	return conf, nil
}

func (f *rootFlags) newEngine(pflags *pflag.FlagSet, prepare func(conf *config.Config)) (*engine.Engine, error) {
	conf, err := f.loadConfig(pflags)
	if err != nil {
		return nil, err
	}
	if prepare != nil {
		prepare(conf)
	}

	e, err := engine.New(conf, engine.WithFs(appFs))
	if err != nil {
		return nil, err
	}
	if err := e.Setup(); err != nil {
		return nil, errors.Wrap(err, "failed to set up")
	}
	return e, nil
}

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
