package main

import (
	"bufio"
	"fmt"
	"io"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/jeffrom/logroute/channel"
	"github.com/jeffrom/logroute/config"
	"github.com/jeffrom/logroute/engine"
	"github.com/jeffrom/logroute/request"
)

const cliDispatcher = "cli"

type writeFlags struct {
	channel    string
	category   string
	dispatcher string
	mode       string
	inputPath  string
	stats      bool
}

func newWriteCmd(root *rootFlags) *cobra.Command {
	wf := &writeFlags{}
	cmd := &cobra.Command{
		Use:     "write [messages]",
		Aliases: []string{"w"},
		Short:   "Write messages to a channel",
		Long:    ``,
		RunE: func(cmd *cobra.Command, args []string) error {
			return doWrite(root, wf, cmd, args)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&wf.channel, "channel", "C", "main",
		"the `CHANNEL` to write to")
	flags.StringVar(&wf.category, "category", "info",
		"message `CATEGORY`")
	flags.StringVar(&wf.dispatcher, "dispatcher", "",
		"write through the configured `DISPATCHER`")
	flags.StringVar(&wf.mode, "mode", "",
		"writer `MODE`, immediate or queued")
	flags.StringVar(&wf.inputPath, "input", "",
		"A file path to read messages from, one per line")
	flags.BoolVar(&wf.stats, "stats", false,
		"print engine counters when done")
	return cmd
}

// prepare makes sure the target channel exists and is bound to a dispatcher,
// creating ad-hoc ones when the config doesn't declare them.
func (wf *writeFlags) prepare(conf *config.Config) {
	if _, ok := conf.Channel(wf.channel); !ok {
		conf.Channels = append(conf.Channels, config.ChannelConfig{
			Name:     wf.channel,
			Access:   config.AccessFull,
			Filename: wf.channel + ".log",
		})
	}

	if wf.dispatcher == "" {
		for _, dc := range conf.Dispatchers {
			for _, name := range dc.Channels {
				if name == wf.channel {
					wf.dispatcher = dc.Name
					break
				}
			}
			if wf.dispatcher != "" {
				break
			}
		}
	}
	if wf.dispatcher == "" {
		wf.dispatcher = cliDispatcher
		conf.Dispatchers = append(conf.Dispatchers, config.DispatcherConfig{
			Name:     cliDispatcher,
			Mode:     config.ModeImmediate,
			Channels: []string{wf.channel},
		})
	}

	if wf.mode == "" {
		return
	}
	for i := range conf.Dispatchers {
		if conf.Dispatchers[i].Name == wf.dispatcher {
			conf.Dispatchers[i].Mode = wf.mode
		}
	}
}

func doWrite(root *rootFlags, wf *writeFlags, cmd *cobra.Command, args []string) error {
	cat, err := channel.ParseCategory(wf.category)
	if err != nil {
		return err
	}

	e, err := root.newEngine(cmd.Flags(), wf.prepare)
	if err != nil {
		return err
	}
	defer e.Recover()
	e.AdvancePhase(engine.Running)

	out := cmd.OutOrStdout()
	err = writeAll(e, wf, cat, out, args)
	if serr := e.Shutdown(); err == nil {
		err = serr
	}
	if err == nil && wf.stats {
		_, err = out.Write(e.Stats().Bytes())
		fmt.Fprintf(out, "flush: %s\n", e.FlushTimes())
	}
	return err
}

func writeAll(e *engine.Engine, wf *writeFlags, cat channel.Category, out io.Writer, args []string) error {
	d, ok := e.Dispatcher(wf.dispatcher)
	if !ok {
		return errors.Errorf("unknown dispatcher: %s", wf.dispatcher)
	}
	ch, ok := e.Channel(wf.channel)
	if !ok {
		return errors.Errorf("unknown channel: %s", wf.channel)
	}

	send := func(msg string) {
		if msg == "" {
			return
		}
		printOutcome(out, d.Send(ch, cat, msg, false))
	}

	for _, arg := range args {
		send(arg)
	}

	if wf.inputPath == "" {
		return nil
	}
	in, err := appFs.Open(wf.inputPath)
	if err != nil {
		return errors.Wrap(err, "failed to open input")
	}
	defer in.Close()

	scanner := bufio.NewScanner(in)
	scanner.Split(bufio.ScanLines)
	for scanner.Scan() {
		send(scanner.Text())
	}
	return scanner.Err()
}

func printOutcome(w io.Writer, r *request.Request) {
	if r == nil {
		fmt.Fprintln(w, "dropped: logging disabled")
		return
	}
	if r.Status() == request.Rejected {
		fmt.Fprintf(w, "%s: %s\n", r.Status(), r.UnhandledReason())
		return
	}
	fmt.Fprintln(w, r.Status())
}
