// Package logger writes delivered requests to their channel files.
package logger

import (
	"io"
	"os"
	"sync"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/jeffrom/logroute/channel"
	"github.com/jeffrom/logroute/config"
	"github.com/jeffrom/logroute/filter"
	"github.com/jeffrom/logroute/internal"
	"github.com/jeffrom/logroute/request"
)

// Writer delivers requests to their channel's file.
type Writer interface {
	// Deliver attempts to write r. The outcome is reported through r's
	// status.
	Deliver(r *request.Request)
	// Render applies ch's rules to e, returning the line to persist without
	// its trailing newline.
	Render(ch *channel.Channel, e channel.Entry) string
}

// Flusher is a Writer that buffers lines until flushed.
type Flusher interface {
	Writer
	io.Closer
	Flush() error
	Len() int
}

// Deps are the process-wide collaborators writers share.
type Deps struct {
	Fs       afero.Fs
	Locks    *ChannelLocks
	Filter   *filter.Filter
	Reported *filter.Reported
	Stats    *internal.Stats
	Log      *zap.Logger
	FileMode os.FileMode
}

func (d Deps) withDefaults() Deps {
	if d.Fs == nil {
		d.Fs = afero.NewOsFs()
	}
	if d.Locks == nil {
		d.Locks = NewChannelLocks()
	}
	if d.Reported == nil {
		d.Reported = filter.NewReported()
	}
	if d.FileMode == 0 {
		d.FileMode = os.FileMode(config.Default.LogFileMode)
	}
	d.Log = internal.OrNop(d.Log)
	return d
}

// New returns the writer for mode.
func New(mode string, deps Deps) (Writer, error) {
	switch mode {
	case config.ModeImmediate, "":
		return NewImmediate(deps), nil
	case config.ModeQueued:
		return NewQueued(deps), nil
	}
	return nil, errors.Errorf("unknown writer mode: %q", mode)
}

// ChannelLocks is a set of per-channel mutexes guarding file writes.
type ChannelLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewChannelLocks returns an empty lock set.
func NewChannelLocks() *ChannelLocks {
	return &ChannelLocks{locks: make(map[string]*sync.Mutex)}
}

// Lock acquires the lock for name and returns its unlock func.
func (c *ChannelLocks) Lock(name string) func() {
	c.mu.Lock()
	l, ok := c.locks[name]
	if !ok {
		l = &sync.Mutex{}
		c.locks[name] = l
	}
	c.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// base holds what both writer strategies share.
type base struct {
	deps Deps
}

// Render implements Writer.
func (w *base) Render(ch *channel.Channel, e channel.Entry) string {
	return ch.Props.Rules.Apply(e)
}

func (w *base) filtered(r *request.Request) bool {
	return w.deps.Filter.Match(r.Channel().Name, r.Payload.Message)
}

// reportOnce logs err the first time it is seen for ch, returning whether it
// was logged.
func (w *base) reportOnce(ch *channel.Channel, err error) bool {
	if !w.deps.Reported.Report(ch.Name, internal.ErrorSignature(err)) {
		return false
	}
	w.deps.Log.Error("failed to write log file",
		zap.String("channel", ch.Name),
		zap.String("path", ch.Props.FilePath()),
		zap.Error(err),
	)
	return true
}

// open returns ch's file opened for appending, creating it and its folder on
// demand. A file believed to exist gets one retry after its folder is
// recreated.
func (w *base) open(ch *channel.Channel) (afero.File, error) {
	p := ch.Props
	retried := false
	for {
		if !p.FileExists() {
			if err := w.deps.Fs.MkdirAll(p.FolderPath(), 0755); err != nil {
				return nil, errors.Wrapf(err, "failed to create folder for %s", ch.Name)
			}
		}

		f, err := w.deps.Fs.OpenFile(p.FilePath(), os.O_WRONLY|os.O_APPEND|os.O_CREATE, w.deps.FileMode)
		if err == nil {
			p.SetFileExists(true)
			w.deps.Stats.Incr(internal.StatFileOpens)
			return f, nil
		}
		if retried || !p.FileExists() {
			p.SetFileExists(false)
			return nil, errors.Wrapf(err, "failed to open %s", p.FilePath())
		}
		p.SetFileExists(false)
		retried = true
	}
}
