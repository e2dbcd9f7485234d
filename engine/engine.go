// Package engine builds the process context log dispatchers run in.
package engine

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jeffrom/logroute/channel"
	"github.com/jeffrom/logroute/config"
	"github.com/jeffrom/logroute/dispatch"
	"github.com/jeffrom/logroute/filter"
	"github.com/jeffrom/logroute/internal"
	"github.com/jeffrom/logroute/logger"
	"github.com/jeffrom/logroute/request"
	"github.com/jeffrom/logroute/router"
	"github.com/jeffrom/logroute/stats"
)

// Phase is the host's startup progress. Phases only move forward.
type Phase uint32

const (
	Startup Phase = iota
	Loading
	// ShowLogsActive is the phase from which the show-logs flag is final.
	ShowLogsActive
	Running
)

func (p Phase) String() string {
	switch p {
	case Startup:
		return "startup"
	case Loading:
		return "loading"
	case ShowLogsActive:
		return "show-logs-active"
	case Running:
		return "running"
	default:
		return fmt.Sprintf("Phase(%d)", uint32(p))
	}
}

// Engine owns everything shared by the dispatchers of one process.
type Engine struct {
	conf     *config.Config
	fs       afero.Fs
	log      *zap.Logger
	boot     *internal.Bootstrap
	stats    *internal.Stats
	filter   *filter.Filter
	reported *filter.Reported
	locks    *logger.ChannelLocks
	flushes  *stats.Histogram

	processLock sync.Mutex
	router      *router.Router
	reqCtx      *request.Context
	writer      logger.Writer

	showLogs atomic.Bool
	phase    atomic.Uint32

	mu          sync.Mutex
	channels    map[string]*channel.Channel
	dispatchers []*dispatch.Dispatcher
}

// Option configures an Engine.
type Option func(e *Engine)

// WithFs sets the filesystem channel files are written to.
func WithFs(fs afero.Fs) Option {
	return func(e *Engine) { e.fs = fs }
}

// WithLogger sets the bootstrap logger instead of building one from config.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// New returns a new instance of Engine
func New(conf *config.Config, opts ...Option) (*Engine, error) {
	if err := conf.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		conf:     conf,
		stats:    internal.NewStats(),
		filter:   filter.New(),
		reported: filter.NewReported(),
		locks:    logger.NewChannelLocks(),
		flushes:  stats.NewHistogram(),
		channels: make(map[string]*channel.Channel),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.fs == nil {
		e.fs = afero.NewOsFs()
	}
	if e.log == nil {
		b, err := internal.NewLogger(conf)
		if err != nil {
			return nil, err
		}
		e.boot = b
		e.log = b.Logger
	}

	e.showLogs.Store(conf.ShowLogs)
	e.router = router.New(conf,
		router.WithFs(e.fs),
		router.WithLogger(e.log),
		router.WithStats(e.stats),
		router.WithProcessLock(&e.processLock),
	)
	e.reqCtx = &request.Context{Tracker: e.router, Filter: e.filter, Log: e.log}
	e.writer = logger.NewImmediate(e.WriterDeps())
	return e, nil
}

// Setup implements internal.LifecycleManager. It creates the configured
// channels and dispatchers.
func (e *Engine) Setup() error {
	if err := e.fs.MkdirAll(e.conf.WorkDir, 0755); err != nil {
		return errors.Wrap(err, "failed to create work dir")
	}

	for _, cc := range e.conf.Channels {
		ch, err := ChannelFromConfig(e.conf, cc)
		if err != nil {
			return err
		}
		e.AddChannel(ch)
	}

	for _, dc := range e.conf.Dispatchers {
		opts := []dispatch.Option{
			dispatch.WithMode(dc.Mode),
			dispatch.WithAllowLogging(!dc.Disabled),
			dispatch.WithAllowRemoteLogging(dc.AllowRemote),
		}
		for _, name := range dc.Channels {
			ch, ok := e.Channel(name)
			if !ok {
				return errors.Errorf("dispatcher %s: unknown channel %s", dc.Name, name)
			}
			opts = append(opts, dispatch.WithChannels(ch))
		}
		if _, err := e.NewDispatcher(dc.Name, opts...); err != nil {
			return err
		}
	}

	e.log.Debug("engine ready",
		zap.Int("channels", len(e.conf.Channels)),
		zap.Int("dispatchers", len(e.conf.Dispatchers)),
	)
	return nil
}

// Shutdown implements internal.LifecycleManager. Dispatchers are closed,
// flushing their writers, and any request still undelivered is dumped.
func (e *Engine) Shutdown() error {
	e.mu.Lock()
	closers := make([]io.Closer, 0, len(e.dispatchers))
	for _, d := range e.dispatchers {
		closers = append(closers, d)
	}
	e.dispatchers = nil
	e.mu.Unlock()

	err := internal.CloseAll(e.log, closers)
	if derr := e.router.DumpRequestsToFile(); derr != nil && err == nil {
		err = derr
	}
	_ = e.log.Sync()
	if e.boot != nil {
		if cerr := e.boot.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// ChannelFromConfig builds a channel from its configuration. Relative
// folders are resolved against the work dir.
func ChannelFromConfig(conf *config.Config, cc config.ChannelConfig) (*channel.Channel, error) {
	access, err := channel.ParseAccess(cc.Access)
	if err != nil {
		return nil, errors.Wrapf(err, "channel %s", cc.Name)
	}

	folder := cc.Folder
	if !filepath.IsAbs(folder) {
		folder = filepath.Join(conf.WorkDir, folder)
	}
	filename := cc.Filename
	if filename == "" {
		filename = cc.Name + ".log"
	}

	opts := []channel.Option{
		channel.WithFolder(folder),
		channel.WithFilename(filename),
		channel.WithRules(
			channel.ShowCategoryRule(cc.ShowCategory),
			channel.ShowLineCountRule(cc.ShowLineCount),
		),
	}
	if cc.GameControlled {
		opts = append(opts, channel.GameControlled())
	}
	if cc.ShowLogsAware {
		opts = append(opts, channel.ShowLogsAware())
	}
	if cc.Disabled {
		opts = append(opts, channel.Disabled())
	}
	return channel.New(cc.Name, access, opts...), nil
}

// AddChannel registers ch by name, replacing any channel with the same name.
func (e *Engine) AddChannel(ch *channel.Channel) {
	e.mu.Lock()
	e.channels[ch.Name] = ch
	e.mu.Unlock()
}

// Channel returns the named channel.
func (e *Engine) Channel(name string) (*channel.Channel, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ch, ok := e.channels[name]
	return ch, ok
}

// Channels returns every registered channel sorted by name.
func (e *Engine) Channels() []*channel.Channel {
	e.mu.Lock()
	chs := make([]*channel.Channel, 0, len(e.channels))
	for _, ch := range e.channels {
		chs = append(chs, ch)
	}
	e.mu.Unlock()

	sort.Slice(chs, func(i, j int) bool { return chs[i].Name < chs[j].Name })
	return chs
}

// NewDispatcher creates a dispatcher in this engine.
func (e *Engine) NewDispatcher(name string, opts ...dispatch.Option) (*dispatch.Dispatcher, error) {
	d, err := dispatch.New(e, name, opts...)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.dispatchers = append(e.dispatchers, d)
	e.mu.Unlock()
	return d, nil
}

// Dispatcher returns the named dispatcher.
func (e *Engine) Dispatcher(name string) (*dispatch.Dispatcher, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, d := range e.dispatchers {
		if d.Name() == name {
			return d, true
		}
	}
	return nil, false
}

// Dispatchers returns the dispatchers in creation order.
func (e *Engine) Dispatchers() []*dispatch.Dispatcher {
	e.mu.Lock()
	defer e.mu.Unlock()
	ds := make([]*dispatch.Dispatcher, len(e.dispatchers))
	copy(ds, e.dispatchers)
	return ds
}

// Router implements dispatch.Env
func (e *Engine) Router() *router.Router {
	return e.router
}

// ProcessLock implements dispatch.Env
func (e *Engine) ProcessLock() sync.Locker {
	return &e.processLock
}

// RequestContext implements dispatch.Env
func (e *Engine) RequestContext() *request.Context {
	return e.reqCtx
}

// WriterDeps implements dispatch.Env
func (e *Engine) WriterDeps() logger.Deps {
	return logger.Deps{
		Fs:       e.fs,
		Locks:    e.locks,
		Filter:   e.filter,
		Reported: e.reported,
		Stats:    e.stats,
		Log:      e.log,
		FileMode: fileMode(e.conf),
	}
}

// DefaultWriter implements dispatch.Env
func (e *Engine) DefaultWriter() logger.Writer {
	return e.writer
}

// Logger implements dispatch.Env
func (e *Engine) Logger() *zap.Logger {
	return e.log
}

// ShowLogs implements dispatch.Env
func (e *Engine) ShowLogs() bool {
	return e.showLogs.Load()
}

// SetShowLogs changes the show-logs flag. Turning it on retries requests
// that were waiting for it.
func (e *Engine) SetShowLogs(v bool) {
	if e.showLogs.Swap(v) == v {
		return
	}
	e.log.Info("show logs changed", zap.Bool("show_logs", v))
	if v {
		e.router.ProcessRequests()
	}
}

// Phase returns the current startup phase.
func (e *Engine) Phase() Phase {
	return Phase(e.phase.Load())
}

// AdvancePhase moves startup forward to p and retries tracked requests. It
// returns false if p isn't ahead of the current phase.
func (e *Engine) AdvancePhase(p Phase) bool {
	for {
		cur := e.phase.Load()
		if uint32(p) <= cur {
			return false
		}
		if e.phase.CompareAndSwap(cur, uint32(p)) {
			break
		}
	}
	e.log.Debug("phase advanced", zap.Stringer("phase", p))
	e.router.ProcessRequests()
	return true
}

// ShowLogsGateReached implements dispatch.Env
func (e *Engine) ShowLogsGateReached() bool {
	return e.Phase() >= ShowLogsActive
}

// EndSession forgets session-scoped filter entries.
func (e *Engine) EndSession() {
	e.filter.Reset()
}

// Stats returns the engine counters.
func (e *Engine) Stats() *internal.Stats {
	return e.stats
}

func (e *Engine) flushers() []logger.Flusher {
	seen := make(map[logger.Flusher]bool)
	var fls []logger.Flusher
	add := func(w logger.Writer) {
		if f, ok := w.(logger.Flusher); ok && !seen[f] {
			seen[f] = true
			fls = append(fls, f)
		}
	}

	add(e.writer)
	for _, d := range e.Dispatchers() {
		add(d.Writer())
	}
	return fls
}

// Flush writes out every buffered writer concurrently and returns the first
// error. Flushes with queued lines are timed.
func (e *Engine) Flush() error {
	var g errgroup.Group
	for _, f := range e.flushers() {
		f := f
		g.Go(func() error {
			if f.Len() == 0 {
				return nil
			}
			start := time.Now()
			defer e.flushes.Since(start)
			return f.Flush()
		})
	}
	return g.Wait()
}

// FlushTimes returns the distribution of Flush durations.
func (e *Engine) FlushTimes() *stats.Histogram {
	return e.flushes
}

// Run retries tracked requests and flushes buffered writers every
// FlushInterval until ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	if e.conf.FlushInterval <= 0 {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(e.conf.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			e.router.ProcessRequests()
			if err := e.Flush(); err != nil {
				e.log.Debug("flush failed", zap.Error(err))
			}
		}
	}
}

// Recover dumps undelivered requests before letting a panic continue. It
// must be deferred directly.
func (e *Engine) Recover() {
	if r := recover(); r != nil {
		if err := e.router.DumpRequestsToFile(); err != nil {
			e.log.Error("failed to dump requests", zap.Error(err))
		}
		_ = e.log.Sync()
		panic(r)
	}
}

// WatchConfig applies changes to the reloadable settings of the config file
// while the process runs.
func (e *Engine) WatchConfig() error {
	return config.Watch(e.conf.File, e.reload)
}

func (e *Engine) reload(r config.Reloadable) {
	e.SetVerbose(r.Verbose)
	e.SetShowLogs(r.ShowLogs)
}

// SetVerbose switches the bootstrap logger between debug and info level. It
// has no effect on a logger passed in with WithLogger.
func (e *Engine) SetVerbose(v bool) {
	if e.boot == nil || e.boot.Verbose() == v {
		return
	}
	e.boot.SetVerbose(v)
	e.log.Info("verbose changed", zap.Bool("verbose", v))
}

// Verbose reports whether the bootstrap logger writes debug entries.
func (e *Engine) Verbose() bool {
	return e.log.Core().Enabled(zap.DebugLevel)
}

func fileMode(conf *config.Config) os.FileMode {
	return os.FileMode(conf.LogFileMode)
}
