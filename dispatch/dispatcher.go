// Package dispatch implements the consumer-facing logger: it validates
// access to channels, classifies requests and hands them to a writer.
package dispatch

import (
	"io"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/jeffrom/logroute/channel"
	"github.com/jeffrom/logroute/logger"
	"github.com/jeffrom/logroute/request"
	"github.com/jeffrom/logroute/router"
)

// Env is the process context a Dispatcher runs in.
type Env interface {
	Router() *router.Router
	// ProcessLock serializes request handling across the process.
	ProcessLock() sync.Locker
	RequestContext() *request.Context
	WriterDeps() logger.Deps
	// DefaultWriter is shared by dispatchers that don't set their own.
	DefaultWriter() logger.Writer
	ShowLogs() bool
	// ShowLogsGateReached reports whether startup has progressed far enough
	// for the show-logs flag to be final.
	ShowLogsGateReached() bool
	Logger() *zap.Logger
}

type restorePoint struct {
	allowLogging bool
	allowRemote  bool
	channels     []*channel.Channel
}

// Dispatcher accepts log calls for its bound channels and serves requests
// routed to it by other dispatchers.
type Dispatcher struct {
	env  Env
	name string
	log  *zap.Logger

	mu           sync.RWMutex
	channels     []*channel.Channel
	allowLogging bool
	allowRemote  bool
	writer       logger.Writer
	ownsWriter   bool
	restore      restorePoint
}

// Option configures a Dispatcher.
type Option func(d *Dispatcher) error

// WithChannels binds channels to the dispatcher.
func WithChannels(chs ...*channel.Channel) Option {
	return func(d *Dispatcher) error {
		for _, ch := range chs {
			d.addChannel(ch)
		}
		return nil
	}
}

// WithWriter sets a writer the dispatcher uses but doesn't own.
func WithWriter(w logger.Writer) Option {
	return func(d *Dispatcher) error {
		d.writer = w
		d.ownsWriter = false
		return nil
	}
}

// WithMode gives the dispatcher its own writer of the given mode.
func WithMode(mode string) Option {
	return func(d *Dispatcher) error {
		return d.setWriter(mode)
	}
}

// WithAllowLogging sets whether the dispatcher accepts log calls at all.
func WithAllowLogging(v bool) Option {
	return func(d *Dispatcher) error {
		d.allowLogging = v
		return nil
	}
}

// WithAllowRemoteLogging sets whether the dispatcher serves requests for its
// channels made by other dispatchers.
func WithAllowRemoteLogging(v bool) Option {
	return func(d *Dispatcher) error {
		d.allowRemote = v
		return nil
	}
}

// New returns a Dispatcher registered with env's router.
func New(env Env, name string, opts ...Option) (*Dispatcher, error) {
	d := &Dispatcher{
		env:          env,
		name:         name,
		log:          env.Logger().With(zap.String("dispatcher", name)),
		allowLogging: true,
		writer:       env.DefaultWriter(),
	}
	for _, opt := range opts {
		if err := opt(d); err != nil {
			return nil, errors.Wrapf(err, "failed to configure dispatcher %s", name)
		}
	}

	d.SetRestorePoint()
	env.Router().Register(d)
	return d, nil
}

// Name returns the dispatcher name.
func (d *Dispatcher) Name() string {
	return d.name
}

func (d *Dispatcher) String() string {
	return d.name
}

// AllowLogging reports whether log calls are accepted.
func (d *Dispatcher) AllowLogging() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.allowLogging
}

// SetAllowLogging toggles log calls.
func (d *Dispatcher) SetAllowLogging(v bool) {
	d.mu.Lock()
	d.allowLogging = v
	d.mu.Unlock()
}

// AllowRemoteLogging reports whether remote requests are served.
func (d *Dispatcher) AllowRemoteLogging() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.allowRemote
}

// SetAllowRemoteLogging toggles serving remote requests.
func (d *Dispatcher) SetAllowRemoteLogging(v bool) {
	d.mu.Lock()
	d.allowRemote = v
	d.mu.Unlock()
}

// Writer returns the current writer, or nil once closed.
func (d *Dispatcher) Writer() logger.Writer {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.writer
}

// SetWriter replaces the writer with a new one of mode owned by the
// dispatcher. A previously owned writer is closed.
func (d *Dispatcher) SetWriter(mode string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.setWriter(mode)
}

func (d *Dispatcher) setWriter(mode string) error {
	w, err := logger.New(mode, d.env.WriterDeps())
	if err != nil {
		return err
	}
	prev, owned := d.writer, d.ownsWriter
	d.writer = w
	d.ownsWriter = true

	if c, ok := prev.(io.Closer); ok && owned {
		return errors.Wrap(c.Close(), "failed to close previous writer")
	}
	return nil
}

// Channels returns the bound channels in binding order.
func (d *Dispatcher) Channels() []*channel.Channel {
	d.mu.RLock()
	defer d.mu.RUnlock()
	chs := make([]*channel.Channel, len(d.channels))
	copy(chs, d.channels)
	return chs
}

// AddChannel binds ch. Only one instance per channel identity is kept.
func (d *Dispatcher) AddChannel(ch *channel.Channel) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.addChannel(ch)
}

func (d *Dispatcher) addChannel(ch *channel.Channel) bool {
	for _, existing := range d.channels {
		if existing.Equals(ch) {
			return false
		}
	}
	d.channels = append(d.channels, ch)
	return true
}

// RemoveChannel unbinds the channel with ch's identity.
func (d *Dispatcher) RemoveChannel(ch *channel.Channel) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, existing := range d.channels {
		if existing.Equals(ch) {
			d.channels = append(d.channels[:i], d.channels[i+1:]...)
			return true
		}
	}
	return false
}

// bound returns the dispatcher's own instance of ch.
func (d *Dispatcher) bound(ch *channel.Channel) *channel.Channel {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, existing := range d.channels {
		if existing.Equals(ch) {
			return existing
		}
	}
	return nil
}

// SetRestorePoint records the current settings and channel bindings.
func (d *Dispatcher) SetRestorePoint() {
	d.mu.Lock()
	defer d.mu.Unlock()
	chs := make([]*channel.Channel, len(d.channels))
	copy(chs, d.channels)
	d.restore = restorePoint{
		allowLogging: d.allowLogging,
		allowRemote:  d.allowRemote,
		channels:     chs,
	}
}

// RestoreState returns to the last restore point.
func (d *Dispatcher) RestoreState() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.allowLogging = d.restore.allowLogging
	d.allowRemote = d.restore.allowRemote
	d.channels = make([]*channel.Channel, len(d.restore.channels))
	copy(d.channels, d.restore.channels)
}

// CanAccess reports whether the dispatcher may serve a request of typ for
// ch. Game-controlled channels are never served here.
func (d *Dispatcher) CanAccess(ch *channel.Channel, typ request.Type, checkPath bool) bool {
	if ch == nil || ch.GameControlled {
		return false
	}

	local := d.bound(ch)
	if local == nil {
		return false
	}
	if local.Access == channel.RemoteAccessOnly {
		return false
	}
	if checkPath && local.Props.FolderPath() != ch.Props.FolderPath() {
		return false
	}
	return typ == request.Local || local.Access != channel.Private
}

// CanHandle implements request.Handler
func (d *Dispatcher) CanHandle(r *request.Request, checkPath bool) bool {
	return d.CanAccess(r.Channel(), r.Type, checkPath)
}

// HandleRequest implements request.Handler. It returns None once r is
// delivered, or the reason it wasn't. A request another writer holds is
// left alone and reported as NotAllowedToHandle.
func (d *Dispatcher) HandleRequest(r *request.Request, skipValidation bool) request.Reason {
	if !skipValidation && !d.CanHandle(r, true) {
		d.log.Warn("request sent to a dispatcher that can't handle it", zap.Stringer("request", r))
		return request.NotAllowedToHandle
	}

	ch := r.Channel()
	local := d.bound(ch)
	if local == nil {
		local = ch
	}

	if local.Props.FolderPath() != ch.Props.FolderPath() {
		d.log.Debug("request not handled, log paths do not match",
			zap.String("local", local.Props.FolderPath()),
			zap.String("request", ch.Props.FolderPath()),
		)
		r.Reject(request.PathMismatch)
		return request.PathMismatch
	}

	if !r.ResetStatus() {
		if r.Status() == request.Complete {
			return request.None
		}
		d.log.Debug("request is already being written", zap.Stringer("request", r))
		return request.NotAllowedToHandle
	}

	if !d.AllowLogging() || !local.Enabled() {
		r.Reject(request.LogDisabled)
		return r.UnhandledReason()
	}

	if local.Props.ShowLogsAware && !d.env.ShowLogs() {
		if d.env.ShowLogsGateReached() {
			r.Reject(request.LogDisabled)
		} else {
			r.Reject(request.ShowLogsNotInitialized)
		}
		return r.UnhandledReason()
	}

	if r.Type == request.Remote && (local.Access == channel.Private || !d.AllowRemoteLogging()) {
		r.Reject(request.AccessDenied)
		return r.UnhandledReason()
	}

	w := d.Writer()
	if w == nil {
		r.Reject(request.FailedToWrite)
		return r.UnhandledReason()
	}

	r.SetHost(d)
	w.Deliver(r)

	if r.Status() == request.Complete {
		return request.None
	}
	if reason := r.UnhandledReason(); reason != request.None {
		return reason
	}
	return request.NotAllowedToHandle
}

// Close unregisters the dispatcher and closes a writer it owns. Later log
// calls are rejected with FailedToWrite.
func (d *Dispatcher) Close() error {
	d.env.Router().Unregister(d)

	d.mu.Lock()
	w, owned := d.writer, d.ownsWriter
	d.writer = nil
	d.ownsWriter = false
	d.mu.Unlock()

	if c, ok := w.(io.Closer); ok && owned {
		return errors.Wrapf(c.Close(), "failed to close writer for %s", d.name)
	}
	return nil
}
