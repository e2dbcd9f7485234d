// Package router tracks log requests and resolves them against the
// registered handlers.
package router

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/jeffrom/logroute/channel"
	"github.com/jeffrom/logroute/config"
	"github.com/jeffrom/logroute/internal"
	"github.com/jeffrom/logroute/request"
)

const dumpTimeLayout = "2006-01-02 15:04:05.000"

// Router is the process-wide registry of handlers and submitted requests.
type Router struct {
	conf  *config.Config
	fs    afero.Fs
	log   *zap.Logger
	stats *internal.Stats

	// processLock serializes request processing across the process. It is
	// shared with the dispatchers.
	processLock sync.Locker

	mu       sync.Mutex
	handlers []request.Handler
	requests []*request.Request
}

// Option configures a Router.
type Option func(rt *Router)

// WithFs sets the filesystem the dump file is written to.
func WithFs(fs afero.Fs) Option {
	return func(rt *Router) { rt.fs = fs }
}

// WithLogger sets the bootstrap logger.
func WithLogger(l *zap.Logger) Option {
	return func(rt *Router) { rt.log = l }
}

// WithStats sets the counters the router reports to.
func WithStats(s *internal.Stats) Option {
	return func(rt *Router) { rt.stats = s }
}

// WithProcessLock sets the lock ProcessRequests and DumpRequestsToFile hold.
func WithProcessLock(l sync.Locker) Option {
	return func(rt *Router) { rt.processLock = l }
}

// New returns a new instance of Router
func New(conf *config.Config, opts ...Option) *Router {
	rt := &Router{conf: conf}
	for _, opt := range opts {
		opt(rt)
	}
	if rt.fs == nil {
		rt.fs = afero.NewOsFs()
	}
	if rt.processLock == nil {
		rt.processLock = &sync.Mutex{}
	}
	rt.log = internal.OrNop(rt.log)
	return rt
}

// Register adds h to the end of the resolution order. Registering twice is a
// no-op.
func (rt *Router) Register(h request.Handler) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	for _, existing := range rt.handlers {
		if existing == h {
			return
		}
	}
	rt.handlers = append(rt.handlers, h)
}

// Unregister removes h.
func (rt *Router) Unregister(h request.Handler) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	for i, existing := range rt.handlers {
		if existing == h {
			rt.handlers = append(rt.handlers[:i], rt.handlers[i+1:]...)
			return
		}
	}
}

// Handlers returns the registered handlers in resolution order.
func (rt *Router) Handlers() []request.Handler {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	hs := make([]request.Handler, len(rt.handlers))
	copy(hs, rt.handlers)
	return hs
}

// Submit implements request.Tracker. The request is recorded once; unless
// trackOnly is set it is then resolved against the handlers. Submit doesn't
// take the process lock.
func (rt *Router) Submit(r *request.Request, trackOnly bool) {
	rt.mu.Lock()
	if !r.Submitted() {
		rt.requests = append(rt.requests, r)
		r.MarkSubmitted()
		rt.stats.Incr(internal.StatSubmitted)
	}
	rt.mu.Unlock()

	if trackOnly {
		return
	}
	rt.resolve(r)
}

// resolve hands r to the first handler able to serve it.
func (rt *Router) resolve(r *request.Request) {
	for _, h := range rt.Handlers() {
		if !h.CanHandle(r, true) {
			continue
		}
		reason := h.HandleRequest(r, false)
		rt.count(r, reason)
		return
	}
	r.Reject(request.LogUnavailable)
	rt.count(r, request.LogUnavailable)
}

func (rt *Router) count(r *request.Request, reason request.Reason) {
	if r.Status() == request.Complete {
		rt.stats.Incr(internal.StatCompleted)
		return
	}
	rt.stats.Incr(internal.StatRejected)
	rt.log.Debug("request unresolved", zap.String("request", r.ID.String()), zap.Stringer("reason", reason))
}

// Release stops tracking r once it needs no further attempts, and reports
// whether it was dropped.
func (rt *Router) Release(r *request.Request) bool {
	if !r.Done() {
		return false
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	for i, tracked := range rt.requests {
		if tracked == r {
			copy(rt.requests[i:], rt.requests[i+1:])
			rt.requests[len(rt.requests)-1] = nil
			rt.requests = rt.requests[:len(rt.requests)-1]
			return true
		}
	}
	return false
}

// Tracked returns how many requests the router holds, done or not.
func (rt *Router) Tracked() int {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return len(rt.requests)
}

// Pending returns tracked requests that may still be delivered.
func (rt *Router) Pending() []*request.Request {
	var reqs []*request.Request
	for _, r := range rt.snapshot() {
		if !r.Done() {
			reqs = append(reqs, r)
		}
	}
	return reqs
}

func (rt *Router) snapshot() []*request.Request {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	reqs := make([]*request.Request, len(rt.requests))
	copy(reqs, rt.requests)
	return reqs
}

// ProcessRequests retries every tracked request that can still be delivered,
// in submission order. Once a request for a channel fails with a retryable
// reason, later requests for that channel wait for the next pass.
func (rt *Router) ProcessRequests() {
	rt.processLock.Lock()
	defer rt.processLock.Unlock()
	rt.process("")
}

// ProcessChannel retries the tracked requests for the named channel and
// reports whether none remain outstanding. The caller must hold the process
// lock.
func (rt *Router) ProcessChannel(name string) bool {
	return rt.process(name)
}

func (rt *Router) process(only string) bool {
	failed := make(map[string]bool)
	seen := make(map[string]*channel.Channel)

	for _, r := range rt.snapshot() {
		ch := r.Channel()
		if ch == nil || (only != "" && ch.Name != only) {
			continue
		}
		seen[ch.Name] = ch
		if r.Done() || r.Status() == request.WritePending {
			continue
		}

		if failed[ch.Name] {
			r.Reject(request.WaitingOnOtherRequests)
			continue
		}

		if r.Status() == request.Rejected {
			rt.stats.Incr(internal.StatRetried)
		}
		rt.resolve(r)
		if !r.Done() {
			failed[ch.Name] = true
		}
	}

	outstanding := rt.prune()
	drained := true
	for name, ch := range seen {
		if outstanding[name] {
			drained = false
			continue
		}
		ch.Props.Record.Reset()
	}
	return drained
}

// prune drops requests that need no further attempts and returns the
// channels that still have requests outstanding.
func (rt *Router) prune() map[string]bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	outstanding := make(map[string]bool)
	kept := rt.requests[:0]
	for _, r := range rt.requests {
		if r.Done() {
			continue
		}
		kept = append(kept, r)
		if ch := r.Channel(); ch != nil {
			outstanding[ch.Name] = true
		}
	}
	for i := len(kept); i < len(rt.requests); i++ {
		rt.requests[i] = nil
	}
	rt.requests = kept
	return outstanding
}

// DumpRequestsToFile writes every request that is still awaiting delivery to
// the fallback dump file and completes it. It is meant for a process that is
// going down.
func (rt *Router) DumpRequestsToFile() error {
	rt.processLock.Lock()
	defer rt.processLock.Unlock()

	var pending []*request.Request
	for _, r := range rt.snapshot() {
		if r.Status() != request.Complete && r.CanRetry() {
			pending = append(pending, r)
		}
	}
	if len(pending) == 0 {
		return nil
	}

	if err := rt.fs.MkdirAll(filepath.Dir(rt.conf.DumpFile), 0755); err != nil {
		return errors.Wrap(err, "failed to create dump folder")
	}
	f, err := rt.fs.OpenFile(rt.conf.DumpFile, os.O_WRONLY|os.O_APPEND|os.O_CREATE, os.FileMode(rt.conf.LogFileMode))
	if err != nil {
		return errors.Wrapf(err, "failed to open dump file %s", rt.conf.DumpFile)
	}

	var firstErr error
	for _, r := range pending {
		if !r.ResetStatus() {
			continue
		}
		l, ok := r.BeginWrite()
		if !ok || !r.Holds(l) {
			continue
		}
		if _, err := f.WriteString(dumpLine(r)); err != nil {
			r.Reject(request.FailedToWrite)
			if firstErr == nil {
				firstErr = errors.Wrap(err, "failed to write dump file")
			}
			continue
		}
		r.Complete()
		rt.stats.Incr(internal.StatDumped)
	}

	if err := internal.CloseAll(rt.log, []io.Closer{f}); err != nil && firstErr == nil {
		firstErr = errors.Wrap(err, "failed to close dump file")
	}
	rt.prune()
	return firstErr
}

func dumpLine(r *request.Request) string {
	e := r.Entry()
	return fmt.Sprintf("[%s] [%s] [%s] %s\n", r.CreatedAt.Format(dumpTimeLayout), e.Channel, e.Category, e.Message)
}
