package logger

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/jeffrom/logroute/channel"
	"github.com/jeffrom/logroute/internal"
	"github.com/jeffrom/logroute/request"
)

type queueEntry struct {
	ch   *channel.Channel
	line string
}

// Queued buffers rendered lines and writes them to disk on Flush. Runs of
// consecutive lines for the same channel share one open file.
type Queued struct {
	base

	mu    sync.Mutex
	queue []queueEntry

	flushMu sync.Mutex
}

// NewQueued returns a new instance of Queued
func NewQueued(deps Deps) *Queued {
	return &Queued{base: base{deps: deps.withDefaults()}}
}

// Render implements Writer. Error lines are tagged when the channel doesn't
// already show categories.
func (w *Queued) Render(ch *channel.Channel, e channel.Entry) string {
	if e.Category == channel.Error {
		if r, ok := ch.Props.Rules.Get(channel.ShowCategoryName); !ok || !r.Enabled() {
			e.Message = "[" + e.Category.String() + "] " + e.Message
		}
	}
	return w.base.Render(ch, e)
}

// Deliver implements Writer. No disk I/O happens until Flush.
func (w *Queued) Deliver(r *request.Request) {
	l, ok := r.BeginWrite()
	if !ok {
		return
	}

	if w.filtered(r) {
		r.Reject(request.FilterMatch)
		return
	}

	if !w.enqueue(r, l, w.Render(r.Channel(), r.Entry())) {
		return
	}
	r.Complete()
}

// enqueue buffers line for r. Only the holder of the write lease may
// enqueue.
func (w *Queued) enqueue(r *request.Request, l request.Lease, line string) bool {
	if !r.Holds(l) {
		return false
	}
	w.push(queueEntry{ch: r.Channel(), line: line})
	w.deps.Stats.Incr(internal.StatQueued)
	return true
}

func (w *Queued) push(e queueEntry) {
	w.mu.Lock()
	w.queue = append(w.queue, e)
	w.mu.Unlock()
}

// Len returns the number of buffered lines.
func (w *Queued) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.queue)
}

// nextRun returns the entries at the head of the queue that target the same
// channel as the first one. They stay queued until popped.
func (w *Queued) nextRun() []queueEntry {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.queue) == 0 {
		return nil
	}
	n := 1
	for n < len(w.queue) && w.queue[n].ch.Equals(w.queue[0].ch) {
		n++
	}
	run := make([]queueEntry, n)
	copy(run, w.queue[:n])
	return run
}

func (w *Queued) pop(n int) {
	w.mu.Lock()
	w.queue = w.queue[n:]
	w.mu.Unlock()
}

// Flush writes buffered lines in order. On an I/O error the failing line is
// dropped, the error is reported once per channel and cause, and the
// remaining lines stay queued for the next Flush.
func (w *Queued) Flush() error {
	w.flushMu.Lock()
	defer w.flushMu.Unlock()
	w.deps.Stats.Incr(internal.StatFlushes)

	for {
		run := w.nextRun()
		if len(run) == 0 {
			return nil
		}

		n, err := w.writeRun(run)
		w.pop(n)
		w.deps.Stats.Add(internal.StatWrites, int64(n))
		if err == nil {
			continue
		}

		ch := run[0].ch
		if n < len(run) {
			w.pop(1)
		}
		w.deps.Stats.Incr(internal.StatFlushError)
		if w.reportOnce(ch, err) {
			w.push(queueEntry{
				ch:   ch,
				line: w.Render(ch, channel.Entry{Channel: ch.Name, Category: channel.Error, Message: err.Error()}),
			})
		}
		return err
	}
}

// writeRun writes run to its channel's file and returns how many lines were
// written before any error.
func (w *Queued) writeRun(run []queueEntry) (int, error) {
	ch := run[0].ch
	unlock := w.deps.Locks.Lock(ch.Name)
	defer unlock()

	f, err := w.open(ch)
	if err != nil {
		return 0, err
	}

	for i, e := range run {
		if _, err := f.WriteString(e.line + "\n"); err != nil {
			internal.IgnoreError(w.deps.Log, f.Close())
			return i, errors.Wrapf(err, "failed to write %s", ch.Props.FilePath())
		}
	}
	if err := f.Close(); err != nil {
		return len(run), errors.Wrap(err, "failed to close log file")
	}
	return len(run), nil
}

// Close flushes any buffered lines.
func (w *Queued) Close() error {
	return w.Flush()
}

// Setup implements internal.LifecycleManager
func (w *Queued) Setup() error {
	return nil
}

// Shutdown implements internal.LifecycleManager
func (w *Queued) Shutdown() error {
	return w.Close()
}
