package logger

import (
	"github.com/pkg/errors"

	"github.com/jeffrom/logroute/internal"
	"github.com/jeffrom/logroute/request"
)

// Immediate writes each request to disk as it is delivered.
type Immediate struct {
	base
}

// NewImmediate returns a new instance of Immediate
func NewImmediate(deps Deps) *Immediate {
	return &Immediate{base{deps: deps.withDefaults()}}
}

// Deliver implements Writer
func (w *Immediate) Deliver(r *request.Request) {
	l, ok := r.BeginWrite()
	if !ok || !r.Holds(l) {
		return
	}

	ch := r.Channel()
	if w.filtered(r) {
		r.Reject(request.FilterMatch)
		return
	}

	line := w.Render(ch, r.Entry()) + "\n"
	if err := w.write(r, line); err != nil {
		w.reportOnce(ch, err)
		r.Reject(request.FailedToWrite)
		return
	}

	w.deps.Stats.Incr(internal.StatWrites)
	r.Complete()
}

func (w *Immediate) write(r *request.Request, line string) error {
	ch := r.Channel()
	unlock := w.deps.Locks.Lock(ch.Name)
	defer unlock()

	f, err := w.open(ch)
	if err != nil {
		return err
	}

	if _, err := f.WriteString(line); err != nil {
		internal.IgnoreError(w.deps.Log, f.Close())
		return errors.Wrapf(err, "failed to write %s", ch.Props.FilePath())
	}
	return errors.Wrap(f.Close(), "failed to close log file")
}

// Setup implements internal.LifecycleManager
func (w *Immediate) Setup() error {
	return nil
}

// Shutdown implements internal.LifecycleManager
func (w *Immediate) Shutdown() error {
	return nil
}
