package logger

import (
	"sync"

	"github.com/jeffrom/logroute/channel"
	"github.com/jeffrom/logroute/request"
)

// MockWriter can be used for testing purposes. It records every delivery and
// keeps rendered lines in memory.
type MockWriter struct {
	mu        sync.Mutex
	delivered []*request.Request
	lines     []string
	reject    request.Reason
}

// NewMockWriter returns an instance of MockWriter that completes every
// request it is handed.
func NewMockWriter() *MockWriter {
	return &MockWriter{}
}

// NewRejectingWriter returns a MockWriter that rejects every request with
// reason.
func NewRejectingWriter(reason request.Reason) *MockWriter {
	return &MockWriter{reject: reason}
}

// Deliver implements Writer
func (w *MockWriter) Deliver(r *request.Request) {
	w.mu.Lock()
	w.delivered = append(w.delivered, r)
	w.mu.Unlock()

	l, ok := r.BeginWrite()
	if !ok || !r.Holds(l) {
		return
	}
	if w.reject != request.None {
		r.Reject(w.reject)
		return
	}

	line := w.Render(r.Channel(), r.Entry())
	w.mu.Lock()
	w.lines = append(w.lines, line)
	w.mu.Unlock()
	r.Complete()
}

// Render implements Writer
func (w *MockWriter) Render(ch *channel.Channel, e channel.Entry) string {
	return ch.Props.Rules.Apply(e)
}

// Calls returns how many times Deliver was called.
func (w *MockWriter) Calls() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.delivered)
}

// Delivered returns the requests handed to Deliver, in order.
func (w *MockWriter) Delivered() []*request.Request {
	w.mu.Lock()
	defer w.mu.Unlock()
	reqs := make([]*request.Request, len(w.delivered))
	copy(reqs, w.delivered)
	return reqs
}

// Lines returns the rendered lines of completed requests.
func (w *MockWriter) Lines() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	lines := make([]string, len(w.lines))
	copy(lines, w.lines)
	return lines
}
