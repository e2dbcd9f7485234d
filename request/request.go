// Package request implements the delivery state machine for a single log
// call.
package request

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jeffrom/logroute/channel"
	"github.com/jeffrom/logroute/internal"
)

var leaseSeq atomic.Uint64

// Request is one log call tracked from creation to delivery or rejection.
type Request struct {
	ID        uuid.UUID
	Type      Type
	Payload   Payload
	CreatedAt time.Time

	ctx *Context

	mu        sync.Mutex
	status    Status
	reason    Reason
	submitted bool
	host      Handler
	lease     atomic.Uint64
}

// New returns a Pending request.
func New(ctx *Context, typ Type, p Payload) *Request {
	if ctx == nil {
		ctx = &Context{}
	}
	return &Request{
		ID:        uuid.New(),
		Type:      typ,
		Payload:   p,
		CreatedAt: time.Now(),
		ctx:       ctx,
	}
}

func (r *Request) log() *zap.Logger {
	if r.ctx.Log == nil {
		return zap.NewNop()
	}
	return r.ctx.Log
}

func (r *Request) fields() []zap.Field {
	fields := []zap.Field{
		zap.String("request", r.ID.String()),
		zap.Stringer("type", r.Type),
	}
	if ch := r.Payload.Channel; ch != nil {
		fields = append(fields, zap.String("channel", ch.Name))
	}
	return fields
}

// Channel returns the target channel.
func (r *Request) Channel() *channel.Channel {
	return r.Payload.Channel
}

// Entry returns the render input for the request.
func (r *Request) Entry() channel.Entry {
	e := channel.Entry{
		Category: r.Payload.Category,
		Message:  r.Payload.Message,
	}
	if ch := r.Payload.Channel; ch != nil {
		e.Channel = ch.Name
	}
	return e
}

// Context returns the collaborators the request was created with.
func (r *Request) Context() *Context {
	return r.ctx
}

// Status returns the current delivery state.
func (r *Request) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// UnhandledReason returns the most relevant reason the request has not been
// delivered.
func (r *Request) UnhandledReason() Reason {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reason
}

// Submitted reports whether a Tracker has recorded the request.
func (r *Request) Submitted() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.submitted
}

// MarkSubmitted is called by the Tracker when it records the request.
func (r *Request) MarkSubmitted() {
	r.mu.Lock()
	r.submitted = true
	r.mu.Unlock()
}

// Host returns the handler currently serving the request.
func (r *Request) Host() Handler {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.host
}

// SetHost records the handler serving the request.
func (r *Request) SetHost(h Handler) {
	r.mu.Lock()
	r.host = h
	r.mu.Unlock()
}

// BeginWrite moves a Pending request to WritePending and grants the caller
// the write lease. An unsubmitted request is submitted first; if that
// resolves or rejects it, BeginWrite fails.
func (r *Request) BeginWrite() (Lease, bool) {
	if r.Status() != Pending {
		return 0, false
	}

	if !r.Submitted() && r.ctx.Tracker != nil {
		r.ctx.Tracker.Submit(r, false)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status != Pending {
		return 0, false
	}

	tok := leaseSeq.Add(1)
	if !r.lease.CompareAndSwap(0, tok) {
		return 0, false
	}
	r.status = WritePending
	return Lease(tok), true
}

// Holds reports whether l is the lease of a write in progress.
func (r *Request) Holds(l Lease) bool {
	if l == 0 {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status == WritePending && r.lease.Load() == uint64(l)
}

// Complete marks a write as delivered. It is a no-op on a Complete request
// and refuses any state but WritePending.
func (r *Request) Complete() bool {
	r.mu.Lock()
	switch r.status {
	case Complete:
		r.mu.Unlock()
		return true
	case WritePending:
		r.status = Complete
		r.lease.Store(0)
		r.mu.Unlock()
	default:
		st := r.status
		r.mu.Unlock()
		r.log().Warn("can't complete request", append(r.fields(), zap.Stringer("status", st))...)
		return false
	}

	if r.Payload.ShouldFilter && r.ctx.Filter != nil && r.Payload.Channel != nil {
		r.ctx.Filter.Add(r.Payload.Channel.Name, r.Payload.Message, r.Payload.FilterScope)
	}
	return true
}

// Reject marks the request undelivered for reason. Complete requests are
// left alone. PathMismatch never replaces a reason already on record.
func (r *Request) Reject(reason Reason) {
	r.mu.Lock()
	if r.status == Complete {
		r.mu.Unlock()
		r.log().Warn("can't reject completed request", append(r.fields(), zap.Stringer("reason", reason))...)
		return
	}
	r.status = Rejected
	r.lease.Store(0)
	if reason != PathMismatch || r.reason == None {
		r.reason = reason
	}
	r.mu.Unlock()

	fields := append(r.fields(),
		zap.Stringer("reason", reason),
		zap.String("message", internal.Truncate(r.Payload.Message)),
	)
	switch reason {
	case AccessDenied, FailedToWrite:
		r.log().Warn("request rejected", fields...)
	default:
		r.log().Debug("request rejected", fields...)
	}

	if persisted(reason) && r.Payload.Channel != nil {
		r.Payload.Channel.Props.Record.SetCode(uint8(reason))
	}
}

// CanRetry reports whether the request may be attempted again.
func (r *Request) CanRetry() bool {
	return CanRetry(r.UnhandledReason())
}

// Done reports whether the request needs no further attempts.
func (r *Request) Done() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status == Complete || !CanRetry(r.reason)
}

// WaitingOnOthers reports whether earlier requests on the same channel must
// be resolved before this one.
func (r *Request) WaitingOnOthers() bool {
	r.mu.Lock()
	status, reason := r.status, r.reason
	r.mu.Unlock()

	if reason == WaitingOnOtherRequests {
		return true
	}
	if status != Pending || r.Payload.Channel == nil {
		return false
	}
	rec := r.Payload.Channel.Props.Record
	return rec.Rejected() && CanRetry(Reason(rec.Code()))
}

// ResetStatus returns a Pending or Rejected request to Pending with no reason
// on record. Requests mid-write or delivered are refused.
func (r *Request) ResetStatus() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch r.status {
	case Pending, Rejected:
		r.status = Pending
		r.reason = None
		return true
	}
	return false
}

func (r *Request) String() string {
	name := ""
	if r.Payload.Channel != nil {
		name = r.Payload.Channel.Name
	}
	return "[Log Request][" + name + "] " + r.Payload.Message
}
