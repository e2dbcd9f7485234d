package request

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/jeffrom/logroute/channel"
	"github.com/jeffrom/logroute/filter"
)

// Type classifies where a request may be served from. It never changes
// after creation.
type Type uint8

const (
	// Local requests are served by the dispatcher that created them.
	Local Type = iota
	// Remote requests target a channel another dispatcher writes.
	Remote
	// Game requests target a channel owned by the host engine.
	Game
)

func (t Type) String() string {
	switch t {
	case Local:
		return "local"
	case Remote:
		return "remote"
	case Game:
		return "game"
	default:
		return fmt.Sprintf("Type(%d)", uint8(t))
	}
}

// Status is the delivery state of a request.
type Status uint8

const (
	Pending Status = iota
	WritePending
	Rejected
	Complete
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case WritePending:
		return "write-pending"
	case Rejected:
		return "rejected"
	case Complete:
		return "complete"
	default:
		return fmt.Sprintf("Status(%d)", uint8(s))
	}
}

// Reason explains why a request was not delivered. The numeric value is the
// reason's rank; ranks above retryableRank may be retried.
type Reason uint8

const (
	None Reason = iota
	AccessDenied
	LogDisabled
	FailedToWrite
	ExceptionAlreadyReported
	FilterMatch
	PathMismatch
	NotAllowedToHandle
	WaitingOnOtherRequests
	LogUnavailable
	ShowLogsNotInitialized
)

const retryableRank = 5

var reasonNames = [...]string{
	None:                     "None",
	AccessDenied:             "AccessDenied",
	LogDisabled:              "LogDisabled",
	FailedToWrite:            "FailedToWrite",
	ExceptionAlreadyReported: "ExceptionAlreadyReported",
	FilterMatch:              "FilterMatch",
	PathMismatch:             "PathMismatch",
	NotAllowedToHandle:       "NotAllowedToHandle",
	WaitingOnOtherRequests:   "WaitingOnOtherRequests",
	LogUnavailable:           "LogUnavailable",
	ShowLogsNotInitialized:   "ShowLogsNotInitialized",
}

func (r Reason) String() string {
	if int(r) < len(reasonNames) {
		return reasonNames[r]
	}
	return fmt.Sprintf("Reason(%d)", uint8(r))
}

// Rank returns the fixed severity rank of the reason.
func (r Reason) Rank() int {
	return int(r)
}

// CanRetry reports whether a request rejected for reason may be attempted
// again.
func CanRetry(reason Reason) bool {
	return reason == None || reason.Rank() > retryableRank
}

// persisted reports whether reason is remembered on the channel record.
func persisted(reason Reason) bool {
	switch reason {
	case None, ExceptionAlreadyReported, FilterMatch:
		return false
	}
	return true
}

// Payload is the content of one log call.
type Payload struct {
	Channel  *channel.Channel
	Message  string
	Category channel.Category
	Err      error

	ShouldFilter bool
	FilterScope  filter.Scope
}

// Lease is the single-writer token returned by BeginWrite. The zero Lease is
// never granted.
type Lease uint64

// Tracker records requests so they can be resolved later.
type Tracker interface {
	// Submit records r. Unless trackOnly is set, r is also offered to the
	// registered handlers.
	Submit(r *Request, trackOnly bool)
}

// Handler serves requests for the channels it binds.
type Handler interface {
	CanHandle(r *Request, checkPath bool) bool
	HandleRequest(r *Request, skipValidation bool) Reason
}

// Context carries the process-wide collaborators a request needs.
type Context struct {
	Tracker Tracker
	Filter  *filter.Filter
	Log     *zap.Logger
}
